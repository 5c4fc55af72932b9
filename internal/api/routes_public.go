package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moongate-community/moongate/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "moongate",
		"version": Version,
	})
}

// handleServerInfo returns shard and host information.
func (s *Server) handleServerInfo(c *gin.Context) {
	serverData := s.cfg.GetServerData()
	sysInfo := util.GetSystemInfo()

	sessions := 0
	if s.deps.Connections != nil {
		sessions = s.deps.Connections.Count()
	}
	packets := 0
	if s.deps.Packets != nil {
		packets = s.deps.Packets.Count()
	}

	c.JSON(http.StatusOK, gin.H{
		"server_name":        serverData.Name,
		"listen_addresses":   serverData.Network.ListenAddresses,
		"crypto_mode":        serverData.Crypto.Mode,
		"sessions":           sessions,
		"registered_packets": packets,
		"uptime_sec":         int64(time.Since(s.started).Seconds()),
		"host":               sysInfo,
	})
}
