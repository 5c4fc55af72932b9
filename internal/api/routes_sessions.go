package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/moongate-community/moongate/internal/network"
	"github.com/moongate-community/moongate/internal/protocol"
)

// handleListSessions returns every live connection.
func (s *Server) handleListSessions(c *gin.Context) {
	conns := s.deps.Connections.Snapshot()
	sessions := make([]network.Stats, 0, len(conns))
	for _, conn := range conns {
		sessions = append(sessions, conn.Stats())
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleGetSession returns one connection.
func (s *Server) handleGetSession(c *gin.Context) {
	conn, ok := s.deps.Connections.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, conn.Stats())
}

// handleKickSession disconnects a connection.
func (s *Server) handleKickSession(c *gin.Context) {
	id := c.Param("id")
	reason := c.DefaultQuery("reason", "kicked by operator")

	if err := s.deps.Connections.Kick(c.Request.Context(), id, reason); err != nil {
		if errors.Is(err, network.ErrUnknownConnection) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	operator, _ := c.Get("operator")
	log.Info().
		Str("conn", id).
		Str("reason", reason).
		Interface("operator", operator).
		Msg("API: session kicked")

	c.JSON(http.StatusOK, gin.H{"status": "kicked", "id": id})
}

// handleListPackets returns the packet registry.
func (s *Server) handleListPackets(c *gin.Context) {
	type packetView struct {
		OpCode      string `json:"opcode"`
		Length      int    `json:"length"`
		Variable    bool   `json:"variable"`
		Description string `json:"description"`
	}

	defs := s.deps.Packets.Definitions()
	packets := make([]packetView, 0, len(defs))
	for _, d := range defs {
		packets = append(packets, packetView{
			OpCode:      protocol.FormatOpCode(d.OpCode),
			Length:      d.Length,
			Variable:    d.IsVariable(),
			Description: d.Description,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"packets": packets,
		"total":   len(packets),
	})
}

type broadcastRequest struct {
	Payload string   `json:"payload" binding:"required"`
	Exclude []string `json:"exclude"`
}

// handleBroadcast sends a hex-encoded frame to every live connection.
func (s *Server) handleBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frame, err := protocol.ParseHexFrame(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.deps.Packets != nil {
		if err := s.deps.Packets.CheckFrame(frame); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	queued := s.deps.Outbound.BroadcastRaw(c.Request.Context(), frame, req.Exclude...)

	log.Info().
		Str("opcode", protocol.FormatOpCode(frame[0])).
		Int("size", len(frame)).
		Int("targets", queued).
		Msg("API: broadcast sent")

	c.JSON(http.StatusOK, gin.H{
		"status":  "queued",
		"opcode":  protocol.FormatOpCode(frame[0]),
		"targets": queued,
	})
}
