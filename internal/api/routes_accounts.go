package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/moongate-community/moongate/internal/db"
)

func (s *Server) requireAccounts(c *gin.Context) bool {
	if s.deps.Accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account store not available"})
		return false
	}
	return true
}

// handleListAccounts returns every account without password hashes.
func (s *Server) handleListAccounts(c *gin.Context) {
	if !s.requireAccounts(c) {
		return
	}
	accounts, err := s.deps.Accounts.ListAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if accounts == nil {
		accounts = []db.Account{}
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"total":    len(accounts),
	})
}

type createAccountRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleCreateAccount adds an account.
func (s *Server) handleCreateAccount(c *gin.Context) {
	if !s.requireAccounts(c) {
		return
	}
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.deps.Accounts.CreateAccount(c.Request.Context(), req.Name, req.Password)
	switch {
	case errors.Is(err, db.ErrAccountExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, db.ErrInvalidAccount), errors.Is(err, db.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("account", req.Name).Msg("API: account created")
	c.JSON(http.StatusCreated, gin.H{"status": "created", "name": req.Name})
}

func (s *Server) handleBanAccount(c *gin.Context) {
	s.setBanned(c, true)
}

func (s *Server) handleUnbanAccount(c *gin.Context) {
	s.setBanned(c, false)
}

func (s *Server) setBanned(c *gin.Context, banned bool) {
	if !s.requireAccounts(c) {
		return
	}
	name := c.Param("name")
	if err := s.deps.Accounts.SetBanned(c.Request.Context(), name, banned); err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// A ban also drops any live session of the account.
	kicked := 0
	if banned && s.deps.Connections != nil {
		for _, conn := range s.deps.Connections.Snapshot() {
			if strings.EqualFold(conn.Account(), name) {
				if err := s.deps.Connections.Kick(c.Request.Context(), conn.ID(), "account banned"); err == nil {
					kicked++
				}
			}
		}
	}

	log.Info().Str("account", name).Bool("banned", banned).Int("kicked", kicked).Msg("API: account ban updated")
	c.JSON(http.StatusOK, gin.H{"name": name, "banned": banned, "kicked": kicked})
}

// handleRecentLogins returns login history, newest first.
func (s *Server) handleRecentLogins(c *gin.Context) {
	if !s.requireAccounts(c) {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}
	attempts, err := s.deps.Accounts.RecentLogins(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if attempts == nil {
		attempts = []db.LoginAttempt{}
	}
	c.JSON(http.StatusOK, gin.H{"logins": attempts, "total": len(attempts)})
}

// handleGetConfig returns the running configuration with secrets removed.
func (s *Server) handleGetConfig(c *gin.Context) {
	appData := s.cfg.GetApplicationData()
	if appData.API.Token != "" {
		appData.API.Token = "********"
	}
	c.JSON(http.StatusOK, gin.H{
		"server":           s.cfg.GetServerData(),
		"application_data": appData,
	})
}
