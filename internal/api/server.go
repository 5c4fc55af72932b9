package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moongate-community/moongate/internal/config"
	"github.com/moongate-community/moongate/internal/db"
	"github.com/moongate-community/moongate/internal/events"
	"github.com/moongate-community/moongate/internal/network"
	"github.com/moongate-community/moongate/internal/protocol"
	"github.com/moongate-community/moongate/internal/util"
)

// Version is reported by the ping endpoint.
const Version = "0.1.0"

// AccountService is the subset of the account store the API exposes.
type AccountService interface {
	ListAccounts(ctx context.Context) ([]db.Account, error)
	CreateAccount(ctx context.Context, name, password string) error
	SetBanned(ctx context.Context, name string, banned bool) error
	RecentLogins(ctx context.Context, limit int) ([]db.LoginAttempt, error)
}

// Deps are the engine components the API reads and drives.
type Deps struct {
	Connections *network.ConnectionRegistry
	Outbound    *network.Outbound
	Packets     *protocol.Registry
	Accounts    AccountService
	EventBus    *events.EventBus
}

// Server is the operator REST API.
type Server struct {
	cfg     *config.Config
	deps    Deps
	started time.Time
	logger  zerolog.Logger

	routerOnce sync.Once
	router     *gin.Engine

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates the API server. Nothing listens until Start.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:     cfg,
		deps:    deps,
		started: time.Now(),
		logger:  log.With().Str("component", "api").Logger(),
	}
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() {
		s.router = s.buildRouter()
	})
	return s.router
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	appData := s.cfg.GetApplicationData()
	addr := fmt.Sprintf("%s:%d", appData.API.Host, appData.API.Port)

	httpServer := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := network.ReuseAddrListenConfig(0)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	sec := appData.Security
	if sec.TLSEnabled {
		if err := util.EnsureSelfSignedCert(sec.TLSCertFile, sec.TLSKeyFile, "localhost", "127.0.0.1"); err != nil {
			ln.Close()
			return err
		}
		cert, err := tls.LoadX509KeyPair(sec.TLSCertFile, sec.TLSKeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		ln = tls.NewListener(ln, httpServer.TLSConfig)
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Bool("tls", sec.TLSEnabled).Msg("REST API server starting")

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func (s *Server) buildRouter() *gin.Engine {
	appData := s.cfg.GetApplicationData()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := appData.Security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(appData.Security.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/api")
	protected.Use(RequireToken(appData.API.Token, appData.Security.AuthDisabled))
	{
		protected.GET("/sessions", s.handleListSessions)
		protected.GET("/sessions/:id", s.handleGetSession)
		protected.DELETE("/sessions/:id", s.handleKickSession)

		protected.GET("/packets", s.handleListPackets)
		protected.POST("/broadcast", s.handleBroadcast)

		protected.GET("/accounts", s.handleListAccounts)
		protected.POST("/accounts", s.handleCreateAccount)
		protected.POST("/accounts/:name/ban", s.handleBanAccount)
		protected.DELETE("/accounts/:name/ban", s.handleUnbanAccount)
		protected.GET("/logins", s.handleRecentLogins)

		protected.GET("/config", s.handleGetConfig)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Moongate API is running"})
	})

	return router
}
