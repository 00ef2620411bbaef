package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tv-bybit-middleware/internal/engine"
	"tv-bybit-middleware/internal/events"
	"tv-bybit-middleware/internal/guard"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	SharedSecret   string
	ProductionMode bool
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	engine      *engine.Engine
	guard       *guard.Guard
	eventBus    *events.EventBus
	hub         *WSHub
	config      ServerConfig
	logger      zerolog.Logger
	rateLimiter *RateLimiter
}

// NewServer creates a new API server
func NewServer(config ServerConfig, eng *engine.Engine, g *guard.Guard, eventBus *events.EventBus, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Alert-Secret"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	hub := NewWSHub(logger)
	go hub.Run()
	eventBus.SubscribeAll(hub.BroadcastEvent)

	server := &Server{
		router:      router,
		engine:      eng,
		guard:       g,
		eventBus:    eventBus,
		hub:         hub,
		config:      config,
		logger:      logger.With().Str("component", "api").Logger(),
		rateLimiter: NewRateLimiter(120, time.Minute), // stays under Bybit's per-key budget
	}

	server.setupRoutes()

	return server
}

// rateLimitMiddleware rate limits requests by endpoint. Read-only endpoints
// that never reach the venue are exempt.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	noRateLimitPaths := map[string]bool{
		"/":             true,
		"/guard_status": true,
		"/ws":           true,
	}

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if noRateLimitPaths[path] {
			c.Next()
			return
		}

		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"ok":    false,
				"error": "rate limit exceeded",
				"path":  path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.rateLimitMiddleware())

	s.router.GET("/", s.handleRoot)
	s.router.GET("/ws", s.handleWS)

	s.router.POST("/tv", s.handleWebhook)

	s.router.GET("/guard_status", s.handleGuardStatus)
	s.router.POST("/guard", s.handleGuardSet)
	s.router.POST("/guard_reset", s.handleGuardReset)

	s.router.GET("/position", s.handlePosition)
	s.router.POST("/set_leverage", s.handleSetLeverage)

	s.router.POST("/adjust", s.handleAdjust)
	s.router.POST("/close", s.handleClose)
	s.router.POST("/cancel", s.handleCancel)
}

// verifySecret accepts the shared secret from the X-Alert-Secret header, the
// request body, or the `secret` query parameter. TradingView alerts can only
// carry it in the body, manual calls usually use the header.
func (s *Server) verifySecret(c *gin.Context, bodySecret string) bool {
	if s.config.SharedSecret == "" {
		return true
	}
	hdr := c.GetHeader("X-Alert-Secret")
	query := c.Query("secret")
	return hdr == s.config.SharedSecret ||
		bodySecret == s.config.SharedSecret ||
		query == s.config.SharedSecret
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// okResponse sends a success payload in the {"ok": true, ...} shape the
// TradingView alert templates expect
func okResponse(c *gin.Context, data gin.H) {
	body := gin.H{"ok": true}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"ok":    false,
		"error": message,
	})
}
