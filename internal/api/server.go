package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"tv-trading-bot/config"
	"tv-trading-bot/internal/auth"
	"tv-trading-bot/internal/binance"
	"tv-trading-bot/internal/database"
	"tv-trading-bot/internal/events"
	"tv-trading-bot/internal/logging"
	"tv-trading-bot/internal/risk"
	"tv-trading-bot/internal/signals"
	"tv-trading-bot/internal/trading"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks whether a request is allowed for the given key
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

// Server is the HTTP API: the TradingView webhook, the admin surface and
// the websocket event stream.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        config.ServerConfig

	db          *database.DB
	eventBus    *events.EventBus
	client      binance.FuturesClient
	processor   *signals.Processor
	manager     *trading.Manager
	worker      *risk.Worker
	portfolio   *risk.PortfolioController
	settings    *risk.SettingsStore
	authService *auth.Service
	authEnabled bool

	wsHub       *WSHub
	rateLimiter *RateLimiter
	logger      *logging.Logger
}

// Deps bundles the wired services the server exposes
type Deps struct {
	DB          *database.DB
	EventBus    *events.EventBus
	Client      binance.FuturesClient
	Processor   *signals.Processor
	Manager     *trading.Manager
	Worker      *risk.Worker
	Portfolio   *risk.PortfolioController
	Settings    *risk.SettingsStore
	AuthService *auth.Service // nil disables auth
}

// NewServer creates the API server and registers all routes
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		cfg:         cfg,
		db:          deps.DB,
		eventBus:    deps.EventBus,
		client:      deps.Client,
		processor:   deps.Processor,
		manager:     deps.Manager,
		worker:      deps.Worker,
		portfolio:   deps.Portfolio,
		settings:    deps.Settings,
		authService: deps.AuthService,
		authEnabled: deps.AuthService != nil,
		wsHub:       NewWSHub(),
		rateLimiter: NewRateLimiter(120, time.Minute),
		logger:      logging.Default().WithComponent("api"),
	}

	server.setupRoutes()

	go server.wsHub.Run()
	if deps.EventBus != nil {
		server.wsHub.SubscribeToEvents(deps.EventBus)
	}

	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	// TradingView posts here; the payload secret is the authentication.
	s.router.POST("/webhook/tradingview", s.webhookRateLimit(), s.handleWebhook)

	if s.authEnabled {
		authHandlers := auth.NewHandlers(s.authService)
		authHandlers.RegisterRoutes(s.router.Group("/api"))
	}
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.authEnabled})
	})

	api := s.router.Group("/api")
	if s.authEnabled {
		api.Use(auth.Middleware(s.authService.JWTManager()))
	}

	{
		// Positions
		api.GET("/positions", s.handleListPositions)
		api.GET("/positions/history", s.handlePositionHistory)
		api.GET("/positions/:id/stop-state", s.handlePositionStopState)
		api.PUT("/positions/:id/stop-config", s.handleUpdateStopConfig)
		api.POST("/positions/:id/close", s.handleClosePosition)
		api.POST("/positions/close-all", s.handleCloseAll)
		api.GET("/positions/external", s.handleListExternalPositions)

		// Trailing and portfolio settings
		api.GET("/settings/trailing", s.handleGetTrailingSettings)
		api.PUT("/settings/trailing", s.handleUpdateTrailingSettings)
		api.GET("/settings/overrides", s.handleListSymbolOverrides)
		api.PUT("/settings/overrides/:symbol", s.handleSetSymbolOverride)
		api.DELETE("/settings/overrides/:symbol", s.handleDeleteSymbolOverride)
		api.GET("/settings/portfolio", s.handleGetPortfolioConfig)
		api.PUT("/settings/portfolio", s.handleUpdatePortfolioConfig)
		api.GET("/portfolio/status", s.handlePortfolioStatus)

		// Worker control
		api.GET("/worker/status", s.handleWorkerStatus)
		api.POST("/worker/start", s.handleWorkerStart)
		api.POST("/worker/stop", s.handleWorkerStop)
		api.POST("/worker/check", s.handleWorkerForceCheck)

		// Bot and signal configuration
		api.GET("/bots", s.handleListBots)
		api.POST("/bots", s.handleCreateBot)
		api.GET("/bots/:id", s.handleGetBot)
		api.PUT("/bots/:id", s.handleUpdateBot)
		api.DELETE("/bots/:id", s.handleDeleteBot)

		api.GET("/signals", s.handleListSignalConfigs)
		api.POST("/signals", s.handleCreateSignalConfig)
		api.PUT("/signals/:id", s.handleUpdateSignalConfig)
		api.DELETE("/signals/:id", s.handleDeleteSignalConfig)
		api.GET("/signals/logs", s.handleListSignalLogs)

		// Pending orders (semi-auto approval)
		api.GET("/pending-orders", s.handleListPendingOrders)
		api.POST("/pending-orders/:id/approve", s.handleApprovePendingOrder)
		api.POST("/pending-orders/:id/reject", s.handleRejectPendingOrder)

		// Maintenance
		api.POST("/maintenance/prune-positions", s.handlePrunePositions)
		api.POST("/maintenance/prune-signal-logs", s.handlePruneSignalLogs)
		api.POST("/maintenance/clear-error-positions", s.handleClearErrorPositions)
	}

	// Live event stream.
	s.router.GET("/ws", s.handleWebSocket)
}

// requestLogger attaches a trace-scoped logger to the request context and
// logs request completion
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = logging.GenerateTraceID()
		}

		l := logging.Default().WithTraceID(traceID).WithComponent("http")
		c.Request = c.Request.WithContext(logging.NewContext(c.Request.Context(), l))

		c.Next()

		l.WithDuration(time.Since(start)).Info("Request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status_code", c.Writer.Status())
	}
}

// webhookRateLimit caps webhook deliveries per source address
func (s *Server) webhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow("webhook:" + c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "too many webhook deliveries from this address",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Start runs the HTTP server until the context is canceled
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	readTimeout := time.Duration(s.cfg.ReadTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := time.Duration(s.cfg.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	s.logger.Info("API server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine to tests
func (s *Server) Router() *gin.Engine {
	return s.router
}
