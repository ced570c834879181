// Package server wires the facilitator HTTP surface together.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/satmeter/facilitator/internal/chain"
	"github.com/satmeter/facilitator/internal/config"
	"github.com/satmeter/facilitator/internal/events"
	"github.com/satmeter/facilitator/internal/facilitator"
	"github.com/satmeter/facilitator/internal/funding"
	"github.com/satmeter/facilitator/internal/health"
	"github.com/satmeter/facilitator/internal/idgen"
	"github.com/satmeter/facilitator/internal/logging"
	"github.com/satmeter/facilitator/internal/signature"
	"github.com/satmeter/facilitator/internal/traces"
)

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg        *config.Config
	service    *facilitator.Service
	ledger     *funding.Ledger
	reconciler *funding.Reconciler
	eventHub   *events.Hub
	healthReg  *health.Registry
	oracle     chain.Oracle

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTraces   func(context.Context) error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithOracle injects a chain oracle (for testing).
func WithOracle(oracle chain.Oracle) Option {
	return func(s *Server) { s.oracle = oracle }
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Chain access. All on-chain reads and the settlement broadcast go
	// through one REST client unless a test injected its own oracle.
	rest := chain.NewRESTClient(cfg.ChainAPIURL)
	if s.oracle == nil {
		s.oracle = rest
	}
	var broadcaster chain.Broadcaster = rest
	if b, ok := s.oracle.(chain.Broadcaster); ok {
		broadcaster = b
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory).
	var (
		fundingStore    funding.Store
		settlementStore facilitator.SettlementStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.healthReg.Register("postgres", health.DBChecker("postgres", db))

		pgStore := funding.NewPostgresStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate funding store", "error", err)
		}
		fundingStore = pgStore
		settlementStore = facilitator.NewPostgresSettlementStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		fundingStore = funding.NewMemoryStore()
		settlementStore = facilitator.NewMemorySettlementStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.ledger = funding.NewLedger(fundingStore, s.oracle,
		funding.WithRevalidateInterval(cfg.RevalidateInterval),
		funding.WithLogger(s.logger),
	)

	if cfg.ReconcileInterval > 0 {
		s.reconciler = funding.NewReconciler(fundingStore, s.oracle,
			cfg.ReconcileInterval, cfg.RevalidateInterval, s.logger)
	}

	// Payout identity. The signing service doubles as the payer-signature
	// verifier's capability.
	signer := signature.NewSigningService(cfg.PrivateKey)
	payout := cfg.PayoutAddress
	if payout == "" {
		addr, err := signer.Address()
		if err != nil {
			return nil, fmt.Errorf("failed to derive payout address: %w", err)
		}
		payout = addr
	}

	s.healthReg.Register("chain_index", func(ctx context.Context) health.Status {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, err := s.oracle.AddressBalance(ctx, payout); err != nil {
			return health.Status{Name: "chain_index", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "chain_index", Healthy: true}
	})

	s.service = facilitator.NewService(
		facilitator.Config{
			Network:          cfg.Network,
			PayoutAddress:    payout,
			MinConfirmations: cfg.MinConfirmations,
		},
		signature.NewVerifier(signature.NewRecoverService(), s.logger),
		s.ledger, s.oracle, broadcaster, settlementStore, s.logger,
	)

	s.eventHub = events.NewHub(s.logger)
	s.service.SetPublisher(s.eventHub)

	if cfg.Env == config.DefaultEnv {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(8)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.infoHandler)
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/livez", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", func(c *gin.Context) {
		s.eventHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.eventHub.Stats())
	})

	facilitator.NewHandler(s.service).RegisterRoutes(s.router.Group("/"))
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":      "satmeter-facilitator",
		"network":   s.cfg.Network,
		"supported": s.service.Supported(),
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())
	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run starts the server and blocks until a shutdown signal or context
// cancellation.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	if s.cfg.OTLPEndpoint != "" {
		stop, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("failed to initialize tracing", "error", err)
		} else {
			s.stopTraces = stop
		}
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "network", s.cfg.Network)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.eventHub.Run(runCtx)

	if s.reconciler != nil {
		go s.reconciler.Run(runCtx)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (hub, reconciler)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// maskDSN hides credentials in a database URL for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}
