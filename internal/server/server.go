// Package server exposes the assessment engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/config"
	"github.com/mbd888/tokenrisk/internal/health"
	"github.com/mbd888/tokenrisk/internal/logging"
	"github.com/mbd888/tokenrisk/internal/metrics"
	"github.com/mbd888/tokenrisk/internal/profile"
	"github.com/mbd888/tokenrisk/internal/ratelimit"
	"github.com/mbd888/tokenrisk/internal/realtime"
	"github.com/mbd888/tokenrisk/internal/validation"
)

// ProfileSource lists and resolves scoring profiles. *profile.Registry and
// *profile.Live implement it.
type ProfileSource interface {
	Get(name string) (*profile.Profile, error)
	Names() []string
}

// Deps are the collaborators the API serves.
type Deps struct {
	Orchestrator *assess.Orchestrator
	Store        assess.Store
	Profiles     ProfileSource
	Health       *health.Registry // optional
	Hub          *realtime.Hub    // optional; enables /v1/stream
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg      *config.Config
	deps     Deps
	limiter  *ratelimit.Limiter
	limitCfg ratelimit.Config
	router   *gin.Engine
	httpSrv  *http.Server
	logger   *slog.Logger
	version  string

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithRateLimit overrides the limits applied to assessment submissions.
func WithRateLimit(cfg ratelimit.Config) Option {
	return func(s *Server) { s.limitCfg = cfg }
}

// New creates a server over deps.
func New(cfg *config.Config, deps Deps, opts ...Option) (*Server, error) {
	if deps.Orchestrator == nil || deps.Store == nil || deps.Profiles == nil {
		return nil, errors.New("server: orchestrator, store and profiles are required")
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		limitCfg: ratelimit.DefaultConfig(),
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}
	if s.deps.Health == nil {
		s.deps.Health = health.NewRegistry()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.limiter = ratelimit.New(s.limitCfg)
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware())
	s.router.Use(otelgin.Middleware("tokenrisk"))
	s.router.Use(headersMiddleware())
	s.router.Use(corsMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.POST("/assessments", s.limiter.Middleware(), s.createAssessment)
	v1.GET("/assessments/:id", s.getAssessment)
	v1.GET("/tokens/:chain/:token/assessments", validation.TokenParamMiddleware(), s.listTokenAssessments)
	v1.GET("/profiles", s.listProfiles)
	v1.GET("/profiles/:name", s.getProfile)
	v1.GET("/chains", s.listChains)

	if s.deps.Hub != nil {
		v1.GET("/stream", func(c *gin.Context) {
			s.deps.Hub.HandleWebSocket(c.Writer, c.Request)
		})
		v1.GET("/stream/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.deps.Hub.Stats())
		})
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.CollectTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.deps.Hub != nil {
		go s.deps.Hub.Run(runCtx)
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	select {
	case err := <-errChan:
		s.ready.Store(false)
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	}
	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}
	s.limiter.Stop()

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
