package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openctemio/entitlements/internal/config"
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/logger"
)

// Server represents the HTTP server.
type Server struct {
	httpServer   *http.Server
	router       Router
	config       *config.Config
	logger       *logger.Logger
	window       middleware.SlidingWindowLimiter
	cleanupFuncs []func() // cleanup functions to call on shutdown
}

// ServerOption is a function that configures the server.
type ServerOption func(*Server)

// WithDistributedRateLimiter replaces the per-replica token bucket with a shared
// sliding window. It only applies when rate limiting is enabled.
func WithDistributedRateLimiter(l middleware.SlidingWindowLimiter) ServerOption {
	return func(s *Server) {
		s.window = l
	}
}

// NewServer creates the HTTP server with the global middleware chain installed.
func NewServer(cfg *config.Config, log *logger.Logger, opts ...ServerOption) *Server {
	s := &Server{
		router: NewChiRouter(),
		config: cfg,
		logger: log,
	}

	for _, opt := range opts {
		opt(s)
	}

	// Apply global middleware (order matters!)
	chain := []Middleware{
		middleware.Recovery(log, cfg.IsProduction()), // No stack traces in prod
		middleware.RequestID(),
	}
	if cfg.Tracing.Enabled {
		chain = append(chain, middleware.Tracing(cfg.App.Name))
	}
	chain = append(chain,
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
			HSTSEnabled: cfg.IsProduction(),
			HSTSMaxAge:  31536000, // 1 year
		}),
		middleware.BodyLimit(cfg.Server.MaxBodySize),
	)
	if rl := s.rateLimit(); rl != nil {
		chain = append(chain, rl)
	}
	chain = append(chain,
		middleware.Timeout(cfg.Server.RequestTimeout),
		middleware.Metrics(),
		middleware.LoggerWithConfig(log, middleware.LoggerConfig{
			SkipPaths:            skipPaths(cfg.Log.SkipHealthLogs),
			SlowRequestThreshold: time.Duration(cfg.Log.SlowRequestSeconds) * time.Second,
		}),
	)
	s.router.Use(chain...)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       time.Minute,
	}

	return s
}

func (s *Server) rateLimit() Middleware {
	if !s.config.RateLimit.Enabled {
		return nil
	}
	if s.window != nil {
		s.logger.Info("using distributed rate limiter", "limit", s.window.Limit())
		return middleware.DistributedRateLimit(s.window, s.logger)
	}
	rl := middleware.NewRateLimiter(s.config.RateLimit, s.logger)
	s.cleanupFuncs = append(s.cleanupFuncs, rl.Stop)
	return rl.Middleware()
}

func skipPaths(skipHealth bool) []string {
	if !skipHealth {
		return nil
	}
	return middleware.DefaultLoggerConfig().SkipPaths
}

// Router returns the router for registering handlers.
func (s *Server) Router() Router {
	return s.router
}

// Handler returns the root handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.config.Server.Addr())

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	for _, cleanup := range s.cleanupFuncs {
		cleanup()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
