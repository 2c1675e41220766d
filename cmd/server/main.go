package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openctemio/entitlements/internal/config"
	"github.com/openctemio/entitlements/internal/infra/http"
	"github.com/openctemio/entitlements/internal/infra/http/routes"
	"github.com/openctemio/entitlements/internal/infra/postgres"
	"github.com/openctemio/entitlements/internal/infra/redis"
	"github.com/openctemio/entitlements/internal/infra/telemetry"
	"github.com/openctemio/entitlements/pkg/jwt"
	"github.com/openctemio/entitlements/pkg/logger"
	"github.com/openctemio/entitlements/pkg/migrations"
	"github.com/openctemio/entitlements/pkg/validator"
)

// Command line flags.
var (
	showRoutes  = flag.Bool("routes", false, "Print all registered routes and exit")
	routeFormat = flag.String("route-format", "table", "Route output format: table, json")
	routeAccess = flag.String("route-access", "", "Only print routes for this audience: public, tenant, admin")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env, "version", cfg.App.Version)

	tracing, err := telemetry.NewProvider(ctx, cfg.Tracing, cfg.App.Version, log)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to flush traces", "error", err)
		}
	}()

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(db.DB, cfg.Database.MigrationsDir, nil)
		if err := runner.Up(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err, "dir", cfg.Database.MigrationsDir)
			return 1
		}
		log.Info("migrations applied", "dir", cfg.Database.MigrationsDir)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(&cfg.Redis, log)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			return 1
		}
		defer closeWithLog(redisClient, "redis", log)
		stopPoolStats := redis.StartPoolStatsCollector(ctx, redisClient, 15*time.Second)
		defer stopPoolStats()
		log.Info("redis connected")
	} else {
		log.Warn("redis disabled: cache is process-local and billing jobs run in process")
	}

	// ==========================================================================
	// Services
	// ==========================================================================
	services, err := NewServices(&ServiceDeps{
		Config: cfg,
		Log:    log,
		DB:     db,
		Redis:  redisClient,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	log.Info("services initialized")

	// ==========================================================================
	// Handlers
	// ==========================================================================
	handlers := NewHandlers(&HandlerDeps{
		Config:      cfg,
		Validator:   validator.New(validator.WithCurrencies(cfg.Billing.Currencies)),
		DB:          db,
		RedisClient: redisClient,
		Services:    services,
	})

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	var serverOpts []http.ServerOption
	if cfg.RateLimit.Enabled && cfg.RateLimit.Distributed && redisClient != nil {
		window, err := redis.NewRateLimiter(redisClient, "ratelimit:api", cfg.RateLimit.Burst, cfg.RateLimit.Window, log)
		if err != nil {
			log.Error("failed to initialize distributed rate limiter", "error", err)
			return 1
		}
		serverOpts = append(serverOpts, http.WithDistributedRateLimiter(window))
	}

	tokens := jwt.NewGenerator(jwt.TokenConfig{
		Secret:              cfg.Auth.JWTSecret,
		Issuer:              cfg.Auth.JWTIssuer,
		AccessTokenDuration: cfg.Auth.TokenDuration,
	})

	server := http.NewServer(cfg, log, serverOpts...)
	routes.Register(server.Router(), handlers, tokens, log)

	// Handle --routes flag
	if *showRoutes {
		if err := http.PrintRoutes(os.Stdout, http.CollectRoutes(server.Router()), *routeFormat, *routeAccess); err != nil {
			log.Error("failed to print routes", "error", err)
			return 1
		}
		return 0
	}

	// ==========================================================================
	// Workers
	// ==========================================================================
	workers, err := NewWorkers(&WorkerDeps{
		Config:   cfg,
		Log:      log,
		Services: services,
		Redis:    redisClient,
	})
	if err != nil {
		log.Error("failed to initialize workers", "error", err)
		return 1
	}

	if err := workers.Start(log); err != nil {
		log.Error("failed to start workers", "error", err)
		return 1
	}

	// ==========================================================================
	// Start Server
	// ==========================================================================
	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting work before the server goes away.
	workers.Stop(log)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	var log *logger.Logger
	if cfg.IsProduction() {
		//nolint:gosec // G115: validated non-negative in config.Validate()
		threshold := uint64(cfg.Log.SamplingThreshold)
		log = logger.NewProductionWithConfig(logger.SamplingConfig{
			Enabled:   cfg.Log.SamplingEnabled,
			Tick:      time.Second,
			Threshold: threshold,
			Rate:      cfg.Log.SamplingRate,
			ErrorRate: cfg.Log.ErrorSamplingRate,
		})
		logger.RegisterMetrics(nil)
	} else {
		log = logger.New(logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: os.Stdout,
		})
	}
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
