package main

import (
	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/config"
	"github.com/openctemio/entitlements/internal/infra/jobs"
	"github.com/openctemio/entitlements/internal/infra/redis"
	"github.com/openctemio/entitlements/pkg/logger"
)

// Workers holds all background worker instances.
type Workers struct {
	JobClient *jobs.Client // nil without redis
	JobWorker *jobs.Worker // nil without redis or when the worker is disabled
	Scheduler *app.BillingScheduler
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config   *config.Config
	Log      *logger.Logger
	Services *Services
	Redis    *redis.Client
}

// NewWorkers initializes the billing scheduler and, with redis, the asynq
// client and worker. Without redis the scheduler runs the jobs in process.
func NewWorkers(deps *WorkerDeps) (*Workers, error) {
	cfg := deps.Config
	log := deps.Log
	svc := deps.Services

	w := &Workers{}

	var dispatcher app.BillingJobDispatcher = &app.DirectDispatcher{
		Transitions:         svc.Transitions,
		Usage:               svc.Usage,
		SnapshotConcurrency: cfg.Billing.SnapshotConcurrency,
	}

	if deps.Redis != nil {
		client, err := jobs.NewClient(jobs.ClientConfig{
			RedisAddr:     cfg.Redis.Addr(),
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
			UniqueFor:     cfg.Worker.UniqueFor,
		}, log)
		if err != nil {
			return nil, err
		}
		w.JobClient = client
		dispatcher = client

		if cfg.Worker.Enabled {
			billing := jobs.NewBillingTaskHandler(svc.Transitions, svc.Usage, cfg.Billing.SnapshotConcurrency, log)
			w.JobWorker, err = jobs.NewWorker(jobs.WorkerConfig{
				RedisAddr:     cfg.Redis.Addr(),
				RedisPassword: cfg.Redis.Password,
				RedisDB:       cfg.Redis.DB,
				Concurrency:   cfg.Worker.Concurrency,
			}, billing, log)
			if err != nil {
				return nil, err
			}
		}
	}

	w.Scheduler = app.NewBillingScheduler(dispatcher, app.BillingSchedulerConfig{
		TransitionSpec: cfg.Scheduler.TransitionSpec,
		SnapshotSpec:   cfg.Scheduler.SnapshotSpec,
		Enabled:        cfg.Scheduler.Enabled,
	}, log)

	return w, nil
}

// Start starts all background workers.
func (w *Workers) Start(log *logger.Logger) error {
	if w.JobWorker != nil {
		if err := w.JobWorker.Start(); err != nil {
			return err
		}
		log.Info("job worker started")
	}

	return w.Scheduler.Start()
}

// Stop stops all background workers gracefully.
func (w *Workers) Stop(log *logger.Logger) {
	log.Info("stopping billing scheduler...")
	w.Scheduler.Stop()

	if w.JobWorker != nil {
		w.JobWorker.Stop()
		log.Info("job worker stopped")
	}

	if w.JobClient != nil {
		closeWithLog(w.JobClient, "job client", log)
	}
}
