package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openctemio/entitlements/pkg/logger"
)

// BillingJobDispatcher starts the periodic billing jobs. The asynq client
// implements it by enqueueing tasks; DirectDispatcher runs them in process.
type BillingJobDispatcher interface {
	DispatchStatusTransitions(ctx context.Context) error
	DispatchUsageSnapshots(ctx context.Context) error
}

// BillingSchedulerConfig holds configuration for the scheduler.
type BillingSchedulerConfig struct {
	// TransitionSpec is the cron spec of the status-transition sweep (default: "@every 1h").
	// Keep the interval shorter than the shortest grace or readonly window.
	TransitionSpec string

	// SnapshotSpec is the cron spec of the usage snapshot job (default: "0 2 * * *", UTC).
	SnapshotSpec string

	// Enabled controls whether the scheduler runs (default: true)
	Enabled bool
}

// DefaultBillingSchedulerConfig returns default configuration.
func DefaultBillingSchedulerConfig() BillingSchedulerConfig {
	return BillingSchedulerConfig{
		TransitionSpec: "@every 1h",
		SnapshotSpec:   "0 2 * * *",
		Enabled:        true,
	}
}

// StepInterval is the minimum gap between two time-driven steps of one
// subscription for a sweep that runs every period: nine tenths of it. A run
// fired up to a tenth of the period early still steps; two runs fired together
// step a row once.
func StepInterval(period time.Duration) time.Duration {
	return period * 9 / 10
}

// StepIntervalForSchedule returns StepInterval for the period of a cron spec,
// measured between its first two firings after a fixed reference time.
func StepIntervalForSchedule(spec string) (time.Duration, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, fmt.Errorf("invalid transition schedule %q: %w", spec, err)
	}
	ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	first := sched.Next(ref)
	period := sched.Next(first).Sub(first)
	if period <= 0 {
		return 0, fmt.Errorf("transition schedule %q never repeats", spec)
	}
	return StepInterval(period), nil
}

// BillingScheduler triggers the status-transition sweep and the usage snapshot
// job on their cron schedules. Every instance may run one; the sweep is safe to
// run concurrently.
type BillingScheduler struct {
	dispatcher BillingJobDispatcher
	config     BillingSchedulerConfig
	cron       *cron.Cron
	logger     *logger.Logger

	mu      sync.Mutex
	running bool
}

// NewBillingScheduler creates a new scheduler.
func NewBillingScheduler(dispatcher BillingJobDispatcher, cfg BillingSchedulerConfig, log *logger.Logger) *BillingScheduler {
	def := DefaultBillingSchedulerConfig()
	if cfg.TransitionSpec == "" {
		cfg.TransitionSpec = def.TransitionSpec
	}
	if cfg.SnapshotSpec == "" {
		cfg.SnapshotSpec = def.SnapshotSpec
	}
	return &BillingScheduler{
		dispatcher: dispatcher,
		config:     cfg,
		cron:       cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:     log.With("component", "billing_scheduler"),
	}
}

// Start registers the jobs and starts the cron loop.
func (s *BillingScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.config.Enabled {
		s.logger.Info("billing scheduler disabled")
		return nil
	}
	if s.running {
		return errors.New("billing scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.config.TransitionSpec, s.dispatchTransitions); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.config.SnapshotSpec, s.dispatchSnapshots); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("billing scheduler started",
		"transition_spec", s.config.TransitionSpec,
		"snapshot_spec", s.config.SnapshotSpec,
	)
	return nil
}

// Stop stops the scheduler and waits for a running dispatch to return.
// Safe to call even if Start() was never called.
func (s *BillingScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	<-s.cron.Stop().Done()
	s.logger.Info("billing scheduler stopped")
}

func (s *BillingScheduler) dispatchTransitions() {
	s.dispatch("status transitions", s.dispatcher.DispatchStatusTransitions)
}

func (s *BillingScheduler) dispatchSnapshots() {
	s.dispatch("usage snapshots", s.dispatcher.DispatchUsageSnapshots)
}

func (s *BillingScheduler) dispatch(name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during billing job dispatch", "job", name, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.Error("failed to dispatch billing job", "job", name, "error", err)
	}
}

// DirectDispatcher runs billing jobs synchronously in the calling process.
// It is used when no job queue is configured.
type DirectDispatcher struct {
	Transitions         *StatusTransitionService
	Usage               *UsageService
	SnapshotConcurrency int
}

// DispatchStatusTransitions runs the sweep.
func (d *DirectDispatcher) DispatchStatusTransitions(ctx context.Context) error {
	_, err := d.Transitions.ProcessStatusTransitions(ctx)
	return err
}

// DispatchUsageSnapshots snapshots every organization's usage.
func (d *DirectDispatcher) DispatchUsageSnapshots(ctx context.Context) error {
	_, err := d.Usage.RecalculateAllUsage(ctx, d.SnapshotConcurrency)
	return err
}
