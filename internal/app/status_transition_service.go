package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/openctemio/entitlements/internal/metrics"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/logger"
)

// SweepConfig configures the status-transition sweep.
type SweepConfig struct {
	// BatchSize caps how many organizations one run considers (default: 1000).
	BatchSize int

	// Concurrency is how many organizations are processed in parallel (default: 4).
	Concurrency int

	// MinStepInterval is how long a subscription waits after a time-driven step
	// before the next one. It must stay below the sweep interval, or a run that
	// fires slightly early skips a step; StepIntervalForSchedule derives it.
	// Zero disables the wait.
	MinStepInterval time.Duration
}

// DefaultSweepConfig returns default configuration.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		BatchSize:       1000,
		Concurrency:     4,
		MinStepInterval: StepInterval(time.Hour),
	}
}

// Transition is one status change applied by the sweep.
type Transition struct {
	OrganizationID shared.ID           `json:"organization_id"`
	From           subscription.Status `json:"from"`
	To             subscription.Status `json:"to"`
}

// SweepFailure is an organization the sweep could not process.
type SweepFailure struct {
	OrganizationID shared.ID `json:"organization_id"`
	Error          string    `json:"error"`
}

// TransitionReport summarizes one sweep run.
type TransitionReport struct {
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration"`
	Candidates   int            `json:"candidates"`
	Transitioned []Transition   `json:"transitioned"`
	Failures     []SweepFailure `json:"failures"`
}

// TransitionedOrganizations returns the IDs of organizations that changed status.
func (r *TransitionReport) TransitionedOrganizations() []shared.ID {
	out := make([]shared.ID, 0, len(r.Transitioned))
	for _, t := range r.Transitioned {
		out = append(out, t.OrganizationID)
	}
	return out
}

// StatusTransitionService is the only component that changes a subscription's
// status because time passed.
type StatusTransitionService struct {
	store  Store
	cache  *EntitlementCacheService
	config SweepConfig
	clock  Clock
	logger *logger.Logger
}

// NewStatusTransitionService creates a new StatusTransitionService.
func NewStatusTransitionService(store Store, cache *EntitlementCacheService, cfg SweepConfig, log *logger.Logger) *StatusTransitionService {
	def := DefaultSweepConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MinStepInterval < 0 {
		cfg.MinStepInterval = 0
	}
	return &StatusTransitionService{
		store:  store,
		cache:  cache,
		config: cfg,
		clock:  systemClock,
		logger: log.With("service", "status_transition"),
	}
}

// SetClock replaces the service clock.
func (s *StatusTransitionService) SetClock(clock Clock) {
	s.clock = clock
}

// ProcessStatusTransitions applies at most one due transition to every subscription.
// A failure on one organization is reported and does not stop the others; only
// failing to list candidates fails the run.
func (s *StatusTransitionService) ProcessStatusTransitions(ctx context.Context) (report *TransitionReport, err error) {
	ctx, span := tracer.Start(ctx, "StatusTransitionService.ProcessStatusTransitions")
	defer func() { endSpan(span, err) }()

	now := s.clock()
	began := time.Now()
	report = &TransitionReport{
		StartedAt:    now,
		Transitioned: make([]Transition, 0),
		Failures:     make([]SweepFailure, 0),
	}
	defer func() {
		report.Duration = time.Since(began)
		metrics.SweepDuration.Observe(report.Duration.Seconds())
	}()

	candidates, err := s.store.Repos().Subscriptions.ListDueForTransition(ctx, now, s.config.BatchSize)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list subscriptions due for transition: %w", err)
	}
	report.Candidates = len(candidates)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, orgID := range candidates {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			t, moved, err := s.advance(gctx, orgID, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				s.logger.Warn("status transition failed", "organization_id", orgID.String(), "error", err)
				metrics.SweepFailuresTotal.Inc()
				report.Failures = append(report.Failures, SweepFailure{OrganizationID: orgID, Error: err.Error()})
			case moved:
				report.Transitioned = append(report.Transitioned, t)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.SweepRunsTotal.WithLabelValues("cancelled").Inc()
		return report, err
	}

	for _, t := range report.Transitioned {
		s.cache.Invalidate(ctx, t.OrganizationID)
	}

	span.SetAttributes(
		attribute.Int("sweep.candidates", report.Candidates),
		attribute.Int("sweep.transitioned", len(report.Transitioned)),
		attribute.Int("sweep.failures", len(report.Failures)),
	)
	metrics.SweepRunsTotal.WithLabelValues("success").Inc()
	s.logger.Info("status transitions processed",
		"candidates", report.Candidates,
		"transitioned", len(report.Transitioned),
		"failures", len(report.Failures),
	)
	return report, nil
}

// advance re-reads one subscription under its row lock and applies the step that
// is still due, if any. A row another run or an admin action already moved is a no-op.
func (s *StatusTransitionService) advance(ctx context.Context, orgID shared.ID, now time.Time) (Transition, bool, error) {
	var (
		t     Transition
		moved bool
	)
	err := s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		sub, err := tx.Subscriptions.GetByOrganizationForUpdate(ctx, orgID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil
			}
			return err
		}

		to, due := sub.StepDue(now, s.config.MinStepInterval)
		if !due {
			return nil
		}
		from := sub.Status()
		moved, err = sub.AdvanceTo(to, now)
		if err != nil || !moved {
			return err
		}
		if err := sub.CheckInvariants(); err != nil {
			return err
		}
		if err := tx.Subscriptions.Update(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}

		entry := history.NewEntry(orgID, history.ActionStatusTransitioned, shared.SystemActor, now).
			WithStatus(sub.ID(), string(from), string(to))
		if err := tx.History.Append(ctx, entry); err != nil {
			return err
		}
		t = Transition{OrganizationID: orgID, From: from, To: to}
		return nil
	})
	if err != nil {
		return Transition{}, false, err
	}
	if moved {
		metrics.StatusTransitionsTotal.WithLabelValues(string(t.From), string(t.To), "sweep").Inc()
	}
	return t, moved, nil
}
