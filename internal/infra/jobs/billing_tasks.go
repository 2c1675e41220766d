// Package jobs provides background job definitions and handlers using Asynq.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/metrics"
	"github.com/openctemio/entitlements/pkg/logger"
)

// Task types for billing jobs
const (
	TypeProcessTransitions = "entitlements:process_transitions"
	TypeUsageSnapshot      = "entitlements:usage_snapshot"
)

// QueueBilling is the queue both billing tasks are enqueued on.
const QueueBilling = "billing"

// BillingTaskPayload is shared by both billing tasks.
type BillingTaskPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// NewProcessTransitionsTask creates a status-transition sweep task.
// uniqueFor suppresses duplicates enqueued by other replicas' schedulers.
func NewProcessTransitionsTask(payload BillingTaskPayload, uniqueFor time.Duration) (*asynq.Task, error) {
	return newBillingTask(TypeProcessTransitions, payload, 15*time.Minute, uniqueFor)
}

// NewUsageSnapshotTask creates a usage snapshot task.
func NewUsageSnapshotTask(payload BillingTaskPayload, uniqueFor time.Duration) (*asynq.Task, error) {
	return newBillingTask(TypeUsageSnapshot, payload, time.Hour, uniqueFor)
}

func newBillingTask(typename string, payload BillingTaskPayload, timeout, uniqueFor time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typename, err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueBilling),
		asynq.MaxRetry(2),
		asynq.Timeout(timeout),
	}
	if uniqueFor > 0 {
		opts = append(opts, asynq.Unique(uniqueFor))
	}
	return asynq.NewTask(typename, data, opts...), nil
}

// TransitionProcessor runs the status-transition sweep.
// Implemented by app.StatusTransitionService.
type TransitionProcessor interface {
	ProcessStatusTransitions(ctx context.Context) (*app.TransitionReport, error)
}

// SnapshotProcessor snapshots usage for every subscribed organization.
// Implemented by app.UsageService.
type SnapshotProcessor interface {
	RecalculateAllUsage(ctx context.Context, concurrency int) (*app.SnapshotReport, error)
}

// BillingTaskHandler handles billing tasks.
type BillingTaskHandler struct {
	transitions         TransitionProcessor
	snapshots           SnapshotProcessor
	snapshotConcurrency int
	logger              *logger.Logger
}

// NewBillingTaskHandler creates a new billing task handler.
func NewBillingTaskHandler(transitions TransitionProcessor, snapshots SnapshotProcessor, snapshotConcurrency int, log *logger.Logger) *BillingTaskHandler {
	return &BillingTaskHandler{
		transitions:         transitions,
		snapshots:           snapshots,
		snapshotConcurrency: snapshotConcurrency,
		logger:              log.With("component", "billing_tasks"),
	}
}

// HandleProcessTransitions runs one sweep. Per-organization failures are
// reported but do not fail the task; the next run retries them.
func (h *BillingTaskHandler) HandleProcessTransitions(ctx context.Context, t *asynq.Task) error {
	payload, err := decodeBillingPayload(t)
	if err != nil {
		metrics.JobsProcessedTotal.WithLabelValues(TypeProcessTransitions, "invalid").Inc()
		return err
	}

	report, err := h.transitions.ProcessStatusTransitions(ctx)
	if err != nil {
		metrics.JobsProcessedTotal.WithLabelValues(TypeProcessTransitions, "failed").Inc()
		h.logger.Error("status transition sweep failed", "error", err)
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues(TypeProcessTransitions, "succeeded").Inc()
	h.logger.Info("status transition sweep completed",
		"requested_at", payload.RequestedAt,
		"candidates", report.Candidates,
		"transitioned", len(report.Transitioned),
		"failures", len(report.Failures),
	)
	return nil
}

// HandleUsageSnapshot snapshots usage for every organization.
func (h *BillingTaskHandler) HandleUsageSnapshot(ctx context.Context, t *asynq.Task) error {
	payload, err := decodeBillingPayload(t)
	if err != nil {
		metrics.JobsProcessedTotal.WithLabelValues(TypeUsageSnapshot, "invalid").Inc()
		return err
	}

	report, err := h.snapshots.RecalculateAllUsage(ctx, h.snapshotConcurrency)
	if err != nil {
		metrics.JobsProcessedTotal.WithLabelValues(TypeUsageSnapshot, "failed").Inc()
		h.logger.Error("usage snapshot job failed", "error", err)
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues(TypeUsageSnapshot, "succeeded").Inc()
	h.logger.Info("usage snapshot job completed",
		"requested_at", payload.RequestedAt,
		"organizations", report.Organizations,
		"failures", len(report.Failures),
	)
	return nil
}

// RegisterHandlers registers billing task handlers with the asynq server mux.
func (h *BillingTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeProcessTransitions, h.HandleProcessTransitions)
	mux.HandleFunc(TypeUsageSnapshot, h.HandleUsageSnapshot)
}

func decodeBillingPayload(t *asynq.Task) (BillingTaskPayload, error) {
	var payload BillingTaskPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// Retrying cannot fix a malformed payload.
		return payload, fmt.Errorf("unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return payload, nil
}
