package handler

import (
	"context"
	"net/http"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/logger"
)

// TransitionSweeper runs one pass of the lifecycle sweep.
type TransitionSweeper interface {
	ProcessStatusTransitions(ctx context.Context) (*app.TransitionReport, error)
}

// UsageSnapshotter captures usage snapshots for every organization.
type UsageSnapshotter interface {
	RecalculateAllUsage(ctx context.Context, concurrency int) (*app.SnapshotReport, error)
}

// SweepHandler lets administrators trigger the scheduled jobs on demand.
type SweepHandler struct {
	sweeper     TransitionSweeper
	snapshotter UsageSnapshotter
	concurrency int
}

// NewSweepHandler creates a new sweep handler.
func NewSweepHandler(sweeper TransitionSweeper, snapshotter UsageSnapshotter, concurrency int) *SweepHandler {
	return &SweepHandler{sweeper: sweeper, snapshotter: snapshotter, concurrency: concurrency}
}

// Sweep handles POST /api/v1/admin/sweep
func (h *SweepHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.ProcessStatusTransitions(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("manual sweep finished",
		"actor_id", middleware.GetUserID(r.Context()),
		"transitioned", len(report.Transitioned),
		"failures", len(report.Failures),
	)
	writeJSON(w, http.StatusOK, report)
}

// SnapshotUsage handles POST /api/v1/admin/usage/snapshots
func (h *SweepHandler) SnapshotUsage(w http.ResponseWriter, r *http.Request) {
	report, err := h.snapshotter.RecalculateAllUsage(r.Context(), h.concurrency)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
