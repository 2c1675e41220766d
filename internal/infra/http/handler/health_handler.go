package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dependency struct {
	name     string
	pinger   Pinger
	required bool
}

// HealthHandler serves the liveness and readiness probes.
//
// The database is required: without it no entitlement can be resolved, so the
// replica reports not_ready. Redis only backs the shared cache tier and the job
// queue, so losing it marks the replica degraded but keeps it in rotation.
type HealthHandler struct {
	version string
	deps    []dependency
}

type HealthHandlerOption func(*HealthHandler)

func WithDatabase(db Pinger) HealthHandlerOption {
	return func(h *HealthHandler) {
		h.deps = append(h.deps, dependency{name: "database", pinger: db, required: true})
	}
}

func WithRedis(redis Pinger) HealthHandlerOption {
	return func(h *HealthHandler) {
		h.deps = append(h.deps, dependency{name: "redis", pinger: redis})
	}
}

// WithVersion reports the build version on /health.
func WithVersion(version string) HealthHandlerOption {
	return func(h *HealthHandler) {
		h.version = version
	}
}

func NewHealthHandler(opts ...HealthHandlerOption) *HealthHandler {
	h := &HealthHandler{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health is the liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
	})
}

// ReadyResponse is the readiness body. Status is ready, degraded or not_ready.
type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ready pings every dependency concurrently within a 5s budget.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var (
		mu       sync.Mutex
		checks   = make(map[string]CheckResult, len(h.deps))
		status   = "ready"
		httpCode = http.StatusOK
	)

	var g errgroup.Group
	for _, dep := range h.deps {
		if dep.pinger == nil {
			continue
		}
		g.Go(func() error {
			res := ping(ctx, dep.pinger)

			mu.Lock()
			defer mu.Unlock()
			checks[dep.name] = res
			if res.Status == "ok" {
				return nil
			}
			if dep.required {
				status, httpCode = "not_ready", http.StatusServiceUnavailable
			} else if status == "ready" {
				status = "degraded"
			}
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, httpCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func ping(ctx context.Context, p Pinger) CheckResult {
	start := time.Now()
	err := p.Ping(ctx)
	res := CheckResult{Status: "ok", Duration: time.Since(start).String()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}
