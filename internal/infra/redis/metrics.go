package redis

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Redis collectors. Cache and limiter series are labelled
// by key prefix, so the entitlement snapshot tier and the API limiter show up
// as separate series.
type Metrics struct {
	opDuration *prometheus.HistogramVec
	opErrors   *prometheus.CounterVec

	cacheLookups *prometheus.CounterVec
	rateLimit    *prometheus.CounterVec

	pool *prometheus.GaugeVec
}

// DefaultMetrics is registered with the default prometheus registry.
var DefaultMetrics = NewMetrics("entitlements")

// NewMetrics creates and registers the Redis collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		opDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis operations.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		opErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_errors_total",
			Help:      "Redis operations that returned an error.",
		}, []string{"operation"}),
		cacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "cache_lookups_total",
			Help:      "Shared cache lookups by result (hit, miss).",
		}, []string{"cache", "result"}),
		rateLimit: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "ratelimit_decisions_total",
			Help:      "Distributed rate limiter decisions (allowed, denied).",
		}, []string{"limiter", "decision"}),
		pool: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "pool_connections",
			Help:      "Connection pool statistics by kind.",
		}, []string{"kind"}),
	}
}

// ObserveOperation records the duration of operation and counts failures.
func (m *Metrics) ObserveOperation(operation string, d time.Duration, err error) {
	m.opDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.opErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCacheHit(cache string)  { m.cacheLookups.WithLabelValues(cache, "hit").Inc() }
func (m *Metrics) RecordCacheMiss(cache string) { m.cacheLookups.WithLabelValues(cache, "miss").Inc() }

// RecordRateLimitResult counts one limiter decision.
func (m *Metrics) RecordRateLimitResult(limiter string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.rateLimit.WithLabelValues(limiter, decision).Inc()
}

// UpdatePoolStats copies the client's pool counters into the gauges.
func (m *Metrics) UpdatePoolStats(client *Client) {
	if client == nil {
		return
	}
	stats := client.PoolStats()
	if stats == nil {
		return
	}
	m.pool.WithLabelValues("total").Set(float64(stats.TotalConns))
	m.pool.WithLabelValues("idle").Set(float64(stats.IdleConns))
	m.pool.WithLabelValues("stale").Set(float64(stats.StaleConns))
	m.pool.WithLabelValues("timeouts").Set(float64(stats.Timeouts))
}

// StartPoolStatsCollector refreshes the pool gauges every interval until ctx
// is done or the returned cancel func is called.
func StartPoolStatsCollector(ctx context.Context, client *Client, interval time.Duration) func() {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				DefaultMetrics.UpdatePoolStats(client)
			}
		}
	}()

	return cancel
}

// Timed starts a timer for operation; call the result with the outcome.
func Timed(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		DefaultMetrics.ObserveOperation(operation, time.Since(start), err)
	}
}
