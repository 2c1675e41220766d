package logger

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var (
	logsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entitlements",
			Subsystem: "logger",
			Name:      "logs_processed_total",
			Help:      "Log records seen by the sampling handler.",
		},
		[]string{"level"},
	)

	logsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entitlements",
			Subsystem: "logger",
			Name:      "logs_dropped_total",
			Help:      "Log records dropped by sampling.",
		},
		[]string{"level"},
	)

	samplingKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "entitlements",
			Subsystem: "logger",
			Name:      "sampling_keys",
			Help:      "Distinct messages tracked in the current sampling tick.",
		},
	)

	registerOnce sync.Once
)

// RegisterMetrics registers the logger collectors once. A nil registry means
// the default prometheus registerer.
func RegisterMetrics(registry prometheus.Registerer) {
	registerOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{logsProcessedTotal, logsDroppedTotal, samplingKeys} {
			_ = registry.Register(c)
		}
	})
}

func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// DroppedTotal returns how many records of level have been dropped.
func DroppedTotal(level string) float64 {
	m, err := logsDroppedTotal.GetMetricWithLabelValues(level)
	if err != nil {
		return 0
	}
	var metric dto.Metric
	if err := m.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}
