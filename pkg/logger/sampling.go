package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SamplingConfig configures threshold-based log sampling.
//
// The first Threshold records with the same level and message inside one Tick
// are written; after that only every 1/Rate-th record is (ErrorRate for warn
// and above). Records whose message starts with one of NeverSample are always
// written.
type SamplingConfig struct {
	Enabled   bool
	Tick      time.Duration
	Threshold uint64
	Rate      float64
	ErrorRate float64

	// MaxKeys bounds the number of distinct messages tracked per tick.
	MaxKeys int

	// NeverSample defaults to DefaultNeverSample when nil.
	NeverSample []string
}

const (
	DefaultSamplingTick      = time.Second
	DefaultSamplingThreshold = 100
	DefaultSamplingMaxKeys   = 10000
)

// DefaultNeverSample lists the message prefixes of billing lifecycle events.
// These records form the operational audit trail and are never dropped.
var DefaultNeverSample = []string{
	"subscription ",
	"trial ",
	"payment ",
	"renewal ",
	"status transition",
	"discount code ",
	"limit override ",
	"plan ",
}

type samplingHandler struct {
	next  slog.Handler
	cfg   SamplingConfig
	state *samplingState
}

// samplingState is shared by every handler derived through WithAttrs/WithGroup
// so that service-scoped loggers count against the same budget.
type samplingState struct {
	mu        sync.Mutex
	counts    map[string]uint64
	lastReset atomic.Int64
}

// NewSamplingHandler wraps h with sampling. It returns h unchanged when
// sampling is disabled.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultSamplingTick
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultSamplingThreshold
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultSamplingMaxKeys
	}
	if cfg.NeverSample == nil {
		cfg.NeverSample = DefaultNeverSample
	}

	st := &samplingState{counts: make(map[string]uint64)}
	st.lastReset.Store(time.Now().UnixNano())
	return &samplingHandler{next: h, cfg: cfg, state: st}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	logsProcessedTotal.WithLabelValues(levelToString(r.Level)).Inc()

	if h.neverSampled(r.Message) {
		return h.next.Handle(ctx, r)
	}

	count, tracked := h.state.increment(r.Level.String()+":"+r.Message, h.cfg)
	if !tracked || count <= h.cfg.Threshold {
		return h.next.Handle(ctx, r)
	}

	rate := h.cfg.Rate
	if r.Level >= slog.LevelWarn {
		rate = h.cfg.ErrorRate
	}
	if sampled(count, rate) {
		return h.next.Handle(ctx, r)
	}

	logsDroppedTotal.WithLabelValues(levelToString(r.Level)).Inc()
	return nil
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{next: h.next.WithAttrs(attrs), cfg: h.cfg, state: h.state}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{next: h.next.WithGroup(name), cfg: h.cfg, state: h.state}
}

func (h *samplingHandler) neverSampled(msg string) bool {
	for _, prefix := range h.cfg.NeverSample {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// increment bumps the counter for key. tracked is false when the key table is
// full, in which case the record bypasses sampling.
func (s *samplingState) increment(key string, cfg SamplingConfig) (count uint64, tracked bool) {
	now := time.Now().UnixNano()
	last := s.lastReset.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now-last >= cfg.Tick.Nanoseconds() && s.lastReset.CompareAndSwap(last, now) {
		clear(s.counts)
	}

	if _, ok := s.counts[key]; !ok && len(s.counts) >= cfg.MaxKeys {
		return 0, false
	}
	s.counts[key]++
	samplingKeys.Set(float64(len(s.counts)))
	return s.counts[key], true
}

// sampled is deterministic in count so that replicas agree on the sample.
func sampled(count uint64, rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	return count%uint64(1.0/rate) == 0
}
