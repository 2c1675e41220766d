package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(l), &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func TestSensitiveAttributesAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("payment recorded",
		"organization_id", "org-1",
		"payment_reference", "WIRE-123",
		"jwt_secret", "s3cr3t",
		"Authorization", "Bearer abc",
	)

	got := lines(&buf)
	require.Len(t, got, 1)
	assert.Equal(t, "org-1", got[0]["organization_id"])
	assert.Equal(t, "[REDACTED]", got[0]["payment_reference"])
	assert.Equal(t, "[REDACTED]", got[0]["jwt_secret"])
	assert.Equal(t, "[REDACTED]", got[0]["Authorization"])
}

func TestParseLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "text", Output: &buf})

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestSamplingDropsAfterThreshold(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:  "info",
		Output: &buf,
		Sampling: SamplingConfig{
			Enabled:   true,
			Tick:      time.Hour,
			Threshold: 3,
			Rate:      0.5,
			ErrorRate: 1.0,
		},
	})

	before := DroppedTotal("info")
	for range 10 {
		log.Info("cache miss")
	}

	// 3 under threshold, then counts 4, 6, 8, 10 pass at rate 0.5.
	assert.Len(t, lines(&buf), 7)
	assert.InDelta(t, 3, DroppedTotal("info")-before, 0.001)
}

func TestSamplingKeepsErrorsAndLifecycleEvents(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:  "info",
		Output: &buf,
		Sampling: SamplingConfig{
			Enabled:   true,
			Tick:      time.Hour,
			Threshold: 1,
			Rate:      0,
			ErrorRate: 1.0,
		},
	}).With("service", "renewal")

	for range 5 {
		log.Info("renewal approved", "organization_id", "org-1")
		log.Error("sweep failed")
	}

	got := lines(&buf)
	assert.Len(t, got, 10)
	assert.Equal(t, "renewal", got[0]["service"])
}

func TestSamplingSharesBudgetAcrossDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{
		Level:  "info",
		Output: &buf,
		Sampling: SamplingConfig{
			Enabled:   true,
			Tick:      time.Hour,
			Threshold: 2,
			Rate:      0,
		},
	})

	base.With("a", 1).Info("usage recalculated")
	base.With("b", 2).Info("usage recalculated")
	base.With("c", 3).Info("usage recalculated")

	assert.Len(t, lines(&buf), 2)
}

func TestSamplingDisabledReturnsHandler(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Output: &buf})
	for range 200 {
		log.Info("same")
	}
	assert.Len(t, lines(&buf), 200)
}

func TestSampled(t *testing.T) {
	assert.True(t, sampled(7, 1.0))
	assert.False(t, sampled(7, 0))
	assert.True(t, sampled(10, 0.1))
	assert.False(t, sampled(11, 0.1))
}

func TestContextRoundTrip(t *testing.T) {
	log := NewNop().With("request_id", "r1")
	ctx := ToContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
