package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/pkg/logger"
)

type fakeTransitions struct {
	calls int
	err   error
}

func (f *fakeTransitions) ProcessStatusTransitions(_ context.Context) (*app.TransitionReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &app.TransitionReport{Candidates: 3, Transitioned: []app.Transition{{}}}, nil
}

type fakeSnapshots struct {
	concurrency int
	err         error
}

func (f *fakeSnapshots) RecalculateAllUsage(_ context.Context, concurrency int) (*app.SnapshotReport, error) {
	f.concurrency = concurrency
	if f.err != nil {
		return nil, f.err
	}
	return &app.SnapshotReport{Organizations: 7}, nil
}

func newHandler() (*BillingTaskHandler, *fakeTransitions, *fakeSnapshots) {
	tr := &fakeTransitions{}
	sn := &fakeSnapshots{}
	return NewBillingTaskHandler(tr, sn, 4, logger.NewNop()), tr, sn
}

func TestNewBillingTasks(t *testing.T) {
	at := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	task, err := NewProcessTransitionsTask(BillingTaskPayload{RequestedAt: at}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TypeProcessTransitions, task.Type())

	var p BillingTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.True(t, at.Equal(p.RequestedAt))

	task, err = NewUsageSnapshotTask(BillingTaskPayload{RequestedAt: at}, 0)
	require.NoError(t, err)
	assert.Equal(t, TypeUsageSnapshot, task.Type())
}

func TestHandleProcessTransitions(t *testing.T) {
	h, tr, _ := newHandler()
	task, err := NewProcessTransitionsTask(BillingTaskPayload{RequestedAt: time.Now()}, 0)
	require.NoError(t, err)

	require.NoError(t, h.HandleProcessTransitions(context.Background(), task))
	assert.Equal(t, 1, tr.calls)
}

func TestHandleProcessTransitions_Error(t *testing.T) {
	h, tr, _ := newHandler()
	tr.err = errors.New("db down")

	err := h.HandleProcessTransitions(context.Background(), asynq.NewTask(TypeProcessTransitions, nil))
	assert.ErrorIs(t, err, tr.err)
}

func TestHandleUsageSnapshot(t *testing.T) {
	h, _, sn := newHandler()

	require.NoError(t, h.HandleUsageSnapshot(context.Background(), asynq.NewTask(TypeUsageSnapshot, nil)))
	assert.Equal(t, 4, sn.concurrency)

	sn.err = errors.New("boom")
	assert.ErrorIs(t, h.HandleUsageSnapshot(context.Background(), asynq.NewTask(TypeUsageSnapshot, nil)), sn.err)
}

func TestHandle_MalformedPayloadSkipsRetry(t *testing.T) {
	h, tr, _ := newHandler()

	err := h.HandleProcessTransitions(context.Background(), asynq.NewTask(TypeProcessTransitions, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, tr.calls)
}

func TestRegisterHandlers(t *testing.T) {
	h, tr, sn := newHandler()
	mux := asynq.NewServeMux()
	h.RegisterHandlers(mux)

	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TypeProcessTransitions, nil)))
	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TypeUsageSnapshot, nil)))
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, 4, sn.concurrency)
}

func TestNewWorker_RequiresHandler(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisAddr: "localhost:6379"}, nil, logger.NewNop())
	assert.Error(t, err)
}
