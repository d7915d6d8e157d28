package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wealthpath/buckets/internal/service"
)

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) ReconcileAll(ctx context.Context) (service.ReconcileReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(service.ReconcileReport), args.Error(1)
}

type countingEvictor struct{ calls atomic.Int32 }

func (e *countingEvictor) EvictIdle(ctx context.Context) int {
	e.calls.Add(1)
	return 0
}

func TestScheduler_StartRegistersJobs(t *testing.T) {
	t.Parallel()

	s := New(DefaultConfig(), new(MockReconciler), &countingEvictor{}, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.True(t, s.IsRunning())
	assert.False(t, s.GetNextRunTime().IsZero())
	assert.True(t, s.GetLastRunTime().IsZero())
}

func TestScheduler_Disabled(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.EvictEvery = 0
	s := New(cfg, new(MockReconciler), nil, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.False(t, s.IsRunning())
	assert.True(t, s.GetNextRunTime().IsZero())
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Schedule = "not a cron"
	s := New(cfg, new(MockReconciler), nil, nil)
	assert.Error(t, s.Start())
}

func TestScheduler_RunNow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"failure is logged", errors.New("store down")},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := new(MockReconciler)
			done := make(chan struct{})
			r.On("ReconcileAll", mock.Anything).
				Return(service.ReconcileReport{Users: 3, Repaired: 1}, tt.err).
				Run(func(mock.Arguments) { close(done) })

			s := New(DefaultConfig(), r, nil, nil)
			s.RunNow()

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("reconcile job did not run")
			}
			r.AssertExpectations(t)
		})
	}
}

func TestScheduler_EvictsOnInterval(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.EvictEvery = time.Second
	e := &countingEvictor{}
	s := New(cfg, new(MockReconciler), e, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return e.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
