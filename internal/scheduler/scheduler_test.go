package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stacmap/stac-crawler/internal/crawl"
	"github.com/stacmap/stac-crawler/internal/store"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type scriptedRunner struct {
	mu      sync.Mutex
	results []error
	calls   int
	cancel  context.CancelFunc
}

func (r *scriptedRunner) RunCycle(context.Context) (crawl.CycleReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.calls
	r.calls++
	if idx >= len(r.results) {
		if r.cancel != nil {
			r.cancel()
		}
		return crawl.CycleReport{}, context.Canceled
	}
	return crawl.CycleReport{RunID: fmt.Sprintf("run-%d", idx)}, r.results[idx]
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestSchedulerOnceRunsSingleCycle(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{results: []error{nil}}
	s := New(runner, systemClock{}, Config{Once: true}, zap.NewNop())

	err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, runner.callCount())
}

func TestSchedulerOncePropagatesFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("cycle failed")
	runner := &scriptedRunner{results: []error{boom}}
	s := New(runner, systemClock{}, Config{Once: true}, zap.NewNop())

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSchedulerHaltsOnStoreUnavailable(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{results: []error{
		fmt.Errorf("store ping: %w", store.ErrStoreUnavailable),
	}}
	s := New(runner, systemClock{}, Config{
		Interval:   time.Millisecond,
		ErrorRetry: time.Millisecond,
	}, zap.NewNop())

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Equal(t, 1, runner.callCount(), "no further cycle may be scheduled")
}

func TestSchedulerRetriesAfterCycleError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &scriptedRunner{
		results: []error{errors.New("transient"), nil},
		cancel:  cancel,
	}
	s := New(runner, systemClock{}, Config{
		Interval:   time.Millisecond,
		ErrorRetry: time.Millisecond,
	}, zap.NewNop())

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, runner.callCount(), 2, "failed cycle is retried")
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	runner := &scriptedRunner{results: []error{nil}}
	s := New(runner, systemClock{}, Config{Interval: time.Hour}, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Let the first cycle finish, then cancel during the long wait.
	assert.Eventually(t, func() bool { return runner.callCount() == 1 },
		time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}
