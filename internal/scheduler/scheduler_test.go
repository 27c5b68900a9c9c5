package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerRunsEverySubmittedTask(t *testing.T) {
	t.Parallel()

	s := New(Config{Slots: 3, QueueHigh: 8}, zap.NewNop())
	defer s.Close()

	const total = 100
	var ran atomic.Int64
	ctx := context.Background()

	for i := 0; i < total; i++ {
		err := s.Submit(ctx, func(context.Context) error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	s.Drain()
	require.Equal(t, int64(total), ran.Load())
}

func TestSchedulerTaskRunsExactlyOnce(t *testing.T) {
	t.Parallel()

	s := New(Config{Slots: 2, QueueHigh: 4}, zap.NewNop())
	defer s.Close()

	counts := make([]atomic.Int64, 50)
	ctx := context.Background()
	for i := range counts {
		i := i
		require.NoError(t, s.Submit(ctx, func(context.Context) error {
			counts[i].Add(1)
			return nil
		}))
	}

	s.Drain()
	for i := range counts {
		require.Equal(t, int64(1), counts[i].Load(), "task %d", i)
	}
}

func TestSchedulerConcurrencyCap(t *testing.T) {
	t.Parallel()

	const slots = 2
	s := New(Config{Slots: slots, QueueHigh: 16}, zap.NewNop())
	defer s.Close()

	var active, peak atomic.Int64
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Submit(ctx, func(context.Context) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil
		}))
	}

	s.Drain()
	require.LessOrEqual(t, peak.Load(), int64(slots))
}

func TestSchedulerBackpressure(t *testing.T) {
	t.Parallel()

	s := New(Config{Slots: 1, QueueHigh: 1}, zap.NewNop())
	defer s.Close()

	release := make(chan struct{})
	blocker := func(context.Context) error {
		<-release
		return nil
	}

	ctx := context.Background()
	// One task occupies the slot, one sits with the dispatcher waiting for
	// it, one fills the queue buffer. The next submit must block.
	require.NoError(t, s.Submit(ctx, blocker))
	require.NoError(t, s.Submit(ctx, blocker))
	require.NoError(t, s.Submit(ctx, blocker))
	time.Sleep(20 * time.Millisecond)

	submitted := make(chan error, 1)
	go func() {
		submitted <- s.Submit(ctx, blocker)
	}()

	select {
	case err := <-submitted:
		t.Fatalf("submit should have blocked, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("submit never unblocked after capacity freed")
	}

	s.Drain()
}

func TestSchedulerSubmitCanceled(t *testing.T) {
	t.Parallel()

	s := New(Config{Slots: 1, QueueHigh: 1}, zap.NewNop())
	defer s.Close()

	release := make(chan struct{})
	blocker := func(context.Context) error {
		<-release
		return nil
	}
	require.NoError(t, s.Submit(context.Background(), blocker))
	require.NoError(t, s.Submit(context.Background(), blocker))
	require.NoError(t, s.Submit(context.Background(), blocker))
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Submit(ctx, blocker)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	s.Drain()
}

func TestSchedulerSurvivesPanicsAndErrors(t *testing.T) {
	t.Parallel()

	s := New(Config{Slots: 2, QueueHigh: 4}, zap.NewNop())
	defer s.Close()

	var ran atomic.Int64
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, func(context.Context) error {
		panic("boom")
	}))
	require.NoError(t, s.Submit(ctx, func(context.Context) error {
		return errors.New("task error")
	}))
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Submit(ctx, func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	s.Drain()
	require.Equal(t, int64(10), ran.Load())
}

func TestSchedulerCloseRejectsSubmit(t *testing.T) {
	t.Parallel()

	s := New(Config{Slots: 1, QueueHigh: 1}, zap.NewNop())
	s.Close()

	err := s.Submit(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestSchedulerDrainWaitsForExecuting(t *testing.T) {
	t.Parallel()

	s := New(Config{Slots: 1, QueueHigh: 4}, zap.NewNop())
	defer s.Close()

	var mu sync.Mutex
	done := false
	require.NoError(t, s.Submit(context.Background(), func(context.Context) error {
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		done = true
		mu.Unlock()
		return nil
	}))

	s.Drain()
	mu.Lock()
	defer mu.Unlock()
	require.True(t, done)
}
