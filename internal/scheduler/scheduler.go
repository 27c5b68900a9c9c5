// Package scheduler implements the bounded-concurrency task pool that drives
// the crawl pipeline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"streamharvest/internal/metrics"
)

// Task is one unit of pipeline work, run end-to-end on a single executor.
type Task func(ctx context.Context) error

// Config controls pool sizing.
type Config struct {
	Slots     int // fixed executor slots
	QueueHigh int // pending queue high-water mark
}

// Scheduler dispatches queued tasks to a fixed number of executor slots.
// Submit blocks when the pending queue is at its high-water mark, so
// producers feel backpressure instead of growing the queue unbounded.
// A task is dispatched to a freshly spawned goroutine; a panicking task
// frees its slot rather than crashing the pool.
type Scheduler struct {
	queue  chan Task
	slots  chan struct{}
	logger *zap.Logger

	wg      sync.WaitGroup // queued + executing tasks
	loopWG  sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// New builds a Scheduler and starts its dispatch loop.
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Slots <= 0 {
		cfg.Slots = 4
	}
	if cfg.QueueHigh <= 0 {
		cfg.QueueHigh = 200
	}
	s := &Scheduler{
		queue:  make(chan Task, cfg.QueueHigh),
		slots:  make(chan struct{}, cfg.Slots),
		logger: logger,
	}
	s.loopWG.Add(1)
	go s.dispatch()
	return s
}

// Submit enqueues a task. It blocks while the queue is at capacity and
// returns an error only when the context ends first or the scheduler is
// closed; an accepted task is never lost.
func (s *Scheduler) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return errors.New("scheduler closed")
	}
	s.wg.Add(1)
	s.closeMu.Unlock()

	select {
	case <-ctx.Done():
		s.wg.Done()
		return fmt.Errorf("submit canceled: %w", ctx.Err())
	case s.queue <- task:
		metrics.SetQueueDepth(len(s.queue))
		return nil
	}
}

// Drain blocks until every submitted task, queued or executing, completes.
func (s *Scheduler) Drain() {
	s.wg.Wait()
}

// Close stops the dispatch loop after in-flight work finishes. Submit fails
// afterwards.
func (s *Scheduler) Close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	s.closeMu.Unlock()

	s.wg.Wait()
	close(s.queue)
	s.loopWG.Wait()
}

func (s *Scheduler) dispatch() {
	defer s.loopWG.Done()
	for task := range s.queue {
		metrics.SetQueueDepth(len(s.queue))
		s.slots <- struct{}{}
		metrics.SetActiveExecutors(len(s.slots))
		go s.run(task)
	}
}

// run executes exactly one task on a fresh goroutine. Completion, error and
// panic all free the slot exactly once.
func (s *Scheduler) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", zap.Any("panic", r))
			metrics.TaskFinished("panic")
		}
		<-s.slots
		metrics.SetActiveExecutors(len(s.slots))
		s.wg.Done()
	}()

	if err := task(context.Background()); err != nil {
		s.logger.Warn("task failed", zap.Error(err))
		metrics.TaskFinished("error")
		return
	}
	metrics.TaskFinished("ok")
}
