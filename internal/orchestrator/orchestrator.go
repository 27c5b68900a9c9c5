// Package orchestrator drives page traversal and the periodic revisit and
// reconciliation schedules.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"streamharvest/internal/harvest"
	"streamharvest/internal/orphan"
	"streamharvest/internal/scheduler"
	"streamharvest/internal/worker"
)

// Config controls traversal and schedule cadence.
type Config struct {
	DiscoverInterval  time.Duration
	RevisitInterval   time.Duration
	ReconcileInterval time.Duration
	Staleness         time.Duration
	MaxPages          int // 0 means paginate until the source reports not found
}

// Orchestrator submits one resolution task per discovered thread and keeps
// the revisit and reconciliation schedules ticking. Each schedule carries an
// in-flight flag so an overlapping tick is skipped instead of doubling up.
type Orchestrator struct {
	cfg     Config
	fetcher harvest.ThreadFetcher
	sched   *scheduler.Scheduler
	worker  *worker.Worker
	ledger  *orphan.Ledger
	store   harvest.Store
	clock   harvest.Clock
	logger  *zap.Logger

	discoverBusy  atomic.Bool
	revisitBusy   atomic.Bool
	reconcileBusy atomic.Bool
}

// New builds an Orchestrator.
func New(
	cfg Config,
	fetcher harvest.ThreadFetcher,
	sched *scheduler.Scheduler,
	w *worker.Worker,
	ledger *orphan.Ledger,
	store harvest.Store,
	clock harvest.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.DiscoverInterval <= 0 {
		cfg.DiscoverInterval = 30 * time.Minute
	}
	if cfg.RevisitInterval <= 0 {
		cfg.RevisitInterval = 6 * time.Hour
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = time.Hour
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = 72 * time.Hour
	}
	return &Orchestrator{
		cfg:     cfg,
		fetcher: fetcher,
		sched:   sched,
		worker:  w,
		ledger:  ledger,
		store:   store,
		clock:   clock,
		logger:  logger,
	}
}

// Run starts the three schedules and blocks until the context finishes.
// Discovery runs once immediately on startup.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup

	schedules := []struct {
		name     string
		interval time.Duration
		tick     func(context.Context)
		initial  bool
	}{
		{"discover", o.cfg.DiscoverInterval, o.discoverTick, true},
		{"revisit", o.cfg.RevisitInterval, o.revisitTick, false},
		{"reconcile", o.cfg.ReconcileInterval, o.reconcileTick, false},
	}

	for _, s := range schedules {
		wg.Add(1)
		go func(name string, interval time.Duration, tick func(context.Context), initial bool) {
			defer wg.Done()
			if initial {
				tick(ctx)
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					tick(ctx)
				}
			}
		}(s.name, s.interval, s.tick, s.initial)
	}

	wg.Wait()
}

func (o *Orchestrator) discoverTick(ctx context.Context) {
	if !o.discoverBusy.CompareAndSwap(false, true) {
		o.logger.Info("discover still running, skipping tick")
		return
	}
	defer o.discoverBusy.Store(false)
	if err := o.Discover(ctx); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Error("discover failed", zap.Error(err))
	}
}

func (o *Orchestrator) revisitTick(ctx context.Context) {
	if !o.revisitBusy.CompareAndSwap(false, true) {
		o.logger.Info("revisit still running, skipping tick")
		return
	}
	defer o.revisitBusy.Store(false)
	if err := o.Revisit(ctx); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Error("revisit failed", zap.Error(err))
	}
}

func (o *Orchestrator) reconcileTick(ctx context.Context) {
	if !o.reconcileBusy.CompareAndSwap(false, true) {
		o.logger.Info("reconcile still running, skipping tick")
		return
	}
	defer o.reconcileBusy.Store(false)
	if _, _, err := o.ledger.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Error("reconcile failed", zap.Error(err))
	}
}

// Discover traverses paginated listings until the source reports not found,
// submitting one resolution task per discovered thread.
func (o *Orchestrator) Discover(ctx context.Context) error {
	submitted := 0
	for page := 1; o.cfg.MaxPages == 0 || page <= o.cfg.MaxPages; page++ {
		links, err := o.fetcher.FetchListing(ctx, page)
		if errors.Is(err, harvest.ErrNotFound) {
			break
		}
		if err != nil {
			return fmt.Errorf("fetch listing page %d: %w", page, err)
		}
		for _, link := range links {
			if err := o.submit(ctx, link); err != nil {
				return err
			}
			submitted++
		}
	}
	o.logger.Info("discover pass submitted threads", zap.Int("count", submitted))
	return nil
}

// Revisit re-submits threads whose last visit exceeds the staleness
// threshold.
func (o *Orchestrator) Revisit(ctx context.Context) error {
	threads, err := o.store.Threads(ctx)
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}
	cutoff := o.clock.Now().Add(-o.cfg.Staleness)
	submitted := 0
	for _, t := range threads {
		if t.LastVisitedAt.After(cutoff) {
			continue
		}
		if err := o.submit(ctx, harvest.ThreadLink{URL: t.URL, Title: t.Title}); err != nil {
			return err
		}
		submitted++
	}
	o.logger.Info("revisit pass submitted threads", zap.Int("count", submitted))
	return nil
}

func (o *Orchestrator) submit(ctx context.Context, link harvest.ThreadLink) error {
	task := func(taskCtx context.Context) error {
		return o.worker.ProcessThread(taskCtx, link)
	}
	if err := o.sched.Submit(ctx, task); err != nil {
		return fmt.Errorf("submit thread %s: %w", link.URL, err)
	}
	return nil
}
