package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/staffsync/db"
)

// TickerConfig contains ticker tuning.
type TickerConfig struct {
	// Interval is the fixed poll period.
	Interval time.Duration
	// BatchLimit caps how many due jobs one tick fetches.
	BatchLimit int
}

// DefaultTickerConfig returns the engine default: poll every 5s, up to 25
// jobs per tick.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:   5 * time.Second,
		BatchLimit: 25,
	}
}

// Ticker polls the store at a fixed interval and hands due jobs to the
// executor. Ticks are serialized: if a tick is still in progress when the
// interval fires again, the new tick is skipped rather than queued, so a
// slow database round trip never stacks concurrent polls.
type Ticker struct {
	store    *Store
	executor *Executor
	cfg      TickerConfig
	log      *zap.SugaredLogger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  atomic.Bool
	ticking  atomic.Bool
	tickSeen atomic.Int64
}

// NewTicker creates a ticker over the given store and executor.
func NewTicker(store *Store, executor *Executor, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if cfg.BatchLimit < 1 {
		cfg.BatchLimit = DefaultTickerConfig().BatchLimit
	}
	return &Ticker{
		store:    store,
		executor: executor,
		cfg:      cfg,
		log:      log,
	}
}

// Start begins the poll loop. Calling Start on a running ticker is a no-op.
func (t *Ticker) Start(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go t.run()

	t.log.Infow("Ticker started",
		"interval", t.cfg.Interval,
		"batch_limit", t.cfg.BatchLimit)
}

// Stop halts polling and waits for the loop goroutine to exit. In-flight
// jobs are not interrupted; callers drain them via Executor.Wait.
func (t *Ticker) Stop() {
	if !t.running.CompareAndSwap(true, false) {
		return
	}
	t.cancel()
	t.wg.Wait()
	t.log.Infow("Ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	// Immediate first tick so a restart with a due backlog does not idle
	// for a full interval.
	t.Tick()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}

// Tick performs one poll-and-dispatch pass. Exported so the daemon and
// tests can force a pass without waiting for the interval. Returns the
// number of jobs dispatched; a pass that overlaps a still-running tick is
// skipped and returns 0.
func (t *Ticker) Tick() int {
	if !t.ticking.CompareAndSwap(false, true) {
		t.log.Debugw("Skipping tick, previous tick still in progress")
		return 0
	}
	defer t.ticking.Store(false)
	t.tickSeen.Add(1)

	jobs, err := t.store.FetchDueJobs(time.Now(), t.cfg.BatchLimit)
	if err != nil {
		if db.IsDatabaseClosed(err) {
			return 0
		}
		t.log.Errorw("Failed to fetch due jobs", "error", err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	dispatched := 0
	for _, job := range jobs {
		if t.ctx != nil && t.ctx.Err() != nil {
			break
		}
		ctx := t.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if t.executor.Dispatch(ctx, job) {
			dispatched++
		} else {
			// Ceiling reached or job already in flight. Remaining due jobs
			// stay pending for the next tick.
			t.log.Debugw("Dispatch deferred",
				"job_id", job.ID,
				"in_flight", t.executor.InFlight())
		}
	}

	if dispatched > 0 {
		t.log.Debugw("Tick dispatched jobs",
			"due", len(jobs),
			"dispatched", dispatched)
	}
	return dispatched
}

// Ticks returns how many poll passes have started. Used by tests and the
// daemon status output.
func (t *Ticker) Ticks() int64 {
	return t.tickSeen.Load()
}
