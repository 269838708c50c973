package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"example.com/vitals/internal/domain"
)

// Runner is the background aggregation task the gate starts and stops.
type Runner interface {
	Run(ctx context.Context) error
}

// Config holds the gate's cooldown thresholds.
type Config struct {
	// BulkDelay is the idle time required after a bulk historical import
	// before the worker starts.
	BulkDelay time.Duration
	// IncrementalDelay is the idle time required after a live push.
	IncrementalDelay time.Duration
}

// Gate debounces ingest events into worker starts. Aggregating after every
// sample of a multi-thousand-row backfill would recompute the same rollups
// repeatedly; the gate coalesces many ingest events into one pass.
//
// State machine: Idle ⇄ Running. Idle→Running only when ShouldStart holds;
// Running→Idle on explicit stop or when the worker exits for any reason,
// including a crash. The exit path must reset the started flag, or the
// worker could never restart.
type Gate struct {
	tracker *Tracker
	runner  Runner
	cfg     Config
	logger  *log.Logger
	parent  context.Context

	mu       sync.Mutex
	cooldown time.Duration
	timer    *time.Timer
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewGate constructs a Gate. The parent context bounds the lifetime of any
// worker the gate spawns; cancelling it stops a running worker.
func NewGate(parent context.Context, tracker *Tracker, runner Runner, cfg Config, logger *log.Logger) *Gate {
	if cfg.BulkDelay <= 0 {
		cfg.BulkDelay = 60 * time.Second
	}
	if cfg.IncrementalDelay <= 0 {
		cfg.IncrementalDelay = 15 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[gate] ", log.LstdFlags)
	}
	return &Gate{
		tracker:  tracker,
		runner:   runner,
		cfg:      cfg,
		logger:   logger,
		parent:   parent,
		cooldown: cfg.IncrementalDelay,
	}
}

// NotifyIngest records an ingest event and re-arms the debounce timer with
// the cooldown matching the ingest kind. Called after every submission.
func (g *Gate) NotifyIngest(kind domain.IngestKind) {
	g.tracker.Touch()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.cooldown = g.cfg.IncrementalDelay
	if kind == domain.IngestBulk {
		g.cooldown = g.cfg.BulkDelay
	}
	g.armLocked(g.cooldown)
}

// Evaluate starts the worker if the gate conditions hold, otherwise re-arms
// the debounce timer. The tracker invokes it when a sync operation ends.
func (g *Gate) Evaluate() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return
	}
	if g.tracker.HasActiveOperations() {
		g.armLocked(g.cooldown)
		return
	}
	if elapsed := g.tracker.TimeSinceLastActivity(); elapsed < g.cooldown {
		g.armLocked(g.cooldown - elapsed)
		return
	}
	g.startLocked()
}

// ShouldStart reports whether the worker may start right now: not already
// running, no sync operations in flight, and the cooldown elapsed.
func (g *Gate) ShouldStart() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.started &&
		!g.tracker.HasActiveOperations() &&
		g.tracker.TimeSinceLastActivity() >= g.cooldown
}

// StartWorker spawns the worker as a cancellable task. Calling it while the
// worker is already running is a no-op.
func (g *Gate) StartWorker() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		g.startLocked()
	}
}

func (g *Gate) startLocked() {
	ctx, cancel := context.WithCancel(g.parent)
	done := make(chan struct{})
	g.started = true
	g.cancel = cancel
	g.done = done

	go func() {
		err := g.runner.Run(ctx)
		g.workerExited(err)
		close(done)
	}()
}

func (g *Gate) workerExited(err error) {
	g.mu.Lock()
	g.started = false
	g.cancel = nil
	g.done = nil
	g.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Printf("aggregation worker crashed: %v", err)
	}
}

// StopWorker cancels the running worker and waits for it to exit. Safe to
// call when no worker is running.
func (g *Gate) StopWorker() {
	g.mu.Lock()
	cancel := g.cancel
	done := g.done
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the worker task is currently started.
func (g *Gate) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// Close stops the debounce timer and any running worker.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()
	g.StopWorker()
}

func (g *Gate) armLocked(delay time.Duration) {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(delay, g.Evaluate)
}
