// Package worker runs the background aggregation loop: claim pending raw
// samples, roll them up across the four granularities, and mark them done.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/vitals/internal/aggregation"
	"example.com/vitals/internal/domain"
	"example.com/vitals/internal/events"
	"example.com/vitals/internal/observability"
)

// RawStore captures the raw-sample operations the worker needs.
type RawStore interface {
	ClaimPending(ctx context.Context, limit int) ([]domain.RawSample, error)
	ListForAggregation(ctx context.Context, userID string, metric domain.MetricType, from, to time.Time) ([]domain.RawSample, error)
	Mark(ctx context.Context, ids []string, status domain.AggregationStatus) error
	ResetStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RollupStore captures the rollup operations the worker needs.
type RollupStore interface {
	Upsert(ctx context.Context, g domain.Granularity, rollups []domain.Rollup) error
	ListRange(ctx context.Context, g domain.Granularity, userID string, metric domain.MetricType, from, to time.Time) ([]domain.Rollup, error)
}

// Publisher emits rollup-change notifications after a successful batch.
type Publisher interface {
	PublishRollupsUpdated(ctx context.Context, updates []events.RollupUpdate) error
}

// Config holds worker tunables.
type Config struct {
	// BatchSize is the number of rows claimed per pass.
	BatchSize int
	// Tick is the sleep between passes.
	Tick time.Duration
	// ProcessPendingOnStartup drains the backlog before the first tick,
	// picking up rows left behind by a previous crash.
	ProcessPendingOnStartup bool
	// StaleClaimTimeout is how long a row may sit in processing before the
	// staleness sweep reverts it to pending.
	StaleClaimTimeout time.Duration
	// MaxRowFailures is the consecutive-failure cap before a row is
	// quarantined to keep poison rows from looping forever.
	MaxRowFailures int
}

// Worker is the long-lived aggregation task. One instance runs per process;
// multiple processes are safe because claiming is atomic.
type Worker struct {
	raw       RawStore
	rollups   RollupStore
	publisher Publisher
	cfg       Config
	logger    *log.Logger

	// failureCounts tracks consecutive failures per row, held in memory as
	// the row itself only records its lifecycle status.
	failureCounts map[string]int
	lastSweep     time.Time
}

// New constructs a Worker. publisher may be nil when no broker is
// configured.
func New(raw RawStore, rollups RollupStore, publisher Publisher, cfg Config, logger *log.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20000
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Second
	}
	if cfg.StaleClaimTimeout <= 0 {
		cfg.StaleClaimTimeout = 10 * time.Minute
	}
	if cfg.MaxRowFailures <= 0 {
		cfg.MaxRowFailures = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[worker] ", log.LstdFlags)
	}
	return &Worker{
		raw:           raw,
		rollups:       rollups,
		publisher:     publisher,
		cfg:           cfg,
		logger:        logger,
		failureCounts: make(map[string]int),
	}
}

// Run executes the scheduling loop until the context is cancelled. Batch
// failures are absorbed (rows revert to pending for retry); only
// cancellation ends the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.sweepStale(ctx)

	if w.cfg.ProcessPendingOnStartup {
		if err := w.drain(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if time.Since(w.lastSweep) >= w.cfg.StaleClaimTimeout {
			w.sweepStale(ctx)
		}

		if _, err := w.processBatch(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			w.logger.Printf("batch failed: %v", err)
		}
	}
}

// drain processes batches back to back until the pending set is empty.
func (w *Worker) drain(ctx context.Context) error {
	for {
		processed, err := w.processBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			w.logger.Printf("startup batch failed: %v", err)
			return nil
		}
		if processed == 0 {
			return nil
		}
	}
}

func (w *Worker) sweepStale(ctx context.Context) {
	w.lastSweep = time.Now()
	reclaimed, err := w.raw.ResetStale(ctx, w.cfg.StaleClaimTimeout)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Printf("stale sweep failed: %v", err)
		}
		return
	}
	if reclaimed > 0 {
		staleReclaimed.Add(float64(reclaimed))
		w.logger.Printf("reclaimed %d stale processing rows", reclaimed)
	}
}

// processBatch claims one batch, aggregates it across all granularities,
// and marks the rows. It returns the number of rows claimed.
func (w *Worker) processBatch(ctx context.Context) (int, error) {
	start := time.Now()

	samples, err := w.raw.ClaimPending(ctx, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim pending: %w", err)
	}
	if len(samples) == 0 {
		return 0, nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	ids := make([]string, len(samples))
	for i, sample := range samples {
		ids[i] = sample.ID
	}

	touched, err := w.aggregate(ctx, samples)
	if err != nil {
		w.failBatch(ctx, ids)
		batchesTotal.WithLabelValues("failure").Inc()
		return len(samples), fmt.Errorf("aggregate batch: %w", err)
	}

	if err := w.raw.Mark(ctx, ids, domain.StatusCompleted); err != nil {
		w.failBatch(ctx, ids)
		batchesTotal.WithLabelValues("failure").Inc()
		return len(samples), fmt.Errorf("mark completed: %w", err)
	}

	for _, id := range ids {
		delete(w.failureCounts, id)
	}
	rowsProcessed.Add(float64(len(samples)))
	batchesTotal.WithLabelValues("success").Inc()
	observability.RecordRollupsWritten(time.Now().UTC())

	w.publish(ctx, touched)
	return len(samples), nil
}

// aggregate recomputes the hourly rollups for every hour the batch touched,
// then re-reduces daily, weekly, and monthly rollups for the affected
// periods. Hourly rows are always rebuilt from the raw rows of the hour
// (completed rows from earlier batches plus every claimed row), never
// merged incrementally: replaying a batch after a crash or a failed mark
// reproduces identical rows instead of double counting, and concurrent
// workers touching the same hour converge because each write derives from
// the full raw set. Coarser granularities are recomputed from the
// next-finer rollup rows, never from the raw samples.
func (w *Worker) aggregate(ctx context.Context, samples []domain.RawSample) ([]events.RollupUpdate, error) {
	claimed := aggregation.BuildHourly(samples)

	touched := make([]events.RollupUpdate, 0)
	now := time.Now().UTC()

	for _, span := range spansOf(claimed) {
		hourFrom := domain.HourStart(span.from)
		hourTo := domain.HourStart(span.to).Add(time.Hour)

		raw, err := w.raw.ListForAggregation(ctx, span.userID, span.metric, hourFrom, hourTo)
		if err != nil {
			return nil, fmt.Errorf("read raw rows: %w", err)
		}
		hourly := aggregation.BuildHourly(raw)
		if err := w.rollups.Upsert(ctx, domain.GranularityHourly, hourly); err != nil {
			return nil, fmt.Errorf("upsert hourly: %w", err)
		}

		dayFrom := domain.DayStart(span.from)
		dayTo := domain.DayStart(span.to).AddDate(0, 0, 1)

		hourlyRows, err := w.rollups.ListRange(ctx, domain.GranularityHourly, span.userID, span.metric, dayFrom, dayTo)
		if err != nil {
			return nil, fmt.Errorf("read hourly range: %w", err)
		}
		daily := aggregation.Reduce(domain.GranularityDaily, hourlyRows)
		if err := w.rollups.Upsert(ctx, domain.GranularityDaily, daily); err != nil {
			return nil, fmt.Errorf("upsert daily: %w", err)
		}

		weekFrom := domain.WeekStart(span.from)
		weekTo := domain.WeekStart(span.to).AddDate(0, 0, 7)
		monthFrom := domain.MonthStart(span.from)
		monthTo := domain.MonthStart(span.to).AddDate(0, 1, 0)

		coarseFrom, coarseTo := weekFrom, weekTo
		if monthFrom.Before(coarseFrom) {
			coarseFrom = monthFrom
		}
		if monthTo.After(coarseTo) {
			coarseTo = monthTo
		}
		dailyRows, err := w.rollups.ListRange(ctx, domain.GranularityDaily, span.userID, span.metric, coarseFrom, coarseTo)
		if err != nil {
			return nil, fmt.Errorf("read daily range: %w", err)
		}

		weekly := aggregation.Reduce(domain.GranularityWeekly, inRange(dailyRows, weekFrom, weekTo))
		if err := w.rollups.Upsert(ctx, domain.GranularityWeekly, weekly); err != nil {
			return nil, fmt.Errorf("upsert weekly: %w", err)
		}

		monthly := aggregation.Reduce(domain.GranularityMonthly, inRange(dailyRows, monthFrom, monthTo))
		if err := w.rollups.Upsert(ctx, domain.GranularityMonthly, monthly); err != nil {
			return nil, fmt.Errorf("upsert monthly: %w", err)
		}

		for _, day := range daily {
			touched = append(touched, events.RollupUpdate{
				UserID:     day.UserID,
				MetricType: day.MetricType,
				Day:        day.PeriodStart,
				UpdatedAt:  now,
			})
		}
	}

	return touched, nil
}

// failBatch reverts rows to pending for retry, quarantining rows that have
// now failed too many consecutive times.
func (w *Worker) failBatch(ctx context.Context, ids []string) {
	retry := make([]string, 0, len(ids))
	quarantine := make([]string, 0)
	for _, id := range ids {
		w.failureCounts[id]++
		if w.failureCounts[id] >= w.cfg.MaxRowFailures {
			quarantine = append(quarantine, id)
		} else {
			retry = append(retry, id)
		}
	}

	if len(retry) > 0 {
		if err := w.raw.Mark(ctx, retry, domain.StatusPending); err != nil {
			w.logger.Printf("revert to pending failed: %v", err)
		}
		rowsFailed.Add(float64(len(retry)))
	}
	if len(quarantine) > 0 {
		if err := w.raw.Mark(ctx, quarantine, domain.StatusFailed); err != nil {
			w.logger.Printf("quarantine failed: %v", err)
		}
		for _, id := range quarantine {
			delete(w.failureCounts, id)
		}
		rowsQuarantined.Add(float64(len(quarantine)))
		w.logger.Printf("quarantined %d rows after %d consecutive failures", len(quarantine), w.cfg.MaxRowFailures)
	}
}

func (w *Worker) publish(ctx context.Context, updates []events.RollupUpdate) {
	if w.publisher == nil || len(updates) == 0 {
		return
	}
	if err := w.publisher.PublishRollupsUpdated(ctx, updates); err != nil {
		// Best effort: the scoring engine reads aggregates from Postgres, a
		// lost notification only delays it.
		publishFailures.Inc()
		w.logger.Printf("publish rollup updates failed: %v", err)
	}
}

// span is the time range one (user, metric) pair touched in a batch.
type span struct {
	userID string
	metric domain.MetricType
	from   time.Time
	to     time.Time
}

func spansOf(hourly []domain.Rollup) []span {
	type pair struct {
		userID string
		metric domain.MetricType
	}
	byPair := make(map[pair]*span)
	order := make([]pair, 0)
	for _, rollup := range hourly {
		p := pair{userID: rollup.UserID, metric: rollup.MetricType}
		s, ok := byPair[p]
		if !ok {
			byPair[p] = &span{userID: p.userID, metric: p.metric, from: rollup.PeriodStart, to: rollup.PeriodStart}
			order = append(order, p)
			continue
		}
		if rollup.PeriodStart.Before(s.from) {
			s.from = rollup.PeriodStart
		}
		if rollup.PeriodStart.After(s.to) {
			s.to = rollup.PeriodStart
		}
	}

	out := make([]span, 0, len(byPair))
	for _, p := range order {
		out = append(out, *byPair[p])
	}
	return out
}

func inRange(rows []domain.Rollup, from, to time.Time) []domain.Rollup {
	out := make([]domain.Rollup, 0, len(rows))
	for _, row := range rows {
		if !row.PeriodStart.Before(from) && row.PeriodStart.Before(to) {
			out = append(out, row)
		}
	}
	return out
}
