package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/vitals/internal/domain"
)

// RollupRepository persists the four rollup tables, one per granularity.
// Only the aggregation pass writes them.
type RollupRepository struct {
	pool *pgxpool.Pool
}

// NewRollupRepository constructs a RollupRepository.
func NewRollupRepository(pool *pgxpool.Pool) *RollupRepository {
	return &RollupRepository{pool: pool}
}

var granularityTables = map[domain.Granularity]string{
	domain.GranularityHourly:  "vitals_hourly",
	domain.GranularityDaily:   "vitals_daily",
	domain.GranularityWeekly:  "vitals_weekly",
	domain.GranularityMonthly: "vitals_monthly",
}

func tableFor(g domain.Granularity) (string, error) {
	table, ok := granularityTables[g]
	if !ok {
		return "", fmt.Errorf("unknown granularity: %s", g)
	}
	return table, nil
}

const rollupColumns = `user_id, metric_type, period_start, total_value, average_value,
        min_value, max_value, sample_count, duration_minutes, unit, primary_source,
        source_counts, workout_breakdown, created_at, updated_at`

// Upsert writes rollup rows for one granularity. A conflict on
// (user, metric, period) replaces the stats wholesale: rows are always
// recomputed by the aggregator, never patched in place here.
func (r *RollupRepository) Upsert(ctx context.Context, g domain.Granularity, rollups []domain.Rollup) error {
	if len(rollups) == 0 {
		return nil
	}
	table, err := tableFor(g)
	if err != nil {
		return err
	}

	stmt := `INSERT INTO ` + table + `
        (user_id, metric_type, period_start, total_value, average_value, min_value, max_value,
         sample_count, duration_minutes, unit, primary_source, source_counts, workout_breakdown,
         created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW())
        ON CONFLICT (user_id, metric_type, period_start) DO UPDATE SET
            total_value = EXCLUDED.total_value,
            average_value = EXCLUDED.average_value,
            min_value = EXCLUDED.min_value,
            max_value = EXCLUDED.max_value,
            sample_count = EXCLUDED.sample_count,
            duration_minutes = EXCLUDED.duration_minutes,
            unit = EXCLUDED.unit,
            primary_source = EXCLUDED.primary_source,
            source_counts = EXCLUDED.source_counts,
            workout_breakdown = EXCLUDED.workout_breakdown,
            updated_at = NOW()`

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	for _, rollup := range rollups {
		sourceCounts, marshalErr := json.Marshal(rollup.SourceCounts)
		if marshalErr != nil {
			err = marshalErr
			return err
		}
		var breakdown interface{}
		if rollup.WorkoutBreakdown != nil {
			encoded, marshalErr := json.Marshal(rollup.WorkoutBreakdown)
			if marshalErr != nil {
				err = marshalErr
				return err
			}
			breakdown = encoded
		}

		if _, err = tx.Exec(ctx, stmt,
			rollup.UserID,
			rollup.MetricType,
			rollup.PeriodStart,
			rollup.TotalValue,
			rollup.AverageValue,
			rollup.MinValue,
			rollup.MaxValue,
			rollup.SampleCount,
			rollup.DurationMinutes,
			rollup.Unit,
			rollup.PrimarySource(),
			sourceCounts,
			breakdown,
		); err != nil {
			return err
		}
	}

	err = tx.Commit(ctx)
	return err
}

// Get fetches specific rollup rows by key, returning only those that exist.
func (r *RollupRepository) Get(ctx context.Context, g domain.Granularity, keys []domain.RollupKey) (map[domain.RollupKey]domain.Rollup, error) {
	table, err := tableFor(g)
	if err != nil {
		return nil, err
	}

	// Group the wanted periods per (user, metric) so one query serves each
	// pair regardless of how many periods the batch touched.
	type pair struct {
		userID string
		metric domain.MetricType
	}
	periods := make(map[pair][]time.Time)
	for _, key := range keys {
		p := pair{userID: key.UserID, metric: key.MetricType}
		periods[p] = append(periods[p], key.PeriodStart)
	}

	query := `SELECT ` + rollupColumns + ` FROM ` + table + `
        WHERE user_id = $1 AND metric_type = $2 AND period_start = ANY($3)`

	out := make(map[domain.RollupKey]domain.Rollup, len(keys))
	for p, starts := range periods {
		rows, queryErr := r.pool.Query(ctx, query, p.userID, p.metric, starts)
		if queryErr != nil {
			return nil, queryErr
		}
		for rows.Next() {
			rollup, scanErr := scanRollup(rows)
			if scanErr != nil {
				rows.Close()
				return nil, scanErr
			}
			out[rollup.Key()] = rollup
		}
		rowsErr := rows.Err()
		rows.Close()
		if rowsErr != nil {
			return nil, rowsErr
		}
	}
	return out, nil
}

// ListRange returns rollup rows for one user and metric whose period start
// falls within [from, to).
func (r *RollupRepository) ListRange(ctx context.Context, g domain.Granularity, userID string, metric domain.MetricType, from, to time.Time) ([]domain.Rollup, error) {
	table, err := tableFor(g)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + rollupColumns + ` FROM ` + table + `
        WHERE user_id = $1 AND metric_type = $2 AND period_start >= $3 AND period_start < $4
        ORDER BY period_start`

	rows, err := r.pool.Query(ctx, query, userID, metric, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Rollup, 0)
	for rows.Next() {
		rollup, scanErr := scanRollup(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, rollup)
	}
	return out, rows.Err()
}

func scanRollup(rows pgx.Rows) (domain.Rollup, error) {
	var (
		rollup       domain.Rollup
		primary      string
		sourceCounts []byte
		breakdown    []byte
	)
	err := rows.Scan(
		&rollup.UserID,
		&rollup.MetricType,
		&rollup.PeriodStart,
		&rollup.TotalValue,
		&rollup.AverageValue,
		&rollup.MinValue,
		&rollup.MaxValue,
		&rollup.SampleCount,
		&rollup.DurationMinutes,
		&rollup.Unit,
		&primary,
		&sourceCounts,
		&breakdown,
		&rollup.CreatedAt,
		&rollup.UpdatedAt,
	)
	if err != nil {
		return domain.Rollup{}, err
	}

	rollup.PeriodStart = rollup.PeriodStart.UTC()
	if len(sourceCounts) > 0 {
		if err := json.Unmarshal(sourceCounts, &rollup.SourceCounts); err != nil {
			return domain.Rollup{}, fmt.Errorf("decode source_counts: %w", err)
		}
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &rollup.WorkoutBreakdown); err != nil {
			return domain.Rollup{}, fmt.Errorf("decode workout_breakdown: %w", err)
		}
	}
	return rollup, nil
}
