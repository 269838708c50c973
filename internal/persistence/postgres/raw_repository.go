// Package postgres provides pgx-backed persistence for raw samples and
// rollups.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/vitals/internal/domain"
	"example.com/vitals/internal/observability"
)

// RawRepository persists raw vital samples.
type RawRepository struct {
	pool *pgxpool.Pool
}

// NewRawRepository constructs a RawRepository.
func NewRawRepository(pool *pgxpool.Pool) *RawRepository {
	return &RawRepository{pool: pool}
}

const rawColumns = `sample_id, user_id, metric_type, value, unit, start_date, end_date,
        data_source, COALESCE(source_device, ''), COALESCE(notes, ''), confidence_score,
        aggregation_status, aggregated_at, created_at, updated_at`

// Submit inserts a sample. A collision on the dedup key — (user, metric,
// unit, start date, source, notes) — is reported as a duplicate outcome,
// not an error: upstream sources routinely resend overlapping windows.
func (r *RawRepository) Submit(ctx context.Context, sample domain.RawSample) (domain.SubmitOutcome, error) {
	const stmt = `INSERT INTO vitals_raw
        (sample_id, user_id, metric_type, value, unit, start_date, end_date,
         data_source, source_device, notes, confidence_score, aggregation_status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT DO NOTHING`

	tag, err := r.pool.Exec(ctx, stmt,
		sample.ID,
		sample.UserID,
		sample.MetricType,
		sample.Value,
		sample.Unit,
		sample.StartDate,
		sample.EndDate,
		sample.DataSource,
		nullIfEmpty(sample.SourceDevice),
		nullIfEmpty(sample.Notes),
		sample.ConfidenceScore,
		sample.Status,
		sample.CreatedAt,
		sample.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert raw sample: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.OutcomeDuplicate, nil
	}
	observability.RecordSampleIngested(sample.CreatedAt)
	return domain.OutcomeInserted, nil
}

// ClaimPending atomically selects up to limit pending rows and flips them to
// processing inside one transaction. SKIP LOCKED guarantees concurrent
// claimants receive disjoint row sets.
func (r *RawRepository) ClaimPending(ctx context.Context, limit int) ([]domain.RawSample, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `SELECT ` + rawColumns + `
        FROM vitals_raw
        WHERE aggregation_status = 'pending'
        ORDER BY start_date
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := make([]domain.RawSample, 0)
	ids := make([]string, 0)
	for rows.Next() {
		sample, scanErr := scanRawSample(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		samples = append(samples, sample)
		ids = append(ids, sample.ID)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err = tx.Exec(ctx,
		`UPDATE vitals_raw SET aggregation_status = 'processing', updated_at = NOW() WHERE sample_id = ANY($1)`,
		ids,
	); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return samples, nil
}

// ListForAggregation returns the raw rows that contribute to rollups for
// one user and metric with start dates in [from, to): completed rows from
// earlier batches plus rows currently claimed by any worker. Pending and
// quarantined rows are excluded.
func (r *RawRepository) ListForAggregation(ctx context.Context, userID string, metric domain.MetricType, from, to time.Time) ([]domain.RawSample, error) {
	query := `SELECT ` + rawColumns + `
        FROM vitals_raw
        WHERE user_id = $1 AND metric_type = $2
          AND start_date >= $3 AND start_date < $4
          AND aggregation_status IN ('processing', 'completed')
        ORDER BY start_date`

	rows, err := r.pool.Query(ctx, query, userID, metric, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := make([]domain.RawSample, 0)
	for rows.Next() {
		sample, scanErr := scanRawSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// Mark transitions claimed rows to the given status. Completing a row also
// stamps aggregated_at.
func (r *RawRepository) Mark(ctx context.Context, ids []string, status domain.AggregationStatus) error {
	if len(ids) == 0 {
		return nil
	}

	const stmt = `UPDATE vitals_raw
        SET aggregation_status = $2,
            updated_at = NOW(),
            aggregated_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE aggregated_at END
        WHERE sample_id = ANY($1)`

	_, err := r.pool.Exec(ctx, stmt, ids, status)
	return err
}

// ResetStale reverts processing rows whose claim is older than olderThan
// back to pending, recovering rows stranded by a mid-batch crash.
func (r *RawRepository) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	const stmt = `UPDATE vitals_raw
        SET aggregation_status = 'pending', updated_at = NOW()
        WHERE aggregation_status = 'processing' AND updated_at < NOW() - $1::interval`

	tag, err := r.pool.Exec(ctx, stmt, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PendingCount returns the number of rows awaiting aggregation.
func (r *RawRepository) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM vitals_raw WHERE aggregation_status = 'pending'`,
	).Scan(&count)
	return count, err
}

// SummaryByUser reports pipeline status counts for one user's samples.
func (r *RawRepository) SummaryByUser(ctx context.Context, userID string) (domain.IngestionSummary, error) {
	const query = `SELECT
            COUNT(*) FILTER (WHERE aggregation_status = 'pending'),
            COUNT(*) FILTER (WHERE aggregation_status = 'processing'),
            COUNT(*) FILTER (WHERE aggregation_status = 'completed'),
            COUNT(*) FILTER (WHERE aggregation_status = 'failed'),
            MIN(created_at) FILTER (WHERE aggregation_status = 'pending'),
            MAX(created_at)
        FROM vitals_raw WHERE user_id = $1`

	var summary domain.IngestionSummary
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&summary.Pending,
		&summary.Processing,
		&summary.Completed,
		&summary.Failed,
		&summary.OldestPending,
		&summary.LastSampleAt,
	)
	if err != nil {
		return domain.IngestionSummary{}, err
	}
	return summary, nil
}

func scanRawSample(rows pgx.Rows) (domain.RawSample, error) {
	var sample domain.RawSample
	err := rows.Scan(
		&sample.ID,
		&sample.UserID,
		&sample.MetricType,
		&sample.Value,
		&sample.Unit,
		&sample.StartDate,
		&sample.EndDate,
		&sample.DataSource,
		&sample.SourceDevice,
		&sample.Notes,
		&sample.ConfidenceScore,
		&sample.Status,
		&sample.AggregatedAt,
		&sample.CreatedAt,
		&sample.UpdatedAt,
	)
	return sample, err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
