package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownMetric is returned when a sample names an unsupported metric.
	ErrUnknownMetric = errors.New("unknown metric type")
	// ErrInvalidSource is returned when a sample names an unsupported source.
	ErrInvalidSource = errors.New("invalid data source")
)

// SubmitOutcome reports what the raw store did with one sample.
type SubmitOutcome string

const (
	OutcomeInserted  SubmitOutcome = "inserted"
	OutcomeDuplicate SubmitOutcome = "duplicate"
)

// RawSampleRepository captures persistence operations on raw samples used by
// the ingestion path.
type RawSampleRepository interface {
	Submit(ctx context.Context, sample RawSample) (SubmitOutcome, error)
	SummaryByUser(ctx context.Context, userID string) (IngestionSummary, error)
}

// RollupReader serves the read API. Reads never trigger aggregation.
type RollupReader interface {
	ListRange(ctx context.Context, g Granularity, userID string, metric MetricType, from, to time.Time) ([]Rollup, error)
}

// ActivityTracker receives sync operation lifecycle hooks from ingestion.
type ActivityTracker interface {
	Start(userID, operationID string)
	End(userID, operationID string)
}

// IngestKind selects which cooldown the aggregation gate applies.
type IngestKind int

const (
	// IngestIncremental is a live push of a handful of samples.
	IngestIncremental IngestKind = iota
	// IngestBulk is part of a large historical backfill.
	IngestBulk
)

// IngestGate is notified after every ingest event so it can debounce the
// background aggregation worker.
type IngestGate interface {
	NotifyIngest(kind IngestKind)
}

// Service orchestrates the ingestion and read workflows.
type Service struct {
	raw     RawSampleRepository
	rollups RollupReader
	tracker ActivityTracker
	gate    IngestGate
}

// NewService constructs a Service.
func NewService(raw RawSampleRepository, rollups RollupReader, tracker ActivityTracker, gate IngestGate) *Service {
	return &Service{raw: raw, rollups: rollups, tracker: tracker, gate: gate}
}

// SampleInput captures one sample from the API layer.
type SampleInput struct {
	UserID          string
	MetricType      MetricType
	Value           float64
	Unit            string
	StartDate       time.Time
	EndDate         time.Time
	DataSource      DataSource
	SourceDevice    string
	Notes           string
	ConfidenceScore *float64
}

// ChunkInfo signals that a submission is one chunk of a large backfill.
type ChunkInfo struct {
	SessionID    string
	ChunkNumber  int
	TotalChunks  int
	IsFinalChunk bool
}

// BatchResult summarises a bulk submission.
type BatchResult struct {
	Inserted   int
	Duplicates int
}

// IngestionSummary describes the state of a user's raw-sample pipeline.
type IngestionSummary struct {
	Pending       int
	Processing    int
	Completed     int
	Failed        int
	OldestPending *time.Time
	LastSampleAt  *time.Time
}

// SubmitSamples inserts a batch with dedup semantics, maintains the sync
// activity registry from the chunk metadata, and notifies the aggregation
// gate. Submission is fire-and-forget with respect to aggregation: it
// returns as soon as the rows are durable.
func (s *Service) SubmitSamples(ctx context.Context, userID string, inputs []SampleInput, chunk *ChunkInfo) (BatchResult, error) {
	kind := IngestIncremental
	if chunk != nil {
		kind = IngestBulk
		if chunk.ChunkNumber <= 1 {
			s.tracker.Start(userID, chunk.SessionID)
		}
	}

	var result BatchResult
	now := time.Now().UTC()
	for _, input := range inputs {
		sample, err := s.buildSample(userID, input, now)
		if err != nil {
			return result, err
		}
		outcome, err := s.raw.Submit(ctx, sample)
		if err != nil {
			return result, fmt.Errorf("submit sample: %w", err)
		}
		if outcome == OutcomeDuplicate {
			result.Duplicates++
		} else {
			result.Inserted++
		}
	}

	if chunk != nil && chunk.IsFinalChunk {
		s.tracker.End(userID, chunk.SessionID)
	}
	s.gate.NotifyIngest(kind)

	return result, nil
}

func (s *Service) buildSample(userID string, input SampleInput, now time.Time) (RawSample, error) {
	if !input.MetricType.Known() {
		return RawSample{}, fmt.Errorf("%w: %s", ErrUnknownMetric, input.MetricType)
	}
	if !ValidSource(input.DataSource) {
		return RawSample{}, fmt.Errorf("%w: %s", ErrInvalidSource, input.DataSource)
	}

	end := input.EndDate
	if end.IsZero() {
		end = input.StartDate
	}

	return RawSample{
		ID:              uuid.NewString(),
		UserID:          userID,
		MetricType:      input.MetricType,
		Value:           input.Value,
		Unit:            input.Unit,
		StartDate:       input.StartDate.UTC(),
		EndDate:         end.UTC(),
		DataSource:      input.DataSource,
		SourceDevice:    input.SourceDevice,
		Notes:           input.Notes,
		ConfidenceScore: input.ConfidenceScore,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// ReadAggregates returns rollup rows for the requested range.
func (s *Service) ReadAggregates(ctx context.Context, g Granularity, userID string, metric MetricType, from, to time.Time) ([]Rollup, error) {
	return s.rollups.ListRange(ctx, g, userID, metric, from, to)
}

// IngestionStatus reports pipeline state for a user's dashboard.
func (s *Service) IngestionStatus(ctx context.Context, userID string) (IngestionSummary, error) {
	return s.raw.SummaryByUser(ctx, userID)
}
