// Package api exposes HTTP handlers for the vitals service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/vitals/internal/auth"
	"example.com/vitals/internal/domain"
)

// maxSamplesPerRequest bounds one submission body. Larger imports are
// expected to arrive chunked.
const maxSamplesPerRequest = 5000

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/vitals", h.vitals)
	mux.HandleFunc("/v1/vitals/aggregates", h.aggregates)
	mux.HandleFunc("/v1/vitals/status", h.status)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) vitals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.submitVitals(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) submitVitals(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeVitalsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope vitals:write required")
		return
	}

	var req SubmitVitalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	inputs := make([]domain.SampleInput, 0, len(req.Samples))
	for _, sample := range req.Samples {
		inputs = append(inputs, sample.toInput())
	}

	var chunk *domain.ChunkInfo
	if req.ChunkInfo != nil {
		chunk = &domain.ChunkInfo{
			SessionID:    req.ChunkInfo.SessionID,
			ChunkNumber:  req.ChunkInfo.ChunkNumber,
			TotalChunks:  req.ChunkInfo.TotalChunks,
			IsFinalChunk: req.ChunkInfo.IsFinalChunk,
		}
	}

	result, err := h.service.SubmitSamples(r.Context(), claims.Subject, inputs, chunk)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownMetric) || errors.Is(err, domain.ErrInvalidSource) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitVitalsResponse{
		Inserted:   result.Inserted,
		Duplicates: result.Duplicates,
	})
}

func (h *Handler) aggregates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeVitalsRead) && !claims.HasScope(auth.ScopeVitalsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope vitals:read required")
		return
	}

	metric := domain.MetricType(r.URL.Query().Get("metric_type"))
	if !metric.Known() {
		writeError(w, http.StatusBadRequest, "validation_failed", "unknown metric_type")
		return
	}

	granularity := domain.GranularityDaily
	if raw := r.URL.Query().Get("granularity"); raw != "" {
		granularity = domain.Granularity(raw)
		if !domain.ValidGranularity(granularity) {
			writeError(w, http.StatusBadRequest, "validation_failed", "granularity must be hourly, daily, weekly, or monthly")
			return
		}
	}

	now := time.Now().UTC()
	from, err := parseTimeParam(r.URL.Query().Get("from"), now.AddDate(0, 0, -30))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid from parameter")
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid to parameter")
		return
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "validation_failed", "from must precede to")
		return
	}

	rollups, err := h.service.ReadAggregates(r.Context(), granularity, claims.Subject, metric, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]AggregateView, 0, len(rollups))
	for _, rollup := range rollups {
		items = append(items, toAggregateView(granularity, rollup))
	}

	writeJSON(w, http.StatusOK, AggregatesResponse{
		MetricType:  string(metric),
		Granularity: string(granularity),
		From:        from,
		To:          to,
		Items:       items,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeVitalsRead) && !claims.HasScope(auth.ScopeVitalsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope vitals:read required")
		return
	}

	summary, err := h.service.IngestionStatus(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Pending:       summary.Pending,
		Processing:    summary.Processing,
		Completed:     summary.Completed,
		Failed:        summary.Failed,
		OldestPending: summary.OldestPending,
		LastSampleAt:  summary.LastSampleAt,
	})
}

func parseTimeParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

// SampleBody is one raw sample in a submission payload.
type SampleBody struct {
	MetricType      string     `json:"metric_type"`
	Value           float64    `json:"value"`
	Unit            string     `json:"unit"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	DataSource      string     `json:"data_source"`
	SourceDevice    string     `json:"source_device,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ConfidenceScore *float64   `json:"confidence_score,omitempty"`
}

func (s SampleBody) toInput() domain.SampleInput {
	input := domain.SampleInput{
		MetricType:      domain.MetricType(s.MetricType),
		Value:           s.Value,
		Unit:            s.Unit,
		StartDate:       s.StartDate,
		DataSource:      domain.DataSource(s.DataSource),
		SourceDevice:    s.SourceDevice,
		Notes:           s.Notes,
		ConfidenceScore: s.ConfidenceScore,
	}
	if s.EndDate != nil {
		input.EndDate = *s.EndDate
	}
	return input
}

// ChunkInfoBody marks a submission as one chunk of a bulk import.
type ChunkInfoBody struct {
	SessionID    string `json:"session_id"`
	ChunkNumber  int    `json:"chunk_number"`
	TotalChunks  int    `json:"total_chunks"`
	IsFinalChunk bool   `json:"is_final_chunk"`
}

// SubmitVitalsRequest is the payload for POST /v1/vitals.
type SubmitVitalsRequest struct {
	Samples   []SampleBody   `json:"samples"`
	ChunkInfo *ChunkInfoBody `json:"chunk_info,omitempty"`
}

// Validate ensures request correctness.
func (r SubmitVitalsRequest) Validate() error {
	if len(r.Samples) == 0 {
		return errors.New("samples must not be empty")
	}
	if len(r.Samples) > maxSamplesPerRequest {
		return errors.New("too many samples in one request")
	}
	for _, sample := range r.Samples {
		if strings.TrimSpace(sample.MetricType) == "" {
			return errors.New("metric_type is required")
		}
		if strings.TrimSpace(sample.Unit) == "" {
			return errors.New("unit is required")
		}
		if sample.StartDate.IsZero() {
			return errors.New("start_date is required")
		}
		if sample.EndDate != nil && sample.EndDate.Before(sample.StartDate) {
			return errors.New("end_date must not precede start_date")
		}
		if strings.TrimSpace(sample.DataSource) == "" {
			return errors.New("data_source is required")
		}
	}
	if r.ChunkInfo != nil {
		if strings.TrimSpace(r.ChunkInfo.SessionID) == "" {
			return errors.New("chunk_info.session_id is required")
		}
		if r.ChunkInfo.ChunkNumber < 1 || r.ChunkInfo.TotalChunks < 1 {
			return errors.New("chunk_info numbering must start at 1")
		}
		if r.ChunkInfo.ChunkNumber > r.ChunkInfo.TotalChunks {
			return errors.New("chunk_info.chunk_number exceeds total_chunks")
		}
	}
	return nil
}

// SubmitVitalsResponse describes the response body for submission.
type SubmitVitalsResponse struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

// AggregateView exposes one rollup row.
type AggregateView struct {
	PeriodStart      time.Time          `json:"period_start"`
	Granularity      string             `json:"granularity"`
	TotalValue       float64            `json:"total_value"`
	AverageValue     float64            `json:"average_value"`
	MinValue         float64            `json:"min_value"`
	MaxValue         float64            `json:"max_value"`
	SampleCount      int                `json:"sample_count"`
	DurationMinutes  float64            `json:"duration_minutes,omitempty"`
	Unit             string             `json:"unit"`
	PrimarySource    string             `json:"primary_source"`
	SourcesIncluded  []string           `json:"sources_included"`
	WorkoutBreakdown map[string]float64 `json:"workout_breakdown,omitempty"`
}

// AggregatesResponse packages a rollup range read.
type AggregatesResponse struct {
	MetricType  string          `json:"metric_type"`
	Granularity string          `json:"granularity"`
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	Items       []AggregateView `json:"items"`
}

// StatusResponse reports a user's ingestion pipeline state.
type StatusResponse struct {
	Pending       int        `json:"pending"`
	Processing    int        `json:"processing"`
	Completed     int        `json:"completed"`
	Failed        int        `json:"failed"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
	LastSampleAt  *time.Time `json:"last_sample_at,omitempty"`
}

func toAggregateView(g domain.Granularity, rollup domain.Rollup) AggregateView {
	sources := make([]string, 0, len(rollup.SourceCounts))
	for _, source := range rollup.SourcesIncluded() {
		sources = append(sources, string(source))
	}
	return AggregateView{
		PeriodStart:      rollup.PeriodStart,
		Granularity:      string(g),
		TotalValue:       rollup.TotalValue,
		AverageValue:     rollup.AverageValue,
		MinValue:         rollup.MinValue,
		MaxValue:         rollup.MaxValue,
		SampleCount:      rollup.SampleCount,
		DurationMinutes:  rollup.DurationMinutes,
		Unit:             rollup.Unit,
		PrimarySource:    string(rollup.PrimarySource()),
		SourcesIncluded:  sources,
		WorkoutBreakdown: rollup.WorkoutBreakdown,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
