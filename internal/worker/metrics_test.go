package worker

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !labelsMatch(metric, labels) {
				continue
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	for name, want := range labels {
		found := false
		for _, pair := range metric.GetLabel() {
			if pair.GetName() == name && pair.GetValue() == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestBatchMetricsTrackOutcomes(t *testing.T) {
	ctx := context.Background()
	raw := newMemRawStore()
	rollups := newMemRollupStore()

	hour := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	raw.add(heartRate("s1", hour, 72))
	raw.add(heartRate("s2", hour.Add(time.Minute), 80))

	successBefore := counterValue(t, "vitals_service_aggregation_batches_total", map[string]string{"outcome": "success"})
	rowsBefore := counterValue(t, "vitals_service_aggregation_rows_processed_total", nil)

	w := New(raw, rollups, nil, Config{BatchSize: 100}, testLogger(t))
	processed, err := w.processBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, processed)

	successAfter := counterValue(t, "vitals_service_aggregation_batches_total", map[string]string{"outcome": "success"})
	rowsAfter := counterValue(t, "vitals_service_aggregation_rows_processed_total", nil)
	require.Equal(t, 1.0, successAfter-successBefore)
	require.Equal(t, 2.0, rowsAfter-rowsBefore)
}

func histogramStats(t *testing.T, name string) (uint64, float64) {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			return metric.GetHistogram().GetSampleCount(), metric.GetHistogram().GetSampleSum()
		}
	}
	return 0, 0
}

func TestBatchDurationCoversAggregation(t *testing.T) {
	ctx := context.Background()
	raw := newMemRawStore()
	rollups := newMemRollupStore()
	rollups.upsertDelay = 30 * time.Millisecond

	hour := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	raw.add(heartRate("s1", hour, 72))

	countBefore, sumBefore := histogramStats(t, "vitals_service_aggregation_batch_duration_seconds")

	w := New(raw, rollups, nil, Config{BatchSize: 100}, testLogger(t))
	_, err := w.processBatch(ctx)
	require.NoError(t, err)

	countAfter, sumAfter := histogramStats(t, "vitals_service_aggregation_batch_duration_seconds")
	require.Equal(t, uint64(1), countAfter-countBefore)
	// The observation must span the aggregation work, not just the claim.
	require.GreaterOrEqual(t, sumAfter-sumBefore, 0.03)
}
