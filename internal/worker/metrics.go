package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	batchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vitals_service",
		Subsystem: "aggregation",
		Name:      "batches_total",
		Help:      "Number of aggregation batches processed, labeled by outcome.",
	}, []string{"outcome"})

	rowsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vitals_service",
		Subsystem: "aggregation",
		Name:      "rows_processed_total",
		Help:      "Number of raw sample rows aggregated successfully.",
	})

	rowsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vitals_service",
		Subsystem: "aggregation",
		Name:      "rows_failed_total",
		Help:      "Number of raw sample rows returned to pending after a batch failure.",
	})

	rowsQuarantined = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vitals_service",
		Subsystem: "aggregation",
		Name:      "rows_quarantined_total",
		Help:      "Number of raw sample rows marked failed after exhausting retries.",
	})

	staleReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vitals_service",
		Subsystem: "aggregation",
		Name:      "stale_rows_reclaimed_total",
		Help:      "Number of processing rows reverted to pending by the staleness sweep.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vitals_service",
		Subsystem: "aggregation",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, aggregating, and marking one batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	publishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vitals_service",
		Subsystem: "aggregation",
		Name:      "publish_failures_total",
		Help:      "Number of rollup-updated event publishes that failed.",
	})
)

func init() {
	prometheus.MustRegister(batchesTotal, rowsProcessed, rowsFailed, rowsQuarantined, staleReclaimed, batchDuration, publishFailures)
}
