package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sampleIngestGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vitals_service",
		Subsystem: "ingestion",
		Name:      "last_sample_ingested_timestamp_seconds",
		Help:      "Unix timestamp of the most recent raw sample persisted.",
	})
	rollupWriteGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vitals_service",
		Subsystem: "aggregation",
		Name:      "last_rollups_written_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful rollup write.",
	})
)

func init() {
	prometheus.MustRegister(sampleIngestGauge, rollupWriteGauge)
}

// RecordSampleIngested updates the ingestion watermark gauge.
func RecordSampleIngested(ts time.Time) {
	if ts.IsZero() {
		return
	}
	sampleIngestGauge.Set(float64(ts.Unix()))
}

// RecordRollupsWritten updates the aggregation watermark gauge.
func RecordRollupsWritten(ts time.Time) {
	if ts.IsZero() {
		return
	}
	rollupWriteGauge.Set(float64(ts.Unix()))
}
