// Package domain defines the business logic for the vitals service.
package domain

import (
	"strings"
	"time"
)

// MetricType identifies the kind of health vital a sample measures.
type MetricType string

const (
	MetricHeartRate              MetricType = "heart_rate"
	MetricSteps                  MetricType = "steps"
	MetricSleep                  MetricType = "sleep"
	MetricWorkout                MetricType = "workout"
	MetricBloodPressureSystolic  MetricType = "blood_pressure_systolic"
	MetricBloodPressureDiastolic MetricType = "blood_pressure_diastolic"
	MetricActiveEnergy           MetricType = "active_energy"
	MetricDistance               MetricType = "distance"
	MetricBodyTemperature        MetricType = "body_temperature"
	MetricWeight                 MetricType = "weight"
	MetricOxygenSaturation       MetricType = "oxygen_saturation"
	MetricRespiratoryRate        MetricType = "respiratory_rate"
	MetricMindfulness            MetricType = "mindfulness"
)

// MetricClass determines how samples of a metric are reduced into rollups.
type MetricClass int

const (
	// ClassCumulative metrics accumulate: the rollup total is the sum of values.
	ClassCumulative MetricClass = iota
	// ClassPoint metrics are instantaneous readings: min/max/avg/count matter.
	ClassPoint
	// ClassDuration metrics measure elapsed time: minutes accumulate, with an
	// optional breakdown by sub-type carried in the sample notes.
	ClassDuration
)

var metricClasses = map[MetricType]MetricClass{
	MetricHeartRate:              ClassPoint,
	MetricSteps:                  ClassCumulative,
	MetricSleep:                  ClassDuration,
	MetricWorkout:                ClassDuration,
	MetricBloodPressureSystolic:  ClassPoint,
	MetricBloodPressureDiastolic: ClassPoint,
	MetricActiveEnergy:           ClassCumulative,
	MetricDistance:               ClassCumulative,
	MetricBodyTemperature:        ClassPoint,
	MetricWeight:                 ClassPoint,
	MetricOxygenSaturation:       ClassPoint,
	MetricRespiratoryRate:        ClassPoint,
	MetricMindfulness:            ClassDuration,
}

// Class returns the reduction class for the metric. Unknown metrics are
// treated as point samples, the least surprising default.
func (m MetricType) Class() MetricClass {
	if class, ok := metricClasses[m]; ok {
		return class
	}
	return ClassPoint
}

// Known reports whether the metric type is part of the supported catalogue.
func (m MetricType) Known() bool {
	_, ok := metricClasses[m]
	return ok
}

// DataSource identifies where a sample came from.
type DataSource string

const (
	SourceDeviceSync         DataSource = "device_sync"
	SourceManualEntry        DataSource = "manual_entry"
	SourceDocumentExtraction DataSource = "document_extraction"
	SourceAPIImport          DataSource = "api_import"
)

// ValidSource reports whether the source is one of the known enum values.
func ValidSource(s DataSource) bool {
	switch s {
	case SourceDeviceSync, SourceManualEntry, SourceDocumentExtraction, SourceAPIImport:
		return true
	}
	return false
}

// AggregationStatus tracks a raw sample through the rollup pipeline.
type AggregationStatus string

const (
	StatusPending    AggregationStatus = "pending"
	StatusProcessing AggregationStatus = "processing"
	StatusCompleted  AggregationStatus = "completed"
	StatusFailed     AggregationStatus = "failed"
)

// RawSample is one observed vital value as stored in vitals_raw.
type RawSample struct {
	ID              string
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
	Status          AggregationStatus
	AggregatedAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DurationMinutes returns the length of the observation window in minutes.
// Duration metrics that carry an explicit value (already in minutes) take
// precedence over the window, since manual entries often have zero-width
// windows.
func (s RawSample) DurationMinutes() float64 {
	if s.MetricType.Class() == ClassDuration && s.Value > 0 {
		return s.Value
	}
	if s.EndDate.After(s.StartDate) {
		return s.EndDate.Sub(s.StartDate).Minutes()
	}
	return 0
}

// SubType extracts the categorical sub-type a duration sample encodes in its
// notes, e.g. "workout:cycling". Empty when the notes carry none.
func (s RawSample) SubType() string {
	if s.MetricType.Class() != ClassDuration {
		return ""
	}
	_, sub, found := strings.Cut(s.Notes, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(sub)
}
