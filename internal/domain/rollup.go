package domain

import (
	"sort"
	"time"
)

// Granularity is one of the four rollup resolutions.
type Granularity string

const (
	GranularityHourly  Granularity = "hourly"
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// ValidGranularity reports whether g names a supported rollup resolution.
func ValidGranularity(g Granularity) bool {
	switch g {
	case GranularityHourly, GranularityDaily, GranularityWeekly, GranularityMonthly:
		return true
	}
	return false
}

// Rollup is a precomputed statistical summary of raw samples for one
// (user, metric, period) at a given granularity. At most one row exists per
// key and granularity; upserts replace the stats wholesale.
type Rollup struct {
	UserID           string
	MetricType       MetricType
	PeriodStart      time.Time
	TotalValue       float64
	AverageValue     float64
	MinValue         float64
	MaxValue         float64
	SampleCount      int
	DurationMinutes  float64
	Unit             string
	SourceCounts     map[DataSource]int
	WorkoutBreakdown map[string]float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RollupKey identifies a rollup row within a granularity.
type RollupKey struct {
	UserID      string
	MetricType  MetricType
	PeriodStart time.Time
}

// Key returns the identity of the rollup row.
func (r Rollup) Key() RollupKey {
	return RollupKey{UserID: r.UserID, MetricType: r.MetricType, PeriodStart: r.PeriodStart}
}

// PrimarySource is the data source contributing the most samples to the
// period. Ties break lexicographically so recomputation is deterministic.
func (r Rollup) PrimarySource() DataSource {
	var best DataSource
	bestCount := -1
	for _, source := range r.SourcesIncluded() {
		if count := r.SourceCounts[source]; count > bestCount {
			best = source
			bestCount = count
		}
	}
	return best
}

// SourcesIncluded is the sorted set of sources contributing to the period.
func (r Rollup) SourcesIncluded() []DataSource {
	out := make([]DataSource, 0, len(r.SourceCounts))
	for source := range r.SourceCounts {
		out = append(out, source)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HourStart truncates t to the containing clock hour in UTC.
func HourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DayStart truncates t to the containing calendar date in UTC.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekStart returns the Monday of the ISO week containing t, in UTC.
func WeekStart(t time.Time) time.Time {
	day := DayStart(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// MonthStart returns the first day of the month containing t, in UTC.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodStartFor buckets t at the requested granularity. Samples whose
// window spans a period boundary are attributed to the bucket containing
// their start date.
func PeriodStartFor(g Granularity, t time.Time) time.Time {
	switch g {
	case GranularityHourly:
		return HourStart(t)
	case GranularityDaily:
		return DayStart(t)
	case GranularityWeekly:
		return WeekStart(t)
	default:
		return MonthStart(t)
	}
}
