package aggregation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/vitals/internal/domain"
)

func heartRateSample(user string, at time.Time, bpm float64, source domain.DataSource) domain.RawSample {
	return domain.RawSample{
		UserID:     user,
		MetricType: domain.MetricHeartRate,
		Value:      bpm,
		Unit:       "bpm",
		StartDate:  at,
		EndDate:    at,
		DataSource: source,
	}
}

func TestBuildHourlyPointMetric(t *testing.T) {
	base := time.Date(2026, time.March, 14, 9, 5, 0, 0, time.UTC)

	rollups := BuildHourly([]domain.RawSample{
		heartRateSample("42", base, 72, domain.SourceDeviceSync),
		heartRateSample("42", base.Add(10*time.Minute), 80, domain.SourceDeviceSync),
		heartRateSample("42", base.Add(20*time.Minute), 76, domain.SourceManualEntry),
	})

	require.Len(t, rollups, 1)
	hourly := rollups[0]
	require.Equal(t, time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC), hourly.PeriodStart)
	require.Equal(t, 3, hourly.SampleCount)
	require.InDelta(t, 76.0, hourly.AverageValue, 1e-9)
	require.Equal(t, 72.0, hourly.MinValue)
	require.Equal(t, 80.0, hourly.MaxValue)
	require.Equal(t, "bpm", hourly.Unit)
	require.Equal(t, domain.SourceDeviceSync, hourly.PrimarySource())
	require.Equal(t, []domain.DataSource{domain.SourceDeviceSync, domain.SourceManualEntry}, hourly.SourcesIncluded())
}

func TestBuildHourlyRecomputeFoldsLateSample(t *testing.T) {
	base := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	initial := []domain.RawSample{
		heartRateSample("42", base.Add(5*time.Minute), 72, domain.SourceDeviceSync),
		heartRateSample("42", base.Add(15*time.Minute), 80, domain.SourceDeviceSync),
		heartRateSample("42", base.Add(25*time.Minute), 76, domain.SourceDeviceSync),
	}

	first := BuildHourly(initial)
	require.Len(t, first, 1)
	require.Equal(t, 3, first[0].SampleCount)
	require.InDelta(t, 76.0, first[0].AverageValue, 1e-9)

	// A later batch adds a fourth sample to the same hour; rebuilding from
	// the full raw set re-derives the average from the totals, so the stats
	// cannot drift no matter how many partial batches preceded.
	withLate := append(initial, heartRateSample("42", base.Add(35*time.Minute), 90, domain.SourceDeviceSync))
	second := BuildHourly(withLate)
	require.Len(t, second, 1)
	require.Equal(t, 4, second[0].SampleCount)
	require.InDelta(t, 79.5, second[0].AverageValue, 1e-9)
	require.Equal(t, 72.0, second[0].MinValue)
	require.Equal(t, 90.0, second[0].MaxValue)
	require.Equal(t, 4, second[0].SourceCounts[domain.SourceDeviceSync])
}

func TestBuildHourlyIsDeterministic(t *testing.T) {
	base := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	samples := []domain.RawSample{
		heartRateSample("42", base, 72, domain.SourceDeviceSync),
		heartRateSample("42", base.Add(time.Minute), 80, domain.SourceManualEntry),
	}

	require.Equal(t, BuildHourly(samples), BuildHourly(samples))
}

func TestBuildHourlyCumulativeMetric(t *testing.T) {
	base := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	rollups := BuildHourly([]domain.RawSample{
		{UserID: "42", MetricType: domain.MetricSteps, Value: 400, Unit: "count", StartDate: base, DataSource: domain.SourceDeviceSync},
		{UserID: "42", MetricType: domain.MetricSteps, Value: 250, Unit: "count", StartDate: base.Add(30 * time.Minute), DataSource: domain.SourceDeviceSync},
	})

	require.Len(t, rollups, 1)
	require.Equal(t, 650.0, rollups[0].TotalValue)
	require.Equal(t, 2, rollups[0].SampleCount)
}

func TestBuildHourlyDurationMetricBreakdown(t *testing.T) {
	start := time.Date(2026, time.March, 14, 18, 0, 0, 0, time.UTC)
	rollups := BuildHourly([]domain.RawSample{
		{
			UserID:     "42",
			MetricType: domain.MetricWorkout,
			Value:      45,
			Unit:       "min",
			StartDate:  start,
			EndDate:    start.Add(45 * time.Minute),
			DataSource: domain.SourceDeviceSync,
			Notes:      "workout:cycling",
		},
		{
			UserID:     "42",
			MetricType: domain.MetricWorkout,
			Value:      30,
			Unit:       "min",
			StartDate:  start.Add(5 * time.Minute),
			EndDate:    start.Add(35 * time.Minute),
			DataSource: domain.SourceManualEntry,
			Notes:      "workout:running",
		},
	})

	require.Len(t, rollups, 1)
	require.Equal(t, 75.0, rollups[0].DurationMinutes)
	require.Equal(t, map[string]float64{"cycling": 45, "running": 30}, rollups[0].WorkoutBreakdown)
}

func TestBuildHourlyAttributesBoundarySpanToStartBucket(t *testing.T) {
	// Sleep crossing midnight belongs to the bucket containing its start.
	start := time.Date(2026, time.March, 14, 23, 30, 0, 0, time.UTC)
	rollups := BuildHourly([]domain.RawSample{
		{
			UserID:     "42",
			MetricType: domain.MetricSleep,
			Value:      0,
			Unit:       "min",
			StartDate:  start,
			EndDate:    start.Add(7 * time.Hour),
			DataSource: domain.SourceDeviceSync,
		},
	})

	require.Len(t, rollups, 1)
	require.Equal(t, time.Date(2026, time.March, 14, 23, 0, 0, 0, time.UTC), rollups[0].PeriodStart)
	require.Equal(t, 420.0, rollups[0].DurationMinutes)
}

func TestReduceDailyFromHourly(t *testing.T) {
	morning := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	evening := time.Date(2026, time.March, 14, 20, 0, 0, 0, time.UTC)

	hourly := BuildHourly([]domain.RawSample{
		heartRateSample("42", morning, 72, domain.SourceDeviceSync),
		heartRateSample("42", morning.Add(10*time.Minute), 80, domain.SourceDeviceSync),
		heartRateSample("42", evening, 60, domain.SourceManualEntry),
	})
	require.Len(t, hourly, 2)

	daily := Reduce(domain.GranularityDaily, hourly)
	require.Len(t, daily, 1)
	day := daily[0]
	require.Equal(t, time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC), day.PeriodStart)
	require.Equal(t, 3, day.SampleCount)
	require.Equal(t, 60.0, day.MinValue)
	require.Equal(t, 80.0, day.MaxValue)
	// Weighted from the hourly totals, not an average of averages.
	require.InDelta(t, (72.0+80.0+60.0)/3.0, day.AverageValue, 1e-9)
	require.Equal(t, domain.SourceDeviceSync, day.PrimarySource())
}

func TestReduceWeeklyAndMonthlyFromDaily(t *testing.T) {
	// 2026-03-15 is a Sunday: the last day of the ISO week starting Monday
	// 2026-03-09. The following Monday opens a new week.
	sunday := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	monday := sunday.AddDate(0, 0, 1)
	daily := []domain.Rollup{
		{
			UserID: "42", MetricType: domain.MetricSteps, PeriodStart: sunday,
			TotalValue: 9000, AverageValue: 4500, MinValue: 4000, MaxValue: 5000,
			SampleCount: 2, Unit: "count",
			SourceCounts: map[domain.DataSource]int{domain.SourceDeviceSync: 2},
		},
		{
			UserID: "42", MetricType: domain.MetricSteps, PeriodStart: monday,
			TotalValue: 3000, AverageValue: 3000, MinValue: 3000, MaxValue: 3000,
			SampleCount: 1, Unit: "count",
			SourceCounts: map[domain.DataSource]int{domain.SourceManualEntry: 1},
		},
	}

	weekly := Reduce(domain.GranularityWeekly, daily)
	require.Len(t, weekly, 2)
	require.Equal(t, time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC), weekly[0].PeriodStart)
	require.Equal(t, 9000.0, weekly[0].TotalValue)
	require.Equal(t, time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC), weekly[1].PeriodStart)

	monthly := Reduce(domain.GranularityMonthly, daily)
	require.Len(t, monthly, 1)
	require.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), monthly[0].PeriodStart)
	require.Equal(t, 12000.0, monthly[0].TotalValue)
	require.Equal(t, 3, monthly[0].SampleCount)
	require.Equal(t, []domain.DataSource{domain.SourceDeviceSync, domain.SourceManualEntry}, monthly[0].SourcesIncluded())
}

func TestReduceIsIdempotent(t *testing.T) {
	base := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	hourly := BuildHourly([]domain.RawSample{
		heartRateSample("42", base, 72, domain.SourceDeviceSync),
		heartRateSample("42", base.Add(time.Minute), 80, domain.SourceManualEntry),
	})

	first := Reduce(domain.GranularityDaily, hourly)
	second := Reduce(domain.GranularityDaily, hourly)
	require.Equal(t, first, second)
}

func TestBuildHourlySeparatesUsersAndMetrics(t *testing.T) {
	at := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	rollups := BuildHourly([]domain.RawSample{
		heartRateSample("42", at, 72, domain.SourceDeviceSync),
		heartRateSample("7", at, 64, domain.SourceDeviceSync),
		{UserID: "42", MetricType: domain.MetricSteps, Value: 100, Unit: "count", StartDate: at, DataSource: domain.SourceDeviceSync},
	})

	require.Len(t, rollups, 3)
}
