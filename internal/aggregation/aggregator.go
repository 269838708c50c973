// Package aggregation turns batches of raw samples into hourly rollups and
// re-reduces finer rollups into coarser ones. Everything here is pure
// computation: callers own all I/O, so every function is deterministic for a
// given input and safe to rerun.
package aggregation

import (
	"sort"

	"example.com/vitals/internal/domain"
)

// BuildHourly groups samples by (user, metric, hour of start date) and
// produces one hourly rollup per group. A sample whose observation window
// spans the hour boundary is attributed to the hour containing its start.
func BuildHourly(samples []domain.RawSample) []domain.Rollup {
	byKey := make(map[domain.RollupKey]*domain.Rollup)
	for _, sample := range samples {
		key := domain.RollupKey{
			UserID:      sample.UserID,
			MetricType:  sample.MetricType,
			PeriodStart: domain.HourStart(sample.StartDate),
		}
		rollup, ok := byKey[key]
		if !ok {
			rollup = &domain.Rollup{
				UserID:       key.UserID,
				MetricType:   key.MetricType,
				PeriodStart:  key.PeriodStart,
				Unit:         sample.Unit,
				MinValue:     sample.Value,
				MaxValue:     sample.Value,
				SourceCounts: make(map[domain.DataSource]int),
			}
			byKey[key] = rollup
		}
		foldSample(rollup, sample)
	}
	return sortRollups(byKey)
}

func foldSample(r *domain.Rollup, s domain.RawSample) {
	r.TotalValue += s.Value
	r.SampleCount++
	if s.Value < r.MinValue {
		r.MinValue = s.Value
	}
	if s.Value > r.MaxValue {
		r.MaxValue = s.Value
	}
	r.AverageValue = r.TotalValue / float64(r.SampleCount)
	r.SourceCounts[s.DataSource]++
	if r.Unit == "" {
		r.Unit = s.Unit
	}

	if s.MetricType.Class() == domain.ClassDuration {
		minutes := s.DurationMinutes()
		r.DurationMinutes += minutes
		if sub := s.SubType(); sub != "" {
			if r.WorkoutBreakdown == nil {
				r.WorkoutBreakdown = make(map[string]float64)
			}
			r.WorkoutBreakdown[sub] += minutes
		}
	}
}

// Reduce recomputes coarser rollups from the next-finer granularity's rows:
// daily from hourly, weekly and monthly from daily. The output covers every
// period touched by the input and is rebuilt from scratch each call, so
// rerunning against unchanged inputs reproduces identical rows.
func Reduce(g domain.Granularity, finer []domain.Rollup) []domain.Rollup {
	byKey := make(map[domain.RollupKey]*domain.Rollup)
	for _, row := range finer {
		key := domain.RollupKey{
			UserID:      row.UserID,
			MetricType:  row.MetricType,
			PeriodStart: domain.PeriodStartFor(g, row.PeriodStart),
		}
		target, ok := byKey[key]
		if !ok {
			byKey[key] = &domain.Rollup{
				UserID:           key.UserID,
				MetricType:       key.MetricType,
				PeriodStart:      key.PeriodStart,
				TotalValue:       row.TotalValue,
				AverageValue:     row.AverageValue,
				MinValue:         row.MinValue,
				MaxValue:         row.MaxValue,
				SampleCount:      row.SampleCount,
				DurationMinutes:  row.DurationMinutes,
				Unit:             row.Unit,
				SourceCounts:     mergeCounts(nil, row.SourceCounts),
				WorkoutBreakdown: mergeBreakdowns(nil, row.WorkoutBreakdown),
			}
			continue
		}
		target.TotalValue += row.TotalValue
		target.SampleCount += row.SampleCount
		if row.MinValue < target.MinValue {
			target.MinValue = row.MinValue
		}
		if row.MaxValue > target.MaxValue {
			target.MaxValue = row.MaxValue
		}
		target.DurationMinutes += row.DurationMinutes
		if target.Unit == "" {
			target.Unit = row.Unit
		}
		target.SourceCounts = mergeCounts(target.SourceCounts, row.SourceCounts)
		target.WorkoutBreakdown = mergeBreakdowns(target.WorkoutBreakdown, row.WorkoutBreakdown)
	}

	for _, rollup := range byKey {
		if rollup.SampleCount > 0 {
			rollup.AverageValue = rollup.TotalValue / float64(rollup.SampleCount)
		}
	}
	return sortRollups(byKey)
}

func mergeCounts(into map[domain.DataSource]int, from map[domain.DataSource]int) map[domain.DataSource]int {
	if into == nil {
		into = make(map[domain.DataSource]int, len(from))
	}
	for source, count := range from {
		into[source] += count
	}
	return into
}

func mergeBreakdowns(into map[string]float64, from map[string]float64) map[string]float64 {
	if from == nil {
		return into
	}
	if into == nil {
		into = make(map[string]float64, len(from))
	}
	for sub, minutes := range from {
		into[sub] += minutes
	}
	return into
}

func sortRollups(byKey map[domain.RollupKey]*domain.Rollup) []domain.Rollup {
	out := make([]domain.Rollup, 0, len(byKey))
	for _, rollup := range byKey {
		out = append(out, *rollup)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		if out[i].MetricType != out[j].MetricType {
			return out[i].MetricType < out[j].MetricType
		}
		return out[i].PeriodStart.Before(out[j].PeriodStart)
	})
	return out
}
