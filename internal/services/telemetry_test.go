package services

import (
	"delivery-dashboard/internal/domain"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samples(values ...float64) []domain.TelemetrySample {
	out := make([]domain.TelemetrySample, len(values))
	for i, v := range values {
		out[i] = domain.TelemetrySample{Index: i, Value: v}
	}
	return out
}

func smoothed(stats []domain.WindowedStat) []float64 {
	out := make([]float64, len(stats))
	for i, s := range stats {
		out[i] = s.Smoothed
	}
	return out
}

func TestMovingAverageShortSequence(t *testing.T) {
	got := smoothed(MovingAverage(samples(1, 2, 3), 10))
	assert.Equal(t, []float64{1, 1.5, 2}, got)
}

func TestMovingAverageConstantAfterWindowFills(t *testing.T) {
	const v = 4.25
	values := make([]float64, 15)
	for i := range values {
		values[i] = v
	}

	stats := MovingAverage(samples(values...), 10)
	require.Len(t, stats, 15)
	for i := 9; i < 15; i++ {
		assert.Equalf(t, v, stats[i].Smoothed, "index %d", i)
	}
}

func TestMovingAverageIsExactForConstantWindows(t *testing.T) {
	for _, v := range []float64{0.3, -7.7} {
		values := make([]float64, 15)
		for i := range values {
			values[i] = v
		}
		stats := MovingAverage(samples(values...), 10)
		for i := range stats {
			assert.Equalf(t, v, stats[i].Smoothed, "value %v index %d", v, i)
		}
	}
}

func TestMovingAverageSpikeLeavesTheWindow(t *testing.T) {
	values := make([]float64, 15)
	values[0] = 1e16
	for i := 1; i < len(values); i++ {
		values[i] = 1
	}

	stats := MovingAverage(samples(values...), 10)
	// From index 10 on the window no longer holds the spike.
	for i := 10; i < 15; i++ {
		assert.Equalf(t, 1.0, stats[i].Smoothed, "index %d", i)
	}
	assert.Greater(t, stats[9].Smoothed, 1e14)
}

func TestMovingAverageTrailingWindowHasNoLookAhead(t *testing.T) {
	stats := MovingAverage(samples(0, 0, 0, 10, 20), 2)
	assert.Equal(t, []float64{0, 0, 0, 5, 15}, smoothed(stats))
	assert.Equal(t, 20.0, stats[4].Raw)
}

func TestMovingAverageDefaultWindow(t *testing.T) {
	values := make([]float64, 12)
	for i := range values {
		values[i] = float64(i)
	}
	stats := MovingAverage(samples(values...), 0)
	// window [2..11] -> mean 6.5
	assert.Equal(t, 6.5, stats[11].Smoothed)
}

func TestIngestDeduplicatesOverlappingFetches(t *testing.T) {
	agg := NewTelemetryAggregator(0)

	first := []domain.TelemetrySample{{Index: 2, Value: 20}, {Index: 1, Value: 10}, {Index: 0, Value: 0}}
	assert.Equal(t, 3, agg.Ingest(first))

	overlap := []domain.TelemetrySample{{Index: 3, Value: 30}, {Index: 2, Value: 999}, {Index: 3, Value: 31}}
	assert.Equal(t, 1, agg.Ingest(overlap))

	got := agg.Samples()
	require.Len(t, got, 4)
	for i, s := range got {
		assert.Equal(t, i, s.Index)
	}
	assert.Equal(t, 20.0, got[2].Value, "first sample seen for an index wins")
	assert.Equal(t, 30.0, got[3].Value)
}

func TestIngestNoChangeKeepsVersion(t *testing.T) {
	agg := NewTelemetryAggregator(0)
	agg.Ingest(samples(1, 2, 3))
	v := agg.Version()

	assert.Equal(t, 0, agg.Ingest(samples(1, 2, 3)))
	assert.Equal(t, v, agg.Version())
}

func TestIngestEvictsLowestIndex(t *testing.T) {
	agg := NewTelemetryAggregator(5)
	agg.Ingest(samples(0, 1, 2, 3, 4, 5, 6))

	got := agg.Samples()
	require.Len(t, got, 5)
	assert.Equal(t, 2, got[0].Index)
	assert.Equal(t, 6, got[4].Index)

	// Below the floor of a full buffer: dropped.
	assert.Equal(t, 0, agg.Ingest([]domain.TelemetrySample{{Index: 1, Value: 1}}))
	assert.Equal(t, 2, agg.Samples()[0].Index)

	assert.Equal(t, 1, agg.Ingest([]domain.TelemetrySample{{Index: 7, Value: 7}}))
	assert.Equal(t, 3, agg.Samples()[0].Index)
}

func TestSummary(t *testing.T) {
	agg := NewTelemetryAggregator(0)
	assert.Equal(t, TelemetrySummary{}, agg.Summary())

	agg.Ingest(samples(-5, 3, 1))
	sum := agg.Summary()
	require.NotNil(t, sum.Latest)
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, 1.0, *sum.Latest)
	assert.Equal(t, 3.0, *sum.Best)
	assert.InDelta(t, -1.0/3.0, *sum.MeanLast100, 1e-12)
}

func TestProgressFraction(t *testing.T) {
	assert.Equal(t, 1.0, ProgressFraction(domain.Progress{Completed: 40, Total: 40}))
	assert.Equal(t, 0.0, ProgressFraction(domain.Progress{Completed: 3, Total: 0}))
	assert.Equal(t, 1.0, ProgressFraction(domain.Progress{Completed: 41, Total: 40}))
	assert.Equal(t, 0.25, ProgressFraction(domain.Progress{Completed: 10, Total: 40}))
}

func TestETA(t *testing.T) {
	d, ok := ETA(30*time.Second, 0.25)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	_, ok = ETA(30*time.Second, 0)
	assert.False(t, ok)
	assert.Equal(t, "unknown", FormatETA(ETA(time.Minute, 0)))
	assert.Equal(t, "unknown", FormatETA(ETA(time.Minute, math.NaN())))
	assert.Equal(t, "1m30s", FormatETA(ETA(30*time.Second, 0.25)))
}

func TestAggregatorProgressAndETAFromJobState(t *testing.T) {
	agg := NewTelemetryAggregator(0)
	start := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	job := domain.RunningState("m1", domain.Progress{Completed: 50, Total: 100}, start)

	assert.Equal(t, 0.5, agg.Progress(job))
	eta, ok := agg.ETA(job, start.Add(2*time.Minute))
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, eta)

	assert.Equal(t, 0.0, agg.Progress(domain.IdleState()))
	_, ok = agg.ETA(domain.IdleState(), start)
	assert.False(t, ok)
}
