package services

import (
	"delivery-dashboard/internal/domain"
	"math"
	"slices"
	"sync"
	"time"
)

const (
	DefaultSampleCapacity = 500
	DefaultWindowSize     = 10
	summaryTail           = 100
)

// TelemetryAggregator keeps the ordered, deduplicated tail of a job's sample
// stream and derives display statistics from it.
//
// Samples are keyed by Index; the first sample seen for an index wins.
// When more than capacity samples are retained the lowest indexes are evicted.
type TelemetryAggregator struct {
	mu       sync.RWMutex
	samples  []domain.TelemetrySample
	capacity int
	version  uint64
}

func NewTelemetryAggregator(capacity int) *TelemetryAggregator {
	if capacity <= 0 {
		capacity = DefaultSampleCapacity
	}
	return &TelemetryAggregator{capacity: capacity}
}

// Ingest merges a batch of samples (in any order, possibly overlapping earlier
// batches) and returns how many new indexes were retained.
func (a *TelemetryAggregator) Ingest(batch []domain.TelemetrySample) int {
	if len(batch) == 0 {
		return 0
	}

	incoming := slices.Clone(batch)
	slices.SortStableFunc(incoming, func(x, y domain.TelemetrySample) int { return x.Index - y.Index })

	a.mu.Lock()
	defer a.mu.Unlock()

	// An index below the retained floor of a full buffer would be evicted
	// immediately.
	floor := math.MinInt
	if len(a.samples) >= a.capacity {
		floor = a.samples[0].Index
	}

	merged := make([]domain.TelemetrySample, 0, len(a.samples)+len(incoming))
	added := 0
	i, j := 0, 0
	for i < len(a.samples) || j < len(incoming) {
		switch {
		case j >= len(incoming):
			merged = append(merged, a.samples[i])
			i++
		case i >= len(a.samples) || incoming[j].Index < a.samples[i].Index:
			s := incoming[j]
			j++
			if s.Index < 0 || s.Index < floor {
				continue
			}
			if n := len(merged); n > 0 && merged[n-1].Index == s.Index {
				continue
			}
			merged = append(merged, s)
			added++
		case incoming[j].Index == a.samples[i].Index:
			j++
		default:
			merged = append(merged, a.samples[i])
			i++
		}
	}

	if over := len(merged) - a.capacity; over > 0 {
		// Evicted entries may include some just added.
		added -= countNew(merged[:over], a.samples)
		merged = slices.Clone(merged[over:])
	}

	if added <= 0 && len(merged) == len(a.samples) {
		return 0
	}
	a.samples = merged
	a.version++
	return max(added, 0)
}

func countNew(evicted, previous []domain.TelemetrySample) int {
	n := 0
	for _, s := range evicted {
		if _, found := slices.BinarySearchFunc(previous, s.Index, func(p domain.TelemetrySample, idx int) int {
			return p.Index - idx
		}); !found {
			n++
		}
	}
	return n
}

// Reset drops every sample, e.g. when a new job starts.
func (a *TelemetryAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.samples) == 0 {
		return
	}
	a.samples = nil
	a.version++
}

// Samples returns a copy of the retained samples in index order.
func (a *TelemetryAggregator) Samples() []domain.TelemetrySample {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.samples)
}

func (a *TelemetryAggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.samples)
}

func (a *TelemetryAggregator) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// MovingAverage smooths samples with a trailing window.
// For position i the window is [max(0, i-windowSize+1), i]: shorter near the
// start, never padded, never looking ahead. Each window mean is computed from
// its own values only.
func MovingAverage(samples []domain.TelemetrySample, windowSize int) []domain.WindowedStat {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	out := make([]domain.WindowedStat, len(samples))
	for i, s := range samples {
		out[i] = domain.WindowedStat{
			Index:    s.Index,
			Raw:      s.Value,
			Smoothed: windowMean(samples[max(0, i-windowSize+1) : i+1]),
		}
	}
	return out
}

// windowMean uses a running mean, so a window of equal values yields that
// value exactly.
func windowMean(window []domain.TelemetrySample) float64 {
	mean := 0.0
	for k, s := range window {
		mean += (s.Value - mean) / float64(k+1)
	}
	return mean
}

// TelemetrySummary mirrors the headline numbers of the training status panel.
type TelemetrySummary struct {
	Count       int      `json:"count"`
	Latest      *float64 `json:"latest,omitempty"`
	Best        *float64 `json:"best,omitempty"`
	MeanLast100 *float64 `json:"mean_last_100,omitempty"`
}

func (a *TelemetryAggregator) Summary() TelemetrySummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Summarize(a.samples)
}

// Summarize computes a TelemetrySummary over samples in index order.
func Summarize(samples []domain.TelemetrySample) TelemetrySummary {
	n := len(samples)
	if n == 0 {
		return TelemetrySummary{}
	}

	latest := samples[n-1].Value
	best := samples[0].Value
	for _, s := range samples[1:] {
		best = max(best, s.Value)
	}

	mean := windowMean(samples[max(0, n-summaryTail):])

	return TelemetrySummary{Count: n, Latest: &latest, Best: &best, MeanLast100: &mean}
}

// ProgressFraction returns min(completed/total, 1), or 0 when total is not positive.
func ProgressFraction(p domain.Progress) float64 {
	if p.Total <= 0 {
		return 0
	}
	return math.Min(float64(p.Completed)/float64(p.Total), 1.0)
}

// ETA extrapolates the remaining time from elapsed time and a progress
// fraction. ok is false when the fraction gives no basis for an estimate.
func ETA(elapsed time.Duration, fraction float64) (time.Duration, bool) {
	if fraction <= 0 || math.IsNaN(fraction) {
		return 0, false
	}
	if fraction >= 1 {
		return 0, true
	}
	return time.Duration(float64(elapsed) * (1 - fraction) / fraction), true
}

// FormatETA renders an ETA for display; undefined estimates render as "unknown".
func FormatETA(d time.Duration, ok bool) string {
	if !ok {
		return "unknown"
	}
	return d.Round(time.Second).String()
}

// Progress returns the progress fraction of a running job, 1 for a completed
// job, and 0 otherwise.
func (a *TelemetryAggregator) Progress(job domain.JobState) float64 { return JobProgress(job) }

// ETA estimates the remaining time of a running job at now.
func (a *TelemetryAggregator) ETA(job domain.JobState, now time.Time) (time.Duration, bool) {
	return JobETA(job, now)
}

func JobProgress(job domain.JobState) float64 {
	switch job.Phase {
	case domain.JobRunning:
		return ProgressFraction(job.Progress)
	case domain.JobCompleted:
		return 1
	}
	return 0
}

func JobETA(job domain.JobState, now time.Time) (time.Duration, bool) {
	if job.Phase != domain.JobRunning || job.StartedAt.IsZero() {
		return 0, false
	}
	return ETA(now.Sub(job.StartedAt), JobProgress(job))
}
