package ports

import (
	"context"
	"delivery-dashboard/internal/domain"
)

// Contract for an asynchronous, long-running backend job tracked by polling.
//
// Implementations convert transport failures into *domain.TransientNetworkError
// (retryable) or *domain.FatalError (non-retryable) before returning.
type JobService interface {
	StartJob(ctx context.Context, cfg domain.TrainingConfig) (jobID string, err error)
	PollJob(ctx context.Context, jobID string) (domain.JobState, error)
	StopJob(ctx context.Context, jobID string) error
	// Return up to limit of the most recent samples, in any order.
	FetchHistory(ctx context.Context, jobID string, limit int) ([]domain.TelemetrySample, error)
}

// Models produced by finished training runs. Activating or deleting an
// unknown name fails with domain.ErrNotFound.
type ModelStore interface {
	ListModels(ctx context.Context) ([]domain.ModelInfo, error)
	ActivateModel(ctx context.Context, name string) error
	DeleteModel(ctx context.Context, name string) error
}

// Optional local persistence of a job's telemetry samples.
type SampleCache interface {
	GetSamples(ctx context.Context, jobID string, limit int) ([]domain.TelemetrySample, error)
	PutSamples(ctx context.Context, jobID string, samples []domain.TelemetrySample) error
}
