package ports

import (
	"context"
	"delivery-dashboard/internal/domain"
)

// Contract for running one optimization. May take seconds; callers cancel via ctx.
type Optimizer interface {
	Optimize(ctx context.Context, req domain.OptimizationRequest) (*domain.OptimizationResult, error)
}

// Contract for browsing previously saved optimization results.
type ResultStore interface {
	ListSavedResults(ctx context.Context) ([]domain.ResultInfo, error)
	LoadResult(ctx context.Context, id string) (*domain.OptimizationResult, error)
	DeleteResult(ctx context.Context, id string) error
}

// Contract for fetching a road-following polyline through ordered waypoints.
type RoadRouter interface {
	RoadPath(ctx context.Context, waypoints []domain.Coordinates) ([]domain.Coordinates, error)
}
