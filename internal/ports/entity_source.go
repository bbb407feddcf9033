package ports

import (
	"context"
	"delivery-dashboard/internal/domain"
)

// Port: a boundary for listing the selectable entities of the backend.
type EntitySource interface {
	// Retrieve all delivery points available for routing.
	ListPoints(ctx context.Context) ([]domain.Entity, error)
	// Retrieve all carriers (vehicles).
	ListCarriers(ctx context.Context) ([]domain.Entity, error)
	// Retrieve all depots.
	ListDepots(ctx context.Context) ([]domain.Depot, error)
}

// Optional cache of the last successfully fetched entity lists.
type EntityCache interface {
	GetEntities(ctx context.Context, kind domain.EntityKind) ([]domain.Entity, bool, error)
	PutEntities(ctx context.Context, kind domain.EntityKind, entities []domain.Entity) error
}
