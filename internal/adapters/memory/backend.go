package memory

import (
	"cmp"
	"context"
	"delivery-dashboard/internal/adapters/localopt"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/ports"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type savedResult struct {
	info   domain.ResultInfo
	result domain.OptimizationResult
}

// Backend is an in-process stand-in for the optimization service. It serves
// a seeded fleet, plans routes with localopt, keeps saved results in memory
// and simulates one training run at a time.
//
// It implements ports.Backend and is safe for concurrent use.
type Backend struct {
	mu       sync.RWMutex
	points   []domain.Entity
	carriers []domain.Entity
	depots   []domain.Depot
	results  map[string]savedResult

	optimizer *localopt.Optimizer
	training  *trainingSim
	now       func() time.Time
}

type Option func(*Backend)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithEpisodeRate sets how many simulated training episodes pass per second.
func WithEpisodeRate(perSecond float64) Option {
	return func(b *Backend) {
		if perSecond > 0 {
			b.training.rate = perSecond
		}
	}
}

// WithRoads draws road geometry for requests that ask for real roads.
func WithRoads(r ports.RoadRouter) Option {
	return func(b *Backend) { b.optimizer.UseRoads(r) }
}

func NewBackend(seed Seed, opts ...Option) *Backend {
	b := &Backend{
		points:   slices.Clone(seed.Points),
		carriers: slices.Clone(seed.Carriers),
		depots:   slices.Clone(seed.Depots),
		results:  map[string]savedResult{},
		training: &trainingSim{rate: defaultEpisodeRate},
		now:      time.Now,
	}
	b.optimizer = localopt.NewOptimizer(b, localopt.DefaultSpeedKmh)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) ListPoints(ctx context.Context) ([]domain.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.points), nil
}

func (b *Backend) ListCarriers(ctx context.Context) ([]domain.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.carriers), nil
}

func (b *Backend) ListDepots(ctx context.Context) ([]domain.Depot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.depots), nil
}

// SetEntities replaces one entity list, as an edit on the backend would.
func (b *Backend) SetEntities(kind domain.EntityKind, entities []domain.Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch kind {
	case domain.KindPoints:
		b.points = slices.Clone(entities)
	case domain.KindCarriers:
		b.carriers = slices.Clone(entities)
	}
}

// RemoveEntity deletes one entity; it reports whether it existed.
func (b *Backend) RemoveEntity(kind domain.EntityKind, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := &b.points
	if kind == domain.KindCarriers {
		list = &b.carriers
	}
	n := len(*list)
	*list = slices.DeleteFunc(slices.Clone(*list), func(e domain.Entity) bool { return e.ID == id })
	return len(*list) != n
}

// Optimize plans with localopt and saves one result per carrier route.
func (b *Backend) Optimize(ctx context.Context, req domain.OptimizationRequest) (*domain.OptimizationResult, error) {
	res, err := b.optimizer.Optimize(ctx, req)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	created := b.now()
	for _, r := range res.Routes {
		id := uuid.NewString()
		b.results[id] = savedResult{
			info: domain.ResultInfo{
				ID:          id,
				CarrierID:   r.CarrierID,
				DepotID:     req.DepotID,
				Method:      string(res.Method),
				Status:      "planned",
				TotalMetric: r.TotalMetric,
				CreatedAt:   created,
			},
			result: domain.OptimizationResult{
				Method:      res.Method,
				DepotID:     req.DepotID,
				Routes:      []domain.RouteAssignment{r},
				TotalMetric: r.TotalMetric,
				Served:      len(r.Stops),
			},
		}
	}
	return res, nil
}

func (b *Backend) ListSavedResults(ctx context.Context) ([]domain.ResultInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.ResultInfo, 0, len(b.results))
	for _, r := range b.results {
		out = append(out, r.info)
	}
	// Newest first, like the service.
	slices.SortFunc(out, func(x, y domain.ResultInfo) int {
		if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return out, nil
}

func (b *Backend) LoadResult(ctx context.Context, id string) (*domain.OptimizationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.results[strings.TrimSpace(id)]
	if !ok {
		return nil, &domain.FatalError{Op: "load result", Err: fmt.Errorf("result %q: %w", id, domain.ErrNotFound)}
	}
	res := r.result
	res.Routes = slices.Clone(res.Routes)
	return &res, nil
}

func (b *Backend) DeleteResult(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id = strings.TrimSpace(id)
	if _, ok := b.results[id]; !ok {
		return &domain.FatalError{Op: "delete result", Err: fmt.Errorf("result %q: %w", id, domain.ErrNotFound)}
	}
	delete(b.results, id)
	log.Printf("op=memory.delete_result id=%s", id)
	return nil
}
