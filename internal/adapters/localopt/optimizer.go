package localopt

import (
	"context"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/obs"
	"delivery-dashboard/internal/ports"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

const DefaultSpeedKmh = 30

// Optimizer plans routes in-process with heuristics, for offline use and
// tests. It implements ports.Optimizer over any EntitySource.
//
// Every method starts from a distance-banded assignment and a
// nearest-neighbor order; the solver method additionally applies 2-opt.
// Points without coordinates are reported as unserved.
type Optimizer struct {
	source   ports.EntitySource
	roads    ports.RoadRouter
	speedKmh float64
}

func NewOptimizer(source ports.EntitySource, speedKmh float64) *Optimizer {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	return &Optimizer{source: source, speedKmh: speedKmh}
}

// UseRoads makes requests with UseRealRoads draw road-following geometry.
// Without a router, or when it fails, routes keep straight segments.
func (o *Optimizer) UseRoads(r ports.RoadRouter) {
	o.roads = r
}

func (o *Optimizer) roadGeometry(ctx context.Context, path []domain.Coordinates) ([]domain.Coordinates, error) {
	road, err := o.roads.RoadPath(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("op=localopt.roads waypoints=%d err=%q fallback=straight", len(path), err)
		return path, nil
	}
	if len(road) < 2 {
		return path, nil
	}
	return road, nil
}

func (o *Optimizer) Optimize(ctx context.Context, req domain.OptimizationRequest) (_ *domain.OptimizationResult, err error) {
	defer obs.Time(ctx, "localopt.Optimize")(&err)
	started := time.Now()

	var (
		points   []domain.Entity
		carriers []domain.Entity
		depots   []domain.Depot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { points, err = o.source.ListPoints(gctx); return err })
	g.Go(func() (err error) { carriers, err = o.source.ListCarriers(gctx); return err })
	g.Go(func() (err error) { depots, err = o.source.ListDepots(gctx); return err })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("optimize: load entities: %w", err)
	}

	var depot *domain.Depot
	for i := range depots {
		if depots[i].ID == req.DepotID {
			depot = &depots[i]
			break
		}
	}
	if depot == nil {
		return nil, &domain.MissingDepotError{DepotID: req.DepotID}
	}

	byID := make(map[string]domain.Entity, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}
	known := make(map[string]struct{}, len(carriers))
	for _, c := range carriers {
		known[c.ID] = struct{}{}
	}

	carrierIDs := make([]string, 0, len(req.CarrierIDs))
	for _, id := range req.CarrierIDs {
		if _, ok := known[id]; ok {
			carrierIDs = append(carrierIDs, id)
		}
	}
	if len(carrierIDs) == 0 {
		return nil, &domain.FatalError{Op: "optimize", Err: fmt.Errorf("none of %d carriers exist", len(req.CarrierIDs))}
	}

	sites := make([]site, 0, len(req.PointIDs))
	unserved := 0
	for _, id := range req.PointIDs {
		p, ok := byID[id]
		if !ok {
			unserved++
			continue
		}
		loc, ok := p.Location()
		if !ok {
			unserved++
			continue
		}
		sites = append(sites, site{ID: id, Location: loc})
	}

	bands, err := assignByDistance(depot.Location, sites, len(carrierIDs))
	if err != nil {
		return nil, &domain.FatalError{Op: "optimize", Err: err}
	}

	res := &domain.OptimizationResult{Method: req.Method, DepotID: req.DepotID}
	for i, band := range bands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(band) == 0 {
			continue
		}

		l, err := nearestNeighborRoute(depot.Location, band, o.speedKmh)
		if err != nil {
			return nil, &domain.FatalError{Op: "optimize", Err: err}
		}
		if req.Method == domain.MethodSolver {
			order := make([]site, len(l.Stops))
			for j, s := range l.Stops {
				order[j] = site{ID: s.EntityID, Location: l.Path[j+1]}
			}
			l = walk(depot.Location, twoOpt(depot.Location, order), o.speedKmh)
		}

		geometry := l.Path
		if req.UseRealRoads && o.roads != nil {
			if geometry, err = o.roadGeometry(ctx, l.Path); err != nil {
				return nil, err
			}
		}

		res.Routes = append(res.Routes, domain.RouteAssignment{
			CarrierID:   carrierIDs[i],
			Stops:       l.Stops,
			Geometry:    geometry,
			TotalMetric: l.Meters / 1000,
		})
		res.TotalMetric += l.Meters / 1000
		res.TotalTime += l.Travel
		res.Served += len(l.Stops)
	}
	res.Unserved = unserved
	res.ComputeTime = time.Since(started)

	log.Printf("op=localopt.optimize method=%s routes=%d served=%d unserved=%d km=%.2f",
		req.Method, len(res.Routes), res.Served, res.Unserved, res.TotalMetric)
	return res, nil
}
