package localopt

import (
	"delivery-dashboard/internal/domain"
	"errors"
	"math"
	"time"
)

// A located stop candidate.
type site struct {
	ID       string
	Location domain.Coordinates
}

type leg struct {
	Stops  []domain.RouteStop
	Path   []domain.Coordinates
	Meters float64
	Travel time.Duration
}

// nearestNeighborRoute orders sites with a greedy nearest-neighbor walk from
// the depot and back.
//
// Each step picks the closest remaining site by great-circle distance; ties
// go to the lexically smaller id so the result is deterministic. Arrival
// offsets assume a constant speed.
func nearestNeighborRoute(depot domain.Coordinates, sites []site, speedKmh float64) (leg, error) {
	if speedKmh <= 0 {
		return leg{}, errors.New("nearest neighbor: speed must be positive")
	}

	order := make([]site, 0, len(sites))
	remaining := make(map[string]site, len(sites))
	for _, s := range sites {
		remaining[s.ID] = s
	}

	current := depot
	for len(remaining) > 0 {
		var best site
		minMeters := math.Inf(1)
		for id, s := range remaining {
			d := domain.HaversineMeters(current, s.Location)
			if d < minMeters || (d == minMeters && id < best.ID) {
				minMeters = d
				best = s
			}
		}
		order = append(order, best)
		delete(remaining, best.ID)
		current = best.Location
	}

	return walk(depot, order, speedKmh), nil
}

// walk computes offsets and totals for a fixed visiting order.
func walk(depot domain.Coordinates, order []site, speedKmh float64) leg {
	metersPerSecond := speedKmh * 1000 / 3600

	out := leg{
		Stops: make([]domain.RouteStop, 0, len(order)),
		Path:  make([]domain.Coordinates, 0, len(order)+2),
	}
	out.Path = append(out.Path, depot)

	current := depot
	for _, s := range order {
		out.Meters += domain.HaversineMeters(current, s.Location)
		out.Travel = time.Duration(out.Meters / metersPerSecond * float64(time.Second))
		out.Stops = append(out.Stops, domain.RouteStop{EntityID: s.ID, ArrivalOffset: out.Travel})
		out.Path = append(out.Path, s.Location)
		current = s.Location
	}

	// Return leg counts toward totals.
	out.Meters += domain.HaversineMeters(current, depot)
	out.Travel = time.Duration(out.Meters / metersPerSecond * float64(time.Second))
	out.Path = append(out.Path, depot)
	return out
}

// twoOpt improves a visiting order by reversing segments while that shortens
// the closed tour.
func twoOpt(depot domain.Coordinates, order []site) []site {
	if len(order) < 3 {
		return order
	}

	tour := append([]site(nil), order...)
	at := func(i int) domain.Coordinates {
		if i < 0 || i >= len(tour) {
			return depot
		}
		return tour[i].Location
	}

	improved := true
	for improved {
		improved = false
		for i := 0; i < len(tour)-1; i++ {
			for j := i + 1; j < len(tour); j++ {
				before := domain.HaversineMeters(at(i-1), at(i)) + domain.HaversineMeters(at(j), at(j+1))
				after := domain.HaversineMeters(at(i-1), at(j)) + domain.HaversineMeters(at(i), at(j+1))
				if after < before-1e-6 {
					for l, r := i, j; l < r; l, r = l+1, r-1 {
						tour[l], tour[r] = tour[r], tour[l]
					}
					improved = true
				}
			}
		}
	}
	return tour
}
