package localopt

import (
	"cmp"
	"delivery-dashboard/internal/domain"
	"errors"
	"slices"
)

// assignByDistance splits sites across carriers using a simple heuristic.
//
// Sites are sorted by distance from the depot and chunked so each carrier
// receives a contiguous band. It does not solve a full VRP; it is a
// deterministic, reasonably balanced distribution.
func assignByDistance(depot domain.Coordinates, sites []site, carriers int) ([][]site, error) {
	if carriers <= 0 {
		return nil, errors.New("assign sites: carrier count must be positive")
	}

	sorted := slices.Clone(sites)
	slices.SortFunc(sorted, func(a, b site) int {
		da := domain.HaversineMeters(depot, a.Location)
		db := domain.HaversineMeters(depot, b.Location)
		if c := cmp.Compare(da, db); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	bands := make([][]site, carriers)
	if len(sorted) == 0 {
		return bands, nil
	}

	// Ceiling division spreads sites as evenly as possible.
	chunk := (len(sorted) + carriers - 1) / carriers
	for ci := 0; ci < carriers; ci++ {
		start := ci * chunk
		if start >= len(sorted) {
			break
		}
		end := min(start+chunk, len(sorted))
		bands[ci] = sorted[start:end]
	}
	return bands, nil
}
