package services

import (
	"delivery-dashboard/internal/domain"
	"slices"
	"strings"
)

// Current selection as read from the SelectionStore.
type SelectionView struct {
	Points   []string
	Carriers []string
}

type RequestOptions struct {
	DepotID      string
	UseRealRoads bool
	// Known depots; when non-nil DepotID must be one of them.
	Depots []domain.Depot
}

// BuildOptimizationRequest validates the current selection and options.
//
// Validation short-circuits in this order: points selected, carriers
// selected, depot configured, method known. The returned request owns copies
// of the id slices, so later selection changes cannot alter it.
func BuildOptimizationRequest(sel SelectionView, method domain.Method, opts RequestOptions) (domain.OptimizationRequest, error) {
	if len(sel.Points) == 0 {
		return domain.OptimizationRequest{}, &domain.EmptySelectionError{Kind: domain.KindPoints}
	}
	if len(sel.Carriers) == 0 {
		return domain.OptimizationRequest{}, &domain.EmptySelectionError{Kind: domain.KindCarriers}
	}

	depotID := strings.TrimSpace(opts.DepotID)
	if depotID == "" {
		return domain.OptimizationRequest{}, &domain.MissingDepotError{}
	}
	if opts.Depots != nil && !slices.ContainsFunc(opts.Depots, func(d domain.Depot) bool { return d.ID == depotID }) {
		return domain.OptimizationRequest{}, &domain.MissingDepotError{DepotID: depotID}
	}

	m, err := domain.ParseMethod(string(method))
	if err != nil {
		return domain.OptimizationRequest{}, err
	}

	points := slices.Clone(sel.Points)
	carriers := slices.Clone(sel.Carriers)
	slices.Sort(points)
	slices.Sort(carriers)

	return domain.OptimizationRequest{
		PointIDs:     slices.Compact(points),
		CarrierIDs:   slices.Compact(carriers),
		DepotID:      depotID,
		Method:       m,
		UseRealRoads: opts.UseRealRoads,
	}, nil
}
