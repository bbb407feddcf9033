package services

import (
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/obs"
	"delivery-dashboard/internal/state"
	"fmt"
	"log"
	"slices"
)

// DefaultPalette colors route overlays by assignment position.
var DefaultPalette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#42d4f4", "#f032e6", "#9a6324",
}

// Map-ready overlay for a single carrier's route.
type RouteOverlay struct {
	CarrierID    string               `json:"carrier_id"`
	CarrierLabel string               `json:"carrier_label"`
	Color        string               `json:"color"`
	Stops        []domain.RouteStop   `json:"stops"`
	Geometry     []domain.Coordinates `json:"geometry"`
	TotalMetric  float64              `json:"total_metric"`
}

type RouteInputs struct {
	Assignments []domain.RouteAssignment
	Points      *state.EntitySet
	Carriers    *state.EntitySet
	// Optional; used to close straight-line geometry when the optimizer sent none.
	Depot   *domain.Depot
	Palette []string
}

// AssembleRoutes merges route assignments with the current registry.
//
// The color of an overlay is palette[i mod len(palette)] where i is the
// assignment's position in the result, not a function of the carrier id:
// colors are stable within one optimization run and may change between runs.
//
// Stops whose entity is missing from the registry (a stale result referencing
// a deleted point) are dropped and counted in the returned warning instead
// of failing the whole assembly. The warning is nil when nothing was dropped.
func AssembleRoutes(in RouteInputs) ([]RouteOverlay, *domain.PartialDataWarning) {
	palette := in.Palette
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	points := in.Points
	if points == nil {
		points = state.NewRegistry().Snapshot(domain.KindPoints)
	}

	overlays := make([]RouteOverlay, 0, len(in.Assignments))
	var dangling []string

	for i, a := range in.Assignments {
		stops := make([]domain.RouteStop, 0, len(a.Stops))
		for _, s := range a.Stops {
			if !points.Has(s.EntityID) {
				log.Printf("op=routes.assemble carrier=%s entity=%s msg=%q", a.CarrierID, s.EntityID, "dangling stop dropped")
				dangling = append(dangling, fmt.Sprintf("%s/%s", a.CarrierID, s.EntityID))
				continue
			}
			stops = append(stops, s)
		}

		label := a.CarrierID
		if in.Carriers != nil {
			if c, ok := in.Carriers.Get(a.CarrierID); ok {
				label = c.Label()
			}
		}

		geometry := slices.Clone(a.Geometry)
		if len(geometry) == 0 {
			geometry = straightLineGeometry(stops, points, in.Depot)
		}

		overlays = append(overlays, RouteOverlay{
			CarrierID:    a.CarrierID,
			CarrierLabel: label,
			Color:        palette[i%len(palette)],
			Stops:        stops,
			Geometry:     geometry,
			TotalMetric:  a.TotalMetric,
		})
	}

	if len(dangling) == 0 {
		return overlays, nil
	}
	obs.DanglingStops.Add(float64(len(dangling)))
	return overlays, &domain.PartialDataWarning{Dropped: len(dangling), References: dangling}
}

// straightLineGeometry connects depot -> stops -> depot for results that
// carry no road geometry. Stops without coordinates are skipped.
func straightLineGeometry(stops []domain.RouteStop, points *state.EntitySet, depot *domain.Depot) []domain.Coordinates {
	line := make([]domain.Coordinates, 0, len(stops)+2)
	if depot != nil {
		line = append(line, depot.Location)
	}
	for _, s := range stops {
		e, _ := points.Get(s.EntityID)
		if loc, ok := e.Location(); ok {
			line = append(line, loc)
		}
	}
	if depot != nil && len(line) > 1 {
		line = append(line, depot.Location)
	}
	if len(line) < 2 {
		return nil
	}
	return line
}
