package domain

import (
	"fmt"
	"strings"
	"time"
)

// Method selects the remote optimization strategy.
type Method string

const (
	MethodLearned Method = "learned"
	MethodGreedy  Method = "greedy"
	MethodSolver  Method = "solver"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodLearned, MethodGreedy, MethodSolver:
		return m, nil
	case "":
		return MethodLearned, nil
	}
	return "", &ValidationError{Field: "method", Message: fmt.Sprintf("unknown optimization method %q", s)}
}

// Represents a single stop in a route assignment.
// ArrivalOffset is measured from the carrier's departure at the depot.
type RouteStop struct {
	EntityID      string        `json:"entity_id"`
	ArrivalOffset time.Duration `json:"arrival_offset"`
}

// Represents the computed route for a single carrier.
// A RouteAssignment is the output of the remote optimizer and describes the
// ordered sequence of stops, the path geometry, and an aggregate metric
// (distance in kilometers for every method the backend exposes).
// It is immutable planning data.
type RouteAssignment struct {
	CarrierID   string        `json:"carrier_id"`
	Stops       []RouteStop   `json:"stops"`
	Geometry    []Coordinates `json:"geometry"`
	TotalMetric float64       `json:"total_metric"`
}

// Validated request for one optimization run. Id slices are owned copies.
type OptimizationRequest struct {
	PointIDs     []string `json:"point_ids"`
	CarrierIDs   []string `json:"carrier_ids"`
	DepotID      string   `json:"depot_id"`
	Method       Method   `json:"method"`
	UseRealRoads bool     `json:"use_real_roads"`
}

// Typed result of an optimization run, validated at the backend boundary.
type OptimizationResult struct {
	Method Method `json:"method"`
	// Depot the routes start and end at; empty when the backend did not say.
	DepotID     string            `json:"depot_id,omitempty"`
	Routes      []RouteAssignment `json:"routes"`
	TotalMetric float64           `json:"total_metric"`
	TotalTime   time.Duration     `json:"total_time"`
	ComputeTime time.Duration     `json:"compute_time"`
	Served      int               `json:"served"`
	Unserved    int               `json:"unserved"`
}

// Summary line for a saved optimization result.
type ResultInfo struct {
	ID          string    `json:"id"`
	CarrierID   string    `json:"carrier_id"`
	DepotID     string    `json:"depot_id"`
	Method      string    `json:"method"`
	Status      string    `json:"status"`
	TotalMetric float64   `json:"total_metric"`
	CreatedAt   time.Time `json:"created_at"`
}
