package backend

import (
	"context"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/obs"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var methodToAPI = map[domain.Method]string{
	domain.MethodLearned: "rl",
	domain.MethodGreedy:  "greedy",
	domain.MethodSolver:  "ortools",
}

func methodFromAPI(s string) domain.Method {
	for m, api := range methodToAPI {
		if api == s {
			return m
		}
	}
	return domain.Method(s)
}

type optimizeRequest struct {
	DepotID      string   `json:"depot_id"`
	CustomerIDs  []string `json:"customer_ids"`
	VehicleIDs   []string `json:"vehicle_ids"`
	Method       string   `json:"method"`
	UseRealRoads bool     `json:"use_real_roads"`
}

type apiRoutePoint struct {
	CustomerID  *string         `json:"customer_id"`
	Location    *apiCoordinates `json:"location"`
	ArrivalTime *time.Time      `json:"arrival_time"`
	Sequence    int             `json:"sequence"`
}

type apiRoute struct {
	VehicleID       string           `json:"vehicle_id"`
	Points          []apiRoutePoint  `json:"points"`
	TotalDistanceKM float64          `json:"total_distance_km"`
	Geometry        []apiCoordinates `json:"geometry"`
}

type optimizeResponse struct {
	Success            bool       `json:"success"`
	MethodUsed         string     `json:"method_used"`
	Routes             []apiRoute `json:"routes"`
	TotalDistanceKM    float64    `json:"total_distance_km"`
	TotalTimeMinutes   float64    `json:"total_time_minutes"`
	CustomersServed    int        `json:"customers_served"`
	CustomersUnserved  int        `json:"customers_unserved"`
	OptimizationTimeMS int64      `json:"optimization_time_ms"`
}

func (c *Client) Optimize(ctx context.Context, req domain.OptimizationRequest) (_ *domain.OptimizationResult, err error) {
	defer obs.Time(ctx, "backend.Optimize")(&err)

	method, ok := methodToAPI[req.Method]
	if !ok {
		return nil, &domain.ValidationError{Field: "method", Message: fmt.Sprintf("unknown optimization method %q", req.Method)}
	}

	body := optimizeRequest{
		DepotID:      req.DepotID,
		CustomerIDs:  req.PointIDs,
		VehicleIDs:   req.CarrierIDs,
		Method:       method,
		UseRealRoads: req.UseRealRoads,
	}

	var resp optimizeResponse
	if err := c.call(ctx, "optimize", http.MethodPost, "/api/v1/optimization/optimize", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &domain.FatalError{Op: "optimize", Err: fmt.Errorf("optimizer reported failure for method %s", method)}
	}

	routes := make([]domain.RouteAssignment, 0, len(resp.Routes))
	for i, r := range resp.Routes {
		a, err := decodeRoute(r)
		if err != nil {
			return nil, &domain.FatalError{Op: "optimize", Err: fmt.Errorf("route #%d: %w", i+1, err)}
		}
		routes = append(routes, a)
	}

	used := req.Method
	if resp.MethodUsed != "" {
		used = methodFromAPI(resp.MethodUsed)
	}

	return &domain.OptimizationResult{
		Method:      used,
		DepotID:     req.DepotID,
		Routes:      routes,
		TotalMetric: resp.TotalDistanceKM,
		TotalTime:   time.Duration(resp.TotalTimeMinutes * float64(time.Minute)),
		ComputeTime: time.Duration(resp.OptimizationTimeMS) * time.Millisecond,
		Served:      resp.CustomersServed,
		Unserved:    resp.CustomersUnserved,
	}, nil
}

// decodeRoute keeps customer stops in sequence order. Depot points carry no
// customer id and only anchor the arrival offsets.
func decodeRoute(r apiRoute) (domain.RouteAssignment, error) {
	if strings.TrimSpace(r.VehicleID) == "" {
		return domain.RouteAssignment{}, fmt.Errorf("missing vehicle_id")
	}

	var departure *time.Time
	for _, p := range r.Points {
		if p.ArrivalTime != nil {
			departure = p.ArrivalTime
			break
		}
	}

	stops := make([]domain.RouteStop, 0, len(r.Points))
	for _, p := range r.Points {
		if p.CustomerID == nil || strings.TrimSpace(*p.CustomerID) == "" {
			continue
		}
		var offset time.Duration
		if p.ArrivalTime != nil && departure != nil {
			offset = max(p.ArrivalTime.Sub(*departure), 0)
		}
		stops = append(stops, domain.RouteStop{EntityID: strings.TrimSpace(*p.CustomerID), ArrivalOffset: offset})
	}

	geometry := make([]domain.Coordinates, 0, len(r.Geometry))
	for _, g := range r.Geometry {
		if c, ok := g.coords(); ok {
			geometry = append(geometry, c)
		}
	}

	return domain.RouteAssignment{
		CarrierID:   strings.TrimSpace(r.VehicleID),
		Stops:       stops,
		Geometry:    geometry,
		TotalMetric: r.TotalDistanceKM,
	}, nil
}

type apiSavedRoute struct {
	ID                 string    `json:"id"`
	VehicleID          string    `json:"vehicle_id"`
	DepotID            string    `json:"depot_id"`
	OptimizationMethod string    `json:"optimization_method"`
	Status             string    `json:"status"`
	TotalDistanceKM    float64   `json:"total_distance_km"`
	TotalTimeMinutes   float64   `json:"total_time_minutes"`
	CreatedAt          time.Time `json:"created_at"`
	Sequence           *struct {
		Points []apiRoutePoint `json:"points"`
	} `json:"sequence"`
	Geometry *struct {
		Coordinates [][]float64 `json:"coordinates"`
	} `json:"geometry"`
}

func (c *Client) ListSavedResults(ctx context.Context) (_ []domain.ResultInfo, err error) {
	defer obs.Time(ctx, "backend.ListSavedResults")(&err)

	var raw []apiSavedRoute
	if err := c.call(ctx, "list results", http.MethodGet, "/api/v1/routes/", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]domain.ResultInfo, 0, len(raw))
	for _, r := range raw {
		if r.ID == "" {
			continue
		}
		out = append(out, domain.ResultInfo{
			ID:          r.ID,
			CarrierID:   r.VehicleID,
			DepotID:     r.DepotID,
			Method:      string(methodFromAPI(r.OptimizationMethod)),
			Status:      r.Status,
			TotalMetric: r.TotalDistanceKM,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

// LoadResult rebuilds a single-carrier optimization result from a saved route.
func (c *Client) LoadResult(ctx context.Context, id string) (_ *domain.OptimizationResult, err error) {
	defer obs.Time(ctx, "backend.LoadResult")(&err)

	if strings.TrimSpace(id) == "" {
		return nil, &domain.ValidationError{Field: "id", Message: "result id is required"}
	}

	var r apiSavedRoute
	if err := c.call(ctx, "load result", http.MethodGet, "/api/v1/routes/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}

	route := apiRoute{VehicleID: r.VehicleID, TotalDistanceKM: r.TotalDistanceKM}
	if r.Sequence != nil {
		route.Points = r.Sequence.Points
	}
	a, err := decodeRoute(route)
	if err != nil {
		return nil, &domain.FatalError{Op: "load result", Err: err}
	}
	if r.Geometry != nil {
		for _, pair := range r.Geometry.Coordinates {
			if len(pair) < 2 {
				continue
			}
			// GeoJSON order is lon, lat.
			if c := (domain.Coordinates{Lon: pair[0], Lat: pair[1]}); c.Valid() {
				a.Geometry = append(a.Geometry, c)
			}
		}
	}

	return &domain.OptimizationResult{
		Method:      methodFromAPI(r.OptimizationMethod),
		DepotID:     r.DepotID,
		Routes:      []domain.RouteAssignment{a},
		TotalMetric: r.TotalDistanceKM,
		TotalTime:   time.Duration(r.TotalTimeMinutes * float64(time.Minute)),
		Served:      len(a.Stops),
	}, nil
}

func (c *Client) DeleteResult(ctx context.Context, id string) (err error) {
	defer obs.Time(ctx, "backend.DeleteResult")(&err)

	if strings.TrimSpace(id) == "" {
		return &domain.ValidationError{Field: "id", Message: "result id is required"}
	}
	return c.call(ctx, "delete result", http.MethodDelete, "/api/v1/routes/"+url.PathEscape(id), nil, nil)
}
