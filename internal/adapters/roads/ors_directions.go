package roads

import (
	"bytes"
	"context"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/httpx"
	"delivery-dashboard/internal/platform/obs"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	DefaultBaseURL = "https://api.openrouteservice.org"
	DefaultProfile = "driving-car"
	// ORS rejects directions requests with more waypoints than this.
	maxWaypoints = 50
)

// ORSRouter implements ports.RoadRouter using the OpenRouteService
// directions endpoint.
//
// Paths are memoized per waypoint sequence for the life of the router, so
// redrawing a saved result costs one request. The router is safe for
// concurrent use.
type ORSRouter struct {
	http    *httpx.Retrier
	apiKey  string
	baseURL string
	profile string
	memo    *xsync.MapOf[string, []domain.Coordinates]
}

func NewORSRouter(apiKey, baseURL string, session *http.Client) (*ORSRouter, error) {
	if apiKey == "" {
		return nil, errors.New("ORS api key is empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &ORSRouter{
		http:    httpx.NewRetrier(session),
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: DefaultProfile,
		memo:    xsync.NewMapOf[string, []domain.Coordinates](),
	}, nil
}

type directionsRequest struct {
	Coordinates [][]float64 `json:"coordinates"`
}

type directionsResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// memoKey joins rounded coordinates; 1e-6 degrees is well under a meter.
func memoKey(waypoints []domain.Coordinates) string {
	var b strings.Builder
	for i, c := range waypoints {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.FormatFloat(c.Lon, 'f', 6, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(c.Lat, 'f', 6, 64))
	}
	return b.String()
}

// RoadPath returns the road-following polyline through waypoints, in order.
func (o *ORSRouter) RoadPath(
	ctx context.Context,
	waypoints []domain.Coordinates,
) (_ []domain.Coordinates, err error) {
	defer obs.Time(ctx, "ors.RoadPath")(&err)

	if len(waypoints) < 2 {
		return nil, errors.New("road path: at least two waypoints are required")
	}
	if len(waypoints) > maxWaypoints {
		return nil, fmt.Errorf("road path: %d waypoints exceeds limit %d", len(waypoints), maxWaypoints)
	}

	key := memoKey(waypoints)
	if path, ok := o.memo.Load(key); ok {
		return path, nil
	}

	coords := make([][]float64, 0, len(waypoints))
	for _, c := range waypoints {
		coords = append(coords, c.CoordsToList())
	}
	payload, err := json.Marshal(directionsRequest{Coordinates: coords})
	if err != nil {
		return nil, fmt.Errorf("marshal directions request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/directions/%s/geojson", o.baseURL, o.profile)
	resp, err := o.http.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", o.apiKey)
		req.Header.Set("Accept", "application/geo+json, application/json")
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("directions request failed: %w", err)
	}
	defer resp.Body.Close()

	var dr directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("decode directions response: %w", err)
	}
	if len(dr.Features) == 0 {
		return nil, errors.New("directions response has no features")
	}

	raw := dr.Features[0].Geometry.Coordinates
	path := make([]domain.Coordinates, 0, len(raw))
	for i, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("directions geometry point #%d is malformed", i+1)
		}
		path = append(path, domain.Coordinates{Lon: pair[0], Lat: pair[1]})
	}

	o.memo.Store(key, path)
	return path, nil
}
