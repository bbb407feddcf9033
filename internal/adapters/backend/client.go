package backend

import (
	"context"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/httpx"
	"delivery-dashboard/internal/platform/obs"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultEntityLimit = 500

// Client implements ports.Backend against the optimization service's
// /api/v1 REST surface.
//
// Every response is decoded into typed structs and validated here; nothing
// untyped leaves this package. Transport failures come back as
// *domain.TransientNetworkError or *domain.FatalError.
//
// The client is safe for concurrent use.
type Client struct {
	http        *httpx.Retrier
	baseURL     string
	apiKey      string
	entityLimit int
}

type Option func(*Client)

// WithHTTPClient replaces the default session (10s timeout).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http.Session = h }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithRetry sets the attempt budget and the first backoff delay.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		c.http.MaxAttempts = max(attempts, 1)
		c.http.Backoff = backoff
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend base url is empty")
	}

	c := &Client{
		http:        httpx.NewRetrier(nil),
		baseURL:     baseURL,
		entityLimit: defaultEntityLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ping checks that the backend answers its health endpoint.
func (c *Client) Ping(ctx context.Context) (err error) {
	defer obs.Time(ctx, "backend.Ping")(&err)
	return c.call(ctx, "ping", http.MethodGet, "/api/v1/health", nil, nil)
}

type apiCoordinates struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

func (a *apiCoordinates) coords() (domain.Coordinates, bool) {
	if a == nil || a.Lat == nil || a.Lon == nil {
		return domain.Coordinates{}, false
	}
	c := domain.Coordinates{Lat: *a.Lat, Lon: *a.Lon}
	return c, c.Valid()
}

func (c *Client) ListPoints(ctx context.Context) (_ []domain.Entity, err error) {
	defer obs.Time(ctx, "backend.ListPoints")(&err)

	var raw []map[string]any
	path := fmt.Sprintf("/api/v1/customers/?limit=%d", c.entityLimit)
	if err := c.call(ctx, "list points", http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return decodeEntities("list points", raw, "location")
}

func (c *Client) ListCarriers(ctx context.Context) (_ []domain.Entity, err error) {
	defer obs.Time(ctx, "backend.ListCarriers")(&err)

	var raw []map[string]any
	path := fmt.Sprintf("/api/v1/vehicles/?limit=%d", c.entityLimit)
	if err := c.call(ctx, "list carriers", http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return decodeEntities("list carriers", raw, "current_location")
}

type apiDepot struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (c *Client) ListDepots(ctx context.Context) (_ []domain.Depot, err error) {
	defer obs.Time(ctx, "backend.ListDepots")(&err)

	var raw []apiDepot
	if err := c.call(ctx, "list depots", http.MethodGet, "/api/v1/depots/", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]domain.Depot, 0, len(raw))
	for i, d := range raw {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return nil, &domain.FatalError{Op: "list depots", Err: fmt.Errorf("depot #%d has no id", i+1)}
		}
		var loc domain.Coordinates
		if d.Latitude != nil && d.Longitude != nil {
			loc = domain.Coordinates{Lat: *d.Latitude, Lon: *d.Longitude}
		}
		out = append(out, domain.Depot{ID: id, Name: d.Name, Address: d.Address, Location: loc})
	}
	return out, nil
}

// decodeEntities turns the backend's loosely shaped rows into entities. The
// nested location object is flattened into lat/lon attributes.
func decodeEntities(op string, raw []map[string]any, locationKey string) ([]domain.Entity, error) {
	out := make([]domain.Entity, 0, len(raw))
	for i, row := range raw {
		id := idString(row["id"])
		if id == "" {
			return nil, &domain.FatalError{Op: op, Err: fmt.Errorf("row #%d has no id", i+1)}
		}

		attrs := make(map[string]any, len(row)+1)
		for k, v := range row {
			if k == "id" || k == locationKey {
				continue
			}
			attrs[k] = v
		}
		if loc, ok := row[locationKey].(map[string]any); ok {
			if lat, ok := loc["lat"].(float64); ok {
				attrs["lat"] = lat
			}
			if lon, ok := loc["lon"].(float64); ok {
				attrs["lon"] = lon
			}
		}
		out = append(out, domain.Entity{ID: id, Attributes: attrs})
	}
	return out, nil
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return fmt.Sprintf("%.0f", id)
	}
	return ""
}
