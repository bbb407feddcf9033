package domain

import (
	"fmt"
	"strconv"
)

// EntityKind names a selectable entity list.
type EntityKind string

const (
	KindPoints   EntityKind = "points"
	KindCarriers EntityKind = "carriers"
)

// Kinds lists every selectable kind in a stable order.
var Kinds = []EntityKind{KindPoints, KindCarriers}

func ParseEntityKind(s string) (EntityKind, error) {
	switch EntityKind(s) {
	case KindPoints, KindCarriers:
		return EntityKind(s), nil
	}
	return "", &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown entity kind %q", s)}
}

// Represents a selectable delivery point or carrier as returned by the backend.
// An Entity is an immutable snapshot: Attributes must not be modified after
// construction, and refreshes replace entities wholesale.
type Entity struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Location reads the "lat"/"lon" attributes, if both are present and numeric.
func (e Entity) Location() (Coordinates, bool) {
	lat, okLat := asFloat(e.Attributes["lat"])
	lon, okLon := asFloat(e.Attributes["lon"])
	if !okLat || !okLon {
		return Coordinates{}, false
	}
	c := Coordinates{Lon: lon, Lat: lat}
	return c, c.Valid()
}

// Label returns a human readable name for the entity, falling back to the id.
func (e Entity) Label() string {
	for _, key := range []string{"name", "plate_number"} {
		if s, ok := e.Attributes[key].(string); ok && s != "" {
			return s
		}
	}
	return e.ID
}

// Represents the fixed origin/destination of all routes in one optimization run.
type Depot struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Address  string      `json:"address,omitempty"`
	Location Coordinates `json:"location"`
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
