package domain

import "math"

const earthRadiusMeters = 6371000.0

// Immutable geographic coordinates (longitude, latitude).
type Coordinates struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Return coordinates as [lon, lat] for GeoJSON-style polylines.
func (c Coordinates) CoordsToList() []float64 { return []float64{c.Lon, c.Lat} }

// Valid reports whether the coordinates fall inside the WGS84 ranges.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
