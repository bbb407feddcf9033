package memory

import (
	"delivery-dashboard/internal/domain"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type depotSeed struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

type fileSeed struct {
	Depots   []depotSeed      `json:"depots"`
	Points   []map[string]any `json:"points"`
	Carriers []map[string]any `json:"carriers"`
}

// Seed is the initial fleet of an in-memory backend.
type Seed struct {
	Depots   []domain.Depot
	Points   []domain.Entity
	Carriers []domain.Entity
}

// LoadSeed reads a fleet from a JSON file.
func LoadSeed(path string) (Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("load seed: read %q: %w", path, err)
	}
	return ParseSeed(b)
}

// ParseSeed validates a JSON fleet. Every row needs a unique, non-empty id;
// depots need valid coordinates.
func ParseSeed(b []byte) (Seed, error) {
	var data fileSeed
	if err := json.Unmarshal(b, &data); err != nil {
		return Seed{}, fmt.Errorf("load seed: parse json: %w", err)
	}

	var seed Seed
	seen := map[string]struct{}{}
	for i, d := range data.Depots {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return Seed{}, fmt.Errorf("load seed: depot at index %d: id cannot be empty", i+1)
		}
		if _, dup := seen["depot/"+id]; dup {
			return Seed{}, fmt.Errorf("load seed: duplicate depot id %q", id)
		}
		seen["depot/"+id] = struct{}{}

		loc := domain.Coordinates{Lat: d.Lat, Lon: d.Lon}
		if !loc.Valid() {
			return Seed{}, fmt.Errorf("load seed: depot %q: invalid coordinates", id)
		}
		seed.Depots = append(seed.Depots, domain.Depot{ID: id, Name: d.Name, Address: d.Address, Location: loc})
	}

	var err error
	if seed.Points, err = seedEntities("point", data.Points, seen); err != nil {
		return Seed{}, err
	}
	if seed.Carriers, err = seedEntities("carrier", data.Carriers, seen); err != nil {
		return Seed{}, err
	}
	return seed, nil
}

func seedEntities(kind string, rows []map[string]any, seen map[string]struct{}) ([]domain.Entity, error) {
	out := make([]domain.Entity, 0, len(rows))
	for i, row := range rows {
		id, _ := row["id"].(string)
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("load seed: %s at index %d: id cannot be empty", kind, i+1)
		}
		if _, dup := seen[kind+"/"+id]; dup {
			return nil, fmt.Errorf("load seed: duplicate %s id %q", kind, id)
		}
		seen[kind+"/"+id] = struct{}{}

		attrs := make(map[string]any, len(row)-1)
		for k, v := range row {
			if k != "id" {
				attrs[k] = v
			}
		}
		out = append(out, domain.Entity{ID: id, Attributes: attrs})
	}
	return out, nil
}
