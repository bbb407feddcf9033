// Package state holds the client-side containers for entity lists and the
// user's selection over them.
package state

import (
	"delivery-dashboard/internal/domain"
	"slices"
	"sync"
)

// EntitySet is an immutable snapshot of one entity kind.
type EntitySet struct {
	version  uint64
	entities []domain.Entity
	index    map[string]int
}

var emptySet = &EntitySet{index: map[string]int{}}

func newEntitySet(version uint64, entities []domain.Entity) *EntitySet {
	set := &EntitySet{
		version:  version,
		entities: make([]domain.Entity, 0, len(entities)),
		index:    make(map[string]int, len(entities)),
	}
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		// Later duplicates replace earlier ones but keep the first position.
		if i, ok := set.index[e.ID]; ok {
			set.entities[i] = e
			continue
		}
		set.index[e.ID] = len(set.entities)
		set.entities = append(set.entities, e)
	}
	return set
}

// Version increments every time the kind is replaced.
func (s *EntitySet) Version() uint64 { return s.version }

func (s *EntitySet) Len() int { return len(s.entities) }

func (s *EntitySet) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *EntitySet) Get(id string) (domain.Entity, bool) {
	i, ok := s.index[id]
	if !ok {
		return domain.Entity{}, false
	}
	return s.entities[i], true
}

// Entities returns the entities in backend order. The slice is a copy;
// the entities themselves are shared and must be treated as read-only.
func (s *EntitySet) Entities() []domain.Entity { return slices.Clone(s.entities) }

// IDs returns the ids in backend order.
func (s *EntitySet) IDs() []string {
	ids := make([]string, len(s.entities))
	for i, e := range s.entities {
		ids[i] = e.ID
	}
	return ids
}

// Registry holds the latest known list of each selectable entity kind.
// Each Replace swaps in a new immutable EntitySet.
type Registry struct {
	mu      sync.RWMutex
	sets    map[domain.EntityKind]*EntitySet
	version uint64
}

func NewRegistry() *Registry {
	return &Registry{sets: make(map[domain.EntityKind]*EntitySet)}
}

// Replace swaps the snapshot for kind wholesale. Entities without an id are
// ignored.
func (r *Registry) Replace(kind domain.EntityKind, entities []domain.Entity) *EntitySet {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.version++
	set := newEntitySet(r.version, entities)
	r.sets[kind] = set
	return set
}

// Snapshot returns the current set for kind; never nil.
func (r *Registry) Snapshot(kind domain.EntityKind) *EntitySet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if set, ok := r.sets[kind]; ok {
		return set
	}
	return emptySet
}

// Version changes whenever any kind is replaced.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
