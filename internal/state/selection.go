package state

import (
	"delivery-dashboard/internal/domain"
	"slices"
	"sync"
)

// SelectionStore owns the set of selected ids per entity kind.
//
// Reads are always intersected with the registry's latest snapshot, so an
// id toggled before it exists (or after it was deleted) is never observed;
// Reconcile then removes it physically.
type SelectionStore struct {
	mu       sync.Mutex
	registry *Registry
	members  map[domain.EntityKind]map[string]struct{}
	version  uint64
}

func NewSelectionStore(registry *Registry) *SelectionStore {
	return &SelectionStore{
		registry: registry,
		members:  make(map[domain.EntityKind]map[string]struct{}),
	}
}

// Toggle flips membership of id and reports whether it is now selected.
func (s *SelectionStore) Toggle(kind domain.EntityKind, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.kindLocked(kind)
	s.version++
	if _, ok := set[id]; ok {
		delete(set, id)
		return false
	}
	set[id] = struct{}{}
	return true
}

// SelectAll replaces the selection with every id in the registry's latest
// snapshot for kind.
func (s *SelectionStore) SelectAll(kind domain.EntityKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.registry.Snapshot(kind).IDs()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	s.members[kind] = set
	s.version++
}

func (s *SelectionStore) Clear(kind domain.EntityKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.members[kind]) == 0 {
		return
	}
	s.members[kind] = make(map[string]struct{})
	s.version++
}

// Reconcile intersects the selection with currentIDs and returns how many
// ids were dropped. Idempotent.
func (s *SelectionStore) Reconcile(kind domain.EntityKind, currentIDs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(kind, currentIDs)
}

// Refresh replaces the registry snapshot for kind and reconciles the
// selection against it as one step.
func (s *SelectionStore) Refresh(kind domain.EntityKind, entities []domain.Entity) (*EntitySet, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.registry.Replace(kind, entities)
	dropped := s.reconcileLocked(kind, set.IDs())
	return set, dropped
}

func (s *SelectionStore) reconcileLocked(kind domain.EntityKind, currentIDs []string) int {
	set := s.members[kind]
	if len(set) == 0 {
		return 0
	}

	keep := make(map[string]struct{}, len(currentIDs))
	for _, id := range currentIDs {
		keep[id] = struct{}{}
	}

	dropped := 0
	for id := range set {
		if _, ok := keep[id]; !ok {
			delete(set, id)
			dropped++
		}
	}
	if dropped > 0 {
		s.version++
	}
	return dropped
}

// Selected returns the selected ids for kind that exist in the registry,
// sorted. The slice is owned by the caller.
func (s *SelectionStore) Selected(kind domain.EntityKind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.registry.Snapshot(kind)
	out := make([]string, 0, len(s.members[kind]))
	for id := range s.members[kind] {
		if current.Has(id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (s *SelectionStore) IsSelected(kind domain.EntityKind, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.members[kind][id]
	return ok && s.registry.Snapshot(kind).Has(id)
}

// Version increments on every mutation that may change what Selected returns.
func (s *SelectionStore) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *SelectionStore) kindLocked(kind domain.EntityKind) map[string]struct{} {
	set, ok := s.members[kind]
	if !ok {
		set = make(map[string]struct{})
		s.members[kind] = set
	}
	return set
}
