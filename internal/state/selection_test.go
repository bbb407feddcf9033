package state

import (
	"delivery-dashboard/internal/domain"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entities(ids ...string) []domain.Entity {
	out := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Entity{ID: id})
	}
	return out
}

func TestRefreshDropsDeletedSelections(t *testing.T) {
	reg := NewRegistry()
	sel := NewSelectionStore(reg)

	sel.Refresh(domain.KindPoints, entities("A", "B", "C"))
	sel.Toggle(domain.KindPoints, "A")
	sel.Toggle(domain.KindPoints, "B")
	require.Equal(t, []string{"A", "B"}, sel.Selected(domain.KindPoints))

	_, dropped := sel.Refresh(domain.KindPoints, entities("B", "C"))

	assert.Equal(t, 1, dropped)
	assert.Equal(t, []string{"B"}, sel.Selected(domain.KindPoints))
	assert.False(t, sel.IsSelected(domain.KindPoints, "A"))
}

func TestReconcileIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	sel := NewSelectionStore(reg)
	reg.Replace(domain.KindCarriers, entities("V1", "V2", "V3"))
	sel.SelectAll(domain.KindCarriers)

	current := []string{"V1", "V3"}
	first := sel.Reconcile(domain.KindCarriers, current)
	afterOnce := sel.Selected(domain.KindCarriers)
	version := sel.Version()

	second := sel.Reconcile(domain.KindCarriers, current)

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
	assert.Equal(t, afterOnce, sel.Selected(domain.KindCarriers))
	assert.Equal(t, version, sel.Version(), "no-op reconcile must not bump the version")
}

func TestSelectAllReadsLatestSnapshot(t *testing.T) {
	reg := NewRegistry()
	sel := NewSelectionStore(reg)

	reg.Replace(domain.KindPoints, entities("A", "B"))
	reg.Replace(domain.KindPoints, entities("B", "C", "D"))
	sel.SelectAll(domain.KindPoints)

	assert.Equal(t, []string{"B", "C", "D"}, sel.Selected(domain.KindPoints))
}

func TestToggleUnknownIDIsNotObservable(t *testing.T) {
	reg := NewRegistry()
	sel := NewSelectionStore(reg)
	reg.Replace(domain.KindPoints, entities("A"))

	assert.True(t, sel.Toggle(domain.KindPoints, "ghost"))
	assert.Empty(t, sel.Selected(domain.KindPoints))

	// The id appears later: the pending toggle becomes visible.
	reg.Replace(domain.KindPoints, entities("A", "ghost"))
	assert.Equal(t, []string{"ghost"}, sel.Selected(domain.KindPoints))

	assert.False(t, sel.Toggle(domain.KindPoints, "ghost"))
	assert.Empty(t, sel.Selected(domain.KindPoints))
}

func TestClearEmptiesOnlyThatKind(t *testing.T) {
	reg := NewRegistry()
	sel := NewSelectionStore(reg)
	sel.Refresh(domain.KindPoints, entities("A"))
	sel.Refresh(domain.KindCarriers, entities("V1"))
	sel.SelectAll(domain.KindPoints)
	sel.SelectAll(domain.KindCarriers)

	sel.Clear(domain.KindPoints)

	assert.Empty(t, sel.Selected(domain.KindPoints))
	assert.Equal(t, []string{"V1"}, sel.Selected(domain.KindCarriers))
}

func TestSelectionAlwaysSubsetOfRegistry(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	universe := make([]string, 12)
	for i := range universe {
		universe[i] = fmt.Sprintf("P%d", i)
	}

	reg := NewRegistry()
	sel := NewSelectionStore(reg)
	kind := domain.KindPoints

	for step := 0; step < 2000; step++ {
		switch rng.IntN(4) {
		case 0:
			sel.Toggle(kind, universe[rng.IntN(len(universe))])
		case 1:
			sel.SelectAll(kind)
		case 2:
			sel.Clear(kind)
		case 3:
			var ids []string
			for _, id := range universe {
				if rng.IntN(2) == 0 {
					ids = append(ids, id)
				}
			}
			sel.Refresh(kind, entities(ids...))
		}

		current := reg.Snapshot(kind)
		for _, id := range sel.Selected(kind) {
			require.Truef(t, current.Has(id), "step %d: selected %q not in registry %v", step, id, current.IDs())
		}
	}
}

func TestRegistryReplaceDeduplicatesAndSkipsEmptyIDs(t *testing.T) {
	reg := NewRegistry()
	set := reg.Replace(domain.KindPoints, []domain.Entity{
		{ID: "A", Attributes: map[string]any{"name": "old"}},
		{ID: ""},
		{ID: "B"},
		{ID: "A", Attributes: map[string]any{"name": "new"}},
	})

	assert.Equal(t, []string{"A", "B"}, set.IDs())
	a, ok := set.Get("A")
	require.True(t, ok)
	assert.Equal(t, "new", a.Label())
	assert.Equal(t, uint64(1), reg.Version())
	assert.Equal(t, 0, reg.Snapshot(domain.KindCarriers).Len())
}
