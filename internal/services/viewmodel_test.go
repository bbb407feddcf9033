package services

import (
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/state"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleViewModelDerivesTelemetry(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)

	reg := state.NewRegistry()
	snap := AssembleViewModel(7, ViewInputs{
		Points:    reg.Replace(domain.KindPoints, []domain.Entity{{ID: "P1"}}),
		Selection: map[domain.EntityKind][]string{domain.KindPoints: {"P1"}},
		Job:       domain.RunningState("m1", domain.Progress{Completed: 25, Total: 100}, start),
		Samples: []domain.TelemetrySample{
			{Index: 0, Value: 1},
			{Index: 1, Value: 2},
			{Index: 2, Value: 3},
		},
		Window: 2,
		Now:    now,
	})

	assert.Equal(t, uint64(7), snap.Version)
	assert.Len(t, snap.Entities[domain.KindPoints], 1)
	assert.Empty(t, snap.Entities[domain.KindCarriers])
	assert.Equal(t, []string{"P1"}, snap.Selection[domain.KindPoints])
	assert.NotNil(t, snap.Selection[domain.KindCarriers])

	require.Len(t, snap.Telemetry.Stats, 3)
	assert.InDelta(t, 1.5, snap.Telemetry.Stats[1].Smoothed, 1e-9)
	assert.InDelta(t, 2.5, snap.Telemetry.Stats[2].Smoothed, 1e-9)
	assert.InDelta(t, 0.25, snap.Telemetry.Progress, 1e-9)
	assert.Equal(t, "1m30s", snap.Telemetry.ETA)
	require.NotNil(t, snap.Telemetry.Summary.Best)
	assert.InDelta(t, 3.0, *snap.Telemetry.Summary.Best, 1e-9)
}

func TestAssembleViewModelFailedJobMessage(t *testing.T) {
	snap := AssembleViewModel(1, ViewInputs{
		Job: domain.FailedState("m1", &domain.TransientNetworkError{Op: "poll", Err: assert.AnError}),
	})

	assert.Equal(t, "connection problems, retrying", snap.Job.Error)
	assert.NotContains(t, snap.Job.Error, assert.AnError.Error())
	assert.Equal(t, "unknown", snap.Telemetry.ETA)
}

func TestAssembleViewModelOwnsRouteSlices(t *testing.T) {
	routes := []RouteOverlay{{CarrierID: "V1", Stops: []domain.RouteStop{{EntityID: "P1"}}}}
	snap := AssembleViewModel(1, ViewInputs{Routes: routes})

	routes[0].Stops[0].EntityID = "changed"
	assert.Equal(t, "P1", snap.Routes[0].Stops[0].EntityID)
}

func TestPublisherSkipsUnchangedKey(t *testing.T) {
	p := NewViewModelPublisher()
	reads := 0
	read := func() ViewInputs {
		reads++
		return ViewInputs{Job: domain.IdleState()}
	}

	key := InputVersions{Registry: 1}
	first := p.Publish(key, read)
	second := p.Publish(key, read)

	assert.Same(t, first, second)
	assert.Equal(t, 1, reads)
	assert.Equal(t, uint64(1), first.Version)

	key.Selection++
	third := p.Publish(key, read)
	assert.Equal(t, uint64(2), third.Version)
	assert.Equal(t, 2, reads)
	assert.Same(t, third, p.Latest())
}

func TestPublisherSubscribers(t *testing.T) {
	p := NewViewModelPublisher()

	_, ch, unsubscribe := p.Subscribe()
	initial := <-ch
	assert.Equal(t, uint64(0), initial.Version)
	assert.Equal(t, 1, p.Subscribers())

	// A slow subscriber only keeps the newest snapshot.
	for i := uint64(1); i <= 3; i++ {
		p.Publish(InputVersions{Registry: i}, func() ViewInputs { return ViewInputs{} })
	}
	latest := <-ch
	assert.Equal(t, uint64(3), latest.Version)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, p.Subscribers())
}

func TestPublisherCloseClosesSubscribers(t *testing.T) {
	p := NewViewModelPublisher()
	_, ch, unsubscribe := p.Subscribe()
	<-ch

	p.Close()
	_, open := <-ch
	assert.False(t, open)

	unsubscribe()
}
