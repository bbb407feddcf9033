package services

import (
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/obs"
	"delivery-dashboard/internal/state"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Job state as rendered; Error carries the user-facing failure message.
type JobView struct {
	domain.JobState
	Error string `json:"error,omitempty"`
}

type TelemetryView struct {
	Stats    []domain.WindowedStat `json:"stats"`
	Window   int                   `json:"window"`
	Progress float64               `json:"progress"`
	ETA      string                `json:"eta"`
	Summary  TelemetrySummary      `json:"summary"`
}

// Headline numbers of the optimization result behind the route overlays.
type RouteSummary struct {
	Method      domain.Method `json:"method"`
	TotalMetric float64       `json:"total_metric"`
	TotalTime   time.Duration `json:"total_time"`
	ComputeTime time.Duration `json:"compute_time"`
	Served      int           `json:"served"`
	Unserved    int           `json:"unserved"`
}

// ViewModelSnapshot is the immutable, fully derived state handed to the view
// layer. Subscribers must not modify it.
type ViewModelSnapshot struct {
	Version      uint64                                `json:"version"`
	Entities     map[domain.EntityKind][]domain.Entity `json:"entities"`
	Depots       []domain.Depot                        `json:"depots"`
	Selection    map[domain.EntityKind][]string        `json:"selection"`
	Routes       []RouteOverlay                        `json:"routes"`
	RouteSummary *RouteSummary                         `json:"route_summary,omitempty"`
	RouteWarning *domain.PartialDataWarning            `json:"route_warning,omitempty"`
	Job          JobView                               `json:"job"`
	Telemetry    TelemetryView                         `json:"telemetry"`
	Notices      []domain.Notice                       `json:"notices"`
	AssembledAt  time.Time                             `json:"assembled_at"`
}

// Versions of every input a snapshot is derived from.
type InputVersions struct {
	Registry  uint64
	Depots    uint64
	Selection uint64
	Routes    uint64
	Job       uint64
	Telemetry uint64
	Notices   uint64
}

type ViewInputs struct {
	Points    *state.EntitySet
	Carriers  *state.EntitySet
	Depots    []domain.Depot
	Selection map[domain.EntityKind][]string
	Routes    []RouteOverlay
	Result    *domain.OptimizationResult
	Warning   *domain.PartialDataWarning
	Job       domain.JobState
	Samples   []domain.TelemetrySample
	Window    int
	Notices   []domain.Notice
	Now       time.Time
}

// AssembleViewModel derives a snapshot from one consistent read of every
// input. It has no side effects; every slice in the result is owned by it.
func AssembleViewModel(version uint64, in ViewInputs) *ViewModelSnapshot {
	window := in.Window
	if window <= 0 {
		window = DefaultWindowSize
	}

	entities := make(map[domain.EntityKind][]domain.Entity, len(domain.Kinds))
	for kind, set := range map[domain.EntityKind]*state.EntitySet{
		domain.KindPoints:   in.Points,
		domain.KindCarriers: in.Carriers,
	} {
		if set == nil {
			entities[kind] = []domain.Entity{}
			continue
		}
		entities[kind] = set.Entities()
	}

	selection := make(map[domain.EntityKind][]string, len(domain.Kinds))
	for _, kind := range domain.Kinds {
		selection[kind] = append([]string{}, in.Selection[kind]...)
	}

	job := JobView{JobState: in.Job}
	if in.Job.Phase == domain.JobFailed && in.Job.Err != nil {
		job.Error = domain.NoticeFor("job", in.Job.Err).Message
	}

	var summary *RouteSummary
	if in.Result != nil {
		summary = &RouteSummary{
			Method:      in.Result.Method,
			TotalMetric: in.Result.TotalMetric,
			TotalTime:   in.Result.TotalTime,
			ComputeTime: in.Result.ComputeTime,
			Served:      in.Result.Served,
			Unserved:    in.Result.Unserved,
		}
	}

	routes := make([]RouteOverlay, len(in.Routes))
	for i, r := range in.Routes {
		r.Stops = slices.Clone(r.Stops)
		r.Geometry = slices.Clone(r.Geometry)
		routes[i] = r
	}

	return &ViewModelSnapshot{
		Version:      version,
		Entities:     entities,
		Depots:       append([]domain.Depot{}, in.Depots...),
		Selection:    selection,
		Routes:       routes,
		RouteSummary: summary,
		RouteWarning: in.Warning,
		Job:          job,
		Telemetry: TelemetryView{
			Stats:    MovingAverage(in.Samples, window),
			Window:   window,
			Progress: JobProgress(in.Job),
			ETA:      FormatETA(JobETA(in.Job, in.Now)),
			Summary:  Summarize(in.Samples),
		},
		Notices:     append([]domain.Notice{}, in.Notices...),
		AssembledAt: in.Now,
	}
}

// ViewModelPublisher holds the latest snapshot and fans it out to
// subscribers. A new snapshot is assembled only when some input version
// changed, so an unchanged key yields the same pointer.
type ViewModelPublisher struct {
	mu      sync.Mutex
	key     InputVersions
	version uint64
	latest  atomic.Pointer[ViewModelSnapshot]
	subs    *xsync.MapOf[string, chan *ViewModelSnapshot]
}

func NewViewModelPublisher() *ViewModelPublisher {
	p := &ViewModelPublisher{subs: xsync.NewMapOf[string, chan *ViewModelSnapshot]()}
	p.latest.Store(AssembleViewModel(0, ViewInputs{Job: domain.IdleState()}))
	return p
}

// Latest returns the most recently published snapshot. Never nil.
func (p *ViewModelPublisher) Latest() *ViewModelSnapshot { return p.latest.Load() }

// Publish assembles and publishes a snapshot if key differs from the last
// published one. read is called only in that case and must return inputs
// that were read together with key.
func (p *ViewModelPublisher) Publish(key InputVersions, read func() ViewInputs) *ViewModelSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.version > 0 && key == p.key {
		return p.latest.Load()
	}

	p.version++
	snap := AssembleViewModel(p.version, read())
	p.key = key
	p.latest.Store(snap)

	obs.Assemblies.Inc()
	obs.SnapshotVersion.Set(float64(snap.Version))

	p.subs.Range(func(id string, ch chan *ViewModelSnapshot) bool {
		select {
		case ch <- snap:
		default:
			// Slow subscriber: replace its pending snapshot with this one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
				log.Printf("op=viewmodel.publish sub=%s version=%d msg=%q", id, snap.Version, "subscriber skipped")
			}
		}
		return true
	})
	return snap
}

// Subscribe registers a listener that receives every published snapshot,
// starting with the current one. Slow listeners only see the newest pending
// snapshot. The returned func unsubscribes and closes the channel.
func (p *ViewModelPublisher) Subscribe() (string, <-chan *ViewModelSnapshot, func()) {
	id := uuid.NewString()
	ch := make(chan *ViewModelSnapshot, 1)

	p.mu.Lock()
	ch <- p.latest.Load()
	p.subs.Store(id, ch)
	p.mu.Unlock()

	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if c, ok := p.subs.LoadAndDelete(id); ok {
				close(c)
			}
		})
	}
}

func (p *ViewModelPublisher) Subscribers() int { return p.subs.Size() }

// Close unsubscribes every listener.
func (p *ViewModelPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subs.Range(func(id string, ch chan *ViewModelSnapshot) bool {
		p.subs.Delete(id)
		close(ch)
		return true
	})
}
