package dashboard

import (
	"context"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/obs"
	"delivery-dashboard/internal/ports"
	"delivery-dashboard/internal/services"
	"delivery-dashboard/internal/state"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrSuperseded is returned by Optimize and LoadResult when a newer request
// (or CancelOptimize) replaced this one before its result arrived.
var ErrSuperseded = errors.New("result superseded by a newer request")

// ErrClosed is returned by operations on a closed dashboard.
var ErrClosed = errors.New("dashboard is closed")

// Notice sources.
const (
	sourceEntities = "entities"
	sourceJob      = "job"
	sourceOptimize = "optimize"
	sourceResults  = "results"
	sourceRoutes   = "routes"
)

type Config struct {
	PollInterval   time.Duration
	MaxBackoff     time.Duration
	HistoryLimit   int
	SampleCapacity int
	WindowSize     int
	// Consecutive transient failures before a connection notice is shown.
	NoticeAfter int
	// Depot used when an optimization names none; defaults to the first
	// listed depot.
	DefaultDepot    string
	Palette         []string
	RefreshInterval time.Duration
	Now             func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = services.DefaultPollInterval
	}
	if c.SampleCapacity <= 0 {
		c.SampleCapacity = services.DefaultSampleCapacity
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = c.SampleCapacity
	}
	if c.WindowSize <= 0 {
		c.WindowSize = services.DefaultWindowSize
	}
	if c.NoticeAfter <= 0 {
		c.NoticeAfter = 3
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Option wires an optional collaborator.
type Option func(*Dashboard)

// WithEntityCache keeps the last fetched entity lists for Warm.
func WithEntityCache(c ports.EntityCache) Option {
	return func(d *Dashboard) { d.entityCache = c }
}

// WithSampleCache persists job telemetry and restores it on AttachJob.
func WithSampleCache(c ports.SampleCache) Option {
	return func(d *Dashboard) { d.sampleCache = c }
}

// Dashboard coordinates the registry, selection, job poller, telemetry and
// route state behind one mutex and publishes a new immutable snapshot after
// every change.
//
// Network calls are made outside the mutex. Each kind of fetch carries a
// token; a completion whose token is no longer the latest is discarded.
type Dashboard struct {
	backend     ports.Backend
	entityCache ports.EntityCache
	sampleCache ports.SampleCache
	cfg         Config

	mu        sync.Mutex
	registry  *state.Registry
	selection *state.SelectionStore
	refreshed map[domain.EntityKind]bool

	depots        []domain.Depot
	depotsVersion uint64

	result        *domain.OptimizationResult
	resultDepot   string
	resultVersion uint64

	// Overlays are rebuilt only when the result, registry or depots move.
	routes          []services.RouteOverlay
	routeWarning    *domain.PartialDataWarning
	routesKey       routesKey
	routesBuilt     bool
	warnedDropped   int
	routesDismissed bool

	notices        map[string]domain.Notice
	noticesVersion uint64

	refreshToken    uint64
	refreshFailures int
	optimizeToken   uint64
	cancelOptimize  context.CancelFunc

	telemetry    *services.TelemetryAggregator
	telemetryJob string

	poller    *services.JobPoller
	publisher *services.ViewModelPublisher

	closeOnce sync.Once
	closing   chan struct{}
}

func New(backend ports.Backend, cfg Config, opts ...Option) *Dashboard {
	cfg = cfg.withDefaults()
	registry := state.NewRegistry()

	d := &Dashboard{
		backend:   backend,
		cfg:       cfg,
		registry:  registry,
		selection: state.NewSelectionStore(registry),
		refreshed: map[domain.EntityKind]bool{},
		notices:   map[string]domain.Notice{},
		telemetry: services.NewTelemetryAggregator(cfg.SampleCapacity),
		publisher: services.NewViewModelPublisher(),
		closing:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.poller = services.NewJobPoller(backend, services.JobPollerConfig{
		Interval:     cfg.PollInterval,
		MaxBackoff:   cfg.MaxBackoff,
		HistoryLimit: cfg.HistoryLimit,
		Now:          cfg.Now,
		OnChange:     d.onJobChange,
		OnSamples:    d.onJobSamples,
		OnBegin:      d.onJobBegin,
		OnError:      d.onJobError,
	})

	d.mu.Lock()
	d.publishLocked()
	d.mu.Unlock()
	return d
}

// Snapshot returns the latest published view model.
func (d *Dashboard) Snapshot() *services.ViewModelSnapshot {
	return d.publisher.Latest()
}

// Subscribe streams every new snapshot, starting with the current one.
func (d *Dashboard) Subscribe() (string, <-chan *services.ViewModelSnapshot, func()) {
	return d.publisher.Subscribe()
}

// Job returns the poller's current state.
func (d *Dashboard) Job() domain.JobState {
	return d.poller.State()
}

func (d *Dashboard) isClosed() bool {
	select {
	case <-d.closing:
		return true
	default:
		return false
	}
}

// Close cancels polling, any in-flight optimization and the refresh loop,
// and closes all subscriptions. Idempotent.
func (d *Dashboard) Close() {
	d.closeOnce.Do(func() {
		close(d.closing)

		// Outside d.mu: Cancel waits for a poller delivery that may need it.
		d.poller.Cancel()

		d.mu.Lock()
		if d.cancelOptimize != nil {
			d.cancelOptimize()
			d.cancelOptimize = nil
		}
		d.optimizeToken++
		d.refreshToken++
		d.mu.Unlock()

		d.publisher.Close()
		log.Printf("op=dashboard.close")
	})
}

// Run refreshes entity lists every RefreshInterval until ctx is done or the
// dashboard is closed. It warms from the entity cache and refreshes once
// before the first tick. A zero interval refreshes once and waits.
func (d *Dashboard) Run(ctx context.Context) error {
	d.Warm(ctx)
	if err := d.RefreshEntities(ctx); err != nil {
		log.Printf("op=dashboard.refresh err=%v", err)
	}

	var tick <-chan time.Time
	if d.cfg.RefreshInterval > 0 {
		ticker := time.NewTicker(d.cfg.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.closing:
			return nil
		case <-tick:
			if err := d.RefreshEntities(ctx); err != nil {
				log.Printf("op=dashboard.refresh err=%v", err)
			}
		}
	}
}

// publishLocked hands the current input versions to the publisher, which
// re-assembles only if one of them moved. d.mu must be held.
func (d *Dashboard) publishLocked() *services.ViewModelSnapshot {
	d.refreshRoutesLocked()
	key := services.InputVersions{
		Registry:  d.registry.Version(),
		Depots:    d.depotsVersion,
		Selection: d.selection.Version(),
		Routes:    d.resultVersion,
		Job:       d.poller.Version(),
		Telemetry: d.telemetry.Version(),
		Notices:   d.noticesVersion,
	}
	return d.publisher.Publish(key, d.readLocked)
}

type routesKey struct {
	result, registry, depots uint64
}

// refreshRoutesLocked rebuilds the route overlays when one of their inputs
// moved and keeps the routes notice in step with the dropped-stop count. A
// dismissed notice stays hidden until that count changes.
func (d *Dashboard) refreshRoutesLocked() {
	key := routesKey{result: d.resultVersion, registry: d.registry.Version(), depots: d.depotsVersion}
	if d.routesBuilt && key == d.routesKey {
		return
	}
	d.routesKey = key
	d.routesBuilt = true

	d.routes, d.routeWarning = nil, nil
	if d.result != nil {
		d.routes, d.routeWarning = services.AssembleRoutes(services.RouteInputs{
			Assignments: d.result.Routes,
			Points:      d.registry.Snapshot(domain.KindPoints),
			Carriers:    d.registry.Snapshot(domain.KindCarriers),
			Depot:       d.depotLocked(d.resultDepot),
			Palette:     d.cfg.Palette,
		})
	}

	dropped := 0
	if d.routeWarning != nil {
		dropped = d.routeWarning.Dropped
	}
	switch {
	case dropped == 0:
		d.warnedDropped = 0
		d.routesDismissed = false
		d.clearNoticeLocked(sourceRoutes)
	case dropped != d.warnedDropped:
		d.warnedDropped = dropped
		d.routesDismissed = false
		d.setNoticeLocked(domain.NoticeFor(sourceRoutes, d.routeWarning))
	}
}

func (d *Dashboard) readLocked() services.ViewInputs {
	warning := d.routeWarning
	if d.routesDismissed {
		warning = nil
	}

	return services.ViewInputs{
		Points:   d.registry.Snapshot(domain.KindPoints),
		Carriers: d.registry.Snapshot(domain.KindCarriers),
		Depots:   d.depots,
		Selection: map[domain.EntityKind][]string{
			domain.KindPoints:   d.selection.Selected(domain.KindPoints),
			domain.KindCarriers: d.selection.Selected(domain.KindCarriers),
		},
		Routes:  d.routes,
		Result:  d.result,
		Warning: warning,
		Job:     d.poller.State(),
		Samples: d.telemetry.Samples(),
		Window:  d.cfg.WindowSize,
		Notices: d.noticeListLocked(),
		Now:     d.cfg.Now(),
	}
}

func (d *Dashboard) depotLocked(id string) *domain.Depot {
	for i := range d.depots {
		if d.depots[i].ID == id {
			depot := d.depots[i]
			return &depot
		}
	}
	return nil
}

// defaultDepotLocked picks the configured depot if it is listed, else the
// first listed depot.
func (d *Dashboard) defaultDepotLocked() string {
	if d.cfg.DefaultDepot != "" && (d.depots == nil || d.depotLocked(d.cfg.DefaultDepot) != nil) {
		return d.cfg.DefaultDepot
	}
	if len(d.depots) > 0 {
		return d.depots[0].ID
	}
	return ""
}

func (d *Dashboard) setNoticeLocked(n domain.Notice) {
	if cur, ok := d.notices[n.Source]; ok && cur == n {
		return
	}
	d.notices[n.Source] = n
	d.noticesVersion++
}

func (d *Dashboard) clearNoticeLocked(source string) {
	if _, ok := d.notices[source]; !ok {
		return
	}
	delete(d.notices, source)
	d.noticesVersion++
}

func (d *Dashboard) noticeListLocked() []domain.Notice {
	out := make([]domain.Notice, 0, len(d.notices))
	for _, n := range d.notices {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b domain.Notice) int {
		switch {
		case a.Source < b.Source:
			return -1
		case a.Source > b.Source:
			return 1
		}
		return 0
	})
	return out
}

// DismissNotice removes the notice for source, if any. A dismissed routes
// notice also hides the snapshot's route warning until the number of
// dropped stops changes.
func (d *Dashboard) DismissNotice(source string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if source == sourceRoutes && d.routeWarning != nil && !d.routesDismissed {
		d.routesDismissed = true
		d.noticesVersion++
	}
	d.clearNoticeLocked(source)
	d.publishLocked()
}

// Warm fills kinds that were never refreshed from the entity cache, so a
// restarted dashboard renders before the backend answers. Cache failures
// are logged only.
func (d *Dashboard) Warm(ctx context.Context) {
	if d.entityCache == nil {
		return
	}

	for _, kind := range domain.Kinds {
		entities, ok, err := d.entityCache.GetEntities(ctx, kind)
		if err != nil {
			log.Printf("op=dashboard.warm kind=%s err=%v", kind, err)
			continue
		}
		if !ok {
			continue
		}

		d.mu.Lock()
		if !d.refreshed[kind] {
			set, _ := d.selection.Refresh(kind, entities)
			log.Printf("op=dashboard.warm kind=%s entities=%d", kind, set.Len())
		}
		d.publishLocked()
		d.mu.Unlock()
	}
}

type fetched[T any] struct {
	items []T
	err   error
}

// RefreshEntities fetches points, carriers and depots concurrently and
// applies whatever succeeded. Replacing a kind's registry snapshot and
// reconciling its selection happen in one critical section. A refresh that
// completes after a newer one started is discarded.
func (d *Dashboard) RefreshEntities(ctx context.Context) error {
	if d.isClosed() {
		return ErrClosed
	}

	d.mu.Lock()
	d.refreshToken++
	token := d.refreshToken
	d.mu.Unlock()

	var (
		points   fetched[domain.Entity]
		carriers fetched[domain.Entity]
		depots   fetched[domain.Depot]
	)

	// Every kind is fetched to completion; one failure does not cancel the others.
	var g errgroup.Group
	g.Go(func() error { points.items, points.err = d.backend.ListPoints(ctx); return nil })
	g.Go(func() error { carriers.items, carriers.err = d.backend.ListCarriers(ctx); return nil })
	g.Go(func() error { depots.items, depots.err = d.backend.ListDepots(ctx); return nil })
	_ = g.Wait()

	err := errors.Join(points.err, carriers.err, depots.err)
	if errors.Is(err, context.Canceled) {
		return err
	}

	d.mu.Lock()
	if token != d.refreshToken {
		d.mu.Unlock()
		obs.StaleResponses.WithLabelValues("refresh").Inc()
		log.Printf("op=dashboard.refresh token=%d msg=%q", token, "stale refresh discarded")
		return nil
	}

	for kind, f := range map[domain.EntityKind]fetched[domain.Entity]{
		domain.KindPoints:   points,
		domain.KindCarriers: carriers,
	} {
		if f.err != nil {
			continue
		}
		set, dropped := d.selection.Refresh(kind, f.items)
		d.refreshed[kind] = true
		if dropped > 0 {
			log.Printf("op=dashboard.reconcile kind=%s entities=%d dropped=%d", kind, set.Len(), dropped)
		}
	}
	if depots.err == nil {
		d.depots = slices.Clone(depots.items)
		d.depotsVersion++
	}

	switch {
	case err == nil:
		d.refreshFailures = 0
		d.clearNoticeLocked(sourceEntities)
	case domain.IsTransient(err):
		d.refreshFailures++
		if d.refreshFailures >= d.cfg.NoticeAfter {
			d.setNoticeLocked(domain.NoticeFor(sourceEntities, err))
		}
	default:
		d.refreshFailures = 0
		d.setNoticeLocked(domain.NoticeFor(sourceEntities, err))
	}
	d.publishLocked()
	d.mu.Unlock()

	d.cacheEntities(ctx, domain.KindPoints, points)
	d.cacheEntities(ctx, domain.KindCarriers, carriers)

	if err != nil {
		return fmt.Errorf("refresh entities: %w", err)
	}
	return nil
}

func (d *Dashboard) cacheEntities(ctx context.Context, kind domain.EntityKind, f fetched[domain.Entity]) {
	if d.entityCache == nil || f.err != nil {
		return
	}
	if err := d.entityCache.PutEntities(ctx, kind, f.items); err != nil {
		log.Printf("op=dashboard.cache kind=%s err=%v", kind, err)
	}
}

// Toggle flips the selection of id and reports whether it is now selected.
// Unknown ids are accepted and stay invisible until they appear in the
// registry or the next refresh drops them.
func (d *Dashboard) Toggle(kind domain.EntityKind, id string) (bool, error) {
	if _, err := domain.ParseEntityKind(string(kind)); err != nil {
		return false, err
	}
	if id == "" {
		return false, &domain.ValidationError{Field: "id", Message: "id is required"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	on := d.selection.Toggle(kind, id)
	d.publishLocked()
	return on, nil
}

func (d *Dashboard) SelectAll(kind domain.EntityKind) error {
	if _, err := domain.ParseEntityKind(string(kind)); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.selection.SelectAll(kind)
	d.publishLocked()
	return nil
}

func (d *Dashboard) ClearSelection(kind domain.EntityKind) error {
	if _, err := domain.ParseEntityKind(string(kind)); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.selection.Clear(kind)
	d.publishLocked()
	return nil
}

type OptimizeOptions struct {
	// Empty uses the configured default depot.
	DepotID      string
	UseRealRoads bool
}

// Optimize builds a request from the current selection and runs it. A
// previous optimization still in flight is cancelled. Validation errors are
// returned without contacting the backend.
func (d *Dashboard) Optimize(ctx context.Context, method domain.Method, opts OptimizeOptions) (*services.ViewModelSnapshot, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}

	d.mu.Lock()
	depotID := opts.DepotID
	if depotID == "" {
		depotID = d.defaultDepotLocked()
	}
	req, err := services.BuildOptimizationRequest(services.SelectionView{
		Points:   d.selection.Selected(domain.KindPoints),
		Carriers: d.selection.Selected(domain.KindCarriers),
	}, method, services.RequestOptions{
		DepotID:      depotID,
		UseRealRoads: opts.UseRealRoads,
		Depots:       d.depots,
	})
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}

	runCtx, token := d.beginResultLocked(ctx)
	d.mu.Unlock()

	log.Printf("op=dashboard.optimize method=%s points=%d carriers=%d depot=%s",
		req.Method, len(req.PointIDs), len(req.CarrierIDs), req.DepotID)

	res, err := d.backend.Optimize(runCtx, req)
	if err == nil && res == nil {
		err = &domain.FatalError{Op: "optimize", Err: errors.New("empty result")}
	}
	return d.finishResult(token, sourceOptimize, req.DepotID, res, err)
}

// beginResultLocked cancels the in-flight optimization or load and issues
// a new token for the one about to start.
func (d *Dashboard) beginResultLocked(ctx context.Context) (context.Context, uint64) {
	if d.cancelOptimize != nil {
		d.cancelOptimize()
	}
	d.optimizeToken++
	runCtx, cancel := context.WithCancel(ctx)
	d.cancelOptimize = cancel
	return runCtx, d.optimizeToken
}

func (d *Dashboard) finishResult(token uint64, source, depotID string, res *domain.OptimizationResult, err error) (*services.ViewModelSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if token != d.optimizeToken {
		obs.StaleResponses.WithLabelValues(source).Inc()
		return nil, ErrSuperseded
	}
	if d.cancelOptimize != nil {
		d.cancelOptimize()
		d.cancelOptimize = nil
	}

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			d.setNoticeLocked(domain.NoticeFor(source, err))
			d.publishLocked()
		}
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	d.result = res
	d.resultDepot = depotID
	d.resultVersion++
	d.clearNoticeLocked(source)
	return d.publishLocked(), nil
}

// CancelOptimize abandons the optimization or result load in flight, if
// any, and reports whether there was one.
func (d *Dashboard) CancelOptimize() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancelOptimize == nil {
		return false
	}
	d.cancelOptimize()
	d.cancelOptimize = nil
	d.optimizeToken++
	log.Printf("op=dashboard.optimize msg=%q", "cancelled")
	return true
}

// ClearRoutes drops the displayed optimization result.
func (d *Dashboard) ClearRoutes() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.result == nil {
		return
	}
	d.result = nil
	d.resultVersion++
	d.publishLocked()
}

func (d *Dashboard) ListResults(ctx context.Context) ([]domain.ResultInfo, error) {
	infos, err := d.backend.ListSavedResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return infos, nil
}

// LoadResult replaces the displayed routes with a saved result. Like
// Optimize, it supersedes any optimization in flight.
func (d *Dashboard) LoadResult(ctx context.Context, id string) (*services.ViewModelSnapshot, error) {
	if id == "" {
		return nil, &domain.ValidationError{Field: "id", Message: "result id is required"}
	}
	if d.isClosed() {
		return nil, ErrClosed
	}

	d.mu.Lock()
	runCtx, token := d.beginResultLocked(ctx)
	depotID := d.defaultDepotLocked()
	d.mu.Unlock()

	res, err := d.backend.LoadResult(runCtx, id)
	if err == nil && res == nil {
		err = &domain.FatalError{Op: "load result", Err: errors.New("empty result")}
	}
	// Results saved before depots were recorded fall back to the default.
	if err == nil && res.DepotID != "" {
		depotID = res.DepotID
	}
	return d.finishResult(token, sourceResults, depotID, res, err)
}

func (d *Dashboard) DeleteResult(ctx context.Context, id string) error {
	if id == "" {
		return &domain.ValidationError{Field: "id", Message: "result id is required"}
	}
	if err := d.backend.DeleteResult(ctx, id); err != nil {
		return fmt.Errorf("delete result %s: %w", id, err)
	}
	return nil
}

func (d *Dashboard) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	models, err := d.backend.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return models, nil
}

// ActivateModel selects the model the backend uses for learned optimizations.
func (d *Dashboard) ActivateModel(ctx context.Context, name string) error {
	if name == "" {
		return &domain.ValidationError{Field: "name", Message: "model name is required"}
	}
	if err := d.backend.ActivateModel(ctx, name); err != nil {
		return fmt.Errorf("activate model %s: %w", name, err)
	}
	log.Printf("op=dashboard.activate_model model=%s", name)
	return nil
}

func (d *Dashboard) DeleteModel(ctx context.Context, name string) error {
	if name == "" {
		return &domain.ValidationError{Field: "name", Message: "model name is required"}
	}
	if err := d.backend.DeleteModel(ctx, name); err != nil {
		return fmt.Errorf("delete model %s: %w", name, err)
	}
	return nil
}

// StartJob starts a training run and begins polling it.
func (d *Dashboard) StartJob(ctx context.Context, cfg domain.TrainingConfig) (string, error) {
	if d.isClosed() {
		return "", ErrClosed
	}

	jobID, err := d.poller.Start(ctx, cfg)
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrJobRunning) {
			d.mu.Lock()
			d.setNoticeLocked(domain.NoticeFor(sourceJob, err))
			d.publishLocked()
			d.mu.Unlock()
		}
		return "", err
	}
	return jobID, nil
}

// StopJob asks the backend to stop the running job.
func (d *Dashboard) StopJob(ctx context.Context) error {
	return d.poller.Stop(ctx)
}

// ResetJob returns a finished job to Idle and clears its telemetry.
func (d *Dashboard) ResetJob() error {
	if err := d.poller.Reset(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.telemetry.Reset()
	d.telemetryJob = ""
	d.clearNoticeLocked(sourceJob)
	d.publishLocked()
	return nil
}

// AttachJob resumes tracking a job started elsewhere, restoring cached
// telemetry when a sample cache is configured.
func (d *Dashboard) AttachJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return &domain.ValidationError{Field: "job_id", Message: "job id is required"}
	}
	if d.isClosed() {
		return ErrClosed
	}

	// A refused attach leaves the current telemetry alone; an accepted one
	// resets it through onJobBegin.
	if err := d.poller.Attach(jobID, time.Time{}, domain.Progress{}); err != nil {
		return err
	}
	if d.sampleCache == nil {
		return nil
	}

	cached, err := d.sampleCache.GetSamples(ctx, jobID, d.cfg.SampleCapacity)
	if err != nil {
		log.Printf("op=dashboard.attach job=%s err=%v", jobID, err)
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.telemetryJob != jobID {
		// Another run began while the cache was read.
		return nil
	}
	if d.telemetry.Ingest(cached) > 0 {
		d.publishLocked()
	}
	return nil
}

// onJobBegin clears telemetry for every new run, including a restart under
// the same job id.
func (d *Dashboard) onJobBegin(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.telemetry.Reset()
	d.telemetryJob = jobID
	d.publishLocked()
}

// onJobChange runs on the poller's goroutine (or the caller of Start).
func (d *Dashboard) onJobChange(st domain.JobState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch st.Phase {
	case domain.JobRunning, domain.JobCompleted:
		d.clearNoticeLocked(sourceJob)
	case domain.JobFailed:
		if st.Err != nil {
			d.setNoticeLocked(domain.NoticeFor(sourceJob, st.Err))
		}
	}
	d.publishLocked()
}

func (d *Dashboard) onJobSamples(jobID string, samples []domain.TelemetrySample) {
	d.mu.Lock()
	if jobID != d.telemetryJob {
		d.mu.Unlock()
		obs.StaleResponses.WithLabelValues("telemetry").Inc()
		return
	}
	d.telemetry.Ingest(samples)
	d.publishLocked()
	d.mu.Unlock()

	if d.sampleCache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PollInterval)
	defer cancel()
	if err := d.sampleCache.PutSamples(ctx, jobID, samples); err != nil {
		log.Printf("op=dashboard.samples job=%s err=%v", jobID, err)
	}
}

func (d *Dashboard) onJobError(err error, consecutive int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case err == nil:
		d.clearNoticeLocked(sourceJob)
	case domain.IsFatal(err):
		// The Failed state change carries the notice.
		return
	case consecutive >= d.cfg.NoticeAfter:
		d.setNoticeLocked(domain.NoticeFor(sourceJob, err))
	default:
		return
	}
	d.publishLocked()
}
