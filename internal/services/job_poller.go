package services

import (
	"context"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/obs"
	"delivery-dashboard/internal/ports"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxBackoff   = 30 * time.Second
	DefaultHistoryLimit = DefaultSampleCapacity
)

// errStaleTick marks a poll whose response was discarded.
var errStaleTick = errors.New("stale poll response discarded")

type JobPollerConfig struct {
	// Poll cadence while Running; also the timeout for a single poll.
	Interval time.Duration
	// Upper bound of the backoff after consecutive transient failures.
	MaxBackoff time.Duration
	// Samples requested from the job history on every tick; 0 disables.
	HistoryLimit int
	Now          func() time.Time

	// Callbacks run on the polling goroutine, after the state is updated and
	// never after Cancel has returned. They may read the poller but must not
	// call Start, Attach, Stop or Cancel.
	OnChange  func(domain.JobState)
	OnSamples func(jobID string, samples []domain.TelemetrySample)
	// OnBegin runs once per new run (Start or Attach), before the Running
	// state is announced and after any delivery from the previous run has
	// finished. It is not called when Stop fails and polling resumes.
	OnBegin func(jobID string)
	// OnError receives every failed tick with the number of consecutive
	// failures, and (nil, 0) once a tick succeeds again.
	OnError func(err error, consecutive int)
}

// JobPoller tracks one asynchronous job through Idle -> Running ->
// Completed|Failed -> Idle.
//
// While Running it polls at a fixed interval (backing off after transient
// failures); it never polls while Idle or terminal, and the tick that
// observes a terminal state is the last one. The polling loop owns its own
// context, so it outlives the request that started it until Cancel or Stop.
type JobPoller struct {
	jobs ports.JobService
	cfg  JobPollerConfig

	mu        sync.Mutex
	state     domain.JobState
	version   uint64
	token     uint64
	gen       uint64
	cancelled bool
	starting  bool
	failures  int
	cancelRun context.CancelFunc
	done      chan struct{}

	// Held while a tick's result is checked and delivered, so Cancel can
	// wait out a delivery already in progress.
	deliver sync.Mutex
}

func NewJobPoller(jobs ports.JobService, cfg JobPollerConfig) *JobPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.Interval)
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	done := make(chan struct{})
	close(done)

	return &JobPoller{
		jobs:  jobs,
		cfg:   cfg,
		state: domain.IdleState(),
		done:  done,
	}
}

// State returns the current job state.
func (p *JobPoller) State() domain.JobState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Version increments on every state change.
func (p *JobPoller) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// Done is closed when the current polling loop exits.
func (p *JobPoller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Start validates cfg, starts the remote job and begins polling it. A
// previous terminal state is reset implicitly.
func (p *JobPoller) Start(ctx context.Context, cfg domain.TrainingConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	p.mu.Lock()
	if p.state.Phase == domain.JobRunning || p.starting {
		p.mu.Unlock()
		return "", domain.ErrJobRunning
	}
	p.starting = true
	p.mu.Unlock()

	jobID, err := p.jobs.StartJob(ctx, cfg)

	p.mu.Lock()
	p.starting = false
	p.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("start job: %w", err)
	}

	p.begin(jobID, domain.Progress{Total: cfg.Episodes}, p.cfg.Now(), true)
	log.Printf("op=poller.start job=%s episodes=%d interval=%s", jobID, cfg.Episodes, p.cfg.Interval)
	return jobID, nil
}

// Attach resumes tracking a job that is already running remotely.
func (p *JobPoller) Attach(jobID string, startedAt time.Time, progress domain.Progress) error {
	if jobID == "" {
		return &domain.ValidationError{Field: "job_id", Message: "job id is required"}
	}

	p.mu.Lock()
	if p.state.Phase == domain.JobRunning || p.starting {
		p.mu.Unlock()
		return domain.ErrJobRunning
	}
	p.mu.Unlock()

	if startedAt.IsZero() {
		startedAt = p.cfg.Now()
	}
	p.begin(jobID, progress, startedAt, true)
	return nil
}

func (p *JobPoller) begin(jobID string, progress domain.Progress, startedAt time.Time, fresh bool) {
	p.mu.Lock()
	if p.cancelRun != nil {
		p.cancelRun()
	}
	p.gen++
	gen := p.gen
	p.cancelled = false
	p.failures = 0
	p.state = domain.RunningState(jobID, progress, startedAt)
	p.version++
	st := p.state

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancelRun = cancel
	p.done = done
	p.mu.Unlock()

	// A tick of the previous run that passed its checks before gen moved may
	// still be delivering; let it finish before the new run is announced.
	p.deliver.Lock()
	p.deliver.Unlock()

	if fresh && p.cfg.OnBegin != nil {
		p.cfg.OnBegin(jobID)
	}
	p.notify(st)
	go p.run(ctx, gen, done)
}

// Poll performs one tick now. It issues no request unless the job is
// Running and the poller has not been cancelled.
func (p *JobPoller) Poll(ctx context.Context) (domain.JobState, error) {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	st, err := p.poll(ctx, gen)
	if errors.Is(err, errStaleTick) {
		return st, nil
	}
	return st, err
}

// Cancel stops polling. Results of requests already in flight are
// discarded. Idempotent; the job state is left as it was.
func (p *JobPoller) Cancel() {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return
	}
	p.cancelled = true
	p.gen++
	cancel := p.cancelRun
	p.cancelRun = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Wait for a delivery that passed its checks before gen moved.
	p.deliver.Lock()
	p.deliver.Unlock()
}

// Stop asks the backend to stop a running job and marks it Failed with
// domain.ErrJobStopped. If the backend call fails, polling resumes.
func (p *JobPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()

	if st.Phase != domain.JobRunning {
		return nil
	}

	p.Cancel()

	if err := p.jobs.StopJob(ctx, st.JobID); err != nil {
		p.begin(st.JobID, st.Progress, st.StartedAt, false)
		return fmt.Errorf("stop job %s: %w", st.JobID, err)
	}

	p.mu.Lock()
	changed := p.state.JobID == st.JobID && p.state.Phase == domain.JobRunning
	if changed {
		p.state = domain.FailedState(st.JobID, domain.ErrJobStopped)
		p.version++
	}
	next := p.state
	p.mu.Unlock()

	if changed {
		log.Printf("op=poller.stop job=%s", st.JobID)
		p.notify(next)
	}
	return nil
}

// Reset returns a terminal job to Idle.
func (p *JobPoller) Reset() error {
	p.mu.Lock()
	switch {
	case p.state.Phase == domain.JobRunning || p.starting:
		p.mu.Unlock()
		return domain.ErrJobRunning
	case p.state.Phase == domain.JobIdle:
		p.mu.Unlock()
		return nil
	}
	p.state = domain.IdleState()
	p.version++
	st := p.state
	p.mu.Unlock()

	p.notify(st)
	return nil
}

func (p *JobPoller) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		st, err := p.poll(ctx, gen)
		if ctx.Err() != nil {
			return
		}
		// A tick overtaken by a manual Poll is dropped, but the run goes on.
		if errors.Is(err, errStaleTick) && !p.current(gen) {
			return
		}
		if st.Phase != domain.JobRunning {
			return
		}
		timer.Reset(p.nextDelay())
	}
}

// current reports whether gen is still the live, uncancelled run.
func (p *JobPoller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.gen && !p.cancelled
}

func (p *JobPoller) nextDelay() time.Duration {
	p.mu.Lock()
	failures := p.failures
	p.mu.Unlock()

	delay := p.cfg.Interval
	for i := 0; i < failures && delay < p.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, p.cfg.MaxBackoff)
}

func (p *JobPoller) poll(ctx context.Context, gen uint64) (domain.JobState, error) {
	p.mu.Lock()
	if gen != p.gen || p.cancelled {
		st := p.state
		p.mu.Unlock()
		return st, errStaleTick
	}
	if p.state.Phase != domain.JobRunning {
		st := p.state
		p.mu.Unlock()
		return st, nil
	}
	p.token++
	token := p.token
	jobID := p.state.JobID
	p.mu.Unlock()

	remote, samples, err := p.fetch(ctx, jobID)

	p.deliver.Lock()
	defer p.deliver.Unlock()

	p.mu.Lock()
	if gen != p.gen || p.cancelled || token != p.token {
		st := p.state
		p.mu.Unlock()
		obs.StaleResponses.WithLabelValues("poller").Inc()
		obs.JobPolls.WithLabelValues("stale").Inc()
		return st, errStaleTick
	}

	if err != nil {
		if !domain.IsFatal(err) {
			p.failures++
			consecutive := p.failures
			st := p.state
			p.mu.Unlock()

			obs.JobPolls.WithLabelValues("transient").Inc()
			log.Printf("op=poller.poll job=%s consecutive_failures=%d err=%v", jobID, consecutive, err)
			if p.cfg.OnError != nil {
				p.cfg.OnError(err, consecutive)
			}
			return st, err
		}

		p.state = domain.FailedState(jobID, err)
		p.version++
		p.failures = 0
		st := p.state
		p.mu.Unlock()

		obs.JobPolls.WithLabelValues("fatal").Inc()
		log.Printf("op=poller.poll job=%s phase=failed err=%v", jobID, err)
		if p.cfg.OnError != nil {
			p.cfg.OnError(err, 1)
		}
		p.notify(st)
		return st, err
	}

	recovered := p.failures > 0
	p.failures = 0
	next := p.applyLocked(jobID, remote)
	changed := !sameJobState(p.state, next)
	if changed {
		p.state = next
		p.version++
	}
	st := p.state
	p.mu.Unlock()

	obs.JobPolls.WithLabelValues("applied").Inc()
	if recovered && p.cfg.OnError != nil {
		p.cfg.OnError(nil, 0)
	}
	if len(samples) > 0 && p.cfg.OnSamples != nil {
		p.cfg.OnSamples(jobID, samples)
	}
	if changed {
		if st.Phase.Terminal() {
			log.Printf("op=poller.poll job=%s phase=%s", jobID, st.Phase)
		}
		p.notify(st)
	}
	return st, nil
}

// fetch issues the status request and, when configured, the history request.
// A request that stalls past the poll interval is a transient failure.
func (p *JobPoller) fetch(ctx context.Context, jobID string) (domain.JobState, []domain.TelemetrySample, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.Interval)
	defer cancel()

	remote, err := p.jobs.PollJob(pollCtx, jobID)
	if err != nil {
		if ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) && !domain.IsTransient(err) {
			err = &domain.TransientNetworkError{Op: "poll job", Err: err}
		}
		return domain.JobState{}, nil, err
	}

	if p.cfg.HistoryLimit == 0 {
		return remote, nil, nil
	}

	histCtx, cancelHist := context.WithTimeout(ctx, p.cfg.Interval)
	defer cancelHist()

	samples, err := p.jobs.FetchHistory(histCtx, jobID, p.cfg.HistoryLimit)
	if err != nil {
		// Telemetry is best effort; the status update still applies.
		log.Printf("op=poller.history job=%s err=%v", jobID, err)
		return remote, nil, nil
	}
	return remote, samples, nil
}

// applyLocked maps a remote status onto the local state machine. A Running
// job can only stay Running or become terminal.
func (p *JobPoller) applyLocked(jobID string, remote domain.JobState) domain.JobState {
	switch remote.Phase {
	case domain.JobRunning:
		startedAt := p.state.StartedAt
		if startedAt.IsZero() {
			startedAt = remote.StartedAt
		}
		return domain.RunningState(jobID, remote.Progress, startedAt)
	case domain.JobCompleted:
		if remote.Result == nil {
			return domain.CompletedState(jobID, domain.TrainingResult{})
		}
		return domain.CompletedState(jobID, *remote.Result)
	case domain.JobFailed:
		cause := remote.Err
		if cause == nil {
			cause = errors.New("job failed")
		}
		return domain.FailedState(jobID, cause)
	}
	return domain.FailedState(jobID, &domain.FatalError{Op: "poll job", Err: fmt.Errorf("job %s is no longer tracked: %w", jobID, domain.ErrNotFound)})
}

func (p *JobPoller) notify(st domain.JobState) {
	if p.cfg.OnChange != nil {
		p.cfg.OnChange(st)
	}
}

func sameJobState(a, b domain.JobState) bool {
	return a.Phase == b.Phase &&
		a.JobID == b.JobID &&
		a.Progress == b.Progress &&
		a.StartedAt.Equal(b.StartedAt) &&
		a.Result == b.Result &&
		a.Err == b.Err
}
