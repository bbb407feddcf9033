package services

import (
	"context"
	"delivery-dashboard/internal/domain"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollReply struct {
	state domain.JobState
	err   error
}

// fakeJobs replays scripted poll replies; after the script runs out it keeps
// returning the last one.
type fakeJobs struct {
	mu       sync.Mutex
	replies  []pollReply
	polls    int
	stops    int
	stopErr  error
	history  []domain.TelemetrySample
	startErr error

	// When set, each PollJob hands a reply channel to the test and blocks
	// until answered.
	calls chan chan pollReply
}

func (f *fakeJobs) StartJob(_ context.Context, cfg domain.TrainingConfig) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return cfg.ModelName, nil
}

func (f *fakeJobs) PollJob(ctx context.Context, jobID string) (domain.JobState, error) {
	f.mu.Lock()
	f.polls++
	calls := f.calls
	f.mu.Unlock()

	if calls != nil {
		reply := make(chan pollReply)
		calls <- reply
		select {
		case r := <-reply:
			return r.state, r.err
		case <-time.After(5 * time.Second):
			return domain.JobState{}, errors.New("reply timeout")
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return domain.RunningState(jobID, domain.Progress{}, time.Time{}), nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r.state, r.err
}

func (f *fakeJobs) StopJob(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeJobs) FetchHistory(context.Context, string, int) ([]domain.TelemetrySample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeJobs) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func testTrainingConfig() domain.TrainingConfig {
	cfg := domain.DefaultTrainingConfig()
	cfg.ModelName = "m1"
	cfg.Episodes = 10
	return cfg
}

func waitDone(t *testing.T, p *JobPoller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("polling loop did not exit")
	}
}

func TestJobPollerRunsToCompletion(t *testing.T) {
	jobs := &fakeJobs{
		replies: []pollReply{
			{state: domain.RunningState("m1", domain.Progress{Completed: 3, Total: 10}, time.Time{})},
			{state: domain.RunningState("m1", domain.Progress{Completed: 7, Total: 10}, time.Time{})},
			{state: domain.CompletedState("m1", domain.TrainingResult{ModelName: "m1", EpisodesTrained: 10})},
		},
	}

	var changes atomic.Int32
	p := NewJobPoller(jobs, JobPollerConfig{
		Interval: 5 * time.Millisecond,
		OnChange: func(domain.JobState) { changes.Add(1) },
	})

	id, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	waitDone(t, p)

	st := p.State()
	require.Equal(t, domain.JobCompleted, st.Phase)
	require.NotNil(t, st.Result)
	assert.Equal(t, 10, st.Result.EpisodesTrained)
	assert.Equal(t, 3, jobs.pollCount())
	// Running (start), two progress updates, Completed.
	assert.Equal(t, int32(4), changes.Load())

	// Terminal: no further polling.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, jobs.pollCount())

	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, jobs.pollCount())
}

func TestJobPollerRejectsInvalidConfigAndDoubleStart(t *testing.T) {
	jobs := &fakeJobs{}
	p := NewJobPoller(jobs, JobPollerConfig{Interval: time.Minute})
	t.Cleanup(p.Cancel)

	bad := testTrainingConfig()
	bad.Episodes = 0
	_, err := p.Start(context.Background(), bad)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "episodes", ve.Field)
	assert.Equal(t, domain.JobIdle, p.State().Phase)

	_, err = p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)

	_, err = p.Start(context.Background(), testTrainingConfig())
	assert.ErrorIs(t, err, domain.ErrJobRunning)
	assert.ErrorIs(t, p.Reset(), domain.ErrJobRunning)
}

func TestJobPollerStartFailureLeavesIdle(t *testing.T) {
	jobs := &fakeJobs{startErr: &domain.TransientNetworkError{Op: "start", Err: errors.New("refused")}}
	p := NewJobPoller(jobs, JobPollerConfig{Interval: time.Minute})

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, domain.JobIdle, p.State().Phase)
	assert.Equal(t, uint64(0), p.Version())
}

func TestJobPollerTransientFailuresKeepRunning(t *testing.T) {
	transient := &domain.TransientNetworkError{Op: "poll", Err: errors.New("timeout")}
	jobs := &fakeJobs{
		replies: []pollReply{
			{err: transient},
			{err: transient},
			{state: domain.RunningState("m1", domain.Progress{Completed: 5, Total: 10}, time.Time{})},
		},
	}

	var (
		mu       sync.Mutex
		reported []int
	)
	p := NewJobPoller(jobs, JobPollerConfig{
		Interval: time.Minute,
		OnError: func(_ error, consecutive int) {
			mu.Lock()
			reported = append(reported, consecutive)
			mu.Unlock()
		},
	})
	t.Cleanup(p.Cancel)

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)

	_, err = p.Poll(context.Background())
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, domain.JobRunning, p.State().Phase)

	_, err = p.Poll(context.Background())
	require.Error(t, err)

	st, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, st.Phase)
	assert.Equal(t, 5, st.Progress.Completed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 0}, reported)
}

func TestJobPollerBackoffIsCapped(t *testing.T) {
	p := NewJobPoller(&fakeJobs{}, JobPollerConfig{Interval: time.Second, MaxBackoff: 10 * time.Second})

	assert.Equal(t, time.Second, p.nextDelay())

	p.failures = 1
	assert.Equal(t, 2*time.Second, p.nextDelay())
	p.failures = 3
	assert.Equal(t, 8*time.Second, p.nextDelay())
	p.failures = 50
	assert.Equal(t, 10*time.Second, p.nextDelay())
}

func TestJobPollerFatalErrorFails(t *testing.T) {
	fatal := &domain.FatalError{Op: "poll", Err: errors.New("status 400")}
	jobs := &fakeJobs{replies: []pollReply{{err: fatal}}}
	p := NewJobPoller(jobs, JobPollerConfig{Interval: 5 * time.Millisecond})

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)
	waitDone(t, p)

	st := p.State()
	assert.Equal(t, domain.JobFailed, st.Phase)
	assert.ErrorIs(t, st.Err, fatal)
	assert.Equal(t, 1, jobs.pollCount())

	require.NoError(t, p.Reset())
	assert.Equal(t, domain.JobIdle, p.State().Phase)
}

func TestJobPollerDiscardsResultAfterCancel(t *testing.T) {
	jobs := &fakeJobs{calls: make(chan chan pollReply)}
	p := NewJobPoller(jobs, JobPollerConfig{Interval: time.Minute})

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)
	before := p.Version()

	type result struct {
		st  domain.JobState
		err error
	}
	out := make(chan result, 1)
	go func() {
		st, err := p.Poll(context.Background())
		out <- result{st, err}
	}()

	reply := <-jobs.calls
	p.Cancel()
	p.Cancel()
	reply <- pollReply{state: domain.CompletedState("m1", domain.TrainingResult{})}

	r := <-out
	require.NoError(t, r.err)
	assert.Equal(t, domain.JobRunning, r.st.Phase)
	assert.Equal(t, domain.JobRunning, p.State().Phase)
	assert.Equal(t, before, p.Version())

	// Cancelled pollers issue no requests.
	jobs.mu.Lock()
	jobs.calls = nil
	jobs.mu.Unlock()
	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.pollCount())
}

func TestJobPollerDiscardsStaleToken(t *testing.T) {
	jobs := &fakeJobs{calls: make(chan chan pollReply)}
	p := NewJobPoller(jobs, JobPollerConfig{Interval: time.Minute})
	t.Cleanup(p.Cancel)

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)

	first := make(chan domain.JobState, 1)
	go func() {
		st, _ := p.Poll(context.Background())
		first <- st
	}()
	older := <-jobs.calls

	second := make(chan domain.JobState, 1)
	go func() {
		st, _ := p.Poll(context.Background())
		second <- st
	}()
	newer := <-jobs.calls

	// The newer request answers first; the older answer arrives late.
	newer <- pollReply{state: domain.RunningState("m1", domain.Progress{Completed: 8, Total: 10}, time.Time{})}
	older <- pollReply{state: domain.RunningState("m1", domain.Progress{Completed: 2, Total: 10}, time.Time{})}

	<-first
	<-second

	assert.Equal(t, 8, p.State().Progress.Completed)
}

func TestJobPollerStop(t *testing.T) {
	jobs := &fakeJobs{}
	p := NewJobPoller(jobs, JobPollerConfig{Interval: time.Minute})

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)

	require.NoError(t, p.Stop(context.Background()))
	waitDone(t, p)

	st := p.State()
	assert.Equal(t, domain.JobFailed, st.Phase)
	assert.ErrorIs(t, st.Err, domain.ErrJobStopped)
	assert.Equal(t, 1, jobs.stops)

	// Stopping a job that is not running is a no-op.
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, 1, jobs.stops)
}

func TestJobPollerStopFailureResumesPolling(t *testing.T) {
	jobs := &fakeJobs{stopErr: &domain.TransientNetworkError{Op: "stop", Err: errors.New("refused")}}
	p := NewJobPoller(jobs, JobPollerConfig{Interval: time.Minute})
	t.Cleanup(p.Cancel)

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)

	require.Error(t, p.Stop(context.Background()))
	assert.Equal(t, domain.JobRunning, p.State().Phase)

	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.pollCount())
}

func TestJobPollerDeliversHistory(t *testing.T) {
	jobs := &fakeJobs{
		history: []domain.TelemetrySample{{Index: 1, Value: 3}, {Index: 0, Value: 1}},
	}

	var got []domain.TelemetrySample
	p := NewJobPoller(jobs, JobPollerConfig{
		Interval:     time.Minute,
		HistoryLimit: 100,
		OnSamples: func(jobID string, samples []domain.TelemetrySample) {
			assert.Equal(t, "m1", jobID)
			got = append(got, samples...)
		},
	})
	t.Cleanup(p.Cancel)

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)
	_, err = p.Poll(context.Background())
	require.NoError(t, err)

	assert.Len(t, got, 2)
}

func TestJobPollerAttach(t *testing.T) {
	jobs := &fakeJobs{
		replies: []pollReply{{state: domain.CompletedState("m7", domain.TrainingResult{ModelName: "m7"})}},
	}
	p := NewJobPoller(jobs, JobPollerConfig{Interval: 5 * time.Millisecond})

	require.Error(t, p.Attach("", time.Time{}, domain.Progress{}))
	require.NoError(t, p.Attach("m7", time.Now(), domain.Progress{Total: 10}))
	waitDone(t, p)

	assert.Equal(t, domain.JobCompleted, p.State().Phase)
}

func TestJobPollerRemoteIdleIsFatal(t *testing.T) {
	jobs := &fakeJobs{replies: []pollReply{{state: domain.IdleState()}}}
	p := NewJobPoller(jobs, JobPollerConfig{Interval: time.Minute})
	t.Cleanup(p.Cancel)

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)

	st, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, st.Phase)
	assert.ErrorIs(t, st.Err, domain.ErrNotFound)
}

func TestJobPollerLoopOutlivesOverlappingPoll(t *testing.T) {
	jobs := &fakeJobs{calls: make(chan chan pollReply)}
	p := NewJobPoller(jobs, JobPollerConfig{Interval: 20 * time.Millisecond, MaxBackoff: time.Second})
	t.Cleanup(p.Cancel)

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)

	loopTick := <-jobs.calls

	manual := make(chan domain.JobState, 1)
	go func() {
		st, _ := p.Poll(context.Background())
		manual <- st
	}()
	manualTick := <-jobs.calls

	// The manual poll answers first, so the loop's answer is stale.
	manualTick <- pollReply{state: domain.RunningState("m1", domain.Progress{Completed: 5, Total: 10}, time.Time{})}
	<-manual
	loopTick <- pollReply{state: domain.RunningState("m1", domain.Progress{Completed: 2, Total: 10}, time.Time{})}

	select {
	case next := <-jobs.calls:
		next <- pollReply{state: domain.CompletedState("m1", domain.TrainingResult{ModelName: "m1"})}
	case <-time.After(2 * time.Second):
		t.Fatal("polling loop stopped while the job was running")
	}

	waitDone(t, p)
	assert.Equal(t, domain.JobCompleted, p.State().Phase)
}

func TestJobPollerOnBeginOncePerRun(t *testing.T) {
	jobs := &fakeJobs{
		replies: []pollReply{{state: domain.CompletedState("m1", domain.TrainingResult{ModelName: "m1"})}},
	}

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	p := NewJobPoller(jobs, JobPollerConfig{
		Interval: 5 * time.Millisecond,
		OnBegin:  func(jobID string) { record("begin " + jobID) },
		OnChange: func(st domain.JobState) { record(st.Phase.String()) },
	})
	t.Cleanup(p.Cancel)

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)
	waitDone(t, p)

	// Same job name again: still a new run.
	_, err = p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)
	waitDone(t, p)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"begin m1", domain.JobRunning.String(), domain.JobCompleted.String(),
		"begin m1", domain.JobRunning.String(), domain.JobCompleted.String(),
	}, events)
}

func TestJobPollerStopFailureIsNotANewRun(t *testing.T) {
	jobs := &fakeJobs{stopErr: &domain.TransientNetworkError{Op: "stop", Err: errors.New("refused")}}

	var begins atomic.Int32
	p := NewJobPoller(jobs, JobPollerConfig{
		Interval: time.Minute,
		OnBegin:  func(string) { begins.Add(1) },
	})
	t.Cleanup(p.Cancel)

	_, err := p.Start(context.Background(), testTrainingConfig())
	require.NoError(t, err)
	require.Error(t, p.Stop(context.Background()))

	assert.Equal(t, int32(1), begins.Load())
	assert.Equal(t, domain.JobRunning, p.State().Phase)
}
