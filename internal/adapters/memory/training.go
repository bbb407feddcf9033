package memory

import (
	"context"
	"delivery-dashboard/internal/domain"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultEpisodeRate = 25.0

// trainingSim advances a training run with wall-clock time. Episode rewards
// follow a noisy learning curve seeded by the model name, so history reads
// are repeatable.
type trainingSim struct {
	mu        sync.Mutex
	rate      float64
	cfg       domain.TrainingConfig
	active    bool
	startedAt time.Time
	stoppedAt int
	stopped   bool
	// Whether the current run's model has been registered.
	recorded bool
	models   map[string]domain.ModelInfo
}

// episode returns how many episodes have finished at now.
func (t *trainingSim) episode(now time.Time) int {
	if t.stopped {
		return t.stoppedAt
	}
	done := int(now.Sub(t.startedAt).Seconds() * t.rate)
	return min(max(done, 0), t.cfg.Episodes)
}

func (t *trainingSim) running(now time.Time) bool {
	return t.active && !t.stopped && t.episode(now) < t.cfg.Episodes
}

func (t *trainingSim) reward(ep int) float64 {
	h := fnv.New64a()
	h.Write([]byte(t.cfg.ModelName))
	r := rand.New(rand.NewPCG(h.Sum64(), uint64(ep)))

	scale := math.Max(float64(t.cfg.Episodes)/4, 1)
	curve := -200 + 180*(1-math.Exp(-float64(ep)/scale))
	return curve + r.NormFloat64()*8
}

func (b *Backend) StartJob(ctx context.Context, cfg domain.TrainingConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	t := b.training
	t.mu.Lock()
	defer t.mu.Unlock()

	now := b.now()
	if t.running(now) {
		return "", &domain.FatalError{Op: "start training", Err: domain.ErrJobRunning}
	}

	t.cfg = cfg
	t.active = true
	t.startedAt = now
	t.stopped = false
	t.stoppedAt = 0
	t.recorded = false

	log.Printf("op=memory.start_training model=%s episodes=%d rate=%.1f", cfg.ModelName, cfg.Episodes, t.rate)
	return cfg.ModelName, nil
}

func (b *Backend) PollJob(ctx context.Context, jobID string) (domain.JobState, error) {
	if err := ctx.Err(); err != nil {
		return domain.JobState{}, err
	}

	t := b.training
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active || t.cfg.ModelName != jobID {
		return domain.IdleState(), nil
	}

	now := b.now()
	ep := t.episode(now)
	switch {
	case t.stopped:
		return domain.FailedState(jobID, fmt.Errorf("ended at episode %d of %d: %w", ep, t.cfg.Episodes, domain.ErrJobStopped)), nil
	case ep >= t.cfg.Episodes:
		t.recordLocked(now)
		return domain.CompletedState(jobID, t.result(ep)), nil
	}
	return domain.RunningState(jobID, domain.Progress{Completed: ep, Total: t.cfg.Episodes}, t.startedAt), nil
}

func (t *trainingSim) result(ep int) domain.TrainingResult {
	best := math.Inf(-1)
	tail := 0.0
	from := max(1, ep-99)
	for i := 1; i <= ep; i++ {
		r := t.reward(i)
		best = math.Max(best, r)
		if i >= from {
			tail += r
		}
	}
	return domain.TrainingResult{
		ModelName:       t.cfg.ModelName,
		EpisodesTrained: ep,
		FinalAvgReward:  tail / float64(ep-from+1),
		BestReward:      best,
		TrainingTime:    time.Duration(float64(ep) / t.rate * float64(time.Second)),
	}
}

// recordLocked registers the model of a run that finished its episode
// budget, once per run. A retrained name keeps its id, creation time and
// active flag. t.mu must be held.
func (t *trainingSim) recordLocked(now time.Time) {
	if t.recorded || !t.active || t.stopped || t.episode(now) < t.cfg.Episodes {
		return
	}
	t.recorded = true

	res := t.result(t.cfg.Episodes)
	m, ok := t.models[t.cfg.ModelName]
	if !ok {
		m = domain.ModelInfo{ID: uuid.NewString(), Name: t.cfg.ModelName, CreatedAt: now}
	}
	m.Version = "1.0"
	m.ModelType = "dqn"
	m.TrainedEpisodes = t.cfg.Episodes
	m.Metrics = map[string]any{
		"final_avg_reward": res.FinalAvgReward,
		"best_reward":      res.BestReward,
	}
	if t.models == nil {
		t.models = map[string]domain.ModelInfo{}
	}
	t.models[m.Name] = m
	log.Printf("op=memory.model_saved model=%s episodes=%d", m.Name, m.TrainedEpisodes)
}

// ListModels returns registered models, newest first.
func (b *Backend) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := b.training
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(b.now())

	out := make([]domain.ModelInfo, 0, len(t.models))
	for _, m := range t.models {
		out = append(out, m)
	}
	slices.SortFunc(out, func(x, y domain.ModelInfo) int {
		if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(x.Name, y.Name)
	})
	return out, nil
}

// ActivateModel marks name as the only active model.
func (b *Backend) ActivateModel(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := b.training
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(b.now())

	name = strings.TrimSpace(name)
	if _, ok := t.models[name]; !ok {
		return &domain.FatalError{Op: "activate model", Err: fmt.Errorf("model %q: %w", name, domain.ErrNotFound)}
	}
	for k, m := range t.models {
		m.IsActive = k == name
		t.models[k] = m
	}
	log.Printf("op=memory.activate_model model=%s", name)
	return nil
}

func (b *Backend) DeleteModel(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := b.training
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(b.now())

	name = strings.TrimSpace(name)
	if _, ok := t.models[name]; !ok {
		return &domain.FatalError{Op: "delete model", Err: fmt.Errorf("model %q: %w", name, domain.ErrNotFound)}
	}
	delete(t.models, name)
	log.Printf("op=memory.delete_model model=%s", name)
	return nil
}

func (b *Backend) StopJob(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := b.training
	t.mu.Lock()
	defer t.mu.Unlock()

	now := b.now()
	if t.cfg.ModelName != jobID || !t.running(now) {
		return &domain.FatalError{Op: "stop training", Err: errors.New("no active training")}
	}
	t.stoppedAt = t.episode(now)
	t.stopped = true

	log.Printf("op=memory.stop_training model=%s episode=%d", jobID, t.stoppedAt)
	return nil
}

// FetchHistory returns the newest finished episodes first, as the service does.
func (b *Backend) FetchHistory(ctx context.Context, jobID string, limit int) ([]domain.TelemetrySample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := b.training
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active || t.cfg.ModelName != jobID {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	ep := t.episode(b.now())
	out := make([]domain.TelemetrySample, 0, min(ep, limit))
	for i := ep; i >= 1 && len(out) < limit; i-- {
		eps := t.cfg.EpsilonStart * math.Pow(t.cfg.EpsilonDecay, float64(i))
		out = append(out, domain.TelemetrySample{
			Index:     i,
			Value:     t.reward(i),
			Aux:       map[string]float64{"epsilon": math.Max(eps, t.cfg.EpsilonEnd)},
			Timestamp: t.startedAt.Add(time.Duration(float64(i) / t.rate * float64(time.Second))),
		})
	}
	return out, nil
}
