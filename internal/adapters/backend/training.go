package backend

import (
	"context"
	"delivery-dashboard/internal/domain"
	"delivery-dashboard/internal/platform/obs"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type startTrainingResponse struct {
	ModelName string `json:"model_name"`
	Episodes  int    `json:"episodes"`
}

type trainingStatus struct {
	IsTraining       bool     `json:"is_training"`
	CurrentEpisode   int      `json:"current_episode"`
	TotalEpisodes    int      `json:"total_episodes"`
	BestReward       *float64 `json:"best_reward"`
	AvgRewardLast100 *float64 `json:"avg_reward_last_100"`
	ElapsedSeconds   float64  `json:"elapsed_time_seconds"`
	Error            string   `json:"error"`
}

type historyRow struct {
	Episode     *int      `json:"episode"`
	TotalReward *float64  `json:"total_reward"`
	AvgDistance *float64  `json:"avg_distance"`
	Epsilon     *float64  `json:"epsilon"`
	Loss        *float64  `json:"loss"`
	CreatedAt   time.Time `json:"created_at"`
}

type historyResponse struct {
	ModelName string       `json:"model_name"`
	History   []historyRow `json:"history"`
}

// StartJob starts a training run. The backend tracks one run at a time and
// identifies it by model name, which becomes the job id.
func (c *Client) StartJob(ctx context.Context, cfg domain.TrainingConfig) (_ string, err error) {
	defer obs.Time(ctx, "backend.StartJob")(&err)

	var resp startTrainingResponse
	if err := c.call(ctx, "start training", http.MethodPost, "/api/v1/training/start", cfg, &resp); err != nil {
		return "", err
	}

	jobID := strings.TrimSpace(resp.ModelName)
	if jobID == "" {
		jobID = cfg.ModelName
	}
	return jobID, nil
}

func (c *Client) PollJob(ctx context.Context, jobID string) (_ domain.JobState, err error) {
	defer obs.Time(ctx, "backend.PollJob")(&err)

	var st trainingStatus
	if err := c.call(ctx, "training status", http.MethodGet, "/api/v1/training/status", nil, &st); err != nil {
		return domain.JobState{}, err
	}
	return statusToState(jobID, st, time.Now()), nil
}

// statusToState maps the backend's flat status onto a JobState. A run that
// stopped short of its episode budget without an error was stopped.
func statusToState(jobID string, st trainingStatus, now time.Time) domain.JobState {
	progress := domain.Progress{Completed: st.CurrentEpisode, Total: st.TotalEpisodes}
	elapsed := time.Duration(st.ElapsedSeconds * float64(time.Second))

	switch {
	case st.IsTraining:
		var startedAt time.Time
		if elapsed > 0 {
			startedAt = now.Add(-elapsed)
		}
		return domain.RunningState(jobID, progress, startedAt)
	case st.Error != "":
		return domain.FailedState(jobID, errors.New(st.Error))
	case st.TotalEpisodes == 0 && st.CurrentEpisode == 0:
		return domain.IdleState()
	case st.CurrentEpisode >= st.TotalEpisodes:
		r := domain.TrainingResult{
			ModelName:       jobID,
			EpisodesTrained: st.CurrentEpisode,
			TrainingTime:    elapsed,
		}
		if st.BestReward != nil {
			r.BestReward = *st.BestReward
		}
		if st.AvgRewardLast100 != nil {
			r.FinalAvgReward = *st.AvgRewardLast100
		}
		return domain.CompletedState(jobID, r)
	}
	return domain.FailedState(jobID, fmt.Errorf("ended at episode %d of %d: %w", st.CurrentEpisode, st.TotalEpisodes, domain.ErrJobStopped))
}

func (c *Client) StopJob(ctx context.Context, jobID string) (err error) {
	defer obs.Time(ctx, "backend.StopJob")(&err)
	return c.call(ctx, "stop training", http.MethodPost, "/api/v1/training/stop", nil, nil)
}

// FetchHistory returns the most recent episodes of a training run. Rows
// without an episode number or reward are skipped.
func (c *Client) FetchHistory(ctx context.Context, jobID string, limit int) (_ []domain.TelemetrySample, err error) {
	defer obs.Time(ctx, "backend.FetchHistory")(&err)

	if strings.TrimSpace(jobID) == "" {
		return nil, &domain.ValidationError{Field: "job_id", Message: "job id is required"}
	}
	if limit <= 0 {
		limit = 100
	}

	path := fmt.Sprintf("/api/v1/training/history/%s?limit=%d", url.PathEscape(jobID), limit)
	var resp historyResponse
	if err := c.call(ctx, "training history", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.TelemetrySample, 0, len(resp.History))
	for _, h := range resp.History {
		if h.Episode == nil || h.TotalReward == nil {
			continue
		}
		aux := make(map[string]float64, 3)
		for k, v := range map[string]*float64{"avg_distance": h.AvgDistance, "epsilon": h.Epsilon, "loss": h.Loss} {
			if v != nil {
				aux[k] = *v
			}
		}
		out = append(out, domain.TelemetrySample{
			Index:     *h.Episode,
			Value:     *h.TotalReward,
			Aux:       aux,
			Timestamp: h.CreatedAt,
		})
	}
	return out, nil
}

type apiModel struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Version         *string        `json:"version"`
	ModelType       string         `json:"model_type"`
	IsActive        bool           `json:"is_active"`
	Metrics         map[string]any `json:"metrics"`
	TrainedEpisodes *int           `json:"trained_episodes"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ListModels returns the registered models, newest first. Rows without a
// name are skipped.
func (c *Client) ListModels(ctx context.Context) (_ []domain.ModelInfo, err error) {
	defer obs.Time(ctx, "backend.ListModels")(&err)

	var raw []apiModel
	if err := c.call(ctx, "list models", http.MethodGet, "/api/v1/training/models", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]domain.ModelInfo, 0, len(raw))
	for _, m := range raw {
		if strings.TrimSpace(m.Name) == "" {
			continue
		}
		info := domain.ModelInfo{
			ID:        m.ID,
			Name:      m.Name,
			ModelType: m.ModelType,
			IsActive:  m.IsActive,
			Metrics:   m.Metrics,
			CreatedAt: m.CreatedAt,
		}
		if m.Version != nil {
			info.Version = *m.Version
		}
		if m.TrainedEpisodes != nil {
			info.TrainedEpisodes = *m.TrainedEpisodes
		}
		out = append(out, info)
	}
	return out, nil
}

// ActivateModel makes name the model the backend optimizes with,
// deactivating every other one.
func (c *Client) ActivateModel(ctx context.Context, name string) (err error) {
	defer obs.Time(ctx, "backend.ActivateModel")(&err)

	if strings.TrimSpace(name) == "" {
		return &domain.ValidationError{Field: "name", Message: "model name is required"}
	}
	path := "/api/v1/training/models/" + url.PathEscape(name) + "/activate"
	return c.call(ctx, "activate model", http.MethodPost, path, nil, nil)
}

func (c *Client) DeleteModel(ctx context.Context, name string) (err error) {
	defer obs.Time(ctx, "backend.DeleteModel")(&err)

	if strings.TrimSpace(name) == "" {
		return &domain.ValidationError{Field: "name", Message: "model name is required"}
	}
	return c.call(ctx, "delete model", http.MethodDelete, "/api/v1/training/models/"+url.PathEscape(name), nil, nil)
}
