package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobPhase is the tag of JobState.
type JobPhase int

const (
	JobIdle JobPhase = iota
	JobRunning
	JobCompleted
	JobFailed
)

func (p JobPhase) String() string {
	switch p {
	case JobIdle:
		return "idle"
	case JobRunning:
		return "running"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	}
	return fmt.Sprintf("JobPhase(%d)", int(p))
}

func (p JobPhase) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// Terminal reports whether no further polling may happen in this phase.
func (p JobPhase) Terminal() bool { return p == JobCompleted || p == JobFailed }

// Progress of a running job in units of work (episodes for training).
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// JobState is a tagged variant: only the fields belonging to Phase are set.
//
//	Idle
//	Running{Progress, StartedAt}
//	Completed{Result}
//	Failed{Err}
type JobState struct {
	Phase     JobPhase        `json:"phase"`
	JobID     string          `json:"job_id,omitempty"`
	Progress  Progress        `json:"progress"`
	StartedAt time.Time       `json:"started_at"`
	Result    *TrainingResult `json:"result,omitempty"`
	Err       error           `json:"-"`
}

func IdleState() JobState { return JobState{Phase: JobIdle} }

func RunningState(jobID string, p Progress, startedAt time.Time) JobState {
	return JobState{Phase: JobRunning, JobID: jobID, Progress: p, StartedAt: startedAt}
}

func CompletedState(jobID string, r TrainingResult) JobState {
	return JobState{Phase: JobCompleted, JobID: jobID, Result: &r}
}

func FailedState(jobID string, err error) JobState {
	return JobState{Phase: JobFailed, JobID: jobID, Err: err}
}

// Configuration for a remote training run.
type TrainingConfig struct {
	ModelName       string  `json:"model_name" yaml:"model_name"`
	Episodes        int     `json:"episodes" yaml:"episodes"`
	LearningRate    float64 `json:"learning_rate" yaml:"learning_rate"`
	Gamma           float64 `json:"gamma" yaml:"gamma"`
	EpsilonStart    float64 `json:"epsilon_start" yaml:"epsilon_start"`
	EpsilonEnd      float64 `json:"epsilon_end" yaml:"epsilon_end"`
	EpsilonDecay    float64 `json:"epsilon_decay" yaml:"epsilon_decay"`
	BatchSize       int     `json:"batch_size" yaml:"batch_size"`
	MemorySize      int     `json:"memory_size" yaml:"memory_size"`
	NumCustomers    int     `json:"num_customers" yaml:"num_customers"`
	NumVehicles     int     `json:"num_vehicles" yaml:"num_vehicles"`
	VehicleCapacity int     `json:"vehicle_capacity" yaml:"vehicle_capacity"`
}

// DefaultTrainingConfig mirrors the backend's defaults.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		ModelName:       "vrp_dqn_v1",
		Episodes:        1000,
		LearningRate:    0.001,
		Gamma:           0.99,
		EpsilonStart:    1.0,
		EpsilonEnd:      0.01,
		EpsilonDecay:    0.995,
		BatchSize:       64,
		MemorySize:      100000,
		NumCustomers:    20,
		NumVehicles:     3,
		VehicleCapacity: 100,
	}
}

// Validate checks the same bounds the backend enforces so bad input never
// goes over the wire.
func (c TrainingConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.ModelName) == "":
		return &ValidationError{Field: "model_name", Message: "model name is required"}
	case c.Episodes < 1:
		return &ValidationError{Field: "episodes", Message: "episodes must be at least 1"}
	case c.LearningRate <= 0:
		return &ValidationError{Field: "learning_rate", Message: "learning rate must be positive"}
	case c.Gamma < 0 || c.Gamma > 1:
		return &ValidationError{Field: "gamma", Message: "gamma must be between 0 and 1"}
	case c.EpsilonStart < 0 || c.EpsilonStart > 1,
		c.EpsilonEnd < 0 || c.EpsilonEnd > 1,
		c.EpsilonDecay < 0 || c.EpsilonDecay > 1:
		return &ValidationError{Field: "epsilon", Message: "epsilon parameters must be between 0 and 1"}
	case c.BatchSize < 1:
		return &ValidationError{Field: "batch_size", Message: "batch size must be at least 1"}
	case c.MemorySize < 1000:
		return &ValidationError{Field: "memory_size", Message: "memory size must be at least 1000"}
	case c.NumCustomers < 5 || c.NumCustomers > 100:
		return &ValidationError{Field: "num_customers", Message: "num_customers must be between 5 and 100"}
	case c.NumVehicles < 1 || c.NumVehicles > 20:
		return &ValidationError{Field: "num_vehicles", Message: "num_vehicles must be between 1 and 20"}
	case c.VehicleCapacity < 1:
		return &ValidationError{Field: "vehicle_capacity", Message: "vehicle capacity must be at least 1"}
	}
	return nil
}

// Outcome of a completed training job.
type TrainingResult struct {
	ModelName       string        `json:"model_name"`
	EpisodesTrained int           `json:"episodes_trained"`
	FinalAvgReward  float64       `json:"final_avg_reward"`
	BestReward      float64       `json:"best_reward"`
	TrainingTime    time.Duration `json:"training_time"`
}

// One unit of a job's telemetry stream (an episode for training jobs).
type TelemetrySample struct {
	Index     int                `json:"index"`
	Value     float64            `json:"value"`
	Aux       map[string]float64 `json:"aux,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Derived smoothing of one sample; never stored.
type WindowedStat struct {
	Index    int     `json:"index"`
	Raw      float64 `json:"raw"`
	Smoothed float64 `json:"smoothed"`
}

// A trained model as the backend registers it. At most one model is active.
type ModelInfo struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Version         string         `json:"version,omitempty"`
	ModelType       string         `json:"model_type"`
	IsActive        bool           `json:"is_active"`
	Metrics         map[string]any `json:"metrics,omitempty"`
	TrainedEpisodes int            `json:"trained_episodes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
