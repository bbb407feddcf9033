package dto

import "delivery-dashboard/internal/domain"

// Selection actions accepted by POST /selection.
const (
	ActionToggle    = "toggle"
	ActionSelectAll = "select_all"
	ActionClear     = "clear"
)

type SelectionRequest struct {
	Kind   string `json:"kind"`
	Action string `json:"action"`
	ID     string `json:"id"`
}

type SelectionResponse struct {
	Kind     domain.EntityKind `json:"kind"`
	Selected []string          `json:"selected"`
	Version  uint64            `json:"version"`
}

type OptimizeRequest struct {
	Method       string `json:"method"`
	DepotID      string `json:"depot_id"`
	UseRealRoads bool   `json:"use_real_roads"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type JobStartResponse struct {
	JobID string `json:"job_id"`
}

type JobAttachRequest struct {
	JobID string `json:"job_id"`
}

type LoadResultRequest struct {
	ID string `json:"id"`
}

type ListResultsResponse struct {
	Results []domain.ResultInfo `json:"results"`
}

type DismissRequest struct {
	Source string `json:"source"`
}

type ListModelsResponse struct {
	Models []domain.ModelInfo `json:"models"`
}

type ActivateModelRequest struct {
	Name string `json:"name"`
}
