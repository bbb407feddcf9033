package handlers

import (
	"delivery-dashboard/internal/api/dto"
	"delivery-dashboard/internal/dashboard"
	"delivery-dashboard/internal/domain"
	"net/http"
	"strings"
)

type JobHandler struct {
	Dashboard *dashboard.Dashboard
	// Fields missing from a start request keep these values.
	Defaults domain.TrainingConfig
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, r, http.StatusOK, h.Dashboard.Snapshot().Job)
}

// Start launches a training run. The job runs and is polled independently
// of this request.
func (h *JobHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	cfg := h.Defaults
	if !decodeBody(w, r, &cfg, true) {
		return
	}

	jobID, err := h.Dashboard.StartJob(r.Context(), cfg)
	if err != nil {
		writeDomainError(w, r, "job", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, dto.JobStartResponse{JobID: jobID})
}

func (h *JobHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	if err := h.Dashboard.StopJob(r.Context()); err != nil {
		writeDomainError(w, r, "job", err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.Dashboard.Snapshot().Job)
}

func (h *JobHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	if err := h.Dashboard.ResetJob(); err != nil {
		writeDomainError(w, r, "job", err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.Dashboard.Snapshot().Job)
}

// Attach resumes tracking a job that was started elsewhere.
func (h *JobHandler) Attach(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req dto.JobAttachRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	if err := h.Dashboard.AttachJob(r.Context(), req.JobID); err != nil {
		writeDomainError(w, r, "job", err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.Dashboard.Snapshot().Job)
}

// Models lists trained models (GET) or deletes one by ?name= (DELETE).
func (h *JobHandler) Models(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		models, err := h.Dashboard.ListModels(r.Context())
		if err != nil {
			writeDomainError(w, r, "models", err)
			return
		}
		writeJSON(w, r, http.StatusOK, dto.ListModelsResponse{Models: models})

	case http.MethodDelete:
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if err := h.Dashboard.DeleteModel(r.Context(), name); err != nil {
			writeDomainError(w, r, "models", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *JobHandler) ActivateModel(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req dto.ActivateModelRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	if err := h.Dashboard.ActivateModel(r.Context(), strings.TrimSpace(req.Name)); err != nil {
		writeDomainError(w, r, "models", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
