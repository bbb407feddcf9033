package handlers

import (
	"delivery-dashboard/internal/api/dto"
	"delivery-dashboard/internal/dashboard"
	"delivery-dashboard/internal/domain"
	"net/http"
)

type SelectionHandler struct {
	Dashboard *dashboard.Dashboard
}

// Refresh fetches entity lists now instead of waiting for the next tick.
func (h *SelectionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	if err := h.Dashboard.RefreshEntities(r.Context()); err != nil {
		writeDomainError(w, r, "entities", err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.Dashboard.Snapshot())
}

// Update applies one selection action and returns the visible selection.
func (h *SelectionHandler) Update(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req dto.SelectionRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	kind, err := domain.ParseEntityKind(req.Kind)
	if err != nil {
		writeDomainError(w, r, "selection", err)
		return
	}

	switch req.Action {
	case dto.ActionToggle:
		_, err = h.Dashboard.Toggle(kind, req.ID)
	case dto.ActionSelectAll:
		err = h.Dashboard.SelectAll(kind)
	case dto.ActionClear:
		err = h.Dashboard.ClearSelection(kind)
	default:
		writeError(w, r, http.StatusBadRequest, "action must be one of toggle, select_all, clear")
		return
	}
	if err != nil {
		writeDomainError(w, r, "selection", err)
		return
	}

	snap := h.Dashboard.Snapshot()
	writeJSON(w, r, http.StatusOK, dto.SelectionResponse{
		Kind:     kind,
		Selected: snap.Selection[kind],
		Version:  snap.Version,
	})
}
