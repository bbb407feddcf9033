package handlers

import (
	"delivery-dashboard/internal/api/dto"
	"delivery-dashboard/internal/dashboard"
	"net/http"
	"strings"
)

type ResultHandler struct {
	Dashboard *dashboard.Dashboard
}

// Results lists saved results (GET) or deletes one by ?id= (DELETE).
func (h *ResultHandler) Results(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		infos, err := h.Dashboard.ListResults(r.Context())
		if err != nil {
			writeDomainError(w, r, "results", err)
			return
		}
		writeJSON(w, r, http.StatusOK, dto.ListResultsResponse{Results: infos})

	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if err := h.Dashboard.DeleteResult(r.Context(), id); err != nil {
			writeDomainError(w, r, "results", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// Load replaces the displayed routes with a saved result.
func (h *ResultHandler) Load(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req dto.LoadResultRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	snap, err := h.Dashboard.LoadResult(r.Context(), strings.TrimSpace(req.ID))
	if err != nil {
		writeDomainError(w, r, "results", err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}
