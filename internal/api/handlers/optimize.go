package handlers

import (
	"delivery-dashboard/internal/api/dto"
	"delivery-dashboard/internal/dashboard"
	"delivery-dashboard/internal/domain"
	"net/http"
	"strings"
)

type OptimizeHandler struct {
	Dashboard *dashboard.Dashboard
}

// Optimize runs an optimization over the current selection. The body is
// optional; an empty method means the learned model and an empty depot the
// configured default. Disconnecting cancels the run.
func (h *OptimizeHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req dto.OptimizeRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	snap, err := h.Dashboard.Optimize(r.Context(), domain.Method(req.Method), dashboard.OptimizeOptions{
		DepotID:      strings.TrimSpace(req.DepotID),
		UseRealRoads: req.UseRealRoads,
	})
	if err != nil {
		writeDomainError(w, r, "optimize", err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

func (h *OptimizeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	writeJSON(w, r, http.StatusOK, dto.CancelResponse{Cancelled: h.Dashboard.CancelOptimize()})
}

// Clear drops the displayed routes.
func (h *OptimizeHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	h.Dashboard.ClearRoutes()
	writeJSON(w, r, http.StatusOK, h.Dashboard.Snapshot())
}
