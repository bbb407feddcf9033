package api

import (
	"delivery-dashboard/internal/api/handlers"
	"delivery-dashboard/internal/dashboard"
	"delivery-dashboard/internal/domain"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
// This is the API composition root (handlers stay unaware of concrete adapters).
func NewRouter(d *dashboard.Dashboard, training domain.TrainingConfig) http.Handler {
	mux := http.NewServeMux()

	viewHandler := &handlers.ViewHandler{Dashboard: d}
	selectionHandler := &handlers.SelectionHandler{Dashboard: d}
	optimizeHandler := &handlers.OptimizeHandler{Dashboard: d}
	jobHandler := &handlers.JobHandler{Dashboard: d, Defaults: training}
	resultHandler := &handlers.ResultHandler{Dashboard: d}

	mux.HandleFunc("/health", handlers.Health)
	mux.HandleFunc("/snapshot", viewHandler.Snapshot)
	mux.HandleFunc("/ws", viewHandler.Stream)
	mux.HandleFunc("/refresh", selectionHandler.Refresh)
	mux.HandleFunc("/selection", selectionHandler.Update)
	mux.HandleFunc("/optimize", optimizeHandler.Optimize)
	mux.HandleFunc("/optimize/cancel", optimizeHandler.Cancel)
	mux.HandleFunc("/routes/clear", optimizeHandler.Clear)
	mux.HandleFunc("/jobs", jobHandler.Get)
	mux.HandleFunc("/jobs/start", jobHandler.Start)
	mux.HandleFunc("/jobs/stop", jobHandler.Stop)
	mux.HandleFunc("/jobs/reset", jobHandler.Reset)
	mux.HandleFunc("/jobs/attach", jobHandler.Attach)
	mux.HandleFunc("/jobs/models", jobHandler.Models)
	mux.HandleFunc("/jobs/models/activate", jobHandler.ActivateModel)
	mux.HandleFunc("/results", resultHandler.Results)
	mux.HandleFunc("/results/load", resultHandler.Load)
	mux.HandleFunc("/notices/dismiss", viewHandler.Dismiss)
	mux.Handle("/metrics", promhttp.Handler())

	return requestIDMiddleware(loggingMiddleware(mux))
}
