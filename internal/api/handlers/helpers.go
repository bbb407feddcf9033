package handlers

import (
	"context"
	"delivery-dashboard/internal/dashboard"
	"delivery-dashboard/internal/domain"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode failed: method=%s path=%s err=%v", r.Method, r.URL.Path, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// allow rejects any method other than method with 405.
func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// decodeBody decodes exactly one JSON object. An empty body leaves v as is
// when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	defer r.Body.Close()
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, r, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, r, http.StatusBadRequest, "body must contain only one JSON object")
		return false
	}
	return true
}

// writeDomainError maps engine errors to HTTP statuses. Validation messages
// are shown as is; network failures only as their user-facing notice.
func writeDomainError(w http.ResponseWriter, r *http.Request, source string, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrJobRunning):
		writeError(w, r, http.StatusConflict, domain.ErrJobRunning.Error())
	case errors.Is(err, dashboard.ErrSuperseded):
		writeError(w, r, http.StatusConflict, dashboard.ErrSuperseded.Error())
	case errors.Is(err, dashboard.ErrClosed):
		writeError(w, r, http.StatusServiceUnavailable, dashboard.ErrClosed.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, r, http.StatusServiceUnavailable, "request cancelled")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case domain.IsTransient(err):
		writeError(w, r, http.StatusServiceUnavailable, domain.NoticeFor(source, err).Message)
	case domain.IsFatal(err):
		writeError(w, r, http.StatusBadGateway, domain.NoticeFor(source, err).Message)
	default:
		log.Printf("op=%s method=%s path=%s err=%v", source, r.Method, r.URL.Path, err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
