// Package api provides HTTP handlers for the TestBoost orchestration API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"github.com/axtion-io/TestBoost-sub002/internal/session"
	"github.com/axtion-io/TestBoost-sub002/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	sessions *session.Manager
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *session.Manager) *Handler {
	return &Handler{repo: repo, sessions: sessions}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// DomainError maps the orchestration error taxonomy to HTTP statuses:
// validation 400, not-found 404, conflict and invalid transition 409.
// A held lock additionally reports the holding session id.
func DomainError(w http.ResponseWriter, err error) {
	var held *domain.LockHeldError
	if errors.As(err, &held) {
		JSON(w, http.StatusConflict, map[string]string{
			"error":             held.Error(),
			"holder_session_id": held.HolderSessionID,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		Error(w, http.StatusConflict, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

// RegisterHealth registers the database health endpoint.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if err := h.repo.Ping(r.Context()); err != nil {
			Error(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
