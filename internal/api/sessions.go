package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"github.com/axtion-io/TestBoost-sub002/internal/store"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.Create)
		r.Get("/sessions", h.List)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/advance", h.Advance)
			r.Post("/confirm", h.Confirm)
			r.Post("/pause", h.Pause)
			r.Post("/resume", h.Resume)
			r.Post("/cancel", h.Cancel)
			r.Get("/steps", h.ListSteps)
			r.Get("/events", h.ListEvents)
			r.Get("/artifacts", h.ListArtifacts)
		})
		r.Get("/artifacts/{artifactID}", h.GetArtifact)
	})
}

type createSessionRequest struct {
	ProjectPath string            `json:"project_path"`
	Workflow    string            `json:"workflow"`
	Mode        string            `json:"mode"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Create starts a new session for a project.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = string(domain.ModeAutonomous)
	}

	sess, err := h.sessions.Create(r.Context(), req.ProjectPath,
		domain.WorkflowType(req.Workflow), domain.ExecutionMode(req.Mode), req.Metadata)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

// List returns sessions matching the query filters, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.SessionFilter{
		Workflow:    domain.WorkflowType(r.URL.Query().Get("workflow")),
		ProjectPath: r.URL.Query().Get("project_path"),
		Limit:       queryInt(r, "limit", 50),
		Offset:      queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := domain.SessionStatus(strings.TrimSpace(s))
			if !status.Valid() {
				Error(w, http.StatusBadRequest, "invalid status filter: "+s)
				return
			}
			filter.Status = append(filter.Status, status)
		}
	}

	sessions, err := h.repo.ListSessions(r.Context(), filter)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Get returns one session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

// Advance drives the session's state machine one step forward.
func (h *SessionHandler) Advance(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.Advance(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// Confirm approves an interactive session's plan.
func (h *SessionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Confirm(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

// Pause stops automatic advancement after the in-flight step settles.
func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "paused by caller"
	}

	cpID, err := h.sessions.Pause(r.Context(), chi.URLParam(r, "sessionID"), req.Reason)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"checkpoint_id": cpID})
}

type resumeRequest struct {
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// Resume restores a paused session from a checkpoint.
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	sess, err := h.sessions.Resume(r.Context(), chi.URLParam(r, "sessionID"), req.CheckpointID)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

type cancelRequest struct {
	Force  bool   `json:"force"`
	Reason string `json:"reason,omitempty"`
}

// Cancel transitions the session to cancelled.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.sessions.Cancel(r.Context(), chi.URLParam(r, "sessionID"), req.Force, req.Reason); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ListSteps returns the session's ordered step plan with statuses.
func (h *SessionHandler) ListSteps(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
		DomainError(w, err)
		return
	}

	steps, err := h.repo.ListSteps(r.Context(), sessionID)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

// ListEvents returns audit events newest first. Pollers pass "since"
// as the RFC3339Nano timestamp of the last event they saw.
func (h *SessionHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
		DomainError(w, err)
		return
	}

	filter := store.EventFilter{
		SessionID: sessionID,
		Type:      domain.EventType(r.URL.Query().Get("type")),
		Limit:     queryInt(r, "limit", 100),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid since timestamp, expected RFC3339")
			return
		}
		filter.Since = since
	}

	events, err := h.repo.QueryEvents(r.Context(), filter)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// ListArtifacts returns the session's artifacts, optionally filtered
// by type.
func (h *SessionHandler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
		DomainError(w, err)
		return
	}

	artifacts, err := h.repo.ListArtifacts(r.Context(), sessionID, r.URL.Query().Get("type"))
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"artifacts": artifacts})
}

// GetArtifact returns one artifact including its content.
func (h *SessionHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.repo.GetArtifact(r.Context(), chi.URLParam(r, "artifactID"))
	if err != nil {
		DomainError(w, err)
		return
	}
	if artifact == nil {
		Error(w, http.StatusNotFound, "artifact not found")
		return
	}
	JSON(w, http.StatusOK, artifact)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
