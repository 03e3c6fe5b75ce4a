package domain

import (
	"time"
)

// EventType categorizes audit trail entries.
type EventType string

const (
	EventInfo    EventType = "info"
	EventWarning EventType = "warning"
	EventError   EventType = "error"

	EventSessionCreated   EventType = "session-created"
	EventStateChanged     EventType = "state-changed"
	EventSessionPaused    EventType = "session-paused"
	EventSessionResumed   EventType = "session-resumed"
	EventSessionCancelled EventType = "session-cancelled"

	EventStepStarted   EventType = "step-started"
	EventStepCompleted EventType = "step-completed"
	EventStepFailed    EventType = "step-failed"
	EventRetry         EventType = "retry"

	EventLockAcquired  EventType = "lock-acquired"
	EventLockRefreshed EventType = "lock-refreshed"
	EventLockReleased  EventType = "lock-released"
	EventLockLost      EventType = "lock-lost"

	EventCheckpointSaved EventType = "checkpoint-saved"
)

// Event is one immutable audit entry. Events are append-only: the store
// exposes no update or delete path short of purging the parent session.
type Event struct {
	// ID is the insertion sequence; it breaks ordering ties between
	// events sharing a timestamp.
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	StepID    string         `json:"step_id,omitempty"`
	Type      EventType      `json:"type"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
