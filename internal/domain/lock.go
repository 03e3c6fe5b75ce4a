package domain

import (
	"time"
)

// ProjectLock is the exclusivity record for a project path. At most one
// unexpired lock row exists per path; an expired lock is treated as
// absent and may be reclaimed by any session.
type ProjectLock struct {
	ProjectPath string    `json:"project_path"`
	SessionID   string    `json:"session_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the lease has lapsed at the given instant.
func (l *ProjectLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Checkpoint is a durable snapshot of where a session is, written on
// every state transition so a new process can resume the session.
type Checkpoint struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	// Status is the run state to restore on resume; never paused.
	Status SessionStatus `json:"status"`

	// Cursor is the sequence number of the next step to execute.
	Cursor    int       `json:"cursor"`
	PlanHash  string    `json:"plan_hash"`
	CreatedAt time.Time `json:"created_at"`
}
