package domain

import (
	"time"
)

// StepStatus is the lifecycle state of one unit of work.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// Settled reports whether the step has reached a state that allows the
// next step in sequence to start.
func (s StepStatus) Settled() bool {
	switch s {
	case StepCompleted, StepSkipped:
		return true
	}
	return false
}

// Step is one ordered unit of work inside a session's plan.
type Step struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	// Seq defines execution order; contiguous and strictly increasing
	// per session, starting at 1.
	Seq       int            `json:"seq"`
	Phase     SessionStatus  `json:"phase"`
	Status    StepStatus     `json:"status"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Attempts  int            `json:"attempts"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
