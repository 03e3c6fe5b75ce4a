// Package domain contains core domain types for the TestBoost orchestrator.
package domain

import (
	"time"
)

// WorkflowType enumerates the supported maintenance workflows.
type WorkflowType string

const (
	// WorkflowDependencyMaintenance upgrades project dependencies.
	WorkflowDependencyMaintenance WorkflowType = "dependency-maintenance"
	// WorkflowTestGeneration generates and validates new tests.
	WorkflowTestGeneration WorkflowType = "test-generation"
	// WorkflowDeployment builds and deploys the project in a container.
	WorkflowDeployment WorkflowType = "deployment"
)

// Valid reports whether the workflow type is one of the known variants.
func (w WorkflowType) Valid() bool {
	switch w {
	case WorkflowDependencyMaintenance, WorkflowTestGeneration, WorkflowDeployment:
		return true
	}
	return false
}

// ExecutionMode controls how much human confirmation a session requires.
type ExecutionMode string

const (
	// ModeInteractive requires operator confirmation before executing.
	ModeInteractive ExecutionMode = "interactive"
	// ModeAutonomous runs the full plan without confirmation.
	ModeAutonomous ExecutionMode = "autonomous"
	// ModeAnalysisOnly halts permanently after the analyzing phase.
	ModeAnalysisOnly ExecutionMode = "analysis-only"
)

// Valid reports whether the execution mode is one of the known variants.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeInteractive, ModeAutonomous, ModeAnalysisOnly:
		return true
	}
	return false
}

// SessionStatus is a session state machine state.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusAnalyzing  SessionStatus = "analyzing"
	StatusPlanning   SessionStatus = "planning"
	StatusExecuting  SessionStatus = "executing"
	StatusValidating SessionStatus = "validating"
	StatusPaused     SessionStatus = "paused"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
	StatusCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the session still counts toward the per-project
// exclusivity invariant (pending, any running phase, or paused).
func (s SessionStatus) Active() bool {
	return !s.Terminal()
}

// Valid reports whether the status is one of the known states.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusPlanning, StatusExecuting,
		StatusValidating, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Session is one end-to-end workflow run against one project.
type Session struct {
	ID            string            `json:"id"`
	ProjectPath   string            `json:"project_path"`
	Workflow      WorkflowType      `json:"workflow"`
	Mode          ExecutionMode     `json:"mode"`
	Status        SessionStatus     `json:"status"`
	StatusReason  string            `json:"status_reason,omitempty"`
	PlanConfirmed bool              `json:"plan_confirmed"`
	// ResumeStatus holds the state a paused session returns to on resume.
	// Empty unless Status is paused.
	ResumeStatus SessionStatus `json:"resume_status,omitempty"`

	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
