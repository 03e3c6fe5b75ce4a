package domain

import (
	"time"
)

// Artifact is a named output produced by a step: a report, a generated
// file, or a record of a modification. Immutable once created.
type Artifact struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	StepID    string `json:"step_id,omitempty"`
	Name      string `json:"name"`
	Type      string `json:"type"`

	// Content holds inline content; ContentRef points at external
	// storage. Exactly one of the two is expected to be set.
	Content    string `json:"content,omitempty"`
	ContentRef string `json:"content_ref,omitempty"`

	Size      int64             `json:"size"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
