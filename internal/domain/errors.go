package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the orchestration error taxonomy. Callers branch
// with errors.Is; handlers map them to transport status codes.
var (
	// ErrValidation marks bad input to session or step creation.
	// Surfaced immediately, never retried.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks a state clash: lock held, concurrent advance,
	// or a cancel racing an in-flight step.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks an unknown session, step, or artifact.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks a state machine transition that is
	// not allowed from the session's current status.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrLockLost marks a lease that expired and was reclaimed while
	// the holder still believed it owned the project.
	ErrLockLost = errors.New("project lock lost")
)

// LockHeldError reports that another session holds the project lock.
// It satisfies errors.Is(err, ErrConflict) so callers can treat it as a
// plain conflict while still reaching the holder's identity.
type LockHeldError struct {
	ProjectPath     string
	HolderSessionID string
	ExpiresAt       time.Time
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("project %s locked by session %s until %s; retry after lock expiry",
		e.ProjectPath, e.HolderSessionID, e.ExpiresAt.Format(time.RFC3339))
}

// Is makes LockHeldError match ErrConflict.
func (e *LockHeldError) Is(target error) bool {
	return target == ErrConflict
}

// ExternalError reports a failure from an external collaborator (the
// reasoning agent or a tool adapter) with enough structure for the
// retry engine's classification: a retryable flag and a status-code-like
// classifier such as "timeout", "rate-limit", or "auth".
type ExternalError struct {
	Classifier string
	Retryable  bool
	Err        error
}

func (e *ExternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("external %s: %v", e.Classifier, e.Err)
	}
	return fmt.Sprintf("external %s", e.Classifier)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// RetryableExternal wraps err as a transient external failure.
func RetryableExternal(classifier string, err error) *ExternalError {
	return &ExternalError{Classifier: classifier, Retryable: true, Err: err}
}

// FatalExternal wraps err as a non-retryable external failure.
func FatalExternal(classifier string, err error) *ExternalError {
	return &ExternalError{Classifier: classifier, Retryable: false, Err: err}
}
