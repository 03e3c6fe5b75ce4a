// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
)

// SessionFilter narrows ListSessions results.
type SessionFilter struct {
	Status      []domain.SessionStatus
	Workflow    domain.WorkflowType
	ProjectPath string
	Limit       int
	Offset      int
}

// EventFilter narrows QueryEvents results. Since is exclusive: only
// events strictly newer than it are returned, which lets pollers pass
// the timestamp of the last event they saw.
type EventFilter struct {
	SessionID string
	Since     time.Time
	Type      domain.EventType
	Limit     int
}

// Repository defines the interface for persisting orchestration state.
// Lookups return (nil, nil) when the record does not exist.
type Repository interface {
	// CreateSession inserts a new session row.
	CreateSession(ctx context.Context, sess *domain.Session) error

	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// ListSessions retrieves sessions matching the filter, newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.Session, error)

	// ListActiveSessions retrieves all sessions in a non-terminal state.
	ListActiveSessions(ctx context.Context) ([]*domain.Session, error)

	// UpdateSession persists mutable session fields.
	UpdateSession(ctx context.Context, sess *domain.Session) error

	// DeleteSession removes a session and cascades to its steps,
	// events, artifacts, and checkpoints.
	DeleteSession(ctx context.Context, id string) error

	// PurgeTerminalSessionsBefore cascade-deletes terminal sessions
	// last updated before the cutoff. Returns the number purged.
	PurgeTerminalSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CreateSteps inserts a session's materialized step plan.
	CreateSteps(ctx context.Context, steps []*domain.Step) error

	// ListSteps retrieves a session's steps in sequence order.
	ListSteps(ctx context.Context, sessionID string) ([]*domain.Step, error)

	// GetStep retrieves a step by id.
	GetStep(ctx context.Context, id string) (*domain.Step, error)

	// UpdateStep persists mutable step fields.
	UpdateStep(ctx context.Context, step *domain.Step) error

	// AppendEvent appends an immutable audit entry. There is no update
	// or delete counterpart.
	AppendEvent(ctx context.Context, event *domain.Event) error

	// QueryEvents retrieves events matching the filter, newest first,
	// ties broken by insertion sequence.
	QueryEvents(ctx context.Context, filter EventFilter) ([]*domain.Event, error)

	// CreateArtifact inserts an immutable artifact.
	CreateArtifact(ctx context.Context, artifact *domain.Artifact) error

	// ListArtifacts retrieves a session's artifacts, optionally
	// filtered by type, newest first.
	ListArtifacts(ctx context.Context, sessionID, artifactType string) ([]*domain.Artifact, error)

	// GetArtifact retrieves an artifact by id.
	GetArtifact(ctx context.Context, id string) (*domain.Artifact, error)

	// AcquireLock claims the project lock for a session, reclaiming an
	// expired lease if present. Returns *domain.LockHeldError if an
	// unexpired lock is held by another session.
	AcquireLock(ctx context.Context, projectPath, sessionID string, lease time.Duration) (*domain.ProjectLock, error)

	// RefreshLock extends the lease. Returns domain.ErrLockLost if the
	// lock is no longer held by the session.
	RefreshLock(ctx context.Context, projectPath, sessionID string, lease time.Duration) error

	// ReleaseLock deletes the lock row only if held by the session;
	// no-op otherwise.
	ReleaseLock(ctx context.Context, projectPath, sessionID string) error

	// GetLock retrieves the lock row for a project path, expired or not.
	GetLock(ctx context.Context, projectPath string) (*domain.ProjectLock, error)

	// ReapExpiredLocks deletes all expired lock rows and returns the
	// number reclaimed.
	ReapExpiredLocks(ctx context.Context) (int64, error)

	// SaveCheckpoint inserts a checkpoint snapshot.
	SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error

	// GetCheckpoint retrieves a checkpoint by id.
	GetCheckpoint(ctx context.Context, id string) (*domain.Checkpoint, error)

	// LatestCheckpoint retrieves the most recent checkpoint for a session.
	LatestCheckpoint(ctx context.Context, sessionID string) (*domain.Checkpoint, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
