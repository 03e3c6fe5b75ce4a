// Package session implements the workflow session lifecycle: the state
// machine, checkpoint/resume, pause/cancel, and crash recovery.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"github.com/axtion-io/TestBoost-sub002/internal/engine"
	"github.com/axtion-io/TestBoost-sub002/internal/lock"
	"github.com/axtion-io/TestBoost-sub002/internal/store"
	"github.com/axtion-io/TestBoost-sub002/internal/workflow"
	"github.com/google/uuid"
)

// Manager is the top-level state machine driving sessions through their
// step plans. All mutations of a project's session state go through it,
// and only while the project lock is held by that session.
type Manager struct {
	repo     store.Repository
	locks    *lock.Manager
	eng      *engine.Engine
	catalog  *workflow.Catalog
	invokers *Registry

	// advanceLocks serializes Advance/Pause/Cancel per session; steps
	// within a session execute strictly sequentially.
	advanceLocks sync.Map

	// cancelRequests holds cooperative cancellation reasons checked
	// once an in-flight step settles.
	cancelRequests sync.Map
}

// NewManager wires the lifecycle manager.
func NewManager(repo store.Repository, locks *lock.Manager, eng *engine.Engine, catalog *workflow.Catalog, invokers *Registry) *Manager {
	return &Manager{
		repo:     repo,
		locks:    locks,
		eng:      eng,
		catalog:  catalog,
		invokers: invokers,
	}
}

func (m *Manager) sessionMutex(sessionID string) *sync.Mutex {
	mu, _ := m.advanceLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Create validates the request, claims the project lock, materializes
// the step plan, and returns the new pending session. A held lock
// surfaces as *domain.LockHeldError carrying the holder's session id.
func (m *Manager) Create(ctx context.Context, projectPath string, wf domain.WorkflowType, mode domain.ExecutionMode, metadata map[string]string) (*domain.Session, error) {
	if projectPath == "" {
		return nil, fmt.Errorf("%w: project path is required", domain.ErrValidation)
	}
	if !wf.Valid() {
		return nil, fmt.Errorf("%w: unknown workflow type %q", domain.ErrValidation, wf)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown execution mode %q", domain.ErrValidation, mode)
	}

	plan, err := m.catalog.Plan(wf)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &domain.Session{
		ID:          uuid.NewString(),
		ProjectPath: projectPath,
		Workflow:    wf,
		Mode:        mode,
		Status:      domain.StatusPending,
		// Autonomous sessions never wait at the planning gate.
		PlanConfirmed: mode == domain.ModeAutonomous,
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if _, err := m.locks.Acquire(ctx, projectPath, sess.ID); err != nil {
		// The session row exists but never became visible as pending
		// work; drop it so the failed create leaves nothing behind.
		if delErr := m.repo.DeleteSession(ctx, sess.ID); delErr != nil {
			slog.Warn("failed to delete session after lock conflict", "session_id", sess.ID, "error", delErr)
		}
		return nil, err
	}

	steps := make([]*domain.Step, len(plan))
	for i, d := range plan {
		steps[i] = &domain.Step{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Code:      d.Code,
			Name:      d.Name,
			Seq:       i + 1,
			Phase:     d.Phase,
			Status:    domain.StepPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if err := m.repo.CreateSteps(ctx, steps); err != nil {
		return nil, fmt.Errorf("materialize step plan: %w", err)
	}

	m.appendEvent(ctx, sess.ID, "", domain.EventSessionCreated,
		fmt.Sprintf("session created for %s (%s, %s)", projectPath, wf, mode),
		map[string]any{"workflow": string(wf), "mode": string(mode)})

	if _, err := m.saveCheckpoint(ctx, sess, steps); err != nil {
		return nil, err
	}

	slog.Info("Session created",
		"session_id", sess.ID, "project_path", projectPath,
		"workflow", wf, "mode", mode)
	return sess, nil
}

// Get retrieves a session by id.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return sess, nil
}

// Confirm moves an interactive session past the planning gate.
func (m *Manager) Confirm(ctx context.Context, sessionID string) (*domain.Session, error) {
	mu := m.sessionMutex(sessionID)
	if !mu.TryLock() {
		return nil, fmt.Errorf("session %s has a step in progress: %w", sessionID, domain.ErrConflict)
	}
	defer mu.Unlock()

	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() || sess.Status == domain.StatusPaused {
		return nil, fmt.Errorf("cannot confirm session in state %s: %w", sess.Status, domain.ErrInvalidTransition)
	}
	if sess.PlanConfirmed {
		return sess, nil
	}

	sess.PlanConfirmed = true
	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	m.appendEvent(ctx, sess.ID, "", domain.EventInfo, "plan confirmed by operator", nil)
	return sess, nil
}

// Pause stops automatic advancement and writes a checkpoint, returning
// its id. An in-flight step is never killed: Pause waits for it to
// settle first. Terminal sessions report ErrInvalidTransition.
func (m *Manager) Pause(ctx context.Context, sessionID, reason string) (string, error) {
	mu := m.sessionMutex(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.Status.Terminal() {
		return "", fmt.Errorf("cannot pause session in state %s: %w", sess.Status, domain.ErrInvalidTransition)
	}

	steps, err := m.repo.ListSteps(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if sess.Status != domain.StatusPaused {
		sess.ResumeStatus = sess.Status
		sess.Status = domain.StatusPaused
		sess.StatusReason = reason
		if err := m.repo.UpdateSession(ctx, sess); err != nil {
			return "", err
		}
		m.appendEvent(ctx, sess.ID, "", domain.EventSessionPaused,
			fmt.Sprintf("session paused: %s", reason), nil)
	}

	cpID, err := m.saveCheckpoint(ctx, sess, steps)
	if err != nil {
		return "", err
	}

	slog.Info("Session paused", "session_id", sessionID, "reason", reason, "checkpoint_id", cpID)
	return cpID, nil
}

// Resume reacquires the project lock, restores state from a checkpoint,
// and readies the session so the next Advance continues from the first
// non-completed step. Another session holding the lock surfaces as
// *domain.LockHeldError.
func (m *Manager) Resume(ctx context.Context, sessionID, checkpointID string) (*domain.Session, error) {
	mu := m.sessionMutex(sessionID)
	if !mu.TryLock() {
		return nil, fmt.Errorf("session %s has a step in progress: %w", sessionID, domain.ErrConflict)
	}
	defer mu.Unlock()

	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("cannot resume session in state %s: %w", sess.Status, domain.ErrInvalidTransition)
	}

	if _, err := m.locks.Acquire(ctx, sess.ProjectPath, sess.ID); err != nil {
		return nil, err
	}

	steps, err := m.repo.ListSteps(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cp, err := m.loadCheckpoint(ctx, sess, steps, checkpointID)
	if err != nil {
		return nil, err
	}

	switch {
	case cp != nil:
		sess.Status = cp.Status
	case sess.ResumeStatus != "":
		sess.Status = sess.ResumeStatus
	default:
		sess.Status = domain.StatusPending
	}
	sess.ResumeStatus = ""
	sess.StatusReason = ""
	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}

	m.appendEvent(ctx, sess.ID, "", domain.EventSessionResumed,
		fmt.Sprintf("session resumed in state %s", sess.Status), nil)
	slog.Info("Session resumed", "session_id", sessionID, "status", sess.Status)
	return sess, nil
}

// loadCheckpoint picks the checkpoint to restore from. An explicitly
// requested checkpoint must belong to the session and match the current
// step plan; a stale latest checkpoint is only warned about, since the
// step rows remain the source of truth for progress.
func (m *Manager) loadCheckpoint(ctx context.Context, sess *domain.Session, steps []*domain.Step, checkpointID string) (*domain.Checkpoint, error) {
	planHash := workflow.HashSteps(steps)

	if checkpointID != "" {
		cp, err := m.repo.GetCheckpoint(ctx, checkpointID)
		if err != nil {
			return nil, err
		}
		if cp == nil || cp.SessionID != sess.ID {
			return nil, fmt.Errorf("checkpoint %s: %w", checkpointID, domain.ErrNotFound)
		}
		if cp.PlanHash != planHash {
			return nil, fmt.Errorf("%w: checkpoint %s does not match the session's step plan", domain.ErrValidation, checkpointID)
		}
		return cp, nil
	}

	cp, err := m.repo.LatestCheckpoint(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if cp != nil && cp.PlanHash != planHash {
		m.appendEvent(ctx, sess.ID, "", domain.EventWarning,
			"latest checkpoint does not match the step plan; resuming from step records", nil)
		return nil, nil
	}
	return cp, nil
}

// Cancel transitions the session to cancelled and releases the lock.
// With force false and a step in flight it reports ErrConflict so the
// caller retries once the step settles; with force true the cancel is
// recorded cooperatively and applied after the in-flight step finishes.
// External work is never killed mid-flight either way.
func (m *Manager) Cancel(ctx context.Context, sessionID string, force bool, reason string) error {
	if reason == "" {
		reason = "cancelled by caller"
	}

	mu := m.sessionMutex(sessionID)
	if !mu.TryLock() {
		if !force {
			return fmt.Errorf("session %s has a step in progress, retry once it settles: %w", sessionID, domain.ErrConflict)
		}
		m.cancelRequests.Store(sessionID, reason)
		slog.Info("Cancel requested for in-flight session", "session_id", sessionID)
		return nil
	}
	defer mu.Unlock()

	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("cannot cancel session in state %s: %w", sess.Status, domain.ErrInvalidTransition)
	}

	return m.finalizeCancel(ctx, sess, reason)
}

func (m *Manager) finalizeCancel(ctx context.Context, sess *domain.Session, reason string) error {
	sess.Status = domain.StatusCancelled
	sess.StatusReason = reason
	sess.ResumeStatus = ""
	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		return err
	}

	m.appendEvent(ctx, sess.ID, "", domain.EventSessionCancelled,
		fmt.Sprintf("session cancelled: %s", reason), nil)

	if err := m.locks.Release(ctx, sess.ProjectPath, sess.ID); err != nil {
		slog.Warn("failed to release lock on cancel", "session_id", sess.ID, "error", err)
	}

	slog.Info("Session cancelled", "session_id", sess.ID, "reason", reason)
	return nil
}

// takeCancelRequest consumes a pending cooperative cancel, if any.
func (m *Manager) takeCancelRequest(sessionID string) (string, bool) {
	if reason, ok := m.cancelRequests.LoadAndDelete(sessionID); ok {
		return reason.(string), true
	}
	return "", false
}

// failSession records a terminal failure with its root cause and the
// caller's next action, releases the lock, and checkpoints.
func (m *Manager) failSession(ctx context.Context, sess *domain.Session, steps []*domain.Step, reason string) {
	sess.Status = domain.StatusFailed
	sess.StatusReason = reason
	sess.ResumeStatus = ""
	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		slog.Error("failed to mark session failed", "session_id", sess.ID, "error", err)
		return
	}

	m.appendEvent(ctx, sess.ID, "", domain.EventError,
		fmt.Sprintf("session failed: %s", reason), nil)

	if err := m.locks.Release(ctx, sess.ProjectPath, sess.ID); err != nil {
		slog.Warn("failed to release lock on failure", "session_id", sess.ID, "error", err)
	}
	if _, err := m.saveCheckpoint(ctx, sess, steps); err != nil {
		slog.Warn("failed to checkpoint failed session", "session_id", sess.ID, "error", err)
	}
}

// transition moves the session to a new state, logging and persisting
// the change and writing a checkpoint.
func (m *Manager) transition(ctx context.Context, sess *domain.Session, steps []*domain.Step, to domain.SessionStatus) error {
	from := sess.Status
	sess.Status = to
	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}

	m.appendEvent(ctx, sess.ID, "", domain.EventStateChanged,
		fmt.Sprintf("state changed %s -> %s", from, to),
		map[string]any{"from": string(from), "to": string(to)})

	if _, err := m.saveCheckpoint(ctx, sess, steps); err != nil {
		return err
	}
	return nil
}

// saveCheckpoint snapshots the session's run state, sequence cursor,
// and plan hash. A paused session checkpoints the state it will return
// to, never "paused" itself.
func (m *Manager) saveCheckpoint(ctx context.Context, sess *domain.Session, steps []*domain.Step) (string, error) {
	status := sess.Status
	if status == domain.StatusPaused {
		status = sess.ResumeStatus
	}

	cursor := len(steps) + 1
	for _, step := range steps {
		if !step.Status.Settled() {
			cursor = step.Seq
			break
		}
	}

	cp := &domain.Checkpoint{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Status:    status,
		Cursor:    cursor,
		PlanHash:  workflow.HashSteps(steps),
	}
	if err := m.repo.SaveCheckpoint(ctx, cp); err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}

	m.appendEvent(ctx, sess.ID, "", domain.EventCheckpointSaved,
		fmt.Sprintf("checkpoint at state %s, cursor %d", status, cp.Cursor),
		map[string]any{"checkpoint_id": cp.ID, "cursor": cp.Cursor})
	return cp.ID, nil
}

func (m *Manager) appendEvent(ctx context.Context, sessionID, stepID string, eventType domain.EventType, message string, payload map[string]any) {
	event := &domain.Event{
		SessionID: sessionID,
		StepID:    stepID,
		Type:      eventType,
		Message:   message,
		Payload:   payload,
	}
	if err := m.repo.AppendEvent(ctx, event); err != nil {
		slog.Warn("failed to append event", "session_id", sessionID, "type", eventType, "error", err)
	}
}
