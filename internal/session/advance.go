package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"github.com/axtion-io/TestBoost-sub002/internal/engine"
	"github.com/google/uuid"
)

// AdvanceResult reports what one Advance call did.
type AdvanceResult struct {
	Session *domain.Session `json:"session"`
	Step    *domain.Step    `json:"step,omitempty"`

	// Done means every step has settled and the session is terminal.
	Done bool `json:"done"`

	// AwaitingConfirmation means an interactive session is parked at
	// the planning gate; nothing was executed.
	AwaitingConfirmation bool `json:"awaiting_confirmation"`

	// StepError carries the captured failure when the current step
	// exhausted its retries or failed fatally.
	StepError string `json:"step_error,omitempty"`
}

// Advance drives the state machine one step forward: it refreshes the
// project lock, hands the current step to the retry engine, records the
// outcome, and moves the sequence cursor. Calling Advance on a session
// whose current step already completed is a no-op returning the
// recorded result, which makes re-invocation after a crash safe.
func (m *Manager) Advance(ctx context.Context, sessionID string) (*AdvanceResult, error) {
	mu := m.sessionMutex(sessionID)
	if !mu.TryLock() {
		return nil, fmt.Errorf("advance already in progress for session %s: %w", sessionID, domain.ErrConflict)
	}
	defer mu.Unlock()

	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.StatusPaused {
		return nil, fmt.Errorf("session %s is paused, resume it first: %w", sessionID, domain.ErrInvalidTransition)
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, domain.ErrInvalidTransition)
	}

	steps, err := m.repo.ListSteps(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// A cancel may have been requested while no step was running.
	if reason, ok := m.takeCancelRequest(sessionID); ok {
		if err := m.finalizeCancel(ctx, sess, reason); err != nil {
			return nil, err
		}
		return &AdvanceResult{Session: sess, Done: true}, nil
	}

	cur := firstUnsettled(steps)
	if cur == nil {
		// Crash landed between the last step and the completion
		// transition; finish the job now.
		if err := m.complete(ctx, sess, steps, ""); err != nil {
			return nil, err
		}
		return &AdvanceResult{Session: sess, Done: true}, nil
	}

	// Analysis-only sessions halt permanently once the analyzing phase
	// is behind them; the rest of the plan is skipped, never executed.
	if sess.Mode == domain.ModeAnalysisOnly && cur.Phase != domain.StatusAnalyzing {
		if err := m.skipRemaining(ctx, steps, cur.Seq); err != nil {
			return nil, err
		}
		if err := m.complete(ctx, sess, steps, "analysis-only mode: execution skipped"); err != nil {
			return nil, err
		}
		return &AdvanceResult{Session: sess, Done: true}, nil
	}

	// Planning gate: interactive sessions wait for explicit
	// confirmation before any executing-phase work starts.
	if needsConfirmation(sess, cur) {
		return &AdvanceResult{Session: sess, Step: cur, AwaitingConfirmation: true}, nil
	}

	// A session without a valid lock cannot advance.
	if err := m.locks.Refresh(ctx, sess.ProjectPath, sess.ID); err != nil {
		if errors.Is(err, domain.ErrLockLost) {
			m.appendEvent(ctx, sess.ID, "", domain.EventLockLost,
				fmt.Sprintf("lock lost on %s; retry after lock expiry of the new holder", sess.ProjectPath), nil)
			m.failSession(ctx, sess, steps, "project lock lost")
			return &AdvanceResult{Session: sess, Done: true, StepError: "project lock lost"}, nil
		}
		return nil, err
	}

	if sess.Status != cur.Phase {
		if err := m.transition(ctx, sess, steps, cur.Phase); err != nil {
			return nil, err
		}
	}

	// Seed the step's input from the previous step's output so results
	// flow through the plan.
	if len(cur.Input) == 0 {
		if prev := previousCompleted(steps, cur.Seq); prev != nil && len(prev.Output) > 0 {
			cur.Input = prev.Output
		}
	}

	in := engine.Input{
		SessionID:   sess.ID,
		StepCode:    cur.Code,
		ProjectPath: sess.ProjectPath,
		Workflow:    string(sess.Workflow),
		Payload:     cur.Input,
	}

	out, execErr := m.eng.Execute(ctx, cur, in, m.invokers.Resolve(cur.Code))
	if execErr != nil {
		m.failSession(ctx, sess, steps, execErr.Error())
		return &AdvanceResult{Session: sess, Step: cur, Done: true, StepError: execErr.Error()}, nil
	}

	m.storeArtifacts(ctx, sess.ID, cur.ID, out)

	// Honor a cancel that arrived while the step was in flight. The
	// step's own result is already committed.
	if reason, ok := m.takeCancelRequest(sessionID); ok {
		if err := m.finalizeCancel(ctx, sess, reason); err != nil {
			return nil, err
		}
		return &AdvanceResult{Session: sess, Step: cur, Done: true}, nil
	}

	if next := firstUnsettled(steps); next == nil {
		if err := m.complete(ctx, sess, steps, ""); err != nil {
			return nil, err
		}
		return &AdvanceResult{Session: sess, Step: cur, Done: true}, nil
	}

	if _, err := m.saveCheckpoint(ctx, sess, steps); err != nil {
		return nil, err
	}
	return &AdvanceResult{Session: sess, Step: cur}, nil
}

// firstUnsettled returns the lowest-sequence step that has not
// completed or been skipped, or nil when the plan is done.
func firstUnsettled(steps []*domain.Step) *domain.Step {
	for _, step := range steps {
		if !step.Status.Settled() {
			return step
		}
	}
	return nil
}

func previousCompleted(steps []*domain.Step, beforeSeq int) *domain.Step {
	var prev *domain.Step
	for _, step := range steps {
		if step.Seq >= beforeSeq {
			break
		}
		if step.Status == domain.StepCompleted {
			prev = step
		}
	}
	return prev
}

func needsConfirmation(sess *domain.Session, cur *domain.Step) bool {
	if sess.Mode != domain.ModeInteractive || sess.PlanConfirmed {
		return false
	}
	return cur.Phase != domain.StatusAnalyzing && cur.Phase != domain.StatusPlanning
}

func (m *Manager) skipRemaining(ctx context.Context, steps []*domain.Step, fromSeq int) error {
	for _, step := range steps {
		if step.Seq < fromSeq || step.Status.Settled() {
			continue
		}
		step.Status = domain.StepSkipped
		if err := m.repo.UpdateStep(ctx, step); err != nil {
			return fmt.Errorf("skip step %s: %w", step.Code, err)
		}
		m.appendEvent(ctx, step.SessionID, step.ID, domain.EventInfo,
			fmt.Sprintf("step %s skipped", step.Code), nil)
	}
	return nil
}

func (m *Manager) complete(ctx context.Context, sess *domain.Session, steps []*domain.Step, reason string) error {
	sess.Status = domain.StatusCompleted
	sess.StatusReason = reason
	sess.ResumeStatus = ""
	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	m.appendEvent(ctx, sess.ID, "", domain.EventStateChanged,
		"session completed", map[string]any{"to": string(domain.StatusCompleted)})

	if err := m.locks.Release(ctx, sess.ProjectPath, sess.ID); err != nil {
		slog.Warn("failed to release lock on completion", "session_id", sess.ID, "error", err)
	}
	if _, err := m.saveCheckpoint(ctx, sess, steps); err != nil {
		return err
	}

	slog.Info("Session completed", "session_id", sess.ID, "duration", time.Since(sess.CreatedAt))
	return nil
}

func (m *Manager) storeArtifacts(ctx context.Context, sessionID, stepID string, out *engine.Output) {
	if out == nil {
		return
	}
	for _, draft := range out.Artifacts {
		artifact := &domain.Artifact{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			StepID:    stepID,
			Name:      draft.Name,
			Type:      draft.Type,
			Content:   draft.Content,
			Metadata:  draft.Metadata,
		}
		if err := m.repo.CreateArtifact(ctx, artifact); err != nil {
			slog.Warn("failed to store artifact",
				"session_id", sessionID, "artifact", draft.Name, "error", err)
		}
	}
}
