package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"github.com/axtion-io/TestBoost-sub002/internal/engine"
	"github.com/axtion-io/TestBoost-sub002/internal/lock"
	"github.com/axtion-io/TestBoost-sub002/internal/store"
	"github.com/axtion-io/TestBoost-sub002/internal/workflow"
)

// scriptedInvoker fails each step with its scripted errors in order,
// then succeeds, while counting invocations per step code.
type scriptedInvoker struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string][]error
	block    chan struct{}
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

func (s *scriptedInvoker) failNext(stepCode string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[stepCode] = append(s.failures[stepCode], errs...)
}

func (s *scriptedInvoker) count(stepCode string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stepCode]
}

func (s *scriptedInvoker) Invoke(ctx context.Context, in engine.Input) (*engine.Output, error) {
	s.mu.Lock()
	s.calls[in.StepCode]++
	var err error
	if queue := s.failures[in.StepCode]; len(queue) > 0 {
		err = queue[0]
		s.failures[in.StepCode] = queue[1:]
	}
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &engine.Output{
		Payload: map[string]any{"step": in.StepCode},
		Summary: in.StepCode + " done",
	}, nil
}

type fixture struct {
	repo store.Repository
	inv  *scriptedInvoker
	mgr  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test repository: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Failed to close repository: %v", err)
		}
	})

	inv := newScriptedInvoker()
	return &fixture{repo: repo, inv: inv, mgr: newManager(repo, inv)}
}

// newManager builds a lifecycle manager over an existing repository, so
// tests can simulate a process restart by constructing a second one.
func newManager(repo store.Repository, inv engine.Invoker) *Manager {
	locks := lock.NewManager(repo, time.Hour)
	eng := engine.New(repo, engine.Config{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		InvokeTimeout: time.Second,
	})
	return NewManager(repo, locks, eng, workflow.DefaultCatalog(), NewRegistry(inv))
}

func (f *fixture) create(t *testing.T, projectPath string, mode domain.ExecutionMode) *domain.Session {
	t.Helper()
	sess, err := f.mgr.Create(context.Background(), projectPath,
		domain.WorkflowDependencyMaintenance, mode, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return sess
}

// advanceUntilDone drives a session to a terminal state, bounded so a
// broken state machine cannot hang the test.
func (f *fixture) advanceUntilDone(t *testing.T, sessionID string) *AdvanceResult {
	t.Helper()
	for i := 0; i < 20; i++ {
		result, err := f.mgr.Advance(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("Advance %d failed: %v", i+1, err)
		}
		if result.Done || result.AwaitingConfirmation {
			return result
		}
	}
	t.Fatal("Session did not reach a terminal state within 20 advances")
	return nil
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.Create(ctx, "", domain.WorkflowDependencyMaintenance, domain.ModeAutonomous, nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected ErrValidation for empty project path, got %v", err)
	}
	if _, err := f.mgr.Create(ctx, "/p/a", "mystery", domain.ModeAutonomous, nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown workflow, got %v", err)
	}
	if _, err := f.mgr.Create(ctx, "/p/a", domain.WorkflowDependencyMaintenance, "yolo", nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown mode, got %v", err)
	}
}

func TestCreateMaterializesPlanAndLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.create(t, "/p/a", domain.ModeAutonomous)
	if sess.Status != domain.StatusPending {
		t.Errorf("Expected pending session, got %s", sess.Status)
	}
	if !sess.PlanConfirmed {
		t.Errorf("Expected autonomous session to skip the confirmation gate")
	}

	steps, err := f.repo.ListSteps(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if len(steps) != 5 {
		t.Fatalf("Expected 5 materialized steps, got %d", len(steps))
	}
	for i, step := range steps {
		if step.Seq != i+1 {
			t.Errorf("Expected contiguous seq starting at 1, got %d at index %d", step.Seq, i)
		}
		if step.Status != domain.StepPending {
			t.Errorf("Expected pending step, got %s", step.Status)
		}
	}

	lk, err := f.repo.GetLock(ctx, "/p/a")
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if lk == nil || lk.SessionID != sess.ID {
		t.Errorf("Expected lock held by the new session, got %+v", lk)
	}

	cp, err := f.repo.LatestCheckpoint(ctx, sess.ID)
	if err != nil {
		t.Fatalf("LatestCheckpoint failed: %v", err)
	}
	if cp == nil || cp.Cursor != 1 {
		t.Errorf("Expected initial checkpoint at cursor 1, got %+v", cp)
	}
}

func TestProjectExclusivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.create(t, "/p/a", domain.ModeAutonomous)

	_, err := f.mgr.Create(ctx, "/p/a", domain.WorkflowTestGeneration, domain.ModeAutonomous, nil)
	var held *domain.LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("Expected LockHeldError for same project, got %v", err)
	}
	if held.HolderSessionID != sess.ID {
		t.Errorf("Expected holder %s reported, got %s", sess.ID, held.HolderSessionID)
	}

	// The rejected session row must not linger as pending work.
	sessions, err := f.repo.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("Expected only the first session active, got %d", len(sessions))
	}

	// A different project is unaffected.
	if _, err := f.mgr.Create(ctx, "/p/b", domain.WorkflowTestGeneration, domain.ModeAutonomous, nil); err != nil {
		t.Errorf("Expected create for a different project to succeed, got %v", err)
	}
}

func TestAutonomousRunToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.create(t, "/p/a", domain.ModeAutonomous)
	result := f.advanceUntilDone(t, sess.ID)
	if !result.Done {
		t.Fatal("Expected session to finish")
	}

	final, err := f.mgr.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if final.Status != domain.StatusCompleted {
		t.Errorf("Expected completed session, got %s", final.Status)
	}

	steps, _ := f.repo.ListSteps(ctx, sess.ID)
	for _, step := range steps {
		if step.Status != domain.StepCompleted {
			t.Errorf("Expected step %s completed, got %s", step.Code, step.Status)
		}
		if n := f.inv.count(step.Code); n != 1 {
			t.Errorf("Expected step %s invoked once, got %d", step.Code, n)
		}
	}

	// The lock is released on completion.
	if lk, _ := f.repo.GetLock(ctx, "/p/a"); lk != nil {
		t.Errorf("Expected lock released after completion, got %+v", lk)
	}

	// Results flow through the plan: a later step sees the previous
	// step's output as its input.
	if got := steps[1].Input["step"]; got != steps[0].Code {
		t.Errorf("Expected step 2 input seeded from step 1 output, got %v", got)
	}

	// Advancing a terminal session is rejected.
	if _, err := f.mgr.Advance(ctx, sess.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition after completion, got %v", err)
	}
}

func TestStepRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Step 2 times out twice, then succeeds.
	f.inv.failNext("plan-upgrades",
		domain.RetryableExternal("timeout", errors.New("agent slow")),
		domain.RetryableExternal("timeout", errors.New("agent slow")))

	sess := f.create(t, "/p/a", domain.ModeAutonomous)
	f.advanceUntilDone(t, sess.ID)

	final, _ := f.mgr.Get(ctx, sess.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("Expected completed session, got %s", final.Status)
	}
	if n := f.inv.count("plan-upgrades"); n != 3 {
		t.Errorf("Expected 3 invocations of the flaky step, got %d", n)
	}

	retries, err := f.repo.QueryEvents(ctx, store.EventFilter{
		SessionID: sess.ID, Type: domain.EventRetry,
	})
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if len(retries) != 2 {
		t.Errorf("Expected exactly 2 retry events, got %d", len(retries))
	}
}

func TestStepFailureFailsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.inv.failNext("apply-upgrades",
		domain.FatalExternal("tool-rejected", errors.New("patch does not apply")))

	sess := f.create(t, "/p/a", domain.ModeAutonomous)
	result := f.advanceUntilDone(t, sess.ID)
	if !result.Done || result.StepError == "" {
		t.Fatalf("Expected Done with a step error, got %+v", result)
	}

	final, _ := f.mgr.Get(ctx, sess.ID)
	if final.Status != domain.StatusFailed {
		t.Errorf("Expected failed session, got %s", final.Status)
	}
	if final.StatusReason == "" {
		t.Errorf("Expected root cause recorded on the session")
	}

	// The failed step keeps its captured error; later steps never ran.
	steps, _ := f.repo.ListSteps(ctx, sess.ID)
	var failed *domain.Step
	for _, step := range steps {
		if step.Code == "apply-upgrades" {
			failed = step
		}
	}
	if failed == nil || failed.Status != domain.StepFailed {
		t.Fatalf("Expected apply-upgrades failed, got %+v", failed)
	}
	if n := f.inv.count("run-tests"); n != 0 {
		t.Errorf("Expected later steps untouched, run-tests invoked %d times", n)
	}

	// The lock is released so the project is not blocked.
	if lk, _ := f.repo.GetLock(ctx, "/p/a"); lk != nil {
		t.Errorf("Expected lock released after failure, got %+v", lk)
	}
}

func TestAnalysisOnlyHaltsAfterAnalysis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.create(t, "/p/a", domain.ModeAnalysisOnly)
	result := f.advanceUntilDone(t, sess.ID)
	if !result.Done {
		t.Fatal("Expected session to finish")
	}

	final, _ := f.mgr.Get(ctx, sess.ID)
	if final.Status != domain.StatusCompleted {
		t.Errorf("Expected completed session, got %s", final.Status)
	}

	steps, _ := f.repo.ListSteps(ctx, sess.ID)
	for _, step := range steps {
		switch step.Phase {
		case domain.StatusAnalyzing:
			if step.Status != domain.StepCompleted {
				t.Errorf("Expected analysis step %s completed, got %s", step.Code, step.Status)
			}
		default:
			if step.Status != domain.StepSkipped {
				t.Errorf("Expected step %s skipped, got %s", step.Code, step.Status)
			}
			if n := f.inv.count(step.Code); n != 0 {
				t.Errorf("Expected step %s never invoked, got %d", step.Code, n)
			}
		}
	}
}

func TestInteractiveConfirmationGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.create(t, "/p/a", domain.ModeInteractive)
	if sess.PlanConfirmed {
		t.Fatal("Expected interactive session to start unconfirmed")
	}

	// Analysis and planning run without confirmation.
	for i := 0; i < 2; i++ {
		if _, err := f.mgr.Advance(ctx, sess.ID); err != nil {
			t.Fatalf("Advance %d failed: %v", i+1, err)
		}
	}

	// The executing phase is gated.
	result, err := f.mgr.Advance(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Advance at gate failed: %v", err)
	}
	if !result.AwaitingConfirmation {
		t.Fatalf("Expected session parked at the confirmation gate, got %+v", result)
	}
	if n := f.inv.count("apply-upgrades"); n != 0 {
		t.Errorf("Expected no execution before confirmation, got %d invocations", n)
	}

	if _, err := f.mgr.Confirm(ctx, sess.ID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	final := f.advanceUntilDone(t, sess.ID)
	if !final.Done {
		t.Fatal("Expected session to finish after confirmation")
	}
	got, _ := f.mgr.Get(ctx, sess.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("Expected completed session, got %s", got.Status)
	}
}

func TestPauseResumeAcrossRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.create(t, "/p/a", domain.ModeAutonomous)
	for i := 0; i < 2; i++ {
		if _, err := f.mgr.Advance(ctx, sess.ID); err != nil {
			t.Fatalf("Advance %d failed: %v", i+1, err)
		}
	}

	cpID, err := f.mgr.Pause(ctx, sess.ID, "maintenance window")
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if cpID == "" {
		t.Fatal("Expected checkpoint id from Pause")
	}

	paused, _ := f.mgr.Get(ctx, sess.ID)
	if paused.Status != domain.StatusPaused {
		t.Fatalf("Expected paused session, got %s", paused.Status)
	}

	// A paused session cannot advance.
	if _, err := f.mgr.Advance(ctx, sess.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition while paused, got %v", err)
	}

	// The checkpoint records the run state, never "paused".
	cp, err := f.repo.GetCheckpoint(ctx, cpID)
	if err != nil || cp == nil {
		t.Fatalf("GetCheckpoint failed: %v / %+v", err, cp)
	}
	if cp.Status == domain.StatusPaused {
		t.Errorf("Expected checkpoint to hold the run state, got paused")
	}
	if cp.Cursor != 3 {
		t.Errorf("Expected cursor at step 3, got %d", cp.Cursor)
	}

	// Simulate a process restart: a fresh manager over the same store.
	restarted := newManager(f.repo, f.inv)

	resumed, err := restarted.Resume(ctx, sess.ID, cpID)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.Status == domain.StatusPaused {
		t.Errorf("Expected resume to restore the run state, got paused")
	}

	for i := 0; i < 20; i++ {
		result, err := restarted.Advance(ctx, sess.ID)
		if err != nil {
			t.Fatalf("Advance after resume failed: %v", err)
		}
		if result.Done {
			break
		}
	}

	final, _ := restarted.Get(ctx, sess.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("Expected completed session, got %s", final.Status)
	}

	// Completed steps are never re-executed across the restart.
	steps, _ := f.repo.ListSteps(ctx, sess.ID)
	for _, step := range steps {
		if n := f.inv.count(step.Code); n != 1 {
			t.Errorf("Expected step %s invoked once across restart, got %d", step.Code, n)
		}
	}
}

func TestResumeRejectsForeignOrStaleCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sessA := f.create(t, "/p/a", domain.ModeAutonomous)
	sessB := f.create(t, "/p/b", domain.ModeAutonomous)

	if _, err := f.mgr.Pause(ctx, sessA.ID, "hold"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	// Another session's checkpoint is not found for this session.
	cpB, err := f.repo.LatestCheckpoint(ctx, sessB.ID)
	if err != nil || cpB == nil {
		t.Fatalf("LatestCheckpoint for B failed: %v / %+v", err, cpB)
	}
	if _, err := f.mgr.Resume(ctx, sessA.ID, cpB.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for foreign checkpoint, got %v", err)
	}

	// A checkpoint whose plan hash no longer matches is rejected.
	stale := &domain.Checkpoint{
		ID: "cp-stale", SessionID: sessA.ID,
		Status: domain.StatusExecuting, Cursor: 1, PlanHash: "different-plan",
		CreatedAt: time.Now(),
	}
	if err := f.repo.SaveCheckpoint(ctx, stale); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if _, err := f.mgr.Resume(ctx, sessA.ID, "cp-stale"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected ErrValidation for mismatched plan hash, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.create(t, "/p/a", domain.ModeAutonomous)
	if err := f.mgr.Cancel(ctx, sess.ID, false, "operator change of plans"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	final, _ := f.mgr.Get(ctx, sess.ID)
	if final.Status != domain.StatusCancelled {
		t.Errorf("Expected cancelled session, got %s", final.Status)
	}
	if lk, _ := f.repo.GetLock(ctx, "/p/a"); lk != nil {
		t.Errorf("Expected lock released on cancel, got %+v", lk)
	}

	// Cancelling a terminal session is rejected.
	if err := f.mgr.Cancel(ctx, sess.ID, false, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for double cancel, got %v", err)
	}
}

func TestCancelRacingInFlightStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.inv.block = make(chan struct{})
	sess := f.create(t, "/p/a", domain.ModeAutonomous)

	advanceDone := make(chan error, 1)
	go func() {
		_, err := f.mgr.Advance(ctx, sess.ID)
		advanceDone <- err
	}()

	// Wait for the step to be in flight.
	deadline := time.After(5 * time.Second)
	for f.inv.count("analyze-dependencies") == 0 {
		select {
		case <-deadline:
			t.Fatal("Step never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// A plain cancel conflicts; a forced one is recorded cooperatively.
	if err := f.mgr.Cancel(ctx, sess.ID, false, ""); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict for cancel with a step in flight, got %v", err)
	}
	if err := f.mgr.Cancel(ctx, sess.ID, true, "urgent stop"); err != nil {
		t.Fatalf("Forced cancel failed: %v", err)
	}

	// A concurrent advance also conflicts.
	if _, err := f.mgr.Advance(ctx, sess.ID); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict for concurrent advance, got %v", err)
	}

	close(f.inv.block)
	if err := <-advanceDone; err != nil {
		t.Fatalf("In-flight advance failed: %v", err)
	}

	// The in-flight step settled normally, then the cancel applied.
	final, _ := f.mgr.Get(ctx, sess.ID)
	if final.Status != domain.StatusCancelled {
		t.Errorf("Expected cancelled session, got %s", final.Status)
	}
	steps, _ := f.repo.ListSteps(ctx, sess.ID)
	if steps[0].Status != domain.StepCompleted {
		t.Errorf("Expected in-flight step to settle before cancel, got %s", steps[0].Status)
	}
}

func TestLockLostFailsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.create(t, "/p/a", domain.ModeAutonomous)

	// Simulate another party reclaiming the lease.
	if err := f.repo.ReleaseLock(ctx, "/p/a", sess.ID); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if _, err := f.repo.AcquireLock(ctx, "/p/a", "intruder", time.Hour); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	result, err := f.mgr.Advance(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if !result.Done || result.StepError == "" {
		t.Fatalf("Expected Done with a lock-lost error, got %+v", result)
	}

	final, _ := f.mgr.Get(ctx, sess.ID)
	if final.Status != domain.StatusFailed {
		t.Errorf("Expected failed session, got %s", final.Status)
	}

	events, _ := f.repo.QueryEvents(ctx, store.EventFilter{
		SessionID: sess.ID, Type: domain.EventLockLost,
	})
	if len(events) == 0 {
		t.Errorf("Expected a lock-lost event")
	}
}

func TestRecoverActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	healthy := f.create(t, "/p/healthy", domain.ModeAutonomous)
	orphaned := f.create(t, "/p/orphaned", domain.ModeAutonomous)
	parked := f.create(t, "/p/parked", domain.ModeAutonomous)

	if _, err := f.mgr.Pause(ctx, parked.ID, "waiting"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	// The orphaned session's lease lapsed while the process was down.
	if err := f.repo.ReleaseLock(ctx, "/p/orphaned", orphaned.ID); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}

	restarted := newManager(f.repo, f.inv)
	if err := restarted.RecoverActive(ctx); err != nil {
		t.Fatalf("RecoverActive failed: %v", err)
	}

	got, _ := restarted.Get(ctx, healthy.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("Expected healthy session re-attached in pending, got %s", got.Status)
	}
	got, _ = restarted.Get(ctx, orphaned.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("Expected orphaned session failed, got %s", got.Status)
	}
	got, _ = restarted.Get(ctx, parked.ID)
	if got.Status != domain.StatusPaused {
		t.Errorf("Expected paused session left paused, got %s", got.Status)
	}

	// The recovered session still advances to completion.
	for i := 0; i < 20; i++ {
		result, err := restarted.Advance(ctx, healthy.ID)
		if err != nil {
			t.Fatalf("Advance after recovery failed: %v", err)
		}
		if result.Done {
			break
		}
	}
	got, _ = restarted.Get(ctx, healthy.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("Expected recovered session completed, got %s", got.Status)
	}
}

func TestConfirmRejectedWhilePausedOrTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.create(t, "/p/a", domain.ModeInteractive)
	if _, err := f.mgr.Pause(ctx, sess.ID, "hold"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if _, err := f.mgr.Confirm(ctx, sess.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition while paused, got %v", err)
	}
}
