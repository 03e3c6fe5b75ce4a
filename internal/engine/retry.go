// Package engine executes single steps against external collaborators
// with per-invocation timeout, failure classification, and bounded
// exponential backoff.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"github.com/axtion-io/TestBoost-sub002/internal/store"
	"github.com/containerd/errdefs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Input is the payload handed to an external collaborator for one step.
type Input struct {
	SessionID   string         `json:"session_id"`
	StepCode    string         `json:"step_code"`
	ProjectPath string         `json:"project_path"`
	Workflow    string         `json:"workflow"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// ArtifactDraft is an artifact proposed by a collaborator, persisted by
// the lifecycle manager once the step commits.
type ArtifactDraft struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Output is a collaborator's result for one step.
type Output struct {
	Payload   map[string]any  `json:"payload,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Artifacts []ArtifactDraft `json:"artifacts,omitempty"`
}

// Invoker performs the actual external call for a step: the reasoning
// agent or a tool adapter. Implementations report errors with enough
// structure (domain.ExternalError, gRPC status, Docker errdefs) for
// classification.
type Invoker interface {
	Invoke(ctx context.Context, in Input) (*Output, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, in Input) (*Output, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, in Input) (*Output, error) {
	return f(ctx, in)
}

// Config tunes the retry behavior. The bounded-backoff mechanism is
// fixed; the numbers are policy.
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	InvokeTimeout time.Duration
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      10 * time.Second,
		InvokeTimeout: 5 * time.Minute,
	}
}

// Engine wraps step execution with retry, timeout, and audit logging.
type Engine struct {
	repo store.Repository
	cfg  Config
}

// New creates a retry engine persisting through repo.
func New(repo store.Repository, cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{repo: repo, cfg: cfg}
}

// Execute runs one step through the invoker. On success the step is
// marked completed with its output and attempt count recorded. On a
// fatal failure or exhausted retries the step is marked failed and the
// captured error returned so the caller can fail the session. There is
// never a fallback substitute for a broken collaborator.
func (e *Engine) Execute(ctx context.Context, step *domain.Step, in Input, invoke Invoker) (*Output, error) {
	// Idempotence: a step that already completed (e.g. a crash landed
	// between commit and cursor move) is never re-executed.
	if step.Status == domain.StepCompleted {
		return &Output{Payload: step.Output}, nil
	}

	step.Status = domain.StepInProgress
	if err := e.repo.UpdateStep(ctx, step); err != nil {
		return nil, fmt.Errorf("mark step in-progress: %w", err)
	}
	e.appendEvent(ctx, step, domain.EventStepStarted, fmt.Sprintf("step %s started", step.Code), nil)

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		step.Attempts = attempt
		if err := e.repo.UpdateStep(ctx, step); err != nil {
			return nil, fmt.Errorf("record attempt: %w", err)
		}

		out, err := e.invokeOnce(ctx, in, invoke)
		if err == nil {
			step.Status = domain.StepCompleted
			step.Error = ""
			if out != nil {
				step.Output = out.Payload
			}
			if err := e.repo.UpdateStep(ctx, step); err != nil {
				return nil, fmt.Errorf("mark step completed: %w", err)
			}
			e.appendEvent(ctx, step, domain.EventStepCompleted,
				fmt.Sprintf("step %s completed", step.Code),
				map[string]any{"attempts": attempt})
			return out, nil
		}

		lastErr = err
		if !Retryable(err) {
			slog.Warn("step failed with fatal error",
				"session_id", step.SessionID, "step_code", step.Code, "error", err)
			break
		}
		if attempt == e.cfg.MaxAttempts {
			slog.Warn("step exhausted retries",
				"session_id", step.SessionID, "step_code", step.Code,
				"attempts", attempt, "error", err)
			break
		}

		delay := e.backoff(attempt)
		e.appendEvent(ctx, step, domain.EventRetry,
			fmt.Sprintf("step %s attempt %d failed, retrying in %s", step.Code, attempt, delay),
			map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds(), "error": err.Error()})
		slog.Info("retrying step",
			"session_id", step.SessionID, "step_code", step.Code,
			"attempt", attempt, "delay", delay, "error", err)

		if err := sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	step.Status = domain.StepFailed
	step.Error = lastErr.Error()
	if err := e.repo.UpdateStep(ctx, step); err != nil {
		return nil, fmt.Errorf("mark step failed: %w", err)
	}
	e.appendEvent(ctx, step, domain.EventStepFailed,
		fmt.Sprintf("step %s failed: %v", step.Code, lastErr),
		map[string]any{"attempts": step.Attempts})

	return nil, fmt.Errorf("step %s failed after %d attempt(s): %w", step.Code, step.Attempts, lastErr)
}

func (e *Engine) invokeOnce(ctx context.Context, in Input, invoke Invoker) (*Output, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, e.cfg.InvokeTimeout)
	defer cancel()

	out, err := invoke.Invoke(invokeCtx, in)
	if err != nil {
		// Distinguish our per-invocation timeout from a caller cancel:
		// the former is a transient external condition.
		if invokeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, domain.RetryableExternal("timeout", err)
		}
		return nil, err
	}
	return out, nil
}

// backoff doubles the base delay per attempt, capped at MaxDelay, so
// inter-attempt delay is non-decreasing and bounded.
func (e *Engine) backoff(attempt int) time.Duration {
	delay := e.cfg.BaseDelay << (attempt - 1)
	if delay > e.cfg.MaxDelay || delay <= 0 {
		delay = e.cfg.MaxDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) appendEvent(ctx context.Context, step *domain.Step, eventType domain.EventType, message string, payload map[string]any) {
	event := &domain.Event{
		SessionID: step.SessionID,
		StepID:    step.ID,
		Type:      eventType,
		Message:   message,
		Payload:   payload,
	}
	if err := e.repo.AppendEvent(ctx, event); err != nil {
		slog.Warn("failed to append event", "session_id", step.SessionID, "type", eventType, "error", err)
	}
}

// Retryable classifies a collaborator failure. Timeouts, rate limits,
// and transient connectivity errors are retryable; malformed input,
// explicit rejection, and authentication failures are fatal. Unknown
// errors are fatal: external work is not assumed idempotent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var ext *domain.ExternalError
	if errors.As(err, &ext) {
		return ext.Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		default:
			return false
		}
	}

	switch {
	case errdefs.IsUnavailable(err), errdefs.IsConflict(err):
		return true
	case errdefs.IsNotFound(err), errdefs.IsInvalidArgument(err),
		errdefs.IsUnauthorized(err), errdefs.IsPermissionDenied(err),
		errdefs.IsFailedPrecondition(err):
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}
