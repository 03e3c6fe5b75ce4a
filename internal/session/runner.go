package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
)

// StartRunner ticks autonomous sessions forward in the background, one
// Advance per session per tick. Interactive and analysis-only sessions
// advance only through their callers; paused sessions wait for resume.
func (m *Manager) StartRunner(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Session runner stopped")
				return
			case <-ticker.C:
				m.runOnce(ctx)
			}
		}
	}()
}

func (m *Manager) runOnce(ctx context.Context) {
	sessions, err := m.repo.ListActiveSessions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Runner failed to list sessions", "error", err)
		}
		return
	}

	for _, sess := range sessions {
		if sess.Mode != domain.ModeAutonomous || sess.Status == domain.StatusPaused {
			continue
		}

		result, err := m.Advance(ctx, sess.ID)
		if err != nil {
			// Another caller advancing the same session is expected.
			if errors.Is(err, domain.ErrConflict) || ctx.Err() != nil {
				continue
			}
			slog.Error("Runner advance failed", "session_id", sess.ID, "error", err)
			continue
		}
		if result.StepError != "" {
			slog.Warn("Runner observed step failure",
				"session_id", sess.ID, "error", result.StepError)
		}
	}
}
