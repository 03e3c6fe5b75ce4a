package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
)

// RecoverActive re-attaches sessions a previous process left in a
// non-terminal state. Sessions whose lock lease survived keep their
// state and continue through the normal advancement path; sessions
// whose lease expired or was reclaimed are marked failed with a
// lock-lost event rather than left dangling. Paused sessions stay
// paused until an explicit resume.
func (m *Manager) RecoverActive(ctx context.Context) error {
	sessions, err := m.repo.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}

	for _, sess := range sessions {
		if sess.Status == domain.StatusPaused {
			slog.Info("Recovered paused session; waiting for resume", "session_id", sess.ID)
			continue
		}

		lk, err := m.repo.GetLock(ctx, sess.ProjectPath)
		if err != nil {
			return fmt.Errorf("inspect lock for %s: %w", sess.ProjectPath, err)
		}

		if lk == nil || lk.SessionID != sess.ID || lk.Expired(time.Now()) {
			steps, err := m.repo.ListSteps(ctx, sess.ID)
			if err != nil {
				return err
			}
			m.appendEvent(ctx, sess.ID, "", domain.EventLockLost,
				fmt.Sprintf("lock lost on %s during downtime", sess.ProjectPath), nil)
			m.failSession(ctx, sess, steps, "project lock lost during restart")
			slog.Warn("Recovered session failed: lock lost",
				"session_id", sess.ID, "project_path", sess.ProjectPath)
			continue
		}

		if err := m.locks.Refresh(ctx, sess.ProjectPath, sess.ID); err != nil {
			slog.Warn("failed to refresh recovered lock", "session_id", sess.ID, "error", err)
			continue
		}
		m.appendEvent(ctx, sess.ID, "", domain.EventSessionResumed,
			fmt.Sprintf("session re-attached after restart in state %s", sess.Status), nil)
		slog.Info("Recovered session", "session_id", sess.ID, "status", sess.Status)
	}

	return nil
}

// StartRetentionSweeper purges terminal sessions older than the
// retention window, cascading to their steps, events, and artifacts.
func (m *Manager) StartRetentionSweeper(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Retention sweeper stopped")
				return
			case <-ticker.C:
				purged, err := m.repo.PurgeTerminalSessionsBefore(ctx, time.Now().Add(-retention))
				if err != nil {
					if ctx.Err() == nil {
						slog.Error("Retention sweep failed", "error", err)
					}
					continue
				}
				if purged > 0 {
					slog.Info("Purged expired sessions", "count", purged)
				}
			}
		}
	}()
}
