// Package lock manages the per-project exclusivity lease. The claim
// itself is a database-level atomic insert (see store.AcquireLock);
// this package layers the lease policy, audit events, and the expired-
// lock sweep on top.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"github.com/axtion-io/TestBoost-sub002/internal/store"
)

// Manager grants and releases a single exclusive lock per project path.
type Manager struct {
	repo  store.Repository
	lease time.Duration
}

// NewManager creates a lock manager with the given lease duration. The
// lease bounds how long a crashed holder can block a project.
func NewManager(repo store.Repository, lease time.Duration) *Manager {
	return &Manager{repo: repo, lease: lease}
}

// Lease returns the configured lease duration.
func (m *Manager) Lease() time.Duration {
	return m.lease
}

// Acquire claims the project lock for a session. An unexpired lock held
// by another session surfaces as *domain.LockHeldError.
func (m *Manager) Acquire(ctx context.Context, projectPath, sessionID string) (*domain.ProjectLock, error) {
	lock, err := m.repo.AcquireLock(ctx, projectPath, sessionID, m.lease)
	if err != nil {
		return nil, err
	}

	m.appendEvent(ctx, sessionID, domain.EventLockAcquired,
		fmt.Sprintf("lock acquired on %s", projectPath),
		map[string]any{"project_path": projectPath, "expires_at": lock.ExpiresAt.Format(time.RFC3339)})
	return lock, nil
}

// Refresh extends the lease for the holding session. A lease that
// already expired and was reclaimed reports domain.ErrLockLost.
func (m *Manager) Refresh(ctx context.Context, projectPath, sessionID string) error {
	return m.repo.RefreshLock(ctx, projectPath, sessionID, m.lease)
}

// Release drops the lock if still held by the session; otherwise a
// no-op so a stale caller can never release someone else's lock.
func (m *Manager) Release(ctx context.Context, projectPath, sessionID string) error {
	if err := m.repo.ReleaseLock(ctx, projectPath, sessionID); err != nil {
		return err
	}

	m.appendEvent(ctx, sessionID, domain.EventLockReleased,
		fmt.Sprintf("lock released on %s", projectPath),
		map[string]any{"project_path": projectPath})
	return nil
}

// Holder returns the current unexpired lock for a project, or nil.
func (m *Manager) Holder(ctx context.Context, projectPath string) (*domain.ProjectLock, error) {
	lock, err := m.repo.GetLock(ctx, projectPath)
	if err != nil {
		return nil, err
	}
	if lock == nil || lock.Expired(time.Now()) {
		return nil, nil
	}
	return lock, nil
}

// StartSweeper reclaims expired lock rows in the background until the
// context is cancelled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Lock sweeper stopped")
				return
			case <-ticker.C:
				reaped, err := m.repo.ReapExpiredLocks(ctx)
				if err != nil {
					if ctx.Err() == nil {
						slog.Error("Lock sweep failed", "error", err)
					}
					continue
				}
				if reaped > 0 {
					slog.Info("Reclaimed expired project locks", "count", reaped)
				}
			}
		}
	}()
}

func (m *Manager) appendEvent(ctx context.Context, sessionID string, eventType domain.EventType, message string, payload map[string]any) {
	event := &domain.Event{
		SessionID: sessionID,
		Type:      eventType,
		Message:   message,
		Payload:   payload,
	}
	if err := m.repo.AppendEvent(ctx, event); err != nil {
		slog.Warn("failed to append lock event", "session_id", sessionID, "type", eventType, "error", err)
	}
}
