package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
)

// AcquireLock claims the project lock for a session. The claim is a
// single transaction: reap an expired row for the path, then insert-if-
// absent. This holds across process restarts and multiple instances,
// unlike an in-process mutex.
func (s *SQLiteStore) AcquireLock(ctx context.Context, projectPath, sessionID string, lease time.Duration) (*domain.ProjectLock, error) {
	now := time.Now()
	lock := &domain.ProjectLock{
		ProjectPath: projectPath,
		SessionID:   sessionID,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(lease),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin acquire lock: %w", err)
	}
	defer rollback(tx, "acquire lock")

	_, err = tx.ExecContext(ctx,
		`DELETE FROM project_locks WHERE project_path = ? AND expires_at <= ?`,
		projectPath, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("reap expired lock: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO project_locks (project_path, session_id, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_path) DO NOTHING`,
		projectPath, sessionID, now.UnixNano(), lock.ExpiresAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		var holder string
		var expiresAt int64
		err := tx.QueryRowContext(ctx,
			`SELECT session_id, expires_at FROM project_locks WHERE project_path = ?`,
			projectPath).Scan(&holder, &expiresAt)
		if err != nil {
			return nil, fmt.Errorf("read lock holder: %w", err)
		}
		if holder == sessionID {
			// Re-acquisition by the current holder refreshes the lease.
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("commit acquire lock: %w", err)
			}
			if err := s.RefreshLock(ctx, projectPath, sessionID, lease); err != nil {
				return nil, err
			}
			return lock, nil
		}
		return nil, &domain.LockHeldError{
			ProjectPath:     projectPath,
			HolderSessionID: holder,
			ExpiresAt:       time.Unix(0, expiresAt),
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit acquire lock: %w", err)
	}
	return lock, nil
}

// RefreshLock extends the lease for the current holder. A lock that
// expired and was reclaimed (or released) reports domain.ErrLockLost.
func (s *SQLiteStore) RefreshLock(ctx context.Context, projectPath, sessionID string, lease time.Duration) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE project_locks SET expires_at = ?
		WHERE project_path = ? AND session_id = ? AND expires_at > ?`,
		now.Add(lease).UnixNano(), projectPath, sessionID, now.UnixNano())
	if err != nil {
		return fmt.Errorf("refresh lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("refresh lock for %s: %w", projectPath, domain.ErrLockLost)
	}
	return nil
}

// ReleaseLock deletes the lock row only if still held by the session.
// Releasing someone else's lock is a silent no-op.
func (s *SQLiteStore) ReleaseLock(ctx context.Context, projectPath, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM project_locks WHERE project_path = ? AND session_id = ?`,
		projectPath, sessionID)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// GetLock retrieves the lock row for a project path, expired or not.
func (s *SQLiteStore) GetLock(ctx context.Context, projectPath string) (*domain.ProjectLock, error) {
	var lock domain.ProjectLock
	var acquiredAt, expiresAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT project_path, session_id, acquired_at, expires_at
		 FROM project_locks WHERE project_path = ?`, projectPath).
		Scan(&lock.ProjectPath, &lock.SessionID, &acquiredAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lock row: %w", err)
	}

	lock.AcquiredAt = time.Unix(0, acquiredAt)
	lock.ExpiresAt = time.Unix(0, expiresAt)
	return &lock, nil
}

// ReapExpiredLocks deletes all expired lock rows.
func (s *SQLiteStore) ReapExpiredLocks(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM project_locks WHERE expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("reap expired locks: %w", err)
	}
	return result.RowsAffected()
}

// SaveCheckpoint inserts a checkpoint snapshot.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO checkpoints (id, session_id, status, cursor, plan_hash, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		cp.ID, cp.SessionID, string(cp.Status), cp.Cursor, cp.PlanHash,
		cp.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

const checkpointColumns = `id, session_id, status, cursor, plan_hash, created_at`

func scanCheckpoint(row interface{ Scan(...any) error }) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var status string
	var createdAt int64

	err := row.Scan(&cp.ID, &cp.SessionID, &status, &cp.Cursor, &cp.PlanHash, &createdAt)
	if err != nil {
		return nil, err
	}

	cp.Status = domain.SessionStatus(status)
	cp.CreatedAt = time.Unix(0, createdAt)
	return &cp, nil
}

// GetCheckpoint retrieves a checkpoint by id.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, id string) (*domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, id)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint row: %w", err)
	}
	return cp, nil
}

// LatestCheckpoint retrieves the most recent checkpoint for a session.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints
		 WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, sessionID)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint row: %w", err)
	}
	return cp, nil
}
