package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"github.com/axtion-io/TestBoost-sub002/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

// All timestamps are stored as Unix nanoseconds: lock leases and event
// ordering both need sub-second resolution.
func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		workflow TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		status_reason TEXT NOT NULL DEFAULT '',
		plan_confirmed INTEGER NOT NULL DEFAULT 0,
		resume_status TEXT NOT NULL DEFAULT '',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_path);

	CREATE TABLE IF NOT EXISTS steps (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		seq INTEGER NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		input_json TEXT NOT NULL DEFAULT '{}',
		output_json TEXT NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_steps_session ON steps(session_id, seq);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		step_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		step_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		content_ref TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id, created_at);

	CREATE TABLE IF NOT EXISTS project_locks (
		project_path TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		acquired_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		cursor INTEGER NOT NULL,
		plan_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

func unmarshalMap(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return m, nil
}

func marshalStringMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalStringMap(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	metadata, err := marshalStringMap(sess.Metadata)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO sessions (id, project_path, workflow, mode, status, status_reason,
		plan_confirmed, resume_status, metadata_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.ProjectPath, string(sess.Workflow), string(sess.Mode),
		string(sess.Status), sess.StatusReason, sess.PlanConfirmed,
		string(sess.ResumeStatus), metadata,
		sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, project_path, workflow, mode, status, status_reason,
	plan_confirmed, resume_status, metadata_json, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var sess domain.Session
	var workflow, mode, status, resumeStatus, metadata string
	var createdAt, updatedAt int64

	err := row.Scan(
		&sess.ID, &sess.ProjectPath, &workflow, &mode, &status, &sess.StatusReason,
		&sess.PlanConfirmed, &resumeStatus, &metadata, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Workflow = domain.WorkflowType(workflow)
	sess.Mode = domain.ExecutionMode(mode)
	sess.Status = domain.SessionStatus(status)
	sess.ResumeStatus = domain.SessionStatus(resumeStatus)
	sess.CreatedAt = time.Unix(0, createdAt)
	sess.UpdatedAt = time.Unix(0, updatedAt)

	if sess.Metadata, err = unmarshalStringMap(metadata); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// ListSessions retrieves sessions matching the filter, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var conds []string
	var args []any

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Workflow != "" {
		conds = append(conds, "workflow = ?")
		args = append(args, string(filter.Workflow))
	}
	if filter.ProjectPath != "" {
		conds = append(conds, "project_path = ?")
		args = append(args, filter.ProjectPath)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "sessions")

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ListActiveSessions retrieves all sessions in a non-terminal state.
func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]*domain.Session, error) {
	return s.ListSessions(ctx, SessionFilter{Status: []domain.SessionStatus{
		domain.StatusPending, domain.StatusAnalyzing, domain.StatusPlanning,
		domain.StatusExecuting, domain.StatusValidating, domain.StatusPaused,
	}})
}

// UpdateSession persists mutable session fields.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *domain.Session) error {
	metadata, err := marshalStringMap(sess.Metadata)
	if err != nil {
		return err
	}

	query := `
	UPDATE sessions SET status = ?, status_reason = ?, plan_confirmed = ?,
		resume_status = ?, metadata_json = ?, updated_at = ?
	WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(sess.Status), sess.StatusReason, sess.PlanConfirmed,
		string(sess.ResumeStatus), metadata, time.Now().UnixNano(), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update session %s: %w", sess.ID, domain.ErrNotFound)
	}
	return nil
}

// DeleteSession removes a session and all child rows. Retries with
// exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = s.deleteSessionOnce(ctx, id); err == nil {
			return nil
		}
		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("DeleteSession failed with SQLITE_BUSY, retrying",
				"session_id", id,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}
		break
	}
	return fmt.Errorf("delete session %s: %w", id, err)
}

// deleteSessionOnce removes a session and all child rows in one
// transaction. Cascades are explicit rather than relying on the
// foreign_keys pragma, which is per-connection under pooling.
func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	defer rollback(tx, "delete session")

	for _, stmt := range []string{
		`DELETE FROM steps WHERE session_id = ?`,
		`DELETE FROM events WHERE session_id = ?`,
		`DELETE FROM artifacts WHERE session_id = ?`,
		`DELETE FROM checkpoints WHERE session_id = ?`,
		`DELETE FROM project_locks WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete session cascade: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

// PurgeTerminalSessionsBefore cascade-deletes terminal sessions last
// updated before the cutoff.
func (s *SQLiteStore) PurgeTerminalSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(domain.StatusCompleted), string(domain.StatusFailed),
		string(domain.StatusCancelled), cutoff.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("query purgeable sessions: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			closeRows(rows, "purgeable sessions")
			return 0, fmt.Errorf("scan purgeable session: %w", err)
		}
		ids = append(ids, id)
	}
	iterErr := rows.Err()
	closeRows(rows, "purgeable sessions")
	if iterErr != nil {
		return 0, fmt.Errorf("iterate purgeable sessions: %w", iterErr)
	}

	var purged int64
	for _, id := range ids {
		if err := s.DeleteSession(ctx, id); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}

func rollback(tx *sql.Tx, what string) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Warn("failed to rollback transaction", "op", what, "error", err)
	}
}

// CreateSteps inserts a session's materialized step plan in one
// transaction so a crash cannot leave a partial plan behind.
func (s *SQLiteStore) CreateSteps(ctx context.Context, steps []*domain.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create steps: %w", err)
	}
	defer rollback(tx, "create steps")

	query := `
	INSERT INTO steps (id, session_id, code, name, seq, phase, status,
		input_json, output_json, error, attempts, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, step := range steps {
		input, err := marshalMap(step.Input)
		if err != nil {
			return err
		}
		output, err := marshalMap(step.Output)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query,
			step.ID, step.SessionID, step.Code, step.Name, step.Seq,
			string(step.Phase), string(step.Status), input, output,
			step.Error, step.Attempts,
			step.CreatedAt.UnixNano(), step.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert step %s: %w", step.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create steps: %w", err)
	}
	return nil
}

const stepColumns = `id, session_id, code, name, seq, phase, status,
	input_json, output_json, error, attempts, created_at, updated_at`

func scanStep(row interface{ Scan(...any) error }) (*domain.Step, error) {
	var step domain.Step
	var phase, status, input, output string
	var createdAt, updatedAt int64

	err := row.Scan(
		&step.ID, &step.SessionID, &step.Code, &step.Name, &step.Seq,
		&phase, &status, &input, &output, &step.Error, &step.Attempts,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	step.Phase = domain.SessionStatus(phase)
	step.Status = domain.StepStatus(status)
	step.CreatedAt = time.Unix(0, createdAt)
	step.UpdatedAt = time.Unix(0, updatedAt)

	if step.Input, err = unmarshalMap(input); err != nil {
		return nil, err
	}
	if step.Output, err = unmarshalMap(output); err != nil {
		return nil, err
	}
	return &step, nil
}

// ListSteps retrieves a session's steps in sequence order.
func (s *SQLiteStore) ListSteps(ctx context.Context, sessionID string) ([]*domain.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer closeRows(rows, "steps")

	var steps []*domain.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// GetStep retrieves a step by id.
func (s *SQLiteStore) GetStep(ctx context.Context, id string) (*domain.Step, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE id = ?`, id)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan step row: %w", err)
	}
	return step, nil
}

// UpdateStep persists mutable step fields.
func (s *SQLiteStore) UpdateStep(ctx context.Context, step *domain.Step) error {
	input, err := marshalMap(step.Input)
	if err != nil {
		return err
	}
	output, err := marshalMap(step.Output)
	if err != nil {
		return err
	}

	query := `
	UPDATE steps SET status = ?, input_json = ?, output_json = ?, error = ?,
		attempts = ?, updated_at = ?
	WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(step.Status), input, output, step.Error, step.Attempts,
		time.Now().UnixNano(), step.ID,
	)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update step %s: %w", step.ID, domain.ErrNotFound)
	}
	return nil
}
