package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
)

// AppendEvent appends an immutable audit entry.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *domain.Event) error {
	payload, err := marshalMap(event.Payload)
	if err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO events (session_id, step_id, type, message, payload_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		event.SessionID, event.StepID, string(event.Type), event.Message,
		payload, event.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	if event.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("event insert id: %w", err)
	}
	return nil
}

// QueryEvents retrieves events matching the filter, newest first, ties
// broken by insertion sequence.
func (s *SQLiteStore) QueryEvents(ctx context.Context, filter EventFilter) ([]*domain.Event, error) {
	query := `
	SELECT id, session_id, step_id, type, message, payload_json, created_at
	FROM events WHERE session_id = ?`
	args := []any{filter.SessionID}

	if !filter.Since.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.Since.UnixNano())
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer closeRows(rows, "events")

	var events []*domain.Event
	for rows.Next() {
		var event domain.Event
		var eventType, payload string
		var createdAt int64

		if err := rows.Scan(
			&event.ID, &event.SessionID, &event.StepID, &eventType,
			&event.Message, &payload, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		event.Type = domain.EventType(eventType)
		event.CreatedAt = time.Unix(0, createdAt)
		if event.Payload, err = unmarshalMap(payload); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// CreateArtifact inserts an immutable artifact.
func (s *SQLiteStore) CreateArtifact(ctx context.Context, artifact *domain.Artifact) error {
	metadata, err := marshalStringMap(artifact.Metadata)
	if err != nil {
		return err
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}
	if artifact.Size == 0 {
		artifact.Size = int64(len(artifact.Content))
	}

	query := `
	INSERT INTO artifacts (id, session_id, step_id, name, type, content,
		content_ref, size, metadata_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		artifact.ID, artifact.SessionID, artifact.StepID, artifact.Name,
		artifact.Type, artifact.Content, artifact.ContentRef, artifact.Size,
		metadata, artifact.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

const artifactColumns = `id, session_id, step_id, name, type, content,
	content_ref, size, metadata_json, created_at`

func scanArtifact(row interface{ Scan(...any) error }) (*domain.Artifact, error) {
	var artifact domain.Artifact
	var metadata string
	var createdAt int64

	err := row.Scan(
		&artifact.ID, &artifact.SessionID, &artifact.StepID, &artifact.Name,
		&artifact.Type, &artifact.Content, &artifact.ContentRef,
		&artifact.Size, &metadata, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	artifact.CreatedAt = time.Unix(0, createdAt)
	if artifact.Metadata, err = unmarshalStringMap(metadata); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// ListArtifacts retrieves a session's artifacts, newest first.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, sessionID, artifactType string) ([]*domain.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE session_id = ?`
	args := []any{sessionID}
	if artifactType != "" {
		query += ` AND type = ?`
		args = append(args, artifactType)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer closeRows(rows, "artifacts")

	var artifacts []*domain.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact row: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifacts, nil
}

// GetArtifact retrieves an artifact by id.
func (s *SQLiteStore) GetArtifact(ctx context.Context, id string) (*domain.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	artifact, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact row: %w", err)
	}
	return artifact, nil
}
