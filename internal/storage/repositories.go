package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound    = errors.New("record not found")
	ErrInvalidRole = errors.New("invalid message role")
)

// ThreadRepository handles chat thread and message persistence.
type ThreadRepository struct {
	db  DB
	now func() time.Time
}

// NewThreadRepository creates a new thread repository.
func NewThreadRepository(db DB) *ThreadRepository {
	return &ThreadRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ListThreads lists a user's threads, most recently updated first.
func (r *ThreadRepository) ListThreads(ctx context.Context, userID string) ([]Thread, error) {
	query := `
		SELECT id, user_id, title, created_at, last_updated
		FROM chat_threads
		WHERE user_id = $1
		ORDER BY last_updated DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := []Thread{}
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.LastUpdated); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// GetThread retrieves a thread owned by userID.
func (r *ThreadRepository) GetThread(ctx context.Context, userID, id string) (*Thread, error) {
	query := `
		SELECT id, user_id, title, created_at, last_updated
		FROM chat_threads WHERE id = $1 AND user_id = $2
	`
	t := &Thread{}
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(
		&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// CreateOrTouchThread inserts the thread, or bumps last_updated when it
// already exists for the same user. An existing title is never overwritten.
func (r *ThreadRepository) CreateOrTouchThread(ctx context.Context, thread *Thread) error {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := r.now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.LastUpdated = now

	query := `
		INSERT INTO chat_threads (id, user_id, title, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET last_updated = excluded.last_updated
		WHERE chat_threads.user_id = excluded.user_id
	`
	res, err := r.db.ExecContext(ctx, query,
		thread.ID, thread.UserID, thread.Title, thread.CreatedAt, thread.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// The id exists under another user.
		return ErrNotFound
	}
	return nil
}

// RenameThread changes a thread's title.
func (r *ThreadRepository) RenameThread(ctx context.Context, userID, id, title string) error {
	query := `
		UPDATE chat_threads SET title = $1, last_updated = $2
		WHERE id = $3 AND user_id = $4
	`
	res, err := r.db.ExecContext(ctx, query, title, r.now(), id, userID)
	if err != nil {
		return fmt.Errorf("rename thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteThreadCascade deletes a thread and all of its messages in one
// transaction.
func (r *ThreadRepository) DeleteThreadCascade(ctx context.Context, userID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM chat_threads WHERE id = $1`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE thread_id = $1`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_threads WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return tx.Commit()
}

// AppendMessages writes messages in one transaction. Missing ids and
// timestamps are filled in.
func (r *ThreadRepository) AppendMessages(ctx context.Context, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO chat_messages (id, thread_id, user_id, role, text, created_at, recommendation_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	now := r.now()
	for _, m := range messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, query,
			m.ID, m.ThreadID, m.UserID, string(m.Role), m.Text, m.CreatedAt, nullJSON(m.RecommendationPayload),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

// GetHistory returns a thread's messages in order. Recommendation payloads
// are moved into a map keyed by message id. An unknown thread yields an
// empty history.
func (r *ThreadRepository) GetHistory(ctx context.Context, userID, threadID string) (*History, error) {
	query := `
		SELECT id, thread_id, user_id, role, text, created_at, recommendation_payload
		FROM chat_messages
		WHERE thread_id = $1 AND user_id = $2
		ORDER BY created_at ASC, CASE role WHEN 'user' THEN 0 ELSE 1 END ASC
	`
	rows, err := r.db.QueryContext(ctx, query, threadID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := &History{
		Messages:                   []Message{},
		RecommendationsByMessageID: map[string]json.RawMessage{},
	}
	for rows.Next() {
		var (
			m       Message
			role    string
			payload sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &role, &m.Text, &m.CreatedAt, &payload); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		if payload.Valid && payload.String != "" {
			history.RecommendationsByMessageID[m.ID] = json.RawMessage(payload.String)
		}
		history.Messages = append(history.Messages, m)
	}
	return history, rows.Err()
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
