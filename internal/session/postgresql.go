package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pocketllm/internal/core"
)

// PostgresStore implements core.SessionStore on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the schema if needed and returns the store.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tokens_used INTEGER,
			created_at TIMESTAMPTZ NOT NULL,
			seq BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create session schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

// Create starts a new session owned by ownerID.
func (s *PostgresStore) Create(ctx context.Context, ownerID string) (*core.Session, error) {
	sess := &core.Session{
		ID:        uuid.NewString(),
		UserID:    ownerID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, created_at) VALUES ($1, $2, $3)`,
		sess.ID, sess.UserID, sess.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// Get returns the session with its messages in insertion order.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	var sess core.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at FROM sessions WHERE id = $1`, sessionID,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewNotFoundError("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	msgs, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return &sess, nil
}

// Append adds a message to the session history. The row lock taken by
// SELECT ... FOR UPDATE serializes concurrent appends to the same session.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, msg core.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var owner string
	err = tx.QueryRow(ctx,
		`SELECT user_id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.NewNotFoundError("session not found")
	}
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, session_id, role, content, tokens_used, created_at, seq)
		 VALUES ($1, $2, $3, $4, $5, $6, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = $2))`,
		msg.ID, sessionID, msg.Role, msg.Content, msg.TokensUsed, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return tx.Commit(ctx)
}

// Delete removes the session; messages cascade in the same transaction.
// Returns false if the session is absent or not owned by ownerID.
func (s *PostgresStore) Delete(ctx context.Context, sessionID, ownerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE id = $1 AND user_id = $2`, sessionID, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByUser returns all sessions owned by ownerID, oldest first, each with
// its full message history.
func (s *PostgresStore) ListByUser(ctx context.Context, ownerID string) ([]*core.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, created_at FROM sessions WHERE user_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		var sess core.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	for _, sess := range sessions {
		msgs, err := s.loadMessages(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		sess.Messages = msgs
	}
	return sessions, nil
}

// Close is a no-op; the shared storage layer owns the pool.
func (s *PostgresStore) Close() error {
	return nil
}

func (s *PostgresStore) loadMessages(ctx context.Context, sessionID string) ([]core.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, tokens_used, created_at FROM messages
		 WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var msg core.Message
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.TokensUsed, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return msgs, nil
}
