package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pocketllm/internal/core"
)

// SQLiteStore implements core.SessionStore on SQLite.
type SQLiteStore struct {
	db *sql.DB

	// appendMu serializes appends per session. SQLite's single writer
	// already orders the inserts; the lock additionally makes the
	// exists-check-plus-insert atomic per conversation.
	appendMu keyedMutex
}

// NewSQLiteStore creates the schema if needed and returns the store.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tokens_used INTEGER,
			created_at DATETIME NOT NULL,
			seq INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create session schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Create starts a new session owned by ownerID.
func (s *SQLiteStore) Create(ctx context.Context, ownerID string) (*core.Session, error) {
	sess := &core.Session{
		ID:        uuid.NewString(),
		UserID:    ownerID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at) VALUES (?, ?, ?)`,
		sess.ID, sess.UserID, sess.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// Get returns the session with its messages in insertion order.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	var sess core.Session
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at FROM sessions WHERE id = ?`, sessionID,
	).Scan(&sess.ID, &sess.UserID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, core.NewNotFoundError("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	sess.CreatedAt = parseTime(createdAt)

	msgs, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return &sess, nil
}

// Append adds a message to the session history.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg core.Message) error {
	unlock := s.appendMu.lock(sessionID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if err == sql.ErrNoRows {
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

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, tokens_used, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?))`,
		msg.ID, sessionID, msg.Role, msg.Content, msg.TokensUsed,
		msg.CreatedAt.Format(time.RFC3339Nano), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return tx.Commit()
}

// Delete removes the session and its messages in one transaction. Returns
// false if the session is absent or not owned by ownerID.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID, ownerID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = ? AND user_id = ?`, sessionID, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return false, fmt.Errorf("failed to purge messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return true, nil
}

// ListByUser returns all sessions owned by ownerID, oldest first, each with
// its full message history.
func (s *SQLiteStore) ListByUser(ctx context.Context, ownerID string) ([]*core.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, created_at FROM sessions WHERE user_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		var sess core.Session
		var createdAt string
		if err := rows.Scan(&sess.ID, &sess.UserID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.CreatedAt = parseTime(createdAt)
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

// Close is a no-op; the shared storage layer owns the connection.
func (s *SQLiteStore) Close() error {
	return nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, sessionID string) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, tokens_used, created_at FROM messages
		 WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var msg core.Message
		var tokens sql.NullInt64
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &tokens, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if tokens.Valid {
			n := int(tokens.Int64)
			msg.TokensUsed = &n
		}
		msg.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return msgs, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// keyedMutex provides one mutex per key with lazy creation. Entries are
// reference counted and dropped once the last holder releases, so the map
// stays bounded by the number of in-flight appends.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
