package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pocketllm/internal/core"
)

// memSession pairs a session with its own mutex. Appends lock the session,
// not the store, so concurrent turns in different sessions never contend.
type memSession struct {
	mu      sync.Mutex
	session core.Session
}

// MemoryStore implements core.SessionStore with an in-process map.
// Suitable for single-instance deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memSession)}
}

// Create starts a new session owned by ownerID.
func (s *MemoryStore) Create(_ context.Context, ownerID string) (*core.Session, error) {
	sess := core.Session{
		ID:        uuid.NewString(),
		UserID:    ownerID,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &memSession{session: sess}
	s.mu.Unlock()

	out := sess
	return &out, nil
}

// Get returns a snapshot of the session and its messages.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	ms, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, core.NewNotFoundError("session not found")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	return snapshot(&ms.session), nil
}

// Append adds a message to the session history. The per-session mutex
// serializes concurrent appends to the same conversation.
func (s *MemoryStore) Append(_ context.Context, sessionID string, msg core.Message) error {
	s.mu.RLock()
	ms, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return core.NewNotFoundError("session not found")
	}

	ms.mu.Lock()
	ms.session.Messages = append(ms.session.Messages, msg)
	ms.mu.Unlock()
	return nil
}

// Delete removes the session and all of its messages. Returns false if the
// session is absent or ownerID does not match the owner.
func (s *MemoryStore) Delete(_ context.Context, sessionID, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[sessionID]
	if !ok || ms.session.UserID != ownerID {
		return false, nil
	}
	delete(s.sessions, sessionID)
	return true, nil
}

// ListByUser returns snapshots of all sessions owned by ownerID, oldest
// first.
func (s *MemoryStore) ListByUser(_ context.Context, ownerID string) ([]*core.Session, error) {
	s.mu.RLock()
	var owned []*memSession
	for _, ms := range s.sessions {
		if ms.session.UserID == ownerID {
			owned = append(owned, ms)
		}
	}
	s.mu.RUnlock()

	result := make([]*core.Session, 0, len(owned))
	for _, ms := range owned {
		ms.mu.Lock()
		result = append(result, snapshot(&ms.session))
		ms.mu.Unlock()
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// snapshot copies a session so callers never share the live message slice.
func snapshot(sess *core.Session) *core.Session {
	out := *sess
	out.Messages = make([]core.Message, len(sess.Messages))
	copy(out.Messages, sess.Messages)
	return &out
}
