// Package session owns conversation state: sessions and their append-only
// message history. Backends share one contract (core.SessionStore); appends
// to a single session are serialized so concurrent turns in the same
// conversation never interleave or lose a message.
package session

import (
	"context"
	"fmt"

	"pocketllm/internal/core"
	"pocketllm/internal/storage"
)

// New creates a session store backed by the given storage. A nil storage
// (the "memory" type) yields the in-process store.
func New(ctx context.Context, store storage.Storage) (core.SessionStore, error) {
	if store == nil {
		return NewMemoryStore(), nil
	}
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(ctx, store.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgresStore(ctx, store.PostgreSQLPool())
	default:
		return nil, fmt.Errorf("unsupported session storage type: %s", store.Type())
	}
}
