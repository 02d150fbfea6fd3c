package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"pocketllm/internal/core"
)

// The memory and SQLite backends share one contract; both run the same
// suite. PostgreSQL needs a live server and is exercised in deployment.
func stores(t *testing.T) map[string]core.SessionStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	sqliteStore, err := NewSQLiteStore(context.Background(), db)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	return map[string]core.SessionStore{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestSessionLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sess, err := store.Create(ctx, "alice")
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if sess.ID == "" {
				t.Fatal("expected non-empty session ID")
			}
			if sess.UserID != "alice" {
				t.Errorf("owner = %q, want alice", sess.UserID)
			}

			got, err := store.Get(ctx, sess.ID)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.UserID != "alice" || len(got.Messages) != 0 {
				t.Errorf("unexpected session state: %+v", got)
			}
		})
	}
}

func TestGetMissingSession(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "no-such-session")
			assertNotFound(t, err)
		})
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := store.Create(ctx, "alice")
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			tokens := 3
			msgs := []core.Message{
				{Role: core.RoleUser, Content: "Hi", CreatedAt: time.Now().UTC()},
				{Role: core.RoleAssistant, Content: "Hello there", TokensUsed: &tokens, CreatedAt: time.Now().UTC()},
				{Role: core.RoleUser, Content: "Bye", CreatedAt: time.Now().UTC()},
			}
			for _, m := range msgs {
				if err := store.Append(ctx, sess.ID, m); err != nil {
					t.Fatalf("Append failed: %v", err)
				}
			}

			got, err := store.Get(ctx, sess.ID)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if len(got.Messages) != 3 {
				t.Fatalf("expected 3 messages, got %d", len(got.Messages))
			}
			for i, want := range []string{"Hi", "Hello there", "Bye"} {
				if got.Messages[i].Content != want {
					t.Errorf("message %d = %q, want %q", i, got.Messages[i].Content, want)
				}
			}
			if got.Messages[1].TokensUsed == nil || *got.Messages[1].TokensUsed != 3 {
				t.Error("assistant tokens_used not preserved")
			}
			if got.Messages[0].TokensUsed != nil {
				t.Error("user message should have no tokens_used")
			}
		})
	}
}

func TestAppendToMissingSession(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Append(context.Background(), "no-such-session", core.Message{
				Role: core.RoleUser, Content: "Hi",
			})
			assertNotFound(t, err)
		})
	}
}

func TestConcurrentAppendsSameSession(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := store.Create(ctx, "alice")
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			const writers = 8
			const perWriter = 10
			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						msg := core.Message{
							Role:    core.RoleUser,
							Content: fmt.Sprintf("writer %d message %d", w, i),
						}
						if err := store.Append(ctx, sess.ID, msg); err != nil {
							t.Errorf("Append failed: %v", err)
							return
						}
					}
				}(w)
			}
			wg.Wait()

			got, err := store.Get(ctx, sess.ID)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if len(got.Messages) != writers*perWriter {
				t.Errorf("lost appends: got %d messages, want %d", len(got.Messages), writers*perWriter)
			}
		})
	}
}

func TestDeleteRequiresOwnership(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := store.Create(ctx, "alice")
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if err := store.Append(ctx, sess.ID, core.Message{Role: core.RoleUser, Content: "secret"}); err != nil {
				t.Fatalf("Append failed: %v", err)
			}

			// Wrong owner: no-op, returns false.
			ok, err := store.Delete(ctx, sess.ID, "mallory")
			if err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if ok {
				t.Fatal("delete by non-owner must fail")
			}
			if _, err := store.Get(ctx, sess.ID); err != nil {
				t.Fatal("session should survive a non-owner delete")
			}

			// Owner delete purges session and messages.
			ok, err = store.Delete(ctx, sess.ID, "alice")
			if err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if !ok {
				t.Fatal("owner delete should succeed")
			}
			_, err = store.Get(ctx, sess.ID)
			assertNotFound(t, err)

			// Absent session: false, no error.
			ok, err = store.Delete(ctx, sess.ID, "alice")
			if err != nil || ok {
				t.Errorf("delete of absent session: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestListByUser(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := store.Create(ctx, "alice")
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			second, err := store.Create(ctx, "alice")
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if _, err := store.Create(ctx, "bob"); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			sessions, err := store.ListByUser(ctx, "alice")
			if err != nil {
				t.Fatalf("ListByUser failed: %v", err)
			}
			if len(sessions) != 2 {
				t.Fatalf("expected 2 sessions for alice, got %d", len(sessions))
			}
			ids := map[string]bool{sessions[0].ID: true, sessions[1].ID: true}
			if !ids[first.ID] || !ids[second.ID] {
				t.Errorf("unexpected session IDs: %v", ids)
			}

			none, err := store.ListByUser(ctx, "nobody")
			if err != nil {
				t.Fatalf("ListByUser failed: %v", err)
			}
			if len(none) != 0 {
				t.Errorf("expected no sessions for unknown user, got %d", len(none))
			}
		})
	}
}

func assertNotFound(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected not found error, got nil")
	}
	chatErr, ok := err.(*core.ChatError)
	if !ok {
		t.Fatalf("expected *core.ChatError, got %T: %v", err, err)
	}
	if chatErr.Type != core.ErrorTypeNotFound {
		t.Errorf("error type = %q, want %q", chatErr.Type, core.ErrorTypeNotFound)
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var km keyedMutex
	var wg sync.WaitGroup

	// Hammer a handful of keys concurrently; every entry must be gone
	// once all holders have released.
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("session-%d", i%3)
			for j := 0; j < 50; j++ {
				unlock := km.lock(key)
				unlock()
			}
		}(i)
	}
	wg.Wait()

	km.mu.Lock()
	remaining := len(km.locks)
	km.mu.Unlock()
	if remaining != 0 {
		t.Errorf("%d mutex entries retained after release, want 0", remaining)
	}
}

func TestKeyedMutexSerializesHolders(t *testing.T) {
	var km keyedMutex
	var wg sync.WaitGroup
	var counter, max int
	var mu sync.Mutex

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				unlock := km.lock("same")
				mu.Lock()
				counter++
				if counter > max {
					max = counter
				}
				mu.Unlock()

				mu.Lock()
				counter--
				mu.Unlock()
				unlock()
			}
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Errorf("observed %d concurrent holders for one key, want 1", max)
	}
}
