package core

import (
	"context"
	"time"
)

// Engine is the external text-generation collaborator. Its model loading,
// tokenization, and decoding are not this system's concern; the backend only
// sends assembled prompts and consumes text or token streams.
type Engine interface {
	// Ready reports whether a model is loaded and the engine can generate.
	// Returns an ErrorTypeEngineUnavailable ChatError otherwise. Callers
	// check this before attempting generation rather than catching a
	// failure mid-request.
	Ready(ctx context.Context) error

	// Info returns the engine's model configuration and readiness.
	Info(ctx context.Context) (*EngineInfo, error)

	// Generate runs a synchronous completion and returns the full text.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// GenerateStream starts a completion and returns a pull-driven token
	// stream. The stream is lazy, finite, and not restartable; the caller
	// must Close it. Cancelling ctx stops the producer promptly.
	GenerateStream(ctx context.Context, req *GenerateRequest) (TokenStream, error)
}

// TokenStream is a pull-driven sequence of text fragments from the engine.
// Recv returns io.EOF when the stream is exhausted.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// SessionStore owns conversation state. Implementations must be safe for
// concurrent use; appends to a single session are serialized so concurrent
// turns never interleave or lose a message.
type SessionStore interface {
	// Create starts a new session owned by ownerID.
	Create(ctx context.Context, ownerID string) (*Session, error)

	// Get returns the session with its full message history.
	// Returns an ErrorTypeNotFound ChatError if the session does not exist.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Append adds a message to the session's history.
	// Returns an ErrorTypeNotFound ChatError if the session does not exist.
	Append(ctx context.Context, sessionID string, msg Message) error

	// Delete removes the session and all of its messages atomically.
	// Returns false without error if the session is absent or ownerID does
	// not match the owner; callers that need to distinguish the two check
	// ownership via Get first.
	Delete(ctx context.Context, sessionID, ownerID string) (bool, error)

	// ListByUser returns all sessions owned by ownerID, oldest first.
	ListByUser(ctx context.Context, ownerID string) ([]*Session, error)

	// Close releases any resources held by the store.
	Close() error
}

// CacheKey is the set of inputs a cached generation is fingerprinted over.
// Prompt is the raw user prompt (not the assembled one); any difference in
// generation parameters yields a different fingerprint, since identical text
// under different sampling settings is not a valid substitute.
type CacheKey struct {
	UserID      string
	SessionID   string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// ResponseCache deduplicates generation work. Implementations treat entries
// older than the configured TTL as absent, and degrade read/write failures
// to a miss / no-op: caching is an optimization, never a correctness
// dependency. Concurrent Sets for the same key may race; last write wins.
type ResponseCache interface {
	// Get returns the cached text for the key, or ok=false on a miss.
	Get(ctx context.Context, key CacheKey) (text string, ok bool)

	// Set stores text for the key, overwriting any existing entry.
	Set(ctx context.Context, key CacheKey, text string)

	// TTL returns the configured entry lifetime.
	TTL() time.Duration

	// Close releases any resources held by the cache.
	Close() error
}

// ChatService is the inference orchestrator surface consumed by the HTTP
// layer.
type ChatService interface {
	// Chat runs a single-shot turn and returns the full response.
	Chat(ctx context.Context, userID string, req *ChatRequest) (*ChatResponse, error)

	// ChatStream runs a streaming turn. The returned channel carries exactly
	// one start event, zero or more token events, and one terminal done or
	// error event, then closes. Errors returned directly are pre-stream
	// failures (session resolution, ownership).
	ChatStream(ctx context.Context, userID string, req *ChatRequest) (<-chan StreamEvent, error)

	// History returns all sessions owned by the caller.
	History(ctx context.Context, userID string) ([]*Session, error)

	// SessionHistory returns one session after verifying ownership.
	SessionHistory(ctx context.Context, userID, sessionID string) (*Session, error)

	// DeleteSession removes a session the caller owns.
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// EngineInfo reports the engine's configuration and readiness.
	EngineInfo(ctx context.Context) (*EngineInfo, error)
}
