package core

import "time"

// Message roles. Only these two appear in stored history; the system
// preamble is injected at prompt-assembly time and never persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation. Messages are immutable once
// stored: they are never edited or reordered, only appended.
type Message struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TokensUsed *int      `json:"tokens_used,omitempty"` // assistant messages only
	CreatedAt  time.Time `json:"created_at"`
}

// Session is one ongoing conversation owned by a single user. The owner is
// immutable after creation; Messages are in insertion order, which is
// conversational order.
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatRequest is the incoming chat request. SessionID may be empty, which
// starts a new conversation. MaxTokens and Temperature override the
// configured defaults when set.
type ChatRequest struct {
	SessionID   string   `json:"session_id,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	UseCache    *bool    `json:"use_cache,omitempty"`
}

// ChatResponse is the single-shot chat response.
type ChatResponse struct {
	MessageID  string    `json:"message_id"`
	SessionID  string    `json:"session_id"`
	Response   string    `json:"response"`
	TokensUsed int       `json:"tokens_used"`
	Cached     bool      `json:"cached"`
	Timestamp  time.Time `json:"timestamp"`
}

// GenerateRequest is the request passed to the external engine. Prompt is
// the fully assembled text; the remaining fields are decoding parameters.
type GenerateRequest struct {
	Prompt        string
	MaxTokens     int
	Temperature   float64
	TopP          float64
	StopSequences []string
}

// GenerateResult is a completed (non-streaming) generation.
type GenerateResult struct {
	Text string
}

// EngineInfo describes the configured engine and its readiness.
type EngineInfo struct {
	Model       string  `json:"model"`
	Ready       bool    `json:"ready"`
	ContextSize int     `json:"context_size"`
	BatchSize   int     `json:"batch_size"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}
