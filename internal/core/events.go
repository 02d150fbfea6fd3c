package core

import "time"

// EventType discriminates StreamEvent variants.
type EventType string

const (
	EventStart EventType = "start"
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent is one event in a streaming chat turn. A completed turn emits
// exactly one start, zero or more token events, and exactly one terminal
// done or error event; nothing follows a terminal event.
//
// Fields are populated per variant and omitted otherwise, so the wire shape
// matches the event type.
type StreamEvent struct {
	Type EventType `json:"type"`

	// start
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	// token
	Content string `json:"content,omitempty"`

	// done
	TokensUsed int        `json:"tokens_used,omitempty"`
	Cached     bool       `json:"cached,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// StartEvent builds the opening event of a stream.
func StartEvent(sessionID, messageID string) StreamEvent {
	return StreamEvent{Type: EventStart, SessionID: sessionID, MessageID: messageID}
}

// TokenEvent builds a content fragment event.
func TokenEvent(content string) StreamEvent {
	return StreamEvent{Type: EventToken, Content: content}
}

// DoneEvent builds the terminal event of a successful stream.
func DoneEvent(tokensUsed int, cached bool, at time.Time) StreamEvent {
	return StreamEvent{Type: EventDone, TokensUsed: tokensUsed, Cached: cached, Timestamp: &at}
}

// ErrorEvent builds the terminal event of a failed stream.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}
