// Package inference ties the session store, prompt assembler, response
// cache, and generation engine together into single-shot and streaming chat
// turns.
package inference

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"pocketllm/internal/core"
	"pocketllm/internal/observability"
	"pocketllm/internal/prompt"
	"pocketllm/internal/sanitize"
)

// Options configures an Orchestrator. Values are read once at construction
// and immutable afterwards.
type Options struct {
	// SystemPromptPath is the preamble source; read failures degrade to
	// the built-in default preamble.
	SystemPromptPath string

	// HistoryBudget caps the estimated token size of trimmed history.
	HistoryBudget int

	// CacheEnabled gates the response cache globally. Individual requests
	// can still opt out via use_cache.
	CacheEnabled bool

	// DefaultMaxTokens and DefaultTemperature apply when a request omits
	// the parameter.
	DefaultMaxTokens   int
	DefaultTemperature float64

	// ReplayPause is the cosmetic delay between token events replayed from
	// cache, approximating real-time pacing. Zero disables it.
	ReplayPause time.Duration
}

// Orchestrator implements core.ChatService. It is constructed with explicit
// references to its collaborators; there is no ambient global state.
type Orchestrator struct {
	sessions core.SessionStore
	cache    core.ResponseCache
	engine   core.Engine
	opts     Options
}

// New creates an Orchestrator. The cache may be nil when caching is
// disabled entirely.
func New(sessions core.SessionStore, cache core.ResponseCache, engine core.Engine, opts Options) *Orchestrator {
	if opts.HistoryBudget <= 0 {
		opts.HistoryBudget = prompt.DefaultHistoryBudget
	}
	return &Orchestrator{
		sessions: sessions,
		cache:    cache,
		engine:   engine,
		opts:     opts,
	}
}

// turn is the resolved state shared by both chat modes: the session, the
// prior history (excluding the just-appended user message), the assembled
// prompt, and the effective generation parameters.
type turn struct {
	session   *core.Session
	assembled string
	key       core.CacheKey
	useCache  bool
	maxTokens int
	temp      float64
}

// beginTurn runs the common opening steps of a chat turn: resolve or create
// the session, verify ownership, append the user message, and assemble the
// bounded prompt from prior history.
func (o *Orchestrator) beginTurn(ctx context.Context, userID string, req *core.ChatRequest) (*turn, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, core.NewInvalidRequestError("prompt must not be empty", nil)
	}

	var sess *core.Session
	var err error
	if req.SessionID == "" {
		sess, err = o.sessions.Create(ctx, userID)
		if err != nil {
			return nil, err
		}
	} else {
		sess, err = o.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if sess.UserID != userID {
			return nil, core.NewForbiddenError("permission denied")
		}
	}

	userMsg := core.Message{
		ID:        uuid.NewString(),
		Role:      core.RoleUser,
		Content:   req.Prompt,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.sessions.Append(ctx, sess.ID, userMsg); err != nil {
		return nil, err
	}

	// Prior history only: the new turn is passed separately to the
	// assembler, so the snapshot taken before the append is exactly right.
	history := prompt.TrimHistory(sess.Messages, o.opts.HistoryBudget)
	system := prompt.LoadSystemPrompt(o.opts.SystemPromptPath)

	t := &turn{
		session:   sess,
		assembled: prompt.Build(system, history, req.Prompt),
		maxTokens: o.opts.DefaultMaxTokens,
		temp:      o.opts.DefaultTemperature,
	}
	if req.MaxTokens != nil {
		t.maxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		t.temp = *req.Temperature
	}

	t.useCache = o.opts.CacheEnabled && o.cache != nil && (req.UseCache == nil || *req.UseCache)
	// The fingerprint is over the raw user prompt, not the assembled one;
	// the session ID already scopes the conversation.
	t.key = core.CacheKey{
		UserID:      userID,
		SessionID:   sess.ID,
		Prompt:      req.Prompt,
		MaxTokens:   t.maxTokens,
		Temperature: t.temp,
	}
	return t, nil
}

// Chat runs a single-shot turn: cache lookup, engine invocation on miss,
// sanitization, cache store, and history append.
func (o *Orchestrator) Chat(ctx context.Context, userID string, req *core.ChatRequest) (*core.ChatResponse, error) {
	t, err := o.beginTurn(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	text, cached := o.lookupCached(ctx, t)
	if !cached {
		text, err = o.generate(ctx, t)
		if err != nil {
			// Failed generation: no assistant message is recorded.
			return nil, err
		}
		if text == "" {
			// Output that sanitizes to nothing is a failed generation.
			// Stored messages are never empty.
			return nil, core.NewGenerationError("model produced no usable output", nil)
		}
		o.storeCached(ctx, t, text)
	}

	tokensUsed := len(strings.Fields(text))
	assistantMsg := core.Message{
		ID:         uuid.NewString(),
		Role:       core.RoleAssistant,
		Content:    text,
		TokensUsed: &tokensUsed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.sessions.Append(ctx, t.session.ID, assistantMsg); err != nil {
		return nil, err
	}

	return &core.ChatResponse{
		MessageID:  assistantMsg.ID,
		SessionID:  t.session.ID,
		Response:   text,
		TokensUsed: tokensUsed,
		Cached:     cached,
		Timestamp:  assistantMsg.CreatedAt,
	}, nil
}

// ChatStream runs a streaming turn. Session resolution and the user-message
// append happen before the stream opens, so their failures surface as plain
// errors; everything after the start event is reported in-stream.
func (o *Orchestrator) ChatStream(ctx context.Context, userID string, req *core.ChatRequest) (<-chan core.StreamEvent, error) {
	t, err := o.beginTurn(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	events := make(chan core.StreamEvent)
	go o.streamTurn(ctx, t, events)
	return events, nil
}

// streamTurn produces the event sequence for one turn: exactly one start,
// zero or more tokens, and one terminal done or error event. If the caller
// disconnects mid-stream the producer stops promptly and the partial turn
// is discarded: not cached, not persisted.
func (o *Orchestrator) streamTurn(ctx context.Context, t *turn, events chan<- core.StreamEvent) {
	defer close(events)

	messageID := uuid.NewString()
	if !emit(ctx, events, core.StartEvent(t.session.ID, messageID)) {
		return
	}

	var full string
	text, cached := o.lookupCached(ctx, t)
	if cached {
		if !o.replay(ctx, events, text) {
			return
		}
		full = text
	} else {
		accumulated, ok := o.streamGenerate(ctx, t, events)
		if !ok {
			return
		}
		// Sanitize before caching so cache hits and fresh generations
		// are indistinguishable to the client.
		full = sanitize.Clean(accumulated)
		if full == "" {
			// Nothing survived sanitization. Surface it as a failure
			// rather than recording an empty assistant message.
			emit(ctx, events, core.ErrorEvent("model produced no usable output"))
			return
		}
		o.storeCached(ctx, t, full)
	}

	tokensUsed := len(strings.Fields(full))
	assistantMsg := core.Message{
		ID:         messageID,
		Role:       core.RoleAssistant,
		Content:    full,
		TokensUsed: &tokensUsed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.sessions.Append(ctx, t.session.ID, assistantMsg); err != nil {
		slog.Error("failed to persist assistant message", "session_id", t.session.ID, "error", err)
		emit(ctx, events, core.ErrorEvent("failed to persist response"))
		return
	}

	emit(ctx, events, core.DoneEvent(tokensUsed, cached, assistantMsg.CreatedAt))
}

// replay re-emits cached text as token events split on word boundaries, so
// the client sees a uniform event shape regardless of cache status. The
// first token is unprefixed; subsequent tokens carry the separating space.
func (o *Orchestrator) replay(ctx context.Context, events chan<- core.StreamEvent, text string) bool {
	for i, word := range strings.Split(text, " ") {
		token := word
		if i > 0 {
			token = " " + word
		}
		if !emit(ctx, events, core.TokenEvent(token)) {
			return false
		}
		if o.opts.ReplayPause > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(o.opts.ReplayPause):
			}
		}
	}
	return true
}

// streamGenerate drains the engine's token stream, forwarding fragments as
// events and accumulating the full text. Any engine failure becomes a
// single terminal error event; ok=false means the turn is over either way.
func (o *Orchestrator) streamGenerate(ctx context.Context, t *turn, events chan<- core.StreamEvent) (string, bool) {
	if err := o.engine.Ready(ctx); err != nil {
		o.recordEngineError(err)
		emit(ctx, events, core.ErrorEvent(errorMessage(err)))
		return "", false
	}

	start := time.Now()
	stream, err := o.engine.GenerateStream(ctx, &core.GenerateRequest{
		Prompt:      t.assembled,
		MaxTokens:   t.maxTokens,
		Temperature: t.temp,
	})
	if err != nil {
		o.recordEngineError(err)
		emit(ctx, events, core.ErrorEvent(errorMessage(err)))
		return "", false
	}
	defer stream.Close()

	var b strings.Builder
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			o.recordEngineError(err)
			emit(ctx, events, core.ErrorEvent(errorMessage(err)))
			return "", false
		}
		if sanitize.IsReasoningMarker(fragment) {
			continue
		}
		b.WriteString(fragment)
		if !emit(ctx, events, core.TokenEvent(fragment)) {
			// Caller disconnected: closing the stream stops the
			// engine's producer; the partial output is discarded.
			return "", false
		}
	}

	observability.GenerationDuration.Observe(time.Since(start).Seconds())
	return b.String(), true
}

// generate runs a synchronous engine invocation with readiness checked
// first, and sanitizes the result.
func (o *Orchestrator) generate(ctx context.Context, t *turn) (string, error) {
	if err := o.engine.Ready(ctx); err != nil {
		o.recordEngineError(err)
		return "", err
	}

	start := time.Now()
	result, err := o.engine.Generate(ctx, &core.GenerateRequest{
		Prompt:      t.assembled,
		MaxTokens:   t.maxTokens,
		Temperature: t.temp,
	})
	if err != nil {
		o.recordEngineError(err)
		return "", err
	}
	observability.GenerationDuration.Observe(time.Since(start).Seconds())

	return sanitize.Clean(result.Text), nil
}

func (o *Orchestrator) lookupCached(ctx context.Context, t *turn) (string, bool) {
	if !t.useCache {
		return "", false
	}
	text, ok := o.cache.Get(ctx, t.key)
	if ok {
		observability.CacheHits.Inc()
	} else {
		observability.CacheMisses.Inc()
	}
	return text, ok
}

func (o *Orchestrator) storeCached(ctx context.Context, t *turn, text string) {
	if t.useCache && text != "" {
		o.cache.Set(ctx, t.key, text)
	}
}

func (o *Orchestrator) recordEngineError(err error) {
	var chatErr *core.ChatError
	if errors.As(err, &chatErr) {
		observability.EngineErrors.WithLabelValues(string(chatErr.Type)).Inc()
		return
	}
	observability.EngineErrors.WithLabelValues("unknown").Inc()
}

// History returns all sessions owned by the caller.
func (o *Orchestrator) History(ctx context.Context, userID string) ([]*core.Session, error) {
	return o.sessions.ListByUser(ctx, userID)
}

// SessionHistory returns one session after verifying ownership. A session
// owned by someone else is Forbidden, never exposed.
func (o *Orchestrator) SessionHistory(ctx context.Context, userID, sessionID string) (*core.Session, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, core.NewForbiddenError("permission denied")
	}
	return sess, nil
}

// DeleteSession removes a session the caller owns, purging its messages.
func (o *Orchestrator) DeleteSession(ctx context.Context, userID, sessionID string) error {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return core.NewForbiddenError("permission denied")
	}
	ok, err := o.sessions.Delete(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return core.NewNotFoundError("session not found")
	}
	return nil
}

// EngineInfo reports the engine's configuration and readiness.
func (o *Orchestrator) EngineInfo(ctx context.Context) (*core.EngineInfo, error) {
	return o.engine.Info(ctx)
}

// emit sends an event unless the caller has gone away.
func emit(ctx context.Context, events chan<- core.StreamEvent, ev core.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// errorMessage extracts the client-safe message from an error.
func errorMessage(err error) string {
	var chatErr *core.ChatError
	if errors.As(err, &chatErr) {
		return chatErr.Message
	}
	return err.Error()
}
