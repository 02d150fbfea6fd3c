// Package server provides the HTTP surface of the chat backend: the chat
// endpoints, history management, engine info, and health.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"pocketllm/internal/core"
)

// Handler holds the HTTP handlers. All chat semantics live behind the
// ChatService; handlers only translate between HTTP and the service.
type Handler struct {
	service core.ChatService
}

// NewHandler creates a new handler backed by the given service.
func NewHandler(service core.ChatService) *Handler {
	return &Handler{service: service}
}

// Chat handles POST /v1/chat.
func (h *Handler) Chat(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	ctx := c.Request().Context()
	resp, err := h.service.Chat(ctx, core.GetUserID(ctx), &req)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// ChatStream handles POST /v1/chat/stream. Events are delivered as SSE, one
// JSON object per "data:" line. Errors before the stream opens map to HTTP
// status codes; once headers are sent, failures arrive as in-stream error
// events.
func (h *Handler) ChatStream(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	ctx := c.Request().Context()
	events, err := h.service.ChatStream(ctx, core.GetUserID(ctx), &req)
	if err != nil {
		return handleError(c, err)
	}

	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			slog.Error("failed to marshal stream event", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(res.Writer, "data: %s\n\n", payload); err != nil {
			// Client gone; the producer notices via context cancellation.
			return nil
		}
		res.Flush()
	}
	return nil
}

// History handles GET /v1/chat/history.
func (h *Handler) History(c echo.Context) error {
	ctx := c.Request().Context()
	sessions, err := h.service.History(ctx, core.GetUserID(ctx))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// SessionHistory handles GET /v1/chat/history/:id.
func (h *Handler) SessionHistory(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := h.service.SessionHistory(ctx, core.GetUserID(ctx), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, sess)
}

// DeleteSession handles DELETE /v1/chat/history/:id.
func (h *Handler) DeleteSession(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("id")
	if err := h.service.DeleteSession(ctx, core.GetUserID(ctx), sessionID); err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"deleted":    true,
		"session_id": sessionID,
	})
}

// EngineInfo handles GET /v1/engine.
func (h *Handler) EngineInfo(c echo.Context) error {
	info, err := h.service.EngineInfo(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, info)
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleError converts chat errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var chatErr *core.ChatError
	if errors.As(err, &chatErr) {
		return c.JSON(chatErr.HTTPStatusCode(), chatErr.ToJSON())
	}

	// Fallback for unexpected errors
	slog.Error("unexpected handler error", "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
