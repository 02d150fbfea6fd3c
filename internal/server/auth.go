package server

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"pocketllm/internal/core"
)

// AuthMiddleware validates the master key on every request except the given
// skip paths. An empty masterKey disables authentication entirely.
func AuthMiddleware(masterKey string, skipPaths []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" || slices.Contains(skipPaths, c.Request().URL.Path) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return authFailure(c, "missing authorization header")
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return authFailure(c, "invalid authorization header format, expected 'Bearer <token>'")
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(masterKey)) != 1 {
				return authFailure(c, "invalid master key")
			}

			return next(c)
		}
	}
}

func authFailure(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    string(core.ErrorTypeAuthentication),
			"message": message,
		},
	})
}

// anonymousUser is the identity assigned when the upstream auth collaborator
// supplies none.
const anonymousUser = "anonymous"

// IdentityMiddleware attaches the caller identity and a request ID to the
// request context. Identity arrives in the X-User-ID header from the trusted
// auth layer in front of this service; it is not verified here.
func IdentityMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			userID := req.Header.Get("X-User-ID")
			if userID == "" {
				userID = anonymousUser
			}

			requestID := req.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set("X-Request-ID", requestID)

			ctx := core.WithUserID(req.Context(), userID)
			ctx = core.WithRequestID(ctx, requestID)
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
