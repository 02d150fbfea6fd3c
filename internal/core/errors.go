// Package core provides the shared types, errors, and interfaces for the
// chat backend.
package core

import (
	"fmt"
	"net/http"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeNotFound indicates a missing session (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeForbidden indicates the caller does not own the session (403)
	ErrorTypeForbidden ErrorType = "forbidden_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeEngineUnavailable indicates no model is loaded (503)
	ErrorTypeEngineUnavailable ErrorType = "engine_unavailable_error"
	// ErrorTypeGeneration indicates the engine failed mid-generation (502)
	ErrorTypeGeneration ErrorType = "generation_error"
)

// ChatError is the base error type for all chat backend errors
type ChatError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *ChatError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *ChatError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *ChatError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeEngineUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *ChatError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *ChatError {
	return &ChatError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewForbiddenError creates a new forbidden error (403)
func NewForbiddenError(message string) *ChatError {
	return &ChatError{
		Type:       ErrorTypeForbidden,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *ChatError {
	return &ChatError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *ChatError {
	return &ChatError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewEngineUnavailableError creates an error for an engine with no loaded
// model (503). This is fatal for the current request only and is never
// retried automatically.
func NewEngineUnavailableError(message string, err error) *ChatError {
	return &ChatError{
		Type:       ErrorTypeEngineUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewGenerationError creates an error for an engine failure mid-generation
// (502). The current turn is aborted and partial output discarded.
func NewGenerationError(message string, err error) *ChatError {
	return &ChatError{
		Type:       ErrorTypeGeneration,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}
