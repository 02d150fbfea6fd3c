// Package llmclient provides the base HTTP client for talking to the text
// generation engine, with request marshaling, retries with exponential
// backoff, and standardized error mapping. Streaming requests never retry,
// since partial data may already have been sent.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"pocketllm/internal/core"
	"pocketllm/internal/httpclient"
)

// Config holds configuration for the engine client
type Config struct {
	// BaseURL is the engine API base URL
	BaseURL string

	// Retry configuration
	MaxRetries     int           // Maximum number of retry attempts (default: 2)
	InitialBackoff time.Duration // Initial backoff duration (default: 500ms)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 10s)
	BackoffFactor  float64       // Backoff multiplier (default: 2.0)
}

// DefaultConfig returns default client configuration
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Client is the HTTP client for the generation engine
type Client struct {
	httpClient *http.Client
	config     Config
}

// New creates a new engine client with the given configuration.
// If httpClient is nil, a client tuned for long generation requests is used.
func New(config Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httpclient.New(httpclient.GenerationConfig())
	}
	return &Client{httpClient: httpClient, config: config}
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	Body     interface{} // JSON marshaled if not nil
}

// Do executes a request with retries, then unmarshals the response into
// result.
func (c *Client) Do(ctx context.Context, req Request, result interface{}) error {
	body, err := c.doRaw(ctx, req)
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return core.NewGenerationError("failed to unmarshal engine response: "+err.Error(), err)
		}
	}
	return nil
}

// doRaw executes a request with retries, returning the raw response body.
func (c *Client) doRaw(ctx context.Context, req Request) ([]byte, error) {
	var lastErr error
	maxAttempts := c.config.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		httpReq, err := c.buildRequest(ctx, req)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			// Network error: the engine is unreachable. Retryable.
			lastErr = core.NewEngineUnavailableError("engine unreachable: "+err.Error(), err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = core.NewGenerationError("failed to read engine response: "+readErr.Error(), readErr)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		lastErr = statusError(resp.StatusCode, body)
		if !retryable(resp.StatusCode) {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

// DoStream executes a streaming request, returning the raw response body.
// The caller must close it. Streaming requests do NOT retry.
func (c *Client) DoStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewEngineUnavailableError("engine unreachable: "+err.Error(), err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			body = []byte("failed to read error response")
		}
		_ = resp.Body.Close()
		return nil, statusError(resp.StatusCode, body)
	}

	return resp.Body, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.config.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewInvalidRequestError("failed to marshal engine request", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create engine request", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if requestID := core.GetRequestID(ctx); requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}
	return httpReq, nil
}

// backoff calculates the wait before the given retry attempt.
func (c *Client) backoff(attempt int) time.Duration {
	initial := c.config.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	factor := c.config.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if c.config.MaxBackoff > 0 && d > c.config.MaxBackoff {
		d = c.config.MaxBackoff
	}
	return d
}

func retryable(statusCode int) bool {
	switch statusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// statusError maps an engine HTTP status to the error taxonomy: 503 means
// no model is loaded, other failures are generation errors.
func statusError(statusCode int, body []byte) *core.ChatError {
	message := string(body)
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	if statusCode == http.StatusServiceUnavailable {
		return core.NewEngineUnavailableError(message, nil)
	}
	if statusCode >= 400 && statusCode < 500 {
		return core.NewInvalidRequestError(message, nil)
	}
	return core.NewGenerationError(message, nil)
}
