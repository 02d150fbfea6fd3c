// Package engine provides the client for the external text-generation
// engine, a llama.cpp-style completion server. The engine's model loading,
// tokenization, and decoding are its own concern; this package only submits
// assembled prompts and consumes text or token streams.
package engine

import (
	"context"
	"net/http"
	"strings"
	"time"

	"pocketllm/internal/core"
	"pocketllm/internal/llmclient"
)

// StopSequences are sent with every generation request so the engine stops
// rather than hallucinating the next turn's role prefix.
var StopSequences = []string{"User:", "Assistant:"}

// Config holds engine connection settings and model parameter defaults.
// Values are read once at startup and immutable for the process lifetime.
type Config struct {
	// BaseURL is the completion server address (e.g. http://localhost:8081)
	BaseURL string

	// Model is the display name of the loaded model
	Model string

	// Generation parameter defaults, applied when a request omits them
	MaxTokens   int
	Temperature float64
	TopP        float64
	ContextSize int
	BatchSize   int
}

// Client implements core.Engine over HTTP.
type Client struct {
	client *llmclient.Client
	cfg    Config
}

// New creates an engine client. If httpClient is nil a default tuned for
// long generation requests is used.
func New(cfg Config, httpClient *http.Client) *Client {
	return &Client{
		client: llmclient.New(llmclient.DefaultConfig(strings.TrimRight(cfg.BaseURL, "/")), httpClient),
		cfg:    cfg,
	}
}

// completionRequest is the llama.cpp server completion payload.
type completionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

// completionResponse is the non-streaming completion result.
type completionResponse struct {
	Content         string `json:"content"`
	TokensPredicted int    `json:"tokens_predicted"`
}

// healthResponse is the engine health probe result.
type healthResponse struct {
	Status string `json:"status"`
}

// Ready reports whether a model is loaded. A refused connection or a
// non-ok health status yields an ErrorTypeEngineUnavailable error.
func (c *Client) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var health healthResponse
	err := c.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/health",
	}, &health)
	if err != nil {
		return err
	}
	if health.Status != "ok" {
		return core.NewEngineUnavailableError("model not loaded: "+health.Status, nil)
	}
	return nil
}

// Info returns the engine's configured parameters and current readiness.
func (c *Client) Info(ctx context.Context) (*core.EngineInfo, error) {
	info := &core.EngineInfo{
		Model:       c.cfg.Model,
		Ready:       c.Ready(ctx) == nil,
		ContextSize: c.cfg.ContextSize,
		BatchSize:   c.cfg.BatchSize,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
	}
	return info, nil
}

// Generate runs a synchronous completion.
func (c *Client) Generate(ctx context.Context, req *core.GenerateRequest) (*core.GenerateResult, error) {
	var resp completionResponse
	err := c.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/completion",
		Body:     c.payload(req, false),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &core.GenerateResult{Text: strings.TrimSpace(resp.Content)}, nil
}

// GenerateStream starts a completion and returns a pull-driven token
// stream. The caller must Close it; cancelling ctx stops the producer.
func (c *Client) GenerateStream(ctx context.Context, req *core.GenerateRequest) (core.TokenStream, error) {
	body, err := c.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/completion",
		Body:     c.payload(req, true),
	})
	if err != nil {
		return nil, err
	}
	return newSSEStream(body), nil
}

func (c *Client) payload(req *core.GenerateRequest, stream bool) completionRequest {
	p := completionRequest{
		Prompt:      req.Prompt,
		NPredict:    req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      stream,
	}
	if p.NPredict <= 0 {
		p.NPredict = c.cfg.MaxTokens
	}
	if p.TopP == 0 {
		p.TopP = c.cfg.TopP
	}
	if len(p.Stop) == 0 {
		p.Stop = StopSequences
	}
	return p
}
