package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"pocketllm/internal/core"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		Model:       "test-model",
		MaxTokens:   128,
		Temperature: 0.2,
		TopP:        0.9,
		ContextSize: 768,
		BatchSize:   64,
	}
}

func TestReady(t *testing.T) {
	t.Run("ModelLoaded", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		}))
		defer srv.Close()

		eng := New(testConfig(srv.URL), srv.Client())
		if err := eng.Ready(context.Background()); err != nil {
			t.Errorf("Ready() = %v, want nil", err)
		}
	})

	t.Run("ModelLoading", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "Loading model"},
			})
		}))
		defer srv.Close()

		eng := New(testConfig(srv.URL), srv.Client())
		err := eng.Ready(context.Background())
		assertErrorType(t, err, core.ErrorTypeEngineUnavailable)
	})

	t.Run("EngineDown", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // refuse connections

		eng := New(testConfig(srv.URL), nil)
		err := eng.Ready(context.Background())
		assertErrorType(t, err, core.ErrorTypeEngineUnavailable)
	})
}

func TestGenerate(t *testing.T) {
	var gotReq completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(completionResponse{
			Content:         "  Hello from the model.  ",
			TokensPredicted: 5,
		})
	}))
	defer srv.Close()

	eng := New(testConfig(srv.URL), srv.Client())
	result, err := eng.Generate(context.Background(), &core.GenerateRequest{
		Prompt:      "User: Hi\nAssistant:",
		MaxTokens:   64,
		Temperature: 0.5,
		TopP:        0.9,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Text != "Hello from the model." {
		t.Errorf("Text = %q, expected trimmed content", result.Text)
	}

	if gotReq.Stream {
		t.Error("single-shot request must not set stream")
	}
	if gotReq.NPredict != 64 {
		t.Errorf("n_predict = %d, want 64", gotReq.NPredict)
	}
	// Role-prefix stop sequences keep the engine from hallucinating the
	// next turn.
	if len(gotReq.Stop) != 2 || gotReq.Stop[0] != "User:" || gotReq.Stop[1] != "Assistant:" {
		t.Errorf("stop sequences = %v", gotReq.Stop)
	}
}

func TestGenerateDefaultsApplied(t *testing.T) {
	var gotReq completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(completionResponse{Content: "ok"})
	}))
	defer srv.Close()

	eng := New(testConfig(srv.URL), srv.Client())
	_, err := eng.Generate(context.Background(), &core.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if gotReq.NPredict != 128 {
		t.Errorf("n_predict = %d, want config default 128", gotReq.NPredict)
	}
	if gotReq.TopP != 0.9 {
		t.Errorf("top_p = %g, want config default 0.9", gotReq.TopP)
	}
}

func TestGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fragments := []streamChunk{
			{Content: "Hello"},
			{Content: " world"},
			{Content: "", Stop: false}, // empty keep-alive chunk is skipped
			{Content: "!", Stop: true},
		}
		for _, chunk := range fragments {
			payload, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
	}))
	defer srv.Close()

	eng := New(testConfig(srv.URL), srv.Client())
	stream, err := eng.GenerateStream(context.Background(), &core.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}
	defer stream.Close()

	var got []string
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		got = append(got, fragment)
	}

	want := []string{"Hello", " world", "!"}
	if len(got) != len(want) {
		t.Fatalf("got %d fragments %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fragment %d = %q, want %q", i, got[i], want[i])
		}
	}

	// The stream is finite and not restartable.
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("Recv after end = %v, want io.EOF", err)
	}
}

func TestGenerateStreamMalformedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json}\n\n")
	}))
	defer srv.Close()

	eng := New(testConfig(srv.URL), srv.Client())
	stream, err := eng.GenerateStream(context.Background(), &core.GenerateRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("GenerateStream failed: %v", err)
	}
	defer stream.Close()

	_, err = stream.Recv()
	assertErrorType(t, err, core.ErrorTypeGeneration)
}

func TestInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	eng := New(testConfig(srv.URL), srv.Client())
	info, err := eng.Info(context.Background())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if !info.Ready {
		t.Error("expected ready engine")
	}
	if info.Model != "test-model" || info.ContextSize != 768 || info.MaxTokens != 128 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func assertErrorType(t *testing.T, err error, want core.ErrorType) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var chatErr *core.ChatError
	if !errors.As(err, &chatErr) {
		t.Fatalf("expected *core.ChatError, got %T: %v", err, err)
	}
	if chatErr.Type != want {
		t.Errorf("error type = %q, want %q", chatErr.Type, want)
	}
}
