package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pocketllm/internal/core"
)

// End-to-end routing tests: real echo server via httptest, stub service.

func TestServerRoutes(t *testing.T) {
	stub := &stubService{
		response: &core.ChatResponse{SessionID: "s1", MessageID: "m1", Response: "hi", Timestamp: time.Now().UTC()},
		sessions: []*core.Session{{ID: "s1", UserID: "alice"}},
		session:  &core.Session{ID: "s1", UserID: "alice"},
		info:     &core.EngineInfo{Model: "m", Ready: true},
	}
	srv := New(stub, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodPost, "/v1/chat", `{"prompt": "Hi"}`, http.StatusOK},
		{http.MethodGet, "/v1/chat/history", "", http.StatusOK},
		{http.MethodGet, "/v1/chat/history/s1", "", http.StatusOK},
		{http.MethodDelete, "/v1/chat/history/s1", "", http.StatusOK},
		{http.MethodGet, "/v1/engine", "", http.StatusOK},
		{http.MethodGet, "/no-such-route", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("NewRequest failed: %v", err)
			}
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServerAuthProtectsAPI(t *testing.T) {
	stub := &stubService{info: &core.EngineInfo{Model: "m"}}
	srv := New(stub, &Config{MasterKey: "secret"})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	// Health stays public.
	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// API requires the key.
	resp, err = ts.Client().Get(ts.URL + "/v1/engine")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/engine", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	srv := New(&stubService{}, &Config{MetricsEnabled: true})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestServerIdentityFlowsToService(t *testing.T) {
	stub := &stubService{sessions: nil}
	srv := New(stub, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/chat/history", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("X-User-ID", "bob")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if stub.lastUserID != "bob" {
		t.Errorf("service saw user %q, want bob", stub.lastUserID)
	}
}

func TestServerBodyLimit(t *testing.T) {
	srv := New(&stubService{}, &Config{BodySizeLimit: 16})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	big := `{"prompt": "` + strings.Repeat("x", 64) + `"}`
	resp, err := ts.Client().Post(ts.URL+"/v1/chat", "application/json", strings.NewReader(big))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusRequestEntityTooLarge)
	}
}
