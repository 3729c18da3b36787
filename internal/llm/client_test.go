package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerateSuccess(t *testing.T) {
	var gotRequest chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"choices": [{"message": {"content": "Olá! Qual sua região?"}}],
			"usage": {"prompt_tokens": 1000, "completion_tokens": 500, "total_tokens": 1500}
		}`)
	}))
	defer server.Close()

	client := New(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: 2 * time.Second,
	}, discardLogger(), nil)

	history := []Turn{
		{Role: "user", Content: "oi"},
		{Role: "assistant", Content: "olá"},
	}
	reply, err := client.Generate(context.Background(), "seja breve", history, "quero uma franquia")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if reply.Text != "Olá! Qual sua região?" {
		t.Fatalf("unexpected reply text %q", reply.Text)
	}
	if reply.TokensInput != 1000 || reply.TokensOutput != 500 || reply.TokensTotal != 1500 {
		t.Fatalf("unexpected usage: %+v", reply)
	}
	// 1000 input at $0.00015/1K plus 500 output at $0.0006/1K.
	wantCost := 0.00015 + 0.0003
	if math.Abs(reply.CostUSD-wantCost) > 1e-9 {
		t.Fatalf("expected cost %.6f, got %.6f", wantCost, reply.CostUSD)
	}

	if len(gotRequest.Messages) != 4 {
		t.Fatalf("expected 4 messages (system + 2 history + user), got %d", len(gotRequest.Messages))
	}
	if gotRequest.Messages[0].Role != "system" || gotRequest.Messages[0].Content != "seja breve" {
		t.Fatalf("expected system message first, got %+v", gotRequest.Messages[0])
	}
	if last := gotRequest.Messages[3]; last.Role != "user" || last.Content != "quero uma franquia" {
		t.Fatalf("expected user message last, got %+v", last)
	}
}

func TestGenerateTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := New(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 20 * time.Millisecond,
	}, discardLogger(), nil)

	_, err := client.Generate(context.Background(), "prompt", nil, "oi")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestGenerateUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error": {"message": "overloaded", "type": "server_error"}}`)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k", Timeout: time.Second}, discardLogger(), nil)

	_, err := client.Generate(context.Background(), "prompt", nil, "oi")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestGenerateEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices": [], "usage": {}}`)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "k", Timeout: time.Second}, discardLogger(), nil)

	_, err := client.Generate(context.Background(), "prompt", nil, "oi")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}
