package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicProvider_Generate_ConcatenatesTextBlocks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected x-api-key header to be set")
		}
		resp := anthropicResponse{Content: []anthropicContentBlock{
			{Type: "text", Text: "hello "},
			{Type: "text", Text: "world"},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAnthropicProvider(AnthropicConfig{Endpoint: srv.URL, APIKey: "test-key", Model: "claude-test"})
	out, err := p.Generate(context.Background(), "hi", 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "hello world" {
		t.Errorf("Generate() = %q, want %q", out, "hello world")
	}
}

func TestAnthropicProvider_Generate_ErrorBody_ReturnsDescriptiveError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		resp := anthropicResponse{Error: &anthropicErrorBody{Type: "rate_limit_error", Message: "slow down"}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAnthropicProvider(AnthropicConfig{Endpoint: srv.URL, APIKey: "k", Model: "claude-test"})
	_, err := p.Generate(context.Background(), "hi", 0, 0)
	if err == nil {
		t.Fatal("expected error for rate-limited response")
	}
}

func TestAnthropicProvider_ModelName(t *testing.T) {
	p := NewAnthropicProvider(AnthropicConfig{Model: "claude-3"})
	if p.ModelName() != "claude-3" {
		t.Errorf("ModelName() = %q, want %q", p.ModelName(), "claude-3")
	}
}
