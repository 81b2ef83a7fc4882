package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicClientComplete(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("request path = %q", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test" {
			t.Errorf("x-api-key header = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("anthropic-version header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "{\"sql\": \"SELECT COUNT(*) FROM users\", "},
				{"type": "text", "text": "\"explanation\": \"counts users\", \"tables_used\": [\"users\"]}"},
			},
			"usage": map[string]any{"input_tokens": 200, "output_tokens": 50},
		})
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{BaseURL: server.URL, APIKey: "sk-ant-test", Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("NewAnthropicClient() error = %v", err)
	}

	res, err := client.Complete(context.Background(), Request{
		System:      "system prompt",
		User:        "how many users",
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if res.SQL != "SELECT COUNT(*) FROM users" {
		t.Errorf("Complete() SQL = %q", res.SQL)
	}
	if res.Provider != "anthropic" || res.Model != "claude-sonnet-4-5" {
		t.Errorf("Complete() provider/model = %q/%q", res.Provider, res.Model)
	}
	if res.Tokens != 250 {
		t.Errorf("Complete() tokens = %d, want 250", res.Tokens)
	}

	if captured["system"] != "system prompt" {
		t.Errorf("request system = %v", captured["system"])
	}
	if captured["max_tokens"] != float64(defaultAnthropicMaxTokens) {
		t.Errorf("request max_tokens = %v, want default %d", captured["max_tokens"], defaultAnthropicMaxTokens)
	}
	messages, ok := captured["messages"].([]any)
	if !ok || len(messages) != 1 {
		t.Fatalf("request messages = %v", captured["messages"])
	}
}

func TestAnthropicClientCompleteSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{BaseURL: server.URL, APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("NewAnthropicClient() error = %v", err)
	}

	_, err = client.Complete(context.Background(), Request{User: "q"})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Complete() error = %v, want *GenerationError", err)
	}
	if genErr.Provider != "anthropic" {
		t.Errorf("GenerationError provider = %q", genErr.Provider)
	}
}

func TestAnthropicClientCompleteErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid model"},
		})
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{BaseURL: server.URL, APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("NewAnthropicClient() error = %v", err)
	}

	_, err = client.Complete(context.Background(), Request{User: "q"})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Complete() error = %v, want *GenerationError", err)
	}
	if genErr.Message != "invalid model" {
		t.Errorf("GenerationError message = %q", genErr.Message)
	}
}

func TestNewAnthropicClientDefaults(t *testing.T) {
	client, err := NewAnthropicClient(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("NewAnthropicClient() error = %v", err)
	}
	if client.baseURL != defaultAnthropicBaseURL {
		t.Errorf("baseURL = %q", client.baseURL)
	}
	if client.model != defaultAnthropicModel {
		t.Errorf("model = %q", client.model)
	}
}
