package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProviderComplete(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Fatalf("expected auth header")
		}
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-test" {
			t.Fatalf("unexpected model %q", req.Model)
		}
		if req.MaxTokens != 256 {
			t.Fatalf("unexpected max_tokens %d", req.MaxTokens)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"gpt-test","choices":[{"message":{"role":"assistant","content":"Hello world"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(Config{
		APIURL:    server.URL,
		APIKey:    "test-key",
		Model:     "gpt-test",
		MaxTokens: 256,
	})

	completion, err := provider.Complete(context.Background(), []Message{
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if completion.Content != "Hello world" {
		t.Fatalf("unexpected content %q", completion.Content)
	}
	if completion.PromptTokens != 12 || completion.CompletionTokens != 3 {
		t.Fatalf("unexpected usage %d/%d", completion.PromptTokens, completion.CompletionTokens)
	}
}

func TestOpenAIProviderErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(Config{APIURL: server.URL, Model: "gpt-test"})

	if _, err := provider.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

func TestNewProviderUnknown(t *testing.T) {
	t.Parallel()

	if _, err := NewProvider(Config{Provider: "bedrock"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
