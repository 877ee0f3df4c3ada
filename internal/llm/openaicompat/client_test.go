package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/config"
	xerrors "github.com/NVibeAI/cfo-fpa-crew-ai/internal/errors"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/llm"
)

func testConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		Provider:    config.ProviderOpenAI,
		BaseURL:     baseURL,
		APIKey:      "sk-test",
		Model:       "meta-llama/llama-3.1-70b-instruct",
		Temperature: 0.2,
		MaxTokens:   2000,
	}
}

func completionBody(text string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + mustQuote(text) + `}}]}`
}

func mustQuote(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

func TestCompleteSuccess(t *testing.T) {
	var captured struct {
		Model       string `json:"model"`
		Temperature float64
		MaxTokens   int `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization header = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionBody("Revenue grew 12% QoQ.")))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	result, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are an analyst."},
			{Role: llm.RoleUser, Content: "Summarize Q2."},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.Text != "Revenue grew 12% QoQ." {
		t.Fatalf("text = %q", result.Text)
	}
	if captured.Model != "meta-llama/llama-3.1-70b-instruct" {
		t.Fatalf("model = %s", captured.Model)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Fatalf("messages malformed: %+v", captured.Messages)
	}
}

func TestCompleteRequestOverrides(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(completionBody("ok")))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	zero := 0.0
	_, err = client.Complete(context.Background(), llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Model:       "deterministic-model",
		Temperature: &zero,
		MaxTokens:   512,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if captured["model"] != "deterministic-model" {
		t.Fatalf("model = %v", captured["model"])
	}
	if captured["temperature"].(float64) != 0 {
		t.Fatalf("temperature = %v, want explicit 0", captured["temperature"])
	}
	if captured["max_tokens"].(float64) != 512 {
		t.Fatalf("max_tokens = %v", captured["max_tokens"])
	}
}

func TestCompleteAuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client, _ := NewClient(testConfig(server.URL))
	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if xerrors.CodeOf(err) != xerrors.CodeAuth {
		t.Fatalf("code = %s, want AUTH_REJECTED", xerrors.CodeOf(err))
	}
}

func TestCompleteProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := NewClient(testConfig(server.URL))
	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if xerrors.CodeOf(err) != xerrors.CodeProvider {
		t.Fatalf("code = %s, want PROVIDER_FAILURE", xerrors.CodeOf(err))
	}
	if xerrors.RetryableError(err) {
		t.Fatal("provider failures are not retryable")
	}
}

func TestCompleteTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client, _ := NewClient(testConfig(server.URL))
	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if xerrors.CodeOf(err) != xerrors.CodeTransport {
		t.Fatalf("code = %s, want TRANSPORT_FAILURE", xerrors.CodeOf(err))
	}
	if !xerrors.RetryableError(err) {
		t.Fatal("transport failures should be retryable")
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client, _ := NewClient(testConfig(server.URL))
	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if xerrors.CodeOf(err) != xerrors.CodeEmptyResponse {
		t.Fatalf("code = %s, want EMPTY_RESPONSE", xerrors.CodeOf(err))
	}
}

func TestCompleteEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionBody("   ")))
	}))
	defer server.Close()

	client, _ := NewClient(testConfig(server.URL))
	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if xerrors.CodeOf(err) != xerrors.CodeEmptyResponse {
		t.Fatalf("code = %s, want EMPTY_RESPONSE", xerrors.CodeOf(err))
	}
}

func TestCompleteNoMessages(t *testing.T) {
	client, _ := NewClient(testConfig("http://localhost:1"))
	_, err := client.Complete(context.Background(), llm.Request{})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("code = %s, want INVALID_ARGUMENT", xerrors.CodeOf(err))
	}
}
