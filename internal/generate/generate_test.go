package generate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentoven/agentdock/internal/config"
	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/internal/generate"
	"github.com/agentoven/agentdock/pkg/contracts"
)

func openAIServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []generate.ChatMessage `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v, want system+user", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate_OpenAI(t *testing.T) {
	srv := openAIServer(t, "  the answer  ")
	r := generate.NewRouter([]generate.Provider{{Name: "openai", Kind: "openai", Endpoint: srv.URL, APIKey: "k", Model: "gpt"}}, nil)

	got, err := r.Generate(context.Background(), contracts.GenerateRequest{Persona: "pirate", Context: []string{"fact"}, Message: "q?"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "the answer" {
		t.Errorf("Generate() = %q", got)
	}
	if r.Latency("openai") < 0 {
		t.Error("latency not tracked")
	}
}

func TestGenerate_FailsOver(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	anthropic := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "ak" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic headers: %v", r.Header)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req["system"].(string), "Context") {
			t.Errorf("system = %v", req["system"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "from claude"}},
		})
	}))
	defer anthropic.Close()

	r := generate.NewRouter([]generate.Provider{
		{Name: "openai", Kind: "openai", Endpoint: down.URL, APIKey: "k"},
		{Name: "anthropic", Kind: "anthropic", Endpoint: anthropic.URL, APIKey: "ak"},
	}, nil)

	got, err := r.Generate(context.Background(), contracts.GenerateRequest{Context: []string{"c"}, Message: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "from claude" {
		t.Errorf("Generate() = %q", got)
	}
}

func TestGenerate_AllFail(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer down.Close()

	r := generate.NewRouter([]generate.Provider{{Name: "ollama", Kind: "ollama", Endpoint: down.URL}}, nil)
	_, err := r.Summarize(context.Background(), "summarize")
	if !errs.IsUpstream(err) {
		t.Errorf("Summarize() error = %v, want UpstreamProviderError", err)
	}
}

func TestGenerate_NoProviders(t *testing.T) {
	r := generate.NewRouter(nil, nil)
	if _, err := r.Generate(context.Background(), contracts.GenerateRequest{Message: "x"}); err == nil {
		t.Error("expected error with no providers")
	}
}

func TestProvidersFromConfig(t *testing.T) {
	cfg := config.AIConfig{
		Providers:    []string{"anthropic", "openai", "ollama", "bogus"},
		AnthropicKey: "ak",
		OllamaURL:    "http://ollama:11434",
	}
	got := generate.ProvidersFromConfig(cfg)
	if len(got) != 2 {
		t.Fatalf("ProvidersFromConfig() = %+v, want anthropic+ollama", got)
	}
	if got[0].Kind != "anthropic" || got[1].Kind != "ollama" {
		t.Errorf("order = %s,%s", got[0].Kind, got[1].Kind)
	}
}
