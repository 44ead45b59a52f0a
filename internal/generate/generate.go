// Package generate implements reply generation over chat-completion providers.
//
// The router tries each configured provider in order (openai, anthropic,
// ollama) and fails over transparently when a call errors. The first
// successful answer wins.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/agentdock/internal/config"
	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// Provider is one chat-completion backend.
type Provider struct {
	Name      string
	Kind      string // openai, anthropic, ollama
	Endpoint  string
	APIKey    string
	Model     string
	MaxTokens int
}

// ChatMessage is a single turn sent to a provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Router routes generation requests to configured providers.
type Router struct {
	providers []Provider
	client    *http.Client

	// Latency tracking: provider name → rolling avg ms
	latencyMu sync.RWMutex
	latencies map[string]int64
}

var _ contracts.Generator = (*Router)(nil)

// NewRouter creates a router over providers, tried in the given order.
func NewRouter(providers []Provider, client *http.Client) *Router {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &Router{
		providers: providers,
		client:    client,
		latencies: make(map[string]int64),
	}
}

// ProvidersFromConfig builds the provider list in AGENTDOCK_AI_PROVIDERS order.
// Providers lacking credentials are skipped.
func ProvidersFromConfig(cfg config.AIConfig) []Provider {
	var out []Provider
	for _, name := range cfg.Providers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "openai":
			if cfg.OpenAIKey == "" {
				log.Warn().Str("provider", "openai").Msg("Skipping generation provider without API key")
				continue
			}
			out = append(out, Provider{Name: "openai", Kind: "openai", Endpoint: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIKey, Model: cfg.ChatModel})
		case "anthropic":
			if cfg.AnthropicKey == "" {
				log.Warn().Str("provider", "anthropic").Msg("Skipping generation provider without API key")
				continue
			}
			out = append(out, Provider{Name: "anthropic", Kind: "anthropic", Endpoint: cfg.AnthropicBaseURL, APIKey: cfg.AnthropicKey, Model: cfg.AnthropicModel, MaxTokens: 1024})
		case "ollama":
			out = append(out, Provider{Name: "ollama", Kind: "ollama", Endpoint: cfg.OllamaURL, Model: cfg.OllamaModel})
		default:
			log.Warn().Str("provider", name).Msg("Unknown generation provider ignored")
		}
	}
	return out
}

// Generate answers req.Message using the persona and retrieved context.
func (r *Router) Generate(ctx context.Context, req contracts.GenerateRequest) (string, error) {
	return r.route(ctx, systemPrompt(req.Persona, req.Context), req.Message)
}

// Summarize runs a single free-form prompt with no persona.
func (r *Router) Summarize(ctx context.Context, prompt string) (string, error) {
	return r.route(ctx, "", prompt)
}

// Latency returns the rolling average latency of a provider in ms.
func (r *Router) Latency(provider string) int64 {
	r.latencyMu.RLock()
	defer r.latencyMu.RUnlock()
	return r.latencies[provider]
}

func (r *Router) route(ctx context.Context, system, user string) (string, error) {
	if len(r.providers) == 0 {
		return "", fmt.Errorf("no generation providers configured")
	}

	var lastErr error
	for i := range r.providers {
		p := &r.providers[i]
		start := time.Now()
		text, err := r.callProvider(ctx, p, system, user)
		if err != nil {
			log.Warn().
				Str("provider", p.Name).
				Str("model", p.Model).
				Err(err).
				Msg("Provider call failed, trying next")
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		r.trackLatency(p.Name, time.Since(start).Milliseconds())
		return strings.TrimSpace(text), nil
	}
	return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
}

func (r *Router) trackLatency(name string, ms int64) {
	r.latencyMu.Lock()
	defer r.latencyMu.Unlock()
	prev := r.latencies[name]
	if prev == 0 {
		r.latencies[name] = ms
		return
	}
	// Exponential moving average
	r.latencies[name] = (prev*7 + ms*3) / 10
}

func (r *Router) callProvider(ctx context.Context, p *Provider, system, user string) (string, error) {
	switch p.Kind {
	case "anthropic":
		return r.callAnthropic(ctx, p, system, user)
	case "ollama":
		return r.callOllama(ctx, p, system, user)
	default:
		// Generic OpenAI-compatible endpoint
		return r.callOpenAI(ctx, p, system, user)
	}
}

func systemPrompt(persona string, chunks []string) string {
	var b strings.Builder
	if persona != "" {
		b.WriteString(persona)
	} else {
		b.WriteString("You are a helpful assistant.")
	}
	b.WriteString("\nAnswer using only the context below. If the answer is not in the context, say you don't know.")
	if len(chunks) > 0 {
		b.WriteString("\n\nContext:\n")
		for i, c := range chunks {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
		}
	}
	return b.String()
}

func chatMessages(system, user string) []ChatMessage {
	msgs := make([]ChatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, ChatMessage{Role: "system", Content: system})
	}
	return append(msgs, ChatMessage{Role: "user", Content: user})
}

// ── OpenAI Provider ─────────────────────────────────────────

type openAIRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (r *Router) callOpenAI(ctx context.Context, p *Provider, system, user string) (string, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if p.APIKey == "" {
		return "", errs.Missing(p.Name, "api_key")
	}

	var out openAIResponse
	err := r.post(ctx, p.Name, strings.TrimRight(endpoint, "/")+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + p.APIKey},
		openAIRequest{Model: p.Model, Messages: chatMessages(system, user)}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &errs.UpstreamProviderError{Provider: p.Name, Operation: "generate", Message: "no choices returned"}
	}
	return out.Choices[0].Message.Content, nil
}

// ── Anthropic Provider ──────────────────────────────────────

type anthropicRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (r *Router) callAnthropic(ctx context.Context, p *Provider, system, user string) (string, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	if p.APIKey == "" {
		return "", errs.Missing(p.Name, "api_key")
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var out anthropicResponse
	err := r.post(ctx, p.Name, strings.TrimRight(endpoint, "/")+"/v1/messages",
		map[string]string{"x-api-key": p.APIKey, "anthropic-version": "2023-06-01"},
		anthropicRequest{Model: p.Model, System: system, Messages: chatMessages("", user), MaxTokens: maxTokens}, &out)
	if err != nil {
		return "", err
	}

	content := ""
	for _, c := range out.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}
	if content == "" {
		return "", &errs.UpstreamProviderError{Provider: p.Name, Operation: "generate", Message: "empty response"}
	}
	return content, nil
}

// ── Ollama Provider ─────────────────────────────────────────

func (r *Router) callOllama(ctx context.Context, p *Provider, system, user string) (string, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	var out openAIResponse
	err := r.post(ctx, p.Name, strings.TrimRight(endpoint, "/")+"/v1/chat/completions", nil,
		openAIRequest{Model: p.Model, Messages: chatMessages(system, user)}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &errs.UpstreamProviderError{Provider: p.Name, Operation: "generate", Message: "no choices returned"}
	}
	return out.Choices[0].Message.Content, nil
}

func (r *Router) post(ctx context.Context, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", provider, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return &errs.UpstreamProviderError{Provider: provider, Operation: "generate", Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return &errs.UpstreamProviderError{
			Provider:   provider,
			Operation:  "generate",
			StatusCode: httpResp.StatusCode,
			Message:    string(respBody),
		}
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}
