// Package contracts defines the service interfaces for agentdock.
//
// These interfaces form the boundary between the dispatch core and its
// collaborators: platform connectors, embedding and generation providers,
// document extraction, and reply generation. Concrete implementations
// live under internal/ and are wired together in pkg/server.
package contracts

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agentoven/agentdock/pkg/models"
)

// ── Connector ───────────────────────────────────────────────

// WebhookRequest is one inbound delivery from a third-party platform.
// RawBody holds the exact bytes received so signatures can be checked.
type WebhookRequest struct {
	Deployment *models.Deployment
	Payload    json.RawMessage
	Headers    http.Header
	RawBody    []byte
}

// WebhookResponse is a synchronous body the provider expects back.
type WebhookResponse struct {
	Status int
	Body   any
}

// Delivery describes what a connector did with an inbound event.
type Delivery string

const (
	// DeliveryReplied means a reply was generated and sent.
	DeliveryReplied Delivery = "replied"
	// DeliveryAcknowledged means the event was handled without a reply
	// (challenges, bookkeeping events).
	DeliveryAcknowledged Delivery = "acknowledged"
	// DeliveryIgnored means the event was not actionable.
	DeliveryIgnored Delivery = "ignored"
	// DeliveryDropped means a reply was attempted but failed. The failure
	// is carried in WebhookResult.Err and never surfaces to the provider.
	DeliveryDropped Delivery = "dropped"
)

// WebhookResult is the outcome of Connector.HandleWebhook.
//
// Verification failures are returned as the error value. Runtime failures
// during reply generation or delivery are swallowed: they are reported
// here with Delivery == DeliveryDropped and Err set.
type WebhookResult struct {
	Response *WebhookResponse
	Delivery Delivery
	Event    string
	Chat     bool
	Err      error
}

// Connector adapts one third-party platform.
type Connector interface {
	// Platform returns the platform key the connector serves.
	Platform() models.Platform

	// Deploy validates the platform-required secrets and performs any
	// one-time registration call. It never persists anything.
	Deploy(ctx context.Context, d *models.Deployment) error

	// HandleWebhook verifies and processes one inbound delivery.
	HandleWebhook(ctx context.Context, req *WebhookRequest) (WebhookResult, error)
}

// ── Reply generation ────────────────────────────────────────

// Reply is a generated answer. Degraded replies carry the static
// fallback text and the failure that caused it.
type Reply struct {
	Text     string
	Degraded bool
	Err      error
}

// Responder produces an answer for an inbound message. It never fails:
// every error degrades to a fallback reply.
type Responder interface {
	Reply(ctx context.Context, d *models.Deployment, message string) Reply
}

// GenerateRequest is the input to a generative model call.
type GenerateRequest struct {
	Persona string
	Context []string
	Message string
}

// Generator calls a generative model.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ── Embeddings ──────────────────────────────────────────────

// EmbeddingDriver is the interface for embedding model integrations.
// OSS ships OpenAI and Ollama drivers.
type EmbeddingDriver interface {
	// Kind returns the driver identifier (e.g., "openai", "ollama").
	Kind() string

	// Dimensions returns the vector size the driver produces.
	Dimensions() int

	// MaxBatchSize returns the max texts accepted per Embed call.
	MaxBatchSize() int

	// Embed generates vectors for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// Embedding is a single-text embedding result. Degraded vectors are
// zero-filled substitutes for a failed call.
type Embedding struct {
	Vector   []float64
	Degraded bool
	Err      error
}

// Embedder embeds one text at a time and tolerates provider failure.
type Embedder interface {
	Embed(ctx context.Context, text string) Embedding
}

// ── Extraction ──────────────────────────────────────────────

// Extracted is the text pulled from a document or media file.
type Extracted struct {
	Text     string
	Metadata map[string]any
}

// Extractor parses raw bytes of a declared type into text.
type Extractor interface {
	Parse(ctx context.Context, data []byte, declaredType string) (Extracted, error)
}

// Fetcher resolves a URL into text (website crawl, video transcript).
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Extracted, error)
}
