// Package responder answers inbound platform messages from an agent's memory.
package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultFallback is sent when no answer can be generated.
const DefaultFallback = "Sorry, I can't answer that right now. Please try again later."

// Responder retrieves the closest memories and asks the generator for an answer.
type Responder struct {
	store     store.Store
	embedder  contracts.Embedder
	generator contracts.Generator
	topK      int
	fallback  string
}

var _ contracts.Responder = (*Responder)(nil)

// New creates a Responder. topK <= 0 defaults to 5.
func New(s store.Store, embedder contracts.Embedder, generator contracts.Generator, topK int, fallback string) *Responder {
	if topK <= 0 {
		topK = 5
	}
	if strings.TrimSpace(fallback) == "" {
		fallback = DefaultFallback
	}
	return &Responder{store: s, embedder: embedder, generator: generator, topK: topK, fallback: fallback}
}

// Reply never fails. Errors degrade to the fallback text.
func (r *Responder) Reply(ctx context.Context, d *models.Deployment, message string) contracts.Reply {
	text, err := r.answer(ctx, d, message)
	if err != nil {
		log.Warn().
			Str("deployment", d.ID).
			Str("agent", d.AgentID).
			Err(err).
			Msg("Reply generation failed, sending fallback")
		return contracts.Reply{Text: r.fallback, Degraded: true, Err: err}
	}
	return contracts.Reply{Text: text}
}

func (r *Responder) answer(ctx context.Context, d *models.Deployment, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("empty message")
	}

	agent, err := r.store.GetAgent(ctx, d.AgentID)
	if err != nil {
		return "", err
	}

	var chunks []string
	if emb := r.embedder.Embed(ctx, message); !emb.Degraded {
		hits, err := r.store.SearchMemories(ctx, agent.ID, emb.Vector, r.topK)
		if err != nil {
			return "", fmt.Errorf("search memories: %w", err)
		}
		for _, h := range hits {
			chunks = append(chunks, h.Text)
		}
	} else {
		log.Debug().Str("agent", agent.ID).Err(emb.Err).Msg("Question embedding degraded, answering without context")
	}

	text, err := r.generator.Generate(ctx, contracts.GenerateRequest{
		Persona: agent.Persona,
		Context: chunks,
		Message: message,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("generator returned an empty answer")
	}
	return text, nil
}
