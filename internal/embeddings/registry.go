// Package embeddings provides the embedding drivers used by the ingestion
// pipeline and the reply generator. Ships OpenAI (text-embedding-3-*) and
// Ollama (nomic-embed-text and friends).
package embeddings

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/agentdock/internal/config"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// Registry maps driver names to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]contracts.EmbeddingDriver
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]contracts.EmbeddingDriver)}
}

// FromConfig registers every driver the AI config has credentials for.
// Ollama needs none and is always available.
func FromConfig(cfg config.AIConfig) *Registry {
	r := NewRegistry()
	if cfg.OpenAIKey != "" {
		r.Register("openai", NewOpenAIDriver(cfg.OpenAIKey, cfg.EmbeddingModel, WithOpenAIBaseURL(cfg.OpenAIBaseURL)))
	}
	model := cfg.EmbeddingModel
	if strings.HasPrefix(model, "text-embedding-") {
		model = "nomic-embed-text"
	}
	r.Register("ollama", NewOllamaDriver(cfg.OllamaURL, model))
	return r
}

// Register adds or replaces a driver.
func (r *Registry) Register(name string, driver contracts.EmbeddingDriver) {
	r.mu.Lock()
	r.drivers[name] = driver
	r.mu.Unlock()
	log.Debug().Str("name", name).Str("kind", driver.Kind()).Int("dims", driver.Dimensions()).Msg("Embedding driver registered")
}

func (r *Registry) Get(name string) (contracts.EmbeddingDriver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		names := make([]string, 0, len(r.drivers))
		for n := range r.drivers {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("embedding driver %q is not available (have: %s)", name, strings.Join(names, ", "))
	}
	return d, nil
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Embedder selects the named driver and wraps it with retries.
func (r *Registry) Embedder(name string, attempts int) (*Retrying, error) {
	d, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return NewRetrying(d, attempts, 0), nil
}

// Probe checks the named driver once and logs the outcome. An unreachable
// driver is not fatal: embeddings degrade to zero vectors.
func (r *Registry) Probe(ctx context.Context, name string) error {
	d, err := r.Get(name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := d.HealthCheck(ctx); err != nil {
		log.Warn().Str("driver", name).Err(err).Msg("Embedding driver unreachable, vectors will degrade")
		return err
	}
	log.Info().Str("driver", name).Int("dims", d.Dimensions()).Msg("✅ Embedding driver reachable")
	return nil
}
