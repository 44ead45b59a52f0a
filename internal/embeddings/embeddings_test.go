package embeddings_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentoven/agentdock/internal/config"
	"github.com/agentoven/agentdock/internal/embeddings"
)

func TestOpenAIDriver_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s, want /embeddings", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		// Answer out of order to check reordering by index.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float64{0, 1}},
				{"index": 0, "embedding": []float64{1, 0}},
			},
		})
	}))
	defer srv.Close()

	d := embeddings.NewOpenAIDriver("sk-test", "text-embedding-3-small", embeddings.WithOpenAIBaseURL(srv.URL))
	vecs, err := d.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("Embed() = %v, want vectors in input order", vecs)
	}
}

func TestRetrying_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float64{0.5, 0.5}}},
		})
	}))
	defer srv.Close()

	d := embeddings.NewOpenAIDriver("sk", "text-embedding-3-small", embeddings.WithOpenAIBaseURL(srv.URL))
	e := embeddings.NewRetrying(d, 3, time.Millisecond).Embed(context.Background(), "hello")
	if e.Degraded || e.Err != nil {
		t.Fatalf("Embed() degraded = %v err = %v", e.Degraded, e.Err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestRetrying_ZeroVectorFallback(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := embeddings.NewOpenAIDriver("sk", "text-embedding-3-small", embeddings.WithOpenAIBaseURL(srv.URL))
	e := embeddings.NewRetrying(d, 3, time.Millisecond).Embed(context.Background(), "hello")
	if !e.Degraded || e.Err == nil {
		t.Fatal("expected a degraded embedding")
	}
	if len(e.Vector) != 1536 {
		t.Errorf("len(Vector) = %d, want 1536", len(e.Vector))
	}
	for _, v := range e.Vector {
		if v != 0 {
			t.Fatal("fallback vector is not zero")
		}
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetrying_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := embeddings.NewOpenAIDriver("sk", "text-embedding-3-small", embeddings.WithOpenAIBaseURL(srv.URL))
	e := embeddings.NewRetrying(d, 3, time.Millisecond).Embed(context.Background(), "hello")
	if !e.Degraded {
		t.Fatal("expected a degraded embedding")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRegistry(t *testing.T) {
	r := embeddings.NewRegistry()
	r.Register("ollama", embeddings.NewOllamaDriver("", "nomic-embed-text"))
	r.Register("openai", embeddings.NewOpenAIDriver("k", "text-embedding-3-large"))

	d, err := r.Get("openai")
	if err != nil || d.Dimensions() != 3072 {
		t.Errorf("Get(openai) = %v, %v", d, err)
	}
	if _, err := r.Get("cohere"); err == nil {
		t.Error("Get(unknown) should fail")
	}
	if names := r.List(); len(names) != 2 || names[0] != "ollama" {
		t.Errorf("List() = %v", names)
	}
}

func TestFromConfig(t *testing.T) {
	r := embeddings.FromConfig(config.AIConfig{EmbeddingModel: "text-embedding-3-small"})
	if names := r.List(); len(names) != 1 || names[0] != "ollama" {
		t.Fatalf("List() without OpenAI key = %v", names)
	}
	if _, err := r.Embedder("openai", 3); err == nil {
		t.Error("Embedder(openai) without a key should fail")
	}

	r = embeddings.FromConfig(config.AIConfig{OpenAIKey: "k", EmbeddingModel: "text-embedding-3-small"})
	e, err := r.Embedder("openai", 3)
	if err != nil || e == nil {
		t.Fatalf("Embedder(openai) = %v, %v", e, err)
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := embeddings.NewRegistry()
	r.Register("ollama", embeddings.NewOllamaDriver(srv.URL, "nomic-embed-text"))
	if err := r.Probe(context.Background(), "ollama"); err == nil {
		t.Error("Probe() against a failing server should return an error")
	}
}
