package responder_test

import (
	"context"
	"errors"
	"testing"

	"github.com/agentoven/agentdock/internal/responder"
	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
)

type fixedEmbedder struct {
	vec      []float64
	degraded bool
}

func (e fixedEmbedder) Embed(ctx context.Context, text string) contracts.Embedding {
	return contracts.Embedding{Vector: e.vec, Degraded: e.degraded}
}

type recordingGenerator struct {
	got   contracts.GenerateRequest
	reply string
	err   error
}

func (g *recordingGenerator) Generate(ctx context.Context, req contracts.GenerateRequest) (string, error) {
	g.got = req
	return g.reply, g.err
}

func setup(t *testing.T) (store.Store, *models.Deployment) {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	agent := &models.Agent{Name: "bot", Persona: "Be brief.", Status: models.AgentTrained}
	s.CreateAgent(ctx, agent)
	s.InsertMemories(ctx, []models.Memory{
		{AgentID: agent.ID, Text: "Opening hours are 9 to 5.", ContentHash: "a", Embedding: []float64{1, 0}},
		{AgentID: agent.ID, Text: "We sell bikes.", ContentHash: "b", Embedding: []float64{0, 1}},
	})
	return s, &models.Deployment{ID: "d1", AgentID: agent.ID}
}

func TestReply_UsesRetrievedContext(t *testing.T) {
	s, d := setup(t)
	gen := &recordingGenerator{reply: "9 to 5"}
	r := responder.New(s, fixedEmbedder{vec: []float64{1, 0}}, gen, 1, "")

	got := r.Reply(context.Background(), d, "when are you open?")
	if got.Degraded || got.Text != "9 to 5" {
		t.Fatalf("Reply() = %+v", got)
	}
	if gen.got.Persona != "Be brief." {
		t.Errorf("Persona = %q", gen.got.Persona)
	}
	if len(gen.got.Context) != 1 || gen.got.Context[0] != "Opening hours are 9 to 5." {
		t.Errorf("Context = %v", gen.got.Context)
	}
}

func TestReply_FallbackOnGeneratorError(t *testing.T) {
	s, d := setup(t)
	r := responder.New(s, fixedEmbedder{vec: []float64{1, 0}}, &recordingGenerator{err: errors.New("boom")}, 3, "try later")

	got := r.Reply(context.Background(), d, "hello")
	if !got.Degraded || got.Text != "try later" || got.Err == nil {
		t.Errorf("Reply() = %+v, want degraded fallback", got)
	}
}

func TestReply_DegradedEmbeddingSkipsRetrieval(t *testing.T) {
	s, d := setup(t)
	gen := &recordingGenerator{reply: "ok"}
	r := responder.New(s, fixedEmbedder{degraded: true}, gen, 3, "")

	got := r.Reply(context.Background(), d, "hello")
	if got.Degraded {
		t.Fatalf("Reply() = %+v", got)
	}
	if len(gen.got.Context) != 0 {
		t.Errorf("Context = %v, want none", gen.got.Context)
	}
}

func TestReply_MissingAgent(t *testing.T) {
	s, _ := setup(t)
	r := responder.New(s, fixedEmbedder{}, &recordingGenerator{reply: "x"}, 3, "")
	got := r.Reply(context.Background(), &models.Deployment{ID: "d", AgentID: "gone"}, "hello")
	if !got.Degraded || got.Text != responder.DefaultFallback {
		t.Errorf("Reply() = %+v", got)
	}
}
