package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests with no persistence.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Agents ──────────────────────────────────────────────────

func TestCreateAndGetAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{UserID: "u1", Name: "helper", Status: models.AgentTraining}
	if err := s.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if agent.ID == "" {
		t.Fatal("CreateAgent() did not assign an ID")
	}

	got, err := s.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if got.Name != "helper" || got.Status != models.AgentTraining {
		t.Errorf("GetAgent() = %+v", got)
	}

	if err := s.UpdateAgentStatus(ctx, agent.ID, models.AgentTrained); err != nil {
		t.Fatalf("UpdateAgentStatus() error = %v", err)
	}
	got, _ = s.GetAgent(ctx, agent.ID)
	if got.Status != models.AgentTrained {
		t.Errorf("Status = %q, want trained", got.Status)
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAgent(context.Background(), "missing")
	if !errs.IsNotFound(err) {
		t.Errorf("GetAgent(missing) error = %v, want NotFoundError", err)
	}
}

func TestDeleteAgent_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{UserID: "u1", Name: "a"}
	s.CreateAgent(ctx, agent)
	dep := &models.Deployment{AgentID: agent.ID, UserID: "u1", Platform: models.PlatformTelegram}
	s.CreateDeployment(ctx, dep)
	s.InsertMemories(ctx, []models.Memory{{AgentID: agent.ID, Text: "x", ContentHash: "h1"}})

	if err := s.DeleteAgent(ctx, agent.ID); err != nil {
		t.Fatalf("DeleteAgent() error = %v", err)
	}
	if _, err := s.GetDeployment(ctx, dep.ID); !errs.IsNotFound(err) {
		t.Errorf("deployment should be removed with the agent, got err = %v", err)
	}
	if n, _ := s.CountMemories(ctx, agent.ID); n != 0 {
		t.Errorf("CountMemories() = %d, want 0", n)
	}
}

// ─── Deployments ─────────────────────────────────────────────

func TestDeploymentStatusAndActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dep := &models.Deployment{
		AgentID:  "a1",
		UserID:   "u1",
		Platform: models.PlatformSlack,
		Status:   models.DeploymentPending,
		Config:   map[string]any{"slack": map[string]any{"accessToken": "xoxb"}},
	}
	if err := s.CreateDeployment(ctx, dep); err != nil {
		t.Fatalf("CreateDeployment() error = %v", err)
	}

	if err := s.UpdateDeploymentStatus(ctx, dep.ID, models.DeploymentActive, ""); err != nil {
		t.Fatalf("UpdateDeploymentStatus() error = %v", err)
	}
	now := time.Now()
	s.RecordDeploymentActivity(ctx, dep.ID, models.DeploymentActivity{At: now, Event: "app_mention", Chat: true, ResponseTime: 100 * time.Millisecond})
	s.RecordDeploymentActivity(ctx, dep.ID, models.DeploymentActivity{At: now, Event: "app_mention", Chat: true, ResponseTime: 300 * time.Millisecond})
	s.RecordDeploymentActivity(ctx, dep.ID, models.DeploymentActivity{At: now, Event: "url_verification"})

	got, err := s.GetDeployment(ctx, dep.ID)
	if err != nil {
		t.Fatalf("GetDeployment() error = %v", err)
	}
	if got.Status != models.DeploymentActive || got.DeployedAt == nil {
		t.Errorf("Status = %q DeployedAt = %v, want active with timestamp", got.Status, got.DeployedAt)
	}
	if got.Stats.Chats != 2 || got.Stats.Views != 3 {
		t.Errorf("Stats = %+v, want 2 chats / 3 views", got.Stats)
	}
	if got.Stats.AvgResponseTimeMs != 200 {
		t.Errorf("AvgResponseTimeMs = %v, want 200", got.Stats.AvgResponseTimeMs)
	}
	if got.Stats.Events["app_mention"] != 2 {
		t.Errorf("Events = %v", got.Stats.Events)
	}
	if got.LastPing == nil {
		t.Error("LastPing not recorded")
	}
	if got.ConfigString("slack.accessToken") != "xoxb" {
		t.Errorf("nested config lost: %v", got.Config)
	}
}

func TestGetDeployment_ReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dep := &models.Deployment{Platform: models.PlatformWebsite, Config: map[string]any{"k": "v"}}
	s.CreateDeployment(ctx, dep)

	got, _ := s.GetDeployment(ctx, dep.ID)
	got.Config["k"] = "mutated"

	again, _ := s.GetDeployment(ctx, dep.ID)
	if again.Config["k"] != "v" {
		t.Error("mutating a returned deployment leaked into the store")
	}
}

func TestListDeployments_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateDeployment(ctx, &models.Deployment{UserID: "u1", Platform: models.PlatformSlack, Status: models.DeploymentActive})
	s.CreateDeployment(ctx, &models.Deployment{UserID: "u1", Platform: models.PlatformDiscord, Status: models.DeploymentPending})
	s.CreateDeployment(ctx, &models.Deployment{UserID: "u2", Platform: models.PlatformSlack, Status: models.DeploymentActive})

	got, _ := s.ListDeployments(ctx, models.DeploymentFilter{UserID: "u1"})
	if len(got) != 2 {
		t.Errorf("by user = %d, want 2", len(got))
	}
	got, _ = s.ListDeployments(ctx, models.DeploymentFilter{Platform: models.PlatformSlack, Status: models.DeploymentActive})
	if len(got) != 2 {
		t.Errorf("by platform+status = %d, want 2", len(got))
	}
}

// ─── Memories ────────────────────────────────────────────────

func TestInsertMemories_SkipsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []models.Memory{
		{AgentID: "a1", Text: "one", ContentHash: "h1"},
		{AgentID: "a1", Text: "two", ContentHash: "h2"},
		{AgentID: "a1", Text: "one again", ContentHash: "h1"},
		{AgentID: "a1", Text: "one elsewhere", ContentHash: "h1", SourceURL: "https://example.com"},
		{AgentID: "a2", Text: "other agent", ContentHash: "h1"},
	}
	n, err := s.InsertMemories(ctx, batch)
	if err != nil {
		t.Fatalf("InsertMemories() error = %v", err)
	}
	if n != 4 {
		t.Errorf("inserted = %d, want 4", n)
	}

	n, _ = s.InsertMemories(ctx, batch)
	if n != 0 {
		t.Errorf("second insert = %d, want 0", n)
	}

	found, _ := s.FindMemoryByHash(ctx, "a1", "h1", "")
	if found == nil || found.Text != "one" {
		t.Errorf("FindMemoryByHash() = %+v, want first insert", found)
	}
	if missing, _ := s.FindMemoryByHash(ctx, "a1", "nope", ""); missing != nil {
		t.Errorf("FindMemoryByHash(nope) = %+v, want nil", missing)
	}
}

func TestSearchMemories_RanksByCosine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.InsertMemories(ctx, []models.Memory{
		{AgentID: "a1", Text: "x axis", ContentHash: "1", Embedding: []float64{1, 0}},
		{AgentID: "a1", Text: "diagonal", ContentHash: "2", Embedding: []float64{1, 1}},
		{AgentID: "a1", Text: "zero", ContentHash: "3", Embedding: []float64{0, 0}},
	})

	hits, err := s.SearchMemories(ctx, "a1", []float64{1, 0}, 5)
	if err != nil {
		t.Fatalf("SearchMemories() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2 (zero vector excluded)", len(hits))
	}
	if hits[0].Text != "x axis" {
		t.Errorf("best hit = %q, want x axis", hits[0].Text)
	}
}

func TestSnapshotPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1 := store.NewMemoryStore(dir)
	agent := &models.Agent{Name: "persisted"}
	s1.CreateAgent(ctx, agent)
	s1.InsertMemories(ctx, []models.Memory{{AgentID: agent.ID, ContentHash: "h"}})
	s1.Close()

	s2 := store.NewMemoryStore(dir)
	defer s2.Close()
	if _, err := s2.GetAgent(ctx, agent.ID); err != nil {
		t.Fatalf("agent not restored: %v", err)
	}
	if n, _ := s2.InsertMemories(ctx, []models.Memory{{AgentID: agent.ID, ContentHash: "h"}}); n != 0 {
		t.Error("dedup keys not rebuilt from snapshot")
	}
}
