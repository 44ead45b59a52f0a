package sqlstore_test

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/internal/secrets"
	"github.com/agentoven/agentdock/internal/store/sqlstore"
	"github.com/agentoven/agentdock/pkg/models"
)

func openTestStore(t *testing.T, sealer *secrets.Sealer) (*sqlstore.Store, string) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "agentdock.db")
	ctx := context.Background()
	s, err := sqlstore.Open(ctx, sqlstore.Options{Dialect: sqlstore.SQLite, DSN: dsn, Sealer: sealer})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dsn
}

func TestMigrateIsIdempotent(t *testing.T) {
	s, _ := openTestStore(t, nil)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestAgentLifecycle(t *testing.T) {
	s, _ := openTestStore(t, nil)
	ctx := context.Background()

	a := &models.Agent{UserID: "u1", Name: "docs bot", Persona: "friendly", Status: models.AgentTraining}
	if err := s.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if err := s.UpdateAgentStatus(ctx, a.ID, models.AgentTrained); err != nil {
		t.Fatalf("UpdateAgentStatus() error = %v", err)
	}
	got, err := s.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if got.Status != models.AgentTrained || got.Persona != "friendly" {
		t.Errorf("GetAgent() = %+v", got)
	}

	if err := s.UpdateAgentStatus(ctx, "missing", models.AgentTrained); !errs.IsNotFound(err) {
		t.Errorf("UpdateAgentStatus(missing) error = %v, want NotFoundError", err)
	}
}

func TestDeploymentRoundTripSealed(t *testing.T) {
	sealer, _ := secrets.NewSealer(bytes.Repeat([]byte{1}, 32))
	s, dsn := openTestStore(t, sealer)
	ctx := context.Background()

	d := &models.Deployment{
		AgentID:     "a1",
		UserID:      "u1",
		Platform:    models.PlatformTelegram,
		Status:      models.DeploymentPending,
		Config:      map[string]any{"botToken": "T-SECRET"},
		Credentials: models.Credentials{BotToken: "T-SECRET"},
	}
	if err := s.CreateDeployment(ctx, d); err != nil {
		t.Fatalf("CreateDeployment() error = %v", err)
	}

	got, err := s.GetDeployment(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDeployment() error = %v", err)
	}
	if got.ConfigString("botToken") != "T-SECRET" || got.Credentials.BotToken != "T-SECRET" {
		t.Errorf("sealed values did not round trip: %+v", got)
	}

	// The raw column must not contain the plaintext token.
	s.Close()
	raw, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	var cfg string
	if err := raw.QueryRow(`SELECT config FROM deployments WHERE id = ?`, d.ID).Scan(&cfg); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(cfg, "T-SECRET") {
		t.Error("config stored in plaintext")
	}
}

func TestDeploymentStatusActivityAndFilter(t *testing.T) {
	s, _ := openTestStore(t, nil)
	ctx := context.Background()

	d := &models.Deployment{AgentID: "a1", UserID: "u1", Platform: models.PlatformSlack, Status: models.DeploymentPending, Config: map[string]any{}}
	s.CreateDeployment(ctx, d)
	s.CreateDeployment(ctx, &models.Deployment{AgentID: "a2", UserID: "u2", Platform: models.PlatformDiscord, Status: models.DeploymentPending, Config: map[string]any{}})

	if err := s.UpdateDeploymentStatus(ctx, d.ID, models.DeploymentActive, ""); err != nil {
		t.Fatalf("UpdateDeploymentStatus() error = %v", err)
	}
	if err := s.RecordDeploymentActivity(ctx, d.ID, models.DeploymentActivity{At: time.Now(), Event: "app_mention", Chat: true, ResponseTime: 50 * time.Millisecond}); err != nil {
		t.Fatalf("RecordDeploymentActivity() error = %v", err)
	}

	got, _ := s.GetDeployment(ctx, d.ID)
	if got.Status != models.DeploymentActive || got.DeployedAt == nil || got.LastPing == nil {
		t.Errorf("GetDeployment() = %+v", got)
	}
	if got.Stats.Chats != 1 || got.Stats.AvgResponseTimeMs != 50 {
		t.Errorf("Stats = %+v", got.Stats)
	}

	list, err := s.ListDeployments(ctx, models.DeploymentFilter{UserID: "u1", Status: models.DeploymentActive})
	if err != nil {
		t.Fatalf("ListDeployments() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != d.ID {
		t.Errorf("ListDeployments() = %v", list)
	}

	if err := s.DeleteDeployment(ctx, d.ID); err != nil {
		t.Fatalf("DeleteDeployment() error = %v", err)
	}
	if _, err := s.GetDeployment(ctx, d.ID); !errs.IsNotFound(err) {
		t.Errorf("GetDeployment(deleted) error = %v", err)
	}
}

func TestTrainJobs(t *testing.T) {
	s, _ := openTestStore(t, nil)
	ctx := context.Background()

	job := &models.TrainJob{AgentID: "a1", UserID: "u1", Source: models.SourceText, Status: models.TrainQueued}
	if err := s.CreateTrainJob(ctx, job); err != nil {
		t.Fatalf("CreateTrainJob() error = %v", err)
	}
	job.Status = models.TrainCompleted
	job.Progress = 100
	job.Result = &models.TrainResult{Message: "done", Inserted: 3}
	if err := s.UpdateTrainJob(ctx, job); err != nil {
		t.Fatalf("UpdateTrainJob() error = %v", err)
	}

	got, err := s.GetTrainJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetTrainJob() error = %v", err)
	}
	if got.Status != models.TrainCompleted || got.Progress != 100 || got.Result.Inserted != 3 {
		t.Errorf("GetTrainJob() = %+v", got)
	}

	jobs, _ := s.ListTrainJobs(ctx, "a1")
	if len(jobs) != 1 {
		t.Errorf("ListTrainJobs() = %d, want 1", len(jobs))
	}
}

func TestInsertMemories_UniqueIndexSkips(t *testing.T) {
	s, _ := openTestStore(t, nil)
	ctx := context.Background()

	batch := []models.Memory{
		{AgentID: "a1", Text: "hello", ContentHash: "h1", Embedding: []float64{1, 0}, Source: models.SourceText, ContentVersion: 1},
		{AgentID: "a1", Text: "world", ContentHash: "h2", Embedding: []float64{0, 1}, Source: models.SourceText, ContentVersion: 1},
	}
	n, err := s.InsertMemories(ctx, batch)
	if err != nil {
		t.Fatalf("InsertMemories() error = %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}

	// Same content with fresh IDs: the unique index skips both.
	again := []models.Memory{
		{AgentID: "a1", Text: "hello", ContentHash: "h1", Embedding: []float64{1, 0}, Source: models.SourceText},
		{AgentID: "a1", Text: "world", ContentHash: "h2", Embedding: []float64{0, 1}, Source: models.SourceText},
	}
	n, err = s.InsertMemories(ctx, again)
	if err != nil {
		t.Fatalf("InsertMemories(dup) error = %v", err)
	}
	if n != 0 {
		t.Errorf("inserted dup = %d, want 0", n)
	}

	found, err := s.FindMemoryByHash(ctx, "a1", "h1", "")
	if err != nil || found == nil || found.Text != "hello" {
		t.Errorf("FindMemoryByHash() = %+v, %v", found, err)
	}

	hits, err := s.SearchMemories(ctx, "a1", []float64{0, 1}, 1)
	if err != nil {
		t.Fatalf("SearchMemories() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "world" {
		t.Errorf("SearchMemories() = %+v", hits)
	}

	if c, _ := s.CountMemories(ctx, "a1"); c != 2 {
		t.Errorf("CountMemories() = %d, want 2", c)
	}
	if d, _ := s.DeleteMemories(ctx, "a1"); d != 2 {
		t.Errorf("DeleteMemories() = %d, want 2", d)
	}
}
