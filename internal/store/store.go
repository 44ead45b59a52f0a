// Package store provides the storage interface and implementations for agentdock.
// The in-memory store backs local development and tests; the sqlstore
// subpackage provides PostgreSQL and SQLite persistence.
package store

import (
	"context"
	"math"
	"sort"

	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/pkg/models"
)

// Store is the primary storage interface.
// All service code depends on this interface, making it easy to swap
// between in-memory (tests) and SQL (production) implementations.
type Store interface {
	AgentStore
	DeploymentStore
	TrainJobStore
	MemoryChunkStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}

// ── Agent Store ─────────────────────────────────────────────

type AgentStore interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context, userID string) ([]models.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status models.AgentStatus) error

	// DeleteAgent removes the agent with its memories and deployments.
	DeleteAgent(ctx context.Context, id string) error
}

// ── Deployment Store ────────────────────────────────────────

type DeploymentStore interface {
	CreateDeployment(ctx context.Context, d *models.Deployment) error
	GetDeployment(ctx context.Context, id string) (*models.Deployment, error)
	ListDeployments(ctx context.Context, filter models.DeploymentFilter) ([]models.Deployment, error)

	// UpdateDeployment replaces config, credentials and status.
	UpdateDeployment(ctx context.Context, d *models.Deployment) error

	// UpdateDeploymentStatus sets status and lastError. Moving to active
	// also stamps deployedAt.
	UpdateDeploymentStatus(ctx context.Context, id string, status models.DeploymentStatus, lastError string) error

	// RecordDeploymentActivity folds one webhook observation into the stats.
	RecordDeploymentActivity(ctx context.Context, id string, activity models.DeploymentActivity) error

	DeleteDeployment(ctx context.Context, id string) error
}

// ── Train Job Store ─────────────────────────────────────────

type TrainJobStore interface {
	CreateTrainJob(ctx context.Context, job *models.TrainJob) error
	GetTrainJob(ctx context.Context, jobID string) (*models.TrainJob, error)
	UpdateTrainJob(ctx context.Context, job *models.TrainJob) error
	ListTrainJobs(ctx context.Context, agentID string) ([]models.TrainJob, error)
}

// ── Memory Store ────────────────────────────────────────────

// MemoryChunkStore holds trained chunks. Memories are append-only;
// (agentID, contentHash, sourceURL) is unique.
type MemoryChunkStore interface {
	// FindMemoryByHash returns the memory with the dedup key, or nil.
	FindMemoryByHash(ctx context.Context, agentID, contentHash, sourceURL string) (*models.Memory, error)

	// InsertMemories inserts each memory unless one with the same dedup
	// key exists. Returns how many were inserted.
	InsertMemories(ctx context.Context, memories []models.Memory) (int, error)

	ListMemories(ctx context.Context, agentID string, limit int) ([]models.Memory, error)
	CountMemories(ctx context.Context, agentID string) (int, error)

	// SearchMemories ranks an agent's memories by cosine similarity.
	SearchMemories(ctx context.Context, agentID string, vector []float64, topK int) ([]models.ScoredMemory, error)

	DeleteMemories(ctx context.Context, agentID string) (int, error)
}

// ErrNotFound is the not-found error returned by every store.
type ErrNotFound = errs.NotFoundError

// ── Helpers shared by implementations ───────────────────────

// CosineSimilarity computes cosine similarity between two vectors.
// Zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankMemories scores candidates against vector and returns the best topK.
func RankMemories(candidates []models.Memory, vector []float64, topK int) []models.ScoredMemory {
	scored := make([]models.ScoredMemory, 0, len(candidates))
	for _, m := range candidates {
		score := CosineSimilarity(vector, m.Embedding)
		if score <= 0 {
			continue
		}
		scored = append(scored, models.ScoredMemory{Memory: m, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// ApplyActivity folds an activity into stats. AvgResponseTimeMs is a
// running mean over chats.
func ApplyActivity(d *models.Deployment, a models.DeploymentActivity) {
	at := a.At
	d.LastPing = &at
	d.Stats.Views++
	if a.Event != "" {
		if d.Stats.Events == nil {
			d.Stats.Events = make(map[string]int64)
		}
		d.Stats.Events[a.Event]++
	}
	if a.Chat {
		n := float64(d.Stats.Chats)
		ms := float64(a.ResponseTime.Milliseconds())
		d.Stats.AvgResponseTimeMs = (d.Stats.AvgResponseTimeMs*n + ms) / (n + 1)
		d.Stats.Chats++
	}
}

// DedupKey is the uniqueness key for a memory.
func DedupKey(agentID, contentHash, sourceURL string) string {
	return agentID + "|" + contentHash + "|" + sourceURL
}
