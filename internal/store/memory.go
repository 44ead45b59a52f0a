// In-memory Store implementation with optional JSON snapshots.
// Used when no database is configured (local dev, tests).
// Supports file-based snapshot persistence so data survives restarts.

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/agentdock/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Agents      map[string]*models.Agent      `json:"agents"`
	Deployments map[string]*models.Deployment `json:"deployments"`
	TrainJobs   map[string]*models.TrainJob   `json:"train_jobs"`
	Memories    map[string][]*models.Memory   `json:"memories"` // key: agent_id
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	agents      map[string]*models.Agent      // key: id
	deployments map[string]*models.Deployment // key: id
	trainJobs   map[string]*models.TrainJob   // key: job_id
	memories    map[string][]*models.Memory   // key: agent_id, insertion order
	memoryKeys  map[string]struct{}           // key: DedupKey

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store.
// If dataDir is non-empty, data is persisted to dataDir/agentdock.json.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		agents:      make(map[string]*models.Agent),
		deployments: make(map[string]*models.Deployment),
		trainJobs:   make(map[string]*models.TrainJob),
		memories:    make(map[string][]*models.Memory),
		memoryKeys:  make(map[string]struct{}),
		saveCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "agentdock.json")
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Agents:      m.agents,
		Deployments: m.deployments,
		TrainJobs:   m.trainJobs,
		Memories:    m.memories,
	}
	data, err := json.Marshal(snap)
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Agents != nil {
		m.agents = snap.Agents
	}
	if snap.Deployments != nil {
		m.deployments = snap.Deployments
	}
	if snap.TrainJobs != nil {
		m.trainJobs = snap.TrainJobs
	}
	if snap.Memories != nil {
		m.memories = snap.Memories
	}
	chunks := 0
	for _, list := range m.memories {
		for _, mem := range list {
			m.memoryKeys[DedupKey(mem.AgentID, mem.ContentHash, mem.SourceURL)] = struct{}{}
			chunks++
		}
	}

	log.Info().
		Int("agents", len(m.agents)).
		Int("deployments", len(m.deployments)).
		Int("memories", chunks).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}
	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}
	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Agent Store ─────────────────────────────────────────────

func (m *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	m.mu.Lock()
	cp := *agent
	m.agents[agent.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListAgents(_ context.Context, userID string) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Agent
	for _, a := range m.agents {
		if userID == "" || a.UserID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateAgentStatus(_ context.Context, id string, status models.AgentStatus) error {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.agents[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	delete(m.agents, id)
	m.dropMemoriesLocked(id)
	for did, d := range m.deployments {
		if d.AgentID == id {
			delete(m.deployments, did)
		}
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Deployment Store ────────────────────────────────────────

func cloneDeployment(d *models.Deployment) *models.Deployment {
	cp := *d
	if d.Config != nil {
		// Config is an opaque nested map; a JSON round trip is the
		// simplest deep copy.
		raw, _ := json.Marshal(d.Config)
		cp.Config = nil
		_ = json.Unmarshal(raw, &cp.Config)
	}
	if d.Stats.Events != nil {
		cp.Stats.Events = make(map[string]int64, len(d.Stats.Events))
		for k, v := range d.Stats.Events {
			cp.Stats.Events[k] = v
		}
	}
	return &cp
}

func (m *MemoryStore) CreateDeployment(_ context.Context, d *models.Deployment) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	m.mu.Lock()
	m.deployments[d.ID] = cloneDeployment(d)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetDeployment(_ context.Context, id string) (*models.Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deployments[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "deployment", Key: id}
	}
	return cloneDeployment(d), nil
}

func (m *MemoryStore) ListDeployments(_ context.Context, f models.DeploymentFilter) ([]models.Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Deployment
	for _, d := range m.deployments {
		if f.UserID != "" && d.UserID != f.UserID {
			continue
		}
		if f.AgentID != "" && d.AgentID != f.AgentID {
			continue
		}
		if f.Platform != "" && d.Platform != f.Platform {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, *cloneDeployment(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateDeployment(_ context.Context, d *models.Deployment) error {
	m.mu.Lock()
	existing, ok := m.deployments[d.ID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "deployment", Key: d.ID}
	}
	cp := cloneDeployment(d)
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	m.deployments[d.ID] = cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateDeploymentStatus(_ context.Context, id string, status models.DeploymentStatus, lastError string) error {
	m.mu.Lock()
	d, ok := m.deployments[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "deployment", Key: id}
	}
	now := time.Now().UTC()
	d.Status = status
	d.LastError = lastError
	d.UpdatedAt = now
	if status == models.DeploymentActive {
		d.DeployedAt = &now
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) RecordDeploymentActivity(_ context.Context, id string, a models.DeploymentActivity) error {
	m.mu.Lock()
	d, ok := m.deployments[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "deployment", Key: id}
	}
	ApplyActivity(d, a)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteDeployment(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.deployments[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "deployment", Key: id}
	}
	delete(m.deployments, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Train Job Store ─────────────────────────────────────────

func (m *MemoryStore) CreateTrainJob(_ context.Context, job *models.TrainJob) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	m.mu.Lock()
	cp := *job
	m.trainJobs[job.JobID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetTrainJob(_ context.Context, jobID string) (*models.TrainJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.trainJobs[jobID]
	if !ok {
		return nil, &ErrNotFound{Entity: "train job", Key: jobID}
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) UpdateTrainJob(_ context.Context, job *models.TrainJob) error {
	m.mu.Lock()
	if _, ok := m.trainJobs[job.JobID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "train job", Key: job.JobID}
	}
	job.UpdatedAt = time.Now().UTC()
	cp := *job
	m.trainJobs[job.JobID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListTrainJobs(_ context.Context, agentID string) ([]models.TrainJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TrainJob
	for _, j := range m.trainJobs {
		if agentID == "" || j.AgentID == agentID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ── Memory Store ────────────────────────────────────────────

func (m *MemoryStore) FindMemoryByHash(_ context.Context, agentID, contentHash, sourceURL string) (*models.Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.memoryKeys[DedupKey(agentID, contentHash, sourceURL)]; !ok {
		return nil, nil
	}
	for _, mem := range m.memories[agentID] {
		if mem.ContentHash == contentHash && mem.SourceURL == sourceURL {
			cp := *mem
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) InsertMemories(_ context.Context, memories []models.Memory) (int, error) {
	now := time.Now().UTC()
	inserted := 0

	m.mu.Lock()
	for i := range memories {
		mem := memories[i]
		k := DedupKey(mem.AgentID, mem.ContentHash, mem.SourceURL)
		if _, exists := m.memoryKeys[k]; exists {
			continue
		}
		if mem.ID == "" {
			mem.ID = uuid.NewString()
		}
		if mem.CreatedAt.IsZero() {
			mem.CreatedAt = now
		}
		m.memoryKeys[k] = struct{}{}
		m.memories[mem.AgentID] = append(m.memories[mem.AgentID], &mem)
		inserted++
	}
	m.mu.Unlock()

	if inserted > 0 {
		m.requestSave()
	}
	return inserted, nil
}

func (m *MemoryStore) ListMemories(_ context.Context, agentID string, limit int) ([]models.Memory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.memories[agentID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]models.Memory, 0, limit)
	for _, mem := range list[:limit] {
		out = append(out, *mem)
	}
	return out, nil
}

func (m *MemoryStore) CountMemories(_ context.Context, agentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.memories[agentID]), nil
}

func (m *MemoryStore) SearchMemories(_ context.Context, agentID string, vector []float64, topK int) ([]models.ScoredMemory, error) {
	m.mu.RLock()
	candidates := make([]models.Memory, 0, len(m.memories[agentID]))
	for _, mem := range m.memories[agentID] {
		candidates = append(candidates, *mem)
	}
	m.mu.RUnlock()
	return RankMemories(candidates, vector, topK), nil
}

func (m *MemoryStore) DeleteMemories(_ context.Context, agentID string) (int, error) {
	m.mu.Lock()
	n := m.dropMemoriesLocked(agentID)
	m.mu.Unlock()
	if n > 0 {
		m.requestSave()
	}
	return n, nil
}

func (m *MemoryStore) dropMemoriesLocked(agentID string) int {
	list := m.memories[agentID]
	for _, mem := range list {
		delete(m.memoryKeys, DedupKey(mem.AgentID, mem.ContentHash, mem.SourceURL))
	}
	delete(m.memories, agentID)
	return len(list)
}
