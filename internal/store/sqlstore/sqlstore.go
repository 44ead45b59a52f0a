// Package sqlstore implements store.Store on database/sql.
//
// Two dialects are supported: "postgres" through the pgx stdlib driver and
// "sqlite" through modernc.org/sqlite. Queries are written with ?
// placeholders and rebound for postgres. Deployment config and credentials
// are sealed with a secrets.Sealer when one is configured.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentoven/agentdock/internal/secrets"
	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialects.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Store is a SQL-backed store.Store.
type Store struct {
	db      *sql.DB
	dialect string
	sealer  *secrets.Sealer
}

var _ store.Store = (*Store)(nil)

// Options configures Open.
type Options struct {
	Dialect        string
	DSN            string
	MaxConnections int
	Sealer         *secrets.Sealer
}

// Open connects to the database. Call Migrate before first use.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var driver string
	switch opts.Dialect {
	case Postgres:
		driver = "pgx"
	case SQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("sqlstore: unknown dialect %q", opts.Dialect)
	}

	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if opts.Dialect == SQLite {
		// Single connection avoids "database is locked" errors.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	} else if opts.MaxConnections > 0 {
		db.SetMaxOpenConns(opts.MaxConnections)
	}

	log.Info().Str("dialect", opts.Dialect).Bool("sealed", opts.Sealer != nil).Msg("SQL store connected")
	return &Store{db: db, dialect: opts.Dialect, sealer: opts.Sealer}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// Migrate applies embedded migrations that have not run yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := strconv.Atoi(strings.SplitN(entry.Name(), "_", 2)[0])
		if err != nil {
			return fmt.Errorf("invalid migration filename %q", entry.Name())
		}

		var exists int
		if err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM schema_version WHERE version = ?"), version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO schema_version (version) VALUES (?)"), version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
		log.Info().Int("version", version).Msg("Applied migration")
	}
	return nil
}

// rebind converts ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ── Time helpers ─────────────────────────────────────────────

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func notFound(entity, key string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &store.ErrNotFound{Entity: entity, Key: key}
	}
	return err
}

// ── Agent Store ─────────────────────────────────────────────

const agentColumns = "id, user_id, name, description, persona, status, created_at, updated_at"

func scanAgent(row interface{ Scan(...any) error }) (*models.Agent, error) {
	var a models.Agent
	var created, updated string
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Description, &a.Persona, &a.Status, &created, &updated); err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.UserID, a.Name, a.Description, a.Persona, string(a.Status), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+agentColumns+` FROM agents WHERE id = ?`), id))
	if err != nil {
		return nil, notFound("agent", id, err)
	}
	return a, nil
}

func (s *Store) ListAgents(ctx context.Context, userID string) ([]models.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if userID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q+` ORDER BY created_at`), args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	var out []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status models.AgentStatus) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	return requireRow(res, "agent", id)
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM memories WHERE agent_id = ?`,
		`DELETE FROM deployments WHERE agent_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(q), id); err != nil {
			return fmt.Errorf("delete agent: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM agents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if err := requireRow(res, "agent", id); err != nil {
		return err
	}
	return tx.Commit()
}

func requireRow(res sql.Result, entity, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &store.ErrNotFound{Entity: entity, Key: key}
	}
	return nil
}

// ── Deployment Store ────────────────────────────────────────

const deploymentColumns = "id, agent_id, user_id, platform, status, config, credentials, stats, last_ping, last_error, deployed_at, created_at, updated_at"

func (s *Store) sealJSON(v any, id string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return s.sealer.Seal(raw, id)
}

func (s *Store) openJSON(value, id string, v any) error {
	raw, err := s.sealer.Open(value, id)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (s *Store) scanDeployment(row interface{ Scan(...any) error }) (*models.Deployment, error) {
	var d models.Deployment
	var cfg, creds, stats, created, updated string
	var lastPing, deployedAt sql.NullString
	if err := row.Scan(&d.ID, &d.AgentID, &d.UserID, &d.Platform, &d.Status, &cfg, &creds, &stats,
		&lastPing, &d.LastError, &deployedAt, &created, &updated); err != nil {
		return nil, err
	}
	if err := s.openJSON(cfg, d.ID, &d.Config); err != nil {
		return nil, fmt.Errorf("deployment %s config: %w", d.ID, err)
	}
	if err := s.openJSON(creds, d.ID, &d.Credentials); err != nil {
		return nil, fmt.Errorf("deployment %s credentials: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(stats), &d.Stats); err != nil {
		return nil, fmt.Errorf("deployment %s stats: %w", d.ID, err)
	}
	d.LastPing = parseTimePtr(lastPing)
	d.DeployedAt = parseTimePtr(deployedAt)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

func (s *Store) CreateDeployment(ctx context.Context, d *models.Deployment) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	cfg, err := s.sealJSON(d.Config, d.ID)
	if err != nil {
		return fmt.Errorf("seal config: %w", err)
	}
	creds, err := s.sealJSON(d.Credentials, d.ID)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	stats, _ := json.Marshal(d.Stats)

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO deployments (`+deploymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.AgentID, d.UserID, string(d.Platform), string(d.Status), cfg, creds, string(stats),
		formatTimePtr(d.LastPing), d.LastError, formatTimePtr(d.DeployedAt), formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (s *Store) GetDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	d, err := s.scanDeployment(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`), id))
	if err != nil {
		return nil, notFound("deployment", id, err)
	}
	return d, nil
}

func (s *Store) ListDeployments(ctx context.Context, f models.DeploymentFilter) ([]models.Deployment, error) {
	var where []string
	var args []any
	for _, c := range []struct{ col, val string }{
		{"user_id", f.UserID}, {"agent_id", f.AgentID}, {"platform", string(f.Platform)}, {"status", string(f.Status)},
	} {
		if c.val != "" {
			where = append(where, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	q := `SELECT ` + deploymentColumns + ` FROM deployments`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q+` ORDER BY created_at`), args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()
	var out []models.Deployment
	for rows.Next() {
		d, err := s.scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDeployment(ctx context.Context, d *models.Deployment) error {
	cfg, err := s.sealJSON(d.Config, d.ID)
	if err != nil {
		return fmt.Errorf("seal config: %w", err)
	}
	creds, err := s.sealJSON(d.Credentials, d.ID)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	d.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE deployments SET status = ?, config = ?, credentials = ?, last_error = ?, updated_at = ? WHERE id = ?`),
		string(d.Status), cfg, creds, d.LastError, formatTime(d.UpdatedAt), d.ID)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	return requireRow(res, "deployment", d.ID)
}

func (s *Store) UpdateDeploymentStatus(ctx context.Context, id string, status models.DeploymentStatus, lastError string) error {
	now := formatTime(time.Now())
	q := `UPDATE deployments SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`
	args := []any{string(status), lastError, now, id}
	if status == models.DeploymentActive {
		q = `UPDATE deployments SET status = ?, last_error = ?, updated_at = ?, deployed_at = ? WHERE id = ?`
		args = []any{string(status), lastError, now, now, id}
	}
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return fmt.Errorf("update deployment status: %w", err)
	}
	return requireRow(res, "deployment", id)
}

func (s *Store) RecordDeploymentActivity(ctx context.Context, id string, a models.DeploymentActivity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := `SELECT stats FROM deployments WHERE id = ?`
	if s.dialect == Postgres {
		q += ` FOR UPDATE`
	}
	var raw string
	if err := tx.QueryRowContext(ctx, s.rebind(q), id).Scan(&raw); err != nil {
		return notFound("deployment", id, err)
	}
	var d models.Deployment
	if err := json.Unmarshal([]byte(raw), &d.Stats); err != nil {
		return fmt.Errorf("deployment %s stats: %w", id, err)
	}
	store.ApplyActivity(&d, a)
	stats, _ := json.Marshal(d.Stats)
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE deployments SET stats = ?, last_ping = ? WHERE id = ?`),
		string(stats), formatTimePtr(d.LastPing), id); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DeleteDeployment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM deployments WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	return requireRow(res, "deployment", id)
}

// ── Train Job Store ─────────────────────────────────────────
// Jobs are stored as a JSON body with the indexed fields broken out.

func (s *Store) CreateTrainJob(ctx context.Context, job *models.TrainJob) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO train_jobs (job_id, agent_id, user_id, status, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		job.JobID, job.AgentID, job.UserID, string(job.Status), string(body), formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert train job: %w", err)
	}
	return nil
}

func (s *Store) GetTrainJob(ctx context.Context, jobID string) (*models.TrainJob, error) {
	var body string
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM train_jobs WHERE job_id = ?`), jobID).Scan(&body); err != nil {
		return nil, notFound("train job", jobID, err)
	}
	var job models.TrainJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("train job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *Store) UpdateTrainJob(ctx context.Context, job *models.TrainJob) error {
	job.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE train_jobs SET status = ?, body = ?, updated_at = ? WHERE job_id = ?`),
		string(job.Status), string(body), formatTime(job.UpdatedAt), job.JobID)
	if err != nil {
		return fmt.Errorf("update train job: %w", err)
	}
	return requireRow(res, "train job", job.JobID)
}

func (s *Store) ListTrainJobs(ctx context.Context, agentID string) ([]models.TrainJob, error) {
	q := `SELECT body FROM train_jobs`
	var args []any
	if agentID != "" {
		q += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q+` ORDER BY created_at DESC`), args...)
	if err != nil {
		return nil, fmt.Errorf("list train jobs: %w", err)
	}
	defer rows.Close()
	var out []models.TrainJob
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var job models.TrainJob
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ── Memory Store ────────────────────────────────────────────

const memoryColumns = "id, agent_id, content_hash, source_url, text, embedding, content_version, source, chunk_metadata, created_at"

func scanMemory(row interface{ Scan(...any) error }) (*models.Memory, error) {
	var m models.Memory
	var emb, meta, created string
	if err := row.Scan(&m.ID, &m.AgentID, &m.ContentHash, &m.SourceURL, &m.Text, &emb, &m.ContentVersion, &m.Source, &meta, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(emb), &m.Embedding); err != nil {
		return nil, fmt.Errorf("memory %s embedding: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(meta), &m.ChunkMetadata); err != nil {
		return nil, fmt.Errorf("memory %s metadata: %w", m.ID, err)
	}
	m.CreatedAt = parseTime(created)
	return &m, nil
}

func (s *Store) FindMemoryByHash(ctx context.Context, agentID, contentHash, sourceURL string) (*models.Memory, error) {
	m, err := scanMemory(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+memoryColumns+` FROM memories WHERE agent_id = ? AND content_hash = ? AND source_url = ?`),
		agentID, contentHash, sourceURL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// InsertMemories relies on the unique dedup index: conflicting rows are
// skipped, which makes concurrent ingestion of identical content safe.
func (s *Store) InsertMemories(ctx context.Context, memories []models.Memory) (int, error) {
	if len(memories) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO memories (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_id, content_hash, source_url) DO NOTHING`))
	if err != nil {
		return 0, fmt.Errorf("prepare memory insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	inserted := 0
	for i := range memories {
		m := &memories[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		emb, _ := json.Marshal(m.Embedding)
		meta, _ := json.Marshal(m.ChunkMetadata)
		res, err := stmt.ExecContext(ctx, m.ID, m.AgentID, m.ContentHash, m.SourceURL, m.Text, string(emb),
			m.ContentVersion, string(m.Source), string(meta), formatTime(m.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("insert memory: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) queryMemories(ctx context.Context, q string, args ...any) ([]models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()
	var out []models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) ListMemories(ctx context.Context, agentID string, limit int) ([]models.Memory, error) {
	q := `SELECT ` + memoryColumns + ` FROM memories WHERE agent_id = ? ORDER BY created_at, id`
	if limit > 0 {
		q += ` LIMIT ` + strconv.Itoa(limit)
	}
	return s.queryMemories(ctx, q, agentID)
}

func (s *Store) CountMemories(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM memories WHERE agent_id = ?`), agentID).Scan(&n)
	return n, err
}

// SearchMemories ranks in process. Vectors are stored as JSON text so the
// same schema runs on both dialects.
func (s *Store) SearchMemories(ctx context.Context, agentID string, vector []float64, topK int) ([]models.ScoredMemory, error) {
	candidates, err := s.queryMemories(ctx, `SELECT `+memoryColumns+` FROM memories WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, err
	}
	return store.RankMemories(candidates, vector, topK), nil
}

func (s *Store) DeleteMemories(ctx context.Context, agentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM memories WHERE agent_id = ?`), agentID)
	if err != nil {
		return 0, fmt.Errorf("delete memories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
