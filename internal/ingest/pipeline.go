// Package ingest implements the training pipeline: it resolves raw text
// from one source, chunks it, deduplicates chunks by content hash, embeds
// them and stores them as agent memory.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentoven/agentdock/internal/config"
	"github.com/agentoven/agentdock/internal/errs"
	"github.com/agentoven/agentdock/internal/extract"
	"github.com/agentoven/agentdock/internal/queue"
	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/internal/telemetry"
	"github.com/agentoven/agentdock/pkg/contracts"
	"github.com/agentoven/agentdock/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Progress milestones.
const (
	progressResolved = 10
	progressChunked  = 95
	progressDone     = 100
)

// Summarizer produces free-form text from a prompt. Used when a video has
// no transcript.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// TrainPayload is the payload of queue.TypeTrainIngest.
type TrainPayload struct {
	JobID   string              `json:"jobId"`
	Request models.TrainRequest `json:"request"`
}

// Deps are the collaborators of the pipeline.
type Deps struct {
	Store      store.Store
	Queue      queue.Queue
	Parser     contracts.Extractor
	Website    contracts.Fetcher
	YouTube    contracts.Fetcher
	Summarizer Summarizer
	Embedder   contracts.Embedder
}

// Pipeline runs training jobs.
type Pipeline struct {
	Deps
	cfg     config.IngestConfig
	chunker Chunker
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates a pipeline.
func New(deps Deps, cfg config.IngestConfig) *Pipeline {
	if cfg.FileConcurrency <= 0 {
		cfg.FileConcurrency = 4
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = 50 << 20
	}
	return &Pipeline{
		Deps:    deps,
		cfg:     cfg,
		chunker: Chunker{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		tracer:  telemetry.Tracer("ingest"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ── Submission ──────────────────────────────────────────────

// Submit validates a training request, records a queued job and enqueues it.
// userID, when set, must own the agent.
func (p *Pipeline) Submit(ctx context.Context, userID string, req models.TrainRequest) (*models.TrainJob, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	agent, err := p.Store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if userID != "" && agent.UserID != userID {
		return nil, &errs.NotFoundError{Entity: "agent", Key: req.AgentID}
	}

	now := p.now()
	job := &models.TrainJob{
		JobID:     uuid.NewString(),
		AgentID:   agent.ID,
		UserID:    agent.UserID,
		Source:    req.Source,
		Status:    models.TrainQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.Store.CreateTrainJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create train job: %w", err)
	}

	// An agent with no memory yet is not answerable until this job finishes.
	if n, err := p.Store.CountMemories(ctx, agent.ID); err == nil && n == 0 && agent.Status != models.AgentTraining {
		if err := p.Store.UpdateAgentStatus(ctx, agent.ID, models.AgentTraining); err != nil {
			return nil, err
		}
	}

	qj, err := queue.NewJob(queue.TypeTrainIngest, TrainPayload{JobID: job.JobID, Request: req})
	if err == nil {
		err = p.Queue.Enqueue(ctx, qj)
	}
	if err != nil {
		p.fail(ctx, job, &errs.IngestionError{Source: string(req.Source), Reason: "could not enqueue job"})
		return nil, fmt.Errorf("enqueue train job: %w", err)
	}

	log.Info().
		Str("job", job.JobID).
		Str("agent", agent.ID).
		Str("source", string(req.Source)).
		Msg("Training job queued")
	return job, nil
}

// validate enforces exactly one source channel matching req.Source.
func validate(req *models.TrainRequest) error {
	src, ok := models.ParseSource(string(req.Source))
	if !ok {
		return &errs.IngestionError{Source: string(req.Source), Reason: "unknown source"}
	}
	req.Source = src
	if strings.TrimSpace(req.AgentID) == "" {
		return &errs.IngestionError{Source: string(src), Reason: "agentId is required"}
	}

	hasText := strings.TrimSpace(req.Text) != ""
	hasURL := len(req.URLs) > 0
	hasFiles := len(req.Files) > 0

	switch src {
	case models.SourceText:
		if !hasText || hasURL || hasFiles {
			return &errs.IngestionError{Source: string(src), Reason: "text source requires text only"}
		}
	case models.SourceWebsite, models.SourceYouTube:
		if len(req.URLs) != 1 || strings.TrimSpace(req.URLs[0]) == "" || hasText || hasFiles {
			return &errs.IngestionError{Source: string(src), Reason: "url source requires exactly one url"}
		}
	default:
		if !hasFiles || hasText || hasURL {
			return &errs.IngestionError{Source: string(src), Reason: "file source requires at least one file"}
		}
	}
	return nil
}

// ── Execution ───────────────────────────────────────────────

// Handle is the queue handler for queue.TypeTrainIngest.
func (p *Pipeline) Handle(ctx context.Context, job *queue.Job) error {
	var payload TrainPayload
	if err := job.Decode(&payload); err != nil {
		return backoff.Permanent(err)
	}
	err := p.Run(ctx, payload.JobID, payload.Request)
	if errs.IsNotFound(err) {
		return backoff.Permanent(err)
	}
	return err
}

// resolved is the raw text of one job before chunking.
type resolved struct {
	text      string
	sourceURL string
	metadata  map[string]any
	warning   string
}

// Run executes a queued job. Job-level failures are recorded on the job
// and return nil; only storage failures are returned so the job is retried.
func (p *Pipeline) Run(ctx context.Context, jobID string, req models.TrainRequest) error {
	job, err := p.Store.GetTrainJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		log.Debug().Str("job", jobID).Str("status", string(job.Status)).Msg("Training job already finished, skipping redelivery")
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "ingest.run",
		trace.WithAttributes(
			attribute.String("job.id", job.JobID),
			attribute.String("agent.id", job.AgentID),
			attribute.String("source", string(job.Source)),
		))
	defer span.End()

	job.Status = models.TrainProcessing
	if err := p.save(ctx, job); err != nil {
		return err
	}

	res, err := p.resolve(ctx, job, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return p.fail(ctx, job, err)
	}
	job.Warning = res.warning

	truncated := false
	if len(res.text) > p.cfg.MaxTextBytes {
		res.text = truncateUTF8(res.text, p.cfg.MaxTextBytes)
		truncated = true
		log.Warn().Str("job", job.JobID).Int("limit", p.cfg.MaxTextBytes).Msg("Training text truncated")
	}

	chunks := p.chunker.Split(res.text)
	if len(chunks) == 0 {
		return p.fail(ctx, job, &errs.IngestionError{Source: string(job.Source), Reason: "no chunks created"})
	}
	// A redelivered job replays every chunk, so counters restart while
	// persisted progress never moves backwards.
	job.TotalChunks = len(chunks)
	job.ChunksProcessed = 0
	job.SuccessCount = 0
	job.ErrorCount = 0
	job.SkippedCount = 0
	job.Progress = max(job.Progress, progressResolved)
	if err := p.save(ctx, job); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("chunks.total", len(chunks)))

	var (
		staged   []models.Memory
		seen     = make(map[string]bool, len(chunks))
		degraded int
	)
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		hash := ContentHash(c.Text)

		existing, err := p.Store.FindMemoryByHash(ctx, job.AgentID, hash, res.sourceURL)
		switch {
		case err != nil:
			log.Warn().Str("job", job.JobID).Int("chunk", c.Index).Err(err).Msg("Duplicate check failed")
			job.ErrorCount++
		case existing != nil || seen[hash]:
			job.SkippedCount++
		default:
			emb := p.Embedder.Embed(ctx, c.Text)
			if emb.Degraded {
				degraded++
			}
			seen[hash] = true
			staged = append(staged, models.Memory{
				ID:             uuid.NewString(),
				AgentID:        job.AgentID,
				Text:           c.Text,
				Embedding:      emb.Vector,
				ContentHash:    hash,
				ContentVersion: 1,
				Source:         job.Source,
				SourceURL:      res.sourceURL,
				ChunkMetadata:  models.ChunkMetadata{Index: c.Index, Total: c.Total},
				CreatedAt:      p.now(),
			})
			job.SuccessCount++
		}

		job.ChunksProcessed = i + 1
		job.Progress = max(job.Progress, progressResolved+(progressChunked-progressResolved)*(i+1)/len(chunks))
		if err := p.save(ctx, job); err != nil {
			return err
		}
	}

	result := &models.TrainResult{
		Source:         job.Source,
		SourceURL:      res.sourceURL,
		SourceMetadata: res.metadata,
		Truncated:      truncated,
		Degraded:       degraded,
	}

	switch {
	case len(staged) == 0 && job.SkippedCount > 0 && job.ErrorCount == 0:
		result.Message = "No new content: every chunk was already trained"
		result.Skipped = job.SkippedCount
	case len(staged) == 0:
		return p.fail(ctx, job, &errs.IngestionError{
			Source:  string(job.Source),
			Reason:  "no chunks could be processed",
			Details: map[string]any{"errorCount": job.ErrorCount},
		})
	default:
		inserted, err := p.Store.InsertMemories(ctx, staged)
		if err != nil {
			return fmt.Errorf("insert memories: %w", err)
		}
		// A concurrent job may have stored the same chunks first.
		if lost := len(staged) - inserted; lost > 0 {
			job.SkippedCount += lost
			job.SuccessCount -= lost
		}
		result.Message = "Training completed"
		result.Inserted = inserted
		result.Skipped = job.SkippedCount
	}

	if err := p.Store.UpdateAgentStatus(ctx, job.AgentID, models.AgentTrained); err != nil {
		return err
	}

	completed := p.now()
	job.Status = models.TrainCompleted
	job.Progress = progressDone
	job.Result = result
	job.CompletedAt = &completed
	if err := p.save(ctx, job); err != nil {
		return err
	}

	log.Info().
		Str("job", job.JobID).
		Str("agent", job.AgentID).
		Int("inserted", result.Inserted).
		Int("skipped", result.Skipped).
		Int("degraded", degraded).
		Msg("Training job completed")
	return nil
}

func (p *Pipeline) save(ctx context.Context, job *models.TrainJob) error {
	job.UpdatedAt = p.now()
	if err := p.Store.UpdateTrainJob(ctx, job); err != nil {
		return fmt.Errorf("update train job %s: %w", job.JobID, err)
	}
	return nil
}

// fail marks the job failed. An agent that has never trained becomes failed;
// one that already has memory stays trained.
func (p *Pipeline) fail(ctx context.Context, job *models.TrainJob, cause error) error {
	detail := &models.TrainError{Error: cause.Error(), Source: job.Source}
	var ie *errs.IngestionError
	if errors.As(cause, &ie) {
		detail.Error = ie.Reason
		detail.Details = ie.Details
	}

	completed := p.now()
	job.Status = models.TrainFailed
	job.Error = detail
	job.CompletedAt = &completed
	if err := p.save(ctx, job); err != nil {
		return err
	}

	if n, err := p.Store.CountMemories(ctx, job.AgentID); err == nil && n == 0 {
		if err := p.Store.UpdateAgentStatus(ctx, job.AgentID, models.AgentFailed); err != nil && !errs.IsNotFound(err) {
			return err
		}
	}

	log.Warn().
		Str("job", job.JobID).
		Str("agent", job.AgentID).
		Str("source", string(job.Source)).
		Err(cause).
		Msg("Training job failed")
	return nil
}

// ── Source resolution ───────────────────────────────────────

func (p *Pipeline) resolve(ctx context.Context, job *models.TrainJob, req models.TrainRequest) (resolved, error) {
	switch req.Source {
	case models.SourceText:
		return resolved{text: req.Text, metadata: map[string]any{"characters": utf8.RuneCountInString(req.Text)}}, nil
	case models.SourceWebsite:
		return p.resolveWebsite(ctx, req.URLs[0])
	case models.SourceYouTube:
		return p.resolveYouTube(ctx, req.URLs[0])
	default:
		return p.resolveFiles(ctx, job, req.Files)
	}
}

func (p *Pipeline) resolveWebsite(ctx context.Context, url string) (resolved, error) {
	if p.Website == nil {
		return resolved{}, &errs.IngestionError{Source: string(models.SourceWebsite), Reason: "website crawling is not configured"}
	}
	ex, err := p.Website.Fetch(ctx, url)
	if err != nil {
		return resolved{}, &errs.IngestionError{
			Source:  string(models.SourceWebsite),
			Reason:  "could not crawl website",
			Details: map[string]any{"url": url, "cause": err.Error()},
		}
	}
	return resolved{text: ex.Text, sourceURL: url, metadata: ex.Metadata}, nil
}

// resolveYouTube uses the transcript, falling back to a generated summary
// when captions are disabled or empty.
func (p *Pipeline) resolveYouTube(ctx context.Context, url string) (resolved, error) {
	src := string(models.SourceYouTube)
	if p.YouTube != nil {
		ex, err := p.YouTube.Fetch(ctx, url)
		if err == nil && strings.TrimSpace(ex.Text) != "" {
			return resolved{text: ex.Text, sourceURL: url, metadata: ex.Metadata}, nil
		}
		if err != nil && !errors.Is(err, extract.ErrTranscriptUnavailable) {
			log.Warn().Str("url", url).Err(err).Msg("Transcript fetch failed, falling back to summary")
		}
	}
	if p.Summarizer == nil {
		return resolved{}, &errs.IngestionError{Source: src, Reason: "transcript unavailable", Details: map[string]any{"url": url}}
	}

	summary, err := p.Summarizer.Summarize(ctx, fmt.Sprintf(
		"Write a detailed, factual summary of the YouTube video at %s. Cover its main topics and key points.", url))
	if err != nil || strings.TrimSpace(summary) == "" {
		details := map[string]any{"url": url}
		if err != nil {
			details["cause"] = err.Error()
		}
		return resolved{}, &errs.IngestionError{Source: src, Reason: "transcript unavailable and summary failed", Details: details}
	}
	return resolved{
		text:      summary,
		sourceURL: url,
		metadata:  map[string]any{"url": url, "fallback": "summary"},
		warning:   "Transcript unavailable; trained on a generated summary",
	}, nil
}

// resolveFiles parses uploads concurrently. The job fails only when every
// file fails; partial failures become a warning.
func (p *Pipeline) resolveFiles(ctx context.Context, job *models.TrainJob, files []models.TrainFile) (resolved, error) {
	src := string(job.Source)
	texts := make([]string, len(files))
	failures := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.FileConcurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			declared := f.FileType
			if declared == "" {
				declared = f.Name
			}
			if job.Source == models.SourceAudio || job.Source == models.SourceVideo {
				if k := extract.Kind(declared); k != "audio" && k != "video" {
					declared = string(job.Source)
				}
			}
			ex, err := p.Parser.Parse(gctx, f.Data, declared)
			if err != nil {
				failures[i] = fmt.Sprintf("%s: %v", f.Name, err)
				log.Warn().Str("job", job.JobID).Str("file", f.Name).Err(err).Msg("File extraction failed")
				return nil
			}
			texts[i] = ex.Text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return resolved{}, err
	}

	var (
		parts  []string
		failed []string
		names  []string
	)
	for i, f := range files {
		if failures[i] != "" {
			failed = append(failed, failures[i])
			continue
		}
		parts = append(parts, texts[i])
		names = append(names, f.Name)
	}
	if ctx.Err() != nil {
		return resolved{}, ctx.Err()
	}
	if len(parts) == 0 {
		return resolved{}, &errs.IngestionError{
			Source:  src,
			Reason:  "all files failed to process",
			Details: map[string]any{"failures": failed},
		}
	}

	res := resolved{
		text:     strings.Join(parts, "\n\n"),
		metadata: map[string]any{"files": names, "fileCount": len(files)},
	}
	if len(failed) > 0 {
		res.warning = fmt.Sprintf("%d of %d files failed: %s", len(failed), len(files), strings.Join(failed, "; "))
		res.metadata["failures"] = failed
	}
	return res, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
