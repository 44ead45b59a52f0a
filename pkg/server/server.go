// Package server wires the AgentDock components into a runnable service.
//
// The same wiring backs every entry point:
//
//	srv, err := server.New(ctx, cfg)
//	go srv.Worker.Run(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agentoven/agentdock/internal/api"
	"github.com/agentoven/agentdock/internal/api/handlers"
	"github.com/agentoven/agentdock/internal/config"
	"github.com/agentoven/agentdock/internal/connectors"
	"github.com/agentoven/agentdock/internal/dispatch"
	"github.com/agentoven/agentdock/internal/embeddings"
	"github.com/agentoven/agentdock/internal/extract"
	"github.com/agentoven/agentdock/internal/generate"
	"github.com/agentoven/agentdock/internal/ingest"
	"github.com/agentoven/agentdock/internal/lifecycle"
	"github.com/agentoven/agentdock/internal/oauth"
	"github.com/agentoven/agentdock/internal/queue"
	"github.com/agentoven/agentdock/internal/responder"
	"github.com/agentoven/agentdock/internal/secrets"
	"github.com/agentoven/agentdock/internal/store"
	"github.com/agentoven/agentdock/internal/store/sqlstore"
	"github.com/agentoven/agentdock/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized AgentDock service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Store     store.Store
	Queue     queue.Queue
	Worker    *queue.Worker
	Lifecycle *lifecycle.Manager
	Pipeline  *ingest.Pipeline
	Dispatch  *dispatch.Service

	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	shutdownTelemetry func(context.Context) error
}

// New initializes every component from cfg.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := OpenStore(ctx, cfg)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}

	q, err := OpenQueue(ctx, cfg.Queue)
	if err != nil {
		dataStore.Close()
		shutdown(ctx)
		return nil, err
	}
	log.Info().Str("backend", cfg.Queue.Backend).Msg("✅ Job queue initialized")

	httpClient := &http.Client{Timeout: 60 * time.Second}

	registry := embeddings.FromConfig(cfg.AI)
	embedder, err := registry.Embedder(cfg.AI.EmbeddingDriver, cfg.Ingest.EmbedAttempts)
	if err != nil {
		q.Close()
		dataStore.Close()
		shutdown(ctx)
		return nil, err
	}
	go registry.Probe(ctx, cfg.AI.EmbeddingDriver)
	generator := generate.NewRouter(generate.ProvidersFromConfig(cfg.AI), nil)
	log.Info().Msg("✅ Generation router initialized")

	reply := responder.New(dataStore, embedder, generator, cfg.AI.RetrievalTopK, cfg.AI.FallbackReply)

	var transcriber *extract.Transcriber
	if cfg.AI.OpenAIKey != "" {
		transcriber = extract.NewTranscriber(cfg.AI.OpenAIBaseURL, cfg.AI.OpenAIKey, cfg.AI.TranscribeModel, nil)
	}
	pipeline := ingest.New(ingest.Deps{
		Store:      dataStore,
		Queue:      q,
		Parser:     extract.NewParser(transcriber),
		Website:    extract.NewWebsiteFetcher(httpClient, int64(cfg.Ingest.MaxTextBytes)),
		YouTube:    extract.NewYouTubeTranscripts(httpClient, ""),
		Summarizer: generator,
		Embedder:   embedder,
	}, cfg.Ingest)

	conns := connectors.All(connectors.Options{
		Client:        httpClient,
		Responder:     reply,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	disp := dispatch.New(dataStore, conns...)
	manager := lifecycle.New(dataStore, q, disp)
	log.Info().Int("platforms", len(disp.Platforms())).Msg("✅ Connectors registered")

	worker := queue.NewWorker(q, queue.WorkerOptions{
		Concurrency: cfg.Queue.Concurrency,
		MaxAttempts: cfg.Queue.MaxAttempts,
	})
	worker.Handle(queue.TypeDeploymentActivate, manager.Handle)
	worker.Handle(queue.TypeTrainIngest, pipeline.Handle)

	h := &handlers.Handlers{
		Store:     dataStore,
		Lifecycle: manager,
		Pipeline:  pipeline,
		Dispatch:  disp,
		OAuth: oauth.New(oauth.Options{
			Store:         dataStore,
			Config:        cfg.OAuth,
			PublicBaseURL: cfg.PublicBaseURL,
			DashboardURL:  cfg.DashboardURL,
			Client:        httpClient,
		}),
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
	}

	return &Server{
		Handler:           api.NewRouter(cfg, h),
		Store:             dataStore,
		Queue:             q,
		Worker:            worker,
		Lifecycle:         manager,
		Pipeline:          pipeline,
		Dispatch:          disp,
		Config:            cfg,
		Port:              cfg.Port,
		shutdownTelemetry: shutdown,
	}, nil
}

// Close releases the queue, the store and flushes telemetry.
func (s *Server) Close(ctx context.Context) error {
	return errors.Join(
		s.Queue.Close(),
		s.Store.Close(),
		s.shutdownTelemetry(ctx),
	)
}

// OpenStore opens and migrates the configured store.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "memory" {
		s := store.NewMemoryStore(cfg.Database.DataDir)
		log.Info().Str("data_dir", cfg.Database.DataDir).Msg("✅ In-memory store initialized")
		return s, nil
	}

	var sealer *secrets.Sealer
	if cfg.Secrets.Key != "" {
		var err error
		if sealer, err = secrets.NewSealerFromBase64(cfg.Secrets.Key); err != nil {
			return nil, fmt.Errorf("secrets key: %w", err)
		}
	} else {
		log.Warn().Msg("No secrets key configured, deployment credentials are stored unsealed")
	}

	dialect := sqlstore.Postgres
	if cfg.Database.Driver == "sqlite" {
		dialect = sqlstore.SQLite
	}
	s, err := sqlstore.Open(ctx, sqlstore.Options{
		Dialect:        dialect,
		DSN:            cfg.Database.URL,
		MaxConnections: cfg.Database.MaxConnections,
		Sealer:         sealer,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.Database.Driver, err)
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("✅ SQL store initialized")
	return s, nil
}

// OpenQueue connects the configured job queue backend.
func OpenQueue(ctx context.Context, cfg config.QueueConfig) (queue.Queue, error) {
	switch cfg.Backend {
	case "redis":
		q, err := queue.NewRedisQueue(ctx, cfg.RedisAddr, cfg.RedisKey)
		if err != nil {
			return nil, fmt.Errorf("connect redis queue: %w", err)
		}
		return q.WithLease(cfg.RedisLease), nil
	case "kafka":
		return queue.NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup), nil
	default:
		return queue.NewMemoryQueue(0), nil
	}
}
