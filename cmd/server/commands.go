package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentoven/agentdock/internal/config"
	"github.com/agentoven/agentdock/pkg/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// version can be overridden at build time via -ldflags "-X main.version=1.2.3".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "agentdock",
	Short:         "Deploy trained agents to Slack, Discord, Telegram and more",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with an in-process worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		noWorker, _ := cmd.Flags().GetBool("no-worker")
		return runServe(!noWorker)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job worker only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy <deployment-id>",
	Short: "Activate a deployment now, bypassing the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeploy(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("agentdock", version)
	},
}

func init() {
	serveCmd.Flags().Bool("no-worker", false, "do not process jobs in this process")
	rootCmd.AddCommand(serveCmd, workerCmd, deployCmd, versionCmd)
}

// ── Setup ───────────────────────────────────────────────────

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if version != "dev" {
		cfg.Version = version
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ── Commands ────────────────────────────────────────────────

func runServe(withWorker bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info().Str("version", cfg.Version).Msg("🚢 AgentDock starting...")

	ctx, stop := signalContext()
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer srv.Close(context.Background())

	workerDone := make(chan struct{})
	if withWorker {
		go func() {
			defer close(workerDone)
			srv.Worker.Run(ctx)
		}()
	} else {
		close(workerDone)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Int("port", srv.Port).
		Str("public_url", cfg.PublicBaseURL).
		Bool("worker", withWorker).
		Msg("⚓ AgentDock is ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	<-workerDone
	return nil
}

func runWorker() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Queue.Backend == "memory" {
		log.Warn().Msg("Memory queue is process-local; a standalone worker only sees its own jobs")
	}

	ctx, stop := signalContext()
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize worker: %w", err)
	}
	defer srv.Close(context.Background())

	log.Info().Str("backend", cfg.Queue.Backend).Int("concurrency", cfg.Queue.Concurrency).Msg("⚙️ Worker running")
	srv.Worker.Run(ctx)
	return nil
}

func runDeploy(id string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer srv.Close(context.Background())

	d, err := srv.Lifecycle.DeployNow(ctx, id)
	if err != nil {
		return err
	}
	log.Info().Str("deployment", d.ID).Str("platform", string(d.Platform)).Str("status", string(d.Status)).Msg("Deployment activated")
	return nil
}
