package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ariavoice/aria/internal/agent"
	"github.com/ariavoice/aria/internal/asr"
	"github.com/ariavoice/aria/internal/frames"
	"github.com/ariavoice/aria/internal/gateway"
	"github.com/ariavoice/aria/internal/llm"
	"github.com/ariavoice/aria/internal/media"
	"github.com/ariavoice/aria/internal/orchestrator"
	"github.com/ariavoice/aria/internal/server"
	"github.com/ariavoice/aria/internal/store"
	"github.com/ariavoice/aria/internal/tools"
	"github.com/ariavoice/aria/internal/tts"
	"github.com/ariavoice/aria/internal/vision"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant server",
		Long: `Start the Aria server: the session channel endpoint, the login
and face management API, and the background frame jobs.

Required configuration:
  - PostgreSQL (DATABASE_DSN)
  - JWT signing secret (JWT_SECRET)

Optional:
  - LLM endpoint (DEFAULT_LLM_URL)
  - TTS provider (DEFAULT_TTS_PROVIDER, TTS_URL)
  - ASR service (ASR_URL, ASR_MODEL_PATH, ASR_DEVICE)
  - Media index (MEDIA_INDEX_URL)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("server mode requires a signing secret. Set JWT_SECRET")
	}

	if cfg.Otel.Enabled {
		shutdown, err := server.InitTracer()
		if err != nil {
			slog.Warn("tracing init failed", "error", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					slog.Warn("tracer shutdown", "error", err)
				}
			}()
		}
	}

	pool, err := store.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	st := store.New(pool)
	slog.Info("database connected")

	if err := server.SeedAdmin(ctx, st, cfg.LLM.DefaultURL, cfg.Auth.AdminPassword); err != nil {
		return err
	}

	llmClient := llm.New(cfg.LLM.DefaultURL, cfg.LLM.APIKey, cfg.LLM.StreamTimeout)
	ttsClient := tts.New(cfg.TTS.Provider, cfg.TTS.URL, cfg.TTS.ChunkTimeout)
	asrClient := asr.New(cfg.ASR.URL, cfg.ASR.ModelPath, cfg.ASR.Device)

	approvals := tools.NewApprovalBroker()
	registry := tools.NewRegistry(st, approvals)
	runtime := agent.NewRuntime(st, registry, llmClient, ttsClient)
	orch := orchestrator.New(st, runtime)
	frameManager := frames.NewManager(st, llmClient, cfg.Frames.IdleThreshold)

	gw := gateway.New(cfg, st, frameManager, runtime, orch, approvals,
		llmClient, asrClient,
		vision.NewHTTPDetector(cfg.Vision.URL),
		media.NewIndexClient(cfg.Media.IndexURL))

	checks := map[string]server.HealthCheck{
		"llm": llmClient.Health,
		"tts": ttsClient.Health,
		"asr": asrClient.Health,
		"mcp": func(ctx context.Context) error {
			_, err := st.CountMCPServers(ctx)
			return err
		},
	}
	srv := server.New(cfg, st, pool, gw, checks)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	}
}
