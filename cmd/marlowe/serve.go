package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/longregen/marlowe/internal/config"
	"github.com/longregen/marlowe/internal/convctx"
	"github.com/longregen/marlowe/internal/degradation"
	"github.com/longregen/marlowe/internal/memory"
	"github.com/longregen/marlowe/internal/orchestrator"
	"github.com/longregen/marlowe/internal/server"
	"github.com/longregen/marlowe/internal/store"
	"github.com/longregen/marlowe/internal/tools"
	"github.com/longregen/marlowe/internal/tools/builtin"
	"github.com/longregen/marlowe/shared/llm"
	"github.com/longregen/marlowe/shared/preferences"
	"github.com/longregen/marlowe/shared/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant server",
		Long: `Start the Marlowe server: HTTP API, websocket transport, and
Prometheus metrics.

Required configuration:
  - PostgreSQL with pgvector (MARLOWE_DATABASE_URL)
  - OpenAI-compatible LLM endpoint (MARLOWE_LLM_BASE_URL)

Optional:
  - Fallback provider (MARLOWE_SECONDARY_BASE_URL)
  - Websocket auth (MARLOWE_AUTH_TOKEN)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	cfg := config.Load()

	slog.Info("starting marlowe server", "addr", cfg.ListenAddr, "llm", cfg.LLMBaseURL, "model", cfg.LLMModel)

	if cfg.TraceStdout {
		shutdown, err := tracing.InitTracer("marlowe")
		if err != nil {
			slog.Warn("tracing init failed", "error", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					slog.Error("tracer shutdown failed", "error", err)
				}
			}()
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	slog.Info("database connection established")

	st := store.New(pool)
	defaults := preferences.Get()

	primary := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey,
		llm.WithModel(cfg.LLMModel),
		llm.WithEmbeddingModel(cfg.EmbeddingModel),
		llm.WithMaxTokens(defaults.MaxTokens),
	)
	primaryChat := orchestrator.NewOpenAIChat(primary)

	var secondaryChat orchestrator.ChatClient
	if cfg.HasSecondary() {
		secondary := llm.NewClient(cfg.SecondaryBaseURL, cfg.SecondaryAPIKey,
			llm.WithModel(cfg.SecondaryModel),
			llm.WithMaxTokens(defaults.MaxTokens),
		)
		secondaryChat = orchestrator.NewOpenAIChat(secondary)
		slog.Info("secondary provider configured", "url", cfg.SecondaryBaseURL)
	}

	retriever := memory.NewRetriever(st, primaryChat, defaults.MemorySimilarityThreshold, defaults.MemoryRetrievalCount)
	recorder := memory.NewRecorder(st, primaryChat, defaults.PromotionMinLength)
	prefs := convctx.NewPreferencesStore()
	builder := convctx.NewBuilder(prefs, retriever, st)

	registry := tools.NewRegistry()
	if err := builtin.RegisterAll(registry, retriever, prefs); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}
	registry.Seal()
	slog.Info("tool registry sealed", "tools", registry.Len())

	engine := tools.NewEngine(registry)
	selector := tools.NewSelector(registry, defaults.PrefilterMaxTools)

	orch := orchestrator.New(orchestrator.Config{
		Primary:   primaryChat,
		Secondary: secondaryChat,
		Engine:    engine,
		Selector:  selector,
		Builder:   builder,
		Tracker:   retriever,
		Recorder:  recorder,
		Turns:     st,
		Prefs:     prefs,
	})

	queue := degradation.NewQueue(cfg.QueueCapacity)
	degr := degradation.NewManager(queue, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	go degr.Run(ctx)

	// The server owns the model path, so provider reachability doubles as
	// the connection signal.
	degr.ReportConnected()

	srv := server.New(server.Config{
		Addr:         cfg.ListenAddr,
		AuthToken:    cfg.AuthToken,
		Orchestrator: orch,
		Store:        st,
		Recorder:     recorder,
		Degradation:  degr,
	})

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.ListenAddr)
		serverErrors <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		slog.Info("shutting down", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		slog.Info("server stopped")
		return nil
	}
}
