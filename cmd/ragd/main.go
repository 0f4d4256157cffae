package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/vidqa/internal/answer"
	"github.com/knoguchi/vidqa/internal/config"
	"github.com/knoguchi/vidqa/internal/embedder"
	"github.com/knoguchi/vidqa/internal/llm"
	"github.com/knoguchi/vidqa/internal/reranker"
	"github.com/knoguchi/vidqa/internal/retrieval"
	"github.com/knoguchi/vidqa/internal/server"
	"github.com/knoguchi/vidqa/internal/service"
	"github.com/knoguchi/vidqa/internal/telemetry"
	"github.com/knoguchi/vidqa/internal/vectorstore"
)

// version is set at build time via ldflags
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    cfg.OTelServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Error("failed to flush telemetry", "error", err)
		}
	}()

	logger := telemetry.NewLogger(os.Stdout, telemetry.ParseLevel(cfg.LogLevel), cfg.OTelServiceName, cfg.OTelEnabled)
	slog.SetDefault(logger)

	logger.Info("starting question answering service",
		"version", version,
		"grpc_port", cfg.GRPCPort,
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"vector_backend", cfg.VectorBackend,
		"reranker", cfg.Reranker,
	)

	app, err := service.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to close backend", "error", err)
		}
	}()

	grpcServer := server.NewGRPCServer(server.GRPCServerConfig{
		Port:   cfg.GRPCPort,
		Logger: logger,
		Ready:  app.Ready,
	})

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
		TopK:           cfg.TopK,
		MaxTopK:        cfg.MaxTopK,
	}, server.Dependencies{
		Retriever: app.Pipeline,
		Index:     app.Index,
		Generator: app.Generator,
		Memory:    app.Memory,
		Ready:     app.Ready,
	})

	// Start servers
	errCh := make(chan error, 2)

	go func() {
		if err := grpcServer.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("gRPC server shutdown: %w", err))
	}

	logger.Info("servers stopped")
	return errors.Join(errs...)
}

// Ensure interfaces are satisfied at compile time
var (
	_ vectorstore.VectorIndex = (*vectorstore.EmbeddingIndex)(nil)
	_ vectorstore.Searcher    = (*vectorstore.QdrantSearcher)(nil)
	_ vectorstore.Searcher    = (*vectorstore.PgvectorSearcher)(nil)
	_ embedder.Embedder       = (*embedder.OllamaEmbedder)(nil)
	_ embedder.Embedder       = (*embedder.Cached)(nil)
	_ llm.LLM                 = (*llm.OllamaClient)(nil)
	_ reranker.Reranker       = (*reranker.Keyword)(nil)
	_ reranker.Reranker       = (*reranker.LLMReranker)(nil)
	_ server.Retriever        = (*retrieval.Pipeline)(nil)
	_ server.Generator        = (*answer.Generator)(nil)
)
