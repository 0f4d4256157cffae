// Package service wires configuration into the retrieval pipeline, answer
// generator and session memory shared by the daemon and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/knoguchi/vidqa/internal/answer"
	"github.com/knoguchi/vidqa/internal/config"
	"github.com/knoguchi/vidqa/internal/embedder"
	"github.com/knoguchi/vidqa/internal/llm"
	"github.com/knoguchi/vidqa/internal/memory"
	"github.com/knoguchi/vidqa/internal/reranker"
	"github.com/knoguchi/vidqa/internal/retrieval"
	"github.com/knoguchi/vidqa/internal/vectorstore"
)

// App holds the long-lived collaborators built from a Config. Every handle
// is constructed once here and passed explicitly to its consumers.
type App struct {
	Index     *vectorstore.EmbeddingIndex
	Pipeline  *retrieval.Pipeline
	Generator *answer.Generator
	Memory    *memory.Store

	searcher vectorstore.Searcher
}

// New connects to the configured vector backend and builds the pipeline.
// Session memory expires idle sessions until ctx is done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	searcher, err := NewSearcher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to vector backend", "backend", cfg.VectorBackend)

	embed, err := NewEmbedder(cfg)
	if err != nil {
		_ = searcher.Close()
		return nil, err
	}
	logger.Info("initialized Ollama embedder",
		"model", embed.ModelName(),
		"dimension", embed.Dimension(),
		"cache_size", cfg.EmbedCacheSize,
	)

	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)
	logger.Info("initialized Ollama LLM", "model", cfg.OllamaLLMModel)

	index := vectorstore.NewEmbeddingIndex(embed, searcher, logger)

	return &App{
		Index:     index,
		Pipeline:  NewPipeline(cfg, index, llmClient, logger),
		Generator: answer.NewGenerator(llmClient, answer.WithModel(cfg.OllamaLLMModel), answer.WithLogger(logger)),
		Memory:    memory.NewStore(ctx, cfg.MemoryMaxMessages, cfg.MemoryTTL),
		searcher:  searcher,
	}, nil
}

// NewSearcher opens the backend selected by VECTOR_BACKEND.
func NewSearcher(ctx context.Context, cfg *config.Config) (vectorstore.Searcher, error) {
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		s, err := vectorstore.NewQdrantSearcher(vectorstore.QdrantConfig{
			Addr:       cfg.QdrantGRPCURL,
			Collection: cfg.QdrantCollection,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantUseTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		return s, nil
	case config.BackendPgvector:
		pool, err := vectorstore.NewPgxPool(ctx, cfg.DatabaseURL, vectorstore.PoolConfig{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return vectorstore.NewPgvectorSearcher(pool, cfg.PgvectorTable), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

// NewEmbedder builds the Ollama embedder, behind an LRU cache unless
// EMBED_CACHE_SIZE is 0.
func NewEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	var e embedder.Embedder = embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
	if cfg.EmbedCacheSize == 0 {
		return e, nil
	}
	cached, err := embedder.NewCached(e, cfg.EmbedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return cached, nil
}

// NewReranker returns the reranker selected by RERANKER.
func NewReranker(cfg *config.Config, llmClient llm.LLM) reranker.Reranker {
	if cfg.Reranker == config.RerankerLLM {
		return reranker.NewLLMReranker(llmClient, reranker.WithModel(cfg.OllamaLLMModel))
	}
	return reranker.NewKeyword()
}

// NewPipeline builds the retrieval pipeline over index from retrieval settings.
func NewPipeline(cfg *config.Config, index vectorstore.VectorIndex, llmClient llm.LLM, logger *slog.Logger) *retrieval.Pipeline {
	return retrieval.New(index,
		retrieval.WithPlanner(retrieval.NewPlanner(cfg.ExtraQueries...)),
		retrieval.WithReranker(NewReranker(cfg, llmClient)),
		retrieval.WithLogger(logger),
		retrieval.WithLambda(cfg.MMRLambda),
		retrieval.WithMaxContextLength(cfg.MaxContext),
		retrieval.WithDefaultTopK(cfg.TopK),
		retrieval.WithMaxTopK(cfg.MaxTopK),
		retrieval.WithFanout(cfg.Fanout),
		retrieval.WithSearchTimeout(cfg.SearchTimeout),
	)
}

// Ready reports whether the vector backend answers.
func (a *App) Ready(ctx context.Context) error {
	return a.Index.Ping(ctx)
}

// Close releases the vector backend connection.
func (a *App) Close() error {
	var errs []error
	if a.searcher != nil {
		if err := a.searcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close vector backend: %w", err))
		}
	}
	return errors.Join(errs...)
}
