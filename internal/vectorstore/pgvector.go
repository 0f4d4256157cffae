package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// DefaultPgvectorTable is the table holding transcript chunk embeddings.
// Expected columns: text TEXT, metadata JSONB, embedding VECTOR(n).
const DefaultPgvectorTable = "transcript_chunks"

// PoolConfig holds tunable parameters for the PostgreSQL connection pool.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPgxPool creates a PostgreSQL connection pool with pgvector types registered.
func NewPgxPool(ctx context.Context, databaseURL string, poolCfg PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	if poolCfg.MaxConns > 0 {
		config.MaxConns = poolCfg.MaxConns
	}
	config.MinConns = 2
	if poolCfg.MinConns > 0 {
		config.MinConns = poolCfg.MinConns
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// PgvectorSearcher implements Searcher with cosine distance over a pgvector column.
type PgvectorSearcher struct {
	pool  *pgxpool.Pool
	query string
}

// NewPgvectorSearcher creates a searcher over table (DefaultPgvectorTable when empty).
func NewPgvectorSearcher(pool *pgxpool.Pool, table string) *PgvectorSearcher {
	if table == "" {
		table = DefaultPgvectorTable
	}
	return &PgvectorSearcher{
		pool:  pool,
		query: searchQuery(table),
	}
}

func searchQuery(table string) string {
	return fmt.Sprintf(`
		SELECT text, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE metadata @> $2::jsonb
		ORDER BY embedding <=> $1
		LIMIT $3
	`, pgx.Identifier{table}.Sanitize())
}

// Search runs a nearest-neighbour query. Filter pairs are matched with JSONB containment.
func (s *PgvectorSearcher) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Candidate, error) {
	filterJSON, err := filterDocument(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, s.query, pgvector.NewVector(vector), filterJSON, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var results []Candidate
	for rows.Next() {
		var (
			text         string
			metadataJSON []byte
			score        float64
		)
		if err := rows.Scan(&text, &metadataJSON, &score); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}

		metadata := map[string]any{}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		delete(metadata, textPayloadKey)

		results = append(results, Candidate{
			Text:     text,
			Metadata: metadata,
			Score:    normalizeScore(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search rows: %w", err)
	}

	return results, nil
}

// Ping checks database connectivity.
func (s *PgvectorSearcher) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PgvectorSearcher) Close() error {
	s.pool.Close()
	return nil
}

// filterDocument renders a filter as a JSONB containment document.
// An empty filter becomes {} which every row contains.
func filterDocument(filter Filter) (string, error) {
	if len(filter) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(filter))
	if err != nil {
		return "", fmt.Errorf("failed to marshal filter: %w", err)
	}
	return string(b), nil
}

var _ Searcher = (*PgvectorSearcher)(nil)
