package vectorstore

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

const (
	// DefaultQdrantCollection holds transcript chunks for every video.
	DefaultQdrantCollection = "youtube-rag"

	// textPayloadKey is the payload field holding the chunk text.
	textPayloadKey = "text"
)

// QdrantSearcher implements Searcher over a single Qdrant collection.
type QdrantSearcher struct {
	client     *qdrant.Client
	collection string
}

// QdrantConfig holds connection settings for Qdrant.
type QdrantConfig struct {
	// Addr is the gRPC endpoint in "host:port" form (e.g. "localhost:6334").
	Addr       string
	Collection string
	APIKey     string
	UseTLS     bool
}

// NewQdrantSearcher connects to Qdrant.
func NewQdrantSearcher(cfg QdrantConfig) (*QdrantSearcher, error) {
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		// No port given, use the default gRPC port
		host = cfg.Addr
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = DefaultQdrantCollection
	}

	return &QdrantSearcher{client: client, collection: collection}, nil
}

// Search queries the collection with a dense vector and optional payload filter.
func (s *QdrantSearcher) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Candidate, error) {
	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         qdrantFilter(filter),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]Candidate, 0, len(response))
	for _, point := range response {
		text, metadata := splitPayload(point.GetPayload())
		results = append(results, Candidate{
			Text:     text,
			Metadata: metadata,
			Score:    normalizeScore(float64(point.GetScore())),
		})
	}

	return results, nil
}

// Ping runs the Qdrant health check.
func (s *QdrantSearcher) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantSearcher) Close() error {
	return s.client.Close()
}

// qdrantFilter turns a Filter into keyword match conditions, sorted by key.
func qdrantFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]*qdrant.Condition, 0, len(keys))
	for _, k := range keys {
		must = append(must, qdrant.NewMatch(k, filter[k]))
	}
	return &qdrant.Filter{Must: must}
}

// splitPayload extracts the chunk text and converts the remaining payload
// fields into plain Go values.
func splitPayload(payload map[string]*qdrant.Value) (string, map[string]any) {
	metadata := make(map[string]any, len(payload))
	var text string
	for k, v := range payload {
		if k == textPayloadKey {
			text = v.GetStringValue()
			continue
		}
		if val, ok := payloadValue(v); ok {
			metadata[k] = val
		}
	}
	return text, metadata
}

func payloadValue(v *qdrant.Value) (any, bool) {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue, true
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue, true
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue, true
	case *qdrant.Value_BoolValue:
		return kind.BoolValue, true
	default:
		return nil, false
	}
}

var _ Searcher = (*QdrantSearcher)(nil)
