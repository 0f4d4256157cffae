package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/vidqa/internal/vectorstore"
)

// Collector runs one similarity search per query variant and merges the
// results in variant order.
type Collector struct {
	index   vectorstore.VectorIndex
	fanout  int
	timeout time.Duration
	logger  *slog.Logger
}

// NewCollector creates a collector. fanout bounds concurrent searches
// (values below 1 mean sequential); timeout bounds each search (0 disables).
func NewCollector(index vectorstore.VectorIndex, fanout int, timeout time.Duration, logger *slog.Logger) *Collector {
	if fanout < 1 {
		fanout = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{index: index, fanout: fanout, timeout: timeout, logger: logger}
}

// Collect concatenates the candidates of every variant in variant order.
// Variants that fail or find nothing are skipped. The error is non-nil only
// when every variant failed.
func (c *Collector) Collect(ctx context.Context, variants []string, topK int, filter vectorstore.Filter) ([]vectorstore.Candidate, error) {
	if len(variants) == 0 {
		return []vectorstore.Candidate{}, nil
	}

	results := make([][]vectorstore.Candidate, len(variants))
	errs := make([]error, len(variants))

	g := new(errgroup.Group)
	g.SetLimit(c.fanout)
	for i, variant := range variants {
		g.Go(func() error {
			results[i], errs[i] = c.search(ctx, variant, topK, filter)
			return nil
		})
	}
	_ = g.Wait()

	merged := []vectorstore.Candidate{}
	failed := 0
	var lastErr error
	for i, err := range errs {
		if err != nil {
			failed++
			lastErr = err
			c.logger.WarnContext(ctx, "variant_search_failed",
				slog.Int("variant", i),
				slog.String("error", err.Error()))
			continue
		}
		merged = append(merged, results[i]...)
	}

	if failed == len(variants) {
		return nil, fmt.Errorf("%w: %w", ErrAllVariantsFailed, lastErr)
	}
	return merged, nil
}

func (c *Collector) search(ctx context.Context, query string, topK int, filter vectorstore.Filter) (out []vectorstore.Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("vector search panicked: %v", r)
		}
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.index.SimilaritySearch(ctx, query, topK, filter)
}
