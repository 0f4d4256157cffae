package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/knoguchi/vidqa/internal/reranker"
	"github.com/knoguchi/vidqa/internal/vectorstore"
)

const (
	// DefaultTopK is the number of chunks returned when the caller asks for none.
	DefaultTopK = 6
	// DefaultMaxTopK caps the chunk count a caller may request.
	DefaultMaxTopK = 50
	// DefaultLambda weighs novelty against relevance during diversification.
	DefaultLambda = 0.3
	// DefaultCandidateFactor multiplies topK to size the diversified pool.
	DefaultCandidateFactor = 2
	// DefaultFanout bounds concurrent variant searches.
	DefaultFanout = 4
	// DefaultSearchTimeout bounds a single vector search.
	DefaultSearchTimeout = 10 * time.Second

	mmrSearchFactor = 3
	tracerName      = "github.com/knoguchi/vidqa/internal/retrieval"
)

// Pipeline composes planning, collection, diversification, reranking and
// compression. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	index     vectorstore.VectorIndex
	planner   *Planner
	reranker  reranker.Reranker
	logger    *slog.Logger
	tracer    trace.Tracer
	lambda    float64
	factor    int
	maxLength int
	topK      int
	maxTopK   int
	fanout    int
	timeout   time.Duration
	collector *Collector
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPlanner sets the query planner.
func WithPlanner(p *Planner) Option {
	return func(pl *Pipeline) { pl.planner = p }
}

// WithReranker sets the reranker. The default is reranker.NewKeyword().
func WithReranker(r reranker.Reranker) Option {
	return func(pl *Pipeline) { pl.reranker = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(pl *Pipeline) { pl.logger = l }
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(pl *Pipeline) { pl.tracer = t }
}

// WithLambda sets the MMR diversity weight.
func WithLambda(lambda float64) Option {
	return func(pl *Pipeline) { pl.lambda = lambda }
}

// WithCandidateFactor sets how many candidates per requested chunk survive
// diversification.
func WithCandidateFactor(n int) Option {
	return func(pl *Pipeline) { pl.factor = n }
}

// WithMaxContextLength sets the character budget of the final context.
func WithMaxContextLength(n int) Option {
	return func(pl *Pipeline) { pl.maxLength = n }
}

// WithDefaultTopK sets the chunk count used when callers pass topK <= 0.
func WithDefaultTopK(n int) Option {
	return func(pl *Pipeline) {
		if n > 0 {
			pl.topK = n
		}
	}
}

// WithMaxTopK caps the requested chunk count. Larger requests are clamped.
func WithMaxTopK(n int) Option {
	return func(pl *Pipeline) {
		if n > 0 {
			pl.maxTopK = n
		}
	}
}

// WithFanout bounds concurrent variant searches.
func WithFanout(n int) Option {
	return func(pl *Pipeline) { pl.fanout = n }
}

// WithSearchTimeout bounds each vector search.
func WithSearchTimeout(d time.Duration) Option {
	return func(pl *Pipeline) { pl.timeout = d }
}

// New creates a pipeline over index.
func New(index vectorstore.VectorIndex, opts ...Option) *Pipeline {
	p := &Pipeline{
		index:     index,
		planner:   NewPlanner(),
		reranker:  reranker.NewKeyword(),
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		lambda:    DefaultLambda,
		factor:    DefaultCandidateFactor,
		maxLength: DefaultMaxContextLength,
		topK:      DefaultTopK,
		maxTopK:   DefaultMaxTopK,
		fanout:    DefaultFanout,
		timeout:   DefaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.topK > p.maxTopK {
		p.topK = p.maxTopK
	}
	if p.factor < 1 {
		p.factor = DefaultCandidateFactor
	}
	p.collector = NewCollector(index, p.fanout, p.timeout, p.logger)
	return p
}

// RetrieveAndRank runs the full pipeline and returns at most topK chunks.
// topK is capped at MaxTopK.
// It never returns an error: failures are visible in Result.Stages.
func (p *Pipeline) RetrieveAndRank(ctx context.Context, query string, filter vectorstore.Filter, topK int) Result {
	topK = p.clampTopK(topK)

	id := uuid.NewString()
	ctx, span := p.tracer.Start(ctx, "retrieval.RetrieveAndRank",
		trace.WithAttributes(
			attribute.String("retrieval.id", id),
			attribute.Int("retrieval.top_k", topK),
		))
	defer span.End()

	start := time.Now()
	log := p.logger.With(slog.String("retrieval_id", id))
	res := Result{RetrievalID: id, Chunks: []Chunk{}}

	q := p.planner.Normalize(query, "")
	variants := p.planner.Expand(q)
	log.DebugContext(ctx, "retrieval_started",
		slog.Int("variants", len(variants)),
		slog.Int("top_k", topK))

	candidates, err := runStage(ctx, p, log, &res, StageCollect, len(variants), func(ctx context.Context) ([]vectorstore.Candidate, error) {
		return p.collector.Collect(ctx, variants, topK, filter)
	})
	if err != nil || len(candidates) == 0 {
		p.finish(ctx, log, res, start)
		return res
	}

	diversified, err := runStage(ctx, p, log, &res, StageDiversify, len(candidates), func(ctx context.Context) ([]vectorstore.Candidate, error) {
		return Diversify(candidates, topK*p.factor, p.lambda)
	})
	if err != nil {
		p.finish(ctx, log, res, start)
		return res
	}

	ranked, err := runStage(ctx, p, log, &res, StageRerank, len(diversified), func(ctx context.Context) ([]reranker.Ranked, error) {
		return p.reranker.Rerank(ctx, q, diversified)
	})
	if err != nil {
		ranked = reranker.Passthrough(diversified)
	}

	chunks, err := runStage(ctx, p, log, &res, StageCompress, len(ranked), func(ctx context.Context) ([]Chunk, error) {
		return Compress(ranked, p.maxLength)
	})
	if err != nil {
		chunks = wrapChunks(ranked)
	}

	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	res.Chunks = chunks
	p.finish(ctx, log, res, start)
	return res
}

// RetrieveWithMMR runs one search for 3*topK candidates and diversifies
// them to topK with the given lambda. Any failure yields an empty slice.
func (p *Pipeline) RetrieveWithMMR(ctx context.Context, query string, topK int, lambda float64) []vectorstore.Candidate {
	topK = p.clampTopK(topK)

	ctx, span := p.tracer.Start(ctx, "retrieval.RetrieveWithMMR")
	defer span.End()

	candidates, err := p.collector.Collect(ctx, []string{p.planner.Normalize(query, "")}, topK*mmrSearchFactor, nil)
	if err != nil {
		p.logger.WarnContext(ctx, "mmr_search_failed", slog.String("error", err.Error()))
		span.RecordError(err)
		return []vectorstore.Candidate{}
	}

	out, err := Diversify(candidates, topK, lambda)
	if err != nil {
		p.logger.WarnContext(ctx, "mmr_diversify_failed", slog.String("error", err.Error()))
		span.RecordError(err)
		return []vectorstore.Candidate{}
	}
	return out
}

// MaxTopK reports the largest chunk count a single request may ask for.
func (p *Pipeline) MaxTopK() int {
	return p.maxTopK
}

// clampTopK maps non-positive requests to the default and caps the rest.
func (p *Pipeline) clampTopK(topK int) int {
	if topK <= 0 {
		return p.topK
	}
	return min(topK, p.maxTopK)
}

// runStage runs fn inside a span, converts panics to errors and appends the
// stage report. Collect and diversify failures are terminal; rerank and
// compress failures are degraded.
func runStage[T any](ctx context.Context, p *Pipeline, log *slog.Logger, res *Result, stage Stage, in int, fn func(context.Context) (T, error)) (out T, err error) {
	ctx, span := p.tracer.Start(ctx, "retrieval."+string(stage))
	defer span.End()

	started := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s stage panicked: %v", stage, r)
			}
		}()
		out, err = fn(ctx)
	}()

	report := StageReport{Stage: stage, In: in, Out: length(out)}
	switch {
	case err != nil && (stage == StageRerank || stage == StageCompress):
		report.Outcome = OutcomeDegraded
		report.Out = in
		report.Err = err.Error()
	case err != nil:
		report.Outcome = OutcomeFailed
		report.Out = 0
		report.Err = err.Error()
	case report.Out == 0:
		report.Outcome = OutcomeEmpty
	default:
		report.Outcome = OutcomeOK
	}
	res.Stages = append(res.Stages, report)

	span.SetAttributes(
		attribute.String("retrieval.outcome", string(report.Outcome)),
		attribute.Int("retrieval.in", report.In),
		attribute.Int("retrieval.out", report.Out),
	)
	attrs := []any{
		slog.String("stage", string(stage)),
		slog.String("outcome", string(report.Outcome)),
		slog.Int("in", report.In),
		slog.Int("out", report.Out),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WarnContext(ctx, "retrieval_stage_failed", append(attrs, slog.String("error", err.Error()))...)
	} else {
		log.DebugContext(ctx, "retrieval_stage_completed", attrs...)
	}
	return out, err
}

func length(v any) int {
	switch s := v.(type) {
	case []vectorstore.Candidate:
		return len(s)
	case []reranker.Ranked:
		return len(s)
	case []Chunk:
		return len(s)
	}
	return 0
}

func (p *Pipeline) finish(ctx context.Context, log *slog.Logger, res Result, start time.Time) {
	log.InfoContext(ctx, "retrieval_completed",
		slog.Int("chunks", len(res.Chunks)),
		slog.Bool("degraded", res.Degraded()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
}
