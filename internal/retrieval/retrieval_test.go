package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/knoguchi/vidqa/internal/reranker"
	"github.com/knoguchi/vidqa/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeIndex answers searches from a per-query table.
type fakeIndex struct {
	mu      sync.Mutex
	results map[string][]vectorstore.Candidate
	errs    map[string]error
	delay   map[string]time.Duration
	calls   []string
	topKs   []int
}

func (f *fakeIndex) SimilaritySearch(ctx context.Context, query string, topK int, filter vectorstore.Filter) ([]vectorstore.Candidate, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	f.topKs = append(f.topKs, topK)
	d := f.delay[query]
	f.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return f.results[query], nil
}

type failingIndex struct{}

func (failingIndex) SimilaritySearch(context.Context, string, int, vectorstore.Filter) ([]vectorstore.Candidate, error) {
	return nil, errors.New("connection refused")
}

type panickingIndex struct{}

func (panickingIndex) SimilaritySearch(context.Context, string, int, vectorstore.Filter) ([]vectorstore.Candidate, error) {
	panic("nil client")
}

func cand(text string, score float64) vectorstore.Candidate {
	return vectorstore.Candidate{Text: text, Score: score}
}

func candidateTexts(cs []vectorstore.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Text
	}
	return out
}

func chunkTexts(cs []Chunk) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Text
	}
	return out
}

func ranked(lengths ...int) []reranker.Ranked {
	out := make([]reranker.Ranked, len(lengths))
	for i, n := range lengths {
		out[i] = reranker.Ranked{Candidate: cand(strings.Repeat(string(rune('a'+i)), n), 0.5)}
	}
	return out
}

// Planner

func TestPlanner_NormalizeIsIdentity(t *testing.T) {
	p := NewPlanner()
	for _, q := range []string{"", "  What is Go? ", "ünïcode"} {
		assert.Equal(t, q, p.Normalize(q, "previous turn"))
	}
}

func TestPlanner_Expand(t *testing.T) {
	assert.Equal(t, []string{"what is go"}, NewPlanner().Expand("what is go"))

	p := NewPlanner("summary", " ", "what is go", "summary", "key points ")
	assert.Equal(t, []string{"what is go", "summary", "key points"}, p.Expand("what is go"))
}

// Collector

func TestCollector_MergesInVariantOrder(t *testing.T) {
	idx := &fakeIndex{
		results: map[string][]vectorstore.Candidate{
			"a": {cand("a1", 0.1), cand("a2", 0.2)},
			"b": {cand("b1", 0.9)},
			"c": {cand("a1", 0.1)},
		},
		delay: map[string]time.Duration{"a": 30 * time.Millisecond},
	}

	got, err := NewCollector(idx, 3, time.Second, discardLogger()).Collect(context.Background(), []string{"a", "b", "c"}, 5, nil)
	require.NoError(t, err)

	// duplicates across variants survive
	assert.Equal(t, []string{"a1", "a2", "b1", "a1"}, candidateTexts(got))
}

func TestCollector_SkipsFailedVariants(t *testing.T) {
	idx := &fakeIndex{
		results: map[string][]vectorstore.Candidate{"b": {cand("b1", 0.9)}},
		errs:    map[string]error{"a": errors.New("timeout")},
	}

	got, err := NewCollector(idx, 1, 0, discardLogger()).Collect(context.Background(), []string{"a", "b", "c"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, candidateTexts(got))
	assert.Equal(t, []string{"a", "b", "c"}, idx.calls)
}

func TestCollector_TotalFailure(t *testing.T) {
	_, err := NewCollector(failingIndex{}, 2, 0, discardLogger()).Collect(context.Background(), []string{"a", "b"}, 5, nil)
	assert.ErrorIs(t, err, ErrAllVariantsFailed)
	assert.ErrorContains(t, err, "connection refused")

	_, err = NewCollector(panickingIndex{}, 2, 0, discardLogger()).Collect(context.Background(), []string{"a"}, 5, nil)
	assert.ErrorIs(t, err, ErrAllVariantsFailed)
}

func TestCollector_PerSearchTimeout(t *testing.T) {
	idx := &fakeIndex{
		results: map[string][]vectorstore.Candidate{"slow": {cand("s", 1)}, "fast": {cand("f", 1)}},
		delay:   map[string]time.Duration{"slow": time.Second},
	}

	got, err := NewCollector(idx, 2, 20*time.Millisecond, discardLogger()).Collect(context.Background(), []string{"slow", "fast"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, candidateTexts(got))
}

func TestCollector_EmptyIsNotFailure(t *testing.T) {
	got, err := NewCollector(&fakeIndex{}, 2, 0, discardLogger()).Collect(context.Background(), []string{"a"}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCollector_HugeTopKDoesNotPreallocate(t *testing.T) {
	idx := &fakeIndex{results: map[string][]vectorstore.Candidate{"a": {cand("a1", 0.5)}, "b": {cand("b1", 0.4)}}}

	got, err := NewCollector(idx, 2, 0, discardLogger()).Collect(context.Background(), []string{"a", "b"}, math.MaxInt, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "b1"}, candidateTexts(got))
}

// Diversifier

func TestDiversify_Empty(t *testing.T) {
	got, err := Diversify(nil, 5, 0.3)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Diversify([]vectorstore.Candidate{cand("a", 1)}, 0, 0.3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDiversify_FirstPickIsMaxScoreFirstOccurrence(t *testing.T) {
	candidates := []vectorstore.Candidate{
		cand("low", 0.2),
		cand("top one", 0.9),
		cand("top two", 0.9),
	}

	got, err := Diversify(candidates, 1, 0.3)
	require.NoError(t, err)
	assert.Equal(t, []string{"top one"}, candidateTexts(got))
}

func TestDiversify_PrefersNovelty(t *testing.T) {
	candidates := []vectorstore.Candidate{
		cand("go channels and goroutines", 0.90),
		cand("go channels and goroutines explained", 0.85),
		cand("garbage collector pauses", 0.70),
	}

	// lambda 0 is pure relevance
	got, err := Diversify(candidates, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"go channels and goroutines", "go channels and goroutines explained"}, candidateTexts(got))

	// near-duplicate: 0.85 - 1.0*0.8 = 0.05 < 0.70
	got, err = Diversify(candidates, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"go channels and goroutines",
		"garbage collector pauses",
		"go channels and goroutines explained",
	}, candidateTexts(got))
}

func TestDiversify_TieGoesToEarliestRemaining(t *testing.T) {
	candidates := []vectorstore.Candidate{
		cand("x y", 0.5),
		cand("first", 0.4),
		cand("second", 0.4),
	}

	got, err := Diversify(candidates, 2, 0.3)
	require.NoError(t, err)
	assert.Equal(t, []string{"x y", "first"}, candidateTexts(got))
}

func TestDiversify_SizeAndIdentityBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"}

	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(12)
		candidates := make([]vectorstore.Candidate, n)
		for i := range candidates {
			var sb strings.Builder
			for j := 0; j < 1+rng.Intn(4); j++ {
				sb.WriteString(words[rng.Intn(len(words))] + " ")
			}
			// unique suffix gives every candidate a distinct identity
			candidates[i] = cand(fmt.Sprintf("%sid%d", sb.String(), i), rng.Float64())
		}
		k := rng.Intn(15)
		lambda := rng.Float64()

		got, err := Diversify(candidates, k, lambda)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), min(k, n))

		seen := map[string]bool{}
		for _, c := range got {
			assert.False(t, seen[c.Text], "candidate selected twice")
			seen[c.Text] = true
		}

		if len(got) > 0 {
			best := candidates[0]
			for _, c := range candidates[1:] {
				if c.Score > best.Score {
					best = c
				}
			}
			assert.Equal(t, best.Text, got[0].Text)
		}
	}
}

func TestDiversify_DoesNotMutateInput(t *testing.T) {
	candidates := []vectorstore.Candidate{cand("b", 0.1), cand("a", 0.9), cand("c", 0.5)}
	_, err := Diversify(candidates, 3, 0.3)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, candidateTexts(candidates))
}

func TestDiversify_InvalidInput(t *testing.T) {
	ok := []vectorstore.Candidate{cand("a", 0.5)}

	_, err := Diversify(ok, 3, 1.5)
	assert.ErrorIs(t, err, ErrInvalidLambda)
	_, err = Diversify(ok, 3, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidLambda)
	_, err = Diversify(ok, -1, 0.3)
	assert.ErrorIs(t, err, ErrInvalidCount)
	_, err = Diversify([]vectorstore.Candidate{cand("a", math.Inf(1))}, 3, 0.3)
	assert.ErrorIs(t, err, ErrInvalidScore)
	_, err = Diversify([]vectorstore.Candidate{cand("a", -0.1)}, 3, 0.3)
	assert.ErrorIs(t, err, ErrInvalidScore)
}

// Compressor

func TestCompress_FitsUnchanged(t *testing.T) {
	items := ranked(500, 700, 800)

	got, err := Compress(items, DefaultMaxContextLength)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, c := range got {
		assert.False(t, c.Compressed)
		assert.Equal(t, items[i].Text, c.Text)
	}
}

func TestCompress_TruncatesFirstOverflow(t *testing.T) {
	// 1800 + 50 fits, so the 2000-character item is the first overflow
	// with 150 characters left.
	got, err := Compress(ranked(1800, 50, 2000), 2000)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.False(t, got[0].Compressed)
	assert.False(t, got[1].Compressed)
	assert.True(t, got[2].Compressed)
	assert.Equal(t, strings.Repeat("c", 150)+"...", got[2].Text)
}

// Processing stops at the first overflow even when a later item would fit.
// Kept for compatibility with the existing context builder.
func TestCompress_FirstOverflowStopsProcessing(t *testing.T) {
	got, err := Compress(ranked(1800, 250, 20), 2000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, strings.Repeat("b", 200)+"...", got[1].Text)
	assert.True(t, got[1].Compressed)

	// remaining 50 is too small to truncate into; the 10-character item is never tried
	got, err = Compress(ranked(1950, 200, 10), 2000)
	require.NoError(t, err)
	assert.Equal(t, []string{strings.Repeat("a", 1950)}, chunkTexts(got))
}

func TestCompress_CountsCharactersNotBytes(t *testing.T) {
	items := []reranker.Ranked{{Candidate: cand(strings.Repeat("é", 150), 1)}}

	got, err := Compress(items, 150)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Compressed)
}

func TestCompress_DoesNotMutateInput(t *testing.T) {
	items := ranked(1000, 1500)
	_, err := Compress(items, 2000)
	require.NoError(t, err)
	assert.Len(t, items[1].Text, 1500)
}

func TestCompress_InvalidBudget(t *testing.T) {
	_, err := Compress(ranked(10), 0)
	assert.ErrorIs(t, err, ErrInvalidBudget)
}

// Pipeline

type failingReranker struct{}

func (failingReranker) Rerank(context.Context, string, []vectorstore.Candidate) ([]reranker.Ranked, error) {
	return nil, errors.New("model unavailable")
}

type panickingReranker struct{}

func (panickingReranker) Rerank(context.Context, string, []vectorstore.Candidate) ([]reranker.Ranked, error) {
	panic("boom")
}

func outcomes(res Result) map[Stage]Outcome {
	out := map[Stage]Outcome{}
	for _, s := range res.Stages {
		out[s.Stage] = s.Outcome
	}
	return out
}

func TestPipeline_FailingIndexReturnsEmpty(t *testing.T) {
	res := New(failingIndex{}, WithLogger(discardLogger())).RetrieveAndRank(context.Background(), "q", nil, 6)

	assert.NotNil(t, res.Chunks)
	assert.Empty(t, res.Chunks)
	assert.NotEmpty(t, res.RetrievalID)
	require.Len(t, res.Stages, 1)
	assert.Equal(t, OutcomeFailed, res.Stages[0].Outcome)
	assert.Contains(t, res.Stages[0].Err, "connection refused")
	assert.True(t, res.Degraded())
}

func TestPipeline_NoCandidates(t *testing.T) {
	res := New(&fakeIndex{}, WithLogger(discardLogger())).RetrieveAndRank(context.Background(), "q", nil, 6)

	assert.True(t, res.Empty())
	assert.False(t, res.Degraded())
	assert.Equal(t, map[Stage]Outcome{StageCollect: OutcomeEmpty}, outcomes(res))
}

func TestPipeline_RetrieveAndRank(t *testing.T) {
	idx := &fakeIndex{results: map[string][]vectorstore.Candidate{
		"alpha": {
			cand("alpha beta", 0.9),
			cand("gamma delta", 0.5),
			cand("alpha gamma", 0.7),
		},
	}}

	res := New(idx, WithLogger(discardLogger())).RetrieveAndRank(context.Background(), "alpha", vectorstore.VideoFilter("vid"), 2)

	assert.Equal(t, []string{"alpha beta", "alpha gamma"}, chunkTexts(res.Chunks))
	assert.InDelta(t, 0.93, res.Chunks[0].RerankScore, 1e-9)
	assert.Equal(t, map[Stage]Outcome{
		StageCollect:   OutcomeOK,
		StageDiversify: OutcomeOK,
		StageRerank:    OutcomeOK,
		StageCompress:  OutcomeOK,
	}, outcomes(res))
	assert.Equal(t, []int{2}, idx.topKs)
	assert.False(t, res.Degraded())
}

func TestPipeline_DiversifyPoolIsTwiceTopK(t *testing.T) {
	var cs []vectorstore.Candidate
	for i := 0; i < 10; i++ {
		cs = append(cs, cand(fmt.Sprintf("chunk %d", i), 0.5))
	}
	idx := &fakeIndex{results: map[string][]vectorstore.Candidate{"q": cs}}

	res := New(idx, WithLogger(discardLogger())).RetrieveAndRank(context.Background(), "q", nil, 3)

	require.Len(t, res.Stages, 4)
	assert.Equal(t, 6, res.Stages[1].Out)
	assert.Len(t, res.Chunks, 3)
}

func TestPipeline_RerankFailurePassesThrough(t *testing.T) {
	idx := &fakeIndex{results: map[string][]vectorstore.Candidate{
		"q": {cand("b", 0.4), cand("a", 0.9)},
	}}

	for name, r := range map[string]reranker.Reranker{"error": failingReranker{}, "panic": panickingReranker{}} {
		t.Run(name, func(t *testing.T) {
			res := New(idx, WithLogger(discardLogger()), WithReranker(r)).RetrieveAndRank(context.Background(), "q", nil, 6)

			// diversified order, unsorted by rerank score
			assert.Equal(t, []string{"a", "b"}, chunkTexts(res.Chunks))
			assert.False(t, res.Chunks[0].Reranked)
			assert.Equal(t, OutcomeDegraded, outcomes(res)[StageRerank])
			assert.Equal(t, OutcomeOK, outcomes(res)[StageCompress])
		})
	}
}

func TestPipeline_CompressFailurePassesThrough(t *testing.T) {
	idx := &fakeIndex{results: map[string][]vectorstore.Candidate{"q": {cand(strings.Repeat("x", 5000), 0.9)}}}

	res := New(idx, WithLogger(discardLogger()), WithMaxContextLength(0)).RetrieveAndRank(context.Background(), "q", nil, 6)

	require.Len(t, res.Chunks, 1)
	assert.Len(t, res.Chunks[0].Text, 5000)
	assert.False(t, res.Chunks[0].Compressed)
	assert.Equal(t, OutcomeDegraded, outcomes(res)[StageCompress])
}

func TestPipeline_DiversifyFailureReturnsEmpty(t *testing.T) {
	idx := &fakeIndex{results: map[string][]vectorstore.Candidate{"q": {cand("a", 0.9)}}}

	res := New(idx, WithLogger(discardLogger()), WithLambda(2)).RetrieveAndRank(context.Background(), "q", nil, 6)

	assert.Empty(t, res.Chunks)
	assert.Equal(t, OutcomeFailed, outcomes(res)[StageDiversify])
	assert.NotContains(t, outcomes(res), StageRerank)
}

func TestPipeline_DefaultTopK(t *testing.T) {
	idx := &fakeIndex{}
	New(idx, WithLogger(discardLogger()), WithDefaultTopK(4)).RetrieveAndRank(context.Background(), "q", nil, 0)
	assert.Equal(t, []int{4}, idx.topKs)
}

func TestPipeline_ClampsTopK(t *testing.T) {
	idx := &fakeIndex{results: map[string][]vectorstore.Candidate{"q": {cand("only", 0.9)}}}
	p := New(idx, WithLogger(discardLogger()), WithMaxTopK(20))
	require.Equal(t, 20, p.MaxTopK())

	for _, topK := range []int{21, 1 << 40, math.MaxInt} {
		res := p.RetrieveAndRank(context.Background(), "q", nil, topK)
		assert.Equal(t, []string{"only"}, chunkTexts(res.Chunks))
		assert.False(t, res.Degraded())
	}
	assert.Equal(t, []int{20, 20, 20}, idx.topKs)

	idx.topKs = nil
	got := p.RetrieveWithMMR(context.Background(), "q", math.MaxInt, 0.5)
	assert.Equal(t, []string{"only"}, candidateTexts(got))
	assert.Equal(t, []int{60}, idx.topKs)
}

func TestPipeline_DefaultTopKCappedByMax(t *testing.T) {
	idx := &fakeIndex{}
	p := New(idx, WithLogger(discardLogger()), WithDefaultTopK(30), WithMaxTopK(10))
	p.RetrieveAndRank(context.Background(), "q", nil, 0)
	assert.Equal(t, []int{10}, idx.topKs)
	assert.Equal(t, DefaultMaxTopK, New(idx).MaxTopK())
}

func TestPipeline_RetrieveWithMMR(t *testing.T) {
	idx := &fakeIndex{results: map[string][]vectorstore.Candidate{
		"q": {cand("a b", 0.9), cand("a b c", 0.8), cand("d e", 0.7)},
	}}
	p := New(idx, WithLogger(discardLogger()))

	got := p.RetrieveWithMMR(context.Background(), "q", 2, 1)
	assert.Equal(t, []string{"a b", "d e"}, candidateTexts(got))
	assert.Equal(t, []int{6}, idx.topKs)

	assert.Empty(t, New(failingIndex{}, WithLogger(discardLogger())).RetrieveWithMMR(context.Background(), "q", 2, 0.5))
	assert.Empty(t, p.RetrieveWithMMR(context.Background(), "q", 2, -1))
}
