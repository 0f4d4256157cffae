package reranker

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/knoguchi/vidqa/internal/llm"
	"github.com/knoguchi/vidqa/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func texts(items []Ranked) []string {
	out := make([]string, len(items))
	for i, r := range items {
		out[i] = r.Text
	}
	return out
}

func TestKeyword_Rerank_AlphaExample(t *testing.T) {
	candidates := []vectorstore.Candidate{
		{Text: "alpha beta", Score: 0.9},
		{Text: "gamma delta", Score: 0.5},
		{Text: "alpha gamma", Score: 0.7},
	}

	got, err := NewKeyword().Rerank(context.Background(), "alpha", candidates)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha beta", "alpha gamma", "gamma delta"}, texts(got))
	assert.InDelta(t, 0.93, got[0].RerankScore, 1e-9)
	assert.InDelta(t, 0.79, got[1].RerankScore, 1e-9)
	assert.InDelta(t, 0.35, got[2].RerankScore, 1e-9)
	for _, r := range got {
		assert.True(t, r.Reranked)
	}

	// inputs are untouched
	assert.Equal(t, "gamma delta", candidates[1].Text)
}

func TestKeyword_Rerank_StableOnTies(t *testing.T) {
	candidates := []vectorstore.Candidate{
		{Text: "one", Score: 0.4},
		{Text: "two", Score: 0.8},
		{Text: "three", Score: 0.4},
		{Text: "four", Score: 0.4},
	}

	got, err := NewKeyword().Rerank(context.Background(), "unrelated", candidates)
	require.NoError(t, err)

	assert.Equal(t, []string{"two", "one", "three", "four"}, texts(got))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].RerankScore, got[i].RerankScore)
	}
}

func TestKeyword_Rerank_EmptyQueryScoresZeroKeyword(t *testing.T) {
	got, err := NewKeyword().Rerank(context.Background(), "   ", []vectorstore.Candidate{{Text: "alpha", Score: 1}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.7, got[0].RerankScore, 1e-9)
}

func TestKeyword_Rerank_CaseInsensitive(t *testing.T) {
	got, err := NewKeyword().Rerank(context.Background(), "Goroutine SCHEDULER", []vectorstore.Candidate{
		{Text: "the goroutine scheduler parks", Score: 0},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, got[0].RerankScore, 1e-9)
}

func TestKeyword_Rerank_Failures(t *testing.T) {
	_, err := NewKeyword().Rerank(context.Background(), "q", []vectorstore.Candidate{{Text: "x", Score: math.NaN()}})
	assert.ErrorIs(t, err, ErrNonFiniteScore)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewKeyword().Rerank(ctx, "q", []vectorstore.Candidate{{Text: "x", Score: 0.1}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyword_WithWeights(t *testing.T) {
	got, err := NewKeyword(WithWeights(0.5, 0.5)).Rerank(context.Background(), "a b", []vectorstore.Candidate{{Text: "a", Score: 0.2}})
	require.NoError(t, err)
	assert.InDelta(t, 0.35, got[0].RerankScore, 1e-9)
}

func TestPassthrough(t *testing.T) {
	candidates := []vectorstore.Candidate{{Text: "b", Score: 0.1}, {Text: "a", Score: 0.9}}
	got := Passthrough(candidates)

	assert.Equal(t, []string{"b", "a"}, texts(got))
	assert.Equal(t, 0.1, got[0].RerankScore)
	assert.False(t, got[0].Reranked)
}

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	args := m.Called(ctx, prompt, opts)
	return args.String(0), args.Error(1)
}

func (m *mockLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	args := m.Called(ctx, prompt, opts)
	return nil, args.Error(1)
}

func TestLLMReranker_Rerank(t *testing.T) {
	m := new(mockLLM)
	m.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return("```json\n{\"scores\": [{\"doc_index\": 0, \"score\": 0.2}, {\"doc_index\": 1, \"score\": 1.4}]}\n```", nil)

	got, err := NewLLMReranker(m).Rerank(context.Background(), "q", []vectorstore.Candidate{
		{Text: "first", Score: 0.9},
		{Text: "second", Score: 0.1},
		{Text: "third", Score: 0.5},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"second", "third", "first"}, texts(got))
	assert.Equal(t, 1.0, got[0].RerankScore)
	assert.Equal(t, 0.5, got[1].RerankScore)
	m.AssertExpectations(t)
}

func TestLLMReranker_Failures(t *testing.T) {
	candidates := []vectorstore.Candidate{{Text: "first", Score: 0.9}}

	m := new(mockLLM)
	m.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("timeout")).Once()
	m.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("not json", nil).Once()

	r := NewLLMReranker(m)
	_, err := r.Rerank(context.Background(), "q", candidates)
	assert.ErrorContains(t, err, "timeout")

	_, err = r.Rerank(context.Background(), "q", candidates)
	assert.ErrorIs(t, err, ErrUnparseableScores)
}

func TestLLMReranker_Empty(t *testing.T) {
	got, err := NewLLMReranker(new(mockLLM)).Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
