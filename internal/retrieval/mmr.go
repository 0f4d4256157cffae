package retrieval

import (
	"fmt"
	"math"

	"github.com/knoguchi/vidqa/internal/textutil"
	"github.com/knoguchi/vidqa/internal/vectorstore"
)

// Diversify selects up to k candidates by Maximal Marginal Relevance.
//
// The first pick is the highest score. Each later pick maximizes
// score - lambda*maxSim, where maxSim is the largest word-set Jaccard
// similarity to an already selected candidate. Ties go to the earliest
// remaining candidate. The result is in selection order.
func Diversify(candidates []vectorstore.Candidate, k int, lambda float64) ([]vectorstore.Candidate, error) {
	if math.IsNaN(lambda) || lambda < 0 || lambda > 1 {
		return nil, fmt.Errorf("diversify: %w (got %v)", ErrInvalidLambda, lambda)
	}
	if k < 0 {
		return nil, fmt.Errorf("diversify: %w (got %d)", ErrInvalidCount, k)
	}
	for i, c := range candidates {
		if math.IsNaN(c.Score) || math.IsInf(c.Score, 0) || c.Score < 0 {
			return nil, fmt.Errorf("diversify candidate %d: %w", i, ErrInvalidScore)
		}
	}
	if len(candidates) == 0 || k == 0 {
		return []vectorstore.Candidate{}, nil
	}

	words := make([]map[string]struct{}, len(candidates))
	for i, c := range candidates {
		words[i] = textutil.WordSet(c.Text)
	}

	// remaining holds indexes into candidates in input order.
	remaining := make([]int, len(candidates))
	for i := range remaining {
		remaining[i] = i
	}

	first := 0
	for pos, idx := range remaining {
		if candidates[idx].Score > candidates[remaining[first]].Score {
			first = pos
		}
	}

	selected := []int{remaining[first]}
	remaining = append(remaining[:first], remaining[first+1:]...)

	for len(selected) < k && len(remaining) > 0 {
		best := 0
		bestScore := math.Inf(-1)
		for pos, idx := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := textutil.Jaccard(words[idx], words[s]); sim > maxSim {
					maxSim = sim
				}
			}
			if score := candidates[idx].Score - lambda*maxSim; score > bestScore {
				best, bestScore = pos, score
			}
		}
		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	out := make([]vectorstore.Candidate, len(selected))
	for i, idx := range selected {
		out[i] = candidates[idx]
	}
	return out, nil
}
