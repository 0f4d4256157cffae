// Package retrieval turns a question into a small, diverse, length-bounded
// set of transcript chunks for the answer generator.
//
// The pipeline runs plan → collect → diversify → rerank → compress. Early
// stages fail to an empty result; refinement stages forward their input
// unchanged when they fail. Every run reports the outcome of each stage so
// callers can tell "no data" apart from "stage failed, data forwarded".
package retrieval

import (
	"errors"

	"github.com/knoguchi/vidqa/internal/reranker"
)

var (
	// ErrInvalidLambda is returned for a diversity weight outside [0,1].
	ErrInvalidLambda = errors.New("lambda must be within [0,1]")
	// ErrInvalidCount is returned for a negative selection size.
	ErrInvalidCount = errors.New("selection size must not be negative")
	// ErrInvalidScore is returned for a NaN, infinite or negative candidate score.
	ErrInvalidScore = errors.New("candidate score must be finite and non-negative")
	// ErrInvalidBudget is returned for a non-positive context budget.
	ErrInvalidBudget = errors.New("context budget must be positive")
	// ErrAllVariantsFailed is returned when every query variant search failed.
	ErrAllVariantsFailed = errors.New("all query variants failed")
)

// Chunk is a context record handed to the answer generator.
type Chunk struct {
	reranker.Ranked
	// Compressed marks a chunk whose text was cut to fit the budget.
	Compressed bool `json:"compressed"`
}

// Stage names a pipeline step.
type Stage string

const (
	StageCollect   Stage = "collect"
	StageDiversify Stage = "diversify"
	StageRerank    Stage = "rerank"
	StageCompress  Stage = "compress"
)

// Outcome describes how a stage finished.
type Outcome string

const (
	// OutcomeOK means the stage ran and produced output.
	OutcomeOK Outcome = "ok"
	// OutcomeEmpty means the stage ran and had nothing to produce.
	OutcomeEmpty Outcome = "empty"
	// OutcomeDegraded means the stage failed and its input was forwarded unchanged.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeFailed means the stage failed and the run ended with no chunks.
	OutcomeFailed Outcome = "failed"
)

// StageReport records one stage of a run.
type StageReport struct {
	Stage   Stage   `json:"stage"`
	Outcome Outcome `json:"outcome"`
	In      int     `json:"in"`
	Out     int     `json:"out"`
	Err     string  `json:"error,omitempty"`
}

// Result is the output of a retrieval run.
type Result struct {
	RetrievalID string        `json:"retrieval_id"`
	Chunks      []Chunk       `json:"chunks"`
	Stages      []StageReport `json:"stages"`
}

// Empty reports whether the run produced no chunks.
func (r Result) Empty() bool {
	return len(r.Chunks) == 0
}

// Degraded reports whether any stage failed.
func (r Result) Degraded() bool {
	for _, s := range r.Stages {
		if s.Outcome == OutcomeDegraded || s.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}
