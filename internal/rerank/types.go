// Package rerank implements spec C7: cross-encoder relevance re-scoring
// of a candidate result list, with a same-shape fallback when the
// cross-encoder is unavailable.
package rerank

import "context"

// Candidate is one (text, original-score) pair to be re-scored.
type Candidate struct {
	ChunkID       string
	Text          string
	OriginalScore float64
}

// Result adds RerankScore to a Candidate while preserving
// OriginalScore, per spec §4.7.
type Result struct {
	ChunkID       string
	Text          string
	OriginalScore float64
	RerankScore   float64
}

// Reranker re-scores (query, text) pairs and returns them ordered by
// descending RerankScore.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Result, error)
	Available(ctx context.Context) bool
	Close() error
}

const (
	// DefaultBatchSize bounds memory for the (query, text) pair batches
	// a cross-encoder provider processes per round trip.
	DefaultBatchSize = 32
)
