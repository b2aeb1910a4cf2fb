package rerank

import "context"

// FallbackReranker returns candidates in their existing-similarity
// order, unchanged, with RerankScore set equal to OriginalScore. This
// is what the Query Engine falls back to when the cross-encoder is
// unavailable — same output shape, no re-computation, per spec §4.7/§7.
type FallbackReranker struct{}

var _ Reranker = (*FallbackReranker)(nil)

func NewFallbackReranker() *FallbackReranker { return &FallbackReranker{} }

func (f *FallbackReranker) Rerank(_ context.Context, _ string, candidates []Candidate) ([]Result, error) {
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{
			ChunkID:       c.ChunkID,
			Text:          c.Text,
			OriginalScore: c.OriginalScore,
			RerankScore:   c.OriginalScore,
		}
	}
	return results, nil
}

func (f *FallbackReranker) Available(_ context.Context) bool { return true }

func (f *FallbackReranker) Close() error { return nil }
