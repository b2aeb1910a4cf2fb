package rerank

import (
	"context"
	"log/slog"
)

// WithFallback wraps primary so that Rerank degrades to fallback
// whenever the cross-encoder is unavailable, matching spec §7's
// "reranker failure -> fallback reranker" degradation policy.
type WithFallback struct {
	primary  Reranker
	fallback Reranker
	logger   *slog.Logger
}

var _ Reranker = (*WithFallback)(nil)

func NewWithFallback(primary, fallback Reranker, logger *slog.Logger) *WithFallback {
	if fallback == nil {
		fallback = NewFallbackReranker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WithFallback{primary: primary, fallback: fallback, logger: logger}
}

func (w *WithFallback) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Result, error) {
	if w.primary == nil || !w.primary.Available(ctx) {
		w.logger.Debug("reranker_degraded", slog.String("reason", "primary_unavailable"))
		return w.fallback.Rerank(ctx, query, candidates)
	}
	results, err := w.primary.Rerank(ctx, query, candidates)
	if err != nil {
		w.logger.Debug("reranker_degraded", slog.String("reason", err.Error()))
		return w.fallback.Rerank(ctx, query, candidates)
	}
	return results, nil
}

func (w *WithFallback) Available(ctx context.Context) bool { return true }

func (w *WithFallback) Close() error {
	if w.primary != nil {
		_ = w.primary.Close()
	}
	return w.fallback.Close()
}
