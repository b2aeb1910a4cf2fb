package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ragcore/ragcore/internal/analyze"
	"github.com/ragcore/ragcore/internal/telemetry"
)

// aggregationTermPrompt asks the LLM Gateway for the distinct search
// terms an aggregation query should be counted over, per spec §4.9
// "the engine derives a set of search terms for the entity type from
// the LLM Gateway".
const aggregationTermPrompt = `List the distinct values of %q that should each be counted separately to answer: %q
Respond with one value per line, no numbering, no extra text.`

// Answer is the top-level entry point for spec §6's `query()`: it runs
// the analyser once, then routes to whichever of the three §4.9 paths
// the analysis calls for (aggregation, decomposition, or the plain
// single-query pipeline already implemented by ProcessQuery).
func (e *Engine) Answer(ctx context.Context, query string, topK int, opts ContextOpts) (*Response, error) {
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	var analysis *analyze.Analysis
	if e.analyser != nil {
		var err error
		analysis, err = e.analyser.Analyze(ctx, query, opts.RecentHistory)
		if err != nil {
			e.logger.Debug("query_analysis_failed", slog.String("reason", err.Error()))
		}
	}

	switch {
	case e.cfg.AggregationEnabled && analysis != nil && analysis.QueryType == analyze.QueryTypeAggregation:
		return e.answerAggregation(ctx, query, analysis)
	case e.cfg.DecompositionEnabled && analysis != nil && analysis.NeedsDecomposition && len(analysis.DecomposedQueries) > 0:
		return e.answerDecomposed(ctx, query, analysis, topK, opts)
	default:
		return e.ProcessQuery(ctx, query, topK, opts)
	}
}

// answerAggregation implements spec §4.9's aggregation-query path:
// derive search terms for the entity type, count matching documents
// per term via the metadata store, and sum, per scenario 3 in spec §8
// ("How many incidents were created in December?").
func (e *Engine) answerAggregation(ctx context.Context, query string, analysis *analyze.Analysis) (*Response, error) {
	start := time.Now()
	terms := e.aggregationSearchTerms(ctx, query, analysis)

	filterFn := metadataFilterFor(analysis.Filters)
	total := 0
	for _, term := range terms {
		n, err := e.CountDocuments(ctx, combineFilters(filterFn, term))
		if err != nil {
			e.logger.Debug("aggregation_count_failed", slog.String("term", term), slog.String("reason", err.Error()))
			continue
		}
		total += n
	}
	e.recordQuery(query, telemetry.QueryTypeLexical, total, start)

	return &Response{
		Query:           query,
		Answer:          fmt.Sprintf("%d", total),
		ConfidenceScore: 1.0,
		ConfidenceLevel: ConfidenceLevel(1.0),
		Sources:         nil,
		DiversityMetrics: DiversityMetrics{
			DocumentDistribution:  map[string]int{},
			SourceTypeDistribution: map[string]int{},
			AuthorDistribution:    map[string]int{},
		},
		VariantsUsed: len(terms),
		QueryForLLM:  query,
	}, nil
}

// aggregationSearchTerms asks the LLM Gateway for the entity-type
// values to count over, falling back to the analyser's own keywords
// (or the bare entity type) when no generator is wired or the LLM call
// fails — mirroring the rest of this package's LLM-then-heuristic
// degradation policy.
func (e *Engine) aggregationSearchTerms(ctx context.Context, query string, analysis *analyze.Analysis) []string {
	fallback := analysis.SearchKeywords
	if len(fallback) == 0 {
		if analysis.EntityType != "" {
			fallback = []string{analysis.EntityType}
		} else {
			fallback = []string{query}
		}
	}

	if e.gen == nil || analysis.EntityType == "" {
		return fallback
	}

	prompt := fmt.Sprintf(aggregationTermPrompt, analysis.EntityType, query)
	text, err := e.gen.Generate(ctx, prompt, 200, 0.0)
	if err != nil || strings.TrimSpace(text) == "" {
		return fallback
	}

	var terms []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			terms = append(terms, line)
		}
	}
	if len(terms) == 0 {
		return fallback
	}
	return terms
}

// metadataFilterFor turns an analysis' filter map into a predicate
// over a document's metadata: every configured key must match exactly.
func metadataFilterFor(filters map[string]string) func(map[string]string) bool {
	if len(filters) == 0 {
		return nil
	}
	return func(md map[string]string) bool {
		for k, v := range filters {
			if md[k] != v {
				return false
			}
		}
		return true
	}
}

// combineFilters ANDs base (possibly nil) with a substring match of
// term against any metadata value, approximating count_documents'
// per-search-term filter against this store's flat metadata map.
func combineFilters(base func(map[string]string) bool, term string) func(map[string]string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	return func(md map[string]string) bool {
		if base != nil && !base(md) {
			return false
		}
		if term == "" {
			return true
		}
		for _, v := range md {
			if strings.Contains(strings.ToLower(v), term) {
				return true
			}
		}
		return false
	}
}

// answerDecomposed implements spec §4.9's decomposition path: run each
// sub-query through retrieval only (steps 1-7), then synthesize once
// from the union of their results, per scenario 2 in spec §8 ("List
// all AP models in Building A and Building B").
func (e *Engine) answerDecomposed(ctx context.Context, query string, analysis *analyze.Analysis, topK int, opts ContextOpts) (*Response, error) {
	start := time.Now()
	subOpts := opts
	subOpts.BypassThreshold = true

	subQueries := analysis.DecomposedQueries
	if len(subQueries) > e.cfg.MaxDecomposedQueries {
		e.logger.Debug("decomposed_queries_capped",
			slog.Int("proposed", len(subQueries)), slog.Int("cap", e.cfg.MaxDecomposedQueries))
		subQueries = subQueries[:e.cfg.MaxDecomposedQueries]
	}

	var allSources []Result
	var subAnswers []string
	seen := make(map[string]bool)

	for _, sub := range subQueries {
		retrieval, err := e.retrieve(ctx, sub, topK, subOpts)
		if err != nil {
			e.logger.Debug("subquery_failed", slog.String("query", sub), slog.String("reason", err.Error()))
			continue
		}
		if retrieval.empty {
			continue
		}
		subAnswers = append(subAnswers, sub)
		for _, r := range retrieval.top {
			if seen[r.ChunkID] {
				continue
			}
			seen[r.ChunkID] = true
			allSources = append(allSources, r)
		}
	}

	if len(allSources) == 0 {
		e.recordQuery(query, telemetry.QueryTypeMixed, 0, start)
		return emptyResponse(query), nil
	}

	top := capResults(allSources, topK)
	answer := e.synthesizeDecomposed(ctx, query, subAnswers, top)
	confidence := CalculateConfidenceWith(top, e.cfg.SourceDiversityEnabled, e.cfg.MinSourceTypes)
	e.recordQuery(query, telemetry.QueryTypeMixed, len(top), start)

	return &Response{
		Query:             query,
		Answer:            answer,
		ConfidenceScore:   confidence,
		ConfidenceLevel:   ConfidenceLevel(confidence),
		Sources:           top,
		DiversityMetrics:  CalculateDiversityMetrics(top),
		VariantsUsed:      len(subQueries),
		QueryForLLM:       query,
		EnhancedQueryUsed: false,
	}, nil
}

// synthesizeDecomposed builds the final answer from the sub-questions
// and their merged source set in a single LLM Gateway call, per spec
// §4.9 "calls the LLM Gateway once with a synthesis prompt that
// includes all sub-query results."
func (e *Engine) synthesizeDecomposed(ctx context.Context, query string, subQueries []string, sources []Result) string {
	if e.gen == nil || !e.cfg.SynthesisEnabled {
		return fallbackSynthesis(sources)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Original question: %s\n\nThis was broken into sub-questions:\n", query)
	for _, q := range subQueries {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	b.WriteString("\nRelevant source excerpts:\n")
	for i, s := range sources {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "[%s] %s\n", sourceLabel(s, i+1), truncateText(s.Text, 400))
	}
	b.WriteString("\nSynthesize one coherent answer to the original question from the above.")

	text, err := e.gen.Generate(ctx, b.String(), e.cfg.MaxTokens, e.cfg.Temperature)
	if err != nil || strings.TrimSpace(text) == "" {
		return fallbackSynthesis(sources)
	}
	return text
}

func truncateText(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
