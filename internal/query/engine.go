package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ragcore/ragcore/internal/analyze"
	"github.com/ragcore/ragcore/internal/embed"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/rerank"
	"github.com/ragcore/ragcore/internal/store"
	"github.com/ragcore/ragcore/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Config controls the Query Engine's retrieval and synthesis behavior.
type Config struct {
	TopK                   int
	MaxVariants            int
	SimilarityThreshold    float64
	DiversityWeight        float64
	MaxChunksPerDoc        int
	SourceDiversityEnabled bool
	RerankEnabled          bool
	// RerankTopK caps how many threshold-surviving results are fed to
	// the cross-encoder; anything past it keeps its pre-rerank order.
	RerankTopK int
	// MinSourceTypes normalizes the confidence score's type-diversity
	// component.
	MinSourceTypes int
	// MaxDecomposedQueries bounds how many sub-queries a decomposed
	// query executes, regardless of how many the analyser proposed.
	MaxDecomposedQueries int
	// MaxTokens and Temperature are passed to the LLM Gateway on every
	// synthesis call.
	MaxTokens   int
	Temperature float64
	// SynonymExpansionEnabled allows the analyser's synonym map to
	// produce an expanded query variant.
	SynonymExpansionEnabled bool
	// DecompositionEnabled and AggregationEnabled gate the two analyser-
	// routed answer paths; when off, such queries run the plain pipeline.
	DecompositionEnabled bool
	AggregationEnabled   bool
	// SynthesisEnabled routes answers through the LLM Gateway; when off,
	// the extractive fallback is always used.
	SynthesisEnabled bool
	// KeywordAssistEnabled adds a bleve/BM25 keyword search pass
	// alongside vector retrieval when a BM25Index is attached via
	// SetBM25Index, per spec's keyword-assist variant.
	KeywordAssistEnabled bool
}

func DefaultConfig() Config {
	return Config{
		TopK:                    8,
		MaxVariants:             3,
		SimilarityThreshold:     0.3,
		DiversityWeight:         0.3,
		MaxChunksPerDoc:         DefaultMaxChunksPerDoc,
		SourceDiversityEnabled:  true,
		RerankEnabled:           true,
		RerankTopK:              20,
		MinSourceTypes:          MinSourceTypesForDiversity,
		MaxDecomposedQueries:    10,
		MaxTokens:               llm.DefaultMaxTokens,
		Temperature:             llm.DefaultTemperature,
		SynonymExpansionEnabled: true,
		DecompositionEnabled:    true,
		AggregationEnabled:      true,
		SynthesisEnabled:        true,
		KeywordAssistEnabled:    true,
	}
}

// Engine is the concrete Query Engine, generalizing the teacher's
// search.Engine BM25+vector fusion into the spec's variant generation
// -> retrieval -> merge -> filter -> rerank -> diversity -> synthesis
// pipeline.
type Engine struct {
	cfg      Config
	vectors  store.VectorStore
	metadata store.MetadataStore
	embedder embed.Embedder
	analyser analyze.Analyser
	reranker rerank.Reranker
	gen      llm.Generator
	logger   *slog.Logger
	bm25     store.BM25Index

	// metrics and effLog are optional telemetry collaborators, unset by
	// default so the Engine works without a metadata store backing them.
	metrics *telemetry.QueryMetrics
	effLog  *telemetry.EffectiveValueLogger
}

var _ Querier = (*Engine)(nil)

func New(cfg Config, vectors store.VectorStore, metadata store.MetadataStore, embedder embed.Embedder, analyser analyze.Analyser, reranker rerank.Reranker, gen llm.Generator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxChunksPerDoc <= 0 {
		cfg.MaxChunksPerDoc = DefaultMaxChunksPerDoc
	}
	if cfg.RerankTopK <= 0 {
		cfg.RerankTopK = DefaultConfig().RerankTopK
	}
	if cfg.MinSourceTypes <= 0 {
		cfg.MinSourceTypes = MinSourceTypesForDiversity
	}
	if cfg.MaxDecomposedQueries <= 0 {
		cfg.MaxDecomposedQueries = DefaultConfig().MaxDecomposedQueries
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = llm.DefaultTemperature
	}
	return &Engine{
		cfg: cfg, vectors: vectors, metadata: metadata, embedder: embedder,
		analyser: analyser, reranker: reranker, gen: gen, logger: logger,
	}
}

// SetBM25Index attaches the keyword-assist index. It is optional: a nil
// index (the default) means retrieval runs on vector variants alone.
func (e *Engine) SetBM25Index(idx store.BM25Index) {
	e.bm25 = idx
}

// SetMetrics attaches the query telemetry collector so every
// ProcessQuery/decomposed-query call records a telemetry.QueryEvent.
// A nil metrics collector (the default) disables this tracking.
func (e *Engine) SetMetrics(m *telemetry.QueryMetrics) {
	e.metrics = m
}

// SetEffectiveValueLogger attaches the effective-value logger that
// records the diversity-weight blend Engine applies per query. A nil
// logger (the default) disables this tracking.
func (e *Engine) SetEffectiveValueLogger(l *telemetry.EffectiveValueLogger) {
	e.effLog = l
}

// queryType classifies a retrieval outcome as lexical, semantic, or
// mixed depending on which retrieval paths contributed results, for
// telemetry.QueryEvent.QueryType.
func queryType(vectorHits, bm25Hits int) telemetry.QueryType {
	switch {
	case vectorHits > 0 && bm25Hits > 0:
		return telemetry.QueryTypeMixed
	case bm25Hits > 0:
		return telemetry.QueryTypeLexical
	default:
		return telemetry.QueryTypeSemantic
	}
}

// recordQuery is a no-op when no metrics collector is attached.
func (e *Engine) recordQuery(query string, qt telemetry.QueryType, resultCount int, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   qt,
		ResultCount: resultCount,
		Latency:     time.Since(start),
		Timestamp:   start,
	})
}

func (e *Engine) CountDocuments(ctx context.Context, filter func(metadata map[string]string) bool) (int, error) {
	if e.metadata == nil {
		return 0, nil
	}
	docs, err := e.metadata.ListDocuments(ctx, func(d *store.IngestedDocument) bool {
		if filter == nil {
			return true
		}
		return filter(d.Metadata)
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (e *Engine) ProcessQuery(ctx context.Context, query string, topK int, opts ContextOpts) (*Response, error) {
	start := time.Now()
	retrieval, err := e.retrieve(ctx, query, topK, opts)
	if err != nil {
		return nil, err
	}
	if retrieval.empty {
		e.recordQuery(query, retrieval.queryType, 0, start)
		return emptyResponse(retrieval.originalQuery), nil
	}

	answer := e.synthesize(ctx, retrieval.queryForLLM, retrieval.top, opts)
	confidence := CalculateConfidenceWith(retrieval.top, e.cfg.SourceDiversityEnabled, e.cfg.MinSourceTypes)
	e.recordQuery(query, retrieval.queryType, len(retrieval.top), start)

	return &Response{
		Query:             retrieval.originalQuery,
		Answer:            answer,
		ConfidenceScore:   confidence,
		ConfidenceLevel:   ConfidenceLevel(confidence),
		Sources:           retrieval.top,
		DiversityMetrics:  CalculateDiversityMetrics(retrieval.top),
		VariantsUsed:      retrieval.variantsUsed,
		BestVariant:       retrieval.bestVariant,
		BestVariantScore:  retrieval.bestScore,
		QueryForLLM:       retrieval.queryForLLM,
		EnhancedQueryUsed: retrieval.enhancedUsed,
	}, nil
}

// retrievalOutcome carries the product of spec §4.9 steps 1-7 (variant
// generation through diversity selection), shared by ProcessQuery's
// single-query path and the decomposition path's per-sub-query loop,
// which runs these same steps but defers synthesis (step 8) until
// every sub-query has been retrieved.
type retrievalOutcome struct {
	originalQuery string
	queryForLLM   string
	enhancedUsed  bool
	top           []Result
	variantsUsed  int
	bestVariant   string
	bestScore     float64
	empty         bool
	queryType     telemetry.QueryType
}

func (e *Engine) retrieve(ctx context.Context, query string, topK int, opts ContextOpts) (retrievalOutcome, error) {
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	originalQuery := query
	if opts.IsContextual && opts.OriginalQuery != "" {
		originalQuery = opts.OriginalQuery
	}

	var analysis *analyze.Analysis
	if e.analyser != nil {
		var err error
		analysis, err = e.analyser.Analyze(ctx, query, opts.RecentHistory)
		if err != nil {
			e.logger.Debug("query_analysis_failed", slog.String("reason", err.Error()))
		}
	}
	if analysis != nil && !e.cfg.SynonymExpansionEnabled {
		trimmed := *analysis
		trimmed.Synonyms = nil
		analysis = &trimmed
	}
	variants := GenerateVariants(query, analysis, e.cfg.MaxVariants)

	searchK := topK
	if e.cfg.SourceDiversityEnabled {
		searchK = maxInt(topK*3, 20)
	}

	allResults, variantAvgScores, bestVariant, bestScore, err := e.searchVariants(ctx, variants, searchK)
	if err != nil {
		return retrievalOutcome{}, err
	}
	vectorHits := len(allResults)

	var bm25Hits int
	if e.cfg.KeywordAssistEnabled && e.bm25 != nil {
		bm25Results := e.searchBM25(ctx, originalQuery, searchK)
		bm25Hits = len(bm25Results)
		allResults = append(allResults, bm25Results...)
	}
	qType := queryType(vectorHits, bm25Hits)

	queryForLLM, enhancedUsed := SelectQueryForLLM(originalQuery, variantAvgScores, bestVariant, bestScore)

	merged := MergeResults(allResults)
	if len(merged) == 0 {
		return retrievalOutcome{originalQuery: originalQuery, empty: true, queryType: qType}, nil
	}

	filtered := FilterByThreshold(merged, e.cfg.SimilarityThreshold, opts.BypassThreshold)
	if len(filtered) == 0 {
		return retrievalOutcome{originalQuery: originalQuery, empty: true, queryType: qType}, nil
	}

	preDiversity := filtered
	if e.cfg.RerankEnabled && e.reranker != nil {
		preDiversity = e.applyRerank(ctx, query, filtered)
	}

	var top []Result
	if e.cfg.SourceDiversityEnabled {
		top = ApplySourceDiversityScoring(preDiversity, topK, e.cfg.DiversityWeight, e.cfg.MaxChunksPerDoc)
		if e.effLog != nil {
			e.effLog.DiversityWeighting(originalQuery, e.cfg.DiversityWeight, len(preDiversity), len(top))
		}
	} else {
		top = capResults(preDiversity, topK)
	}

	return retrievalOutcome{
		originalQuery: originalQuery,
		queryForLLM:   queryForLLM,
		enhancedUsed:  enhancedUsed,
		top:           top,
		variantsUsed:  len(variants),
		bestVariant:   bestVariant,
		queryType:     qType,
		bestScore:     bestScore,
	}, nil
}

func (e *Engine) searchVariants(ctx context.Context, variants []Variant, searchK int) ([]Result, map[string]float64, string, float64, error) {
	type variantOutcome struct {
		variant Variant
		results []Result
		avg     float64
	}

	outcomes := make([]variantOutcome, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			results, avg, err := e.searchOne(gctx, v, searchK)
			if err != nil {
				return err
			}
			outcomes[i] = variantOutcome{variant: v, results: results, avg: avg}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, "", 0, err
	}

	var all []Result
	avgByQuery := map[string]float64{}
	bestVariant := ""
	bestScore := 0.0
	for _, o := range outcomes {
		all = append(all, o.results...)
		if len(o.results) > 0 {
			avgByQuery[o.variant.Text] = o.avg
			if o.avg > bestScore {
				bestScore = o.avg
				bestVariant = o.variant.Text
			}
		}
	}
	return all, avgByQuery, bestVariant, bestScore, nil
}

func (e *Engine) searchOne(ctx context.Context, v Variant, searchK int) ([]Result, float64, error) {
	vec, err := e.embedder.Embed(ctx, v.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("embedding query variant: %w", err)
	}
	hits, err := e.vectors.Search(ctx, vec, searchK)
	if err != nil {
		return nil, 0, fmt.Errorf("vector search: %w", err)
	}

	results := make([]Result, 0, len(hits))
	var sum float64
	for _, h := range hits {
		r := Result{
			ChunkID:         h.ID,
			SimilarityScore: float64(h.Score),
			QueryConfidence: v.Confidence,
			QueryVariant:    v.Text,
			WeightedScore:   float64(h.Score) * v.Confidence,
		}
		e.hydrateFromMetadata(ctx, &r)
		results = append(results, r)
		sum += float64(h.Score)
	}
	avg := 0.0
	if len(results) > 0 {
		avg = sum / float64(len(results))
	}
	return results, avg, nil
}

// keywordVariantConfidence weights BM25 hits the same as the
// keyword-joined variant in GenerateVariants, since both represent the
// same keyword-assist signal.
const keywordVariantConfidence = 0.7

// searchBM25 runs the keyword-assist BM25 pass and reshapes its results
// into the same Result shape vector search produces, so MergeResults
// and everything downstream treats them identically regardless of
// which retrieval path found a chunk.
func (e *Engine) searchBM25(ctx context.Context, query string, limit int) []Result {
	hits, err := e.bm25.Search(ctx, query, limit)
	if err != nil {
		e.logger.Debug("bm25_search_failed", slog.String("reason", err.Error()))
		return nil
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		similarity := normalizeBM25Score(h.Score)
		r := Result{
			ChunkID:         h.DocID,
			SimilarityScore: similarity,
			QueryConfidence: keywordVariantConfidence,
			QueryVariant:    "bm25:" + query,
			WeightedScore:   similarity * keywordVariantConfidence,
		}
		e.hydrateFromMetadata(ctx, &r)
		results = append(results, r)
	}
	return results
}

// normalizeBM25Score squashes BM25's unbounded score into (0, 1) so it
// compares sensibly against SimilarityThreshold and vector cosine
// scores in MergeResults/FilterByThreshold.
func normalizeBM25Score(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + 1)
}

func (e *Engine) hydrateFromMetadata(ctx context.Context, r *Result) {
	if e.metadata == nil {
		return
	}
	chunk, err := e.metadata.GetChunk(ctx, r.ChunkID)
	if err != nil || chunk == nil {
		return
	}
	r.DocID = chunk.DocID
	r.Text = chunk.Text
	r.Metadata = chunk.Metadata
	if r.Metadata != nil {
		r.Author = r.Metadata["author"]
		r.CreatedDate = r.Metadata["created_date"]
	}

	doc, err := e.metadata.GetDocument(ctx, chunk.DocID)
	if err == nil && doc != nil {
		r.Source = doc.Source
		r.SourceType = string(doc.SourceType)
	}
}

func (e *Engine) applyRerank(ctx context.Context, query string, results []Result) []Result {
	head := results
	var tail []Result
	if len(head) > e.cfg.RerankTopK {
		head, tail = head[:e.cfg.RerankTopK], head[e.cfg.RerankTopK:]
	}
	candidates := make([]rerank.Candidate, len(head))
	byID := make(map[string]Result, len(head))
	for i, r := range head {
		candidates[i] = rerank.Candidate{ChunkID: r.ChunkID, Text: r.Text, OriginalScore: r.WeightedScore}
		byID[r.ChunkID] = r
	}
	reranked, err := e.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		e.logger.Debug("rerank_failed", slog.String("reason", err.Error()))
		return results
	}
	out := make([]Result, 0, len(reranked)+len(tail))
	for _, rr := range reranked {
		base, ok := byID[rr.ChunkID]
		if !ok {
			continue
		}
		base.RerankScore = rr.RerankScore
		out = append(out, base)
	}
	return append(out, tail...)
}

func capResults(results []Result, topK int) []Result {
	if len(results) <= topK {
		return results
	}
	return results[:topK]
}

func emptyResponse(query string) *Response {
	return &Response{
		Query:            query,
		Answer:           "I couldn't find any information related to this query. Could you try rephrasing your question or providing more specific details?",
		ConfidenceScore:  0,
		ConfidenceLevel:  "low",
		Sources:          nil,
		DiversityMetrics: CalculateDiversityMetrics(nil),
	}
}

const standardPromptTemplate = `Based on the following context, answer the user's question. If the context doesn't contain enough information to answer the question, say so clearly.

Context:
%s

Question: %s

Instructions:
- Provide a clear, accurate answer based on the context
- When referencing specific information, mention the source when available
- If information comes from multiple sources, acknowledge this

Answer:`

const contextualPromptTemplate = `You are having a conversation with a user. Here is the recent conversation:

%s

The user's latest question is: %q

Based on the following context from the knowledge base, provide a helpful response:

Context:
%s

Important instructions:
- This is a follow-up question in an ongoing conversation
- Focus on new or additional information if the user is asking for more
- Be conversational and natural
- Mention the source when available

Answer:`

func (e *Engine) synthesize(ctx context.Context, query string, sources []Result, opts ContextOpts) string {
	if e.gen == nil || !e.cfg.SynthesisEnabled {
		return fallbackSynthesis(sources)
	}

	contextText := buildContext(sources)

	var prompt string
	if opts.IsContextual && len(opts.RecentHistory) > 0 {
		prompt = fmt.Sprintf(contextualPromptTemplate, strings.Join(opts.RecentHistory, "\n"), query, contextText)
	} else {
		prompt = fmt.Sprintf(standardPromptTemplate, contextText, query)
	}

	answer, err := e.gen.Generate(ctx, prompt, e.cfg.MaxTokens, e.cfg.Temperature)
	if err != nil {
		e.logger.Debug("synthesis_failed", slog.String("reason", err.Error()))
		return fallbackSynthesis(sources)
	}
	return answer
}

func buildContext(sources []Result) string {
	n := len(sources)
	if n > 5 {
		n = 5
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		label := sourceLabel(sources[i], i+1)
		parts = append(parts, fmt.Sprintf("%s: %s", label, sources[i].Text))
	}
	return strings.Join(parts, "\n\n")
}

func sourceLabel(r Result, fallbackIndex int) string {
	if r.Source != "" {
		return r.Source
	}
	if r.DocID != "" {
		return r.DocID
	}
	return fmt.Sprintf("Source %d", fallbackIndex)
}

func fallbackSynthesis(sources []Result) string {
	if len(sources) == 0 {
		return "I couldn't find any relevant information for your query."
	}
	var b strings.Builder
	b.WriteString(sources[0].Text)
	b.WriteString("\n\nSources:\n")
	n := len(sources)
	if n > 3 {
		n = 3
	}
	for i := 0; i < n; i++ {
		b.WriteString("- ")
		b.WriteString(sourceLabel(sources[i], i+1))
		b.WriteString("\n")
	}
	return b.String()
}
