// Package query implements the Query Engine (C9): turning a processed
// query into a ranked, diverse set of source chunks and a synthesized
// answer, by generating query variants, retrieving per variant,
// merging/deduping, filtering by similarity threshold, reranking,
// scoring for source diversity, and selecting the final context.
package query

import "context"

// Variant is one phrasing of the user's query to retrieve with,
// carrying a confidence weight used to scale its results' scores.
type Variant struct {
	Text       string
	Confidence float64
}

// Result is one retrieved chunk, carrying every score the pipeline
// computes along the way so confidence/diversity calculations and
// response formatting can all read from the same shape.
type Result struct {
	ChunkID  string
	DocID    string
	Text     string
	Source   string
	SourceType string
	Author   string
	CreatedDate string
	Metadata map[string]string

	SimilarityScore float64 // raw vector-store score
	QueryConfidence float64 // confidence of the variant that produced this hit
	QueryVariant    string
	WeightedScore   float64 // SimilarityScore * QueryConfidence

	RerankScore float64 // set after reranking, 0 if reranking skipped

	DiversityScore             float64
	DocDiversityScore          float64
	SourceTypeDiversityScore   float64
	AuthorDiversityScore       float64
	TemporalDiversityScore     float64
	ContentDiversityScore      float64
	RelevanceScore             float64 // rerank > weighted > similarity, whichever is set
	FinalScore                 float64 // relevance*(1-w) + diversity*w
}

// Response is the full outcome of processing one query.
type Response struct {
	Query            string
	Answer           string
	ConfidenceScore  float64
	ConfidenceLevel  string // "high" | "medium" | "low"
	Sources          []Result
	DiversityMetrics DiversityMetrics
	VariantsUsed     int
	BestVariant      string
	BestVariantScore float64
	QueryForLLM      string
	EnhancedQueryUsed bool
}

// DiversityMetrics summarizes how varied the final source set is.
type DiversityMetrics struct {
	UniqueDocuments       int
	UniqueSourceTypes     int
	UniqueAuthors         int
	DocumentDistribution  map[string]int
	SourceTypeDistribution map[string]int
	AuthorDistribution    map[string]int
	DiversityIndex        float64
}

// ContextOpts carries conversation-awareness flags into ProcessQuery,
// mirroring query_engine.py's conversation_context parameter.
type ContextOpts struct {
	IsContextual     bool
	OriginalQuery    string
	BypassThreshold  bool
	RecentHistory    []string
}

// Querier is the capability every C10 conversation node depends on for
// retrieval; *Engine implements it.
type Querier interface {
	ProcessQuery(ctx context.Context, query string, topK int, opts ContextOpts) (*Response, error)
	// Answer is ProcessQuery's superset per spec §4.9: it additionally
	// routes aggregation and decomposition queries to their own
	// pipelines before falling back to ProcessQuery for everything else.
	Answer(ctx context.Context, query string, topK int, opts ContextOpts) (*Response, error)
	CountDocuments(ctx context.Context, filter func(metadata map[string]string) bool) (int, error)
}
