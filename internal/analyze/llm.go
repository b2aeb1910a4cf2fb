package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ragcore/ragcore/internal/llm"
)

// llmAnalysisJSON mirrors the structured-JSON shape the prompt asks the
// LLM to return.
type llmAnalysisJSON struct {
	QueryType          string              `json:"query_type"`
	NeedsDecomposition bool                `json:"needs_decomposition"`
	EntityType         string              `json:"entity_type"`
	Scope              string              `json:"scope"`
	ScopeTargets       []string            `json:"scope_targets"`
	Action             string              `json:"action"`
	Filters            map[string]string   `json:"filters"`
	DecomposedQueries  []string            `json:"decomposed_queries"`
	SearchKeywords     []string            `json:"search_keywords"`
	Synonyms           map[string][]string `json:"synonyms"`
}

const analysisPromptTemplate = `Analyze this query and respond ONLY with JSON:
Query: %q

Respond in this exact JSON shape:
{
  "query_type": "single" | "multi" | "aggregation",
  "needs_decomposition": true/false,
  "entity_type": "what is being asked about",
  "scope": "specific" | "all" | "multiple",
  "scope_targets": ["specific targets, if scope is specific"],
  "action": "list" | "count" | "find" | "compare" | "identify",
  "filters": {"filter name": "value"},
  "decomposed_queries": ["simpler queries, if needs_decomposition"],
  "search_keywords": ["key search terms"],
  "synonyms": {"term": ["synonym1", "synonym2"]}
}`

const contextualEnhancementTemplate = `Given the conversation history and the latest query, rewrite it as a standalone search query that captures the full context.

Conversation history:
%s

Latest query: %s

Enhanced search query:`

// LLMAnalyser asks the LLM Gateway for structured analysis, degrading
// to a HeuristicAnalyser whenever the LLM is unavailable, errors, or
// returns something that doesn't parse as the expected JSON shape.
type LLMAnalyser struct {
	gen      llm.Generator
	fallback *HeuristicAnalyser
	logger   *slog.Logger
}

var _ Analyser = (*LLMAnalyser)(nil)

func NewLLMAnalyser(gen llm.Generator, logger *slog.Logger) *LLMAnalyser {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMAnalyser{gen: gen, fallback: NewHeuristicAnalyser(), logger: logger}
}

func (a *LLMAnalyser) Analyze(ctx context.Context, query string, history []string) (*Analysis, error) {
	base, err := a.fallback.Analyze(ctx, query, history)
	if err != nil {
		return nil, err
	}
	if a.gen == nil || !a.gen.Available(ctx) {
		return base, nil
	}

	prompt := fmt.Sprintf(analysisPromptTemplate, query)
	raw, err := a.gen.Generate(ctx, prompt, llm.DefaultMaxTokens, 0)
	if err != nil {
		a.logger.Debug("analysis_degraded", slog.String("reason", err.Error()))
		return base, nil
	}

	var parsed llmAnalysisJSON
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		a.logger.Debug("analysis_degraded", slog.String("reason", "json_parse_failed"))
		return base, nil
	}

	merged := *base
	if parsed.QueryType != "" {
		merged.QueryType = QueryType(parsed.QueryType)
	}
	merged.NeedsDecomposition = parsed.NeedsDecomposition
	if parsed.EntityType != "" {
		merged.EntityType = parsed.EntityType
	}
	if parsed.Scope != "" {
		merged.Scope = Scope(parsed.Scope)
	}
	if len(parsed.ScopeTargets) > 0 {
		merged.ScopeTargets = parsed.ScopeTargets
	}
	if parsed.Action != "" {
		merged.Action = Action(parsed.Action)
	}
	if parsed.Filters != nil {
		merged.Filters = parsed.Filters
	}
	if len(parsed.DecomposedQueries) > 0 {
		merged.DecomposedQueries = parsed.DecomposedQueries
	}
	if len(parsed.SearchKeywords) > 0 {
		merged.SearchKeywords = parsed.SearchKeywords
	}
	if len(parsed.Synonyms) > 0 {
		merged.Synonyms = parsed.Synonyms
	}

	a.logger.Debug("analysis_complete",
		slog.String("intent", string(merged.Intent)),
		slog.String("query_type", string(merged.QueryType)),
		slog.Bool("needs_decomposition", merged.NeedsDecomposition),
	)
	return &merged, nil
}

// EnhanceContextualQuery rewrites a query using recent history when the
// heuristic pass flags it as contextual, matching understand_intent's
// "create enhanced query when contextual" step. Returns query unchanged
// if the LLM is unavailable or the call fails.
func (a *LLMAnalyser) EnhanceContextualQuery(ctx context.Context, query string, history []string) string {
	if a.gen == nil || !a.gen.Available(ctx) {
		return query
	}
	prompt := fmt.Sprintf(contextualEnhancementTemplate, strings.Join(history, "\n"), query)
	enhanced, err := a.gen.Generate(ctx, prompt, llm.DefaultMaxTokens, 0)
	if err != nil {
		a.logger.Debug("contextual_enhancement_failed", slog.String("reason", err.Error()))
		return query
	}
	enhanced = strings.TrimSpace(enhanced)
	if enhanced == "" {
		return query
	}
	return enhanced
}

// extractJSON trims any leading/trailing prose a chat model might wrap
// the JSON object in, taking the substring between the first '{' and
// the last '}'.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}
