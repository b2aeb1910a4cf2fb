package query

import (
	"github.com/ragcore/ragcore/internal/analyze"
)

// GenerateVariants builds the list of (text, confidence) query variants
// to retrieve with, matching query_engine.py's
// "query_variants = [(query, 1.0)]" default plus analyzer-informed
// additions: a synonym-expanded variant and any search keywords joined
// as a keyword-assist variant, each with a lower confidence than the
// original so the original always wins ties.
func GenerateVariants(query string, analysis *analyze.Analysis, maxVariants int) []Variant {
	variants := []Variant{{Text: query, Confidence: 1.0}}

	if analysis == nil {
		return capVariants(variants, maxVariants)
	}

	if expanded := analyze.ExpandQuery(query, analysis.Synonyms); expanded != query {
		variants = append(variants, Variant{Text: expanded, Confidence: 0.85})
	}

	if len(analysis.SearchKeywords) > 0 {
		kw := joinKeywords(analysis.SearchKeywords)
		if kw != "" && kw != query {
			variants = append(variants, Variant{Text: kw, Confidence: 0.7})
		}
	}

	return capVariants(variants, maxVariants)
}

func joinKeywords(keywords []string) string {
	out := ""
	for i, k := range keywords {
		if i > 0 {
			out += " "
		}
		out += k
	}
	return out
}

func capVariants(variants []Variant, max int) []Variant {
	if max <= 0 || len(variants) <= max {
		return variants
	}
	return variants[:max]
}

// SelectQueryForLLM implements the "best variant vs original, 20%
// threshold" policy from query_engine.py's process_query: the best
// performing variant is used for synthesis only if its average score
// both exceeds 0.7 and beats the original query's average score by at
// least 20%.
func SelectQueryForLLM(original string, variantAvgScores map[string]float64, bestVariant string, bestScore float64) (queryForLLM string, usedEnhanced bool) {
	if bestVariant == "" || bestScore <= 0.7 {
		return original, false
	}

	originalScore, ok := variantAvgScores[original]
	if !ok || originalScore == 0 {
		min := bestScore
		for _, s := range variantAvgScores {
			if s < min {
				min = s
			}
		}
		originalScore = min * 0.8
	}

	if bestScore > originalScore*1.2 {
		return bestVariant, true
	}
	return original, false
}
