package conversation

import (
	"fmt"
	"regexp"
	"strings"
)

// hallucinationPatterns are phrases an LLM emits when it's deflecting
// instead of answering from the supplied context, per
// ResponseValidator._check_hallucination's pattern list.
var hallucinationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)as of my last update`),
	regexp.MustCompile(`(?i)i don't have real-time`),
	regexp.MustCompile(`(?i)my training data`),
	regexp.MustCompile(`(?i)i cannot browse`),
	regexp.MustCompile(`(?i)i'm not sure about the specific`),
}

const (
	minValidationConfidence = 0.6
	maxHallucinationScore   = 0.3
)

// CheckResult is one validator's verdict: whether the check passed, its
// confidence contribution, and any human-readable errors raised.
type CheckResult struct {
	Passed     bool
	Confidence float64
	Errors     []string
}

// ValidationResult is the combined outcome of all five checks, per
// ResponseValidator.validate_response.
type ValidationResult struct {
	Passed     bool
	Confidence float64
	Errors     []string
	// Components holds each check's individual confidence, keyed by
	// check name, for effective-value telemetry (the composed score
	// alone doesn't explain which check drove a low-confidence verdict).
	Components map[string]float64
}

// ValidateResponse runs the five-check response validator: hallucination,
// consistency, completeness, relevance, and factual accuracy. It mirrors
// ResponseValidator.validate_response's averaging of per-check confidence
// and its "any error -> overall failure" gate.
func ValidateResponse(response, originalQuery string, queryKeywords []string, sources []SearchResult, recentAssistantMessages []string) ValidationResult {
	named := []struct {
		name  string
		check CheckResult
	}{
		{"hallucination", checkHallucination(response, sources)},
		{"consistency", checkConsistency(response, recentAssistantMessages)},
		{"completeness", checkCompleteness(response, originalQuery, queryKeywords)},
		{"relevance", checkRelevance(response, originalQuery)},
		{"factual_accuracy", checkFactualAccuracy(response, sources)},
	}

	var sum float64
	var errs []string
	components := make(map[string]float64, len(named))
	for _, c := range named {
		sum += c.check.Confidence
		components[c.name] = c.check.Confidence
		if !c.check.Passed {
			errs = append(errs, c.check.Errors...)
		}
	}
	overall := sum / float64(len(named))
	return ValidationResult{
		Passed:     overall >= minValidationConfidence && len(errs) == 0,
		Confidence: overall,
		Errors:     errs,
		Components: components,
	}
}

func checkHallucination(response string, sources []SearchResult) CheckResult {
	var errs []string
	patternMatches := 0
	for _, p := range hallucinationPatterns {
		if p.MatchString(response) {
			patternMatches++
			errs = append(errs, "potential hallucination pattern: "+p.String())
		}
	}

	unsupported := 0
	claims := extractClaims(response)
	if len(sources) > 0 && len(claims) > 0 {
		sourceText := joinSourceText(sources)
		for _, claim := range claims {
			if !claimSupported(claim, sourceText) {
				unsupported++
			}
		}
		if float64(unsupported) > float64(len(claims))*0.3 {
			errs = append(errs, "response contains unsupported claims")
		}
	}

	score := float64(patternMatches)*0.2 + float64(unsupported)*0.1
	confidence := 1.0 - minFloat(score, 1.0)
	return CheckResult{Passed: score <= maxHallucinationScore, Confidence: confidence, Errors: errs}
}

func checkConsistency(response string, recentAssistantMessages []string) CheckResult {
	var errs []string
	inconsistencies := 0
	for _, prior := range recentAssistantMessages {
		if responsesConflict(response, prior) {
			inconsistencies++
			errs = append(errs, "conflicts with a previous response")
		}
	}
	confidence := 1.0 - float64(inconsistencies)*0.2
	if confidence < 0 {
		confidence = 0
	}
	return CheckResult{Passed: inconsistencies == 0, Confidence: confidence, Errors: errs}
}

func checkCompleteness(response, query string, queryKeywords []string) CheckResult {
	if query == "" {
		return CheckResult{Passed: true, Confidence: 1.0}
	}
	if len(strings.Fields(response)) < 10 && strings.Contains(query, "?") {
		return CheckResult{Passed: false, Confidence: 0.5, Errors: []string{"response too short for the query"}}
	}

	keywordSet := toSet(queryKeywords)
	responseWords := wordSet(response)
	coverage := 1.0
	if len(keywordSet) > 0 {
		overlap := 0
		for k := range keywordSet {
			if responseWords[k] {
				overlap++
			}
		}
		coverage = float64(overlap) / float64(len(keywordSet))
	}

	var errs []string
	if coverage < 0.3 {
		errs = append(errs, "response doesn't address key query terms")
	}
	return CheckResult{Passed: coverage >= 0.5, Confidence: coverage, Errors: errs}
}

func checkRelevance(response, query string) CheckResult {
	queryWords := wordSet(query)
	responseWords := wordSet(response)
	overlap := 1.0
	if len(queryWords) > 0 {
		matches := 0
		for w := range queryWords {
			if responseWords[w] {
				matches++
			}
		}
		overlap = float64(matches) / float64(len(queryWords))
	}
	var errs []string
	if overlap < 0.2 {
		errs = append(errs, "response seems unrelated to query")
	}
	return CheckResult{Passed: overlap >= 0.3, Confidence: overlap, Errors: errs}
}

func checkFactualAccuracy(response string, sources []SearchResult) CheckResult {
	if len(sources) == 0 {
		return CheckResult{Passed: true, Confidence: 0.7}
	}
	claims := extractFactualClaims(response)
	if len(claims) == 0 {
		return CheckResult{Passed: true, Confidence: 1.0}
	}
	sourceText := joinSourceText(sources)
	verified := 0
	for _, claim := range claims {
		if verifyClaim(claim, sourceText) {
			verified++
		}
	}
	accuracy := float64(verified) / float64(len(claims))
	var errs []string
	if accuracy < 0.5 {
		errs = append(errs, fmt.Sprintf("only %d/%d claims verified", verified, len(claims)))
	}
	return CheckResult{Passed: accuracy >= 0.6, Confidence: accuracy, Errors: errs}
}

// extractClaims splits response text into sentence-level claims, per
// ResponseValidator._extract_claims's simple sentence-based extraction.
func extractClaims(text string) []string {
	raw := regexp.MustCompile(`[.!?]+`).Split(text, -1)
	var claims []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if len(strings.Fields(s)) >= 4 {
			claims = append(claims, s)
		}
	}
	return claims
}

// claimSupported is _claim_supported_by_sources' word-overlap test,
// used only by the hallucination check: a claim counts as supported
// when more than 60% of its words appear in the combined source text.
func claimSupported(claim, sourceText string) bool {
	claimWords := wordSet(claim)
	sourceWords := wordSet(sourceText)
	if len(claimWords) == 0 {
		return true
	}
	matches := 0
	for w := range claimWords {
		if sourceWords[w] {
			matches++
		}
	}
	return float64(matches)/float64(len(claimWords)) > 0.6
}

// factualClaimPatterns are _extract_factual_claims' three shapes: "X is
// Y", "X has Y", and a number with its unit word.
var factualClaimPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\w+)\s+(?:is|are)\s+(\w+)`),
	regexp.MustCompile(`(\w+)\s+(?:has|have)\s+(\w+)`),
	regexp.MustCompile(`(\d+)\s+(\w+)`),
}

// extractFactualClaims pulls the specific claims the factual-accuracy
// check verifies, distinct from extractClaims' sentence-level split.
func extractFactualClaims(text string) []string {
	var claims []string
	for _, p := range factualClaimPatterns {
		for _, match := range p.FindAllStringSubmatch(text, -1) {
			claims = append(claims, strings.Join(match[1:], " "))
		}
	}
	return claims
}

// verifyClaim is _verify_claim: stricter than claimSupported, it
// requires the claim near-verbatim in the sources, or at least 70% of
// its key elements (words longer than three characters, stop words
// excluded) to appear.
func verifyClaim(claim, sourceText string) bool {
	claimLower := strings.ToLower(claim)
	sourceLower := strings.ToLower(sourceText)

	if strings.Contains(sourceLower, claimLower) {
		return true
	}

	var keyElements []string
	for _, word := range strings.Fields(claimLower) {
		if len(word) > 3 && word != "the" && word != "and" && word != "for" {
			keyElements = append(keyElements, word)
		}
	}
	if len(keyElements) == 0 {
		return true
	}

	found := 0
	for _, elem := range keyElements {
		if strings.Contains(sourceLower, elem) {
			found++
		}
	}
	return float64(found) >= float64(len(keyElements))*0.7
}

// responsesConflict is a coarse negation-overlap heuristic standing in
// for _responses_conflict: two responses about the same subject where
// one affirms and the other negates are flagged as conflicting.
func responsesConflict(a, b string) bool {
	aWords, bWords := wordSet(a), wordSet(b)
	shared := 0
	for w := range aWords {
		if bWords[w] {
			shared++
		}
	}
	if shared < 3 {
		return false
	}
	return strings.Contains(strings.ToLower(a), " not ") != strings.Contains(strings.ToLower(b), " not ")
}

func joinSourceText(sources []SearchResult) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[strings.ToLower(i)] = true
	}
	return set
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
