package analyze

import (
	"context"
	"regexp"
	"strings"
)

var greetingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|greetings|good morning|good afternoon|good evening)(\s+there)?[\s.,!]*$`),
	regexp.MustCompile(`(?i)^(how are you|how's it going|what's up|how do you do)[\s.,!?]*$`),
}

var goodbyePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(bye|goodbye|farewell|see you|talk to you later|exit|quit)[\s.,!]*$`),
	regexp.MustCompile(`(?i)(thanks|thank you).*(bye|goodbye|that's all|that will be all)[\s.,!]*$`),
	regexp.MustCompile(`(?i)(bye|goodbye).*(thanks|thank you)[\s.,!]*$`),
}

var helpPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(help|assist|support|guide|how does this work|what can you do)[\s.,!?]*$`),
	regexp.MustCompile(`(?i)^(show me|tell me|explain|instructions|tutorial)[\s.,!?]*$`),
}

var commandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(search for|find|look up|show me|display|list|get|retrieve)`),
	regexp.MustCompile(`(?i)^(create|add|insert|update|delete|remove|change)`),
}

var questionPattern = regexp.MustCompile(`(?i)^(who|what|when|where|why|how|is|are|can|could|would|will|should)`)
var followUpPattern = regexp.MustCompile(`(?i)^(and|also|additionally|furthermore|moreover)`)

var contextualIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(it|this|that|these|those|they|them|their|its|his|her|hers)\b`),
	regexp.MustCompile(`(?i)\b(the same|similar|related|more|again|also|too)\b`),
	regexp.MustCompile(`(?i)\b(previous|before|earlier|last time)\b`),
}

var stopWords = map[string]bool{
	"the": true, "is": true, "are": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "a": true, "an": true,
}

var wordPattern = regexp.MustCompile(`\b\w+\b`)
// entityPatterns pairs each location kind's "<kind> X" form with its
// "X <kind>" form; the second is only tried when the first finds nothing,
// so "in building A" yields "building A" rather than "in building".
var entityPatterns = [][2]*regexp.Regexp{
	{regexp.MustCompile(`(?i)\bbuilding\s+[a-zA-Z0-9]+\b`), regexp.MustCompile(`(?i)\b[a-zA-Z0-9]+\s+building\b`)},
	{regexp.MustCompile(`(?i)\bfloor\s+\d+\b`), regexp.MustCompile(`(?i)\b\d+\w*\s+floor\b`)},
	{regexp.MustCompile(`(?i)\broom\s+\w+\b`), regexp.MustCompile(`(?i)\b\w+\s+room\b`)},
}

// HeuristicAnalyser implements Analyser with no LLM: pattern-matched
// intent, word-count complexity, and regex-extracted entities. Used
// directly when no LLM is configured and as the degradation target of
// LLMAnalyser when the LLM call or JSON decode fails.
type HeuristicAnalyser struct{}

var _ Analyser = (*HeuristicAnalyser)(nil)

func NewHeuristicAnalyser() *HeuristicAnalyser { return &HeuristicAnalyser{} }

func (h *HeuristicAnalyser) Analyze(_ context.Context, query string, _ []string) (*Analysis, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &Analysis{
			Intent:       IntentUnknown,
			Complexity:   ComplexitySimple,
			Confidence:   1.0,
			QueryType:    QueryTypeSingle,
			Scope:        ScopeSpecific,
			Action:       ActionFind,
			Filters:      map[string]string{},
			Synonyms:     map[string][]string{},
		}, nil
	}

	lower := strings.ToLower(query)
	intent := detectIntent(lower)
	keywords := extractKeywords(query)

	confidence := 0.8
	if intent == IntentUnknown {
		confidence = 0.5
	}

	return &Analysis{
		Intent:             intent,
		Complexity:         detectComplexity(query),
		Confidence:         confidence,
		Keywords:           keywords,
		Entities:           extractEntities(query),
		IsContextual:       isContextual(lower),
		QueryType:          QueryTypeSingle,
		NeedsDecomposition: false,
		Scope:              ScopeSpecific,
		Action:             ActionFind,
		Filters:            map[string]string{},
		DecomposedQueries:  nil,
		SearchKeywords:     keywords,
		Synonyms:           map[string][]string{},
	}, nil
}

func detectIntent(lower string) Intent {
	for _, p := range greetingPatterns {
		if p.MatchString(lower) {
			return IntentGreeting
		}
	}
	for _, p := range goodbyePatterns {
		if p.MatchString(lower) {
			return IntentGoodbye
		}
	}
	for _, p := range helpPatterns {
		if p.MatchString(lower) {
			return IntentHelp
		}
	}
	for _, p := range commandPatterns {
		if p.MatchString(lower) {
			return IntentCommand
		}
	}
	if (strings.Contains(lower, "thank") || strings.Contains(lower, "thanks")) &&
		(strings.Contains(lower, "bye") || strings.Contains(lower, "goodbye")) {
		return IntentGoodbye
	}
	if questionPattern.MatchString(lower) {
		return IntentQuestion
	}
	if followUpPattern.MatchString(lower) {
		return IntentFollowUp
	}
	return IntentInformationSeeking
}

func detectComplexity(query string) Complexity {
	n := len(strings.Fields(query))
	switch {
	case n <= 3:
		return ComplexitySimple
	case n <= 10:
		return ComplexityModerate
	default:
		return ComplexityComplex
	}
}

func extractKeywords(query string) []string {
	words := wordPattern.FindAllString(strings.ToLower(query), -1)
	keywords := make([]string, 0, len(words))
	for _, w := range words {
		if stopWords[w] || len(w) <= 2 {
			continue
		}
		keywords = append(keywords, w)
		if len(keywords) == 10 {
			break
		}
	}
	return keywords
}

func extractEntities(query string) []string {
	var entities []string
	for _, p := range entityPatterns {
		found := p[0].FindAllString(query, -1)
		if len(found) == 0 {
			found = p[1].FindAllString(query, -1)
		}
		entities = append(entities, found...)
	}
	return entities
}

func isContextual(lower string) bool {
	for _, p := range contextualIndicators {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}
