package analyze

import "strings"

// DefaultSynonyms seeds common entity-type synonym expansions per
// spec.md §4.8, in the map shape ExpandQuery takes. Neither analyser
// applies it on its own: Analysis.Synonyms holds only what the LLM pass
// returns.
var DefaultSynonyms = map[string][]string{
	"person":     {"employee", "staff", "contact", "user"},
	"incident":   {"ticket", "issue", "case", "problem"},
	"device":     {"equipment", "asset", "hardware", "unit"},
	"building":   {"facility", "site", "location"},
	"department": {"team", "group", "division", "unit"},
}

// ExpandQuery rewrites query by OR-joining any recognized term with its
// synonyms, matching fresh_smart_router.py's expand_with_synonyms: a
// matched term `t` becomes `(t OR syn1 OR syn2)` in place.
func ExpandQuery(query string, synonyms map[string][]string) string {
	if len(synonyms) == 0 {
		return query
	}
	expanded := query
	lower := strings.ToLower(query)
	for term, list := range synonyms {
		if term == "" || len(list) == 0 {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(term)) {
			continue
		}
		expr := "(" + term + " OR " + strings.Join(list, " OR ") + ")"
		expanded = strings.ReplaceAll(expanded, term, expr)
	}
	return expanded
}
