package conversation

import (
	"fmt"
	"regexp"
	"strings"
)

var personNamePattern = regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`)

// ExtractPersonName pulls a candidate "Firstname Lastname" out of a
// query when the analyser didn't already give us one via scope
// targets, per _handle_person_query's name_pattern fallback.
func ExtractPersonName(scopeTargets []string, query string) (string, bool) {
	if len(scopeTargets) > 0 && scopeTargets[0] != "" {
		return scopeTargets[0], true
	}
	if m := personNamePattern.FindString(query); m != "" {
		return m, true
	}
	return "", false
}

// PersonSearchStrategies builds the multi-angle search queries
// _handle_person_query tries for a person lookup: the bare name, then
// the name qualified by role-ish terms.
func PersonSearchStrategies(personName string) []string {
	return []string{
		personName,
		personName + " employee",
		personName + " staff",
		personName + " role",
		personName + " position",
		personName + " department",
	}
}

var personKeywords = []string{
	"employee", "staff", "manager", "director", "engineer",
	"analyst", "coordinator", "specialist", "role", "position",
	"department", "team", "contact", "email", "phone",
}

// PersonRelevance scores how well a batch of search results supports a
// person query, per _calculate_person_relevance: exact-name match,
// per-part name match, keyword presence, and a proximity bonus when a
// name part co-occurs near a person keyword, each source capped at 2.0.
func PersonRelevance(sources []SearchResult, personName string) float64 {
	if len(sources) == 0 || personName == "" {
		return 0
	}
	nameParts := strings.Fields(strings.ToLower(personName))
	var total float64
	for _, s := range sources {
		text := strings.ToLower(s.Text)
		var relevance float64
		if strings.Contains(text, strings.ToLower(personName)) {
			relevance += 1.0
		}
		for _, part := range nameParts {
			if strings.Contains(text, part) {
				relevance += 0.3
			}
		}
		for _, kw := range personKeywords {
			if strings.Contains(text, kw) {
				relevance += 0.1
			}
		}
		for _, part := range nameParts {
			for _, kw := range personKeywords {
				if proximityPattern(part, kw).MatchString(text) {
					relevance += 0.2
				}
			}
		}
		if relevance > 2.0 {
			relevance = 2.0
		}
		total += relevance
	}
	return total / float64(len(sources))
}

func proximityPattern(part, keyword string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(part) + `.*` + regexp.QuoteMeta(keyword) + `|` + regexp.QuoteMeta(keyword) + `.*` + regexp.QuoteMeta(part))
}

// PersonInfo is the structured fields extracted about a person from
// their matching search results, per _extract_person_info.
type PersonInfo struct {
	Role           string
	Department     string
	Contact        string
	Location       string
	AdditionalInfo string
}

var (
	roleNearName  = regexp.MustCompile(`(manager|director|engineer|analyst|coordinator|specialist|admin|administrator)`)
	deptKnown     = regexp.MustCompile(`(?i)(IT|HR|Finance|Operations|Engineering|Sales|Marketing|Support)`)
	emailPattern  = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
	phonePattern  = regexp.MustCompile(`(\(\d{3}\)\s*\d{3}-\d{4}|\d{3}-\d{3}-\d{4})`)
	locationNear  = regexp.MustCompile(`(?i)(building [A-Z0-9]+|floor \d+|room \d+)`)
)

// ExtractPersonInfo scans matching results for role, department,
// contact and location fields near occurrences of the person's name,
// plus a one-sentence additional-info snippet. A simplified but
// faithful port of _extract_person_info's per-result regex scan.
func ExtractPersonInfo(results []SearchResult, personName string) PersonInfo {
	var info PersonInfo
	nameParts := strings.Fields(strings.ToLower(personName))

	for _, r := range results {
		text := r.Text
		textLower := strings.ToLower(text)
		if !containsAny(textLower, nameParts) {
			continue
		}
		if info.Role == "" {
			if m := roleNearName.FindString(textLower); m != "" {
				info.Role = m
			}
		}
		if info.Department == "" {
			if m := deptKnown.FindString(text); m != "" {
				info.Department = m
			}
		}
		if info.Contact == "" {
			if m := emailPattern.FindString(text); m != "" {
				info.Contact = m
			} else if m := phonePattern.FindString(text); m != "" {
				info.Contact = m
			}
		}
		if info.Location == "" {
			if m := locationNear.FindString(text); m != "" {
				info.Location = m
			}
		}
	}

	if (info.Role != "" || info.Department != "" || info.Contact != "" || info.Location != "") && len(results) > 0 {
		for _, sentence := range strings.Split(results[0].Text, ".") {
			if strings.Contains(strings.ToLower(sentence), strings.ToLower(personName)) {
				clean := strings.TrimSpace(sentence)
				if len(clean) > 200 {
					clean = clean[:200] + "..."
				}
				info.AdditionalInfo = clean
				break
			}
		}
	}
	return info
}

func containsAny(text string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// GeneratePersonResponse formats the structured PersonInfo into the
// bullet-list response shape of _generate_person_response, including
// the low-confidence caveat when relevance is below 0.5.
func GeneratePersonResponse(personName string, results []SearchResult, relevanceScore float64) string {
	if personName == "" {
		personName = "the person"
	}
	if len(results) == 0 {
		return fmt.Sprintf("I couldn't find any information about %s in the available documents. They may not be listed in the current system records, or their information might be stored under a different name or format.", personName)
	}

	info := ExtractPersonInfo(results, personName)
	if info.Role == "" && info.Department == "" && info.Contact == "" && info.Location == "" && info.AdditionalInfo == "" {
		return fmt.Sprintf("I found some documents that mention %s, but I couldn't extract clear information about them. The available information might be incomplete or formatted in a way that's difficult to parse.", personName)
	}

	parts := []string{fmt.Sprintf("Here's what I found about %s:", personName)}
	if info.Role != "" {
		parts = append(parts, "• Role/Position: "+info.Role)
	}
	if info.Department != "" {
		parts = append(parts, "• Department: "+info.Department)
	}
	if info.Contact != "" {
		parts = append(parts, "• Contact: "+info.Contact)
	}
	if info.Location != "" {
		parts = append(parts, "• Location: "+info.Location)
	}
	if info.AdditionalInfo != "" {
		parts = append(parts, "• Additional Information: "+info.AdditionalInfo)
	}

	sources := uniqueSources(results, 3)
	if len(sources) > 0 {
		parts = append(parts, "\nSources: "+strings.Join(sources, ", "))
	}
	if relevanceScore < 0.5 {
		parts = append(parts, "\n(Note: This information has low confidence - please verify independently)")
	}
	return strings.Join(parts, "\n")
}

func uniqueSources(results []SearchResult, limit int) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range results {
		if len(out) >= limit {
			break
		}
		if r.Source == "" || seen[r.Source] {
			continue
		}
		seen[r.Source] = true
		out = append(out, r.Source)
	}
	return out
}
