package chunk

import (
	"regexp"
	"strings"
)

// content-type marker tables, grounded on the semantic chunker's
// _init_content_patterns keyword/symbol/indicator sets.
var (
	codeKeywords = []string{
		"def ", "class ", "function", "import ", "from ", "return ", "if ",
		"else:", "elif ", "for ", "while ", "try:", "except:", "finally:",
	}
	codeSymbols    = []string{"{", "}", ";", "->", "=>", "==", "!=", "<=", ">=", "&&", "||", "++", "--"}
	codeComments   = []string{"#", "//", "/*", "*/", "<!--", "-->"}
	codeIndentRe   = regexp.MustCompile(`(?m)^(\s{4,}|\t+)`)
	jsonIndicators = []string{"{", "}", "\":", "\",", "[", "]"}
	xmlIndicators  = []string{"<", ">", "</", "/>", "<?", "?>"}
	yamlIndicators = []string{":", "-", "|", ">"}
	mdIndicators   = []string{"#", "##", "###", "**", "*", "`", "```", "---"}
	tableIndicators = []string{"|", "+", "-", "="}
	apiTerms        = []string{"get", "post", "put", "delete", "http", "api", "endpoint", "request", "response"}
	configTerms     = []string{"config", "setting", "parameter", "option", "value", "default"}
	dbTerms         = []string{"SELECT", "INSERT", "UPDATE", "DELETE", "FROM", "WHERE", "JOIN", "TABLE"}
	mathSymbols     = []string{"=", "+", "-", "*", "/", "^", "∑", "∫", "∂", "≤", "≥", "≠", "±"}
	listIndicators  = []string{"•", "-", "*", "+", "○", "▪", "▫"}
	numberedListRe  = regexp.MustCompile(`^\s*\d+[.)]\s+`)
	dialoguePatterns = []string{"\"", "'", ":", "said", "asked", "replied", "answered"}
	speakerLineRe    = regexp.MustCompile(`^[A-Z][a-z]+\s*:`)
	sentenceEndRe    = regexp.MustCompile(`[.!?]\s+`)
)

// ClassifyContent scores text against each content-type's marker set and
// returns the highest-scoring bucket, defaulting to prose when no type
// clears the confidence threshold. Mirrors _detect_content_type exactly.
func ClassifyContent(text string) ContentType {
	sample := text
	if len(sample) > 1000 {
		sample = sample[:1000]
	}
	lower := strings.ToLower(sample)

	scores := map[ContentType]float64{
		ContentTypeCode:           scoreCode(sample),
		ContentTypeStructuredData: scoreStructured(sample),
		ContentTypeTechnical:      scoreTechnical(lower),
		ContentTypeList:           scoreList(sample),
		ContentTypeDialogue:       scoreDialogue(sample),
		ContentTypeProse:          1.0,
	}

	best := ContentTypeProse
	bestScore := 0.0
	for ct, s := range scores {
		if s > bestScore {
			bestScore = s
			best = ct
		}
	}
	if bestScore > 1.5 {
		return best
	}
	return ContentTypeProse
}

func countOccurrences(text string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(text, m) {
			n++
		}
	}
	return n
}

func sumOccurrences(text string, markers []string) int {
	n := 0
	for _, m := range markers {
		n += strings.Count(text, m)
	}
	return n
}

func scoreCode(text string) float64 {
	score := 0.0
	score += float64(countOccurrences(text, codeKeywords)) * 0.3
	score += float64(countOccurrences(text, codeSymbols)) * 0.2

	lines := strings.Split(text, "\n")
	if len(lines) > 0 {
		indented := len(codeIndentRe.FindAllString(text, -1))
		score += (float64(indented) / float64(len(lines))) * 2.0
	}
	score += float64(countOccurrences(text, codeComments)) * 0.4

	if len(text) > 0 {
		brackets := strings.Count(text, "(") + strings.Count(text, ")") +
			strings.Count(text, "[") + strings.Count(text, "]") +
			strings.Count(text, "{") + strings.Count(text, "}")
		score += (float64(brackets) / float64(len(text))) * 10
	}
	return score
}

func scoreStructured(text string) float64 {
	score := 0.0
	score += float64(sumOccurrences(text, jsonIndicators)) * 0.1
	score += float64(sumOccurrences(text, xmlIndicators)) * 0.1

	if strings.Contains(text, ",") && strings.Contains(text, "\n") {
		lines := strings.Split(text, "\n")
		csvLike := 0
		for _, l := range lines {
			if strings.Count(l, ",") >= 2 {
				csvLike++
			}
		}
		if len(lines) > 0 {
			score += (float64(csvLike) / float64(len(lines))) * 3.0
		}
	}

	score += float64(sumOccurrences(text, yamlIndicators)) * 0.1
	score += float64(sumOccurrences(text, mdIndicators)) * 0.05
	score += float64(sumOccurrences(text, tableIndicators)) * 0.1
	return score
}

func scoreTechnical(lower string) float64 {
	score := 0.0
	score += float64(countOccurrences(lower, apiTerms)) * 0.2
	score += float64(countOccurrences(lower, configTerms)) * 0.15

	upper := strings.ToUpper(lower)
	dbCount := 0
	for _, t := range dbTerms {
		if strings.Contains(upper, t) {
			dbCount++
		}
	}
	score += float64(dbCount) * 0.25
	score += float64(countOccurrences(lower, mathSymbols)) * 0.1
	return score
}

func scoreList(text string) float64 {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return 0
	}
	listLines := 0
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		matched := false
		for _, ind := range listIndicators {
			if strings.HasPrefix(trimmed, ind) {
				matched = true
				break
			}
		}
		if !matched && numberedListRe.MatchString(l) {
			matched = true
		}
		if matched {
			listLines++
		}
	}
	return (float64(listLines) / float64(len(lines))) * 4.0
}

func scoreDialogue(text string) float64 {
	score := 0.0
	for _, p := range dialoguePatterns {
		score += float64(strings.Count(text, p)) * 0.1
	}

	lines := strings.Split(text, "\n")
	if len(lines) > 0 {
		speakerLines := 0
		for _, l := range lines {
			if speakerLineRe.MatchString(strings.TrimSpace(l)) {
				speakerLines++
			}
		}
		score += (float64(speakerLines) / float64(len(lines))) * 3.0
	}
	return score
}

// splitSentences is a lightweight sentence splitter shared by Smart
// Overlap's characteristic analysis and the semantic chunker.
func splitSentences(text string) []string {
	parts := sentenceEndRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// SmartOverlap implements spec §4.5's dynamic overlap algorithm: a base
// overlap by detected content type, adjusted by sentence-length,
// paragraph-density, and punctuation-density characteristics, clamped
// to [20, min(S/2, 500)].
func SmartOverlap(text string, chunkSize int, defaultOverlap int) (int, ContentType) {
	contentType := ClassifyContent(text)

	var base int
	switch contentType {
	case ContentTypeCode:
		base = minInt(50, chunkSize/10)
	case ContentTypeStructuredData:
		base = minInt(300, chunkSize/3)
	case ContentTypeTechnical:
		base = minInt(250, chunkSize/4)
	case ContentTypeList:
		base = minInt(100, chunkSize/8)
	case ContentTypeDialogue:
		base = minInt(200, chunkSize/5)
	default:
		base = defaultOverlap
	}

	adjusted := adjustOverlapByCharacteristics(text, base)

	maxOverlap := minInt(chunkSize/2, 500)
	const minOverlap = 20

	final := adjusted
	if final < minOverlap {
		final = minOverlap
	}
	if final > maxOverlap {
		final = maxOverlap
	}
	return final, contentType
}

func adjustOverlapByCharacteristics(text string, base int) int {
	factor := 1.0

	sample := text
	if len(sample) > 500 {
		sample = sample[:500]
	}
	sentences := splitSentences(sample)
	if len(sentences) > 0 {
		total := 0
		for _, s := range sentences {
			total += len(s)
		}
		avg := float64(total) / float64(len(sentences))
		switch {
		case avg > 150:
			factor *= 1.3
		case avg < 50:
			factor *= 0.8
		}
	}

	paragraphCount := strings.Count(text, "\n\n") + 1
	textLen := len(text)
	if textLen > 0 {
		density := float64(paragraphCount) / (float64(textLen) / 1000.0)
		switch {
		case density > 3:
			factor *= 0.9
		case density < 1:
			factor *= 1.2
		}
	}

	if textLen > 0 {
		punctCount := 0
		for _, p := range []string{".", ",", ";", ":", "!", "?"} {
			punctCount += strings.Count(text, p)
		}
		density := float64(punctCount) / float64(textLen)
		if density > 0.05 {
			factor *= 1.1
		}
	}

	return int(float64(base) * factor)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
