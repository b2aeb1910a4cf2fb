package conversation

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// qualityWeights maps a segment's quality tag to its ranking weight,
// per ContextManager._rank_context_segments.
var qualityWeights = map[string]float64{
	QualityHigh:       1.0,
	QualityMedium:     0.7,
	QualityLow:        0.4,
	QualityConflicted: 0.2,
	QualityPoisoned:   0.0,
}

func qualityWeight(quality string) float64 {
	if w, ok := qualityWeights[quality]; ok {
		return w
	}
	return 0.5
}

// ContextManager assembles the context window fed to the LLM:
// gather -> filter -> rank -> assemble, per the original
// ContextManager.build_context_for_llm.
type ContextManager struct {
	maxLength    int // token-estimate budget for the assembled context
	minRelevance float64
}

func NewContextManager(maxLength int) *ContextManager {
	if maxLength <= 0 {
		maxLength = 4000
	}
	return &ContextManager{maxLength: maxLength, minRelevance: 0.3}
}

// BuildContext runs the full assembly pipeline and returns the
// assembled text, the segments that made the cut, and the aggregate
// quality of what was assembled.
func (m *ContextManager) BuildContext(s State, results []SearchResult, recentCount int) (string, []ContextSegment, string) {
	segments := GatherSegments(s, results, recentCount)
	filtered := m.FilterSegments(segments)
	ranked := RankSegments(filtered)
	return m.Assemble(ranked)
}

// GatherSegments builds candidate segments from the state's clean
// recent conversation plus the turn's search results, per
// _get_response_context_segments: a message segment's relevance is its
// quality score, a search segment's is its retrieval score, and both
// are tagged high only once validated. Search results need validation
// or a confident query variant to qualify at all.
func GatherSegments(s State, results []SearchResult, recentCount int) []ContextSegment {
	var segments []ContextSegment

	for _, msg := range s.RecentMessages(recentCount) {
		quality := QualityMedium
		if msg.Validated {
			quality = QualityHigh
		}
		segments = append(segments, ContextSegment{
			Content:        msg.Type + ": " + msg.Content,
			Source:         "conversation",
			Relevance:      msg.QualityScore,
			Quality:        quality,
			Timestamp:      msg.Timestamp,
			TokensEstimate: len(strings.Fields(msg.Content)),
		})
	}

	n := len(results)
	if n > 5 {
		n = 5
	}
	for _, r := range results[:n] {
		if !r.Validated && r.Confidence <= 0.7 {
			continue
		}
		quality := QualityMedium
		if r.Validated {
			quality = QualityHigh
		}
		segments = append(segments, ContextSegment{
			Content:        r.Text,
			Source:         "search",
			Relevance:      r.Score,
			Quality:        quality,
			Timestamp:      time.Now(),
			TokensEstimate: len(strings.Fields(r.Text)),
		})
	}

	return segments
}

// FilterSegments drops low-relevance, redundant, and poisoned
// segments, per _filter_context_segments: redundancy is an MD5 content
// hash, poisoning is the indicator scan.
func (m *ContextManager) FilterSegments(segments []ContextSegment) []ContextSegment {
	var out []ContextSegment
	seen := make(map[string]bool, len(segments))

	for _, seg := range segments {
		if seg.Relevance < m.minRelevance {
			continue
		}
		h := contentHash(seg.Content)
		if seen[h] {
			continue
		}
		seen[h] = true
		if poisoned, _ := DetectContentPoisoning(seg.Content); poisoned {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// RankSegments orders segments by the composite score
// relevance*0.7 + quality_weight*0.3, per _rank_context_segments.
func RankSegments(segments []ContextSegment) []ContextSegment {
	ranked := append([]ContextSegment(nil), segments...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return compositeScore(ranked[i]) > compositeScore(ranked[j])
	})
	return ranked
}

func compositeScore(seg ContextSegment) float64 {
	return seg.Relevance*0.7 + qualityWeight(seg.Quality)*0.3
}

// Assemble concatenates ranked segments until the token-estimate
// budget is spent and aggregates their quality, per _assemble_context:
// poisoned if any segment is poisoned, conflicted if any is
// conflicted, high only when every segment is high, otherwise medium;
// an empty assembly is low.
func (m *ContextManager) Assemble(segments []ContextSegment) (string, []ContextSegment, string) {
	var parts []string
	var used []ContextSegment
	total := 0

	for _, seg := range segments {
		if total+seg.TokensEstimate > m.maxLength {
			break
		}
		parts = append(parts, seg.Content)
		total += seg.TokensEstimate
		used = append(used, seg)
	}

	return strings.Join(parts, "\n\n"), used, OverallQuality(used)
}

// OverallQuality aggregates segment quality tags, worst tag first.
func OverallQuality(segments []ContextSegment) string {
	if len(segments) == 0 {
		return QualityLow
	}
	anyPoisoned, anyConflicted, allHigh := false, false, true
	for _, seg := range segments {
		switch seg.Quality {
		case QualityPoisoned:
			anyPoisoned = true
			allHigh = false
		case QualityConflicted:
			anyConflicted = true
			allHigh = false
		case QualityHigh:
		default:
			allHigh = false
		}
	}
	switch {
	case anyPoisoned:
		return QualityPoisoned
	case anyConflicted:
		return QualityConflicted
	case allHigh:
		return QualityHigh
	default:
		return QualityMedium
	}
}

func contentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])[:8]
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,!?;:\"'()")] = true
	}
	return set
}

// poisoningIndicators are the hardcoded prompt-injection phrases
// detect_context_poisoning checks for.
var poisoningIndicators = []string{
	"ignore previous instructions",
	"forget your training",
	"you are now",
	"new role:",
	"system: you are",
}

// DetectContentPoisoning checks a single piece of content against the
// indicator list, returning every indicator it matched.
func DetectContentPoisoning(content string) (bool, []string) {
	lower := strings.ToLower(content)
	var hits []string
	for _, indicator := range poisoningIndicators {
		if strings.Contains(lower, indicator) {
			hits = append(hits, indicator)
		}
	}
	return len(hits) > 0, hits
}
