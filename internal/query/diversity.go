package query

import "strings"

// DefaultMaxChunksPerDoc bounds how many chunks from a single document
// can appear in a diverse selection, per spec's greedy diverse-selection
// algorithm.
const DefaultMaxChunksPerDoc = 3

// ApplySourceDiversityScoring runs the two-step diversity pipeline from
// query_engine.py's _apply_source_diversity_scoring: score every
// result's diversity components and final_score, then greedily select
// topK of them respecting maxChunksPerDoc.
func ApplySourceDiversityScoring(results []Result, topK int, diversityWeight float64, maxChunksPerDoc int) []Result {
	if len(results) == 0 {
		return results
	}
	scored := CalculateDiversityScores(results, diversityWeight)
	return SelectDiverseSources(scored, topK, maxChunksPerDoc)
}

// CalculateDiversityScores computes doc/source-type/author/temporal/
// content diversity components and the final blended score for every
// result, then returns them sorted by descending FinalScore. Ports
// query_engine.py's _calculate_diversity_scores.
func CalculateDiversityScores(results []Result, diversityWeight float64) []Result {
	total := len(results)
	docCounts := map[string]int{}
	typeCounts := map[string]int{}
	authorCounts := map[string]int{}
	dateCounts := map[string]int{}

	key := func(s string) string {
		if s == "" {
			return "unknown"
		}
		return s
	}

	for _, r := range results {
		docCounts[key(r.DocID)]++
		typeCounts[key(r.SourceType)]++
		authorCounts[key(r.Author)]++
		dateCounts[key(r.CreatedDate)]++
	}

	scored := make([]Result, len(results))
	copy(scored, results)

	for i, r := range scored {
		docID, srcType, author, date := key(r.DocID), key(r.SourceType), key(r.Author), key(r.CreatedDate)

		docDiv := 1.0 - float64(docCounts[docID])/float64(total)
		typeDiv := 1.0 - float64(typeCounts[srcType])/float64(total)
		authorDiv := 1.0 - float64(authorCounts[author])/float64(total)
		temporalDiv := 1.0 - float64(dateCounts[date])/float64(total)
		contentDiv := contentDiversityScore(r, scored)

		diversity := docDiv*0.3 + typeDiv*0.2 + authorDiv*0.15 + temporalDiv*0.1 + contentDiv*0.25

		relevance := r.SimilarityScore
		if r.WeightedScore != 0 {
			relevance = r.WeightedScore
		}
		if r.RerankScore != 0 {
			relevance = r.RerankScore
		}

		final := relevance*(1-diversityWeight) + diversity*diversityWeight

		scored[i].DocDiversityScore = docDiv
		scored[i].SourceTypeDiversityScore = typeDiv
		scored[i].AuthorDiversityScore = authorDiv
		scored[i].TemporalDiversityScore = temporalDiv
		scored[i].ContentDiversityScore = contentDiv
		scored[i].DiversityScore = diversity
		scored[i].RelevanceScore = relevance
		scored[i].FinalScore = final
	}

	sortByFinalScoreDesc(scored)
	return scored
}

func contentDiversityScore(target Result, all []Result) float64 {
	if target.Text == "" {
		return 0.5
	}
	var sum float64
	var n int
	for _, other := range all {
		if other.ChunkID == target.ChunkID {
			continue
		}
		if other.Text == "" {
			continue
		}
		sum += textSimilarity(target.Text, other.Text)
		n++
	}
	if n == 0 {
		return 1.0
	}
	diversity := 1.0 - sum/float64(n)
	return clamp01(diversity)
}

// textSimilarity is word-set Jaccard similarity, per
// query_engine.py's _calculate_text_similarity.
func textSimilarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// SelectDiverseSources runs the three-phase greedy selection from
// query_engine.py's _select_diverse_sources: first pass prioritizes
// new documents/source-types/authors or under-limit documents, second
// pass fills remaining slots from any under-limit document, final pass
// re-sorts the selection by FinalScore.
func SelectDiverseSources(scored []Result, topK int, maxChunksPerDoc int) []Result {
	if len(scored) == 0 || topK <= 0 {
		return nil
	}
	if maxChunksPerDoc <= 0 {
		maxChunksPerDoc = DefaultMaxChunksPerDoc
	}

	seenDocs := map[string]bool{}
	seenTypes := map[string]bool{}
	seenAuthors := map[string]bool{}
	chunkCounts := map[string]int{}

	selected := make([]Result, 0, topK)
	selectedIdx := map[int]bool{}

	key := func(s string) string {
		if s == "" {
			return "unknown"
		}
		return s
	}

	for i, r := range scored {
		if len(selected) >= topK {
			break
		}
		docID, srcType, author := key(r.DocID), key(r.SourceType), key(r.Author)
		// No branch admits a chunk from a document already at its cap.
		if chunkCounts[docID] >= maxChunksPerDoc {
			continue
		}

		shouldSelect := false
		if !seenDocs[docID] {
			shouldSelect = true
			seenDocs[docID] = true
		} else if !seenTypes[srcType] {
			shouldSelect = true
			seenTypes[srcType] = true
		} else if !seenAuthors[author] {
			shouldSelect = true
			seenAuthors[author] = true
		} else if chunkCounts[docID] < maxChunksPerDoc {
			shouldSelect = true
		}

		if shouldSelect {
			selected = append(selected, r)
			selectedIdx[i] = true
			chunkCounts[docID]++
		}
	}

	remaining := topK - len(selected)
	if remaining > 0 {
		for i, r := range scored {
			if remaining <= 0 {
				break
			}
			if selectedIdx[i] {
				continue
			}
			docID := key(r.DocID)
			if chunkCounts[docID] < maxChunksPerDoc {
				selected = append(selected, r)
				chunkCounts[docID]++
				remaining--
			}
		}
	}

	sortByFinalScoreDesc(selected)
	if len(selected) > topK {
		selected = selected[:topK]
	}
	return selected
}

func sortByFinalScoreDesc(results []Result) {
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && results[j-1].FinalScore < results[j].FinalScore {
			results[j-1], results[j] = results[j], results[j-1]
			j--
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CalculateDiversityMetrics summarizes the diversity of a final result
// set for operator-facing reporting, per
// query_engine.py's _calculate_diversity_metrics.
func CalculateDiversityMetrics(results []Result) DiversityMetrics {
	if len(results) == 0 {
		return DiversityMetrics{
			DocumentDistribution:   map[string]int{},
			SourceTypeDistribution: map[string]int{},
			AuthorDistribution:     map[string]int{},
		}
	}

	docs := map[string]int{}
	types := map[string]int{}
	authors := map[string]int{}
	for _, r := range results {
		docs[nonEmpty(r.DocID)]++
		types[nonEmpty(r.SourceType)]++
		authors[nonEmpty(r.Author)]++
	}

	total := float64(len(results))
	diversityIndex := (float64(len(docs))/total)*0.5 + (float64(len(types))/total)*0.3 + (float64(len(authors))/total)*0.2

	return DiversityMetrics{
		UniqueDocuments:        len(docs),
		UniqueSourceTypes:      len(types),
		UniqueAuthors:          len(authors),
		DocumentDistribution:   docs,
		SourceTypeDistribution: types,
		AuthorDistribution:     authors,
		DiversityIndex:         clamp01(diversityIndex),
	}
}

func nonEmpty(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
