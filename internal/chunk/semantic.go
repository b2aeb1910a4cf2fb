package chunk

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ragcore/ragcore/internal/embed"
	ragerrors "github.com/ragcore/ragcore/internal/errors"
)

// SemanticChunker splits text into sentences, embeds each via a small
// internal encoder, and places boundaries where consecutive-sentence
// similarity drops below an adaptive per-document threshold
// (mean - factor*sigma), enforcing [MinChunkSize, MaxChunkSize]. Falls
// back to RecursiveChunker when the encoder is unavailable, matching
// spec §7's chunker-degradation policy.
type SemanticChunker struct {
	cfg      Config
	encoder  embed.Embedder
	fallback *RecursiveChunker
	logger   *slog.Logger
}

var _ Chunker = (*SemanticChunker)(nil)

// NewSemanticChunker builds a SemanticChunker. encoder may be nil, in
// which case Chunk always delegates to the recursive fallback.
func NewSemanticChunker(cfg Config, encoder embed.Embedder, logger *slog.Logger) *SemanticChunker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SemanticChunker{
		cfg:      cfg,
		encoder:  encoder,
		fallback: NewRecursiveChunker(cfg, logger),
		logger:   logger,
	}
}

func (c *SemanticChunker) Name() Method { return MethodSemantic }

func (c *SemanticChunker) Chunk(ctx context.Context, text string, metadata map[string]string) ([]*Chunk, error) {
	if c.encoder == nil || !c.encoder.Available(ctx) {
		c.logger.Debug("semantic_chunker_degraded", slog.String("reason", "encoder_unavailable"))
		return c.fallback.Chunk(ctx, text, metadata)
	}

	cleaned := CleanText(text)
	if cleaned == "" {
		return nil, nil
	}

	sentences := splitSentences(cleaned)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return c.sentencesToChunks(sentences, metadata)
	}

	if len(sentences) > c.cfg.SemanticBucketThreshold {
		return c.chunkBucketed(ctx, sentences, metadata)
	}

	groups, err := c.boundaryGroups(ctx, sentences)
	if err != nil {
		c.logger.Debug("semantic_chunker_degraded", slog.String("reason", err.Error()))
		return c.fallback.Chunk(ctx, text, metadata)
	}

	return c.groupsToChunks(groups, metadata)
}

// chunkBucketed bounds embedding memory for very long inputs: it first
// forms rough size-bucketed pre-chunks (by sentence count), then
// semantically refines each bucket independently before reassembling a
// single, correctly re-indexed chunk list.
func (c *SemanticChunker) chunkBucketed(ctx context.Context, sentences []string, metadata map[string]string) ([]*Chunk, error) {
	bucketSize := c.cfg.SemanticBucketThreshold / 2
	if bucketSize < 1 {
		bucketSize = 1
	}

	var all []*Chunk
	for start := 0; start < len(sentences); start += bucketSize {
		end := start + bucketSize
		if end > len(sentences) {
			end = len(sentences)
		}
		bucket := sentences[start:end]

		groups, err := c.boundaryGroups(ctx, bucket)
		if err != nil {
			joined := strings.Join(bucket, " ")
			fb, ferr := c.fallback.Chunk(ctx, joined, metadata)
			if ferr != nil {
				return nil, ferr
			}
			all = append(all, fb...)
			continue
		}
		chunks, err := c.groupsToChunks(groups, metadata)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}

	for i, ch := range all {
		ch.Index = i
	}
	for _, ch := range all {
		ch.TotalChunks = len(all)
	}
	return all, nil
}

// boundaryGroups embeds every sentence, computes consecutive cosine
// similarities, and groups sentences between adaptive-threshold drops.
func (c *SemanticChunker) boundaryGroups(ctx context.Context, sentences []string) ([][]string, error) {
	vectors, err := c.encoder.EmbedBatch(ctx, sentences)
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeEmbeddingFailed, "semantic chunker embedding failed", err)
	}
	if len(vectors) != len(sentences) {
		return nil, ragerrors.New(ragerrors.ErrCodeEmbeddingFailed, "semantic chunker embedding count mismatch", nil)
	}

	sims := make([]float64, 0, len(sentences)-1)
	for i := 0; i+1 < len(vectors); i++ {
		sims = append(sims, cosineSimilarity(vectors[i], vectors[i+1]))
	}

	mean, std := meanStd(sims)
	threshold := mean - c.cfg.SimilarityDropFactor*std
	c.logger.Debug("semantic_boundary_threshold",
		slog.Float64("mean", mean), slog.Float64("std", std), slog.Float64("threshold", threshold))

	var groups [][]string
	cur := []string{sentences[0]}
	for i, sim := range sims {
		next := sentences[i+1]
		if sim < threshold && groupSize(cur) >= c.cfg.MinChunkSize {
			groups = append(groups, cur)
			cur = []string{next}
		} else {
			cur = append(cur, next)
		}
	}
	groups = append(groups, cur)

	return enforceSizeBounds(groups, c.cfg), nil
}

func groupSize(sentences []string) int {
	n := 0
	for _, s := range sentences {
		n += len(s)
	}
	return n
}

// enforceSizeBounds merges undersized adjacent groups and splits
// oversized ones so every group falls within [MinChunkSize,
// MaxChunkSize], matching the min_chunk_size <= chunk <= max_chunk_size
// invariant in spec §4.5.
func enforceSizeBounds(groups [][]string, cfg Config) [][]string {
	if len(groups) == 0 {
		return groups
	}

	// Merge pass: fold undersized groups into the next one.
	merged := make([][]string, 0, len(groups))
	var pending []string
	for i, g := range groups {
		pending = append(pending, g...)
		isLast := i == len(groups)-1
		if groupSize(pending) >= cfg.MinChunkSize || isLast {
			merged = append(merged, pending)
			pending = nil
		}
	}

	// Split pass: break oversized groups at sentence boundaries.
	var final [][]string
	for _, g := range merged {
		if cfg.MaxChunkSize <= 0 || groupSize(g) <= cfg.MaxChunkSize {
			final = append(final, g)
			continue
		}
		var cur []string
		for _, s := range g {
			if groupSize(cur)+len(s) > cfg.MaxChunkSize && len(cur) > 0 {
				final = append(final, cur)
				cur = nil
			}
			cur = append(cur, s)
		}
		if len(cur) > 0 {
			final = append(final, cur)
		}
	}
	return final
}

func (c *SemanticChunker) groupsToChunks(groups [][]string, metadata map[string]string) ([]*Chunk, error) {
	now := time.Now()
	chunks := make([]*Chunk, 0, len(groups))
	for _, g := range groups {
		text := strings.TrimSpace(strings.Join(g, ""))
		if text == "" {
			continue
		}
		chunks = append(chunks, &Chunk{
			Text:        text,
			Size:        len(text),
			Method:      MethodSemantic,
			ContentType: ClassifyContent(text),
			Metadata:    cloneMetadata(metadata),
			CreatedAt:   now,
		})
	}
	for i, ch := range chunks {
		ch.Index = i
		ch.TotalChunks = len(chunks)
	}
	return chunks, nil
}

func (c *SemanticChunker) sentencesToChunks(sentences []string, metadata map[string]string) ([]*Chunk, error) {
	text := strings.TrimSpace(strings.Join(sentences, ""))
	return []*Chunk{{
		Text:        text,
		Index:       0,
		Size:        len(text),
		TotalChunks: 1,
		Method:      MethodSemantic,
		ContentType: ClassifyContent(text),
		Metadata:    cloneMetadata(metadata),
		CreatedAt:   time.Now(),
	}}, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}
