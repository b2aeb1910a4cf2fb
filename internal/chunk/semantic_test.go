package chunk

import (
	"context"
	"testing"

	"github.com/ragcore/ragcore/internal/embed"
	"github.com/stretchr/testify/require"
)

func newTestEncoder(t *testing.T) embed.Embedder {
	t.Helper()
	return embed.NewStaticEmbedder()
}

func TestSemanticChunker_SingleSentence(t *testing.T) {
	enc := newTestEncoder(t)
	defer enc.Close()

	c := NewSemanticChunker(DefaultConfig(), enc, nil)
	chunks, err := c.Chunk(context.Background(), "This is one sentence.", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, 1, chunks[0].TotalChunks)
}

func TestSemanticChunker_FallsBackWhenEncoderUnavailable(t *testing.T) {
	c := NewSemanticChunker(DefaultConfig(), nil, nil)
	chunks, err := c.Chunk(context.Background(), "Sentence one. Sentence two. Sentence three.", nil)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	require.Equal(t, MethodRecursive, chunks[0].Method)
}

func TestSemanticChunker_MultiSentenceProducesBoundedGroups(t *testing.T) {
	enc := newTestEncoder(t)
	defer enc.Close()

	cfg := Config{ChunkSize: 200, MinChunkSize: 5, MaxChunkSize: 500, SimilarityDropFactor: 0.5, SemanticBucketThreshold: 500}
	c := NewSemanticChunker(cfg, enc, nil)

	text := "Paris is the capital of France. It has a population of 2.1 million. " +
		"The Eiffel Tower is in Paris. Rockets use liquid fuel for propulsion. " +
		"Mars is a red planet with two small moons."
	chunks, err := c.Chunk(context.Background(), text, nil)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		require.LessOrEqual(t, ch.Size, cfg.MaxChunkSize)
	}
}
