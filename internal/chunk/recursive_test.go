package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecursiveChunker_SimpleText(t *testing.T) {
	cfg := Config{ChunkSize: 50, BaseOverlap: 10, MinChunkSize: 1}
	c := NewRecursiveChunker(cfg, nil)

	text := "The capital of France is Paris. Paris has a population of 2.1 million."
	chunks, err := c.Chunk(context.Background(), text, nil)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		require.Equal(t, i, ch.Index)
		require.Equal(t, len(chunks), ch.TotalChunks)
		require.Equal(t, MethodRecursive, ch.Method)
		require.NotEmpty(t, ch.Text)
	}
}

func TestRecursiveChunker_EmptyText(t *testing.T) {
	c := NewRecursiveChunker(DefaultConfig(), nil)
	chunks, err := c.Chunk(context.Background(), "   ", nil)
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestRecursiveChunker_MergesCallerMetadata(t *testing.T) {
	c := NewRecursiveChunker(Config{ChunkSize: 1000, BaseOverlap: 100, MinChunkSize: 1}, nil)
	chunks, err := c.Chunk(context.Background(), "short text body", map[string]string{"page": "3"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "3", chunks[0].Metadata["page"])
}

func TestCleanText_CollapsesWhitespaceAndControlChars(t *testing.T) {
	got := CleanText("hello\t\t  world\x01\x02\n\n\nfoo")
	require.Equal(t, "hello world foo", got)
}

func TestSmartOverlap_ClampedToBounds(t *testing.T) {
	overlap, _ := SmartOverlap("plain prose text without special markers.", 40, 200)
	require.GreaterOrEqual(t, overlap, 20)
	require.LessOrEqual(t, overlap, 40/2)
}

func TestClassifyContent_Code(t *testing.T) {
	code := `
func main() {
	if x == 1 {
		return
	}
}
`
	require.Equal(t, ContentTypeCode, ClassifyContent(code))
}

func TestClassifyContent_List(t *testing.T) {
	list := "- first item\n- second item\n- third item\n- fourth item\n"
	require.Equal(t, ContentTypeList, ClassifyContent(list))
}
