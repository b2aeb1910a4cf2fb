package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragcore/ragcore/internal/chunk"
	"github.com/ragcore/ragcore/internal/embed"
	"github.com/ragcore/ragcore/internal/store"
)

// fakeVectorStore is a minimal in-memory store.VectorStore double, kept
// in the teacher's convention of hand-written interface doubles rather
// than a mocking framework (see internal/embed/cached_test.go).
type fakeVectorStore struct {
	vectors map[string][]float32
	docOf   map[string]string
	addErr  error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{vectors: map[string][]float32{}, docOf: map[string]string{}}
}

func (f *fakeVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32, docIDs ...string) error {
	if f.addErr != nil {
		return f.addErr
	}
	for i, id := range ids {
		f.vectors[id] = vectors[i]
		if len(docIDs) == len(ids) {
			f.docOf[id] = docIDs[i]
		}
	}
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	return nil, nil
}

func (f *fakeVectorStore) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.vectors, id)
		delete(f.docOf, id)
	}
	return nil
}

func (f *fakeVectorStore) DeleteByDocID(ctx context.Context, docID string) (int, error) {
	n := 0
	for id, d := range f.docOf {
		if d == docID {
			delete(f.vectors, id)
			delete(f.docOf, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeVectorStore) AllIDs() []string {
	ids := make([]string, 0, len(f.vectors))
	for id := range f.vectors {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeVectorStore) Contains(id string) bool { _, ok := f.vectors[id]; return ok }
func (f *fakeVectorStore) Count() int               { return len(f.vectors) }
func (f *fakeVectorStore) Status() store.StoreStatus { return store.StatusHealthy }
func (f *fakeVectorStore) Save(path string) error    { return nil }
func (f *fakeVectorStore) Load(path string) error    { return nil }
func (f *fakeVectorStore) Close() error              { return nil }

var _ store.VectorStore = (*fakeVectorStore)(nil)

// fakeMetadataStore is a minimal in-memory store.MetadataStore double.
type fakeMetadataStore struct {
	docs       map[string]*store.IngestedDocument
	bySource   map[string]string
	chunks     map[string]*store.Chunk
	state      map[string]string
	saveDocErr error
	saveChErr  error
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{
		docs: map[string]*store.IngestedDocument{}, bySource: map[string]string{},
		chunks: map[string]*store.Chunk{}, state: map[string]string{},
	}
}

func (f *fakeMetadataStore) SaveDocument(ctx context.Context, doc *store.IngestedDocument) error {
	if f.saveDocErr != nil {
		return f.saveDocErr
	}
	f.docs[doc.ID] = doc
	f.bySource[doc.Source] = doc.ID
	return nil
}
func (f *fakeMetadataStore) GetDocument(ctx context.Context, id string) (*store.IngestedDocument, error) {
	return f.docs[id], nil
}
func (f *fakeMetadataStore) GetDocumentBySource(ctx context.Context, source string) (*store.IngestedDocument, error) {
	id, ok := f.bySource[source]
	if !ok {
		return nil, nil
	}
	return f.docs[id], nil
}
func (f *fakeMetadataStore) ListDocuments(ctx context.Context, filter func(*store.IngestedDocument) bool) ([]*store.IngestedDocument, error) {
	var out []*store.IngestedDocument
	for _, d := range f.docs {
		if filter == nil || filter(d) {
			out = append(out, d)
		}
	}
	return out, nil
}
func (f *fakeMetadataStore) DeleteDocument(ctx context.Context, id string) error {
	if d, ok := f.docs[id]; ok {
		delete(f.bySource, d.Source)
	}
	delete(f.docs, id)
	for cid, c := range f.chunks {
		if c.DocID == id {
			delete(f.chunks, cid)
		}
	}
	return nil
}
func (f *fakeMetadataStore) SaveChunks(ctx context.Context, chunks []*store.Chunk) error {
	if f.saveChErr != nil {
		return f.saveChErr
	}
	for _, c := range chunks {
		f.chunks[c.ID] = c
	}
	return nil
}
func (f *fakeMetadataStore) GetChunk(ctx context.Context, id string) (*store.Chunk, error) {
	return f.chunks[id], nil
}
func (f *fakeMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeMetadataStore) GetChunksByDoc(ctx context.Context, docID string) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, c := range f.chunks {
		if c.DocID == docID {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeMetadataStore) ListChunks(ctx context.Context, filter func(*store.Chunk) bool) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, c := range f.chunks {
		if filter == nil || filter(c) {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeMetadataStore) DeleteChunks(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.chunks, id)
	}
	return nil
}
func (f *fakeMetadataStore) DeleteChunksByDoc(ctx context.Context, docID string) (int, error) {
	n := 0
	for id, c := range f.chunks {
		if c.DocID == docID {
			delete(f.chunks, id)
			n++
		}
	}
	return n, nil
}
func (f *fakeMetadataStore) PutTicketCacheEntry(ctx context.Context, entry *store.TicketCacheEntry) error {
	return nil
}
func (f *fakeMetadataStore) GetTicketCacheEntry(ctx context.Context, externalID string) (*store.TicketCacheEntry, error) {
	return nil, nil
}
func (f *fakeMetadataStore) GetTicketCacheEntryByNumber(ctx context.Context, number string) (*store.TicketCacheEntry, error) {
	return nil, nil
}
func (f *fakeMetadataStore) ListTicketCacheEntries(ctx context.Context, filter func(*store.TicketCacheEntry) bool) ([]*store.TicketCacheEntry, error) {
	return nil, nil
}
func (f *fakeMetadataStore) DeleteTicketCacheEntry(ctx context.Context, externalID string) error {
	return nil
}
func (f *fakeMetadataStore) AppendFetchHistory(ctx context.Context, entry *store.FetchHistoryEntry) error {
	return nil
}
func (f *fakeMetadataStore) LastFetchHistory(ctx context.Context) (*store.FetchHistoryEntry, error) {
	return nil, nil
}
func (f *fakeMetadataStore) ListFetchHistory(ctx context.Context, limit int) ([]*store.FetchHistoryEntry, error) {
	return nil, nil
}
func (f *fakeMetadataStore) GetState(ctx context.Context, key string) (string, error) { return f.state[key], nil }
func (f *fakeMetadataStore) SetState(ctx context.Context, key, value string) error {
	f.state[key] = value
	return nil
}
func (f *fakeMetadataStore) Close() error                                             { return nil }

var _ store.MetadataStore = (*fakeMetadataStore)(nil)

func newTestEngine(t *testing.T) (*Engine, *fakeVectorStore, *fakeMetadataStore, *Registry) {
	t.Helper()
	chunker := chunk.NewRecursiveChunker(chunk.Config{ChunkSize: 50, BaseOverlap: 10, MinChunkSize: 1, MaxChunkSize: 2000}, nil)
	registry := NewRegistry()
	registry.Register(NewTextProcessor(chunker))

	vectors := newFakeVectorStore()
	metadata := newFakeMetadataStore()
	embedder := embed.NewStaticEmbedder()

	engine := New(registry, chunker, embedder, vectors, metadata, DefaultConfig(), nil)
	return engine, vectors, metadata, registry
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestEngine_Ingest_SimpleFile(t *testing.T) {
	engine, vectors, metadata, _ := newTestEngine(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "paris.txt", "The capital of France is Paris. Paris has a population of 2.1 million.")

	result, err := engine.Ingest(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Greater(t, result.ChunkCount, 0)
	assert.Equal(t, result.ChunkCount, result.EmbeddingCount)
	assert.Equal(t, result.ChunkCount, vectors.Count())

	doc, err := metadata.GetDocument(context.Background(), result.DocID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, result.ChunkCount, func() int {
		n := 0
		for _, c := range metadata.chunks {
			if c.DocID == doc.ID {
				n++
			}
		}
		return n
	}())
}

func TestEngine_Ingest_IdempotentOnUnchangedContent(t *testing.T) {
	engine, vectors, _, _ := newTestEngine(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "doc.txt", "stable content that will not change between ingests")

	first, err := engine.Ingest(context.Background(), path, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, first.Status)
	countAfterFirst := vectors.Count()

	second, err := engine.Ingest(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Equal(t, first.DocID, second.DocID)
	assert.Equal(t, countAfterFirst, vectors.Count())
}

func TestEngine_Ingest_ReingestsOnChangedContent(t *testing.T) {
	engine, _, metadata, _ := newTestEngine(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "doc.txt", "version one of the content")

	first, err := engine.Ingest(context.Background(), path, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, first.Status)

	require.NoError(t, os.WriteFile(path, []byte("version two, materially different content"), 0644))
	second, err := engine.Ingest(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, second.Status)

	doc, err := metadata.GetDocument(context.Background(), second.DocID)
	require.NoError(t, err)
	assert.Contains(t, doc.Metadata["content_type"], "plain_text")
}

func TestEngine_Ingest_EmptyFileSkipped(t *testing.T) {
	engine, vectors, _, _ := newTestEngine(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "empty.txt", "")

	result, err := engine.Ingest(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, result.Status)
	assert.Equal(t, 0, result.ChunkCount)
	assert.Equal(t, 0, vectors.Count())
}

func TestEngine_Ingest_NoProcessorForExtension(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "unknown.bin", "binary-ish content")

	_, err := engine.Ingest(context.Background(), path, nil)
	require.Error(t, err)
}

func TestEngine_Ingest_CompensatesOnMetadataFailure(t *testing.T) {
	engine, vectors, metadata, _ := newTestEngine(t)
	metadata.saveChErr = assertErr{"metadata unavailable"}
	dir := t.TempDir()
	path := writeTempFile(t, dir, "doc.txt", "content that will fail to persist to metadata")

	result, err := engine.Ingest(context.Background(), path, nil)
	require.Error(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, 0, vectors.Count(), "vectors must be compensated away when metadata writes fail")
}

func TestEngine_IngestDirectory(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	dir := t.TempDir()
	writeTempFile(t, dir, "a.txt", "alpha document content for directory ingestion test")
	writeTempFile(t, dir, "b.txt", "beta document content for directory ingestion test")
	writeTempFile(t, dir, "c.bin", "ignored binary content")

	summary, err := engine.IngestDirectory(context.Background(), dir, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FilesScanned)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
}

func TestEngine_IngestDirectory_ClearsCheckpointOnSuccess(t *testing.T) {
	engine, _, metadata, _ := newTestEngine(t)
	dir := t.TempDir()
	writeTempFile(t, dir, "a.txt", "alpha document content for checkpoint test")
	writeTempFile(t, dir, "b.txt", "beta document content for checkpoint test")

	_, err := engine.IngestDirectory(context.Background(), dir, 0, 2)
	require.NoError(t, err)

	raw, err := metadata.GetState(context.Background(), checkpointKey(dir))
	require.NoError(t, err)
	assert.Empty(t, raw, "a fully successful run must clear its checkpoint")
}

func TestEngine_IngestDirectory_ResumesFromCheckpoint(t *testing.T) {
	engine, _, metadata, _ := newTestEngine(t)
	dir := t.TempDir()
	writeTempFile(t, dir, "a.txt", "alpha document content for checkpoint resume test")
	writeTempFile(t, dir, "b.txt", "beta document content for checkpoint resume test")

	saveCheckpoint(context.Background(), metadata, nil, dir, directoryCheckpoint{
		Stage: stageEmbedding, Total: 2, Processed: 1, EmbedderModel: engine.embedder.ModelName(),
	})

	summary, err := engine.IngestDirectory(context.Background(), dir, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FilesScanned, "FilesScanned still reports the full directory listing")
	assert.Equal(t, 1, summary.Succeeded, "only the unprocessed file past the checkpoint is ingested")
}

func TestEngine_IngestDirectory_IgnoresCheckpointFromDifferentModel(t *testing.T) {
	engine, _, metadata, _ := newTestEngine(t)
	dir := t.TempDir()
	writeTempFile(t, dir, "a.txt", "alpha document content for model mismatch test")
	writeTempFile(t, dir, "b.txt", "beta document content for model mismatch test")

	saveCheckpoint(context.Background(), metadata, nil, dir, directoryCheckpoint{
		Stage: stageEmbedding, Total: 2, Processed: 1, EmbedderModel: "some-other-model",
	})

	summary, err := engine.IngestDirectory(context.Background(), dir, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded, "a checkpoint from a different embedder model is discarded, not resumed from")
}

func TestEngine_IngestText_TicketPath(t *testing.T) {
	engine, vectors, metadata, _ := newTestEngine(t)

	result, err := engine.IngestText(context.Background(), "ticket-INC00012345", store.SourceTypeTicket, "Incident INC00012345: network outage affecting building A. Priority: high.", map[string]string{"number": "INC00012345"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Greater(t, vectors.Count(), 0)

	doc, err := metadata.GetDocument(context.Background(), result.DocID)
	require.NoError(t, err)
	assert.Equal(t, "INC00012345", doc.Metadata["number"])
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
