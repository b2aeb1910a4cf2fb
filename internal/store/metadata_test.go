package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetadataStore(t *testing.T) *SQLiteMetadataStore {
	t.Helper()
	s, err := NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteMetadataStore_DocumentCRUD(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	doc := &IngestedDocument{
		ID:           "doc-1",
		Source:       "/data/incident-123.pdf",
		SourceType:   SourceTypePDF,
		OriginalName: "incident-123.pdf",
		UploadedAt:   time.Now().UTC().Truncate(time.Second),
		ContentHash:  "hash-abc",
		Processor:    "pdf",
		Metadata:     map[string]string{"pages": "3"},
	}
	require.NoError(t, s.SaveDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Source, got.Source)
	assert.Equal(t, doc.SourceType, got.SourceType)
	assert.Equal(t, "3", got.Metadata["pages"])

	bySource, err := s.GetDocumentBySource(ctx, doc.Source)
	require.NoError(t, err)
	require.NotNil(t, bySource)
	assert.Equal(t, doc.ID, bySource.ID)

	missing, err := s.GetDocumentBySource(ctx, "/no/such/path")
	require.NoError(t, err)
	assert.Nil(t, missing)

	docs, err := s.ListDocuments(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, s.DeleteDocument(ctx, "doc-1"))
	_, err = s.GetDocument(ctx, "doc-1")
	assert.Error(t, err)
}

func TestSQLiteMetadataStore_ChunkCRUDAndCascadeDelete(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	doc := &IngestedDocument{ID: "doc-1", Source: "s", SourceType: SourceTypeText, UploadedAt: time.Now()}
	require.NoError(t, s.SaveDocument(ctx, doc))

	chunks := []*Chunk{
		{ID: "c1", DocID: "doc-1", Index: 0, Text: "first chunk", Embedding: []float32{0.1, 0.2}},
		{ID: "c2", DocID: "doc-1", Index: 1, Text: "second chunk"},
	}
	require.NoError(t, s.SaveChunks(ctx, chunks))

	got, err := s.GetChunk(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "first chunk", got.Text)
	assert.Equal(t, []float32{0.1, 0.2}, got.Embedding)

	byDoc, err := s.GetChunksByDoc(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, byDoc, 2)
	assert.Equal(t, 0, byDoc[0].Index)

	batch, err := s.GetChunks(ctx, []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	// Cascade delete: removing the document removes its chunks.
	require.NoError(t, s.DeleteDocument(ctx, "doc-1"))
	remaining, err := s.GetChunksByDoc(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSQLiteMetadataStore_DeleteChunksByDoc(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDocument(ctx, &IngestedDocument{ID: "doc-1", Source: "s", UploadedAt: time.Now()}))
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "c1", DocID: "doc-1", Index: 0, Text: "a"},
		{ID: "c2", DocID: "doc-1", Index: 1, Text: "b"},
	}))

	n, err := s.DeleteChunksByDoc(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteMetadataStore_TicketCacheCRUD(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	entry := &TicketCacheEntry{
		ExternalID:     "sys-1",
		ExternalNumber: "INC00012345",
		Payload:        `{"short_description":"disk full"}`,
		ContentHash:    "h1",
		FetchedAt:      time.Now().UTC().Truncate(time.Second),
		UpdatedAt:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.PutTicketCacheEntry(ctx, entry))

	got, err := s.GetTicketCacheEntry(ctx, "sys-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.ExternalNumber, got.ExternalNumber)
	assert.False(t, got.Ingested)

	byNumber, err := s.GetTicketCacheEntryByNumber(ctx, "INC00012345")
	require.NoError(t, err)
	require.NotNil(t, byNumber)
	assert.Equal(t, "sys-1", byNumber.ExternalID)

	entry.Ingested = true
	entry.IngestionResult = "ok"
	require.NoError(t, s.PutTicketCacheEntry(ctx, entry))

	updated, err := s.GetTicketCacheEntry(ctx, "sys-1")
	require.NoError(t, err)
	assert.True(t, updated.Ingested)
	assert.Equal(t, "ok", updated.IngestionResult)

	all, err := s.ListTicketCacheEntries(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteTicketCacheEntry(ctx, "sys-1"))
	gone, err := s.GetTicketCacheEntry(ctx, "sys-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSQLiteMetadataStore_FetchHistory(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	e1 := &FetchHistoryEntry{FetchTime: time.Now().Add(-time.Hour), FetchedCount: 5, IngestedCount: 4, DurationSeconds: 1.2}
	e2 := &FetchHistoryEntry{FetchTime: time.Now(), FetchedCount: 3, IngestedCount: 3, DurationSeconds: 0.5}
	require.NoError(t, s.AppendFetchHistory(ctx, e1))
	require.NoError(t, s.AppendFetchHistory(ctx, e2))
	assert.NotZero(t, e1.ID)
	assert.NotZero(t, e2.ID)

	last, err := s.LastFetchHistory(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 3, last.FetchedCount)

	all, err := s.ListFetchHistory(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteMetadataStore_State(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, s.SetState(ctx, StateKeyIndexModel, "embed-model-v1"))
	v, err = s.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	assert.Equal(t, "embed-model-v1", v)

	require.NoError(t, s.SetState(ctx, StateKeyIndexModel, "embed-model-v2"))
	v, err = s.GetState(ctx, StateKeyIndexModel)
	require.NoError(t, err)
	assert.Equal(t, "embed-model-v2", v)
}

func TestSQLiteMetadataStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.db")

	s1, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s1.SaveDocument(ctx, &IngestedDocument{ID: "doc-1", Source: "s", UploadedAt: time.Now()}))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ID)
}
