// Package store provides vector storage (HNSW), BM25 keyword index, and
// metadata persistence (SQLite) — the persistence layer for all indexed
// documents, chunks, and external-source cache entries.
package store

import (
	"context"
	"fmt"
	"time"
)

// SourceType classifies the origin of an ingested document.
type SourceType string

const (
	SourceTypePDF         SourceType = "pdf"
	SourceTypeSpreadsheet SourceType = "spreadsheet"
	SourceTypeWord        SourceType = "word"
	SourceTypeText        SourceType = "text"
	SourceTypeImage       SourceType = "image"
	SourceTypeTicket      SourceType = "ticket"
	SourceTypeOther       SourceType = "other"
)

// State keys for metadata store dimension/model tracking.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index
	StateKeyIndexModel = "index_embedding_model"
)

// StateKeyCheckpointPrefix namespaces the per-directory ingestion
// checkpoints IngestDirectory persists to the kv_state table so a
// crashed or interrupted batch can resume without re-embedding chunks
// it already wrote. The full key is StateKeyCheckpointPrefix + a
// stable hash of the directory root being ingested.
const StateKeyCheckpointPrefix = "ingest_checkpoint:"

// IngestedDocument is a source document that has been (or is being)
// indexed. It is immutable once written, except for cascade-delete of
// its chunks — re-ingesting the same source path produces the same ID
// and is treated as a no-op when the content hash is unchanged.
type IngestedDocument struct {
	ID          string            // stable hash of source path + mtime
	Source      string            // source path or identifier
	SourceType  SourceType        // pdf, spreadsheet, word, text, image, ticket, other
	OriginalName string           // original filename as presented to the processor
	UploadedAt  time.Time
	ContentHash string            // hash of raw content, used for idempotent skip
	Processor   string            // name of the processor that handled this document
	Metadata    map[string]string // raw processor-supplied metadata
}

// Chunk is a retrievable unit of text belonging to exactly one document.
type Chunk struct {
	ID        string            // stable hash of doc ID + chunk index + text hash
	DocID     string            // owning document
	Index     int               // position within the document, 0-based
	Text      string            // chunk body, non-empty
	Metadata  map[string]string // semantic metadata (section, page, speaker, ...)
	Embedding []float32         // precomputed embedding, nil if not yet embedded
	CreatedAt time.Time
}

// TicketCacheEntry is a cached copy of an external ticket, keyed by the
// external system's own identifier. Backs the `tickets_cache` collection.
type TicketCacheEntry struct {
	ExternalID       string // e.g. ServiceNow sys_id, unique
	ExternalNumber   string // e.g. INC00012345, unique
	Payload          string // serialized ticket payload (JSON)
	ContentHash      string
	FetchedAt        time.Time
	UpdatedAt        time.Time
	Ingested         bool
	IngestionResult  string // human-readable outcome of the last ingestion attempt
}

// FetchHistoryEntry records one run of the external-source scheduler,
// backing the `fetch_history` collection used for operator visibility
// and for computing the "since" watermark of the next incremental pull.
type FetchHistoryEntry struct {
	ID             int64
	FetchTime      time.Time
	FetchedCount   int
	IngestedCount  int
	SkippedCount   int
	ErrorCount     int
	Errors         string // newline-joined error summaries, empty if none
	DurationSeconds float64
}

// MetadataStore persists documents, chunks, and external-source cache
// entries in SQLite. Collections correspond to `documents`, `chunks`,
// `tickets_cache`, and `fetch_history`.
type MetadataStore interface {
	// Document operations
	SaveDocument(ctx context.Context, doc *IngestedDocument) error
	GetDocument(ctx context.Context, id string) (*IngestedDocument, error)
	GetDocumentBySource(ctx context.Context, source string) (*IngestedDocument, error)
	ListDocuments(ctx context.Context, filter func(*IngestedDocument) bool) ([]*IngestedDocument, error)
	DeleteDocument(ctx context.Context, id string) error // cascades to chunks

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByDoc(ctx context.Context, docID string) ([]*Chunk, error)
	ListChunks(ctx context.Context, filter func(*Chunk) bool) ([]*Chunk, error)
	DeleteChunks(ctx context.Context, ids []string) error
	DeleteChunksByDoc(ctx context.Context, docID string) (int, error)

	// External ticket cache operations
	PutTicketCacheEntry(ctx context.Context, entry *TicketCacheEntry) error
	GetTicketCacheEntry(ctx context.Context, externalID string) (*TicketCacheEntry, error)
	GetTicketCacheEntryByNumber(ctx context.Context, number string) (*TicketCacheEntry, error)
	ListTicketCacheEntries(ctx context.Context, filter func(*TicketCacheEntry) bool) ([]*TicketCacheEntry, error)
	DeleteTicketCacheEntry(ctx context.Context, externalID string) error

	// Fetch history operations
	AppendFetchHistory(ctx context.Context, entry *FetchHistoryEntry) error
	LastFetchHistory(ctx context.Context) (*FetchHistoryEntry, error)
	ListFetchHistory(ctx context.Context, limit int) ([]*FetchHistoryEntry, error)

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// IndexInfo contains comprehensive information about an index for
// operator-facing inspection commands.
type IndexInfo struct {
	Location    string // index data directory
	DataRoot    string // configured data root

	IndexModel      string // embedding model name used to build the index
	IndexBackend    string // embedding backend (http, static)
	IndexDimensions int

	ChunkCount      int
	DocumentCount   int
	IndexSizeBytes  int64
	BM25SizeBytes   int64
	VectorSizeBytes int64

	CreatedAt time.Time
	UpdatedAt time.Time

	CurrentModel      string
	CurrentBackend    string
	CurrentDimensions int
	Compatible        bool
}

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// Document represents a unit of text to be indexed in the BM25 keyword
// index. Distinct from IngestedDocument: this is the BM25 engine's own
// input shape (one entry per chunk, not per source document).
type Document struct {
	ID      string // chunk ID
	Content string // chunk text
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search using the BM25 algorithm, used as
// the optional keyword-assist path alongside vector search.
type BM25Index interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2)
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords contains common English stop words to filter out.
var DefaultStopWords = []string{
	"the", "a", "an", "and", "or", "but", "is", "are", "was", "were",
	"in", "on", "at", "to", "for", "of", "with", "by", "this", "that",
	"it", "as", "be", "has", "have", "had",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // chunk ID
	Distance float32 // lower is more similar (0-2 for cosine)
	Score    float32 // normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension, determined by the active embedder
	Dimensions int

	// Quantization is the vector precision: "f32", "f16", "i8" (default: "f16")
	Quantization string

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 32)
	M int

	// EfConstruction is HNSW build-time search width (default: 128)
	EfConstruction int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// StoreStatus reports the health of a VectorStore's persistence path.
type StoreStatus string

const (
	// StatusHealthy means reads and writes are both proceeding normally.
	StatusHealthy StoreStatus = "healthy"
	// StatusWriteDegraded means persistence has failed twice in a row;
	// the store continues to serve reads from memory but refuses writes
	// until an operator clears the condition (see spec's C1 failure model).
	StatusWriteDegraded StoreStatus = "write_degraded"
)

// VectorStore provides semantic search using the HNSW algorithm.
type VectorStore interface {
	// Add inserts vectors with their IDs, atomically (all-or-nothing). If
	// an ID already exists it is replaced. docIDs, when non-empty, is a
	// parallel slice of owning document IDs used to maintain a
	// doc-to-chunk reverse index for DeleteByDocID; pass nil to skip
	// that bookkeeping for this batch.
	Add(ctx context.Context, ids []string, vectors [][]float32, docIDs ...string) error

	// Search finds k nearest neighbors to query vector, ordered by
	// descending score with ties broken by ascending ID.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// DeleteByDocID removes every vector belonging to the given document
	// and returns the number removed. Requires docIDs to have been
	// supplied on Add for those chunks.
	DeleteByDocID(ctx context.Context, docID string) (int, error)

	// AllIDs returns all vector IDs in the store (for consistency checks)
	AllIDs() []string

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Status reports whether the store is accepting writes.
	Status() StoreStatus

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex required)", e.Expected, e.Got)
}

// ErrStoreFull indicates the store has reached a configured capacity limit.
type ErrStoreFull struct {
	Limit int
}

func (e ErrStoreFull) Error() string {
	return fmt.Sprintf("vector store full: limit of %d vectors reached", e.Limit)
}

// ErrWriteDegraded indicates the store is read-only after repeated persist failures.
type ErrWriteDegraded struct {
	Cause error
}

func (e ErrWriteDegraded) Error() string {
	return fmt.Sprintf("vector store is write-degraded after repeated persist failures: %v", e.Cause)
}

func (e ErrWriteDegraded) Unwrap() error {
	return e.Cause
}
