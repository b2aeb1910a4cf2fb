// Package ingest implements the Ingestion Engine (C6): orchestrating
// processor -> chunker -> embedder -> store with idempotency, per spec
// §4.6. It generalizes the teacher's internal/index.Coordinator
// (file-event-driven code indexing) into a path/metadata-driven pipeline
// over arbitrary content types, registered by file extension.
package ingest

import (
	"context"

	"github.com/ragcore/ragcore/internal/store"
)

// Status is the outcome of a single Ingest call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// ProcessedChunk is one raw chunk produced by a Processor, before chunk
// IDs are assigned and embeddings are computed.
type ProcessedChunk struct {
	Text     string
	Metadata map[string]string
}

// ProcessResult is what a Processor returns for one source.
type ProcessResult struct {
	Status   Status
	Chunks   []ProcessedChunk
	Metadata map[string]string // document-level metadata
	Pages    int               // set by page-oriented processors (pdf); 0 otherwise
}

// Processor is the external-collaborator contract of spec §4.6/§6:
// "can_process(path)->bool", "process(path, metadata)->{status, chunks,
// metadata, pages?}". Concrete format extraction (PDF rendering, OCR,
// spreadsheet parsing) is out of scope per spec §1; processors here
// either read plain text directly or delegate to a caller-injected
// Extractor for the formats spec.md names but doesn't specify.
type Processor interface {
	CanProcess(path string) bool
	Process(ctx context.Context, path string, metadata map[string]string) (*ProcessResult, error)
	Name() string
}

// Result is what Engine.Ingest returns for one call, per spec §6
// Ingestion API: "ingest(file_path, metadata?) -> {status, doc_id,
// chunk_count, embedding_count}".
type Result struct {
	Status         Status
	DocID          string
	ChunkCount     int
	EmbeddingCount int
	Error          string
}

// DirectorySummary is what Engine.IngestDirectory returns, per spec §6
// "ingest_directory(path, max_depth, workers) -> summary".
type DirectorySummary struct {
	FilesScanned int
	Succeeded    int
	Skipped      int
	Failed       int
	Results      []Result
	Errors       []string
}

// docSourceLookup is the narrow slice of store.MetadataStore the engine
// needs for idempotency checks, pulled out only to keep test doubles small.
type docSourceLookup interface {
	GetDocumentBySource(ctx context.Context, source string) (*store.IngestedDocument, error)
}
