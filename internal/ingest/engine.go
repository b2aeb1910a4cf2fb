package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ragcore/ragcore/internal/chunk"
	"github.com/ragcore/ragcore/internal/embed"
	ragerrors "github.com/ragcore/ragcore/internal/errors"
	"github.com/ragcore/ragcore/internal/store"
)

func errNoExtractor(name string) error {
	return ragerrors.New(ragerrors.ErrCodeProcessorFailed, fmt.Sprintf("processor %q has no extractor configured", name), nil)
}

// Config controls Engine's embedding retry and concurrency behavior.
type Config struct {
	// MaxWorkers bounds IngestDirectory's concurrent file processing.
	MaxWorkers int
	// EmbedRetry governs the single retry on a transient EmbeddingError,
	// per spec §4.6 "the Ingestion Engine may retry once on transient
	// EmbeddingError".
	EmbedRetry ragerrors.RetryConfig
}

// DefaultConfig returns sensible defaults: one embedding retry with a
// short backoff, worker count matching a typical small deployment.
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 4,
		EmbedRetry: ragerrors.RetryConfig{
			MaxRetries:   1,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

// Engine is the concrete Ingestion Engine (C6), generalizing the
// teacher's internal/index.Coordinator: processor -> chunker (inside
// the processor) -> embedder -> vector+metadata store, with idempotent
// skip on unchanged content and compensating delete on partial failure
// (this repo's Open Question decision: compensate rather than
// two-phase-commit the vector-store/metadata-store writes — see
// DESIGN.md).
type Engine struct {
	registry *Registry
	chunker  chunk.Chunker // used by IngestText for sources with no file-based Processor (e.g. tickets)
	embedder embed.Embedder
	vectors  store.VectorStore
	metadata store.MetadataStore
	cfg      Config
	logger   *slog.Logger
	bm25     store.BM25Index

	// writeMu serializes vector-store mutation per spec §4.6/§5: "the
	// vector store is mutated under an exclusive write lock; embedding
	// and processing run without it."
	writeMu sync.Mutex
}

// SetBM25Index attaches the optional keyword-assist index so every
// ingested chunk is indexed into it alongside the vector store. A nil
// index (the default) disables keyword-assist indexing entirely.
func (e *Engine) SetBM25Index(idx store.BM25Index) {
	e.bm25 = idx
}

// New builds an Engine. chunker is used only by IngestText (non-file
// sources); file-based processors carry their own chunker, injected at
// registration time via NewTextProcessor/NewExtractorProcessor.
func New(registry *Registry, chunker chunk.Chunker, embedder embed.Embedder, vectors store.VectorStore, metadata store.MetadataStore, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	return &Engine{
		registry: registry, chunker: chunker, embedder: embedder,
		vectors: vectors, metadata: metadata, cfg: cfg, logger: logger,
	}
}

// Ingest implements spec §6's `ingest(file_path, metadata?)`: selects a
// processor by extension, runs its contract, then hands the resulting
// chunks to the shared embed+store pipeline.
func (e *Engine) Ingest(ctx context.Context, path string, metadata map[string]string) (*Result, error) {
	proc := e.registry.For(path)
	if proc == nil {
		return &Result{Status: StatusError, Error: fmt.Sprintf("no processor registered for %s", path)},
			ragerrors.New(ragerrors.ErrCodeProcessorFailed, "no processor for "+path, nil)
	}

	result, err := proc.Process(ctx, path, metadata)
	if err != nil {
		return &Result{Status: StatusError, Error: err.Error()}, ragerrors.Wrap(ragerrors.ErrCodeProcessorFailed, err)
	}
	if result.Status == StatusSkipped {
		return &Result{Status: StatusSkipped}, nil
	}
	if len(result.Chunks) == 0 {
		// spec §8 boundary behaviour: zero chunks from processor -> skipped, chunk_count=0.
		return &Result{Status: StatusSkipped, ChunkCount: 0}, nil
	}

	return e.ingestChunks(ctx, path, fileMTimeKey(path), result.Chunks, result.Metadata)
}

// IngestText implements the non-file ingestion path used by the
// External-Source Scheduler (C11): it runs raw extracted text through
// Engine's own chunker (C5) rather than a file-based Processor, since a
// ticket record has no filesystem path.
func (e *Engine) IngestText(ctx context.Context, source string, sourceType store.SourceType, text string, metadata map[string]string) (*Result, error) {
	docMeta := mergeMetadata(metadata, map[string]string{"source_type": string(sourceType)})
	chunks, err := chunksFromText(ctx, e.chunker, text, docMeta)
	if err != nil {
		return &Result{Status: StatusError, Error: err.Error()}, ragerrors.Wrap(ragerrors.ErrCodeChunkingFailed, err)
	}
	if len(chunks) == 0 {
		return &Result{Status: StatusSkipped, ChunkCount: 0}, nil
	}
	// Non-file sources have no mtime; the content hash alone (computed
	// inside ingestChunks) drives the idempotent-skip decision, so a
	// constant mtime key is safe here.
	return e.ingestChunks(ctx, source, "ticket", chunks, docMeta)
}

// ingestChunks is the shared core of spec §4.6 steps 1-6: idempotency
// check, chunk ID assignment, batch embedding, the single atomic
// add_vectors call, and the metadata-store writes, with compensation on
// partial failure.
func (e *Engine) ingestChunks(ctx context.Context, source, mtimeKey string, processed []ProcessedChunk, docMetadata map[string]string) (*Result, error) {
	texts := make([]string, len(processed))
	for i, c := range processed {
		texts[i] = c.Text
	}
	hash := contentHash(texts)

	if e.metadata != nil {
		if existing, err := e.metadata.GetDocumentBySource(ctx, source); err == nil && existing != nil {
			if existing.ContentHash == hash {
				e.logger.Debug("ingest_skip_unchanged", slog.String("source", source), slog.String("doc_id", existing.ID))
				return &Result{Status: StatusSkipped, DocID: existing.ID}, nil
			}
		}
	}

	docID := documentID(source, mtimeKey)
	chunks := make([]*store.Chunk, len(processed))
	chunkIDs := make([]string, len(processed))
	chunkTexts := make([]string, len(processed))
	for i, c := range processed {
		id := chunkID(docID, i, c.Text)
		chunkIDs[i] = id
		chunkTexts[i] = c.Text
		chunks[i] = &store.Chunk{
			ID: id, DocID: docID, Index: i, Text: c.Text,
			Metadata: mergeMetadata(docMetadata, c.Metadata), CreatedAt: time.Now(),
		}
	}

	vectors, err := e.embedWithRetry(ctx, chunkTexts)
	if err != nil {
		return &Result{Status: StatusError, DocID: docID, Error: err.Error()}, ragerrors.Wrap(ragerrors.ErrCodeEmbeddingFailed, err)
	}
	for i, v := range vectors {
		chunks[i].Embedding = v
	}

	docIDs := make([]string, len(chunkIDs))
	for i := range docIDs {
		docIDs[i] = docID
	}

	e.writeMu.Lock()
	addErr := e.vectors.Add(ctx, chunkIDs, vectors, docIDs...)
	e.writeMu.Unlock()
	if addErr != nil {
		return &Result{Status: StatusError, DocID: docID, Error: addErr.Error()}, ragerrors.Wrap(ragerrors.ErrCodeIngestionFailed, addErr)
	}

	if e.bm25 != nil {
		docs := make([]*store.Document, len(chunks))
		for i, c := range chunks {
			docs[i] = &store.Document{ID: c.ID, Content: c.Text}
		}
		if err := e.bm25.Index(ctx, docs); err != nil {
			e.logger.Warn("bm25_index_failed", slog.String("doc_id", docID), slog.String("error", err.Error()))
		}
	}

	if e.metadata != nil {
		doc := &store.IngestedDocument{
			ID: docID, Source: source, SourceType: store.SourceType(docMetadata["source_type"]),
			OriginalName: docMetadata["file_name"], UploadedAt: time.Now(), ContentHash: hash,
			Processor: docMetadata["processor"], Metadata: docMetadata,
		}
		if err := e.metadata.SaveDocument(ctx, doc); err != nil {
			e.compensate(ctx, chunkIDs, docID)
			return &Result{Status: StatusError, DocID: docID, Error: err.Error()}, ragerrors.Wrap(ragerrors.ErrCodeMetadataFailed, err)
		}
		if err := e.metadata.SaveChunks(ctx, chunks); err != nil {
			e.compensate(ctx, chunkIDs, docID)
			_ = e.metadata.DeleteDocument(ctx, docID)
			return &Result{Status: StatusError, DocID: docID, Error: err.Error()}, ragerrors.Wrap(ragerrors.ErrCodeMetadataFailed, err)
		}
	}

	e.logger.Debug("ingest_success", slog.String("doc_id", docID), slog.Int("chunk_count", len(chunks)))
	return &Result{Status: StatusSuccess, DocID: docID, ChunkCount: len(chunks), EmbeddingCount: len(vectors)}, nil
}

// compensate removes vectors added in a call whose metadata-store half
// failed, so no vector is ever observable without its Document/Chunk
// records (spec §4.6 step 5: "do not leave orphans").
func (e *Engine) compensate(ctx context.Context, chunkIDs []string, docID string) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.vectors.Delete(ctx, chunkIDs); err != nil {
		e.logger.Error("ingest_compensate_failed", slog.String("doc_id", docID), slog.String("error", err.Error()))
	}
	if e.bm25 != nil {
		if err := e.bm25.Delete(ctx, chunkIDs); err != nil {
			e.logger.Warn("bm25_compensate_failed", slog.String("doc_id", docID), slog.String("error", err.Error()))
		}
	}
}

// embedWithRetry embeds texts in one batch, retrying once on failure
// per spec §4.6 and §7 ("Ingestion Engine may retry once on transient
// EmbeddingError"), using the adaptive batching the embedder itself
// implements internally (C3).
func (e *Engine) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	return ragerrors.RetryWithResult(ctx, e.cfg.EmbedRetry, func() ([][]float32, error) {
		return e.embedder.EmbedBatch(ctx, texts)
	})
}

// Registry exposes the processor registry for CLI introspection
// (ragcore doctor / config commands listing supported extensions).
func (e *Engine) Registry() *Registry { return e.registry }
