package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteMetadataStore implements MetadataStore over modernc.org/sqlite,
// mirroring SQLiteBM25Index's single-writer, WAL-mode connection
// discipline. In the default synchronous mode every mutating statement
// commits durably: a crash loses at most the in-flight write, never a
// previously committed one. In batched mode commits ride the WAL with
// relaxed fsync and a periodic checkpoint, trading the tail of recent
// writes for throughput; the database itself stays consistent either
// way.
type SQLiteMetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool

	flushStop chan struct{}
	flushDone chan struct{}
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// validateMetadataIntegrity checks a SQLite file for corruption before
// opening it for real use. Mirrors validateSQLiteIntegrity in
// sqlite_bm25.go.
func validateMetadataIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='documents'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("documents table missing")
	}

	return nil
}

// NewSQLiteMetadataStore opens (or creates) the metadata store at path
// with synchronous per-write durability. An empty path creates an
// in-memory store, used by tests.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	return NewSQLiteMetadataStoreWithDurability(path, false, 0)
}

// NewSQLiteMetadataStoreWithDurability opens the store with an explicit
// durability discipline: batched=false fsyncs every commit; batched=true
// relaxes fsync to WAL boundaries and checkpoints every flushInterval.
func NewSQLiteMetadataStoreWithDurability(path string, batched bool, flushInterval time.Duration) (*SQLiteMetadataStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateMetadataIntegrity(path); validErr != nil {
			slog.Warn("metadata_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("metadata store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("metadata_store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reingest"))
		}

		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	synchronous := "PRAGMA synchronous = FULL" // durable-per-write: fsync on every commit
	if batched {
		synchronous = "PRAGMA synchronous = NORMAL" // fsync at WAL boundaries only
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		synchronous,
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteMetadataStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if batched && flushInterval > 0 {
		s.flushStop = make(chan struct{})
		s.flushDone = make(chan struct{})
		go s.checkpointLoop(flushInterval)
	}
	return s, nil
}

// checkpointLoop periodically forces a passive WAL checkpoint in
// batched mode so the durable tail never grows unboundedly between
// restarts.
func (s *SQLiteMetadataStore) checkpointLoop(interval time.Duration) {
	defer close(s.flushDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.flushStop:
			return
		case <-ticker.C:
			s.mu.RLock()
			if !s.closed {
				_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
			}
			s.mu.RUnlock()
		}
	}
}

func (s *SQLiteMetadataStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
	INSERT OR IGNORE INTO schema_version (version) VALUES (` + fmt.Sprint(CurrentSchemaVersion) + `);

	CREATE TABLE IF NOT EXISTS documents (
		id            TEXT PRIMARY KEY,
		source        TEXT NOT NULL UNIQUE,
		source_type   TEXT NOT NULL,
		original_name TEXT NOT NULL,
		uploaded_at   TEXT NOT NULL,
		content_hash  TEXT NOT NULL,
		processor     TEXT NOT NULL,
		metadata      TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_documents_content_hash ON documents(content_hash);

	CREATE TABLE IF NOT EXISTS chunks (
		id         TEXT PRIMARY KEY,
		doc_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_idx  INTEGER NOT NULL,
		text       TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		embedding  TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);

	CREATE TABLE IF NOT EXISTS tickets_cache (
		sys_id           TEXT PRIMARY KEY,
		number           TEXT NOT NULL UNIQUE,
		data             TEXT NOT NULL,
		content_hash     TEXT NOT NULL,
		fetched_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		ingested         INTEGER NOT NULL DEFAULT 0,
		ingestion_result TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_cache_fetched_at ON tickets_cache(fetched_at);
	CREATE INDEX IF NOT EXISTS idx_tickets_cache_number ON tickets_cache(number);

	CREATE TABLE IF NOT EXISTS fetch_history (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		fetch_time       TEXT NOT NULL,
		fetched_count    INTEGER NOT NULL,
		ingested_count   INTEGER NOT NULL,
		skipped_count    INTEGER NOT NULL,
		error_count      INTEGER NOT NULL,
		errors           TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fetch_history_time ON fetch_history(fetch_time);

	CREATE TABLE IF NOT EXISTS kv_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func marshalMap(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMap(s string) (map[string]string, error) {
	m := map[string]string{}
	if strings.TrimSpace(s) == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

const timeLayout = time.RFC3339Nano

// --- Document operations ---

func (s *SQLiteMetadataStore) SaveDocument(ctx context.Context, doc *IngestedDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	metaJSON, err := marshalMap(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, source, source_type, original_name, uploaded_at, content_hash, processor, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source, source_type=excluded.source_type, original_name=excluded.original_name,
			uploaded_at=excluded.uploaded_at, content_hash=excluded.content_hash, processor=excluded.processor,
			metadata=excluded.metadata
	`, doc.ID, doc.Source, string(doc.SourceType), doc.OriginalName, doc.UploadedAt.Format(timeLayout),
		doc.ContentHash, doc.Processor, metaJSON)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *SQLiteMetadataStore) scanDocument(row interface {
	Scan(dest ...any) error
}) (*IngestedDocument, error) {
	var doc IngestedDocument
	var sourceType, uploadedAt, metaJSON string
	if err := row.Scan(&doc.ID, &doc.Source, &sourceType, &doc.OriginalName, &uploadedAt,
		&doc.ContentHash, &doc.Processor, &metaJSON); err != nil {
		return nil, err
	}
	doc.SourceType = SourceType(sourceType)
	t, err := time.Parse(timeLayout, uploadedAt)
	if err != nil {
		return nil, fmt.Errorf("parse uploaded_at: %w", err)
	}
	doc.UploadedAt = t
	meta, err := unmarshalMap(metaJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal document metadata: %w", err)
	}
	doc.Metadata = meta
	return &doc, nil
}

func (s *SQLiteMetadataStore) GetDocument(ctx context.Context, id string) (*IngestedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, source_type, original_name, uploaded_at, content_hash, processor, metadata
		FROM documents WHERE id = ?`, id)
	doc, err := s.scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

func (s *SQLiteMetadataStore) GetDocumentBySource(ctx context.Context, source string) (*IngestedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, source_type, original_name, uploaded_at, content_hash, processor, metadata
		FROM documents WHERE source = ?`, source)
	doc, err := s.scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document by source %s: %w", source, err)
	}
	return doc, nil
}

func (s *SQLiteMetadataStore) ListDocuments(ctx context.Context, filter func(*IngestedDocument) bool) ([]*IngestedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, source_type, original_name, uploaded_at, content_hash, processor, metadata
		FROM documents ORDER BY uploaded_at`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*IngestedDocument
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if filter == nil || filter(doc) {
			docs = append(docs, doc)
		}
	}
	return docs, rows.Err()
}

func (s *SQLiteMetadataStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	// CASCADE handles chunk deletion via the foreign key.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// --- Chunk operations ---

func (s *SQLiteMetadataStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, doc_id, chunk_idx, text, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc_id=excluded.doc_id, chunk_idx=excluded.chunk_idx, text=excluded.text,
			metadata=excluded.metadata, embedding=excluded.embedding
	`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		metaJSON, err := marshalMap(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		var embeddingJSON any
		if len(c.Embedding) > 0 {
			b, err := json.Marshal(c.Embedding)
			if err != nil {
				return fmt.Errorf("marshal chunk embedding: %w", err)
			}
			embeddingJSON = string(b)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Unix(0, 0).UTC()
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocID, c.Index, c.Text, metaJSON, embeddingJSON, createdAt.Format(timeLayout)); err != nil {
			return fmt.Errorf("save chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteMetadataStore) scanChunk(row interface {
	Scan(dest ...any) error
}) (*Chunk, error) {
	var c Chunk
	var metaJSON, createdAt string
	var embeddingJSON sql.NullString
	if err := row.Scan(&c.ID, &c.DocID, &c.Index, &c.Text, &metaJSON, &embeddingJSON, &createdAt); err != nil {
		return nil, err
	}
	meta, err := unmarshalMap(metaJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
	}
	c.Metadata = meta
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		var emb []float32
		if err := json.Unmarshal([]byte(embeddingJSON.String), &emb); err != nil {
			return nil, fmt.Errorf("unmarshal chunk embedding: %w", err)
		}
		c.Embedding = emb
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	c.CreatedAt = t
	return &c, nil
}

func (s *SQLiteMetadataStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, doc_id, chunk_idx, text, metadata, embedding, created_at FROM chunks WHERE id = ?`, id)
	c, err := s.scanChunk(row)
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", id, err)
	}
	return c, nil
}

func (s *SQLiteMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, doc_id, chunk_idx, text, metadata, embedding, created_at
		FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := s.scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteMetadataStore) GetChunksByDoc(ctx context.Context, docID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, chunk_idx, text, metadata, embedding, created_at
		FROM chunks WHERE doc_id = ? ORDER BY chunk_idx`, docID)
	if err != nil {
		return nil, fmt.Errorf("get chunks by doc %s: %w", docID, err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := s.scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteMetadataStore) ListChunks(ctx context.Context, filter func(*Chunk) bool) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, chunk_idx, text, metadata, embedding, created_at FROM chunks ORDER BY doc_id, chunk_idx`)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := s.scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if filter == nil || filter(c) {
			chunks = append(chunks, c)
		}
	}
	return chunks, rows.Err()
}

func (s *SQLiteMetadataStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (s *SQLiteMetadataStore) DeleteChunksByDoc(ctx context.Context, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("metadata store is closed")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks by doc %s: %w", docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// --- External ticket cache operations ---

func (s *SQLiteMetadataStore) PutTicketCacheEntry(ctx context.Context, entry *TicketCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets_cache (sys_id, number, data, content_hash, fetched_at, updated_at, ingested, ingestion_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sys_id) DO UPDATE SET
			number=excluded.number, data=excluded.data, content_hash=excluded.content_hash,
			fetched_at=excluded.fetched_at, updated_at=excluded.updated_at,
			ingested=excluded.ingested, ingestion_result=excluded.ingestion_result
	`, entry.ExternalID, entry.ExternalNumber, entry.Payload, entry.ContentHash,
		entry.FetchedAt.Format(timeLayout), entry.UpdatedAt.Format(timeLayout),
		boolToInt(entry.Ingested), entry.IngestionResult)
	if err != nil {
		return fmt.Errorf("put ticket cache entry %s: %w", entry.ExternalID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteMetadataStore) scanTicket(row interface {
	Scan(dest ...any) error
}) (*TicketCacheEntry, error) {
	var e TicketCacheEntry
	var fetchedAt, updatedAt string
	var ingested int
	if err := row.Scan(&e.ExternalID, &e.ExternalNumber, &e.Payload, &e.ContentHash,
		&fetchedAt, &updatedAt, &ingested, &e.IngestionResult); err != nil {
		return nil, err
	}
	ft, err := time.Parse(timeLayout, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parse fetched_at: %w", err)
	}
	ut, err := time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	e.FetchedAt = ft
	e.UpdatedAt = ut
	e.Ingested = ingested != 0
	return &e, nil
}

func (s *SQLiteMetadataStore) GetTicketCacheEntry(ctx context.Context, externalID string) (*TicketCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT sys_id, number, data, content_hash, fetched_at, updated_at, ingested, ingestion_result
		FROM tickets_cache WHERE sys_id = ?`, externalID)
	e, err := s.scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket cache entry %s: %w", externalID, err)
	}
	return e, nil
}

func (s *SQLiteMetadataStore) GetTicketCacheEntryByNumber(ctx context.Context, number string) (*TicketCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT sys_id, number, data, content_hash, fetched_at, updated_at, ingested, ingestion_result
		FROM tickets_cache WHERE number = ?`, number)
	e, err := s.scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket cache entry by number %s: %w", number, err)
	}
	return e, nil
}

func (s *SQLiteMetadataStore) ListTicketCacheEntries(ctx context.Context, filter func(*TicketCacheEntry) bool) ([]*TicketCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sys_id, number, data, content_hash, fetched_at, updated_at, ingested, ingestion_result
		FROM tickets_cache ORDER BY fetched_at`)
	if err != nil {
		return nil, fmt.Errorf("list ticket cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*TicketCacheEntry
	for rows.Next() {
		e, err := s.scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket cache entry: %w", err)
		}
		if filter == nil || filter(e) {
			entries = append(entries, e)
		}
	}
	return entries, rows.Err()
}

func (s *SQLiteMetadataStore) DeleteTicketCacheEntry(ctx context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM tickets_cache WHERE sys_id = ?`, externalID); err != nil {
		return fmt.Errorf("delete ticket cache entry %s: %w", externalID, err)
	}
	return nil
}

// --- Fetch history operations ---

func (s *SQLiteMetadataStore) AppendFetchHistory(ctx context.Context, entry *FetchHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_history (fetch_time, fetched_count, ingested_count, skipped_count, error_count, errors, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.FetchTime.Format(timeLayout), entry.FetchedCount, entry.IngestedCount,
		entry.SkippedCount, entry.ErrorCount, entry.Errors, entry.DurationSeconds)
	if err != nil {
		return fmt.Errorf("append fetch history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

func (s *SQLiteMetadataStore) scanFetchHistory(row interface {
	Scan(dest ...any) error
}) (*FetchHistoryEntry, error) {
	var e FetchHistoryEntry
	var fetchTime string
	if err := row.Scan(&e.ID, &fetchTime, &e.FetchedCount, &e.IngestedCount,
		&e.SkippedCount, &e.ErrorCount, &e.Errors, &e.DurationSeconds); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, fetchTime)
	if err != nil {
		return nil, fmt.Errorf("parse fetch_time: %w", err)
	}
	e.FetchTime = t
	return &e, nil
}

func (s *SQLiteMetadataStore) LastFetchHistory(ctx context.Context) (*FetchHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, fetch_time, fetched_count, ingested_count, skipped_count, error_count, errors, duration_seconds
		FROM fetch_history ORDER BY fetch_time DESC LIMIT 1`)
	e, err := s.scanFetchHistory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last fetch history: %w", err)
	}
	return e, nil
}

func (s *SQLiteMetadataStore) ListFetchHistory(ctx context.Context, limit int) ([]*FetchHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fetch_time, fetched_count, ingested_count, skipped_count, error_count, errors, duration_seconds
		FROM fetch_history ORDER BY fetch_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list fetch history: %w", err)
	}
	defer rows.Close()

	var entries []*FetchHistoryEntry
	for rows.Next() {
		e, err := s.scanFetchHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fetch history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- State operations ---

func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("metadata store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// Close closes the database, checkpointing WAL first for durability.
func (s *SQLiteMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if s.flushStop != nil {
		close(s.flushStop)
		s.mu.Unlock()
		<-s.flushDone
		s.mu.Lock()
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
