// Package consistency cross-checks the vector store, BM25 index, and
// metadata store against each other, reporting and repairing the
// orphan/missing-entry drift that independent stores can accumulate
// after a crash mid-ingest or a manual store edit.
package consistency

import (
	"context"
	"log/slog"
	"time"

	"github.com/ragcore/ragcore/internal/store"
)

// IssueType categorizes a detected cross-store discrepancy.
type IssueType int

const (
	// OrphanBM25 is a BM25 entry with no matching metadata chunk.
	OrphanBM25 IssueType = iota
	// OrphanVector is a vector-store entry with no matching metadata chunk.
	OrphanVector
	// MissingBM25 is a metadata chunk absent from the BM25 index.
	MissingBM25
	// MissingVector is a metadata chunk absent from the vector store.
	MissingVector
)

func (t IssueType) String() string {
	switch t {
	case OrphanBM25:
		return "orphan_bm25"
	case OrphanVector:
		return "orphan_vector"
	case MissingBM25:
		return "missing_bm25"
	case MissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Issue is a single detected discrepancy.
type Issue struct {
	Type    IssueType
	ChunkID string
	Details string
}

// Report is the outcome of a Check.
type Report struct {
	Checked  int
	Issues   []Issue
	Duration time.Duration
}

// Checker validates cross-store consistency between the metadata
// store (source of truth for which chunks exist) and the vector/BM25
// indexes derived from it.
type Checker struct {
	metadata store.MetadataStore
	bm25     store.BM25Index
	vector   store.VectorStore
}

// New builds a Checker. bm25 may be nil when keyword-assist retrieval
// is disabled; the BM25 side of the check is skipped in that case.
func New(metadata store.MetadataStore, bm25 store.BM25Index, vector store.VectorStore) *Checker {
	return &Checker{metadata: metadata, bm25: bm25, vector: vector}
}

// Check scans every store's ID set and reports orphans (present in an
// index but absent from metadata) and missing entries (present in
// metadata but absent from an index). O(n) in the total chunk count.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	start := time.Now()

	chunks, err := c.metadata.ListChunks(ctx, nil)
	if err != nil {
		return nil, err
	}
	metadataIDs := make(map[string]bool, len(chunks))
	for _, chunk := range chunks {
		metadataIDs[chunk.ID] = true
	}

	var issues []Issue

	var bm25IDs []string
	if c.bm25 != nil {
		bm25IDs, err = c.bm25.AllIDs()
		if err != nil {
			slog.Warn("consistency_check_bm25_ids_failed", slog.String("error", err.Error()))
			bm25IDs = nil
		}
	}
	vectorIDs := c.vector.AllIDs()

	bm25Set := make(map[string]bool, len(bm25IDs))
	for _, id := range bm25IDs {
		bm25Set[id] = true
		if !metadataIDs[id] {
			issues = append(issues, Issue{Type: OrphanBM25, ChunkID: id, Details: "BM25 entry without matching metadata chunk"})
		}
	}

	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
		if !metadataIDs[id] {
			issues = append(issues, Issue{Type: OrphanVector, ChunkID: id, Details: "vector entry without matching metadata chunk"})
		}
	}

	for id := range metadataIDs {
		if c.bm25 != nil && !bm25Set[id] {
			issues = append(issues, Issue{Type: MissingBM25, ChunkID: id, Details: "metadata chunk missing from BM25 index"})
		}
		if !vectorSet[id] {
			issues = append(issues, Issue{Type: MissingVector, ChunkID: id, Details: "metadata chunk missing from vector store"})
		}
	}

	return &Report{Checked: len(metadataIDs), Issues: issues, Duration: time.Since(start)}, nil
}

// Repair deletes orphaned index entries (best-effort) and logs a
// warning for missing entries, which require re-ingesting the owning
// document rather than a mechanical fix.
func (c *Checker) Repair(ctx context.Context, issues []Issue) error {
	var orphanBM25, orphanVector []string
	var missing int

	for _, issue := range issues {
		switch issue.Type {
		case OrphanBM25:
			orphanBM25 = append(orphanBM25, issue.ChunkID)
		case OrphanVector:
			orphanVector = append(orphanVector, issue.ChunkID)
		case MissingBM25, MissingVector:
			missing++
		}
	}

	if len(orphanBM25) > 0 && c.bm25 != nil {
		if err := c.bm25.Delete(ctx, orphanBM25); err != nil {
			slog.Warn("consistency_repair_bm25_failed", slog.Int("count", len(orphanBM25)), slog.String("error", err.Error()))
		} else {
			slog.Info("consistency_repair_bm25_orphans_deleted", slog.Int("count", len(orphanBM25)))
		}
	}

	if len(orphanVector) > 0 {
		if err := c.vector.Delete(ctx, orphanVector); err != nil {
			slog.Warn("consistency_repair_vector_failed", slog.Int("count", len(orphanVector)), slog.String("error", err.Error()))
		} else {
			slog.Info("consistency_repair_vector_orphans_deleted", slog.Int("count", len(orphanVector)))
		}
	}

	if missing > 0 {
		slog.Warn("consistency_repair_missing_entries_require_reingest", slog.Int("count", missing))
	}

	return nil
}

// QuickCheck compares only document counts across stores, for a fast
// health signal without walking every ID.
func (c *Checker) QuickCheck(ctx context.Context) (bool, error) {
	chunks, err := c.metadata.ListChunks(ctx, nil)
	if err != nil {
		return false, err
	}
	metadataCount := len(chunks)

	vectorCount := len(c.vector.AllIDs())
	if vectorCount != metadataCount {
		return false, nil
	}

	if c.bm25 != nil {
		if stats := c.bm25.Stats(); stats != nil && stats.DocumentCount != metadataCount {
			return false, nil
		}
	}

	return true, nil
}
