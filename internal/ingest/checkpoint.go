package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ragcore/ragcore/internal/store"
)

// checkpointStage mirrors the stage names the teacher's IndexCheckpoint
// carries ("scanning"|"embedding"|"indexing"|"complete"), narrowed to
// the stages IngestDirectory actually passes through: it has no
// separate indexing stage since ingestChunks folds embedding and
// store-writing into one step per file.
type checkpointStage string

const (
	stageEmbedding checkpointStage = "embedding"
	stageComplete  checkpointStage = "complete"
)

// directoryCheckpoint is the JSON payload IngestDirectory persists to
// the metadata store's state key-value space (store.MetadataStore's
// GetState/SetState) under a StateKeyCheckpointPrefix+root key, per
// SPEC_FULL.md's checkpointed/resumable ingestion: "a checkpoint
// (stage, total, embedded count)" surviving a crash so a restarted run
// can skip the file prefix it already finished instead of re-walking
// and re-embedding it from scratch.
//
// This is an optimization, not a correctness requirement: ingestChunks
// already skips unchanged files by content hash, so a restarted run
// with no checkpoint at all still converges to the same end state, just
// slower (it re-opens and re-hashes every file to discover that). The
// checkpoint lets a resumed run skip straight past the files it already
// confirmed succeeded.
type directoryCheckpoint struct {
	Stage         checkpointStage `json:"stage"`
	Total         int             `json:"total"`
	Processed     int             `json:"processed"`
	EmbedderModel string          `json:"embedder_model"`
	Timestamp     time.Time       `json:"timestamp"`
}

// checkpointKey derives a stable state key for root so concurrent
// IngestDirectory calls against different roots don't collide on one
// checkpoint record.
func checkpointKey(root string) string {
	sum := sha256.Sum256([]byte(root))
	return store.StateKeyCheckpointPrefix + hex.EncodeToString(sum[:8])
}

// loadCheckpoint returns the saved checkpoint for root, or nil when
// there is none, it's unreadable, it already reached stageComplete, or
// it was left by a different embedder model — a model change
// invalidates resume the same way the teacher's generateEmbeddings
// guards against resuming under a mismatched embedder.
func loadCheckpoint(ctx context.Context, metadata store.MetadataStore, root, currentModel string) *directoryCheckpoint {
	raw, err := metadata.GetState(ctx, checkpointKey(root))
	if err != nil || raw == "" {
		return nil
	}
	var cp directoryCheckpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil
	}
	if cp.Stage == stageComplete {
		return nil
	}
	if cp.EmbedderModel != "" && cp.EmbedderModel != currentModel {
		return nil
	}
	return &cp
}

// saveCheckpoint persists progress. A write failure only costs a future
// resume its head-start — it never loses already-ingested data — so it
// is logged and otherwise ignored.
func saveCheckpoint(ctx context.Context, metadata store.MetadataStore, logger *slog.Logger, root string, cp directoryCheckpoint) {
	cp.Timestamp = time.Now()
	raw, err := json.Marshal(cp)
	if err != nil {
		return
	}
	if err := metadata.SetState(ctx, checkpointKey(root), string(raw)); err != nil {
		logger.Warn("ingest_checkpoint_save_failed", slog.String("root", root), slog.String("error", err.Error()))
	}
}

// clearCheckpoint removes root's resume point once a batch finishes
// with nothing left to retry.
func clearCheckpoint(ctx context.Context, metadata store.MetadataStore, root string) {
	_ = metadata.SetState(ctx, checkpointKey(root), "")
}
