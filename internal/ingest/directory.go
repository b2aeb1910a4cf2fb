package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ragcore/ragcore/internal/async"
)

// IngestDirectory implements spec §6's `ingest_directory(path, max_depth,
// workers) -> summary`: walks root up to maxDepth (0 means unlimited),
// ingesting every file a registered Processor claims, concurrently
// across workers via an errgroup-bounded worker pool — the same
// concurrency shape spec §4.6 describes ("multiple files may be
// ingested in parallel (configurable worker pool)").
func (e *Engine) IngestDirectory(ctx context.Context, root string, maxDepth, workers int) (*DirectorySummary, error) {
	if workers <= 0 {
		workers = e.cfg.MaxWorkers
	}

	paths, err := discoverFiles(root, maxDepth, e.registry)
	if err != nil {
		return nil, err
	}

	currentModel := e.embedder.ModelName()
	startIdx := 0
	if e.metadata != nil {
		if cp := loadCheckpoint(ctx, e.metadata, root, currentModel); cp != nil && cp.Processed < len(paths) {
			startIdx = cp.Processed
			e.logger.Info("ingest_directory_resuming",
				slog.String("root", root), slog.Int("skip_files", startIdx), slog.Int("total_files", len(paths)))
		}
		saveCheckpoint(ctx, e.metadata, e.logger, root, directoryCheckpoint{
			Stage: stageEmbedding, Total: len(paths), Processed: startIdx, EmbedderModel: currentModel,
		})
	}

	summary := &DirectorySummary{FilesScanned: len(paths)}
	var mu sync.Mutex
	processed := startIdx
	done := make([]bool, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, p := range paths[startIdx:] {
		i, p := startIdx+i, p
		g.Go(func() error {
			result, err := e.Ingest(gctx, p, nil)
			mu.Lock()
			defer mu.Unlock()
			if result == nil {
				result = &Result{Status: StatusError, Error: err.Error()}
			}
			summary.Results = append(summary.Results, *result)
			switch result.Status {
			case StatusSuccess:
				summary.Succeeded++
			case StatusSkipped:
				summary.Skipped++
			default:
				summary.Failed++
				if err != nil {
					summary.Errors = append(summary.Errors, p+": "+err.Error())
				}
			}
			// The checkpoint covers only the contiguous prefix of files that
			// finished without error, so a resume never skips a file that
			// failed or was still in flight on another worker.
			if result.Status == StatusSuccess || result.Status == StatusSkipped {
				done[i] = true
			}
			for processed < len(paths) && done[processed] {
				processed++
			}
			if e.metadata != nil {
				saveCheckpoint(ctx, e.metadata, e.logger, root, directoryCheckpoint{
					Stage: stageEmbedding, Total: len(paths), Processed: processed, EmbedderModel: currentModel,
				})
			}
			// A single file's failure never aborts the batch (spec §7:
			// "single-file ingestion failure does not abort a batch").
			return nil
		})
	}

	waitErr := g.Wait()
	if e.metadata != nil {
		if waitErr == nil && summary.Failed == 0 {
			clearCheckpoint(ctx, e.metadata, root)
		} else {
			saveCheckpoint(ctx, e.metadata, e.logger, root, directoryCheckpoint{
				Stage: stageEmbedding, Total: len(paths), Processed: processed, EmbedderModel: currentModel,
			})
		}
	}
	if waitErr != nil {
		return summary, waitErr
	}
	return summary, nil
}

// discoverFiles walks root up to maxDepth (relative to root; 0 means
// unlimited) and returns every file path a registered Processor claims.
func discoverFiles(root string, maxDepth int, registry *Registry) ([]string, error) {
	var paths []string
	rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if maxDepth > 0 {
				depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
				if depth >= maxDepth && path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if registry.For(path) != nil {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// IngestDirectoryAsync runs a directory ingest (the same file discovery
// and per-file Ingest as IngestDirectory, without its checkpoint) in the
// background via the teacher's async.BackgroundIndexer, reporting the
// scanning and embedding stages plus file and chunk counts through
// async.IndexProgress so a caller can poll status instead of blocking.
// No CLI command calls it; `ingest` runs IngestDirectory synchronously.
// Supplements spec §6 without changing IngestDirectory's own synchronous
// contract.
func (e *Engine) IngestDirectoryAsync(root string, maxDepth, workers int, dataDir string) *async.BackgroundIndexer {
	indexer := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: dataDir})
	indexer.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		progress.SetStage(async.StageScanning, 0)
		paths, err := discoverFiles(root, maxDepth, e.registry)
		if err != nil {
			return err
		}
		progress.SetStage(async.StageEmbedding, len(paths))

		if workers <= 0 {
			workers = e.cfg.MaxWorkers
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		var mu sync.Mutex
		processed := 0
		chunksIndexed := 0
		for _, p := range paths {
			p := p
			g.Go(func() error {
				result, ingestErr := e.Ingest(gctx, p, nil)
				mu.Lock()
				processed++
				if result != nil {
					chunksIndexed += result.ChunkCount
				}
				progress.UpdateFiles(processed)
				progress.UpdateChunks(chunksIndexed)
				mu.Unlock()
				if ingestErr != nil {
					e.logger.Warn("ingest_directory_async_file_failed", slog.String("path", p), slog.String("error", ingestErr.Error()))
				}
				return nil
			})
		}
		return g.Wait()
	}
	return indexer
}
