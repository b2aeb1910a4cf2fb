package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchOptions configures the drop-directory watcher.
type WatchOptions struct {
	// DebounceWindow is how long a path must stay quiet before it's
	// ingested, so editors that write in several bursts trigger one
	// ingestion instead of one per write.
	DebounceWindow time.Duration
}

// DefaultWatchOptions returns the default watcher options.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{DebounceWindow: 500 * time.Millisecond}
}

// Watch watches root recursively and ingests every created or modified
// file a registered processor claims, blocking until ctx is cancelled.
// Ingestion idempotency makes redundant events harmless: an unchanged
// file is skipped by its content hash, so over-triggering costs a hash,
// not a re-embed.
func (e *Engine) Watch(ctx context.Context, root string, opts WatchOptions) error {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultWatchOptions().DebounceWindow
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addDirsRecursive(watcher, root); err != nil {
		return err
	}
	e.logger.Info("ingest_watch_started", slog.String("root", root))

	// pending maps a path to the time of its latest event; the ticker
	// flushes paths quiet for a full debounce window.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(opts.DebounceWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			info, statErr := os.Stat(event.Name)
			if statErr != nil {
				continue
			}
			if info.IsDir() {
				if event.Op&fsnotify.Create != 0 {
					if err := addDirsRecursive(watcher, event.Name); err != nil {
						e.logger.Warn("ingest_watch_add_failed",
							slog.String("path", event.Name), slog.String("error", err.Error()))
					}
				}
				continue
			}
			if e.registry.For(event.Name) == nil {
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("ingest_watch_error", slog.String("error", err.Error()))

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < opts.DebounceWindow {
					continue
				}
				delete(pending, path)
				result, err := e.Ingest(ctx, path, nil)
				if err != nil {
					e.logger.Warn("ingest_watch_file_failed",
						slog.String("path", path), slog.String("error", err.Error()))
					continue
				}
				e.logger.Info("ingest_watch_file",
					slog.String("path", path),
					slog.String("status", string(result.Status)),
					slog.Int("chunks", result.ChunkCount))
			}
		}
	}
}

// addDirsRecursive registers root and every directory below it with the
// watcher; fsnotify watches are not recursive on their own.
func addDirsRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
