package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEngine_Watch_IngestsDroppedFile(t *testing.T) {
	engine, vectors, _, _ := newTestEngine(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- engine.Watch(ctx, dir, WatchOptions{DebounceWindow: 50 * time.Millisecond})
	}()

	// Give the watcher time to register the directory before writing.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "dropped.txt")
	require.NoError(t, os.WriteFile(path, []byte("The capital of France is Paris."), 0644))

	require.Eventually(t, func() bool {
		return vectors.Count() > 0
	}, 5*time.Second, 50*time.Millisecond, "dropped file was never ingested")

	cancel()
	err := <-done
	require.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_Watch_IgnoresUnclaimedExtensions(t *testing.T) {
	engine, vectors, _, _ := newTestEngine(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- engine.Watch(ctx, dir, WatchOptions{DebounceWindow: 50 * time.Millisecond})
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "binary.bin"), []byte{0x01, 0x02}, 0644))

	time.Sleep(300 * time.Millisecond)
	require.Zero(t, vectors.Count())

	cancel()
	<-done
}
