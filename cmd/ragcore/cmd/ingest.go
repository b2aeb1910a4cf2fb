package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/pkg/ragapi"
)

// newIngestCmd creates the ingest command.
func newIngestCmd() *cobra.Command {
	var maxDepth int
	var workers int
	var watch bool

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Ingest a file or directory into the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), args[0], maxDepth, workers, watch)
		},
	}

	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "maximum directory recursion depth, 0 for unlimited")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent ingestion workers, 0 for config default")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep watching the directory and ingest new or changed files")

	return cmd
}

func runIngest(ctx context.Context, path string, maxDepth, workers int, watch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := ragapi.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Close()

	summary, err := svc.IngestDirectory(ctx, path, maxDepth, workers)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Printf("scanned: %d  succeeded: %d  skipped: %d  failed: %d\n",
		summary.FilesScanned, summary.Succeeded, summary.Skipped, summary.Failed)
	for _, e := range summary.Errors {
		fmt.Println("error:", e)
	}

	if watch {
		fmt.Println("watching for changes, Ctrl-C to stop")
		if err := svc.WatchDirectory(ctx, path); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("watch failed: %w", err)
		}
	}
	return nil
}
