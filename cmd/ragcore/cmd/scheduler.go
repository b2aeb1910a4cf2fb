package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/pkg/ragapi"
)

// newSchedulerCmd creates the scheduler command group for running the
// external-source poller outside of `serve`'s MCP lifecycle.
func newSchedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run or trigger the external-source scheduler",
	}

	cmd.AddCommand(newSchedulerStartCmd())
	cmd.AddCommand(newSchedulerSyncOnceCmd())

	return cmd
}

func newSchedulerStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the external-source scheduler's polling loop and block until interrupted",
		Long: `Starts the configured external-source connector's polling loop
in the foreground. The scheduler drains its in-flight fetch (bounded
by its configured grace period) and stops cleanly on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedulerStart(cmd.Context())
		},
	}
}

func newSchedulerSyncOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-once",
		Short: "Run one external-source fetch-and-ingest cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedulerSyncOnce(cmd.Context())
		},
	}
}

func runSchedulerStart(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.ExternalSource.Enabled {
		return fmt.Errorf("external_source.enabled is false in config; nothing to schedule")
	}

	svc, err := ragapi.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Close()

	if err := svc.StartScheduler(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	fmt.Println("scheduler started, polling at", cfg.ExternalSource.PollInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	fmt.Println("stopping scheduler...")
	svc.StopScheduler()
	return nil
}

func runSchedulerSyncOnce(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := ragapi.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Close()

	summary, err := svc.SyncExternalSource(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if summary == nil {
		fmt.Println("no external source configured")
		return nil
	}
	fmt.Printf("fetched: %d  ingested: %d  skipped: %d  failed: %d\n",
		summary.FilesScanned, summary.Succeeded, summary.Skipped, summary.Failed)
	for _, e := range summary.Errors {
		fmt.Println("error:", e)
	}
	return nil
}
