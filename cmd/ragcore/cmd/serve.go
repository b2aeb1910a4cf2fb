package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/internal/logging"
	"github.com/ragcore/ragcore/internal/mcp"
	"github.com/ragcore/ragcore/pkg/ragapi"
)

// newServeCmd creates the serve command, which starts the MCP server.
func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Starts the Model Context Protocol server so AI clients (Claude Code,
Cursor) can call ingest/query/conversation tools against this knowledge base.

MCP's stdio transport requires stdout to carry JSON-RPC messages
exclusively, so all diagnostic output goes to the debug log file
instead of stdout when this command runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport (stdio)")

	return cmd
}

func runServe(ctx context.Context, transport string) error {
	cleanup, err := logging.SetupMCPMode()
	if err != nil {
		return fmt.Errorf("failed to setup mcp logging: %w", err)
	}
	defer cleanup()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := ragapi.New(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Close()

	if err := svc.StartScheduler(ctx); err != nil {
		slog.Warn("external source scheduler failed to start", slog.String("error", err.Error()))
	}

	server, err := mcp.NewServer(svc, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}

	return server.Serve(ctx, transport)
}
