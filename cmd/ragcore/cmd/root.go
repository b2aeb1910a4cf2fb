// Package cmd provides the CLI commands for ragcore.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/internal/config"
	"github.com/ragcore/ragcore/internal/logging"
	"github.com/ragcore/ragcore/pkg/version"
)

// Debug logging flag, mirroring the teacher's root command.
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the ragcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragcore",
		Short: "Local-first retrieval-augmented generation service",
		Long: `ragcore ingests documents, retrieves relevant chunks via hybrid
vector + keyword search, and answers questions or holds multi-turn
conversations grounded in that knowledge base.

Run 'ragcore serve' to start the MCP server, or use the ingest/query/
conversation subcommands directly.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("ragcore version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.ragcore/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newConversationCmd())
	cmd.AddCommand(newSchedulerCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging enables debug logging to file when --debug is set,
// mirroring the teacher's startProfilingAndLogging hook minus the
// profiling half (this repo carries no profiling package).
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		slog.Info("debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves the project config the same way every subcommand
// needs it: project root discovery, then config.Load's merge of
// defaults, user config, project file, and environment overrides.
func loadConfig() (*config.Config, error) {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root = "."
	}
	return config.Load(root)
}
