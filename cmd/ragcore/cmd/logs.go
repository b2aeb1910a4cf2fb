package cmd

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/internal/logging"
)

// newLogsCmd creates the logs command, which views and tails the
// rotating debug log files --debug writes under ~/.ragcore/logs/.
func newLogsCmd() *cobra.Command {
	var (
		source  string
		lines   int
		follow  bool
		level   string
		pattern string
		noColor bool
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View or tail ragcore's debug log files",
		Long: `Reads the JSON-line debug logs --debug writes to ~/.ragcore/logs/.
--source selects which process's logs to read (core, scheduler, or
all, merged by timestamp); --follow streams new entries as they
arrive, like tail -f.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), source, lines, follow, level, pattern, noColor, logFile)
		},
	}

	cmd.Flags().StringVar(&source, "source", "core", "log source to view: core, scheduler, or all")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of recent lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new log entries as they arrive")
	cmd.Flags().StringVar(&level, "level", "", "minimum level to show (debug, info, warn, error)")
	cmd.Flags().StringVar(&pattern, "grep", "", "only show lines matching this regex")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI color output")
	cmd.Flags().StringVar(&logFile, "file", "", "explicit log file path, overriding --source")

	return cmd
}

func runLogs(ctx context.Context, source string, lines int, follow bool, level, pattern string, noColor bool, explicit string) error {
	logSource := logging.ParseLogSource(source)
	paths, err := logging.FindLogFileBySource(logSource, explicit)
	if err != nil {
		return err
	}

	var re *regexp.Regexp
	if pattern != "" {
		re, err = regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid --grep pattern: %w", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:      level,
		Pattern:    re,
		NoColor:    noColor,
		ShowSource: logSource == logging.LogSourceAll,
	}, os.Stdout)

	entries, err := viewer.TailMultiple(paths, lines)
	if err != nil {
		return fmt.Errorf("failed to read logs: %w", err)
	}
	viewer.Print(entries)

	if !follow {
		return nil
	}

	ch := make(chan logging.LogEntry, 64)
	go func() {
		for entry := range ch {
			viewer.Print([]logging.LogEntry{entry})
		}
	}()
	return viewer.FollowMultiple(ctx, paths, ch)
}
