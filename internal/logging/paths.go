package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.ragcore/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ragcore", "logs")
	}
	return filepath.Join(home, ".ragcore", "logs")
}

// DefaultLogPath returns the default daemon log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "ragcored.log")
}

// SchedulerLogPath returns the external-source scheduler's dedicated log path.
func SchedulerLogPath() string {
	return filepath.Join(DefaultLogDir(), "scheduler.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceCore is the main ragcore process logs (default).
	LogSourceCore LogSource = "core"
	// LogSourceScheduler is the external-source scheduler's logs.
	LogSourceScheduler LogSource = "scheduler"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
// 1. Explicit path (if provided)
// 2. ~/.ragcore/logs/ragcored.log (default)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	defaultPath := DefaultLogPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath, nil
	}

	return "", fmt.Errorf("no log file found. ragcore may not have run with --debug yet.\nExpected at: %s", defaultPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceCore:
		p := DefaultLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceScheduler:
		p := SchedulerLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceAll:
		corePath := DefaultLogPath()
		schedPath := SchedulerLogPath()
		checked = append(checked, corePath, schedPath)

		if _, err := os.Stat(corePath); err == nil {
			paths = append(paths, corePath)
		}
		if _, err := os.Stat(schedPath); err == nil {
			paths = append(paths, schedPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: core, scheduler, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "scheduler":
		return LogSourceScheduler
	case "all":
		return LogSourceAll
	default:
		return LogSourceCore
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// getLogHint returns a helpful message on how to generate logs for the given source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceCore:
		return "To generate core logs:\n  ragcore --debug serve"
	case LogSourceScheduler:
		return "To generate scheduler logs:\n  ragcore --debug scheduler start"
	case LogSourceAll:
		return "To generate logs:\n  ragcore --debug serve\n  ragcore --debug scheduler start"
	default:
		return ""
	}
}
