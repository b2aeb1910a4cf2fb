package analyze

import (
	"log/slog"

	"github.com/ragcore/ragcore/internal/llm"
)

// New builds the Analyser appropriate for the given generator: an
// LLMAnalyser when gen is non-nil, otherwise the pure heuristic path.
func New(gen llm.Generator, logger *slog.Logger) Analyser {
	if gen == nil {
		return NewHeuristicAnalyser()
	}
	return NewLLMAnalyser(gen, logger)
}
