package telemetry

import (
	"context"
	"io"
	"log/slog"

	"github.com/rs/zerolog"
)

// EffectiveValueLogger records the runtime-computed values behind the
// pipeline's adaptive formulas: the embedder's adaptive batch size, the
// chunker's Smart Overlap adjustment, the query engine's diversity
// weighting, and the conversation graph's confidence composition. These
// are high-volume, numeric, latency-sensitive events, so they're encoded
// with zerolog's zero-allocation writer rather than going through slog
// directly - general application logs stay on internal/logging's
// slog-based handler.
type EffectiveValueLogger struct {
	log zerolog.Logger
}

// NewEffectiveValueLogger builds a logger writing newline-delimited JSON
// to w (typically the same rotating file internal/logging writes to, or
// os.Stdout in development).
func NewEffectiveValueLogger(w io.Writer) *EffectiveValueLogger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	return &EffectiveValueLogger{
		log: zerolog.New(w).With().Timestamp().Str("component", "effective_value").Logger(),
	}
}

// AdaptiveBatchSize records the batch size the embedder computed for a
// call, along with the memory budget it was derived from.
func (l *EffectiveValueLogger) AdaptiveBatchSize(provider string, available, perItem int64, fraction float64, size int) {
	l.log.Info().
		Str("param", "adaptive_batch_size").
		Str("provider", provider).
		Int64("available_bytes", available).
		Int64("per_item_bytes", perItem).
		Float64("memory_fraction", fraction).
		Int("batch_size", size).
		Msg("computed adaptive batch size")
}

// SmartOverlap records the overlap size the chunker chose for a document
// after applying its boundary-aware classifier to the configured base.
func (l *EffectiveValueLogger) SmartOverlap(docID string, base, chosen int, classifier string) {
	l.log.Info().
		Str("param", "smart_overlap").
		Str("doc_id", docID).
		Int("base_overlap", base).
		Int("chosen_overlap", chosen).
		Str("classifier", classifier).
		Msg("computed chunk overlap")
}

// DiversityWeighting records the relevance/diversity blend the query
// engine applied when ranking a result set.
func (l *EffectiveValueLogger) DiversityWeighting(queryID string, weight float64, candidateCount, selectedCount int) {
	l.log.Info().
		Str("param", "diversity_weight").
		Str("query_id", queryID).
		Float64("weight", weight).
		Int("candidates", candidateCount).
		Int("selected", selectedCount).
		Msg("applied diversity weighting")
}

// ConfidenceComposition records the weighted components the conversation
// graph combined into a single response-confidence score.
func (l *EffectiveValueLogger) ConfidenceComposition(turnID string, components map[string]float64, composed float64) {
	evt := l.log.Info().
		Str("param", "confidence_composition").
		Str("turn_id", turnID).
		Float64("composed", composed)
	for name, value := range components {
		evt = evt.Float64(name, value)
	}
	evt.Msg("composed response confidence")
}

// SlogHandler returns an slog.Handler adapter so effective-value records
// can be threaded through the same context-scoped *slog.Logger the rest
// of the daemon uses, while still being encoded by zerolog underneath.
func (l *EffectiveValueLogger) SlogHandler() slog.Handler {
	return &zerologSlogHandler{log: l.log}
}

// zerologSlogHandler implements slog.Handler by forwarding records to a
// zerolog.Logger. Only the subset of slog features effective-value
// logging actually uses (level, message, attrs) is supported; grouping
// is flattened since zerolog has no native equivalent.
type zerologSlogHandler struct {
	log  zerolog.Logger
	attr []slog.Attr
}

func (h *zerologSlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.log.GetLevel() <= slogLevelToZerolog(level)
}

func (h *zerologSlogHandler) Handle(_ context.Context, r slog.Record) error {
	evt := h.log.WithLevel(slogLevelToZerolog(r.Level))
	for _, a := range h.attr {
		evt = addSlogAttr(evt, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		evt = addSlogAttr(evt, a)
		return true
	})
	evt.Msg(r.Message)
	return nil
}

func (h *zerologSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attr)+len(attrs))
	merged = append(merged, h.attr...)
	merged = append(merged, attrs...)
	return &zerologSlogHandler{log: h.log, attr: merged}
}

func (h *zerologSlogHandler) WithGroup(name string) slog.Handler {
	// zerolog has no grouping primitive; attributes are kept flat and
	// the group name is dropped rather than faked with a prefix.
	return h
}

func addSlogAttr(evt *zerolog.Event, a slog.Attr) *zerolog.Event {
	switch a.Value.Kind() {
	case slog.KindInt64:
		return evt.Int64(a.Key, a.Value.Int64())
	case slog.KindFloat64:
		return evt.Float64(a.Key, a.Value.Float64())
	case slog.KindBool:
		return evt.Bool(a.Key, a.Value.Bool())
	case slog.KindDuration:
		return evt.Dur(a.Key, a.Value.Duration())
	default:
		return evt.Str(a.Key, a.Value.String())
	}
}

func slogLevelToZerolog(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
