package chunk

import (
	"log/slog"

	"github.com/ragcore/ragcore/internal/embed"
	"github.com/ragcore/ragcore/internal/telemetry"
)

// New returns the chunker selected by cfg.UseSemanticChunking: the
// semantic strategy (with recursive degradation baked in, per spec §7)
// when enabled, or the plain recursive strategy otherwise.
func New(cfg Config, encoder embed.Embedder, logger *slog.Logger) Chunker {
	if cfg.UseSemanticChunking {
		return NewSemanticChunker(cfg, encoder, logger)
	}
	return NewRecursiveChunker(cfg, logger)
}

// AttachEffectiveValueLogger wires l into c's Smart Overlap telemetry
// when c supports it (currently only the recursive strategy computes
// an overlap value worth recording); other strategies are a no-op.
func AttachEffectiveValueLogger(c Chunker, l *telemetry.EffectiveValueLogger) {
	if rc, ok := c.(*RecursiveChunker); ok {
		rc.SetEffectiveValueLogger(l)
	}
}
