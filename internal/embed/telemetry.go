package embed

import "github.com/ragcore/ragcore/internal/telemetry"

// AttachEffectiveValueLogger wires l into e's Adaptive Batch Size
// telemetry when e is (or wraps) an *HTTPEmbedder, which is the only
// provider that computes an adaptive batch size worth recording; the
// static embedder is a no-op.
func AttachEffectiveValueLogger(e Embedder, l *telemetry.EffectiveValueLogger) {
	if cached, ok := e.(*CachedEmbedder); ok {
		e = cached.Inner()
	}
	if httpEmb, ok := e.(*HTTPEmbedder); ok {
		httpEmb.SetEffectiveValueLogger(l)
	}
}
