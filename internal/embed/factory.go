package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/ragcore/ragcore/internal/config"
)

// Provider identifiers accepted by NewEmbedder.
const (
	ProviderHTTP   = "http"
	ProviderOllama = "ollama" // alias for "http" with Ollama-shaped defaults
	ProviderStatic = "static"
)

// NewEmbedder builds an Embedder from configuration, auto-detecting a
// provider when cfg.Provider is empty: it probes the HTTP provider
// first and falls back to the static embedder if nothing answers.
// When cfg.CacheEnabled, the result is wrapped in a CachedEmbedder.
func NewEmbedder(ctx context.Context, cfg config.EmbedderConfig) (Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	var embedder Embedder
	var err error

	switch provider {
	case "", ProviderHTTP, ProviderOllama:
		embedder, err = newHTTPEmbedderFromConfig(ctx, cfg)
		if err != nil {
			if provider != "" {
				return nil, fmt.Errorf("embedder provider %q unavailable: %w", provider, err)
			}
			// Auto-detection: no HTTP provider reachable, fall back to
			// the static embedder so ingestion can still proceed offline.
			embedder = NewStaticEmbedder768()
		}
	case ProviderStatic:
		embedder = NewStaticEmbedder768()
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}

	if cfg.CacheEnabled {
		return NewCachedEmbedderWithDefaults(embedder), nil
	}
	return embedder, nil
}

func newHTTPEmbedderFromConfig(ctx context.Context, cfg config.EmbedderConfig) (*HTTPEmbedder, error) {
	httpCfg := DefaultHTTPEmbedderConfig()

	if cfg.Model != "" {
		httpCfg.Model = cfg.Model
	}
	if cfg.Endpoint != "" {
		httpCfg.Host = cfg.Endpoint
	}
	if cfg.Dimensions > 0 {
		httpCfg.Dimensions = cfg.Dimensions
	}
	if cfg.BatchSize > 0 {
		httpCfg.BatchSize = cfg.BatchSize
	}
	httpCfg.AdaptiveBatchingEnabled = cfg.AdaptiveBatchingEnabled
	if cfg.AvailableMemoryFraction > 0 {
		httpCfg.AvailableMemoryFraction = cfg.AvailableMemoryFraction
	}
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout.Std()
	}

	return NewHTTPEmbedder(ctx, httpCfg)
}
