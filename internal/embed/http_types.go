package embed

import "time"

// HTTP embedder provider constants. The wire format matches Ollama's
// /api/embed and /api/tags endpoints, which are also what most
// OpenAI-compatible local embedding servers expose.
const (
	// DefaultHTTPHost is the default embedding provider endpoint.
	DefaultHTTPHost = "http://localhost:11434"

	// DefaultHTTPModel is the default embedding model.
	DefaultHTTPModel = "nomic-embed-text"

	// HTTPConnectTimeout bounds the initial health check / model discovery call.
	HTTPConnectTimeout = 5 * time.Second

	// HTTPPoolSize is the HTTP connection pool size.
	HTTPPoolSize = 4
)

// FallbackModels are tried in order if the configured primary model
// isn't installed on the provider.
var FallbackModels = []string{
	"embeddinggemma",
	"mxbai-embed-large",
}

// HTTPEmbedderConfig configures the HTTP embedder provider.
type HTTPEmbedderConfig struct {
	// Host is the provider's API endpoint.
	Host string

	// Model is the embedding model to request.
	Model string

	// FallbackModels are tried in order if the primary model isn't available.
	FallbackModels []string

	// Dimensions overrides auto-detection (0 = auto-detect from a probe embedding).
	Dimensions int

	// BatchSize is the configured batch size fed into AdaptiveBatchSize.
	BatchSize int

	// AdaptiveBatchingEnabled applies AdaptiveBatchSize per EmbedBatch call
	// instead of always using the configured BatchSize.
	AdaptiveBatchingEnabled bool

	// AvailableMemoryFraction is the fraction of process memory the
	// adaptive batch formula is allowed to budget against.
	AvailableMemoryFraction float64

	// Timeout bounds each embedding request.
	Timeout time.Duration

	// ConnectTimeout bounds the initial health check.
	ConnectTimeout time.Duration

	// MaxRetries is the number of retry attempts for transient failures.
	MaxRetries int

	// PoolSize is the HTTP connection pool size.
	PoolSize int

	// SkipHealthCheck skips initial provider availability checks (for tests).
	SkipHealthCheck bool

	// ProgressFunc is called after each batch with (completed, total) counts.
	ProgressFunc func(completed, total int)

	// OnAdaptiveBatchSize, when set, is called with the inputs and
	// result of each adaptive batch size computation. Callers wire this
	// to telemetry.EffectiveValueLogger.AdaptiveBatchSize rather than
	// this package depending on internal/telemetry directly.
	OnAdaptiveBatchSize func(available, perItem int64, fraction float64, size int)
}

// DefaultHTTPEmbedderConfig returns sensible defaults.
func DefaultHTTPEmbedderConfig() HTTPEmbedderConfig {
	return HTTPEmbedderConfig{
		Host:                    DefaultHTTPHost,
		Model:                   DefaultHTTPModel,
		FallbackModels:          FallbackModels,
		Dimensions:              0,
		BatchSize:               DefaultBatchSize,
		AdaptiveBatchingEnabled: true,
		AvailableMemoryFraction: 0.4,
		Timeout:                 DefaultTimeout,
		ConnectTimeout:          HTTPConnectTimeout,
		MaxRetries:              DefaultMaxRetries,
		PoolSize:                HTTPPoolSize,
	}
}

// EmbedRequest is the /api/embed request body.
type EmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string for batch
}

// EmbedResponse is the /api/embed response body.
type EmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ModelListResponse is the /api/tags response body.
type ModelListResponse struct {
	Models []ModelInfo `json:"models"`
}

// ModelInfo describes a model installed on the provider.
type ModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
