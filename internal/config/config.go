package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that YAML- and JSON-decodes from
// human-readable strings like "30s" or "15m", since neither codec
// handles time.Duration strings natively.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	raw, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("invalid duration %s: %w", data, err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration for callers feeding tickers,
// timeouts, and contexts.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config represents the complete ragcore configuration.
type Config struct {
	Version      int                 `yaml:"version" json:"version"`
	Ingestion    IngestionConfig     `yaml:"ingestion" json:"ingestion"`
	Retrieval    RetrievalConfig     `yaml:"retrieval" json:"retrieval"`
	LLM          LLMConfig           `yaml:"llm" json:"llm"`
	Embedder     EmbedderConfig      `yaml:"embedder" json:"embedder"`
	Conversation ConversationConfig  `yaml:"conversation" json:"conversation"`
	Memory       MemoryConfig        `yaml:"memory" json:"memory"`
	ExternalSource ExternalSourceConfig `yaml:"external_source" json:"external_source"`
	Server       ServerConfig        `yaml:"server" json:"server"`
}

// IngestionConfig configures the ingestion pipeline (C6).
type IngestionConfig struct {
	// ChunkSize is the target chunk size in characters for recursive chunking.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlapBase is the base overlap size before Smart Overlap adjustment.
	ChunkOverlapBase int `yaml:"chunk_overlap_base" json:"chunk_overlap_base"`
	// SemanticChunkingEnabled turns on sentence-embedding-based boundary detection.
	SemanticChunkingEnabled bool `yaml:"semantic_chunking_enabled" json:"semantic_chunking_enabled"`
	// Workers is the number of concurrent document processors.
	Workers int `yaml:"workers" json:"workers"`
	// DurabilityMode is "sync" (default, durable per-write) or "batched" (opt-in).
	DurabilityMode string `yaml:"durability_mode" json:"durability_mode"`
	// BatchFlushInterval is how often batched-mode writes are flushed.
	BatchFlushInterval Duration `yaml:"batch_flush_interval" json:"batch_flush_interval"`
}

// RetrievalConfig configures the query engine (C9) and reranker/analyzer (C7/C8).
type RetrievalConfig struct {
	// TopK is the number of chunks returned to the conversation engine.
	TopK int `yaml:"top_k" json:"top_k"`
	// MaxVariants bounds the number of query-expansion variants generated.
	MaxVariants int `yaml:"max_variants" json:"max_variants"`
	// SimilarityThreshold drops results scoring below it unless the
	// conversation layer sets the bypass flag.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	// VariantAgreementThreshold is the fraction (0-1) of variants a chunk
	// must appear in before it's selected as LLM context (spec's "20% rule").
	VariantAgreementThreshold float64 `yaml:"variant_agreement_threshold" json:"variant_agreement_threshold"`
	// DiversityWeight (w) blends relevance and diversity: final = relevance*(1-w) + diversity*w.
	DiversityWeight float64 `yaml:"diversity_weight" json:"diversity_weight"`
	// RerankEnabled toggles the reranking stage (C7); a no-op reranker is used when false.
	RerankEnabled bool `yaml:"rerank_enabled" json:"rerank_enabled"`
	// RerankTopK caps how many candidates are fed to the cross-encoder.
	RerankTopK int `yaml:"rerank_top_k" json:"rerank_top_k"`
	// SourceDiversityEnabled toggles diversity scoring and selection.
	SourceDiversityEnabled bool `yaml:"source_diversity_enabled" json:"source_diversity_enabled"`
	// MaxChunksPerDoc bounds chunks admitted from a single document.
	MaxChunksPerDoc int `yaml:"max_chunks_per_doc" json:"max_chunks_per_doc"`
	// MinSourceTypes is how many distinct source types a result set
	// needs before its type-diversity component saturates.
	MinSourceTypes int `yaml:"min_source_types" json:"min_source_types"`
	// KeywordAssistEnabled toggles the bleve-backed keyword-assist variant alongside vector retrieval.
	KeywordAssistEnabled bool `yaml:"keyword_assist_enabled" json:"keyword_assist_enabled"`
}

// LLMConfig configures the LLM Gateway (generation + rate limiting + circuit breaker).
type LLMConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	// MaxTokens bounds completion length per generation call.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
	// Temperature is the sampling temperature for generation calls.
	Temperature float64 `yaml:"temperature" json:"temperature"`
	// RequestsPerMinute (R) caps the process-global LLM request rate.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	// MinInterval (T) is the minimum spacing between consecutive requests.
	MinInterval Duration `yaml:"min_interval" json:"min_interval"`
	Timeout     Duration `yaml:"timeout" json:"timeout"`
	// CircuitMaxFailures is the failure count before the gateway's breaker opens.
	CircuitMaxFailures int `yaml:"circuit_max_failures" json:"circuit_max_failures"`
	// CircuitResetTimeout is how long the breaker stays open before probing again.
	CircuitResetTimeout Duration `yaml:"circuit_reset_timeout" json:"circuit_reset_timeout"`
}

// EmbedderConfig configures the embedding provider and adaptive batching.
type EmbedderConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	// BatchSize is the default/fallback batch size before adaptive sizing.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// AdaptiveBatchingEnabled turns on the memory-aware batch size formula.
	AdaptiveBatchingEnabled bool `yaml:"adaptive_batching_enabled" json:"adaptive_batching_enabled"`
	// AvailableMemoryFraction is the fraction of available memory the
	// adaptive formula is allowed to target (spec default: 0.4).
	AvailableMemoryFraction float64  `yaml:"available_memory_fraction" json:"available_memory_fraction"`
	Timeout                 Duration `yaml:"timeout" json:"timeout"`
	CacheEnabled            bool     `yaml:"cache_enabled" json:"cache_enabled"`
}

// ConversationConfig configures the conversation graph (C10) and its
// working memory: how much transcript is retained, how much of it feeds
// each turn, and how long an idle thread lives before it's pruned.
type ConversationConfig struct {
	// MaxHistory bounds the message list kept per thread; the oldest
	// messages are dropped once it's exceeded.
	MaxHistory int `yaml:"max_history" json:"max_history"`
	// MaxRelevantHistory is how many recent messages feed contextual
	// query enhancement and synthesis prompts.
	MaxRelevantHistory int `yaml:"max_relevant_history" json:"max_relevant_history"`
	// MaxContextLength is the token-estimate budget for the assembled
	// context block.
	MaxContextLength int `yaml:"max_context_length" json:"max_context_length"`
	// IdleTimeout is how long an untouched thread survives before the
	// cleanup sweep evicts it.
	IdleTimeout Duration `yaml:"idle_timeout" json:"idle_timeout"`
	// LLMQueryAnalysisEnabled routes query analysis through the LLM
	// Gateway; when false only the heuristic analyser runs.
	LLMQueryAnalysisEnabled bool `yaml:"llm_query_analysis_enabled" json:"llm_query_analysis_enabled"`
	// MaxDecomposedQueries bounds sub-queries executed per decomposed query.
	MaxDecomposedQueries int `yaml:"max_decomposed_queries" json:"max_decomposed_queries"`
	// SynonymExpansionEnabled toggles entity-synonym query variants.
	SynonymExpansionEnabled bool `yaml:"synonym_expansion_enabled" json:"synonym_expansion_enabled"`
	// QueryDecompositionEnabled toggles the decomposition path entirely.
	QueryDecompositionEnabled bool `yaml:"query_decomposition_enabled" json:"query_decomposition_enabled"`
	// AggregationDetectionEnabled toggles the count/statistic path.
	AggregationDetectionEnabled bool `yaml:"aggregation_detection_enabled" json:"aggregation_detection_enabled"`
	// ResponseSynthesisEnabled toggles LLM synthesis; when false the
	// extractive fallback is always used.
	ResponseSynthesisEnabled bool `yaml:"response_synthesis_enabled" json:"response_synthesis_enabled"`
	// ValidationEnabled toggles the five-check response validator.
	ValidationEnabled bool `yaml:"validation_enabled" json:"validation_enabled"`
	// PoisoningDetectionEnabled toggles context-quality/poisoning detection.
	PoisoningDetectionEnabled bool `yaml:"poisoning_detection_enabled" json:"poisoning_detection_enabled"`
	// StateBackend is "memory" (default) or "redis" for shared conversation state.
	StateBackend string `yaml:"state_backend" json:"state_backend"`
	RedisAddr    string `yaml:"redis_addr" json:"redis_addr"`
}

// MemoryConfig configures the process-wide model-memory manager.
type MemoryConfig struct {
	// MaxLoadedModels bounds how many models can be resident at once (LRU eviction).
	MaxLoadedModels int `yaml:"max_loaded_models" json:"max_loaded_models"`
	// IdleTimeout is how long an unused model stays loaded before the sweep evicts it.
	IdleTimeout Duration `yaml:"idle_timeout" json:"idle_timeout"`
	// CleanupInterval is how often the idle sweep runs.
	CleanupInterval Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// ExternalSourceConfig configures the external-source scheduler (C11).
type ExternalSourceConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Kind    string `yaml:"kind" json:"kind"` // e.g. "servicenow"
	BaseURL string `yaml:"base_url" json:"base_url"`
	// PollInterval is how often the scheduler checks for new/changed tickets.
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`
	// TokenURL is the OAuth-style token endpoint used by token-flow-with-expiry auth.
	TokenURL     string `yaml:"token_url" json:"token_url"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	// EventStreamEnabled publishes fetch_history records to Kafka when true.
	EventStreamEnabled bool     `yaml:"event_stream_enabled" json:"event_stream_enabled"`
	KafkaBrokers       []string `yaml:"kafka_brokers" json:"kafka_brokers"`
	KafkaTopic         string   `yaml:"kafka_topic" json:"kafka_topic"`

	// BatchSize bounds records fetched per page while paging through the source.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MaxRecordsPerFetch caps total records pulled across all pages in one tick.
	MaxRecordsPerFetch int `yaml:"max_records_per_fetch" json:"max_records_per_fetch"`
	// PriorityFilter and StateFilter narrow the fetch to matching records; empty means no filter.
	PriorityFilter []string `yaml:"priority_filter" json:"priority_filter"`
	StateFilter    []string `yaml:"state_filter" json:"state_filter"`
	// DaysBack bounds the lookback window for the "updated since" filter.
	DaysBack int `yaml:"days_back" json:"days_back"`
	// AutoIngest feeds new/changed records through the Ingestion Engine immediately;
	// when false, records are cached and queued for a manual sync.
	AutoIngest bool `yaml:"auto_ingest" json:"auto_ingest"`
	// CacheTTLHours is how long a cached record is considered fresh without re-fetch.
	CacheTTLHours int `yaml:"cache_ttl_hours" json:"cache_ttl_hours"`
	// GracePeriod bounds how long Stop waits for an in-flight fetch to drain.
	GracePeriod Duration `yaml:"grace_period" json:"grace_period"`
}

// ServerConfig configures the pkg/ragapi transport and logging level.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"` // "mcp" or "direct"
	LogLevel  string `yaml:"log_level" json:"log_level"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	// TracingEnabled turns on span recording around the pipeline's
	// blocking calls (embedding, generation, persist, external fetch).
	TracingEnabled bool `yaml:"tracing_enabled" json:"tracing_enabled"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Ingestion: IngestionConfig{
			ChunkSize:               1500,
			ChunkOverlapBase:        200,
			SemanticChunkingEnabled: false,
			Workers:                 runtime.NumCPU(),
			DurabilityMode:          "sync",
			BatchFlushInterval:      Duration(2 * time.Second),
		},
		Retrieval: RetrievalConfig{
			TopK:                      8,
			MaxVariants:               4,
			SimilarityThreshold:       0.5,
			VariantAgreementThreshold: 0.2,
			DiversityWeight:           0.3,
			RerankEnabled:             true,
			RerankTopK:                20,
			SourceDiversityEnabled:    true,
			MaxChunksPerDoc:           3,
			MinSourceTypes:            2,
			KeywordAssistEnabled:      true,
		},
		LLM: LLMConfig{
			Provider:            "http",
			Model:               "",
			Endpoint:            "",
			MaxTokens:           1000,
			Temperature:         0.1,
			RequestsPerMinute:   60,
			MinInterval:         Duration(200 * time.Millisecond),
			Timeout:             Duration(30 * time.Second),
			CircuitMaxFailures:  5,
			CircuitResetTimeout: Duration(30 * time.Second),
		},
		Embedder: EmbedderConfig{
			Provider:                "", // empty triggers auto-detection
			Model:                   "",
			Dimensions:              0, // auto-detect from provider
			BatchSize:               32,
			AdaptiveBatchingEnabled: true,
			AvailableMemoryFraction: 0.4,
			Timeout:                 Duration(60 * time.Second),
			CacheEnabled:            true,
		},
		Conversation: ConversationConfig{
			MaxHistory:                  20,
			MaxRelevantHistory:          6,
			MaxContextLength:            4000,
			IdleTimeout:                 Duration(24 * time.Hour),
			LLMQueryAnalysisEnabled:     true,
			MaxDecomposedQueries:        10,
			SynonymExpansionEnabled:     true,
			QueryDecompositionEnabled:   true,
			AggregationDetectionEnabled: true,
			ResponseSynthesisEnabled:    true,
			ValidationEnabled:           true,
			PoisoningDetectionEnabled:   true,
			StateBackend:                "memory",
		},
		Memory: MemoryConfig{
			MaxLoadedModels: 2,
			IdleTimeout:     Duration(10 * time.Minute),
			CleanupInterval: Duration(time.Minute),
		},
		ExternalSource: ExternalSourceConfig{
			Enabled:            false,
			Kind:               "servicenow",
			PollInterval:       Duration(15 * time.Minute),
			EventStreamEnabled: false,
			KafkaTopic:         "ragcore.fetch_history",
			BatchSize:          100,
			MaxRecordsPerFetch: 1000,
			PriorityFilter:     []string{"1", "2", "3"},
			StateFilter:        []string{"1", "2", "3"},
			DaysBack:           7,
			AutoIngest:         true,
			CacheTTLHours:      1,
			GracePeriod:        Duration(30 * time.Second),
		},
		Server: ServerConfig{
			Transport: "direct",
			LogLevel:  "info",
			DataDir:   defaultDataDir(),
		},
	}
}

// defaultDataDir returns the default directory for the vector store,
// metadata database, and other on-disk state.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ragcore", "data")
	}
	return filepath.Join(home, ".ragcore", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/ragcore/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/ragcore/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragcore", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ragcore", "config.yaml")
	}
	return filepath.Join(home, ".config", "ragcore", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/ragcore/config.yaml)
//  3. Project config (ragcore.yaml in dir)
//  4. Environment variables (RAGCORE_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from ragcore.yaml or ragcore.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, "ragcore.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, "ragcore.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Ingestion.ChunkSize != 0 {
		c.Ingestion.ChunkSize = other.Ingestion.ChunkSize
	}
	if other.Ingestion.ChunkOverlapBase != 0 {
		c.Ingestion.ChunkOverlapBase = other.Ingestion.ChunkOverlapBase
	}
	if other.Ingestion.Workers != 0 {
		c.Ingestion.Workers = other.Ingestion.Workers
	}
	if other.Ingestion.DurabilityMode != "" {
		c.Ingestion.DurabilityMode = other.Ingestion.DurabilityMode
	}
	if other.Ingestion.BatchFlushInterval != 0 {
		c.Ingestion.BatchFlushInterval = other.Ingestion.BatchFlushInterval
	}

	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}
	if other.Retrieval.MaxVariants != 0 {
		c.Retrieval.MaxVariants = other.Retrieval.MaxVariants
	}
	if other.Retrieval.SimilarityThreshold != 0 {
		c.Retrieval.SimilarityThreshold = other.Retrieval.SimilarityThreshold
	}
	if other.Retrieval.VariantAgreementThreshold != 0 {
		c.Retrieval.VariantAgreementThreshold = other.Retrieval.VariantAgreementThreshold
	}
	if other.Retrieval.DiversityWeight != 0 {
		c.Retrieval.DiversityWeight = other.Retrieval.DiversityWeight
	}
	if other.Retrieval.RerankTopK != 0 {
		c.Retrieval.RerankTopK = other.Retrieval.RerankTopK
	}
	if other.Retrieval.MaxChunksPerDoc != 0 {
		c.Retrieval.MaxChunksPerDoc = other.Retrieval.MaxChunksPerDoc
	}
	if other.Retrieval.MinSourceTypes != 0 {
		c.Retrieval.MinSourceTypes = other.Retrieval.MinSourceTypes
	}

	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.RequestsPerMinute != 0 {
		c.LLM.RequestsPerMinute = other.LLM.RequestsPerMinute
	}
	if other.LLM.MinInterval != 0 {
		c.LLM.MinInterval = other.LLM.MinInterval
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}

	if other.Embedder.Provider != "" {
		c.Embedder.Provider = other.Embedder.Provider
	}
	if other.Embedder.Model != "" {
		c.Embedder.Model = other.Embedder.Model
	}
	if other.Embedder.Dimensions != 0 {
		c.Embedder.Dimensions = other.Embedder.Dimensions
	}
	if other.Embedder.Endpoint != "" {
		c.Embedder.Endpoint = other.Embedder.Endpoint
	}
	if other.Embedder.BatchSize != 0 {
		c.Embedder.BatchSize = other.Embedder.BatchSize
	}
	if other.Embedder.AvailableMemoryFraction != 0 {
		c.Embedder.AvailableMemoryFraction = other.Embedder.AvailableMemoryFraction
	}

	if other.Conversation.MaxHistory != 0 {
		c.Conversation.MaxHistory = other.Conversation.MaxHistory
	}
	if other.Conversation.MaxRelevantHistory != 0 {
		c.Conversation.MaxRelevantHistory = other.Conversation.MaxRelevantHistory
	}
	if other.Conversation.MaxContextLength != 0 {
		c.Conversation.MaxContextLength = other.Conversation.MaxContextLength
	}
	if other.Conversation.IdleTimeout != 0 {
		c.Conversation.IdleTimeout = other.Conversation.IdleTimeout
	}
	if other.Conversation.MaxDecomposedQueries != 0 {
		c.Conversation.MaxDecomposedQueries = other.Conversation.MaxDecomposedQueries
	}
	if other.Conversation.StateBackend != "" {
		c.Conversation.StateBackend = other.Conversation.StateBackend
	}
	if other.Conversation.RedisAddr != "" {
		c.Conversation.RedisAddr = other.Conversation.RedisAddr
	}

	if other.Memory.MaxLoadedModels != 0 {
		c.Memory.MaxLoadedModels = other.Memory.MaxLoadedModels
	}
	if other.Memory.IdleTimeout != 0 {
		c.Memory.IdleTimeout = other.Memory.IdleTimeout
	}
	if other.Memory.CleanupInterval != 0 {
		c.Memory.CleanupInterval = other.Memory.CleanupInterval
	}

	if other.ExternalSource.Enabled {
		c.ExternalSource.Enabled = other.ExternalSource.Enabled
	}
	if other.ExternalSource.Kind != "" {
		c.ExternalSource.Kind = other.ExternalSource.Kind
	}
	if other.ExternalSource.BaseURL != "" {
		c.ExternalSource.BaseURL = other.ExternalSource.BaseURL
	}
	if other.ExternalSource.PollInterval != 0 {
		c.ExternalSource.PollInterval = other.ExternalSource.PollInterval
	}
	if other.ExternalSource.TokenURL != "" {
		c.ExternalSource.TokenURL = other.ExternalSource.TokenURL
	}
	if other.ExternalSource.ClientID != "" {
		c.ExternalSource.ClientID = other.ExternalSource.ClientID
	}
	if other.ExternalSource.ClientSecret != "" {
		c.ExternalSource.ClientSecret = other.ExternalSource.ClientSecret
	}
	if len(other.ExternalSource.KafkaBrokers) > 0 {
		c.ExternalSource.KafkaBrokers = other.ExternalSource.KafkaBrokers
	}
	if other.ExternalSource.KafkaTopic != "" {
		c.ExternalSource.KafkaTopic = other.ExternalSource.KafkaTopic
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.DataDir != "" {
		c.Server.DataDir = other.Server.DataDir
	}
	if other.Server.TracingEnabled {
		c.Server.TracingEnabled = true
	}
}

// applyEnvOverrides applies RAGCORE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGCORE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingestion.ChunkSize = n
		}
	}
	if v := os.Getenv("RAGCORE_DURABILITY_MODE"); v != "" {
		c.Ingestion.DurabilityMode = v
	}

	if v := os.Getenv("RAGCORE_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("RAGCORE_SIMILARITY_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.Retrieval.SimilarityThreshold = t
		}
	}
	if v := os.Getenv("RAGCORE_DIVERSITY_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.DiversityWeight = w
		}
	}
	if v := os.Getenv("RAGCORE_MAX_CHUNKS_PER_DOC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.MaxChunksPerDoc = n
		}
	}

	if v := os.Getenv("RAGCORE_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("RAGCORE_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("RAGCORE_LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("RAGCORE_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("RAGCORE_LLM_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LLM.RequestsPerMinute = n
		}
	}

	if v := os.Getenv("RAGCORE_EMBEDDER_PROVIDER"); v != "" {
		c.Embedder.Provider = v
	}
	if v := os.Getenv("RAGCORE_EMBEDDER_MODEL"); v != "" {
		c.Embedder.Model = v
	}
	if v := os.Getenv("RAGCORE_EMBEDDER_ENDPOINT"); v != "" {
		c.Embedder.Endpoint = v
	}

	if v := os.Getenv("RAGCORE_LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LLM.MaxTokens = n
		}
	}

	if v := os.Getenv("RAGCORE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("RAGCORE_TRACING_ENABLED"); v != "" {
		c.Server.TracingEnabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("RAGCORE_DATA_DIR"); v != "" {
		c.Server.DataDir = v
	}

	if v := os.Getenv("RAGCORE_EXTERNAL_SOURCE_ENABLED"); v != "" {
		c.ExternalSource.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("RAGCORE_EXTERNAL_SOURCE_BASE_URL"); v != "" {
		c.ExternalSource.BaseURL = v
	}
	if v := os.Getenv("RAGCORE_EXTERNAL_SOURCE_CLIENT_ID"); v != "" {
		c.ExternalSource.ClientID = v
	}
	if v := os.Getenv("RAGCORE_EXTERNAL_SOURCE_CLIENT_SECRET"); v != "" {
		c.ExternalSource.ClientSecret = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// FindProjectRoot finds the project root directory by walking up from
// startDir looking for a .git directory or a ragcore.yaml/.yml file.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		if fileExists(filepath.Join(currentDir, "ragcore.yaml")) ||
			fileExists(filepath.Join(currentDir, "ragcore.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Retrieval.DiversityWeight < 0 || c.Retrieval.DiversityWeight > 1 {
		return fmt.Errorf("retrieval.diversity_weight must be between 0 and 1, got %f", c.Retrieval.DiversityWeight)
	}
	if c.Retrieval.VariantAgreementThreshold < 0 || c.Retrieval.VariantAgreementThreshold > 1 {
		return fmt.Errorf("retrieval.variant_agreement_threshold must be between 0 and 1, got %f", c.Retrieval.VariantAgreementThreshold)
	}
	if c.Retrieval.TopK < 0 {
		return fmt.Errorf("retrieval.top_k must be non-negative, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be between 0 and 1, got %f", c.Retrieval.SimilarityThreshold)
	}
	if c.Retrieval.MaxChunksPerDoc < 0 {
		return fmt.Errorf("retrieval.max_chunks_per_doc must be non-negative, got %d", c.Retrieval.MaxChunksPerDoc)
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %f", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must be non-negative, got %d", c.LLM.MaxTokens)
	}

	if c.Conversation.MaxHistory < 0 {
		return fmt.Errorf("conversation.max_history must be non-negative, got %d", c.Conversation.MaxHistory)
	}
	if c.Conversation.MaxRelevantHistory > c.Conversation.MaxHistory && c.Conversation.MaxHistory > 0 {
		return fmt.Errorf("conversation.max_relevant_history (%d) must not exceed max_history (%d)",
			c.Conversation.MaxRelevantHistory, c.Conversation.MaxHistory)
	}

	if c.Ingestion.ChunkSize < 0 {
		return fmt.Errorf("ingestion.chunk_size must be non-negative, got %d", c.Ingestion.ChunkSize)
	}
	if c.Ingestion.ChunkOverlapBase >= c.Ingestion.ChunkSize && c.Ingestion.ChunkSize > 0 {
		return fmt.Errorf("ingestion.chunk_overlap_base (%d) must be smaller than chunk_size (%d)",
			c.Ingestion.ChunkOverlapBase, c.Ingestion.ChunkSize)
	}
	validDurability := map[string]bool{"sync": true, "batched": true}
	if !validDurability[strings.ToLower(c.Ingestion.DurabilityMode)] {
		return fmt.Errorf("ingestion.durability_mode must be 'sync' or 'batched', got %s", c.Ingestion.DurabilityMode)
	}

	if c.Embedder.AvailableMemoryFraction <= 0 || c.Embedder.AvailableMemoryFraction > 1 {
		return fmt.Errorf("embedder.available_memory_fraction must be in (0, 1], got %f", c.Embedder.AvailableMemoryFraction)
	}

	validTransports := map[string]bool{"mcp": true, "direct": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'mcp' or 'direct', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if c.ExternalSource.Enabled && c.ExternalSource.BaseURL == "" {
		return fmt.Errorf("external_source.base_url is required when external_source.enabled is true")
	}

	// NaN fails neither range comparison above, so it is rejected here.
	if math.IsNaN(c.Retrieval.DiversityWeight) {
		return fmt.Errorf("retrieval.diversity_weight must not be NaN")
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults backfills zero-valued fields introduced by a newer
// version of ragcore into an older on-disk config, returning the
// dotted field names that were added. Existing non-zero values are
// never touched.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Retrieval.MaxVariants == 0 {
		c.Retrieval.MaxVariants = defaults.Retrieval.MaxVariants
		added = append(added, "retrieval.max_variants")
	}
	if c.Retrieval.VariantAgreementThreshold == 0 {
		c.Retrieval.VariantAgreementThreshold = defaults.Retrieval.VariantAgreementThreshold
		added = append(added, "retrieval.variant_agreement_threshold")
	}
	if c.Retrieval.DiversityWeight == 0 {
		c.Retrieval.DiversityWeight = defaults.Retrieval.DiversityWeight
		added = append(added, "retrieval.diversity_weight")
	}
	if c.Retrieval.SimilarityThreshold == 0 {
		c.Retrieval.SimilarityThreshold = defaults.Retrieval.SimilarityThreshold
		added = append(added, "retrieval.similarity_threshold")
	}
	if c.Retrieval.RerankTopK == 0 {
		c.Retrieval.RerankTopK = defaults.Retrieval.RerankTopK
		added = append(added, "retrieval.rerank_top_k")
	}
	if c.Retrieval.MaxChunksPerDoc == 0 {
		c.Retrieval.MaxChunksPerDoc = defaults.Retrieval.MaxChunksPerDoc
		added = append(added, "retrieval.max_chunks_per_doc")
	}
	if c.Retrieval.MinSourceTypes == 0 {
		c.Retrieval.MinSourceTypes = defaults.Retrieval.MinSourceTypes
		added = append(added, "retrieval.min_source_types")
	}

	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = defaults.LLM.MaxTokens
		added = append(added, "llm.max_tokens")
	}

	if c.Conversation.MaxHistory == 0 {
		c.Conversation.MaxHistory = defaults.Conversation.MaxHistory
		added = append(added, "conversation.max_history")
	}
	if c.Conversation.IdleTimeout == 0 {
		c.Conversation.IdleTimeout = defaults.Conversation.IdleTimeout
		added = append(added, "conversation.idle_timeout")
	}

	if c.Embedder.AvailableMemoryFraction == 0 {
		c.Embedder.AvailableMemoryFraction = defaults.Embedder.AvailableMemoryFraction
		added = append(added, "embedder.available_memory_fraction")
	}
	if c.Embedder.BatchSize == 0 {
		c.Embedder.BatchSize = defaults.Embedder.BatchSize
		added = append(added, "embedder.batch_size")
	}

	if c.LLM.CircuitMaxFailures == 0 {
		c.LLM.CircuitMaxFailures = defaults.LLM.CircuitMaxFailures
		added = append(added, "llm.circuit_max_failures")
	}
	if c.LLM.CircuitResetTimeout == 0 {
		c.LLM.CircuitResetTimeout = defaults.LLM.CircuitResetTimeout
		added = append(added, "llm.circuit_reset_timeout")
	}

	if c.Memory.MaxLoadedModels == 0 {
		c.Memory.MaxLoadedModels = defaults.Memory.MaxLoadedModels
		added = append(added, "memory.max_loaded_models")
	}
	if c.Memory.IdleTimeout == 0 {
		c.Memory.IdleTimeout = defaults.Memory.IdleTimeout
		added = append(added, "memory.idle_timeout")
	}

	return added
}
