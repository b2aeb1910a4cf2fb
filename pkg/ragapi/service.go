// Package ragapi wires the internal components (C1-C11) into the
// external surface spec.md's §6 describes: ingestion, query, and
// conversation. It owns construction, on-disk layout under a single
// data directory, and the persistence calls the individual stores
// don't perform on their own, generalizing the teacher's
// internal/mcp.Server + daemon wiring (constructed once per process,
// handed to every transport) from a code-search engine to this
// system's retrieval stack.
package ragapi

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/ragcore/ragcore/internal/analyze"
	"github.com/ragcore/ragcore/internal/chunk"
	"github.com/ragcore/ragcore/internal/config"
	"github.com/ragcore/ragcore/internal/conversation"
	"github.com/ragcore/ragcore/internal/embed"
	"github.com/ragcore/ragcore/internal/external"
	"github.com/ragcore/ragcore/internal/ingest"
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/logging"
	"github.com/ragcore/ragcore/internal/model"
	"github.com/ragcore/ragcore/internal/query"
	"github.com/ragcore/ragcore/internal/rerank"
	"github.com/ragcore/ragcore/internal/store"
	"github.com/ragcore/ragcore/internal/telemetry"
)

const (
	vectorFileName    = "vectors.hnsw"
	metadataFileName  = "metadata.db"
	bm25BaseName      = "bm25"
	telemetryFileName = "telemetry.db"
	effectiveValueLog = "effective_value.log"
)

// Service is the constructed, ready-to-use system: every internal
// component wired per spec.md §6, behind the three External Interface
// groups (Ingestion API, Query API, Conversation API). Transports
// (cmd/ragcore's CLI, internal/mcp's MCP server) hold one Service and
// translate their own request shapes into its methods.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	dataLock *store.DataLock
	vectors  store.VectorStore
	metadata store.MetadataStore
	bm25     store.BM25Index

	memory   *model.Manager
	embedder embed.Embedder
	gen      llm.Generator
	reranker rerank.Reranker
	analyser analyze.Analyser

	ingestEngine *ingest.Engine
	queryEngine  *query.Engine
	convManager  *conversation.Manager
	scheduler    *external.Scheduler

	metrics *telemetry.QueryMetrics
	effLog  *telemetry.EffectiveValueLogger

	closers []func() error
}

// New constructs a Service from cfg, opening or creating the on-disk
// stores under cfg.Server.DataDir and wiring every internal package
// that the query/ingestion/conversation pipelines depend on. Callers
// must call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	dataDir := cfg.Server.DataDir
	if dataDir == "" {
		return nil, fmt.Errorf("ragapi: server.data_dir is required")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("ragapi: creating data dir: %w", err)
	}

	s := &Service{cfg: cfg, logger: logger}

	if cfg.Server.TracingEnabled {
		shutdown, err := telemetry.SetupTracing(ctx, "ragcore", logger)
		if err != nil {
			return nil, fmt.Errorf("ragapi: setting up tracing: %w", err)
		}
		s.closers = append(s.closers, func() error { return shutdown(context.Background()) })
	}

	lock := store.NewDataLock(dataDir)
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("ragapi: acquiring data directory lock: %w", err)
	}
	s.dataLock = lock
	s.closers = append(s.closers, lock.Unlock)

	if err := s.openStores(dataDir); err != nil {
		s.Close()
		return nil, err
	}

	s.memory = model.NewManager(cfg.Memory)
	s.closers = append(s.closers, s.memory.Shutdown)

	if err := s.loadModels(ctx); err != nil {
		s.Close()
		return nil, err
	}

	analyserGen := s.gen
	if !cfg.Conversation.LLMQueryAnalysisEnabled {
		// Heuristic-only analysis: the LLM Gateway still serves
		// synthesis, but intent/scope/decomposition never call it.
		analyserGen = nil
	}
	s.analyser = analyze.New(analyserGen, logger)

	s.wireTelemetry(dataDir)
	s.wireIngestEngine()
	s.wireQueryEngine()
	s.wireConversationManager()

	if cfg.ExternalSource.Enabled {
		if err := s.wireScheduler(); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Service) openStores(dataDir string) error {
	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(s.embedderDimensions()))
	if err != nil {
		return fmt.Errorf("ragapi: opening vector store: %w", err)
	}
	vectors.SetDataLock(s.dataLock)
	vectorPath := filepath.Join(dataDir, vectorFileName)
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vectors.Load(vectorPath); err != nil {
			return fmt.Errorf("ragapi: loading vector store: %w", err)
		}
	}
	s.vectors = vectors
	s.closers = append(s.closers, func() error { return s.persistVectors() })
	s.closers = append(s.closers, vectors.Close)

	batched := s.cfg.Ingestion.DurabilityMode == "batched"
	metadata, err := store.NewSQLiteMetadataStoreWithDurability(
		filepath.Join(dataDir, metadataFileName), batched, s.cfg.Ingestion.BatchFlushInterval.Std())
	if err != nil {
		return fmt.Errorf("ragapi: opening metadata store: %w", err)
	}
	s.metadata = metadata
	s.closers = append(s.closers, metadata.Close)

	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(dataDir, bm25BaseName), store.DefaultBM25Config(), string(store.BM25BackendSQLite))
	if err != nil {
		s.logger.Warn("bm25_index_unavailable", slog.String("reason", err.Error()))
	} else {
		s.bm25 = bm25
		s.closers = append(s.closers, bm25.Close)
	}

	return nil
}

// embedderDimensions returns cfg.Embedder.Dimensions when the operator
// pinned it, or the static-embedder fallback's width otherwise, since
// the vector store's dimensionality must be fixed before the embedder
// is constructed (HNSWStore validates every Add against it).
func (s *Service) embedderDimensions() int {
	if s.cfg.Embedder.Dimensions > 0 {
		return s.cfg.Embedder.Dimensions
	}
	return 768
}

// persistVectors flushes the HNSW graph to disk. Ingestion does not
// auto-persist on every Add (per spec §5's write-lock-but-not-every-
// write-durable model), so this is called on Close and is also exposed
// via Flush for long-running processes that ingest continuously.
func (s *Service) persistVectors() error {
	hnsw, ok := s.vectors.(*store.HNSWStore)
	if !ok {
		return nil
	}
	return hnsw.Save(filepath.Join(s.cfg.Server.DataDir, vectorFileName))
}

// Flush persists the vector store to disk without closing the
// Service, for callers (the directory-ingest CLI command, the
// scheduler's AutoIngest path) that want durability without a restart.
func (s *Service) Flush() error {
	return s.persistVectors()
}

// loadModels constructs the embedder, LLM generator, and reranker via
// the process-wide model.Manager so they participate in its LRU
// eviction/idle-timeout policy (spec.md §5/§9's model-memory manager),
// rather than being held as bare fields never subject to eviction.
func (s *Service) loadModels(ctx context.Context) error {
	embedderRes, err := s.memory.GetOrLoad(ctx, "embedder:"+s.cfg.Embedder.Provider, func(ctx context.Context) (model.Resource, error) {
		return embed.NewEmbedder(ctx, s.cfg.Embedder)
	})
	if err != nil {
		return fmt.Errorf("ragapi: loading embedder: %w", err)
	}
	embedder, ok := embedderRes.(embed.Embedder)
	if !ok {
		return fmt.Errorf("ragapi: embedder resource has unexpected type %T", embedderRes)
	}
	s.embedder = embedder

	genRes, err := s.memory.GetOrLoad(ctx, "llm:"+s.cfg.LLM.Provider, func(ctx context.Context) (model.Resource, error) {
		return llm.NewGenerator(s.cfg.LLM)
	})
	if err != nil {
		return fmt.Errorf("ragapi: loading LLM generator: %w", err)
	}
	gen, ok := genRes.(llm.Generator)
	if !ok {
		return fmt.Errorf("ragapi: LLM resource has unexpected type %T", genRes)
	}
	s.gen = gen

	if s.cfg.Retrieval.RerankEnabled {
		primary := rerank.NewHTTPReranker(rerank.DefaultHTTPConfig(), s.logger)
		s.reranker = rerank.NewWithFallback(primary, rerank.NewFallbackReranker(), s.logger)
	}

	return nil
}

// wireTelemetry opens the effective-value/query-metrics collaborators
// described in SPEC_FULL.md's observability section, generalizing the
// teacher's query_metrics.go + effective_value logging split onto this
// system's retrieval pipeline. Both are best-effort: a failure to open
// the telemetry database or the log file only disables telemetry, the
// same degrade-and-continue policy openStores uses for the BM25 index.
func (s *Service) wireTelemetry(dataDir string) {
	db, err := sql.Open("sqlite", filepath.Join(dataDir, telemetryFileName))
	if err != nil {
		s.logger.Warn("telemetry_store_unavailable", slog.String("reason", err.Error()))
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		s.logger.Warn("telemetry_store_unavailable", slog.String("reason", err.Error()))
		_ = db.Close()
	} else if err := telemetry.InitTelemetrySchema(db); err != nil {
		s.logger.Warn("telemetry_schema_unavailable", slog.String("reason", err.Error()))
		_ = db.Close()
	} else if metricsStore, err := telemetry.NewSQLiteMetricsStore(db); err != nil {
		s.logger.Warn("telemetry_store_unavailable", slog.String("reason", err.Error()))
		_ = db.Close()
	} else {
		s.metrics = telemetry.NewQueryMetrics(metricsStore)
		s.closers = append(s.closers, s.metrics.Close)
		s.closers = append(s.closers, db.Close)
	}

	writer, err := logging.NewRotatingWriter(filepath.Join(logging.DefaultLogDir(), effectiveValueLog), 50, 5)
	if err != nil {
		s.logger.Warn("effective_value_log_unavailable", slog.String("reason", err.Error()))
		return
	}
	s.effLog = telemetry.NewEffectiveValueLogger(writer)
	s.closers = append(s.closers, writer.Close)
}

func (s *Service) wireIngestEngine() {
	registry := ingest.NewRegistry()
	chunker := chunk.New(chunkConfig(s.cfg.Ingestion), s.embedder, s.logger)
	if s.effLog != nil {
		chunk.AttachEffectiveValueLogger(chunker, s.effLog)
		embed.AttachEffectiveValueLogger(s.embedder, s.effLog)
	}
	registry.Register(ingest.NewTextProcessor(chunker))

	engine := ingest.New(registry, chunker, s.embedder, s.vectors, s.metadata, ingestConfig(s.cfg.Ingestion), s.logger)
	if s.bm25 != nil {
		engine.SetBM25Index(s.bm25)
	}
	s.ingestEngine = engine
}

func (s *Service) wireQueryEngine() {
	qcfg := query.Config{
		TopK:                   s.cfg.Retrieval.TopK,
		MaxVariants:            s.cfg.Retrieval.MaxVariants,
		SimilarityThreshold:    s.cfg.Retrieval.SimilarityThreshold,
		DiversityWeight:        s.cfg.Retrieval.DiversityWeight,
		MaxChunksPerDoc:        s.cfg.Retrieval.MaxChunksPerDoc,
		SourceDiversityEnabled: s.cfg.Retrieval.SourceDiversityEnabled,
		RerankEnabled:          s.cfg.Retrieval.RerankEnabled,
		RerankTopK:             s.cfg.Retrieval.RerankTopK,
		MinSourceTypes:         s.cfg.Retrieval.MinSourceTypes,
		MaxDecomposedQueries:   s.cfg.Conversation.MaxDecomposedQueries,
		MaxTokens:              s.cfg.LLM.MaxTokens,
		Temperature:            s.cfg.LLM.Temperature,
		KeywordAssistEnabled:   s.cfg.Retrieval.KeywordAssistEnabled,

		SynonymExpansionEnabled: s.cfg.Conversation.SynonymExpansionEnabled,
		DecompositionEnabled:    s.cfg.Conversation.QueryDecompositionEnabled,
		AggregationEnabled:      s.cfg.Conversation.AggregationDetectionEnabled,
		SynthesisEnabled:        s.cfg.Conversation.ResponseSynthesisEnabled,
	}
	if qcfg.TopK <= 0 {
		qcfg.TopK = query.DefaultConfig().TopK
	}
	if qcfg.MaxVariants <= 0 {
		qcfg.MaxVariants = query.DefaultConfig().MaxVariants
	}
	if qcfg.SimilarityThreshold <= 0 {
		qcfg.SimilarityThreshold = query.DefaultConfig().SimilarityThreshold
	}

	engine := query.New(qcfg, s.vectors, s.metadata, s.embedder, s.analyser, s.reranker, s.gen, s.logger)
	if s.bm25 != nil {
		engine.SetBM25Index(s.bm25)
	}
	if s.metrics != nil {
		engine.SetMetrics(s.metrics)
	}
	if s.effLog != nil {
		engine.SetEffectiveValueLogger(s.effLog)
	}
	s.queryEngine = engine
}

func (s *Service) wireConversationManager() {
	conv := s.cfg.Conversation

	nodes := conversation.NewNodes(s.analyser, s.queryEngine, s.logger)
	nodes.EffectiveValueLog = s.effLog
	nodes.TopK = s.cfg.Retrieval.TopK
	if conv.MaxRelevantHistory > 0 {
		nodes.MaxRecentHistory = conv.MaxRelevantHistory
	}
	if conv.MaxContextLength > 0 {
		nodes.ContextManager = conversation.NewContextManager(conv.MaxContextLength)
	}
	nodes.PoisoningDetection = conv.PoisoningDetectionEnabled
	nodes.ValidationEnabled = conv.ValidationEnabled
	graph := conversation.NewGraph(nodes)

	var convStore conversation.Store
	if conv.StateBackend == "redis" && conv.RedisAddr != "" {
		client, closer := newRedisClient(conv.RedisAddr)
		s.closers = append(s.closers, closer)
		convStore = conversation.NewRedisStore(client, 0)
	} else {
		convStore = conversation.NewMemoryStore()
	}

	s.convManager = conversation.NewManager(graph, convStore)
	s.convManager.HistoryLimit = conv.MaxHistory

	if conv.IdleTimeout > 0 {
		s.startConversationJanitor(conv.IdleTimeout.Std())
	}
}

// startConversationJanitor sweeps idle conversation threads on a
// fraction of the idle timeout, so a thread is evicted at most ~1.25x
// its configured lifetime after its last activity.
func (s *Service) startConversationJanitor(idleTimeout time.Duration) {
	interval := idleTimeout / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Minute {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.convManager.CleanupOldConversations(ctx, idleTimeout)
				if err != nil {
					s.logger.Warn("conversation_cleanup_failed", slog.String("reason", err.Error()))
				} else if removed > 0 {
					s.logger.Info("conversation_cleanup", slog.Int("removed", removed))
				}
			}
		}
	}()
	s.closers = append(s.closers, func() error {
		cancel()
		<-done
		return nil
	})
}

func (s *Service) wireScheduler() error {
	ext := s.cfg.ExternalSource
	connector := external.NewHTTPConnector(ext.BaseURL, "incident", ext.TokenURL, ext.ClientID, ext.ClientSecret, 0, nil)

	var publisher *external.EventPublisher
	if ext.EventStreamEnabled {
		publisher = external.NewEventPublisher(ext.KafkaBrokers, ext.KafkaTopic, s.logger)
	}

	schedCfg := external.Config{
		Enabled:            ext.Enabled,
		PollInterval:       ext.PollInterval.Std(),
		BatchSize:          ext.BatchSize,
		MaxRecordsPerFetch: ext.MaxRecordsPerFetch,
		PriorityFilter:     ext.PriorityFilter,
		StateFilter:        ext.StateFilter,
		DaysBack:           ext.DaysBack,
		AutoIngest:         ext.AutoIngest,
		GracePeriod:        ext.GracePeriod.Std(),
	}

	s.scheduler = external.New(connector, s.ingestEngine, s.metadata, publisher, schedCfg, s.logger)
	return nil
}

// Close releases every resource the Service opened, in reverse
// acquisition order, persisting the vector store before the data
// directory lock is released.
func (s *Service) Close() error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func chunkConfig(cfg config.IngestionConfig) chunk.Config {
	c := chunk.DefaultConfig()
	if cfg.ChunkSize > 0 {
		c.ChunkSize = cfg.ChunkSize
	}
	if cfg.ChunkOverlapBase > 0 {
		c.BaseOverlap = cfg.ChunkOverlapBase
	}
	c.UseSemanticChunking = cfg.SemanticChunkingEnabled
	return c
}

func ingestConfig(cfg config.IngestionConfig) ingest.Config {
	c := ingest.DefaultConfig()
	if cfg.Workers > 0 {
		c.MaxWorkers = cfg.Workers
	}
	return c
}

// newRedisClient opens a client for the conversation engine's shared
// state backend and returns a closer for Service.Close to call.
func newRedisClient(addr string) (*redis.Client, func() error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return client, client.Close
}
