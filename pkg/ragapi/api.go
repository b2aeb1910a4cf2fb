package ragapi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ragcore/ragcore/internal/consistency"
	"github.com/ragcore/ragcore/internal/conversation"
	"github.com/ragcore/ragcore/internal/ingest"
	"github.com/ragcore/ragcore/internal/query"
	"github.com/ragcore/ragcore/internal/store"
)

// Ingest processes a single file or directory path per spec.md §6's
// Ingestion API, persisting the vector store afterward so the new
// chunks survive a restart without requiring an explicit Flush.
func (s *Service) Ingest(ctx context.Context, path string, metadata map[string]string) (*ingest.Result, error) {
	result, err := s.ingestEngine.Ingest(ctx, path, metadata)
	if err != nil {
		return nil, err
	}
	if flushErr := s.persistVectors(); flushErr != nil {
		s.logger.Warn("post_ingest_flush_failed", slog.String("error", flushErr.Error()))
	}
	return result, nil
}

// IngestText ingests raw text under a logical source name, bypassing
// file discovery, for callers (external-source sync, pasted content)
// that already have the text in hand.
func (s *Service) IngestText(ctx context.Context, source string, sourceType store.SourceType, text string, metadata map[string]string) (*ingest.Result, error) {
	result, err := s.ingestEngine.IngestText(ctx, source, sourceType, text, metadata)
	if err != nil {
		return nil, err
	}
	if flushErr := s.persistVectors(); flushErr != nil {
		s.logger.Warn("post_ingest_flush_failed", slog.String("error", flushErr.Error()))
	}
	return result, nil
}

// IngestDirectory walks root and ingests every file the registry can
// process, per spec.md §6's ingest_directory operation.
func (s *Service) IngestDirectory(ctx context.Context, root string, maxDepth, workers int) (*ingest.DirectorySummary, error) {
	summary, err := s.ingestEngine.IngestDirectory(ctx, root, maxDepth, workers)
	if err != nil {
		return nil, err
	}
	if flushErr := s.persistVectors(); flushErr != nil {
		s.logger.Warn("post_ingest_flush_failed", slog.String("error", flushErr.Error()))
	}
	return summary, nil
}

// WatchDirectory watches root and ingests files as they appear or
// change, blocking until ctx is cancelled. The vector store is flushed
// when the watch ends so a Ctrl-C'd watch session loses nothing.
func (s *Service) WatchDirectory(ctx context.Context, root string) error {
	err := s.ingestEngine.Watch(ctx, root, ingest.DefaultWatchOptions())
	if flushErr := s.persistVectors(); flushErr != nil {
		s.logger.Warn("post_ingest_flush_failed", slog.String("error", flushErr.Error()))
	}
	return err
}

// Query answers a single question against the knowledge base per
// spec.md §6's Query API, routing through Answer so aggregation and
// decomposition queries get their own pipelines.
func (s *Service) Query(ctx context.Context, text string, topK int, opts query.ContextOpts) (*query.Response, error) {
	return s.queryEngine.Answer(ctx, text, topK, opts)
}

// CountDocuments answers a count-style aggregation question directly,
// for callers that already know they want a count rather than a
// synthesized answer.
func (s *Service) CountDocuments(ctx context.Context, filter func(metadata map[string]string) bool) (int, error) {
	return s.queryEngine.CountDocuments(ctx, filter)
}

// StartConversation begins a new conversation thread per spec.md §6's
// Conversation API.
func (s *Service) StartConversation(ctx context.Context, threadID string) (conversation.State, error) {
	return s.convManager.StartConversation(ctx, threadID)
}

// SendMessage advances an existing conversation thread with a new user
// message and returns the updated state, including the assistant's
// reply.
func (s *Service) SendMessage(ctx context.Context, threadID, message string) (conversation.State, error) {
	return s.convManager.SendMessage(ctx, threadID, message)
}

// ConversationHistory returns every message exchanged on threadID.
func (s *Service) ConversationHistory(ctx context.Context, threadID string) ([]conversation.Message, error) {
	return s.convManager.History(ctx, threadID)
}

// SyncExternalSource triggers one immediate fetch-and-ingest cycle
// against the configured external source, independent of the
// scheduler's regular polling interval.
func (s *Service) SyncExternalSource(ctx context.Context) (*ingest.DirectorySummary, error) {
	if s.scheduler == nil {
		return nil, nil
	}
	result, err := s.scheduler.SyncOnce(ctx)
	if err != nil {
		return nil, err
	}
	return &ingest.DirectorySummary{
		FilesScanned: result.Fetched,
		Succeeded:    result.Ingested,
		Skipped:      result.Skipped,
		Failed:       len(result.Errors),
		Errors:       result.Errors,
	}, nil
}

// StartScheduler begins the external-source scheduler's background
// polling loop, when one is configured. It is a no-op otherwise.
func (s *Service) StartScheduler(ctx context.Context) error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Start(ctx)
}

// StopScheduler drains the external-source scheduler's in-flight
// fetch (bounded by its configured grace period) and stops polling.
// It is a no-op when no scheduler is configured.
func (s *Service) StopScheduler() {
	if s.scheduler == nil {
		return
	}
	s.scheduler.Stop()
}

// CheckConsistency cross-checks the vector store, BM25 index, and
// metadata store for orphaned or missing entries, optionally repairing
// what it can (deleting orphans; missing entries still require
// re-ingesting the owning document).
func (s *Service) CheckConsistency(ctx context.Context, repair bool) (*consistency.Report, error) {
	checker := consistency.New(s.metadata, s.bm25, s.vectors)
	report, err := checker.Check(ctx)
	if err != nil {
		return nil, fmt.Errorf("ragapi: consistency check: %w", err)
	}
	if repair && len(report.Issues) > 0 {
		if err := checker.Repair(ctx, report.Issues); err != nil {
			return report, fmt.Errorf("ragapi: consistency repair: %w", err)
		}
		if err := s.persistVectors(); err != nil {
			s.logger.Warn("post_repair_flush_failed", slog.String("error", err.Error()))
		}
	}
	return report, nil
}
