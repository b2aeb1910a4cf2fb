package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ragerrors "github.com/ragcore/ragcore/internal/errors"
	"github.com/ragcore/ragcore/internal/ingest"
	"github.com/ragcore/ragcore/internal/store"
)

// Config controls the scheduler's polling cadence and fetch shape, per
// spec §6's `external_source` configuration block.
type Config struct {
	Enabled            bool
	PollInterval       time.Duration
	BatchSize          int
	MaxRecordsPerFetch int
	PriorityFilter     []string
	StateFilter        []string
	DaysBack           int
	AutoIngest         bool
	GracePeriod        time.Duration
}

// DefaultConfig mirrors spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:       15 * time.Minute,
		BatchSize:          100,
		MaxRecordsPerFetch: 1000,
		PriorityFilter:     []string{"1", "2", "3"},
		StateFilter:        []string{"1", "2", "3"},
		DaysBack:           7,
		AutoIngest:         true,
		GracePeriod:        30 * time.Second,
	}
}

// Scheduler implements spec §4.11: start -> periodic tick -> stop,
// with in-flight-fetch drain on stop and a synchronous manual-sync
// entry point that runs the same pipeline once. Grounded on
// ServiceNowScheduler.{start_scheduler,_run_scheduler,stop_scheduler,
// fetch_and_process_incidents}, generalized from its thread+`schedule`
// library loop to a single ticking goroutine over a time.Ticker, the
// idiomatic Go equivalent.
type Scheduler struct {
	connector Connector
	processor *TicketProcessor
	engine    *ingest.Engine
	metadata  store.MetadataStore
	publisher *EventPublisher
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	tickDone chan struct{} // never created or closed; Stop drains in-flight ticks through wg
}

// New builds a Scheduler. publisher may be nil to disable the
// optional Kafka event stream.
func New(connector Connector, engine *ingest.Engine, metadata store.MetadataStore, publisher *EventPublisher, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		connector: connector, processor: NewTicketProcessor(), engine: engine,
		metadata: metadata, publisher: publisher, cfg: cfg, logger: logger,
	}
}

// Start begins periodic polling at cfg.PollInterval. It is a no-op if
// the scheduler is disabled or already running.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("external_scheduler_disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	if ok, err := s.connector.TestConnection(ctx); err != nil || !ok {
		s.mu.Unlock()
		return ragerrors.IntegrationError("cannot start scheduler - connection test failed", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx)

	s.logger.Info("external_scheduler_started", slog.Duration("poll_interval", s.cfg.PollInterval))
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SyncOnce(ctx); err != nil {
				s.logger.Error("external_scheduler_tick_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop halts periodic polling, waiting up to cfg.GracePeriod for any
// in-flight fetch to drain before returning, per spec §4.11's
// "bounded grace period" requirement.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.GracePeriod):
		s.logger.Warn("external_scheduler_stop_grace_period_exceeded")
	}
}

// SyncOnce runs spec §4.11's six-step pipeline synchronously: filter,
// page, change-detect, transform, ingest (if auto_ingest), record.
// Used by both the periodic tick and a manual-sync CLI invocation.
func (s *Scheduler) SyncOnce(ctx context.Context) (*FetchResult, error) {
	start := time.Now()
	result := &FetchResult{FetchTime: start}

	filters := s.buildFilters()
	records, err := s.connector.GetIncidents(ctx, filters, s.cfg.MaxRecordsPerFetch)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.DurationSeconds = time.Since(start).Seconds()
		s.recordHistory(ctx, result)
		return result, ragerrors.Wrap(ragerrors.ErrCodeFetchFailed, err)
	}
	result.Fetched = len(records)

	for _, rec := range records {
		outcome := s.processOne(ctx, rec)
		switch outcome {
		case outcomeNew:
			result.New++
			result.Processed++
		case outcomeUpdated:
			result.Updated++
			result.Processed++
		case outcomeUnchanged:
			result.Skipped++
		case outcomeIngested:
			result.Ingested++
		case outcomeError:
			result.Errors = append(result.Errors, fmt.Sprintf("record %s failed", rec.Number()))
		}
	}

	result.DurationSeconds = time.Since(start).Seconds()
	s.recordHistory(ctx, result)
	if s.publisher != nil {
		s.publisher.Publish(ctx, FetchHistoryEvent{
			FetchTime: result.FetchTime, Fetched: result.Fetched, Processed: result.Processed,
			Ingested: result.Ingested, New: result.New, Updated: result.Updated,
			Skipped: result.Skipped, Errors: result.Errors, DurationSeconds: result.DurationSeconds,
		})
	}
	return result, nil
}

type syncOutcome int

const (
	outcomeUnchanged syncOutcome = iota
	outcomeNew
	outcomeUpdated
	outcomeIngested
	outcomeError
)

// processOne implements spec §4.11 steps 3-6 for a single record:
// content-hash change detection against `tickets_cache`, transform via
// the ticket processor, ingest through C6 if auto_ingest is on, then
// update the cache entry with the outcome.
func (s *Scheduler) processOne(ctx context.Context, rec Record) syncOutcome {
	ticket, err := s.processor.Process(rec)
	if err != nil {
		s.logger.Warn("external_record_process_failed", slog.String("error", err.Error()))
		return outcomeError
	}

	existing, _ := s.metadata.GetTicketCacheEntry(ctx, ticket.ID)
	isNew := existing == nil
	if existing != nil && existing.ContentHash == ticket.ContentHash {
		return outcomeUnchanged
	}

	entry := &store.TicketCacheEntry{
		ExternalID: ticket.ID, ExternalNumber: ticket.Number,
		Payload: ticket.Text, ContentHash: ticket.ContentHash,
		FetchedAt: time.Now(), UpdatedAt: time.Now(),
	}

	if s.cfg.AutoIngest && s.engine != nil {
		res, ingestErr := s.engine.IngestText(ctx, "ticket-"+ticket.ID, store.SourceTypeTicket, ticket.Text, ticket.Metadata)
		if ingestErr != nil {
			entry.IngestionResult = ingestErr.Error()
			s.logger.Warn("external_record_ingest_failed", slog.String("ticket", ticket.Number), slog.String("error", ingestErr.Error()))
		} else {
			entry.Ingested = true
			entry.IngestionResult = string(res.Status)
		}
	}

	if err := s.metadata.PutTicketCacheEntry(ctx, entry); err != nil {
		s.logger.Error("external_ticket_cache_write_failed", slog.String("ticket", ticket.Number), slog.String("error", err.Error()))
	}

	if isNew {
		return outcomeNew
	}
	return outcomeUpdated
}

func (s *Scheduler) buildFilters() Filters {
	filters := Filters{}
	if len(s.cfg.PriorityFilter) > 0 {
		filters["priority"] = joinCSV(s.cfg.PriorityFilter)
	}
	if len(s.cfg.StateFilter) > 0 {
		filters["state"] = joinCSV(s.cfg.StateFilter)
	}
	if s.cfg.DaysBack > 0 {
		filters["updated_after"] = time.Now().Add(-time.Duration(s.cfg.DaysBack) * 24 * time.Hour).Format(time.RFC3339)
	}
	return filters
}

func joinCSV(vals []string) string {
	out := vals[0]
	for _, v := range vals[1:] {
		out += "," + v
	}
	return out
}

func (s *Scheduler) recordHistory(ctx context.Context, result *FetchResult) {
	if s.metadata == nil {
		return
	}
	entry := &store.FetchHistoryEntry{
		FetchTime: result.FetchTime, FetchedCount: result.Fetched,
		IngestedCount: result.Ingested, SkippedCount: result.Skipped,
		ErrorCount: len(result.Errors), DurationSeconds: result.DurationSeconds,
	}
	if len(result.Errors) > 0 {
		entry.Errors = joinErrors(result.Errors)
	}
	if err := s.metadata.AppendFetchHistory(ctx, entry); err != nil {
		s.logger.Error("external_fetch_history_write_failed", slog.String("error", err.Error()))
	}
}

func joinErrors(errs []string) string {
	out := errs[0]
	for _, e := range errs[1:] {
		out += "\n" + e
	}
	return out
}
