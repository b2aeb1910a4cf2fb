package external

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// FetchHistoryEvent mirrors the fetch_history record published to the
// optional event stream so downstream consumers can observe ingestion
// outcomes without polling the metadata store directly.
type FetchHistoryEvent struct {
	FetchTime      time.Time `json:"fetch_time"`
	Fetched        int       `json:"fetched"`
	Processed      int       `json:"processed"`
	Ingested       int       `json:"ingested"`
	New            int       `json:"new_incidents"`
	Updated        int       `json:"updated_incidents"`
	Skipped        int       `json:"skipped"`
	Errors         []string  `json:"errors,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// EventPublisher publishes FetchHistoryEvents to Kafka, nil-safe so
// callers can construct one unconditionally and no-op when the event
// stream is disabled, matching the teacher pack's
// KafkaCommitPublisher shape.
type EventPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewEventPublisher returns a publisher writing to topic on brokers,
// or nil if brokers/topic are empty (event stream disabled).
func NewEventPublisher(brokers []string, topic string, logger *slog.Logger) *EventPublisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &EventPublisher{writer: writer, logger: logger}
}

// Publish writes one fetch-history event. A nil receiver is a no-op,
// so callers don't need to branch on whether the stream is enabled.
func (p *EventPublisher) Publish(ctx context.Context, ev FetchHistoryEvent) {
	if p == nil || p.writer == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("external_event_marshal_failed", slog.String("error", err.Error()))
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Value: payload, Time: ev.FetchTime}); err != nil {
		p.logger.Warn("external_event_publish_failed", slog.String("error", err.Error()))
	}
}

// Close shuts down the underlying writer. A nil receiver is a no-op.
func (p *EventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
