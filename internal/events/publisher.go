// Package events publishes research run lifecycle events to Kafka.
//
// Publishing is optional. When no brokers are configured the service uses a
// no-op publisher, and publish failures are logged by callers rather than
// failing the run.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ruminex/molecule-discovery-service/internal/domain"
)

// Run lifecycle event types.
const (
	EventRunQueued     = "run.queued"
	EventRunProcessing = "run.processing"
	EventRunComplete   = "run.complete"
	EventRunFailed     = "run.failed"
)

// RunEvent is the payload published for a run lifecycle transition.
type RunEvent struct {
	EventType     string    `json:"event_type"`
	RunID         uuid.UUID `json:"run_id"`
	Query         string    `json:"query"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	MoleculeCount int       `json:"molecule_count,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewRunEvent builds a lifecycle event for a run's current state.
func NewRunEvent(eventType string, run *domain.ResearchRun, moleculeCount int) RunEvent {
	return RunEvent{
		EventType:     eventType,
		RunID:         run.ID,
		Query:         run.Query,
		Status:        string(run.Status),
		ErrorMessage:  run.ErrorMessage,
		MoleculeCount: moleculeCount,
		OccurredAt:    time.Now().UTC(),
	}
}

// Publisher delivers run lifecycle events.
type Publisher interface {
	// PublishRunEvent delivers one event. Safe for concurrent use.
	PublishRunEvent(ctx context.Context, event RunEvent) error

	// Close releases the underlying transport.
	Close() error
}

// Config holds Kafka publisher settings.
type Config struct {
	// Brokers is the list of Kafka broker addresses. Empty disables
	// publishing.
	Brokers []string

	// Topic is the topic lifecycle events are published to.
	Topic string
}

// Enabled reports whether the configuration names a usable Kafka target.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// NewPublisher creates a Kafka publisher, or a no-op publisher when the
// configuration is disabled.
func NewPublisher(cfg Config, logger zerolog.Logger) Publisher {
	if !cfg.Enabled() {
		logger.Debug().Msg("kafka publishing disabled")
		return NopPublisher{}
	}
	return NewKafkaPublisher(cfg, logger)
}

// NopPublisher discards all events.
type NopPublisher struct{}

// PublishRunEvent implements Publisher.
func (NopPublisher) PublishRunEvent(context.Context, RunEvent) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// Compile-time interface verification.
var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*KafkaPublisher)(nil)
)

// KafkaPublisher delivers events through a kafka-go writer. Events are keyed
// by run ID so transitions for one run stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher against the configured brokers.
func NewKafkaPublisher(cfg Config, logger zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           100 * time.Millisecond,
	}

	return &KafkaPublisher{
		writer: writer,
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// PublishRunEvent implements Publisher.
func (p *KafkaPublisher) PublishRunEvent(ctx context.Context, event RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RunID.String()),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}

	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("run_id", event.RunID.String()).
		Msg("published run event")

	return nil
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
