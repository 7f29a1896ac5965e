package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// PublisherConfig configures the best-effort Kafka publisher.
type PublisherConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

func (c *PublisherConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
}

// Publisher fire-and-forget publishes entry lifecycle Events to Kafka.
// A publish failure is logged and swallowed: it never blocks or fails
// the Orchestrator, since map.jsonl (not this stream) is authoritative.
type Publisher struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewPublisher constructs a Publisher from cfg.
func NewPublisher(cfg PublisherConfig, logger zerolog.Logger) *Publisher {
	cfg.applyDefaults()
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			Async:        true,
		},
		logger: logger.With().Str("component", "outbox_publisher").Logger(),
	}
}

// Close flushes and closes the underlying Kafka writer.
func (p *Publisher) Close() error { return p.writer.Close() }

// Publish best-effort sends ev. Errors are logged, never returned: the
// Orchestrator's stage outcome must not depend on Kafka availability.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Str("event_type", ev.EventType).Msg("marshal event failed")
		return
	}

	msg := kafka.Message{
		Key:   []byte(ev.EntryID),
		Value: body,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn().Err(err).Str("event_type", ev.EventType).Str("entry_id", ev.EntryID).Msg("publish failed, continuing")
	}
}

// PublishLifecycle is a convenience wrapper building and publishing an
// entry lifecycle Event in one call.
func (p *Publisher) PublishLifecycle(ctx context.Context, entryID, eventType string, payload interface{}) {
	ev, err := NewEventBuilder().
		WithEntryID(entryID).
		WithEventType(eventType).
		WithPayload(payload).
		Build()
	if err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Msg("build event failed")
		return
	}
	p.Publish(ctx, ev)
}
