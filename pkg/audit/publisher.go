package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"sentrygate/pkg/models"
)

// Publisher fans a Verdict out to a topic for downstream analytics/SIEM
// consumption. It never participates in the fail-closed decision path: a
// publish failure is logged and dropped, never returned to the caller.
type Publisher interface {
	Publish(ctx context.Context, v models.Verdict)
}

// KafkaPublisher publishes to a topic keyed by trace id, so all messages for one
// evaluation land on the same partition and preserve order for a consumer that
// cares about per-trace ordering.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *slog.Logger
}

// NewKafkaPublisher constructs a publisher against brokers/topic. The writer is
// configured with RequiredAcks: kafka.RequireOne, matching the best-effort
// contract: durability on one broker is enough for an analytics fan-out that is
// not the system of record (the ledger is).
func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Warn("verdict publish failed", "count", len(messages), "error", err)
				}
			},
		},
		log: log,
	}
}

// Publish serializes v and enqueues it for async delivery. Errors are logged,
// never surfaced: the caller has already emitted and persisted the verdict.
func (p *KafkaPublisher) Publish(ctx context.Context, v models.Verdict) {
	body, err := json.Marshal(v)
	if err != nil {
		p.log.Warn("verdict marshal for publish failed", "trace_id", v.TraceID, "error", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(v.TraceID),
		Value: body,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("verdict publish enqueue failed", "trace_id", v.TraceID, "error", err)
	}
}

// Close flushes any in-flight async writes.
func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka publisher: %w", err)
	}
	return nil
}

// NoopPublisher discards every verdict; used when no Kafka broker is
// configured, so the gate never conditions its wiring on whether analytics
// fan-out is enabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, models.Verdict) {}
