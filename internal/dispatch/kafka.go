package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"clinicore/internal/event"
)

// KafkaSink streams accepted events to a Kafka topic for consumers outside
// the core (analytics, billing exports, population health). It registers
// with the dispatcher like any projection, so it inherits the inbox,
// checkpoint, and dead-letter machinery. Keyed by aggregate ID to keep
// per-stream order within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaSink connects a producer client. seeds is the broker list.
func NewKafkaSink(seeds []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic, logger: logger}, nil
}

func (s *KafkaSink) Name() string { return "kafka-sink" }

// Filter is empty: every accepted event is exported.
func (s *KafkaSink) Filter() []string { return nil }

// Apply produces one envelope synchronously. Returning the produce error
// lets the dispatcher retry and eventually dead-letter.
func (s *KafkaSink) Apply(ctx context.Context, e event.Envelope) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(e.AggregateID.String()),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event %s: %w", e.EventID.String(), err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (s *KafkaSink) Close() {
	if err := s.client.Flush(context.Background()); err != nil {
		s.logger.Warn("kafka flush on close failed", "error", err)
	}
	s.client.Close()
}
