package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Journal publishes chat messages to a Kafka topic keyed by group id, so
// downstream consumers (search, analytics, other gateways) see the same
// stream the store persists.
type Journal struct {
	writer *kafka.Writer
}

// NewJournal returns a Journal writing to topic on brokers.
func NewJournal(brokers []string, topic string) *Journal {
	return &Journal{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish appends one serialized chat record to the journal.
func (j *Journal) Publish(ctx context.Context, groupID uuid.UUID, payload []byte) error {
	err := j.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(groupID.String()),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("journal write: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (j *Journal) Close() error {
	return j.writer.Close()
}
