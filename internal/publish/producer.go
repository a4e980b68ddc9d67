package publish

import (
	"context"
	"encoding/json"
	"time"

	"bookstate/internal/signals"

	"github.com/segmentio/kafka-go"
)

// writer is the part of *kafka.Writer the producer uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes signal snapshots to Kafka, keyed by symbol.
type Producer struct {
	writer writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, snap signals.Snapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(snap.Symbol),
		Value: value,
		Time:  snap.EvaluatedAt,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
