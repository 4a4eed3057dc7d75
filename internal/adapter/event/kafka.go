package event

import (
	"context"
	"encoding/json"
	"fmt"

	"payment-settlement-core/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaSink implements ports.EventSink on a Kafka topic. Messages are keyed
// by order id so every event for one order lands on one partition, in order.
type KafkaSink struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, log zerolog.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaSink{writer: writer, log: log}
}

// Publish writes the batch to Kafka. Delivery is at-least-once; consumers
// deduplicate on the deterministic event id.
func (s *KafkaSink) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.EventName(), err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(eventKey(e)),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event_name", Value: []byte(e.EventName())},
				{Key: "event_id", Value: []byte(e.EventID().String())},
			},
		})
	}

	if err := s.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// eventKey returns the partition key: the order id the event belongs to,
// falling back to the event id.
func eventKey(e domain.Event) string {
	switch ev := e.(type) {
	case domain.PaymentOrderCreated:
		return ev.OrderID.String()
	case domain.PaymentSucceeded:
		return ev.OrderID.String()
	case domain.PaymentFailed:
		return ev.OrderID.String()
	case domain.RefundCreated:
		return ev.OrderID.String()
	}
	return e.EventID().String()
}
