// Package sink provides fallback destinations for audit events that could
// not be appended to the primary store.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"auth-session-core/backend/internal/audit/domain"
)

// KafkaSink writes dropped audit events to a Kafka topic. A worker drains the
// topic into long-term storage so no security event is lost outright.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a sink writing to topic on brokers. Returns nil when
// brokers or topic are unset so callers can pass the result straight to the
// chain. Call Close when shutting down.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Write serializes the event as JSON and produces it, keyed by user so a
// user's dropped events stay ordered within a partition. A short timeout
// keeps a slow broker from blocking the security operation that triggered
// the audit write.
func (s *KafkaSink) Write(ctx context.Context, e *domain.Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(e.UserID),
		Value: payload,
	})
}

// Close closes the Kafka writer. Safe to call on a nil sink.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
