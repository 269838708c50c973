// Package events delivers rollup-change notifications to Kafka for the
// health-scoring engine.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/vitals/internal/domain"
)

// TopicRollupsUpdated is the default topic carrying rollup-change events.
const TopicRollupsUpdated = "vitals_rollups_updated"

// RollupUpdate identifies one (user, metric, day) whose rollups changed.
type RollupUpdate struct {
	UserID     string            `json:"user_id"`
	MetricType domain.MetricType `json:"metric_type"`
	Day        time.Time         `json:"day"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes rollup-updated events to a single topic. Delivery is
// best-effort from the worker's perspective: the scoring engine re-reads
// aggregates from Postgres, so a lost notification only delays it.
type Publisher struct {
	writer messageWriter
}

// NewPublisher constructs a Publisher targeting the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = TopicRollupsUpdated
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		},
	}
}

// PublishRollupsUpdated emits one event per update.
func (p *Publisher) PublishRollupsUpdated(ctx context.Context, updates []RollupUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(updates))
	for _, update := range updates {
		payload, err := json.Marshal(update)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(update.UserID + ":" + string(update.MetricType)),
			Value: payload,
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte("vitals.rollups_updated")},
			},
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close releases the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
