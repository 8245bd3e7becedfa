// Package kafka publishes snapshot-refresh notifications so downstream
// consumers (cache invalidators, mirrors) learn about newly published
// snapshot sets without polling the output directory.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/fluwatch/snapshot-etl/internal/domain"
)

// RefreshEvent describes one completed (target, as-of) snapshot generation.
type RefreshEvent struct {
	Target      string          `json:"target"`
	Pathogen    domain.Pathogen `json:"pathogen"`
	Source      string          `json:"source"`
	AsOf        string          `json:"as_of"` // YYYY-MM-DD
	Locations   int             `json:"locations"`
	Files       int             `json:"files_written"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Notifier produces refresh events to a Kafka topic.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a producer for the refresh topic.
func NewNotifier(brokers []string, topic string, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

// Notify publishes the run's refresh events in a single WriteMessages call.
func (n *Notifier) Notify(ctx context.Context, events []RefreshEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return n.writer.WriteMessages(ctx, msgs...)
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a RefreshEvent into a Kafka message keyed by
// target and as-of so compacted topics keep the latest refresh per pair.
func serializeToMessage(event RefreshEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize refresh event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Target + "|" + event.AsOf),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "target", Value: []byte(event.Target)},
			{Key: "as_of", Value: []byte(event.AsOf)},
		},
	}, nil
}
