//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/fluwatch/snapshot-etl/internal/adapter/kafka"
	"github.com/fluwatch/snapshot-etl/internal/domain"
)

const testRefreshTopic = "test-snapshot-refreshes"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node Kafka broker in a container and returns
// its bootstrap address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"),
	)
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "resolve broker address")
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err, "dial broker")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "resolve controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err, "dial controller")
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// receivedEvent holds a deserialized message read from the refresh topic.
type receivedEvent struct {
	Event   kafka.RefreshEvent
	Key     string
	Headers map[string]string
}

func readRefresh(ctx context.Context, t *testing.T, consumer *kafkago.Reader) receivedEvent {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from refresh topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var event kafka.RefreshEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event), "unmarshal refresh event")

	return receivedEvent{Event: event, Key: string(msg.Key), Headers: headers}
}

// TestNotifierPublishesRefreshEvents verifies that the notifier delivers one
// keyed, headered message per completed (target, as-of) pair through a real
// broker.
func TestNotifierPublishesRefreshEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRefreshTopic)

	completedAt := time.Date(2022, time.March, 5, 14, 30, 0, 0, time.UTC)
	events := []kafka.RefreshEvent{
		{
			Target:      "hosp",
			Pathogen:    domain.PathogenInfluenza,
			Source:      "covidcast",
			AsOf:        "2022-02-26",
			Locations:   53,
			Files:       53,
			CompletedAt: completedAt,
		},
		{
			Target:      "hosp",
			Pathogen:    domain.PathogenInfluenza,
			Source:      "covidcast",
			AsOf:        "2022-03-05",
			Locations:   53,
			Files:       53,
			CompletedAt: completedAt,
		},
	}

	notifier := kafka.NewNotifier([]string{broker}, testRefreshTopic, discardLogger())
	t.Cleanup(func() { _ = notifier.Close() })

	require.NoError(t, notifier.Notify(ctx, events))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testRefreshTopic,
		GroupID:     fmt.Sprintf("test-refresh-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	received := make([]receivedEvent, 0, len(events))
	for len(received) < len(events) {
		received = append(received, readRefresh(ctx, t, consumer))
	}

	byAsOf := map[string]receivedEvent{}
	for _, re := range received {
		byAsOf[re.Event.AsOf] = re

		assert.Equal(t, re.Event.Target+"|"+re.Event.AsOf, re.Key, "compaction key")
		assert.Equal(t, re.Event.Target, re.Headers["target"], "target header")
		assert.Equal(t, re.Event.AsOf, re.Headers["as_of"], "as_of header")
	}

	require.Contains(t, byAsOf, "2022-02-26")
	require.Contains(t, byAsOf, "2022-03-05")

	first := byAsOf["2022-02-26"].Event
	assert.Equal(t, "hosp", first.Target)
	assert.Equal(t, domain.PathogenInfluenza, first.Pathogen)
	assert.Equal(t, "covidcast", first.Source)
	assert.Equal(t, 53, first.Locations)
	assert.Equal(t, 53, first.Files)
	assert.True(t, first.CompletedAt.Equal(completedAt))

	// No third message should arrive.
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected exactly two messages on refresh topic")
}

// TestNotifierNoEvents verifies that an empty run publishes nothing and
// does not touch the broker.
func TestNotifierNoEvents(t *testing.T) {
	notifier := kafka.NewNotifier([]string{"localhost:0"}, testRefreshTopic, discardLogger())
	t.Cleanup(func() { _ = notifier.Close() })

	require.NoError(t, notifier.Notify(context.Background(), nil))
}
