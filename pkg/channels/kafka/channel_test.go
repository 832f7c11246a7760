package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkaTc "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, ParseBrokers(""))
}

func TestRunPartitionKey(t *testing.T) {
	msg := message.NewMessage(watermill.NewUUID(), nil)
	msg.Metadata.Set(events.EventMetadataKey, "run-1")

	key, err := runPartitionKey("contentflow.run.started", msg)
	require.NoError(t, err)
	assert.Equal(t, "run-1", key)
}

func TestCreateChannel_NoBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, nil, "contentflow")
	require.Error(t, err)
}

func TestCreateChannel_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := kafkaTc.Run(ctx, "confluentinc/confluent-local:7.7.0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	pub, sub, err := CreateChannel(watermill.NopLogger{}, brokers, "contentflow-test")
	require.NoError(t, err)

	defer func() {
		_ = pub.Close()
		_ = sub.Close()
	}()

	messages, err := sub.Subscribe(ctx, "contentflow.test")
	require.NoError(t, err)

	require.NoError(t, pub.Publish("contentflow.test", message.NewMessage(watermill.NewUUID(), []byte(`{"ok":true}`))))

	select {
	case msg := <-messages:
		assert.JSONEq(t, `{"ok":true}`, string(msg.Payload))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("message not consumed")
	}
}
