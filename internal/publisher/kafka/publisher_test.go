package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishSendsJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"project":"HDFS","written":3}` {
			return errors.New("unexpected payload: " + string(val))
		}
		return nil
	})

	pub := New(producer, "harvest-done")
	id, err := pub.Publish(context.Background(), "", map[string]any{"project": "HDFS", "written": 3})
	require.NoError(t, err)
	assert.Regexp(t, `^harvest-done/0/\d+$`, id)
	require.NoError(t, pub.Close())
}

func TestPublishUsesExplicitTopic(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageAndSucceed()

	pub := New(producer, "harvest-done")
	id, err := pub.Publish(context.Background(), "audit", struct{}{})
	require.NoError(t, err)
	assert.Regexp(t, `^audit/`, id)
	require.NoError(t, pub.Close())
}

func TestPublishReportsProducerFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := New(producer, "harvest-done")
	_, err := pub.Publish(context.Background(), "", map[string]int{"written": 1})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestPublishUnconfigured(t *testing.T) {
	var pub *Publisher
	_, err := pub.Publish(context.Background(), "", nil)
	require.Error(t, err)
	assert.NoError(t, pub.Close())
}

func TestDialRequiresBrokersAndTopic(t *testing.T) {
	_, err := Dial(Config{Topic: "harvest-done"})
	require.Error(t, err)
	_, err = Dial(Config{Brokers: []string{"localhost:9092"}})
	require.Error(t, err)
}

func TestConnectWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ConnectWithRetry(ctx, Config{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after retries")
}

func TestHeaderCarrier(t *testing.T) {
	c := &headerCarrier{}
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Empty(t, c.Get("missing"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}
