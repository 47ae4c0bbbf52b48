package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		assert.Equal(t, OrderPaid, ev.Type)
		assert.Equal(t, int64(42), ev.UserID)
		assert.Equal(t, int64(7), ev.OrderID)
		assert.NotEmpty(t, ev.ID)
		return nil
	})

	pub := &KafkaPublisher{producer: producer, topic: "notifications", logger: zap.NewNop()}

	err := pub.Publish(context.Background(), New(OrderPaid, 42, 7))
	require.NoError(t, err)
}

func TestKafkaPublisher_PublishBrokerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageAndFail(assert.AnError)

	pub := &KafkaPublisher{producer: producer, topic: "notifications", logger: zap.NewNop()}

	err := pub.Publish(context.Background(), New(OrderPaid, 42, 7))
	assert.ErrorIs(t, err, assert.AnError)
}
