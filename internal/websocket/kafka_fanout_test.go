package websocket

import (
	"context"
	"encoding/json"
	"testing"

	"campus-chat/pkg/config"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaFanout_Publish(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var direct DirectMessage
		if err := json.Unmarshal(val, &direct); err != nil {
			return err
		}
		assert.Equal(t, uint(2), direct.UserID)
		assert.Equal(t, EventNewMessage, direct.Event)
		assert.JSONEq(t, `{"user_id":1}`, string(direct.Data))
		return nil
	})

	fanout := newKafkaFanout(producer, nil, "campus_chat", "test")
	assert.Equal(t, "campus_chat_direct", fanout.topic)
	require.NoError(t, fanout.Publish(context.Background(), 2, EventNewMessage, UserPayload{UserID: 1}))
	require.NoError(t, fanout.Close())
}

func TestKafkaFanout_PublishError(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	fanout := newKafkaFanout(producer, nil, "campus_chat", "test")
	err := fanout.Publish(context.Background(), 2, EventUserTyping, UserPayload{UserID: 1})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, fanout.Close())
}

func TestFanoutConsumer_DeliversToLocalUsers(t *testing.T) {
	registry := NewRegistry()
	gateway := NewGateway(newTestChatService(), registry, staticVerifier{}, nil)
	conn := newFakeConn(2, "u2")
	gateway.Connect(conn)

	consumer := &fanoutConsumer{deliver: gateway.DeliverLocal}

	raw, err := json.Marshal(DirectMessage{UserID: 2, Event: EventMessagesRead, Data: json.RawMessage(`{"user_id":1}`)})
	require.NoError(t, err)
	consumer.handle(raw)

	// 不在本进程的用户和无法解析的消息直接忽略
	other, err := json.Marshal(DirectMessage{UserID: 3, Event: EventMessagesRead, Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	consumer.handle(other)
	consumer.handle([]byte("not json"))

	assert.Equal(t, []string{EventConnected, EventMessagesRead}, conn.events())
	var payload UserPayload
	conn.last(t, EventMessagesRead, &payload)
	assert.Equal(t, uint(1), payload.UserID)
}

func TestCreateFanout(t *testing.T) {
	fanout, err := CreateFanout(config.MessagingConfig{Provider: "local"})
	require.NoError(t, err)
	assert.IsType(t, LocalFanout{}, fanout)

	_, err = CreateFanout(config.MessagingConfig{Provider: "nats"})
	assert.Error(t, err)
}
