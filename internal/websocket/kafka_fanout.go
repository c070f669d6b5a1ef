package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"campus-chat/pkg/config"
	"campus-chat/pkg/logger"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DirectMessage 通过 Kafka 转发的定向推送
type DirectMessage struct {
	UserID uint            `json:"user_id"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// KafkaFanout 基于 Kafka 的跨进程推送
type KafkaFanout struct {
	producer sarama.SyncProducer
	consumer sarama.ConsumerGroup
	topic    string
	group    string
	cancel   context.CancelFunc
}

var _ Fanout = (*KafkaFanout)(nil)

// DirectTopic 定向推送使用的主题名
func DirectTopic(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, "direct")
}

// NewKafkaFanout 每个进程使用独立的消费者组, 保证每条推送都被所有进程收到
func NewKafkaFanout(cfg config.KafkaConfig) (*KafkaFanout, error) {
	kConfig := sarama.NewConfig()
	kConfig.Producer.RequiredAcks = sarama.WaitForAll
	kConfig.Producer.Return.Successes = true
	kConfig.Producer.Retry.Max = 3
	kConfig.Consumer.Return.Errors = true
	kConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	kConfig.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kConfig)
	if err != nil {
		logger.L.Error("Failed to start Kafka producer", zap.Error(err))
		return nil, fmt.Errorf("failed to start Kafka producer: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "campus-chat"
	}
	group = group + "-" + uuid.NewString()

	consumer, err := sarama.NewConsumerGroup(cfg.Brokers, group, kConfig)
	if err != nil {
		logger.L.Error("Failed to start Kafka consumer group", zap.Error(err))
		_ = producer.Close()
		return nil, fmt.Errorf("failed to start Kafka consumer group: %w", err)
	}

	return newKafkaFanout(producer, consumer, cfg.TopicPrefix, group), nil
}

func newKafkaFanout(producer sarama.SyncProducer, consumer sarama.ConsumerGroup, prefix, group string) *KafkaFanout {
	return &KafkaFanout{
		producer: producer,
		consumer: consumer,
		topic:    DirectTopic(prefix),
		group:    group,
	}
}

func (f *KafkaFanout) Publish(_ context.Context, userID uint, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	msgBytes, err := json.Marshal(DirectMessage{UserID: userID, Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal direct message: %w", err)
	}

	_, _, err = f.producer.SendMessage(&sarama.ProducerMessage{
		Topic: f.topic,
		Key:   sarama.StringEncoder(fmt.Sprint(userID)),
		Value: sarama.ByteEncoder(msgBytes),
	})
	if err != nil {
		logger.L.Error("Failed to send direct message to Kafka", zap.Uint("userID", userID), zap.Error(err))
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}
	return nil
}

// Start 在后台消费, ctx 结束或 Close 后退出
func (f *KafkaFanout) Start(ctx context.Context, deliver DeliverFunc) error {
	if deliver == nil {
		return errors.New("deliver func is required")
	}
	ctx, f.cancel = context.WithCancel(ctx)

	go func() {
		for err := range f.consumer.Errors() {
			logger.L.Warn("Kafka consumer group error", zap.Error(err))
		}
	}()

	go func() {
		handler := &fanoutConsumer{deliver: deliver}
		for {
			if err := f.consumer.Consume(ctx, []string{f.topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logger.L.Error("Kafka consumer error", zap.Error(err))
				// 失败时等待一段时间再重试
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
			if ctx.Err() != nil {
				logger.L.Info("Stopping Kafka consumer", zap.String("group", f.group))
				return
			}
		}
	}()
	return nil
}

func (f *KafkaFanout) Close() error {
	if f.cancel != nil {
		f.cancel()
	}
	var errs []error
	if err := f.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close producer: %w", err))
	}
	if f.consumer == nil {
		return errors.Join(errs...)
	}
	if err := f.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close consumer group: %w", err))
	}
	return errors.Join(errs...)
}

// fanoutConsumer 实现 sarama.ConsumerGroupHandler
type fanoutConsumer struct {
	deliver DeliverFunc
}

func (h *fanoutConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

func (h *fanoutConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *fanoutConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		h.handle(message.Value)
		session.MarkMessage(message, "")
	}
	return nil
}

// 只投递给本进程上绑定的用户, 不在线的直接忽略
func (h *fanoutConsumer) handle(value []byte) {
	var direct DirectMessage
	if err := json.Unmarshal(value, &direct); err != nil {
		logger.L.Error("Failed to unmarshal direct message", zap.Error(err))
		return
	}
	if direct.UserID == 0 || direct.Event == "" {
		return
	}
	h.deliver(direct.UserID, direct.Event, direct.Data)
}
