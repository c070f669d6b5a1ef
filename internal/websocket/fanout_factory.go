package websocket

import (
	"fmt"

	"campus-chat/pkg/config"
	"campus-chat/pkg/logger"

	"go.uber.org/zap"
)

// CreateFanout 根据配置创建跨进程推送实现
func CreateFanout(cfg config.MessagingConfig) (Fanout, error) {
	logger.L.Info("Creating fanout with messaging provider", zap.String("provider", cfg.Provider))

	switch cfg.Provider {
	case "", "local":
		return LocalFanout{}, nil
	case "kafka":
		return NewKafkaFanout(cfg.Kafka)
	default:
		return nil, fmt.Errorf("unsupported messaging provider %q", cfg.Provider)
	}
}
