package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"campus-chat/internal/metrics"
	"campus-chat/pkg/config"
	"campus-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrConnectionClosed = errors.New("connection closed")

// EventHandler 处理连接上收到的帧以及断开事件, Gateway 实现
type EventHandler interface {
	Dispatch(ctx context.Context, conn Conn, raw []byte)
	Disconnect(conn Conn)
}

type ClientOptions struct {
	SendBufferSize int
	WriteWait      time.Duration // 写超时
	PongWait       time.Duration // 等待pong的最大时间
	PingPeriod     time.Duration // 发送ping的周期
	MaxMessageSize int64         // 消息最大长度
	RetryCount     int
	RetryInterval  time.Duration
}

func DefaultClientOptions() ClientOptions {
	pongWait := 60 * time.Second
	return ClientOptions{
		SendBufferSize: 256,
		WriteWait:      10 * time.Second,
		PongWait:       pongWait,
		PingPeriod:     (pongWait * 9) / 10,
		MaxMessageSize: 16 * 1024,
		RetryCount:     3,
		RetryInterval:  100 * time.Millisecond,
	}
}

// ClientOptionsFromConfig 非法值回落到默认值
func ClientOptionsFromConfig(cfg config.WebSocketConfig) ClientOptions {
	opts := DefaultClientOptions()

	if cfg.SendBufferSize > 0 {
		opts.SendBufferSize = cfg.SendBufferSize
	} else {
		logger.L.Warn("Invalid SendBufferSize, using default", zap.Int("default", opts.SendBufferSize))
	}
	if cfg.WriteWaitSeconds > 0 {
		opts.WriteWait = time.Duration(cfg.WriteWaitSeconds) * time.Second
	}
	if cfg.PongWaitSeconds > 0 {
		opts.PongWait = time.Duration(cfg.PongWaitSeconds) * time.Second
		opts.PingPeriod = (opts.PongWait * 9) / 10
	}
	if cfg.MaxMessageSize > 0 {
		opts.MaxMessageSize = int64(cfg.MaxMessageSize)
	}
	if cfg.MessageRetryCount > 0 {
		opts.RetryCount = cfg.MessageRetryCount
	} else {
		logger.L.Warn("Invalid retryCount, using default", zap.Int("default", opts.RetryCount))
	}
	if cfg.MessageRetryIntervalMs > 0 {
		opts.RetryInterval = time.Duration(cfg.MessageRetryIntervalMs) * time.Millisecond
	} else {
		logger.L.Warn("Invalid retryInterval, using default", zap.Duration("default", opts.RetryInterval))
	}
	return opts
}

// Client 基于 gorilla/websocket 的连接句柄, 一个读协程一个写协程
type Client struct {
	id      string
	userID  uint
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	handler EventHandler
	opts    ClientOptions
}

var _ Conn = (*Client)(nil)

func NewClient(userID uint, conn *websocket.Conn, handler EventHandler, opts ClientOptions) *Client {
	return &Client{
		id:      uuid.NewString(),
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, opts.SendBufferSize),
		done:    make(chan struct{}),
		handler: handler,
		opts:    opts,
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() uint { return c.userID }

// Send 把事件放入发送队列; 队列满时按配置重试, 仍然失败则关闭连接
func (c *Client) Send(event string, payload interface{}) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	case c.send <- data:
		return nil
	default:
	}

	for i := 0; i < c.opts.RetryCount; i++ {
		logger.L.Warn("Client send buffer full, retry attempt",
			zap.Uint("userID", c.userID),
			zap.String("connID", c.id),
			zap.Int("attempt", i+1))
		timer := time.NewTimer(c.opts.RetryInterval)
		select {
		case <-c.done:
			timer.Stop()
			return ErrConnectionClosed
		case c.send <- data:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	// 所有重试失败 关闭连接
	logger.L.Error("Client send buffer still full after retries, closing connection",
		zap.Uint("userID", c.userID),
		zap.String("connID", c.id),
		zap.Int("attempts", c.opts.RetryCount))
	metrics.PushesDropped.Inc()
	c.Close()
	return errors.New("client send buffer full")
}

// Close 可以重复调用
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
}

// ReadPump 逐帧读取并交给 handler, 同一连接上的事件按顺序处理
func (c *Client) ReadPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.handler.Disconnect(c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.L.Warn("Unexpected close error", zap.Uint("userID", c.userID), zap.Error(err))
			} else {
				logger.L.Debug("Read loop finished", zap.Uint("userID", c.userID), zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		c.handler.Dispatch(ctx, c, data)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				logger.L.Debug("Failed to write message", zap.Uint("userID", c.userID), zap.Error(err))
				return
			}

			// 把队列里已有的消息一起写出
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.write(websocket.TextMessage, <-c.send); err != nil {
					logger.L.Debug("Failed to write batched message", zap.Uint("userID", c.userID), zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				logger.L.Debug("Failed to send ping", zap.Uint("userID", c.userID), zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
