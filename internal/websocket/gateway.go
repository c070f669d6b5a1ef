package websocket

import (
	"context"
	"encoding/json"

	"campus-chat/internal/interfaces"
	"campus-chat/internal/metrics"
	"campus-chat/internal/model"
	"campus-chat/internal/service"
	"campus-chat/pkg/apperr"
	"campus-chat/pkg/logger"

	"go.uber.org/zap"
)

// ChatService 网关需要的聊天业务能力, 与 REST 共用同一实现
type ChatService interface {
	SendMessage(ctx context.Context, senderID uint, req service.MessageRequest) (*model.Message, error)
	MarkAsRead(ctx context.Context, userID, otherUserID uint) (int64, error)
}

// Gateway 实时连接的事件分发: 认证、绑定、按事件调用聊天服务并推送结果
type Gateway struct {
	chat     ChatService
	registry *Registry
	verifier interfaces.TokenVerifier
	fanout   Fanout
}

var _ EventHandler = (*Gateway)(nil)

// fanout 为 nil 时只在本进程内推送
func NewGateway(chat ChatService, registry *Registry, verifier interfaces.TokenVerifier, fanout Fanout) *Gateway {
	if fanout == nil {
		fanout = LocalFanout{}
	}
	return &Gateway{
		chat:     chat,
		registry: registry,
		verifier: verifier,
		fanout:   fanout,
	}
}

func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Authenticate 校验连接时携带的令牌, 失败的连接不会进入绑定状态
func (g *Gateway) Authenticate(token string) (uint, error) {
	if token == "" {
		return 0, apperr.ErrAuthenticationFailed.WithMessage("missing token")
	}
	userID, err := g.verifier.VerifyToken(token)
	if err != nil || userID == 0 {
		return 0, apperr.ErrAuthenticationFailed.WithMessage("invalid or expired token")
	}
	return userID, nil
}

// Connect 绑定连接并推送 connected 确认; 同一用户的旧连接被直接替换
func (g *Gateway) Connect(conn Conn) {
	userID := conn.UserID()
	if previous := g.registry.Bind(userID, conn); previous != nil && previous.ID() != conn.ID() {
		logger.L.Info("User rebound to a new connection",
			zap.Uint("userID", userID),
			zap.String("previousConnID", previous.ID()),
			zap.String("connID", conn.ID()))
	} else {
		logger.L.Info("User connected", zap.Uint("userID", userID), zap.String("connID", conn.ID()))
	}

	if err := conn.Send(EventConnected, ConnectedPayload{Message: "connected", UserID: userID}); err != nil {
		logger.L.Warn("Failed to push connected event", zap.Uint("userID", userID), zap.Error(err))
	}
}

// Disconnect 只解除本连接自己的绑定
func (g *Gateway) Disconnect(conn Conn) {
	if g.registry.Unbind(conn.UserID(), conn) {
		logger.L.Info("User disconnected", zap.Uint("userID", conn.UserID()), zap.String("connID", conn.ID()))
		return
	}
	logger.L.Debug("Stale connection closed", zap.Uint("userID", conn.UserID()), zap.String("connID", conn.ID()))
}

// Dispatch 处理一帧入站事件; 任何失败只回 error 事件, 连接保持可用
func (g *Gateway) Dispatch(ctx context.Context, conn Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		g.reject(conn, "malformed", apperr.ErrInvalidRequest.WithMessage("frame must be {\"event\": ..., \"data\": ...}"))
		return
	}

	var err error
	switch env.Event {
	case EventSendMessage:
		err = g.handleSendMessage(ctx, conn, env.Data)
	case EventMarkAsRead:
		err = g.handleMarkAsRead(ctx, conn, env.Data)
	case EventTyping:
		err = g.relayTyping(ctx, conn, env.Data, EventUserTyping)
	case EventStopTyping:
		err = g.relayTyping(ctx, conn, env.Data, EventUserStopTyping)
	default:
		g.reject(conn, "unknown", apperr.ErrInvalidRequest.WithMessage("unknown event: "+env.Event))
		return
	}

	if err != nil {
		g.reject(conn, env.Event, err)
		return
	}
	metrics.RealtimeEvents.WithLabelValues(env.Event, "ok").Inc()
}

func (g *Gateway) handleSendMessage(ctx context.Context, conn Conn, data json.RawMessage) error {
	var req service.MessageRequest
	if err := decodePayload(data, &req); err != nil {
		return err
	}

	message, err := g.chat.SendMessage(ctx, conn.UserID(), req)
	if err != nil {
		return err
	}

	if err := conn.Send(EventMessageSent, message); err != nil {
		logger.L.Warn("Failed to ack message", zap.Uint("userID", conn.UserID()), zap.Uint("messageID", message.ID), zap.Error(err))
	}
	g.push(ctx, message.ReceiverID, EventNewMessage, message)
	return nil
}

func (g *Gateway) handleMarkAsRead(ctx context.Context, conn Conn, data json.RawMessage) error {
	var payload MarkAsReadPayload
	if err := decodePayload(data, &payload); err != nil {
		return err
	}

	count, err := g.chat.MarkAsRead(ctx, conn.UserID(), payload.OtherUserID)
	if err != nil {
		return err
	}

	if err := conn.Send(EventMarkedAsRead, MarkedAsReadPayload{OtherUserID: payload.OtherUserID, Count: count}); err != nil {
		logger.L.Warn("Failed to ack mark_as_read", zap.Uint("userID", conn.UserID()), zap.Error(err))
	}
	g.push(ctx, payload.OtherUserID, EventMessagesRead, UserPayload{UserID: conn.UserID()})
	return nil
}

// 输入状态只做转发, 接收方不在线时静默丢弃
func (g *Gateway) relayTyping(ctx context.Context, conn Conn, data json.RawMessage, event string) error {
	var payload TypingPayload
	if err := decodePayload(data, &payload); err != nil {
		return err
	}
	if payload.ReceiverID == 0 || payload.ReceiverID == conn.UserID() {
		return nil
	}
	g.push(ctx, payload.ReceiverID, event, UserPayload{UserID: conn.UserID()})
	return nil
}

// push 优先投递给本进程上的连接, 否则交给 fanout
func (g *Gateway) push(ctx context.Context, userID uint, event string, payload interface{}) {
	if conn, ok := g.registry.Lookup(userID); ok {
		if err := conn.Send(event, payload); err != nil {
			logger.L.Warn("Failed to push event", zap.Uint("userID", userID), zap.String("event", event), zap.Error(err))
		}
		return
	}
	if err := g.fanout.Publish(ctx, userID, event, payload); err != nil {
		logger.L.Warn("Failed to publish event", zap.Uint("userID", userID), zap.String("event", event), zap.Error(err))
	}
}

// DeliverLocal 投递 fanout 转发来的事件, 用户不在本进程时返回 false
func (g *Gateway) DeliverLocal(userID uint, event string, data json.RawMessage) bool {
	conn, ok := g.registry.Lookup(userID)
	if !ok {
		return false
	}
	if err := conn.Send(event, data); err != nil {
		logger.L.Warn("Failed to deliver fanout event", zap.Uint("userID", userID), zap.String("event", event), zap.Error(err))
		return false
	}
	return true
}

func (g *Gateway) reject(conn Conn, label string, err error) {
	metrics.RealtimeEvents.WithLabelValues(label, "error").Inc()
	if apperr.KindOf(err) == apperr.KindInternal {
		logger.L.Error("Realtime event failed", zap.Uint("userID", conn.UserID()), zap.String("event", label), zap.Error(err))
	}

	reason, message := apperr.Public(err)
	if sendErr := conn.Send(EventError, ErrorPayload{Code: reason, Message: message}); sendErr != nil {
		logger.L.Warn("Failed to push error event", zap.Uint("userID", conn.UserID()), zap.Error(sendErr))
	}
}

func decodePayload(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return apperr.ErrInvalidRequest.WithMessage("missing event data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.ErrInvalidRequest.WithMessage("malformed event data")
	}
	return nil
}
