package websocket

import (
	"encoding/json"
)

// 客户端发来的事件
const (
	EventSendMessage = "send_message"
	EventMarkAsRead  = "mark_as_read"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
)

// 服务端推送的事件
const (
	EventConnected      = "connected"
	EventMessageSent    = "message_sent"
	EventNewMessage     = "new_message"
	EventMarkedAsRead   = "marked_as_read"
	EventMessagesRead   = "messages_read"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventError          = "error"
)

// Envelope 收到的帧: {"event": "...", "data": {...}}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame 发出的帧
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type MarkAsReadPayload struct {
	OtherUserID uint `json:"other_user_id"`
}

type TypingPayload struct {
	ReceiverID uint `json:"receiver_id"`
}

type ConnectedPayload struct {
	Message string `json:"message"`
	UserID  uint   `json:"user_id"`
}

type MarkedAsReadPayload struct {
	OtherUserID uint  `json:"other_user_id"`
	Count       int64 `json:"count"`
}

// 已读回执和输入状态都只携带触发者ID
type UserPayload struct {
	UserID uint `json:"user_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: payload})
}
