package model

import (
	"time"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// Message 点对点聊天消息, 删除为软删除(IsDeleted), 行永远保留
type Message struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	SenderID    uint        `gorm:"not null;index:idx_messages_pair,priority:1" json:"sender_id"`
	ReceiverID  uint        `gorm:"not null;index:idx_messages_pair,priority:2" json:"receiver_id"`
	ProductID   *uint       `gorm:"index" json:"product_id"`
	OrderID     *uint       `gorm:"index" json:"order_id"`
	Content     string      `gorm:"type:text;not null" json:"content"`
	MessageType MessageType `gorm:"type:varchar(16);not null;default:'text';index" json:"message_type"`
	IsRead      bool        `gorm:"not null;default:false;index" json:"is_read"`
	ReadAt      *time.Time  `json:"read_at"`
	IsDeleted   bool        `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt   time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// PeerOf 返回消息相对于viewer的对方ID
func (m *Message) PeerOf(viewerID uint) uint {
	if m.SenderID == viewerID {
		return m.ReceiverID
	}
	return m.SenderID
}

// NewerThan 按 created_at 比较, 相同时间按 id 排序
func (m *Message) NewerThan(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID > other.ID
	}
	return m.CreatedAt.After(other.CreatedAt)
}
