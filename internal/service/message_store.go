package service

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"campus-chat/internal/interfaces"
	"campus-chat/internal/model"
	"campus-chat/pkg/apperr"
)

const DefaultMaxContentLength = 5000

// 发送消息请求, REST 与 WebSocket 共用
type MessageRequest struct {
	ReceiverID  uint              `json:"receiver_id"`
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"message_type"`
	ProductID   *uint             `json:"product_id"`
	OrderID     *uint             `json:"order_id"`
}

// MessageStore 消息存储: 在仓储之上负责校验、排序和所有权检查
type MessageStore struct {
	messages         interfaces.MessageRepository
	users            interfaces.UserDirectory
	maxContentLength int
	now              func() time.Time
}

func NewMessageStore(messages interfaces.MessageRepository, users interfaces.UserDirectory, maxContentLength int) *MessageStore {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	return &MessageStore{
		messages:         messages,
		users:            users,
		maxContentLength: maxContentLength,
		now:              time.Now,
	}
}

func (s *MessageStore) validate(senderID uint, req *MessageRequest) error {
	if strings.TrimSpace(req.Content) == "" || utf8.RuneCountInString(req.Content) > s.maxContentLength {
		return apperr.ErrInvalidContent
	}
	if req.MessageType == "" {
		req.MessageType = model.MessageTypeText
	}
	if !req.MessageType.Valid() {
		return apperr.ErrInvalidMessageType
	}
	if req.ReceiverID == 0 {
		return apperr.ErrInvalidID.WithMessage("receiver_id must be a positive integer")
	}
	if senderID == req.ReceiverID {
		return apperr.ErrInvalidSelfMessage
	}
	return nil
}

// Create 校验并写入一条新消息
func (s *MessageStore) Create(ctx context.Context, senderID uint, req MessageRequest) (*model.Message, error) {
	if err := s.validate(senderID, &req); err != nil {
		return nil, err
	}

	receiver, err := s.users.FindByID(ctx, req.ReceiverID)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to look up receiver")
	}
	if receiver == nil {
		return nil, apperr.ErrReceiverNotFound
	}

	now := s.now()
	message := &model.Message{
		SenderID:    senderID,
		ReceiverID:  req.ReceiverID,
		Content:     req.Content,
		MessageType: req.MessageType,
		ProductID:   req.ProductID,
		OrderID:     req.OrderID,
		IsRead:      false,
		IsDeleted:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, apperr.Wrap(err, "failed to save message")
	}
	return message, nil
}

// ListBetween 分页获取两人之间的消息, 页内按时间正序
func (s *MessageStore) ListBetween(ctx context.Context, userID1, userID2 uint, page, pageSize int) ([]model.Message, int64, error) {
	messages, total, err := s.messages.FindBetween(ctx, userID1, userID2, pageSize, pageOffset(page, pageSize))
	if err != nil {
		return nil, 0, apperr.Wrap(err, "failed to retrieve chat history")
	}

	// 仓储返回最新在前, 反转让最老的消息在前
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return messages, total, nil
}

// pageOffset 页码过大导致溢出时返回 math.MaxInt, 查询结果为空页
func pageOffset(page, pageSize int) int {
	if page <= 1 || pageSize <= 0 {
		return 0
	}
	if page-1 > math.MaxInt/pageSize {
		return math.MaxInt
	}
	return (page - 1) * pageSize
}

// MarkRead 把 sender 发给 receiver 的未读消息全部标记为已读, 返回受影响条数
func (s *MessageStore) MarkRead(ctx context.Context, receiverID, senderID uint) (int64, error) {
	count, err := s.messages.MarkRead(ctx, receiverID, senderID, s.now())
	if err != nil {
		return 0, apperr.Wrap(err, "failed to mark messages as read")
	}
	return count, nil
}

// SoftDelete 只有发送者可以删除消息
func (s *MessageStore) SoftDelete(ctx context.Context, messageID, requesterID uint) (*model.Message, error) {
	message, err := s.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != requesterID {
		return nil, apperr.ErrForbidden
	}
	if message.IsDeleted {
		return message, nil
	}

	now := s.now()
	if err := s.messages.SoftDelete(ctx, messageID, now); err != nil {
		return nil, apperr.Wrap(err, "failed to delete message")
	}
	message.IsDeleted = true
	message.UpdatedAt = now
	return message, nil
}

func (s *MessageStore) CountUnread(ctx context.Context, userID uint) (int64, error) {
	count, err := s.messages.CountUnread(ctx, userID)
	if err != nil {
		return 0, apperr.Wrap(err, "failed to count unread messages")
	}
	return count, nil
}

// Get 按ID直接查找, 已删除的消息同样返回
func (s *MessageStore) Get(ctx context.Context, messageID uint) (*model.Message, error) {
	message, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to load message")
	}
	if message == nil {
		return nil, apperr.ErrMessageNotFound
	}
	return message, nil
}
