package service

import (
	"context"

	"campus-chat/internal/interfaces"
	"campus-chat/internal/model"
	"campus-chat/pkg/apperr"
	"campus-chat/pkg/logger"

	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// ChatService 聊天业务门面, REST 和 WebSocket 都只通过它读写消息
type ChatService struct {
	store         *MessageStore
	conversations *ConversationAggregator
	cache         interfaces.UnreadCache

	defaultPageSize int
	maxPageSize     int
}

// cache 可以为 nil
func NewChatService(store *MessageStore, conversations *ConversationAggregator, cache interfaces.UnreadCache) *ChatService {
	return &ChatService{
		store:           store,
		conversations:   conversations,
		cache:           cache,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
	}
}

// SetPageLimits 覆盖默认分页大小和上限
func (s *ChatService) SetPageLimits(defaultSize, maxSize int) {
	if defaultSize > 0 {
		s.defaultPageSize = defaultSize
	}
	if maxSize > 0 {
		s.maxPageSize = maxSize
	}
	if s.defaultPageSize > s.maxPageSize {
		s.defaultPageSize = s.maxPageSize
	}
}

type ChatHistory struct {
	Messages []model.Message `json:"messages"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	Pages    int             `json:"pages"`
}

func (s *ChatService) SendMessage(ctx context.Context, senderID uint, req MessageRequest) (*model.Message, error) {
	message, err := s.store.Create(ctx, senderID, req)
	if err != nil {
		logFailure("SendMessage", err, zap.Uint("senderID", senderID), zap.Uint("receiverID", req.ReceiverID))
		return nil, err
	}
	logger.L.Debug("Message saved", zap.Uint("messageID", message.ID), zap.Uint("senderID", senderID))

	s.invalidateUnread(ctx, message.ReceiverID)
	return message, nil
}

func (s *ChatService) GetChatHistory(ctx context.Context, userID, otherUserID uint, page, pageSize int) (*ChatHistory, error) {
	if otherUserID == 0 {
		return nil, apperr.ErrInvalidID
	}
	if userID == otherUserID {
		return nil, apperr.ErrInvalidRequest.WithMessage("cannot fetch chat history with oneself")
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	messages, total, err := s.store.ListBetween(ctx, userID, otherUserID, page, pageSize)
	if err != nil {
		logFailure("GetChatHistory", err, zap.Uint("userID", userID), zap.Uint("otherUserID", otherUserID))
		return nil, err
	}

	return &ChatHistory{
		Messages: messages,
		Total:    total,
		Page:     page,
		Pages:    int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

func (s *ChatService) GetConversations(ctx context.Context, userID uint) ([]model.Conversation, error) {
	conversations, err := s.conversations.ListConversations(ctx, userID)
	if err != nil {
		logFailure("GetConversations", err, zap.Uint("userID", userID))
		return nil, err
	}
	return conversations, nil
}

// MarkAsRead 把 otherUserID 发给 userID 的消息标记为已读
func (s *ChatService) MarkAsRead(ctx context.Context, userID, otherUserID uint) (int64, error) {
	if otherUserID == 0 {
		return 0, apperr.ErrInvalidID
	}
	if userID == otherUserID {
		return 0, apperr.ErrInvalidRequest.WithMessage("cannot mark messages from oneself as read")
	}
	count, err := s.store.MarkRead(ctx, userID, otherUserID)
	if err != nil {
		logFailure("MarkAsRead", err, zap.Uint("userID", userID), zap.Uint("otherUserID", otherUserID))
		return 0, err
	}
	if count > 0 {
		s.invalidateUnread(ctx, userID)
	}
	return count, nil
}

func (s *ChatService) DeleteMessage(ctx context.Context, messageID, userID uint) (*model.Message, error) {
	message, err := s.store.SoftDelete(ctx, messageID, userID)
	if err != nil {
		logFailure("DeleteMessage", err, zap.Uint("messageID", messageID), zap.Uint("userID", userID))
		return nil, err
	}
	s.invalidateUnread(ctx, message.ReceiverID)
	return message, nil
}

// GetMessage 按ID直接读取, 包括已删除的消息
func (s *ChatService) GetMessage(ctx context.Context, messageID uint) (*model.Message, error) {
	return s.store.Get(ctx, messageID)
}

func (s *ChatService) GetUnreadCount(ctx context.Context, userID uint) (int64, error) {
	// 版本号必须在查库之前读取, 读失败时本次不写回缓存
	var version int64
	writeBack := false
	if s.cache != nil {
		count, ok, err := s.cache.GetUnread(ctx, userID)
		if err != nil {
			logger.L.Warn("Unread cache read failed, falling back to store", zap.Uint("userID", userID), zap.Error(err))
		} else if ok {
			return count, nil
		}

		if version, err = s.cache.UnreadVersion(ctx, userID); err != nil {
			logger.L.Warn("Unread cache version read failed", zap.Uint("userID", userID), zap.Error(err))
		} else {
			writeBack = true
		}
	}

	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		logFailure("GetUnreadCount", err, zap.Uint("userID", userID))
		return 0, err
	}

	if writeBack {
		stored, err := s.cache.SetUnread(ctx, userID, count, version)
		if err != nil {
			logger.L.Warn("Unread cache write failed", zap.Uint("userID", userID), zap.Error(err))
		} else if !stored {
			logger.L.Debug("Unread count changed while counting, skip cache write", zap.Uint("userID", userID))
		}
	}
	return count, nil
}

func (s *ChatService) invalidateUnread(ctx context.Context, userIDs ...uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateUnread(ctx, userIDs...); err != nil {
		logger.L.Warn("Unread cache invalidation failed", zap.Uints("userIDs", userIDs), zap.Error(err))
	}
}

// 内部错误记 Error, 业务错误只记 Debug
func logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if apperr.KindOf(err) == apperr.KindInternal {
		logger.L.Error(op+" failed", fields...)
		return
	}
	logger.L.Debug(op+" rejected", fields...)
}
