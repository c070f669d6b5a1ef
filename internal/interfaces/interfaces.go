package interfaces

import (
	"context"
	"time"

	"campus-chat/internal/model"
)

// MessageRepository 消息持久化, repository.MessageRepository(gorm) 与
// repository.MemoryMessageRepository(内存) 实现
type MessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	// 找不到时返回 nil, nil; 已软删除的行同样返回
	FindByID(ctx context.Context, id uint) (*model.Message, error)
	// 两个用户之间未删除的消息, 最新的在前
	FindBetween(ctx context.Context, userID1, userID2 uint, limit, offset int) ([]model.Message, int64, error)
	// 与用户相关(收或发)的全部未删除消息, 最新的在前
	FindByParticipant(ctx context.Context, userID uint) ([]model.Message, error)
	MarkRead(ctx context.Context, receiverID, senderID uint, at time.Time) (int64, error)
	SoftDelete(ctx context.Context, id uint, at time.Time) error
	CountUnread(ctx context.Context, userID uint) (int64, error)
}

// UserDirectory 用户目录, 聊天模块只读
type UserDirectory interface {
	// 找不到时返回 nil, nil
	FindByID(ctx context.Context, id uint) (*model.User, error)
	// 批量获取资料, 不存在的ID不出现在结果中
	FindProfiles(ctx context.Context, ids []uint) (map[uint]model.UserProfile, error)
}

// TokenVerifier 校验凭证并返回用户ID
type TokenVerifier interface {
	VerifyToken(token string) (uint, error)
}

// UnreadCache 未读数缓存, 可选
type UnreadCache interface {
	GetUnread(ctx context.Context, userID uint) (int64, bool, error)
	// UnreadVersion 在查库之前读取, 写回时用来判断期间是否发生过失效
	UnreadVersion(ctx context.Context, userID uint) (int64, error)
	SetUnread(ctx context.Context, userID uint, count, version int64) (bool, error)
	InvalidateUnread(ctx context.Context, userIDs ...uint) error
}
