package repository

import (
	"context"
	"errors"
	"time"

	"campus-chat/internal/interfaces"
	"campus-chat/internal/model"

	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

var _ interfaces.MessageRepository = (*MessageRepository)(nil)

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// 保存新消息
func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// 按ID查找消息, 包括已软删除的
func (r *MessageRepository) FindByID(ctx context.Context, id uint) (*model.Message, error) {
	var message model.Message
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // 消息不存在
		}
		return nil, err
	}
	return &message, nil
}

// 两个用户之间未删除消息的查询条件
func betweenUsers(userID1, userID2 uint) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where(
			"((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)) AND is_deleted = ?",
			userID1, userID2, userID2, userID1, false,
		)
	}
}

// 获取两个用户之间的聊天记录
func (r *MessageRepository) FindBetween(ctx context.Context, userID1, userID2 uint, limit, offset int) ([]model.Message, int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Scopes(betweenUsers(userID1, userID2)).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var messages []model.Message
	err = r.db.WithContext(ctx).
		Scopes(betweenUsers(userID1, userID2)).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// 获取与用户相关的所有消息, 用于会话聚合
func (r *MessageRepository) FindByParticipant(ctx context.Context, userID uint) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? OR receiver_id = ?) AND is_deleted = ?", userID, userID, false).
		Order("created_at DESC").Order("id DESC").
		Find(&messages).Error
	return messages, err
}

// 批量标记已读, 条件里带 is_read = false, 每行最多被更新一次
func (r *MessageRepository) MarkRead(ctx context.Context, receiverID, senderID uint, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ? AND is_deleted = ?", receiverID, senderID, false, false).
		Updates(map[string]interface{}{
			"is_read":    true,
			"read_at":    at,
			"updated_at": at,
		})
	return result.RowsAffected, result.Error
}

// 软删除消息
func (r *MessageRepository) SoftDelete(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"updated_at": at,
		}).Error
}

// 未读消息数
func (r *MessageRepository) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("receiver_id = ? AND is_read = ? AND is_deleted = ?", userID, false, false).
		Count(&count).Error
	return count, err
}
