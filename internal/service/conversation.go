package service

import (
	"context"
	"sort"

	"campus-chat/internal/interfaces"
	"campus-chat/internal/model"
	"campus-chat/pkg/apperr"
	"campus-chat/pkg/logger"

	"go.uber.org/zap"
)

// ConversationAggregator 从消息流水计算会话列表
type ConversationAggregator struct {
	messages interfaces.MessageRepository
	users    interfaces.UserDirectory
}

func NewConversationAggregator(messages interfaces.MessageRepository, users interfaces.UserDirectory) *ConversationAggregator {
	return &ConversationAggregator{messages: messages, users: users}
}

type conversationAcc struct {
	last   model.Message
	unread int
}

// ListConversations 一次扫描按对方分组, 每组记录最新消息和未读数
func (a *ConversationAggregator) ListConversations(ctx context.Context, userID uint) ([]model.Conversation, error) {
	messages, err := a.messages.FindByParticipant(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to load messages")
	}

	groups := make(map[uint]*conversationAcc)
	peerIDs := make([]uint, 0)
	for i := range messages {
		msg := &messages[i]
		peerID := msg.PeerOf(userID)

		acc, ok := groups[peerID]
		if !ok {
			acc = &conversationAcc{last: *msg}
			groups[peerID] = acc
			peerIDs = append(peerIDs, peerID)
		} else if msg.NewerThan(&acc.last) {
			acc.last = *msg
		}

		if msg.ReceiverID == userID && !msg.IsRead {
			acc.unread++
		}
	}

	profiles, err := a.users.FindProfiles(ctx, peerIDs)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to load peer profiles")
	}

	conversations := make([]model.Conversation, 0, len(groups))
	for _, peerID := range peerIDs {
		profile, ok := profiles[peerID]
		if !ok {
			// 对方账号可能已注销, 跳过
			logger.L.Debug("Skipping conversation with unresolved peer",
				zap.Uint("userID", userID), zap.Uint("peerID", peerID))
			continue
		}
		acc := groups[peerID]
		conversations = append(conversations, model.Conversation{
			User:        profile,
			LastMessage: acc.last,
			UnreadCount: acc.unread,
		})
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastMessage.NewerThan(&conversations[j].LastMessage)
	})
	return conversations, nil
}
