package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"campus-chat/internal/interfaces"
	"campus-chat/internal/model"
)

// MemoryMessageRepository 无数据库开发模式下的内存消息存储
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages []*model.Message
	nextID   uint
	now      func() time.Time
}

var _ interfaces.MessageRepository = (*MemoryMessageRepository)(nil)

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{nextID: 1, now: time.Now}
}

func (r *MemoryMessageRepository) Create(_ context.Context, message *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	message.ID = r.nextID
	r.nextID++
	if message.CreatedAt.IsZero() {
		message.CreatedAt = now
	}
	if message.UpdatedAt.IsZero() {
		message.UpdatedAt = message.CreatedAt
	}
	if message.MessageType == "" {
		message.MessageType = model.MessageTypeText
	}

	stored := *message
	r.messages = append(r.messages, &stored)
	return nil
}

func (r *MemoryMessageRepository) FindByID(_ context.Context, id uint) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.messages {
		if m.ID == id {
			c := *m
			return &c, nil
		}
	}
	return nil, nil
}

// 按 created_at 降序收集满足条件的消息副本
func (r *MemoryMessageRepository) collect(match func(*model.Message) bool) []model.Message {
	var out []model.Message
	for _, m := range r.messages {
		if !m.IsDeleted && match(m) {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NewerThan(&out[j])
	})
	return out
}

func (r *MemoryMessageRepository) FindBetween(_ context.Context, userID1, userID2 uint, limit, offset int) ([]model.Message, int64, error) {
	if limit < 0 || offset < 0 {
		return nil, 0, fmt.Errorf("invalid page window: limit=%d offset=%d", limit, offset)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.collect(func(m *model.Message) bool {
		return (m.SenderID == userID1 && m.ReceiverID == userID2) ||
			(m.SenderID == userID2 && m.ReceiverID == userID1)
	})
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Message{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *MemoryMessageRepository) FindByParticipant(_ context.Context, userID uint) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collect(func(m *model.Message) bool {
		return m.SenderID == userID || m.ReceiverID == userID
	}), nil
}

func (r *MemoryMessageRepository) MarkRead(_ context.Context, receiverID, senderID uint, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected int64
	for _, m := range r.messages {
		if m.ReceiverID == receiverID && m.SenderID == senderID && !m.IsRead && !m.IsDeleted {
			readAt := at
			m.IsRead = true
			m.ReadAt = &readAt
			m.UpdatedAt = at
			affected++
		}
	}
	return affected, nil
}

func (r *MemoryMessageRepository) SoftDelete(_ context.Context, id uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.messages {
		if m.ID == id {
			m.IsDeleted = true
			m.UpdatedAt = at
			return nil
		}
	}
	return nil
}

func (r *MemoryMessageRepository) CountUnread(_ context.Context, userID uint) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, m := range r.messages {
		if m.ReceiverID == userID && !m.IsRead && !m.IsDeleted {
			count++
		}
	}
	return count, nil
}

// MemoryUserRepository 内存用户目录
type MemoryUserRepository struct {
	mu     sync.RWMutex
	users  map[uint]model.User
	nextID uint
}

var _ interfaces.UserDirectory = (*MemoryUserRepository)(nil)

func NewMemoryUserRepository(users ...model.User) *MemoryUserRepository {
	r := &MemoryUserRepository{users: make(map[uint]model.User, len(users)), nextID: 1}
	for _, u := range users {
		r.Add(u)
	}
	return r
}

// Add 按给定ID写入或覆盖用户
func (r *MemoryUserRepository) Add(user model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	if user.ID >= r.nextID {
		r.nextID = user.ID + 1
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == user.Username || u.Email == user.Email {
			return fmt.Errorf("duplicate user %q", user.Username)
		}
	}
	now := time.Now()
	user.ID = r.nextID
	r.nextID++
	user.CreatedAt, user.UpdatedAt = now, now
	if user.Status == "" {
		user.Status = model.UserStatusActive
	}
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) findBy(match func(*model.User) bool) *model.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(&u) {
			found := u
			return &found
		}
	}
	return nil
}

func (r *MemoryUserRepository) FindByUsername(_ context.Context, username string) (*model.User, error) {
	return r.findBy(func(u *model.User) bool { return u.Username == username }), nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.findBy(func(u *model.User) bool { return u.Email == email }), nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id uint) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *MemoryUserRepository) FindProfiles(_ context.Context, ids []uint) (map[uint]model.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make(map[uint]model.UserProfile, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			profiles[id] = u.Profile()
		}
	}
	return profiles, nil
}

// FixtureUsers 内存模式预置的测试用户
func FixtureUsers() []model.User {
	return []model.User{
		{ID: 1, Username: "zhangsan", Email: "zhangsan@campus.test", AvatarURL: "https://i.pravatar.cc/150?img=1", Status: model.UserStatusActive},
		{ID: 2, Username: "lisi", Email: "lisi@campus.test", AvatarURL: "https://i.pravatar.cc/150?img=2", Status: model.UserStatusActive},
		{ID: 3, Username: "wangwu", Email: "wangwu@campus.test", AvatarURL: "https://i.pravatar.cc/150?img=3", Status: model.UserStatusActive},
	}
}

// SeedFixtureMessages 写入几条示例对话
func SeedFixtureMessages(ctx context.Context, repo interfaces.MessageRepository, now time.Time) error {
	readAt := func(d time.Duration) *time.Time {
		t := now.Add(-d)
		return &t
	}
	fixtures := []model.Message{
		{SenderID: 1, ReceiverID: 2, Content: "你好,这个商品还在吗?", IsRead: true, ReadAt: readAt(time.Hour), CreatedAt: now.Add(-2 * time.Hour)},
		{SenderID: 2, ReceiverID: 1, Content: "在的,你需要吗?", IsRead: true, ReadAt: readAt(58 * time.Minute), CreatedAt: now.Add(-time.Hour)},
		{SenderID: 1, ReceiverID: 2, Content: "价格可以优惠吗?", CreatedAt: now.Add(-30 * time.Minute)},
		{SenderID: 3, ReceiverID: 1, Content: "你好", CreatedAt: now.Add(-15 * time.Minute)},
	}
	for i := range fixtures {
		fixtures[i].MessageType = model.MessageTypeText
		if err := repo.Create(ctx, &fixtures[i]); err != nil {
			return err
		}
	}
	return nil
}
