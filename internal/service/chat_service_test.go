package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"campus-chat/internal/interfaces"
	"campus-chat/internal/model"
	"campus-chat/internal/repository"
	"campus-chat/pkg/apperr"
	"campus-chat/pkg/config"
	"campus-chat/pkg/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache 记录调用的未读数缓存, 版本号语义与 Redis 实现一致
type fakeCache struct {
	mu          sync.Mutex
	values      map[uint]int64
	versions    map[uint]int64
	invalidated []uint
	failGet     bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[uint]int64), versions: make(map[uint]int64)}
}

func (c *fakeCache) GetUnread(_ context.Context, userID uint) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return 0, false, errors.New("redis down")
	}
	v, ok := c.values[userID]
	return v, ok, nil
}

func (c *fakeCache) UnreadVersion(_ context.Context, userID uint) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID], nil
}

func (c *fakeCache) SetUnread(_ context.Context, userID uint, count, version int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[userID] != version {
		return false, nil
	}
	c.values[userID] = count
	return true, nil
}

func (c *fakeCache) InvalidateUnread(_ context.Context, userIDs ...uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.values, id)
		c.versions[id]++
		c.invalidated = append(c.invalidated, id)
	}
	return nil
}

func (c *fakeCache) cached(userID uint) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[userID]
	return v, ok
}

type chatFixture struct {
	chat     *ChatService
	store    *MessageStore
	messages *repository.MemoryMessageRepository
	users    *repository.MemoryUserRepository
	clock    time.Time
}

// 使用固定递增的时钟, 保证消息时间严格有序
func newChatFixture(t *testing.T, cache *fakeCache) *chatFixture {
	t.Helper()
	f := &chatFixture{
		messages: repository.NewMemoryMessageRepository(),
		users:    repository.NewMemoryUserRepository(repository.FixtureUsers()...),
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store = NewMessageStore(f.messages, f.users, 0)
	f.store.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	// nil *fakeCache 不能直接传入接口
	if cache != nil {
		f.chat = NewChatService(f.store, NewConversationAggregator(f.messages, f.users), cache)
	} else {
		f.chat = NewChatService(f.store, NewConversationAggregator(f.messages, f.users), nil)
	}
	return f
}

func (f *chatFixture) send(t *testing.T, from, to uint, content string) *model.Message {
	t.Helper()
	msg, err := f.chat.SendMessage(context.Background(), from, MessageRequest{ReceiverID: to, Content: content})
	require.NoError(t, err)
	return msg
}

func TestSendMessage_Validation(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		sender  uint
		req     MessageRequest
		wantErr error
	}{
		{"self message", 1, MessageRequest{ReceiverID: 1, Content: "hi"}, apperr.ErrInvalidSelfMessage},
		{"self message with empty content still rejected", 1, MessageRequest{ReceiverID: 1, Content: "   "}, apperr.ErrInvalidContent},
		{"empty content", 1, MessageRequest{ReceiverID: 2, Content: ""}, apperr.ErrInvalidContent},
		{"whitespace content", 1, MessageRequest{ReceiverID: 2, Content: " \n\t "}, apperr.ErrInvalidContent},
		{"too long", 1, MessageRequest{ReceiverID: 2, Content: strings.Repeat("好", DefaultMaxContentLength+1)}, apperr.ErrInvalidContent},
		{"unknown type", 1, MessageRequest{ReceiverID: 2, Content: "hi", MessageType: "sticker"}, apperr.ErrInvalidMessageType},
		{"zero receiver", 1, MessageRequest{Content: "hi"}, apperr.ErrInvalidID},
		{"missing receiver", 1, MessageRequest{ReceiverID: 77, Content: "hi"}, apperr.ErrReceiverNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := f.chat.SendMessage(ctx, tt.sender, tt.req)
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	count, err := f.chat.GetUnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSendMessage_Persists(t *testing.T) {
	f := newChatFixture(t, nil)
	productID := uint(42)

	msg, err := f.chat.SendMessage(context.Background(), 1, MessageRequest{
		ReceiverID:  2,
		Content:     strings.Repeat("a", DefaultMaxContentLength),
		MessageType: model.MessageTypeImage,
		ProductID:   &productID,
	})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, model.MessageTypeImage, msg.MessageType)
	assert.False(t, msg.IsRead)
	assert.False(t, msg.IsDeleted)
	assert.Nil(t, msg.ReadAt)
	require.NotNil(t, msg.ProductID)
	assert.Equal(t, productID, *msg.ProductID)
	assert.Nil(t, msg.OrderID)

	stored, err := f.chat.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Content, stored.Content)
}

func TestMarkAsRead_Idempotent(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	first := f.send(t, 2, 1, "one")
	f.send(t, 2, 1, "two")

	count, err := f.chat.MarkAsRead(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	before, err := f.chat.GetMessage(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, before.ReadAt)

	count, err = f.chat.MarkAsRead(ctx, 1, 2)
	require.NoError(t, err)
	assert.Zero(t, count)

	after, err := f.chat.GetMessage(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, *before.ReadAt, *after.ReadAt)

	_, err = f.chat.MarkAsRead(ctx, 1, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidID)
}

func TestMarkAsRead_OnlyReceiverSide(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	f.send(t, 1, 2, "from 1")

	// 发送者不能把自己发出的消息标成已读
	count, err := f.chat.MarkAsRead(ctx, 1, 2)
	require.NoError(t, err)
	assert.Zero(t, count)

	unread, err := f.chat.GetUnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestDeleteMessage_SoftDeleteExclusion(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	f.send(t, 2, 1, "earlier")
	m := f.send(t, 1, 2, "to be deleted")

	deleted, err := f.chat.DeleteMessage(ctx, m.ID, 1)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)

	for _, viewer := range []uint{1, 2} {
		other := uint(3) - viewer
		history, err := f.chat.GetChatHistory(ctx, viewer, other, 1, 50)
		require.NoError(t, err)
		assert.Equal(t, int64(1), history.Total)
		for _, msg := range history.Messages {
			assert.NotEqual(t, m.ID, msg.ID)
		}

		conversations, err := f.chat.GetConversations(ctx, viewer)
		require.NoError(t, err)
		require.Len(t, conversations, 1)
		assert.NotEqual(t, m.ID, conversations[0].LastMessage.ID)
	}

	unread, err := f.chat.GetUnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, unread)

	// 行仍然保留
	stored, err := f.chat.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)

	// 重复删除是成功的空操作
	_, err = f.chat.DeleteMessage(ctx, m.ID, 1)
	assert.NoError(t, err)
}

func TestDeleteMessage_Ownership(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	m := f.send(t, 1, 2, "mine")

	_, err := f.chat.DeleteMessage(ctx, m.ID, 2)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	stored, err := f.chat.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDeleted)

	_, err = f.chat.DeleteMessage(ctx, 9999, 1)
	assert.ErrorIs(t, err, apperr.ErrMessageNotFound)
}

func TestGetChatHistory_Pagination(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	older := f.send(t, 1, 2, "older")
	newer := f.send(t, 2, 1, "newer")

	history, err := f.chat.GetChatHistory(ctx, 1, 2, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), history.Total)
	assert.Equal(t, 2, history.Page)
	assert.Equal(t, 2, history.Pages)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, older.ID, history.Messages[0].ID)

	// 页内按时间正序
	history, err = f.chat.GetChatHistory(ctx, 2, 1, 1, 10)
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, older.ID, history.Messages[0].ID)
	assert.Equal(t, newer.ID, history.Messages[1].ID)
	assert.Equal(t, 1, history.Pages)

	// 超出范围的页返回空列表而不是 nil
	history, err = f.chat.GetChatHistory(ctx, 1, 2, 5, 10)
	require.NoError(t, err)
	assert.NotNil(t, history.Messages)
	assert.Empty(t, history.Messages)
}

func TestGetChatHistory_Defaults(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()
	f.send(t, 1, 2, "hello")

	history, err := f.chat.GetChatHistory(ctx, 1, 2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, history.Page)
	assert.Equal(t, 1, history.Pages)

	f.chat.SetPageLimits(1, 1)
	f.send(t, 2, 1, "again")
	history, err = f.chat.GetChatHistory(ctx, 1, 2, 1, 500)
	require.NoError(t, err)
	assert.Len(t, history.Messages, 1)
	assert.Equal(t, 2, history.Pages)

	_, err = f.chat.GetChatHistory(ctx, 1, 1, 1, 10)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	_, err = f.chat.GetChatHistory(ctx, 1, 0, 1, 10)
	assert.ErrorIs(t, err, apperr.ErrInvalidID)
}

func TestGetConversations_Aggregation(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	f.send(t, 1, 2, "t1")
	f.send(t, 2, 1, "t2")
	t3 := f.send(t, 1, 2, "t3")

	conversations, err := f.chat.GetConversations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, uint(2), conversations[0].User.ID)
	assert.Equal(t, "lisi", conversations[0].User.Username)
	assert.Equal(t, t3.ID, conversations[0].LastMessage.ID)
	assert.Equal(t, 1, conversations[0].UnreadCount) // t2 未读

	_, err = f.chat.MarkAsRead(ctx, 1, 2)
	require.NoError(t, err)
	conversations, err = f.chat.GetConversations(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, conversations[0].UnreadCount)

	// 对方视角: t1 与 t3 未读
	conversations, err = f.chat.GetConversations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, 2, conversations[0].UnreadCount)
}

func TestGetConversations_OrderAndMissingPeer(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	f.send(t, 2, 1, "lisi first")
	f.send(t, 3, 1, "wangwu later")
	f.users.Add(model.User{ID: 4, Username: "ghost", Email: "ghost@campus.test", Status: model.UserStatusActive})
	f.send(t, 4, 1, "ghost latest")

	// 直接写入一条来自不存在用户的消息
	require.NoError(t, f.messages.Create(ctx, &model.Message{SenderID: 99, ReceiverID: 1, Content: "orphan", MessageType: model.MessageTypeText}))

	conversations, err := f.chat.GetConversations(ctx, 1)
	require.NoError(t, err)
	ids := make([]uint, 0, len(conversations))
	for _, c := range conversations {
		ids = append(ids, c.User.ID)
	}
	assert.Equal(t, []uint{4, 3, 2}, ids)

	peers, err := f.chat.GetConversations(ctx, 3)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, uint(1), peers[0].User.ID)
}

func TestUnreadCount_Cache(t *testing.T) {
	cache := newFakeCache()
	f := newChatFixture(t, cache)
	ctx := context.Background()

	f.send(t, 2, 1, "hi")
	assert.Contains(t, cache.invalidated, uint(1))

	count, err := f.chat.GetUnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(1), cache.values[1])

	// 命中缓存
	cache.values[1] = 7
	count, err = f.chat.GetUnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)

	// 已读后失效
	_, err = f.chat.MarkAsRead(ctx, 1, 2)
	require.NoError(t, err)
	_, cached := cache.values[1]
	assert.False(t, cached)

	count, err = f.chat.GetUnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)

	// 缓存故障时回落到存储
	cache.failGet = true
	f.send(t, 3, 1, "again")
	count, err = f.chat.GetUnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEndToEndUnreadAfterRead(t *testing.T) {
	f := newChatFixture(t, nil)
	ctx := context.Background()

	msg := f.send(t, 1, 2, "Is this still available?")
	assert.False(t, msg.IsRead)

	before, err := f.chat.GetUnreadCount(ctx, 2)
	require.NoError(t, err)

	count, err := f.chat.MarkAsRead(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	after, err := f.chat.GetUnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, before-1, after)
}

// countHookRepository 在统计未读数之后执行 afterCount, 模拟统计与写缓存之间插入的写操作
type countHookRepository struct {
	*repository.MemoryMessageRepository
	afterCount func()
}

func (r *countHookRepository) CountUnread(ctx context.Context, userID uint) (int64, error) {
	count, err := r.MemoryMessageRepository.CountUnread(ctx, userID)
	if r.afterCount != nil {
		hook := r.afterCount
		r.afterCount = nil
		hook()
	}
	return count, err
}

func TestUnreadCount_ConcurrentSendDoesNotCacheStaleCount(t *testing.T) {
	cache := newFakeCache()
	users := repository.NewMemoryUserRepository(repository.FixtureUsers()...)
	messages := &countHookRepository{MemoryMessageRepository: repository.NewMemoryMessageRepository()}
	chat := NewChatService(NewMessageStore(messages, users, 0), NewConversationAggregator(messages, users), cache)
	ctx := context.Background()

	messages.afterCount = func() {
		_, err := chat.SendMessage(ctx, 2, MessageRequest{ReceiverID: 1, Content: "还在吗"})
		require.NoError(t, err)
	}

	first, err := chat.GetUnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, first)

	// 统计期间发生过失效, 旧值不能写回缓存
	_, cached := cache.cached(1)
	assert.False(t, cached)

	second, err := chat.GetUnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second)

	value, cached := cache.cached(1)
	assert.True(t, cached)
	assert.Equal(t, int64(1), value)
}

func TestMarkAsRead_RejectsSelf(t *testing.T) {
	f := newChatFixture(t, nil)

	_, err := f.chat.MarkAsRead(context.Background(), 1, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func newGormChatService(t *testing.T) *ChatService {
	t.Helper()
	conn, err := db.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	users := repository.NewUserRepository(conn)
	for _, u := range repository.FixtureUsers() {
		u.Password = "hash"
		require.NoError(t, users.Create(context.Background(), &u))
	}
	messages := repository.NewMessageRepository(conn)
	return NewChatService(NewMessageStore(messages, users, 0), NewConversationAggregator(messages, users), nil)
}

func newMemoryChatService() *ChatService {
	users := repository.NewMemoryUserRepository(repository.FixtureUsers()...)
	messages := repository.NewMemoryMessageRepository()
	return NewChatService(NewMessageStore(messages, users, 0), NewConversationAggregator(messages, users), nil)
}

func TestGetChatHistory_HugePageIsEmpty(t *testing.T) {
	services := map[string]func(t *testing.T) *ChatService{
		"gorm":   newGormChatService,
		"memory": func(*testing.T) *ChatService { return newMemoryChatService() },
	}

	for name, build := range services {
		t.Run(name, func(t *testing.T) {
			chat := build(t)
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_, err := chat.SendMessage(ctx, 1, MessageRequest{ReceiverID: 2, Content: fmt.Sprintf("msg %d", i)})
				require.NoError(t, err)
			}

			for _, page := range []int{math.MaxInt, math.MaxInt/200 + 2, 100} {
				history, err := chat.GetChatHistory(ctx, 1, 2, page, 200)
				require.NoError(t, err)
				assert.Empty(t, history.Messages)
				assert.NotNil(t, history.Messages)
				assert.Equal(t, int64(3), history.Total)
				assert.Equal(t, page, history.Page)
				assert.Equal(t, 1, history.Pages)
			}
		})
	}
}

var _ interfaces.MessageRepository = (*countHookRepository)(nil)
