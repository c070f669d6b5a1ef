package websocket

import (
	"sort"
	"sync"

	"campus-chat/internal/metrics"
)

// Conn 一个已认证的实时连接句柄, 与底层传输无关
type Conn interface {
	ID() string
	UserID() uint
	Send(event string, payload interface{}) error
	Close()
}

// Registry 用户ID到当前连接的映射, 每个用户同时只绑定一个连接
type Registry struct {
	mu    sync.RWMutex
	conns map[uint]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint]Conn)}
}

// Bind 绑定或替换用户的连接, 返回被替换的旧连接(可能为nil)
func (r *Registry) Bind(userID uint, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.conns[userID]
	r.conns[userID] = conn
	metrics.OnlineUsers.Set(float64(len(r.conns)))
	return previous
}

// Unbind 仅当当前绑定的正是 conn 时才移除, 迟到的断开事件不会踢掉新连接
func (r *Registry) Unbind(userID uint, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[userID]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, userID)
	metrics.OnlineUsers.Set(float64(len(r.conns)))
	return true
}

func (r *Registry) Lookup(userID uint) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) IsOnline(userID uint) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// OnlineUsers 当前在线的用户ID, 升序
func (r *Registry) OnlineUsers() []uint {
	r.mu.RLock()
	ids := make([]uint, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
