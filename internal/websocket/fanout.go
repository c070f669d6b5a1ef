package websocket

import (
	"context"
	"encoding/json"
)

// DeliverFunc 把跨进程转发过来的事件投递给本进程的在线用户, 返回是否投递成功
type DeliverFunc func(userID uint, event string, data json.RawMessage) bool

// Fanout 把推送转发给其他进程上的连接
type Fanout interface {
	Publish(ctx context.Context, userID uint, event string, payload interface{}) error
	Start(ctx context.Context, deliver DeliverFunc) error
	Close() error
}

// LocalFanout 单进程部署: 不在本进程的用户直接错过实时推送
type LocalFanout struct{}

var _ Fanout = LocalFanout{}

func (LocalFanout) Publish(context.Context, uint, string, interface{}) error { return nil }

func (LocalFanout) Start(context.Context, DeliverFunc) error { return nil }

func (LocalFanout) Close() error { return nil }
