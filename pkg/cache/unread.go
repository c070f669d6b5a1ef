// Package cache 基于 Redis 的未读数缓存
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"campus-chat/pkg/config"

	"github.com/redis/go-redis/v9"
)

const (
	PrefixUnread        = "chat:unread:"
	PrefixUnreadVersion = "chat:unread:ver:"
	DefaultUnreadTTL    = 5 * time.Minute
	// 版本号要比缓存值活得久
	VersionTTL = 24 * time.Hour
)

// RedisUnreadCache 实现 interfaces.UnreadCache
type RedisUnreadCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

func NewRedisUnreadCache(client *redis.Client, ttl time.Duration) *RedisUnreadCache {
	if ttl < time.Millisecond {
		ttl = DefaultUnreadTTL
	}
	return &RedisUnreadCache{client: client, ttl: ttl}
}

func UnreadKey(userID uint) string {
	return PrefixUnread + strconv.FormatUint(uint64(userID), 10)
}

// UnreadVersionKey 每次失效都会自增的版本号
func UnreadVersionKey(userID uint) string {
	return PrefixUnreadVersion + strconv.FormatUint(uint64(userID), 10)
}

// 版本号未变才写入, 避免把失效之前读到的旧值写回
var setUnreadScript = redis.NewScript(`
local version = redis.call('GET', KEYS[2]) or '0'
if version ~= ARGV[1] then
    return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// 删除缓存值并自增版本号, 两步在同一个脚本里完成
var invalidateUnreadScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return 1
`)

func (c *RedisUnreadCache) GetUnread(ctx context.Context, userID uint) (int64, bool, error) {
	count, err := c.client.Get(ctx, UnreadKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (c *RedisUnreadCache) UnreadVersion(ctx context.Context, userID uint) (int64, error) {
	version, err := c.client.Get(ctx, UnreadVersionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

// SetUnread 只有版本号仍等于 version 时才写入, 返回是否写入
func (c *RedisUnreadCache) SetUnread(ctx context.Context, userID uint, count, version int64) (bool, error) {
	stored, err := setUnreadScript.Run(ctx, c.client,
		[]string{UnreadKey(userID), UnreadVersionKey(userID)},
		strconv.FormatInt(version, 10), count, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (c *RedisUnreadCache) InvalidateUnread(ctx context.Context, userIDs ...uint) error {
	var errs []error
	for _, id := range userIDs {
		err := invalidateUnreadScript.Run(ctx, c.client,
			[]string{UnreadKey(id), UnreadVersionKey(id)},
			VersionTTL.Milliseconds(),
		).Err()
		if err != nil {
			errs = append(errs, fmt.Errorf("invalidate unread %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *RedisUnreadCache) Close() error {
	return c.client.Close()
}
