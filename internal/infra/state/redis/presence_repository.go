// Package redisstate 提供基于 Redis 的实时状态存储实现。
package redisstate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisPresenceRepository 是 PresenceRepository 接口的 Redis 实现。
// 每个房间一个 Set，成员是在线用户的 ID。该数据只是 Hub 注册状态的
// 镜像，进程重启后随客户端重新连接而重建。
type RedisPresenceRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisPresenceRepository 创建 RedisPresenceRepository 实例
func NewRedisPresenceRepository(client *redis.Client, keyPrefix string) *RedisPresenceRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisPresenceRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "cb:" // 默认前缀 "cb:" (chatterbox)
	}
	return &RedisPresenceRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisPresenceRepository) roomOnlineKey(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:online", r.keyPrefix, roomID)
}

// MarkOnline 将用户加入房间的在线集合
func (r *RedisPresenceRepository) MarkOnline(ctx context.Context, roomID uint, userID uint) error {
	key := r.roomOnlineKey(roomID)
	if err := r.client.SAdd(ctx, key, userID).Err(); err != nil {
		return fmt.Errorf("redis: mark user %d online in room %d: %w", userID, roomID, err)
	}
	return nil
}

// MarkOffline 将用户从房间的在线集合移除。
// SRem 对不存在的成员是无操作，天然幂等。
func (r *RedisPresenceRepository) MarkOffline(ctx context.Context, roomID uint, userID uint) error {
	key := r.roomOnlineKey(roomID)
	if err := r.client.SRem(ctx, key, userID).Err(); err != nil {
		return fmt.Errorf("redis: mark user %d offline in room %d: %w", userID, roomID, err)
	}
	return nil
}

// ListOnline 返回房间当前在线的用户 ID 集合
func (r *RedisPresenceRepository) ListOnline(ctx context.Context, roomID uint) ([]uint, error) {
	key := r.roomOnlineKey(roomID)
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list online users for room %d: %w", roomID, err)
	}
	userIDs := make([]uint, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 32)
		if err != nil {
			// 跳过损坏的成员值，不让单个坏 key 影响整个列表
			logrus.WithField("member", m).Warn("Presence set contains non-numeric member, skipping")
			continue
		}
		userIDs = append(userIDs, uint(id))
	}
	return userIDs, nil
}
