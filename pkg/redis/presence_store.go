package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"breezy-server/internal/presence"

	"github.com/redis/go-redis/v9"
)

// 在线状态账本相关key
const (
	PresenceKeyPrefix = "breezy:presence:user:" // 单用户记录key前缀
	PresenceSetKey    = "breezy:presence:users" // 账本成员集合key
)

// PresenceStore 账本的Redis存储实现
// 每个用户一条独立的JSON记录，写入按key原子生效
// 账本级TTL由调用方推算后传入，成员集合与记录同寿
type PresenceStore struct {
	client *redis.Client
}

// NewPresenceStore 创建账本存储
func NewPresenceStore() (*PresenceStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis客户端未初始化")
	}
	return &PresenceStore{client: client}, nil
}

// Load 读取全部存活记录
// 记录key已过期但集合里还挂着的成员顺手摘除
func (s *PresenceStore) Load(ctx context.Context) ([]presence.Record, error) {
	ids, err := s.client.SMembers(ctx, PresenceSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: 读取成员集合失败: %v", presence.ErrStore, err)
	}

	var recs []presence.Record
	for _, id := range ids {
		data, err := s.client.Get(ctx, PresenceKeyPrefix+id).Result()
		if err == redis.Nil {
			s.client.SRem(ctx, PresenceSetKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: 读取用户记录失败: %v", presence.ErrStore, err)
		}
		var rec presence.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("%w: 反序列化用户记录失败: %v", presence.ErrStore, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Put 写入单个用户的记录
func (s *PresenceStore) Put(ctx context.Context, rec presence.Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: 序列化用户记录失败: %v", presence.ErrStore, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, PresenceKeyPrefix+rec.UserID, data, ttl)
	pipe.SAdd(ctx, PresenceSetKey, rec.UserID)
	pipe.Expire(ctx, PresenceSetKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: 写入用户记录失败: %v", presence.ErrStore, err)
	}
	return nil
}

// Delete 删除指定用户的记录
func (s *PresenceStore) Delete(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	members := make([]interface{}, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, PresenceKeyPrefix+id)
		members = append(members, id)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, PresenceSetKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: 删除用户记录失败: %v", presence.ErrStore, err)
	}
	return nil
}
