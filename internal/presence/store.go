package presence

import (
	"context"
	"time"
)

// Store 账本的持久化契约
// 实现方保证 Put/Delete 对单个用户key原子生效
// ttl 为整个账本的保留期限，由账本在每次写入后重新推算
type Store interface {
	// Load 读取全部存活记录（进程启动时预热用）
	Load(ctx context.Context) ([]Record, error)
	// Put 写入单个用户的记录
	Put(ctx context.Context, rec Record, ttl time.Duration) error
	// Delete 删除指定用户的记录
	Delete(ctx context.Context, userIDs ...string) error
}
