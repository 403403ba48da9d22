package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 内存版存储实现
// 单机部署无Redis时可用，也是测试的默认实现
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record

	// putErr 注入写入错误（测试冲突重试路径用）
	putErr func(rec Record) error

	// onDelete 删除前回调（测试对账与其他写入交错用），在持锁前调用
	onDelete func(userIDs []string)
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

// Load 读取全部记录
func (s *MemoryStore) Load(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	return out, nil
}

// Put 写入单个记录（内存实现忽略ttl）
func (s *MemoryStore) Put(ctx context.Context, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		if err := s.putErr(rec); err != nil {
			return err
		}
	}
	s.recs[rec.UserID] = rec
	return nil
}

// Delete 删除记录
func (s *MemoryStore) Delete(ctx context.Context, userIDs ...string) error {
	if s.onDelete != nil {
		s.onDelete(userIDs)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range userIDs {
		delete(s.recs, id)
	}
	return nil
}
