package presence

import (
	"context"
)

// SweepResult 一次对账的结果
type SweepResult struct {
	Offline []string // 本次被判定为隐式断开的用户
	Purged  []string // 超过保留期限被清除的用户
}

// Sweep 将账本与实际存活的连接对账
// 连接已死但未走断开流程的记录按隐式断开处理并广播
// LastSeen超过保留期限的记录整条清除（硬清除，不是置离线）
// 对账在注册、登录时机会式执行，也可由定时器驱动
func (l *Ledger) Sweep(ctx context.Context, live map[string]struct{}) (SweepResult, error) {
	var result SweepResult

	l.mu.RLock()
	type item struct {
		id string
		e  *entry
	}
	snapshot := make([]item, 0, len(l.entries))
	for id, e := range l.entries {
		snapshot = append(snapshot, item{id: id, e: e})
	}
	l.mu.RUnlock()

	for _, it := range snapshot {
		it.e.mu.Lock()
		rec := it.e.rec
		now := l.now()

		// 先判清除：陈旧记录直接删，不再走离线转换
		if rec.UserID == "" || now.Sub(rec.LastSeen) > l.horizon {
			if rec.UserID != "" {
				if err := l.store.Delete(ctx, rec.UserID); err != nil {
					it.e.mu.Unlock()
					return result, wrapStore(err)
				}
				result.Purged = append(result.Purged, rec.UserID)
			}
			it.e.rec = Record{}
			it.e.mu.Unlock()
			continue
		}

		// 连接已死：隐式断开
		if rec.ConnID != "" {
			if _, ok := live[rec.ConnID]; !ok {
				before := rec.Status.Public()
				rec.ConnID = ""
				rec.Status = StatusOffline
				rec.touch(now)
				if err := l.persist(ctx, rec); err != nil {
					it.e.mu.Unlock()
					return result, err
				}
				it.e.rec = rec
				result.Offline = append(result.Offline, rec.UserID)
				if rec.Status.Public() != before {
					l.notifier.Broadcast(statusEvent(&rec), "")
				}
			}
		}

		it.e.mu.Unlock()
	}

	// 摘除已清空的槽位并重算TTL基准
	// 重算覆盖对账期间新建的槽位（建槽要拿map写锁，这里已持有）
	// 只用一次CAS下调：对账中途有登录推高过基准就让步，不回退别人的新值
	if len(snapshot) > 0 {
		l.mu.Lock()
		var maxNs int64
		for id, e := range l.entries {
			e.mu.Lock()
			if e.rec.UserID == "" {
				delete(l.entries, id)
			} else if ns := e.rec.LastSeen.UnixNano(); ns > maxNs {
				maxNs = ns
			}
			e.mu.Unlock()
		}
		if cur := l.maxSeen.Load(); maxNs < cur {
			l.maxSeen.CompareAndSwap(cur, maxNs)
		}
		l.mu.Unlock()
	}

	return result, nil
}
