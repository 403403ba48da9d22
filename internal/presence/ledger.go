package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Ledger 在线状态账本：每个用户一条权威记录
// 内存表为权威来源，每次变更穿透写入Store
//
// 并发模型：map整体用读写锁保护，每条记录带独立互斥锁
// 同一用户的变更彼此线性化，不同用户的变更互不阻塞
// 广播在持有记录锁期间完成（扇出为非阻塞发送），
// 保证对外事件只反映已落盘的最终状态
type Ledger struct {
	store    Store
	notifier Notifier
	horizon  time.Duration // 不活跃保留期限

	mu      sync.RWMutex
	entries map[string]*entry

	maxSeen atomic.Int64 // 全账本最大LastSeen（纳秒），用于推算存储TTL

	now func() time.Time
}

// entry 单个用户的账本槽位
type entry struct {
	mu  sync.Mutex
	rec Record
}

// Profile 建立会话所需的身份信息
type Profile struct {
	UserID      string
	Username    string
	DisplayName string
	JoinedAt    time.Time
}

// NewLedger 创建账本
func NewLedger(store Store, notifier Notifier, horizon time.Duration) *Ledger {
	return &Ledger{
		store:    store,
		notifier: notifier,
		horizon:  horizon,
		entries:  make(map[string]*entry),
		now:      time.Now,
	}
}

// WarmUp 进程启动时从存储预热账本
// 预热出的连接绑定必然已失效（进程重启连接已断），交由首次对账清理
func (l *Ledger) WarmUp(ctx context.Context) error {
	recs, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range recs {
		l.entries[rec.UserID] = &entry{rec: rec}
		l.bumpMaxSeen(rec.LastSeen)
	}
	return nil
}

// BeginSession 注册或登录时建立新会话
// 会话ID轮换后旧会话作废；若旧会话仍绑定着连接，
// 通知该连接下线（顶替），本次写入为权威写入，只广播一次
// 首次建立（注册）不广播状态事件，由调用方负责新用户通告
func (l *Ledger) BeginSession(ctx context.Context, prof Profile, sessionID, connID string) (*StatusEvent, bool, error) {
	e := l.entry(prof.UserID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.rec
	created := rec.UserID == ""
	if created {
		rec = Record{
			UserID:      prof.UserID,
			Username:    prof.Username,
			DisplayName: prof.DisplayName,
			JoinedAt:    prof.JoinedAt,
			Status:      StatusOffline,
		}
	}

	superseded := ""
	if rec.ConnID != "" && rec.ConnID != connID {
		superseded = rec.ConnID
	}

	rec.SessionID = sessionID
	rec.ConnID = connID
	if rec.Status == StatusOffline || !rec.Status.Valid() {
		rec.Status = StatusOnline
	}
	rec.touch(l.now())

	if err := l.persist(ctx, rec); err != nil {
		return nil, false, err
	}
	e.rec = rec

	ev := statusEvent(&rec)
	if !created {
		if superseded != "" {
			l.notifier.ForceLogout(superseded)
		}
		l.notifier.Broadcast(ev, connID)
	}
	return ev, created, nil
}

// Connect 已持有效token的连接接入，重新绑定当前会话
// 仅当公开状态发生变化时才广播（如离线转在线）
// 同一会话的旧连接若仍绑定，会被新连接顶替
func (l *Ledger) Connect(ctx context.Context, userID, sessionID, connID string) (*StatusEvent, error) {
	e := l.entry(userID, false)
	if e == nil {
		return nil, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.rec
	if rec.SessionID != sessionID {
		return nil, ErrSessionNotFound
	}

	superseded := ""
	if rec.ConnID != "" && rec.ConnID != connID {
		superseded = rec.ConnID
	}
	before := rec.Status.Public()

	rec.ConnID = connID
	if rec.Status == StatusOffline {
		rec.Status = StatusOnline
	}
	rec.touch(l.now())

	if err := l.persist(ctx, rec); err != nil {
		return nil, err
	}
	e.rec = rec

	if superseded != "" {
		l.notifier.ForceLogout(superseded)
	}
	if after := rec.Status.Public(); after != before {
		ev := statusEvent(&rec)
		l.notifier.Broadcast(ev, connID)
		return ev, nil
	}
	return nil, nil
}

// SetStatus 显式修改状态意图
// 只有真实在线的进出才重新盖戳，away与appear-away之间的横向切换不盖
func (l *Ledger) SetStatus(ctx context.Context, userID, connID string, s Status) (*StatusEvent, error) {
	if !s.Settable() {
		return nil, ErrInvalidStatus
	}
	e := l.entry(userID, false)
	if e == nil {
		return nil, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.rec
	if rec.ConnID == "" || rec.ConnID != connID {
		return nil, ErrNotBound
	}

	before := rec.Status.Public()
	if s == StatusOnline || rec.Status == StatusOnline {
		rec.touch(l.now())
	}
	rec.Status = s

	if err := l.persist(ctx, rec); err != nil {
		return nil, err
	}
	e.rec = rec

	if after := rec.Status.Public(); after != before {
		ev := statusEvent(&rec)
		l.notifier.Broadcast(ev, connID)
		return ev, nil
	}
	return nil, nil
}

// Disconnect 连接断开（干净断开路径）
// 只有仍为绑定连接时才生效：被顶替的旧连接断开不会影响新会话
func (l *Ledger) Disconnect(ctx context.Context, userID, connID string) (*StatusEvent, error) {
	e := l.entry(userID, false)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.rec
	if rec.ConnID != connID {
		return nil, ErrNotBound
	}

	before := rec.Status.Public()
	rec.ConnID = ""
	rec.Status = StatusOffline
	rec.touch(l.now())

	if err := l.persist(ctx, rec); err != nil {
		return nil, err
	}
	e.rec = rec

	if after := rec.Status.Public(); after != before {
		ev := statusEvent(&rec)
		l.notifier.Broadcast(ev, "")
		return ev, nil
	}
	return nil, nil
}

// Logout 显式登出：清除绑定并转为离线，始终广播
func (l *Ledger) Logout(ctx context.Context, userID string) (*StatusEvent, error) {
	e := l.entry(userID, false)
	if e == nil {
		return nil, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.rec
	exclude := rec.ConnID
	rec.ConnID = ""
	rec.Status = StatusOffline
	rec.touch(l.now())

	if err := l.persist(ctx, rec); err != nil {
		return nil, err
	}
	e.rec = rec

	ev := statusEvent(&rec)
	l.notifier.Broadcast(ev, exclude)
	return ev, nil
}

// Get 读取单个用户的记录副本（含原始意图，仅供本人查看）
func (l *Ledger) Get(userID string) (Record, bool) {
	e := l.entry(userID, false)
	if e == nil {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.UserID == "" {
		return Record{}, false
	}
	return e.rec, true
}

// Users 账本快照（排除指定用户），按用户名排序
// 调用方负责脱敏为公开状态后再下发
func (l *Ledger) Users(excludeUserID string) []Record {
	l.mu.RLock()
	snapshot := make([]*entry, 0, len(l.entries))
	for id, e := range l.entries {
		if id != excludeUserID {
			snapshot = append(snapshot, e)
		}
	}
	l.mu.RUnlock()

	out := make([]Record, 0, len(snapshot))
	for _, e := range snapshot {
		e.mu.Lock()
		if e.rec.UserID != "" {
			out = append(out, e.rec)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// HasActiveUser 判断用户名是否被未清除的账号占用（注册查重用）
func (l *Ledger) HasActiveUser(username string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		e.mu.Lock()
		match := e.rec.Username == username
		e.mu.Unlock()
		if match {
			return true
		}
	}
	return false
}

// entry 获取用户槽位，create为真时不存在则创建
func (l *Ledger) entry(userID string, create bool) *entry {
	l.mu.RLock()
	e := l.entries[userID]
	l.mu.RUnlock()
	if e != nil || !create {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e = l.entries[userID]; e == nil {
		e = &entry{}
		l.entries[userID] = e
	}
	return e
}

// persist 穿透写入存储，乐观冲突重试一次
func (l *Ledger) persist(ctx context.Context, rec Record) error {
	ttl := l.ttl(rec.LastSeen)
	err := l.store.Put(ctx, rec, ttl)
	if errors.Is(err, ErrConflict) {
		err = l.store.Put(ctx, rec, ttl)
	}
	if err != nil {
		return wrapStore(err)
	}
	return nil
}

// ttl 推算存储保留时间：全账本最大LastSeen + 保留期限 - 当前时间
// 保证存活会话不会被存储提前逐出
func (l *Ledger) ttl(candidate time.Time) time.Duration {
	l.bumpMaxSeen(candidate)
	ttl := time.Unix(0, l.maxSeen.Load()).Add(l.horizon).Sub(l.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// bumpMaxSeen 单调推进全账本最大LastSeen
func (l *Ledger) bumpMaxSeen(t time.Time) {
	ns := t.UnixNano()
	for {
		cur := l.maxSeen.Load()
		if ns <= cur || l.maxSeen.CompareAndSwap(cur, ns) {
			return
		}
	}
}
