package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNotifier 记录扇出调用，供断言用
type fakeNotifier struct {
	mu       sync.Mutex
	events   []*StatusEvent
	excludes []string
	forced   []string
}

func (f *fakeNotifier) Broadcast(ev *StatusEvent, excludeConnID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	f.excludes = append(f.excludes, excludeConnID)
}

func (f *fakeNotifier) ForceLogout(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, connID)
}

func (f *fakeNotifier) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeNotifier) lastEvent() *StatusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}

func (f *fakeNotifier) forcedConns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.forced...)
}

// testClock 可拨动的时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLedger(horizon time.Duration) (*Ledger, *MemoryStore, *fakeNotifier, *testClock) {
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	clock := newTestClock()
	ld := NewLedger(store, notifier, horizon)
	ld.now = clock.Now
	return ld, store, notifier, clock
}

func testProfile(userID string) Profile {
	return Profile{
		UserID:      userID,
		Username:    userID,
		DisplayName: "User " + userID,
		JoinedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestBeginSessionNewUser(t *testing.T) {
	ld, store, notifier, clock := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	ev, created, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, ev)
	assert.Equal(t, StatusOnline, ev.Status)

	// 首次建立由调用方通告新用户，账本不广播状态事件
	assert.Equal(t, 0, notifier.eventCount())
	assert.Empty(t, notifier.forcedConns())

	rec, ok := ld.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "sess1", rec.SessionID)
	assert.Equal(t, "", rec.ConnID)
	assert.Equal(t, StatusOnline, rec.Status)
	assert.Equal(t, clock.Now(), rec.LastSeen)

	// 穿透写入存储
	recs, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "u1", recs[0].UserID)
}

func TestBeginSessionRotatesAndSupersedes(t *testing.T) {
	ld, _, notifier, _ := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	_, err = ld.Connect(ctx, "u1", "sess1", "c1")
	require.NoError(t, err)
	base := notifier.eventCount()

	// 第二次登录：会话轮换，旧连接被顶替，只广播一次
	_, created, err := ld.BeginSession(ctx, testProfile("u1"), "sess2", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"c1"}, notifier.forcedConns())
	assert.Equal(t, base+1, notifier.eventCount())

	rec, ok := ld.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "sess2", rec.SessionID)

	// 旧会话token已失效
	_, err = ld.Connect(ctx, "u1", "sess1", "c2")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// 新会话接入；在线转在线，公开状态无变化，不再广播
	_, err = ld.Connect(ctx, "u1", "sess2", "c2")
	require.NoError(t, err)
	assert.Equal(t, base+1, notifier.eventCount())

	// 被顶替的旧连接随后断开，不能解绑新连接
	_, err = ld.Disconnect(ctx, "u1", "c1")
	assert.ErrorIs(t, err, ErrNotBound)
	rec, _ = ld.Get("u1")
	assert.Equal(t, "c2", rec.ConnID)
}

func TestConnectUnknownUser(t *testing.T) {
	ld, _, _, _ := newTestLedger(14 * 24 * time.Hour)
	_, err := ld.Connect(context.Background(), "ghost", "sess1", "c1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConnectAfterOfflineBroadcastsOnline(t *testing.T) {
	ld, _, _, clock := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	_, err = ld.Connect(ctx, "u1", "sess1", "c1")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	ev, err := ld.Disconnect(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, StatusOffline, ev.Status)

	// 离线转在线必须广播
	clock.Advance(time.Minute)
	ev, err = ld.Connect(ctx, "u1", "sess1", "c2")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, StatusOnline, ev.Status)
	assert.Equal(t, clock.Now(), ev.LastSeen)
}

func TestConnectKeepsPersistedIntent(t *testing.T) {
	ld, _, notifier, _ := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	_, err = ld.Connect(ctx, "u1", "sess1", "c1")
	require.NoError(t, err)
	_, err = ld.SetStatus(ctx, "u1", "c1", StatusAppearOffline)
	require.NoError(t, err)
	base := notifier.eventCount()

	// 同会话换连接接入：伪装意图保留，公开状态无变化，不广播
	ev, err := ld.Connect(ctx, "u1", "sess1", "c2")
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, base, notifier.eventCount())

	rec, _ := ld.Get("u1")
	assert.Equal(t, StatusAppearOffline, rec.Status)
	assert.Equal(t, "c2", rec.ConnID)
}

func TestSetStatusValidation(t *testing.T) {
	ld, _, _, _ := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	_, err = ld.Connect(ctx, "u1", "sess1", "c1")
	require.NoError(t, err)

	// 真实away/offline不可主动设置
	_, err = ld.SetStatus(ctx, "u1", "c1", StatusAway)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = ld.SetStatus(ctx, "u1", "c1", StatusOffline)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = ld.SetStatus(ctx, "u1", "c1", Status("invisible"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	// 非绑定连接不可改状态
	_, err = ld.SetStatus(ctx, "u1", "stale-conn", StatusAppearAway)
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestSetStatusBroadcastAndStamping(t *testing.T) {
	ld, _, notifier, clock := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	_, err = ld.Connect(ctx, "u1", "sess1", "c1")
	require.NoError(t, err)

	// online -> appear-away：离开真实在线，重新盖戳并广播公开away
	clock.Advance(time.Minute)
	ev, err := ld.SetStatus(ctx, "u1", "c1", StatusAppearAway)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, StatusAway, ev.Status)
	stamp := clock.Now()
	rec, _ := ld.Get("u1")
	assert.Equal(t, stamp, rec.LastSeen)

	// appear-away -> appear-offline：横向切换不盖戳，但公开状态变了要广播
	clock.Advance(time.Minute)
	ev, err = ld.SetStatus(ctx, "u1", "c1", StatusAppearOffline)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, StatusOffline, ev.Status)
	rec, _ = ld.Get("u1")
	assert.Equal(t, stamp, rec.LastSeen, "lateral switch must not re-stamp")

	// 回到真实在线：重新盖戳并广播
	clock.Advance(time.Minute)
	ev, err = ld.SetStatus(ctx, "u1", "c1", StatusOnline)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, StatusOnline, ev.Status)
	rec, _ = ld.Get("u1")
	assert.Equal(t, clock.Now(), rec.LastSeen)

	// 重复设置同一状态：无公开变化，不广播
	base := notifier.eventCount()
	ev, err = ld.SetStatus(ctx, "u1", "c1", StatusOnline)
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, base, notifier.eventCount())
}

func TestLogoutAlwaysBroadcasts(t *testing.T) {
	ld, _, notifier, _ := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	_, err := ld.Logout(ctx, "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	_, err = ld.Connect(ctx, "u1", "sess1", "c1")
	require.NoError(t, err)
	_, err = ld.Disconnect(ctx, "u1", "c1")
	require.NoError(t, err)
	base := notifier.eventCount()

	// 已离线再登出：公开状态无变化也要广播
	ev, err := ld.Logout(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, StatusOffline, ev.Status)
	assert.Equal(t, base+1, notifier.eventCount())
}

func TestLastSeenMonotonic(t *testing.T) {
	ld, _, _, clock := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	rec, _ := ld.Get("u1")
	stamp := rec.LastSeen

	// 时钟回拨后LastSeen不得倒退
	clock.Advance(-time.Hour)
	_, err = ld.Connect(ctx, "u1", "sess1", "c1")
	require.NoError(t, err)
	rec, _ = ld.Get("u1")
	assert.Equal(t, stamp, rec.LastSeen)
}

func TestPersistRetriesOnConflict(t *testing.T) {
	ld, store, _, _ := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	calls := 0
	store.putErr = func(rec Record) error {
		calls++
		if calls == 1 {
			return ErrConflict
		}
		return nil
	}

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPersistFailureSurfacesErrStore(t *testing.T) {
	ld, store, notifier, _ := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	store.putErr = func(rec Record) error { return errors.New("connection refused") }

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	assert.ErrorIs(t, err, ErrStore)
	// 写入失败不得广播
	assert.Equal(t, 0, notifier.eventCount())
	// 账本不留半成品记录
	_, ok := ld.Get("u1")
	assert.False(t, ok)
}

func TestUsersSnapshot(t *testing.T) {
	ld, _, _, _ := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	for _, id := range []string{"carol", "alice", "bob"} {
		_, _, err := ld.BeginSession(ctx, testProfile(id), "sess-"+id, "")
		require.NoError(t, err)
	}

	recs := ld.Users("bob")
	require.Len(t, recs, 2)
	assert.Equal(t, "alice", recs[0].Username)
	assert.Equal(t, "carol", recs[1].Username)
}

func TestHasActiveUser(t *testing.T) {
	ld, _, _, _ := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("alice"), "sess1", "")
	require.NoError(t, err)

	assert.True(t, ld.HasActiveUser("alice"))
	assert.False(t, ld.HasActiveUser("bob"))
}

func TestWarmUpRestoresLedger(t *testing.T) {
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	clock := newTestClock()

	first := NewLedger(store, notifier, 14*24*time.Hour)
	first.now = clock.Now
	ctx := context.Background()
	_, _, err := first.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)

	// 新进程从同一存储预热
	second := NewLedger(store, notifier, 14*24*time.Hour)
	second.now = clock.Now
	require.NoError(t, second.WarmUp(ctx))

	rec, ok := second.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "sess1", rec.SessionID)
	assert.Equal(t, StatusOnline, rec.Status)

	// 预热后旧会话仍可接入
	_, err = second.Connect(ctx, "u1", "sess1", "c1")
	require.NoError(t, err)
}

func TestConcurrentUsersIndependent(t *testing.T) {
	ld, _, _, _ := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%02d", i)
			sess := "sess-" + id
			conn := "c-" + id
			if _, _, err := ld.BeginSession(ctx, testProfile(id), sess, ""); err != nil {
				t.Error(err)
				return
			}
			if _, err := ld.Connect(ctx, id, sess, conn); err != nil {
				t.Error(err)
				return
			}
			if _, err := ld.SetStatus(ctx, id, conn, StatusAppearAway); err != nil {
				t.Error(err)
				return
			}
			if _, err := ld.Disconnect(ctx, id, conn); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	recs := ld.Users("")
	require.Len(t, recs, n)
	for _, rec := range recs {
		assert.Equal(t, StatusOffline, rec.Status)
		assert.Equal(t, "", rec.ConnID)
	}
}
