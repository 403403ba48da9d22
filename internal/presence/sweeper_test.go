package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepImplicitDisconnect(t *testing.T) {
	ld, _, notifier, _ := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	_, err = ld.Connect(ctx, "u1", "sess1", "c1")
	require.NoError(t, err)
	base := notifier.eventCount()

	// 连接未出现在存活集合里：按隐式断开处理，广播一次离线
	result, err := ld.Sweep(ctx, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, result.Offline)
	assert.Empty(t, result.Purged)
	assert.Equal(t, base+1, notifier.eventCount())
	assert.Equal(t, StatusOffline, notifier.lastEvent().Status)

	rec, ok := ld.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "", rec.ConnID)
	assert.Equal(t, StatusOffline, rec.Status)

	// 再次对账应当无事发生
	result, err = ld.Sweep(ctx, map[string]struct{}{})
	require.NoError(t, err)
	assert.Empty(t, result.Offline)
	assert.Empty(t, result.Purged)
}

func TestSweepKeepsLiveConnections(t *testing.T) {
	ld, _, _, _ := newTestLedger(14 * 24 * time.Hour)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	_, err = ld.Connect(ctx, "u1", "sess1", "c1")
	require.NoError(t, err)

	result, err := ld.Sweep(ctx, map[string]struct{}{"c1": {}})
	require.NoError(t, err)
	assert.Empty(t, result.Offline)
	assert.Empty(t, result.Purged)

	rec, _ := ld.Get("u1")
	assert.Equal(t, "c1", rec.ConnID)
	assert.Equal(t, StatusOnline, rec.Status)
}

func TestSweepPurgesBeyondHorizon(t *testing.T) {
	horizon := 14 * 24 * time.Hour
	ld, store, _, clock := newTestLedger(horizon)
	ctx := context.Background()

	// stale 最后活跃后超出保留期限，fresh 尚在期限内
	_, _, err := ld.BeginSession(ctx, testProfile("stale"), "sess-stale", "")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	_, _, err = ld.BeginSession(ctx, testProfile("fresh"), "sess-fresh", "")
	require.NoError(t, err)

	clock.Advance(horizon - time.Hour)
	result, err := ld.Sweep(ctx, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, result.Purged)

	// 硬清除：账本和存储都不再有这条记录
	_, ok := ld.Get("stale")
	assert.False(t, ok)
	recs, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fresh", recs[0].UserID)

	// 清除后用户名可被重新注册
	assert.False(t, ld.HasActiveUser("stale"))
	assert.True(t, ld.HasActiveUser("fresh"))
}

func TestSweepHorizonBoundary(t *testing.T) {
	horizon := 14 * 24 * time.Hour
	ld, _, _, clock := newTestLedger(horizon)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)

	// 恰好等于保留期限：保留
	clock.Advance(horizon)
	result, err := ld.Sweep(ctx, map[string]struct{}{})
	require.NoError(t, err)
	assert.Empty(t, result.Purged)
	_, ok := ld.Get("u1")
	assert.True(t, ok)

	// 再过一秒：清除
	clock.Advance(time.Second)
	result, err = ld.Sweep(ctx, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, result.Purged)
	_, ok = ld.Get("u1")
	assert.False(t, ok)
}

func TestSweepResetsTTLBaseAfterFullPurge(t *testing.T) {
	horizon := 14 * 24 * time.Hour
	ld, _, _, clock := newTestLedger(horizon)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)

	clock.Advance(horizon + time.Hour)
	result, err := ld.Sweep(ctx, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, result.Purged)

	// 账本清空后TTL基准归零，而不是零值时间的纳秒数
	assert.Equal(t, int64(0), ld.maxSeen.Load())
}

func TestSweepKeepsTTLBaseRaisedDuringSweep(t *testing.T) {
	horizon := 14 * 24 * time.Hour
	ld, store, _, clock := newTestLedger(horizon)
	ctx := context.Background()

	_, _, err := ld.BeginSession(ctx, testProfile("stale"), "sess-stale", "")
	require.NoError(t, err)

	clock.Advance(horizon + time.Hour)

	// 清除stale的存储删除还没落定时有新用户登录
	store.onDelete = func(userIDs []string) {
		_, _, err := ld.BeginSession(ctx, testProfile("fresh"), "sess-fresh", "")
		require.NoError(t, err)
	}

	result, err := ld.Sweep(ctx, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, result.Purged)

	// 新用户的LastSeen就是TTL基准，不被对账的重算回退
	assert.Equal(t, clock.Now().UnixNano(), ld.maxSeen.Load())
	rec, ok := ld.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), rec.LastSeen)
}

func TestSweepClearsStaleWarmUpBindings(t *testing.T) {
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	clock := newTestClock()
	ctx := context.Background()

	first := NewLedger(store, notifier, 14*24*time.Hour)
	first.now = clock.Now
	_, _, err := first.BeginSession(ctx, testProfile("u1"), "sess1", "")
	require.NoError(t, err)
	_, err = first.Connect(ctx, "u1", "sess1", "c1")
	require.NoError(t, err)

	// 进程重启：预热出的绑定已失效，首次对账应清理
	second := NewLedger(store, notifier, 14*24*time.Hour)
	second.now = clock.Now
	require.NoError(t, second.WarmUp(ctx))

	result, err := second.Sweep(ctx, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, result.Offline)

	rec, ok := second.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "", rec.ConnID)
	assert.Equal(t, StatusOffline, rec.Status)
}
