package presence

import "time"

// Record 账本记录：每个用户一条
// 身份信息 + 当前会话 + 状态意图 + 最近在线时间
type Record struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`     // 已转小写的唯一登录名
	DisplayName string    `json:"display_name"` // 展示名
	JoinedAt    time.Time `json:"joined_at"`    // 注册时间
	SessionID   string    `json:"session_id"`   // 当前会话ID，每次登录重新生成
	ConnID      string    `json:"conn_id"`      // 绑定的连接ID，断开后为空
	Status      Status    `json:"status"`       // 持久化意图
	LastSeen    time.Time `json:"last_seen"`    // 最近在线时间，单调不减
}

// touch 推进最近在线时间（只允许向前）
func (r *Record) touch(now time.Time) {
	if now.After(r.LastSeen) {
		r.LastSeen = now
	}
}

// StatusEvent 状态变更事件（对外广播用，已做意图脱敏）
type StatusEvent struct {
	UserID   string    `json:"user_id"`
	Status   Status    `json:"status"` // 公开状态，不含appear前缀
	LastSeen time.Time `json:"last_seen"`
}

// statusEvent 从记录生成公开事件
func statusEvent(r *Record) *StatusEvent {
	return &StatusEvent{
		UserID:   r.UserID,
		Status:   r.Status.Public(),
		LastSeen: r.LastSeen,
	}
}

// Notifier 状态变更的扇出通道
// Broadcast 对所有其他连接广播，尽力而为，不排队不重试
// ForceLogout 仅通知被顶替的旧连接主动断开
type Notifier interface {
	Broadcast(ev *StatusEvent, excludeConnID string)
	ForceLogout(connID string)
}
