package presence

// Status 会话状态（持久化意图）
// online/away/offline 为真实状态
// appear-away/appear-offline 为用户主动设置的伪装状态，重连后保留
type Status string

const (
	StatusOnline        Status = "online"
	StatusAway          Status = "away"
	StatusOffline       Status = "offline"
	StatusAppearAway    Status = "appear-away"
	StatusAppearOffline Status = "appear-offline"
)

// Valid 判断是否为合法状态值
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline, StatusAppearAway, StatusAppearOffline:
		return true
	}
	return false
}

// Settable 判断是否为用户可主动设置的状态
// 只允许 online/appear-away/appear-offline，真实的 away/offline 由系统推导
func (s Status) Settable() bool {
	switch s {
	case StatusOnline, StatusAppearAway, StatusAppearOffline:
		return true
	}
	return false
}

// Public 对其他用户可见的状态
// 伪装状态按伪装后的值展示，用户自己仍能看到原始意图
func (s Status) Public() Status {
	switch s {
	case StatusAppearAway:
		return StatusAway
	case StatusAppearOffline:
		return StatusOffline
	default:
		return s
	}
}

// Present 判断状态是否属于"在场"（允许绑定连接）
func (s Status) Present() bool {
	switch s {
	case StatusOnline, StatusAppearAway, StatusAppearOffline:
		return true
	}
	return false
}
