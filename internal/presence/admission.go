package presence

import (
	"context"
	"fmt"
	"time"
)

// Claims 凭证校验后得到的声明
type Claims struct {
	UserID    string
	SessionID string
	IssuedAt  time.Time
}

// Verifier 凭证校验能力（由外部签发方提供，本核心只消费）
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// Policy token无效时的准入策略
// 历史实现各调用点策略不一，这里收敛为单一配置项
type Policy string

const (
	// PolicyReject 拒绝连接
	PolicyReject Policy = "reject"
	// PolicyAnonymous 放行为匿名连接（不绑定任何在场状态）
	PolicyAnonymous Policy = "anonymous"
)

// Identity 准入成功后的身份
type Identity struct {
	UserID    string
	SessionID string
}

// Admission 会话准入控制器
// 校验连接携带的凭证并重新绑定对应会话
type Admission struct {
	verifier Verifier
	ledger   *Ledger
	policy   Policy
	timeout  time.Duration
}

// NewAdmission 创建准入控制器
func NewAdmission(verifier Verifier, ledger *Ledger, policy Policy, timeout time.Duration) *Admission {
	if policy != PolicyAnonymous {
		policy = PolicyReject
	}
	return &Admission{verifier: verifier, ledger: ledger, policy: policy, timeout: timeout}
}

// Policy 当前的准入策略
func (a *Admission) Policy() Policy { return a.policy }

// Admit 对一个入站连接做准入判定
// token为空：匿名连接，返回nil身份，不做任何绑定
// token无效：ErrBadToken；会话已清除或轮换：ErrSessionNotFound
// 成功：重绑连接、刷新LastSeen，必要时触发状态广播
func (a *Admission) Admit(ctx context.Context, token, connID string) (*Identity, error) {
	if token == "" {
		return nil, nil
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	claims, err := a.verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}

	if _, err := a.ledger.Connect(ctx, claims.UserID, claims.SessionID, connID); err != nil {
		return nil, err
	}
	return &Identity{UserID: claims.UserID, SessionID: claims.SessionID}, nil
}
