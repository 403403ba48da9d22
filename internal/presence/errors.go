package presence

import (
	"errors"
	"fmt"
)

// 在线状态引擎错误分类
// 校验类与准入类错误在边界处理，不会触及账本
// 存储类错误表示本次操作失败，调用方可重试
var (
	// ErrInvalidStatus 非法的状态值
	ErrInvalidStatus = errors.New("presence: invalid status")
	// ErrBadToken token缺失、格式错误或已过期
	ErrBadToken = errors.New("presence: bad token")
	// ErrSessionNotFound token合法但会话已被清除或轮换
	ErrSessionNotFound = errors.New("presence: session not found")
	// ErrNotBound 连接未绑定到该用户的当前会话
	ErrNotBound = errors.New("presence: connection not bound")
	// ErrStore 存储读写失败
	ErrStore = errors.New("presence: store failure")
	// ErrConflict 乐观写冲突，账本会自动重试一次
	ErrConflict = errors.New("presence: write conflict")
)

// wrapStore 将底层存储错误归一为ErrStore
func wrapStore(err error) error {
	if errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}
