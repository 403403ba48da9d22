package redis

import (
	"fmt"
	"time"
)

// 联系表单限流：同一提交人每天一次
const (
	ContactThrottlePrefix = "breezy:contact:submitted:" // 提交记录key前缀
	ContactThrottleTTL    = 24 * time.Hour              // 限流窗口
)

// AllowContactSubmission 判断提交人当天是否还可提交
// 首次提交写入占位key并放行，窗口期内的重复提交被拒
func AllowContactSubmission(email string) (bool, error) {
	if client == nil {
		return false, fmt.Errorf("redis客户端未初始化")
	}

	key := ContactThrottlePrefix + email
	ok, err := client.SetNX(ctx, key, time.Now().Format(time.RFC3339), ContactThrottleTTL).Result()
	if err != nil {
		return false, fmt.Errorf("联系表单限流检查失败: %w", err)
	}
	return ok, nil
}
