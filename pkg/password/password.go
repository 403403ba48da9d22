package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// 哈希成本：注册、登录都在线上热路径，默认成本在延迟和穷举防护之间取中
const hashCost = bcrypt.DefaultCost

// bcrypt只取前72字节，超出部分会被静默截断，这里直接拒绝
const maxPlainBytes = 72

// Hash 生成密码哈希（自带盐，同一明文两次哈希结果不同）
func Hash(plain string) (string, error) {
	if len(plain) > maxPlainBytes {
		return "", fmt.Errorf("密码超过%d字节", maxPlainBytes)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), hashCost)
	if err != nil {
		return "", fmt.Errorf("生成密码哈希失败: %w", err)
	}
	return string(hashed), nil
}

// Verify 校验明文与哈希是否匹配
// 不区分"哈希损坏"和"密码不对"，调用方统一按凭证无效处理
func Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
