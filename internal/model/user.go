package model

import (
	"time"
)

// User 用户模型
// 用户名唯一且已转小写，展示名保留原始大小写
// 密码仅存储哈希（PasswordHash），不存储明文
// 在线状态不落在这张表：账本（presence）才是"谁在线"的权威来源
// 账本清除不活跃用户时这里硬删除——软删除的行仍占着用户名唯一索引，
// 会让被清除的用户名永远无法重新注册

type User struct {
	ID           string    `gorm:"type:varchar(32);primaryKey;comment:用户ID"`
	Username     string    `gorm:"type:varchar(15);not null;uniqueIndex;comment:用户名"`
	DisplayName  string    `gorm:"type:varchar(25);not null;comment:展示名"`
	PasswordHash string    `gorm:"type:varchar(255);not null;comment:密码哈希"`
	CreatedAt    time.Time `gorm:"comment:注册时间"`
	UpdatedAt    time.Time `gorm:"comment:更新时间"`
}

// TableName 指定表名（因全局配置使用单数表名，这里与结构体名一致为 user）
func (User) TableName() string { return "user" }
