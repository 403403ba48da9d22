package repository

import (
	"breezy-server/internal/model"
	"breezy-server/pkg/db"

	"gorm.io/gorm"
)

type UserRepository struct {
	orm *gorm.DB
}

func NewUserRepository() *UserRepository {
	return &UserRepository{orm: db.GetDB()}
}

func NewUserRepositoryWithDB(orm *gorm.DB) *UserRepository {
	return &UserRepository{orm: orm}
}

func (r *UserRepository) Create(user *model.User) error {
	return r.orm.Create(user).Error
}

func (r *UserRepository) GetByID(id string) (*model.User, error) {
	var u model.User
	if err := r.orm.First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByUsername(username string) (*model.User, error) {
	var u model.User
	if err := r.orm.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteByIDs 批量删除（账本清除不活跃用户后同步）
// 硬删除：用户名随记录一起释放，可被重新注册
func (r *UserRepository) DeleteByIDs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.orm.Where("id IN ?", ids).Delete(&model.User{}).Error
}
