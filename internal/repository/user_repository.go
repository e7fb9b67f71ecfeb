package repository

import (
	"gorm.io/gorm"

	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
)

// UserRepository 接口定义了用户数据的持久化操作。
type UserRepository interface {
	Create(user *model.User) error
	FindByID(userID uint) (*model.User, error)
	FindByEmail(email string) (*model.User, error)
	FindByEmailOrUsername(email, username string) (*model.User, error)
	AddPoints(userID uint, points int) error
}

// userRepository 是 UserRepository 接口的 GORM 实现。
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建一个新的 UserRepository 实例。
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create 在数据库中创建一个新的用户记录。
func (r *userRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

// FindByID 根据用户 ID 查找用户。
func (r *userRepository) FindByID(userID uint) (*model.User, error) {
	var user model.User
	err := r.db.First(&user, userID).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail 根据邮箱查找用户。
func (r *userRepository) FindByEmail(email string) (*model.User, error) {
	var user model.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmailOrUsername 用于注册时的重复检查。
func (r *userRepository) FindByEmailOrUsername(email, username string) (*model.User, error) {
	var user model.User
	err := r.db.Where("email = ? OR username = ?", email, username).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// AddPoints 为用户累加积分。
func (r *userRepository) AddPoints(userID uint, points int) error {
	return r.db.Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("points", gorm.Expr("points + ?", points)).Error
}
