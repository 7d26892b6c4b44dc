package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"kbring/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *model.User) error {
	if err := r.db.Create(user).Error; err != nil {
		return fmt.Errorf("create user failed: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByUsername(username string) (*model.User, error) {
	return r.getBy("username = ?", username)
}

func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	return r.getBy("email = ?", email)
}

func (r *UserRepository) GetByID(id uint) (*model.User, error) {
	return r.getBy("id = ?", id)
}

// TouchLastLogin stamps the successful-login time without bumping updated_at.
func (r *UserRepository) TouchLastLogin(userID uint, at time.Time) error {
	err := r.db.Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("last_login_at", at).Error
	if err != nil {
		return fmt.Errorf("update last login failed: %w", err)
	}
	return nil
}

func (r *UserRepository) getBy(cond string, arg interface{}) (*model.User, error) {
	var user model.User
	if err := r.db.Where(cond, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user failed: %w", err)
	}
	return &user, nil
}
