// Package gormpersistence 提供 repository 接口的 GORM 实现。
package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"
	"github.com/KafetzisThomas/Chatterbox/internal/repository"
)

// GormUserRepository 是 UserRepository 接口的 GORM 实现
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository 创建 GormUserRepository 实例
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	if db == nil {
		panic("database connection cannot be nil for GormUserRepository")
	}
	return &GormUserRepository{db: db}
}

// FindByUsername 实现根据用户名查找用户
func (r *GormUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 映射为定义的仓库层错误
			return nil, repository.ErrUserNotFound
		}
		return nil, fmt.Errorf("gorm: find user by username '%s': %w", username, err)
	}
	return &user, nil
}

// FindByID 实现根据用户 ID 查找用户
func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrUserNotFound
		}
		return nil, fmt.Errorf("gorm: find user by id %d: %w", id, err)
	}
	return &user, nil
}

// Save 实现保存用户信息（创建或更新）
// GORM 的 Save 方法会根据主键是否为零值决定是 INSERT 还是 UPDATE。
func (r *GormUserRepository) Save(ctx context.Context, user *domain.User) error {
	result := r.db.WithContext(ctx).Save(user)
	if err := result.Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save user (id: %d, username: %s): %w", user.ID, user.Username, err)
	}
	return nil
}

// isDuplicateEntryError 检查错误是否为唯一约束冲突。
// 优先通过 MySQL 驱动的错误码 (1062) 判断，其余数据库退回字符串检查
// (测试使用 SQLite，依赖 "UNIQUE constraint failed")。
func isDuplicateEntryError(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // SQLite
		strings.Contains(msg, "Duplicate entry") || // MySQL
		strings.Contains(msg, "duplicate key value violates unique constraint") // PostgreSQL
}
