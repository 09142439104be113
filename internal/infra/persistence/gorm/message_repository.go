package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"
)

// GormMessageRepository 是 MessageRepository 接口的 GORM 实现
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建 GormMessageRepository 实例
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMessageRepository")
	}
	return &GormMessageRepository{db: db}
}

// Save 实现追加一条消息记录。
// CreatedAt 由 GORM 在插入时分配 (autoCreateTime)，即存储层时间戳。
func (r *GormMessageRepository) Save(ctx context.Context, message *domain.Message) error {
	result := r.db.WithContext(ctx).Create(message)
	if err := result.Error; err != nil {
		return fmt.Errorf("gorm: save message (room: %d, user: %d): %w", message.RoomID, message.UserID, err)
	}
	return nil
}

// ListByRoom 实现按时间升序检索房间消息。
// 以 (created_at, id) 排序，时间相同的消息按插入顺序排列。
// limit > 0 时返回最新的 limit 条 (仍按升序排列)，供历史回放使用。
func (r *GormMessageRepository) ListByRoom(ctx context.Context, roomID uint, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	query := r.db.WithContext(ctx).Where("room_id = ?", roomID)
	if limit > 0 {
		// 取最新的 limit 条再翻转为升序
		query = query.Order("created_at DESC").Order("id DESC").Limit(limit)
	} else {
		query = query.Order("created_at ASC").Order("id ASC")
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("gorm: list messages for room %d: %w", roomID, err)
	}
	if limit > 0 {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}
