package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"
	"github.com/KafetzisThomas/Chatterbox/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByID 实现根据房间 ID 查找房间
func (r *GormRoomRepository) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).First(&room, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %d: %w", id, err)
	}
	return &room, nil
}

// FindByKey 实现根据规范化房间键查找房间
func (r *GormRoomRepository) FindByKey(ctx context.Context, key string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("room_key = ?", key).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by key '%s': %w", key, err)
	}
	return &room, nil
}

// Create 实现插入新房间。room_key 上的唯一约束保证并发 get-or-create
// 竞争时只有一个插入成功，失败方收到 ErrDuplicateEntry 后应重新查询。
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	result := r.db.WithContext(ctx).Create(room)
	if err := result.Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create room (key: %s): %w", room.RoomKey, err)
	}
	return nil
}

// AddMember 实现将用户加入群聊成员集合，重复加入视为成功
func (r *GormRoomRepository) AddMember(ctx context.Context, roomID, userID uint) error {
	member := domain.RoomMember{RoomID: roomID, UserID: userID}
	result := r.db.WithContext(ctx).Create(&member)
	if err := result.Error; err != nil {
		if isDuplicateEntryError(err) {
			// 已是成员，幂等返回
			return nil
		}
		return fmt.Errorf("gorm: add member (room: %d, user: %d): %w", roomID, userID, err)
	}
	return nil
}

// Delete 实现删除房间并级联删除其消息和成员关系。
// 在一个事务内执行，保证不会留下孤儿消息。
func (r *GormRoomRepository) Delete(ctx context.Context, roomID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&domain.RoomMember{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&domain.Room{}, roomID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return repository.ErrRoomNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return repository.ErrRoomNotFound
		}
		return fmt.Errorf("gorm: delete room %d: %w", roomID, err)
	}
	return nil
}
