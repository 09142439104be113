package repository

import (
	"context"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"
)

// RoomRepository 定义了房间数据的存储和检索操作。
type RoomRepository interface {
	// FindByID 根据房间 ID 查找房间。
	// 如果房间不存在，返回 ErrRoomNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Room, error)

	// FindByKey 根据规范化房间键查找房间。
	// 如果房间不存在，返回 ErrRoomNotFound。
	FindByKey(ctx context.Context, key string) (*domain.Room, error)

	// Create 插入一个新房间。
	// 如果 room_key 已存在 (并发 get-or-create 竞争)，返回 ErrDuplicateEntry，
	// 调用方应重新按 key 查询并返回已存在的行。
	Create(ctx context.Context, room *domain.Room) error

	// AddMember 将用户加入群聊房间的成员集合。
	// 重复加入是幂等的 (唯一约束冲突视为成功)。
	AddMember(ctx context.Context, roomID, userID uint) error

	// Delete 删除房间并级联删除其全部消息。
	Delete(ctx context.Context, roomID uint) error
}
