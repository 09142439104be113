package domain

import (
	"fmt"
	"time"
)

// RoomKind 表示房间的类型。
type RoomKind string

const (
	// RoomKindDirect 表示两个用户之间的私聊房间。
	RoomKindDirect RoomKind = "direct"
	// RoomKindGroup 表示通过名称加入的群聊房间。
	RoomKindGroup RoomKind = "group"
)

// DefaultGroupName 是未指定群名称时使用的默认群聊房间。
const DefaultGroupName = "group_chat"

// Room 表示一个聊天房间。私聊和群聊统一为同一个抽象，
// 通过规范化的 RoomKey 区分：私聊的 key 由两个用户 ID 按升序派生，
// 群聊的 key 由唯一的群名称派生。对同一组参与者只存在一个房间
// (room_key 上的唯一约束保证)。
type Room struct {
	ID      uint     `gorm:"primaryKey"` // 房间唯一标识符 (主键)
	RoomKey string   `gorm:"type:varchar(191);uniqueIndex:idx_room_key;not null"` // 规范化房间键，幂等 get-or-create 的依据
	Kind    RoomKind `gorm:"type:varchar(20);not null"`

	// 私聊字段：两个参与者的用户 ID，约定 User1ID < User2ID
	User1ID *uint `gorm:"index"`
	User2ID *uint `gorm:"index"`

	// 群聊字段：用户选择的唯一名称
	Name string `gorm:"type:varchar(191)"`

	CreatedAt time.Time `gorm:"autoCreateTime"` // 房间创建时间 (GORM 自动填充)
	UpdatedAt time.Time `gorm:"autoUpdateTime"` // 记录最后更新时间 (GORM 自动填充)
}

// RoomMember 表示群聊房间的成员关系 (仅群聊使用)。
type RoomMember struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    uint      `gorm:"uniqueIndex:idx_room_user;not null"` // 所属房间 ID
	UserID    uint      `gorm:"uniqueIndex:idx_room_user;not null"` // 成员用户 ID
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// DirectRoomKey 根据两个用户 ID 生成私聊房间的规范化键。
// 按数值升序排列两个 ID，保证 (A,B) 和 (B,A) 映射到同一个键。
func DirectRoomKey(userID1, userID2 uint) string {
	lo, hi := userID1, userID2
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("direct:%d:%d", lo, hi)
}

// GroupRoomKey 根据群名称生成群聊房间的规范化键。
func GroupRoomKey(name string) string {
	return "group:" + name
}
