package service

import (
	"context"
	"errors"
	"strings"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"
	"github.com/KafetzisThomas/Chatterbox/internal/repository"

	"github.com/sirupsen/logrus"
)

// RoomService 是房间目录：把参与者身份或群名称解析为规范化的房间，
// 并以幂等方式按需创建房间。私聊和群聊共用同一个 get-or-create 路径。
type RoomService struct {
	roomRepo repository.RoomRepository
	userRepo repository.UserRepository
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(roomRepo repository.RoomRepository, userRepo repository.UserRepository) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	if userRepo == nil {
		panic("UserRepository cannot be nil for RoomService")
	}
	return &RoomService{
		roomRepo: roomRepo,
		userRepo: userRepo,
	}
}

// ResolveDirect 解析 (或创建) 两个用户之间的私聊房间。
// 两个用户名的顺序无关：房间键按用户 ID 升序规范化，
// 保证 ResolveDirect(A,B) 与 ResolveDirect(B,A) 返回同一个房间。
// 任一用户不存在时返回 ErrUserNotFound；同一用户返回 ErrSelfChat。
func (s *RoomService) ResolveDirect(ctx context.Context, usernameA, usernameB string) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"username_a": usernameA, "username_b": usernameB})

	// 1. 解析两个参与者的身份
	userA, err := s.findUser(ctx, usernameA, logCtx)
	if err != nil {
		return nil, err
	}
	userB, err := s.findUser(ctx, usernameB, logCtx)
	if err != nil {
		return nil, err
	}
	if userA.ID == userB.ID {
		logCtx.Warn("Refusing to create a direct room between a user and themself")
		return nil, ErrSelfChat
	}

	// 2. 规范化：ID 较小的一方总是 user1
	id1, id2 := userA.ID, userB.ID
	if id1 > id2 {
		id1, id2 = id2, id1
	}
	key := domain.DirectRoomKey(id1, id2)

	// 3. 幂等 get-or-create
	room := &domain.Room{
		RoomKey: key,
		Kind:    domain.RoomKindDirect,
		User1ID: &id1,
		User2ID: &id2,
	}
	return s.getOrCreate(ctx, key, room, logCtx)
}

// ResolveGroup 解析 (或创建) 指定名称的群聊房间。
// name 为空时退回到默认群聊房间。调用方被加入成员集合 (幂等)，
// 因此首次创建者自动成为成员。
func (s *RoomService) ResolveGroup(ctx context.Context, name, callerUsername string) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = domain.DefaultGroupName
	}
	logCtx := logrus.WithFields(logrus.Fields{"group_name": name, "caller": callerUsername})

	caller, err := s.findUser(ctx, callerUsername, logCtx)
	if err != nil {
		return nil, err
	}

	key := domain.GroupRoomKey(name)
	room := &domain.Room{
		RoomKey: key,
		Kind:    domain.RoomKindGroup,
		Name:    name,
	}
	resolved, err := s.getOrCreate(ctx, key, room, logCtx)
	if err != nil {
		return nil, err
	}

	// 将调用者加入成员集合；失败不阻断连接建立，仅记录
	if err := s.roomRepo.AddMember(ctx, resolved.ID, caller.ID); err != nil {
		logCtx.WithError(err).WithField("room_id", resolved.ID).Error("Failed to add caller to group members")
	}
	return resolved, nil
}

// FindRoomByID 根据房间 ID 查找房间，供消息历史等只读路径使用。
func (s *RoomService) FindRoomByID(ctx context.Context, roomID uint) (*domain.Room, error) {
	logCtx := logrus.WithField("room_id", roomID)
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Warn("FindRoomByID: Room not found")
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("FindRoomByID: Repository error")
		return nil, ErrInternalServer
	}
	if room == nil { // 防御
		logCtx.Warn("FindRoomByID: Repository returned nil room without error")
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// DeleteRoom 删除房间及其全部消息 (级联)。
func (s *RoomService) DeleteRoom(ctx context.Context, roomID uint) error {
	logCtx := logrus.WithField("room_id", roomID)
	if err := s.roomRepo.Delete(ctx, roomID); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Warn("DeleteRoom: Room not found")
			return ErrRoomNotFound
		}
		logCtx.WithError(err).Error("DeleteRoom: Repository error")
		return ErrInternalServer
	}
	logCtx.Info("Room deleted with its messages")
	return nil
}

// --- 私有辅助函数 ---

// getOrCreate 执行显式的原子 check-and-insert：
// 先按 key 查询；未找到则插入；插入因唯一约束冲突失败时 (两个连接
// 同时创建同一房间的竞争)，重新按 key 查询并返回已存在的行。
// 竞争对调用方完全透明，不会向上层暴露 Conflict。
func (s *RoomService) getOrCreate(ctx context.Context, key string, fresh *domain.Room, logCtx *logrus.Entry) (*domain.Room, error) {
	existing, err := s.roomRepo.FindByKey(ctx, key)
	if err == nil && existing != nil {
		return existing, nil
	}
	if err != nil && !errors.Is(err, repository.ErrRoomNotFound) {
		logCtx.WithError(err).Error("Repository error looking up room by key")
		return nil, ErrInternalServer
	}

	err = s.roomRepo.Create(ctx, fresh)
	if err == nil {
		logCtx.WithFields(logrus.Fields{"room_id": fresh.ID, "room_key": key}).Info("Room created")
		return fresh, nil
	}
	if errors.Is(err, repository.ErrDuplicateEntry) {
		// 竞争失败方：另一个连接刚刚创建了同一房间，重新查询
		logCtx.WithField("room_key", key).Debug("Room creation raced, re-fetching existing room")
		existing, err := s.roomRepo.FindByKey(ctx, key)
		if err != nil {
			logCtx.WithError(err).Error("Failed to re-fetch room after duplicate-entry race")
			return nil, ErrInternalServer
		}
		return existing, nil
	}
	logCtx.WithError(err).Error("Failed to create room")
	return nil, ErrInternalServer
}

// findUser 按用户名查找用户并映射仓库错误
func (s *RoomService) findUser(ctx context.Context, username string, logCtx *logrus.Entry) (*domain.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			logCtx.WithField("username", username).Warn("User not found while resolving room")
			return nil, ErrUserNotFound
		}
		logCtx.WithError(err).WithField("username", username).Error("Repository error finding user")
		return nil, ErrInternalServer
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
