package mocks

import (
	"context"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"

	"github.com/stretchr/testify/mock"
)

// RoomRepository 是 repository.RoomRepository 的 mock 实现
type RoomRepository struct {
	mock.Mock
}

func (m *RoomRepository) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	args := m.Called(ctx, id)
	var room *domain.Room
	if args.Get(0) != nil {
		room = args.Get(0).(*domain.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepository) FindByKey(ctx context.Context, key string) (*domain.Room, error) {
	args := m.Called(ctx, key)
	var room *domain.Room
	if args.Get(0) != nil {
		room = args.Get(0).(*domain.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *RoomRepository) AddMember(ctx context.Context, roomID, userID uint) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *RoomRepository) Delete(ctx context.Context, roomID uint) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}
