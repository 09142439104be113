package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// PresenceRepository 是 repository.PresenceRepository 的 mock 实现
type PresenceRepository struct {
	mock.Mock
}

func (m *PresenceRepository) MarkOnline(ctx context.Context, roomID, userID uint) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *PresenceRepository) MarkOffline(ctx context.Context, roomID, userID uint) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *PresenceRepository) ListOnline(ctx context.Context, roomID uint) ([]uint, error) {
	args := m.Called(ctx, roomID)
	var ids []uint
	if args.Get(0) != nil {
		ids = args.Get(0).([]uint)
	}
	return ids, args.Error(1)
}
