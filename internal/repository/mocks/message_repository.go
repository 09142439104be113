package mocks

import (
	"context"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"

	"github.com/stretchr/testify/mock"
)

// MessageRepository 是 repository.MessageRepository 的 mock 实现
type MessageRepository struct {
	mock.Mock
}

func (m *MessageRepository) Save(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MessageRepository) ListByRoom(ctx context.Context, roomID uint, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, roomID, limit)
	var messages []domain.Message
	if args.Get(0) != nil {
		messages = args.Get(0).([]domain.Message)
	}
	return messages, args.Error(1)
}
