package repository

import (
	"context"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"
)

// MessageRepository 定义了聊天消息的追加和检索操作。
type MessageRepository interface {
	// Save 追加一条消息记录，时间戳由存储层在持久化时分配。
	Save(ctx context.Context, message *domain.Message) error

	// ListByRoom 按创建时间升序返回指定房间的消息，
	// 时间相同的消息按插入顺序 (主键升序) 排列。
	// limit <= 0 表示不限制数量。
	ListByRoom(ctx context.Context, roomID uint, limit int) ([]domain.Message, error)
}
