package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"
	"github.com/KafetzisThomas/Chatterbox/internal/dto"
	"github.com/KafetzisThomas/Chatterbox/internal/repository"

	"github.com/sirupsen/logrus"
)

// Notifier 抽象了 @提及 的带外通知投递。
// 实现必须是尽力而为的：任何失败都只记录日志，绝不影响消息主路径。
type Notifier interface {
	NotifyMentions(ctx context.Context, author *domain.User, content string)
}

// ChatService 负责入站聊天消息的处理管线：
// 校验 → 解析作者身份 → 持久化 → 构造广播帧。
// 广播本身由 Hub 在本方法返回后执行，持久化和扇出之间没有共享锁。
type ChatService struct {
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	notifier    Notifier
}

// NewChatService 创建 ChatService 实例。
func NewChatService(messageRepo repository.MessageRepository, userRepo repository.UserRepository, notifier Notifier) *ChatService {
	if messageRepo == nil {
		panic("MessageRepository cannot be nil for ChatService")
	}
	if userRepo == nil {
		panic("UserRepository cannot be nil for ChatService")
	}
	if notifier == nil {
		panic("Notifier cannot be nil for ChatService")
	}
	return &ChatService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		notifier:    notifier,
	}
}

// HandleInbound 处理一条来自客户端的原始 WebSocket 消息。
// 返回持久化后的消息和序列化好的广播帧。
// 校验失败返回 ErrInvalidMessage，作者未知返回 ErrUserNotFound；
// 这两种情况下消息被丢弃，会话继续 (不回发错误帧，与参考行为一致)。
func (s *ChatService) HandleInbound(ctx context.Context, roomID uint, raw []byte) (*domain.Message, []byte, error) {
	logCtx := logrus.WithField("room_id", roomID)

	// 1. 按线上格式解析
	var in dto.IncomingMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		logCtx.WithError(err).Warn("Dropping inbound payload: malformed JSON")
		return nil, nil, ErrInvalidMessage
	}
	if in.Username == "" {
		logCtx.Warn("Dropping inbound payload: missing username")
		return nil, nil, ErrInvalidMessage
	}
	logCtx = logCtx.WithField("username", in.Username)

	// 2. 内容校验：文本和图片至少要有一个
	if in.Message == "" && in.Image == "" {
		logCtx.Warn("Dropping inbound payload: empty message and image")
		return nil, nil, ErrInvalidMessage
	}
	var imageBytes []byte
	if in.Image != "" {
		decoded, err := base64.StdEncoding.DecodeString(in.Image)
		if err != nil {
			logCtx.WithError(err).Warn("Dropping inbound payload: invalid base64 image")
			return nil, nil, ErrInvalidMessage
		}
		imageBytes = decoded
	}

	// 3. 解析作者身份
	author, err := s.userRepo.FindByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			logCtx.Warn("Dropping inbound payload: unknown author")
			return nil, nil, ErrUserNotFound
		}
		logCtx.WithError(err).Error("Repository error resolving message author")
		return nil, nil, ErrInternalServer
	}

	// 4. 持久化 (时间戳由存储层分配)
	message := &domain.Message{
		RoomID:  roomID,
		UserID:  author.ID,
		Content: in.Message,
		Image:   imageBytes,
	}
	if err := s.messageRepo.Save(ctx, message); err != nil {
		logCtx.WithError(err).Error("Failed to persist message")
		return nil, nil, ErrInternalServer
	}
	logCtx.WithField("message_id", message.ID).Debug("Message persisted")

	// 5. @提及 通知：带外、尽力而为，绝不阻塞或中断广播路径
	if strings.Contains(in.Message, "@") {
		go s.notifier.NotifyMentions(context.Background(), author, in.Message)
	}

	// 6. 构造广播帧：原样回传客户端提交的文本和 base64 图片
	frame, err := json.Marshal(dto.OutgoingMessage{
		Username: in.Username,
		Message:  in.Message,
		Image:    in.Image,
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal outgoing frame")
		return nil, nil, ErrInternalServer
	}
	return message, frame, nil
}

// HistoryEntry 是消息历史的一条记录，作者已解析为用户名。
type HistoryEntry struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Image     string    `json:"image"`
	Timestamp time.Time `json:"timestamp"`
}

// History 按创建时间升序返回房间的消息历史。
// limit <= 0 表示不限制数量。
func (s *ChatService) History(ctx context.Context, roomID uint, limit int) ([]HistoryEntry, error) {
	logCtx := logrus.WithField("room_id", roomID)

	messages, err := s.messageRepo.ListByRoom(ctx, roomID, limit)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list room messages")
		return nil, ErrInternalServer
	}

	// 作者用户名解析，按用户 ID 记忆化，避免同一作者重复查询
	usernames := make(map[uint]string)
	entries := make([]HistoryEntry, 0, len(messages))
	for _, m := range messages {
		name, ok := usernames[m.UserID]
		if !ok {
			user, err := s.userRepo.FindByID(ctx, m.UserID)
			if err != nil {
				// 作者可能已被删除；历史条目仍然返回，用户名留空
				logCtx.WithError(err).WithField("user_id", m.UserID).Warn("Failed to resolve message author for history")
				name = ""
			} else {
				name = user.Username
			}
			usernames[m.UserID] = name
		}
		image := ""
		if len(m.Image) > 0 {
			image = base64.StdEncoding.EncodeToString(m.Image)
		}
		entries = append(entries, HistoryEntry{
			Username:  name,
			Message:   m.Content,
			Image:     image,
			Timestamp: m.CreatedAt,
		})
	}
	return entries, nil
}

// RecentFrames 返回房间最近 limit 条消息的广播帧 (升序)，
// 供 Hub 在新连接注册后回放历史。
func (s *ChatService) RecentFrames(ctx context.Context, roomID uint, limit int) ([][]byte, error) {
	entries, err := s.History(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	frames := make([][]byte, 0, len(entries))
	for _, e := range entries {
		frame, err := json.Marshal(dto.OutgoingMessage{
			Username: e.Username,
			Message:  e.Message,
			Image:    e.Image,
		})
		if err != nil {
			return nil, ErrInternalServer
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
