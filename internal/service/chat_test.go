package service_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"
	"github.com/KafetzisThomas/Chatterbox/internal/dto"
	"github.com/KafetzisThomas/Chatterbox/internal/repository"
	"github.com/KafetzisThomas/Chatterbox/internal/repository/mocks"
	"github.com/KafetzisThomas/Chatterbox/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// stubNotifier 记录 NotifyMentions 的调用，供测试等待带外通知
type stubNotifier struct {
	calls chan string // 收到的消息文本
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{calls: make(chan string, 8)}
}

func (s *stubNotifier) NotifyMentions(ctx context.Context, author *domain.User, content string) {
	s.calls <- content
}

func newChatServiceForTest(t *testing.T) (*service.ChatService, *mocks.MessageRepository, *mocks.UserRepository, *stubNotifier) {
	t.Helper()
	mockMessageRepo := new(mocks.MessageRepository)
	mockUserRepo := new(mocks.UserRepository)
	notifier := newStubNotifier()
	return service.NewChatService(mockMessageRepo, mockUserRepo, notifier), mockMessageRepo, mockUserRepo, notifier
}

// --- 测试 HandleInbound 方法 ---

func TestChatService_HandleInbound_TextRoundTrip(t *testing.T) {
	// Arrange
	chatService, mockMessageRepo, mockUserRepo, _ := newChatServiceForTest(t)
	ctx := context.Background()

	mockUserRepo.On("FindByUsername", ctx, "alice").Return(alice, nil).Once()
	mockMessageRepo.On("Save", ctx, mock.MatchedBy(func(m *domain.Message) bool {
		assert.Equal(t, uint(42), m.RoomID)
		assert.Equal(t, uint(3), m.UserID)
		assert.Equal(t, "hello there", m.Content)
		assert.Empty(t, m.Image)
		return true
	})).
		Run(func(args mock.Arguments) {
			args.Get(1).(*domain.Message).ID = 100
		}).
		Return(nil).
		Once()

	raw := []byte(`{"username":"alice","message":"hello there","image":""}`)

	// Act
	message, frame, err := chatService.HandleInbound(ctx, 42, raw)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, message)
	assert.Equal(t, uint(100), message.ID)

	// 广播帧必须原样回传客户端提交的字段
	var out dto.OutgoingMessage
	require.NoError(t, json.Unmarshal(frame, &out))
	assert.Equal(t, "alice", out.Username)
	assert.Equal(t, "hello there", out.Message)
	assert.Empty(t, out.Image)

	mockMessageRepo.AssertExpectations(t)
	mockUserRepo.AssertExpectations(t)
}

func TestChatService_HandleInbound_ImageBase64(t *testing.T) {
	// Arrange: 图片以 base64 提交，存储为解码后的字节，广播时原样回传
	chatService, mockMessageRepo, mockUserRepo, _ := newChatServiceForTest(t)
	ctx := context.Background()

	imageBytes := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	encoded := base64.StdEncoding.EncodeToString(imageBytes)

	mockUserRepo.On("FindByUsername", ctx, "alice").Return(alice, nil).Once()
	mockMessageRepo.On("Save", ctx, mock.MatchedBy(func(m *domain.Message) bool {
		assert.Equal(t, imageBytes, m.Image, "图片应以解码后的字节存储")
		assert.Empty(t, m.Content)
		return true
	})).Return(nil).Once()

	payload, err := json.Marshal(dto.IncomingMessage{Username: "alice", Image: encoded})
	require.NoError(t, err)

	// Act
	_, frame, err := chatService.HandleInbound(ctx, 42, payload)

	// Assert: 回传的 base64 与提交的逐字节一致
	require.NoError(t, err)
	var out dto.OutgoingMessage
	require.NoError(t, json.Unmarshal(frame, &out))
	assert.Equal(t, encoded, out.Image, "广播帧的 base64 必须与入站一致")

	mockMessageRepo.AssertExpectations(t)
}

func TestChatService_HandleInbound_InvalidPayloads(t *testing.T) {
	// 无效载荷必须被丢弃且不触发持久化
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"username": "alice", "message":`},
		{"missing username", `{"message":"hi","image":""}`},
		{"empty body and image", `{"username":"alice","message":"","image":""}`},
		{"invalid base64 image", `{"username":"alice","message":"","image":"!!!not-base64!!!"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chatService, mockMessageRepo, mockUserRepo, _ := newChatServiceForTest(t)
			ctx := context.Background()
			// invalid base64 的用例会走到作者解析之前就失败，其他用例同理；
			// 无论哪种情况都不应触碰消息存储
			mockUserRepo.On("FindByUsername", mock.Anything, mock.Anything).Return(alice, nil).Maybe()

			message, frame, err := chatService.HandleInbound(ctx, 42, []byte(tc.raw))

			assert.Nil(t, message)
			assert.Nil(t, frame)
			assert.ErrorIs(t, err, service.ErrInvalidMessage)
			mockMessageRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		})
	}
}

func TestChatService_HandleInbound_UnknownAuthor(t *testing.T) {
	chatService, mockMessageRepo, mockUserRepo, _ := newChatServiceForTest(t)
	ctx := context.Background()

	mockUserRepo.On("FindByUsername", ctx, "ghost").Return(nil, repository.ErrUserNotFound).Once()

	message, frame, err := chatService.HandleInbound(ctx, 42, []byte(`{"username":"ghost","message":"boo","image":""}`))

	assert.Nil(t, message)
	assert.Nil(t, frame)
	assert.ErrorIs(t, err, service.ErrUserNotFound)
	mockMessageRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestChatService_HandleInbound_MentionTriggersNotifier(t *testing.T) {
	// Arrange
	chatService, mockMessageRepo, mockUserRepo, notifier := newChatServiceForTest(t)
	ctx := context.Background()

	mockUserRepo.On("FindByUsername", ctx, "alice").Return(alice, nil).Once()
	mockMessageRepo.On("Save", ctx, mock.AnythingOfType("*domain.Message")).Return(nil).Once()

	// Act
	_, _, err := chatService.HandleInbound(ctx, 42, []byte(`{"username":"alice","message":"ping @bob","image":""}`))
	require.NoError(t, err)

	// Assert: 通知是带外投递的，等待 goroutine 执行
	select {
	case content := <-notifier.calls:
		assert.Equal(t, "ping @bob", content)
	case <-time.After(2 * time.Second):
		t.Fatal("提及消息应触发通知调用")
	}
}

func TestChatService_HandleInbound_NoMentionNoNotifier(t *testing.T) {
	chatService, mockMessageRepo, mockUserRepo, notifier := newChatServiceForTest(t)
	ctx := context.Background()

	mockUserRepo.On("FindByUsername", ctx, "alice").Return(alice, nil).Once()
	mockMessageRepo.On("Save", ctx, mock.AnythingOfType("*domain.Message")).Return(nil).Once()

	_, _, err := chatService.HandleInbound(ctx, 42, []byte(`{"username":"alice","message":"plain text","image":""}`))
	require.NoError(t, err)

	select {
	case <-notifier.calls:
		t.Fatal("没有提及时不应触发通知")
	case <-time.After(100 * time.Millisecond):
	}
}

// --- 测试 History / RecentFrames 方法 ---

func TestChatService_History_ResolvesAuthorsInOrder(t *testing.T) {
	// Arrange
	chatService, mockMessageRepo, mockUserRepo, _ := newChatServiceForTest(t)
	ctx := context.Background()

	imageBytes := []byte{1, 2, 3}
	stored := []domain.Message{
		{ID: 1, RoomID: 42, UserID: 3, Content: "first", CreatedAt: time.Unix(100, 0)},
		{ID: 2, RoomID: 42, UserID: 8, Content: "second", CreatedAt: time.Unix(101, 0)},
		{ID: 3, RoomID: 42, UserID: 3, Image: imageBytes, CreatedAt: time.Unix(102, 0)},
	}
	mockMessageRepo.On("ListByRoom", ctx, uint(42), 0).Return(stored, nil).Once()
	// 同一作者的多条消息只解析一次用户名
	mockUserRepo.On("FindByID", ctx, uint(3)).Return(alice, nil).Once()
	mockUserRepo.On("FindByID", ctx, uint(8)).Return(bob, nil).Once()

	// Act
	entries, err := chatService.History(ctx, 42, 0)

	// Assert
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "alice", entries[0].Username)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "bob", entries[1].Username)
	assert.Equal(t, base64.StdEncoding.EncodeToString(imageBytes), entries[2].Image)
	assert.True(t, entries[0].Timestamp.Before(entries[1].Timestamp), "历史应按时间升序")

	mockUserRepo.AssertExpectations(t)
	mockMessageRepo.AssertExpectations(t)
}

func TestChatService_RecentFrames(t *testing.T) {
	chatService, mockMessageRepo, mockUserRepo, _ := newChatServiceForTest(t)
	ctx := context.Background()

	stored := []domain.Message{
		{ID: 1, RoomID: 42, UserID: 3, Content: "hi", CreatedAt: time.Unix(100, 0)},
	}
	mockMessageRepo.On("ListByRoom", ctx, uint(42), 50).Return(stored, nil).Once()
	mockUserRepo.On("FindByID", ctx, uint(3)).Return(alice, nil).Once()

	frames, err := chatService.RecentFrames(ctx, 42, 50)

	require.NoError(t, err)
	require.Len(t, frames, 1)
	var out dto.OutgoingMessage
	require.NoError(t, json.Unmarshal(frames[0], &out))
	assert.Equal(t, "alice", out.Username)
	assert.Equal(t, "hi", out.Message)
}
