package service_test // 测试包

import (
	"context"
	"errors"
	"testing"
	"time"

	// 导入必要的包
	"github.com/KafetzisThomas/Chatterbox/internal/domain"
	"github.com/KafetzisThomas/Chatterbox/internal/repository"
	"github.com/KafetzisThomas/Chatterbox/internal/repository/mocks" // 导入 Mock 实现
	"github.com/KafetzisThomas/Chatterbox/internal/service"          // 导入被测试的包

	"github.com/stretchr/testify/assert"  // 导入断言库
	"github.com/stretchr/testify/mock"    // 导入 Mock 库
	"github.com/stretchr/testify/require" // 导入 Require 断言库
	"golang.org/x/crypto/bcrypt"          // 需要 bcrypt 用于密码哈希比较
)

// --- 测试 Register 方法 ---

func TestAuthService_Register_Success(t *testing.T) {
	// Arrange: 准备 Mock 对象, Service 实例, 和测试数据
	mockUserRepo := new(mocks.UserRepository)
	authService, err := service.NewAuthService(mockUserRepo, "very-secret-key", 1)
	require.NoError(t, err, "创建 AuthService 不应失败")

	ctx := context.Background()
	username := "newbie"
	password := "StrongPass123"
	email := "newbie@example.com"

	// 设置 Mock 预期: Save 被调用时模拟保存成功，并填充 ID/时间戳
	mockUserRepo.On("Save", ctx, mock.MatchedBy(func(user *domain.User) bool {
		assert.Equal(t, username, user.Username)
		assert.Equal(t, email, user.Email)
		return true
	})).
		Run(func(args mock.Arguments) { // 模拟数据库填充字段
			userArg := args.Get(1).(*domain.User)
			// 验证密码是否已哈希。在 Run 中检查而不是 MatchedBy：
			// AssertExpectations 会重新执行 matcher，而那时 Service
			// 已经把同一指针上的 Password 清空了
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(userArg.Password), []byte(password)), "密码应被正确哈希")
			userArg.ID = 5
			userArg.CreatedAt = time.Now().Add(-time.Second)
			userArg.UpdatedAt = time.Now().Add(-time.Second)
		}).
		Return(nil).
		Once()

	// Act
	registeredUser, err := authService.Register(ctx, username, password, email)

	// Assert
	assert.NoError(t, err, "成功注册时不应有错误")
	require.NotNil(t, registeredUser, "成功注册时应返回用户对象")
	assert.Equal(t, uint(5), registeredUser.ID, "返回的用户 ID 应为 5")
	assert.Equal(t, username, registeredUser.Username)
	assert.Equal(t, email, registeredUser.Email)
	assert.Empty(t, registeredUser.Password, "返回的用户密码应为空")

	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Register_UsernameTaken(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, err := service.NewAuthService(mockUserRepo, "very-secret-key", 1)
	require.NoError(t, err)

	ctx := context.Background()

	// 唯一约束冲突映射为注册失败
	mockUserRepo.On("Save", ctx, mock.AnythingOfType("*domain.User")).
		Return(repository.ErrDuplicateEntry).
		Once()

	// Act
	registeredUser, err := authService.Register(ctx, "taken", "StrongPass123", "taken@example.com")

	// Assert
	assert.Nil(t, registeredUser)
	assert.ErrorIs(t, err, service.ErrRegistrationFailed, "重复用户名应返回注册失败错误")
	mockUserRepo.AssertExpectations(t)
}

// --- 测试 Login 方法 ---

func TestAuthService_Login_Success(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, err := service.NewAuthService(mockUserRepo, "very-secret-key", 1)
	require.NoError(t, err)

	ctx := context.Background()
	password := "StrongPass123"
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)

	storedUser := &domain.User{
		ID:       7,
		Username: "alice",
		Password: string(hashed),
	}
	mockUserRepo.On("FindByUsername", ctx, "alice").Return(storedUser, nil).Once()

	// Act
	token, err := authService.Login(ctx, "alice", password)

	// Assert
	assert.NoError(t, err, "成功登录时不应有错误")
	assert.NotEmpty(t, token, "成功登录应返回 JWT token")
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, err := service.NewAuthService(mockUserRepo, "very-secret-key", 1)
	require.NoError(t, err)

	ctx := context.Background()
	hashed, err := bcrypt.GenerateFromPassword([]byte("CorrectPass"), bcrypt.DefaultCost)
	require.NoError(t, err)

	mockUserRepo.On("FindByUsername", ctx, "alice").
		Return(&domain.User{ID: 7, Username: "alice", Password: string(hashed)}, nil).
		Once()

	// Act
	token, err := authService.Login(ctx, "alice", "WrongPass")

	// Assert
	assert.Empty(t, token)
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed, "密码错误应返回认证失败")
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Login_UserNotFound(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, err := service.NewAuthService(mockUserRepo, "very-secret-key", 1)
	require.NoError(t, err)

	ctx := context.Background()
	mockUserRepo.On("FindByUsername", ctx, "ghost").
		Return(nil, repository.ErrUserNotFound).
		Once()

	// Act
	token, err := authService.Login(ctx, "ghost", "whatever")

	// Assert: 对客户端统一返回认证失败，不泄露用户是否存在
	assert.Empty(t, token)
	assert.ErrorIs(t, err, service.ErrAuthenticationFailed)
	mockUserRepo.AssertExpectations(t)
}

// --- 测试 ResolveUser 方法 ---

func TestAuthService_ResolveUser(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, err := service.NewAuthService(mockUserRepo, "very-secret-key", 1)
	require.NoError(t, err)

	ctx := context.Background()
	mockUserRepo.On("FindByUsername", ctx, "alice").
		Return(&domain.User{ID: 7, Username: "alice"}, nil).
		Once()
	mockUserRepo.On("FindByUsername", ctx, "ghost").
		Return(nil, repository.ErrUserNotFound).
		Once()
	mockUserRepo.On("FindByUsername", ctx, "broken").
		Return(nil, errors.New("connection refused")).
		Once()

	user, err := authService.ResolveUser(ctx, "alice")
	assert.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, uint(7), user.ID)

	_, err = authService.ResolveUser(ctx, "ghost")
	assert.ErrorIs(t, err, service.ErrUserNotFound, "未知用户应映射为 ErrUserNotFound")

	_, err = authService.ResolveUser(ctx, "broken")
	assert.ErrorIs(t, err, service.ErrInternalServer, "仓库故障应映射为内部错误")

	mockUserRepo.AssertExpectations(t)
}
