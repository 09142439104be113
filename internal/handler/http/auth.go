package http

import (
	"errors"
	"net/http"

	"github.com/KafetzisThomas/Chatterbox/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthHandler 处理注册和登录两个公开端点。
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	if authService == nil {
		panic("AuthService cannot be nil for AuthHandler")
	}
	return &AuthHandler{authService: authService}
}

// RegisterRequest 定义注册请求体。邮箱可选，但提供时必须合法：
// @提及通知只对有邮箱的用户生效。
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=30"`
	Password string `json:"password" binding:"required,min=6"`
	Email    string `json:"email" binding:"omitempty,email"`
}

// RegisterResponse 定义注册成功的响应体，不回传任何密码信息
type RegisterResponse struct {
	Message  string `json:"message"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
}

// Register 处理 POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Register: Rejecting malformed registration payload")
		ErrorResponse(c, http.StatusBadRequest, "username (3-30 chars) and password (min 6 chars) are required")
		return
	}
	logCtx := logrus.WithField("username", req.Username)

	user, err := h.authService.Register(c.Request.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		if errors.Is(err, service.ErrRegistrationFailed) {
			logCtx.Warn("Register: Username or email already taken")
		} else {
			logCtx.WithError(err).Error("Register: Registration failed")
		}
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("user_id", user.ID).Info("Register: New user created")
	SuccessResponse(c, http.StatusCreated, RegisterResponse{
		Message:  "Registration successful",
		UserID:   user.ID,
		Username: user.Username,
	})
}

// LoginRequest 定义登录请求体
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 定义登录成功的响应体
type LoginResponse struct {
	Message  string `json:"message"`
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Login 处理 POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Login: Rejecting malformed login payload")
		ErrorResponse(c, http.StatusBadRequest, "username and password are required")
		return
	}
	logCtx := logrus.WithField("username", req.Username)

	token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrAuthenticationFailed) {
			// 不区分 用户不存在/密码错误，避免泄露账号是否存在
			logCtx.Warn("Login: Invalid credentials")
		} else {
			logCtx.WithError(err).Error("Login: Login failed")
		}
		HandleServiceError(c, err)
		return
	}

	logCtx.Info("Login: User authenticated")
	SuccessResponse(c, http.StatusOK, LoginResponse{
		Message:  "Login successful",
		Token:    token,
		Username: req.Username,
	})
}
