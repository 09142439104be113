package websocket

import (
	"errors"
	"net/http"

	// 导入 Service, Hub, Client 定义
	"github.com/KafetzisThomas/Chatterbox/internal/domain"
	"github.com/KafetzisThomas/Chatterbox/internal/hub"
	"github.com/KafetzisThomas/Chatterbox/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket" // 导入 websocket 库
	"github.com/sirupsen/logrus"
)

// WebSocketHandler 负责 WebSocket 连接的建立：解析并验证房间，
// 升级协议，注册客户端并启动读写循环。
// 所有验证都在升级之前完成，验证失败用普通 HTTP 状态码拒绝。
type WebSocketHandler struct {
	upgrader    websocket.Upgrader   // WebSocket 升级器
	hub         *hub.Hub             // 依赖 Hub
	roomService *service.RoomService // 依赖 RoomService 解析房间
	authService *service.AuthService // 依赖 AuthService 解析连接方身份
}

// NewWebSocketHandler 创建 WebSocketHandler 实例
func NewWebSocketHandler(hub *hub.Hub, roomService *service.RoomService, authService *service.AuthService) *WebSocketHandler {
	if hub == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if roomService == nil {
		panic("RoomService cannot be nil for WebSocketHandler")
	}
	if authService == nil {
		panic("AuthService cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024, // 根据需要调整
		WriteBufferSize: 1024,
		// 允许所有来源连接 (生产环境应配置具体的允许来源)
		CheckOrigin: func(r *http.Request) bool {
			return true // 暂时允许所有
		},
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		hub:         hub,
		roomService: roomService,
		authService: authService,
	}
}

// HandleDirectChat 处理私聊 WebSocket 连接请求
// URL 预期格式: /ws/chat/{username}/{other_username}
// 第一个用户名是连接方。两个用户名顺序无关，解析到同一个房间。
func (h *WebSocketHandler) HandleDirectChat(c *gin.Context) {
	username := c.Param("username")
	otherUsername := c.Param("other_username")
	logCtx := logrus.WithFields(logrus.Fields{
		"username":       username,
		"other_username": otherUsername,
	})

	// 1. 解析 (或创建) 私聊房间。任一用户不存在时在升级前拒绝。
	room, err := h.roomService.ResolveDirect(c.Request.Context(), username, otherUsername)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			logCtx.Warn("WS Handler: Participant not found, rejecting connection")
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		case errors.Is(err, service.ErrSelfChat):
			logCtx.Warn("WS Handler: Self chat rejected")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot start a chat with yourself"})
		default:
			logCtx.WithError(err).Error("WS Handler: Error resolving direct room")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve room"})
		}
		return
	}

	// 2. 解析连接方身份 (房间解析已验证过用户存在，这里只是取 ID)
	caller, err := h.authService.ResolveUser(c.Request.Context(), username)
	if err != nil {
		logCtx.WithError(err).Error("WS Handler: Failed to resolve caller after room resolution")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve user"})
		return
	}

	h.establish(c, room, caller, logCtx)
}

// HandleGroupChat 处理群聊 WebSocket 连接请求
// URL 预期格式: /ws/group 或 /ws/group/{name}，连接方用户名由
// username 查询参数给出。省略 name 时进入默认群聊房间。
func (h *WebSocketHandler) HandleGroupChat(c *gin.Context) {
	name := c.Param("name")
	username := c.Query("username")
	logCtx := logrus.WithFields(logrus.Fields{
		"group_name": name,
		"username":   username,
	})

	if username == "" {
		logCtx.Warn("WS Handler: Missing username query parameter")
		c.JSON(http.StatusBadRequest, gin.H{"error": "username query parameter is required"})
		return
	}

	room, err := h.roomService.ResolveGroup(c.Request.Context(), name, username)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			logCtx.Warn("WS Handler: Caller not found, rejecting connection")
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		} else {
			logCtx.WithError(err).Error("WS Handler: Error resolving group room")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve room"})
		}
		return
	}

	caller, err := h.authService.ResolveUser(c.Request.Context(), username)
	if err != nil {
		logCtx.WithError(err).Error("WS Handler: Failed to resolve caller after room resolution")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve user"})
		return
	}

	h.establish(c, room, caller, logCtx)
}

// establish 完成协议升级、客户端注册和读写循环启动。
// 升级之后不再返回 HTTP 错误；任何后续失败都通过关闭连接表达。
func (h *WebSocketHandler) establish(c *gin.Context, room *domain.Room, caller *domain.User, logCtx *logrus.Entry) {
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": room.ID, "user_id": caller.ID})

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 方法会自动发送 HTTP 错误响应，所以这里只需要记录日志
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	client := hub.NewClient(h.hub, conn, room.ID, caller.ID, caller.Username)
	h.hub.Register(client)
	client.Run()

	logCtx.WithField("client_id", client.ID()).Info("WS Handler: Client registered, read/write pumps started")
	// 一旦启动了 goroutine，这个 Handler 函数就结束了。
	// 后续的 WebSocket 通信由 client.ReadPump 和 client.WritePump 处理。
}
