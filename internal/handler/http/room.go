package http

import (
	"net/http"
	"strconv"

	// 导入 Service 和定义的业务错误
	"github.com/KafetzisThomas/Chatterbox/internal/repository"
	"github.com/KafetzisThomas/Chatterbox/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RoomHandler 封装了与聊天房间相关的 HTTP 处理逻辑：
// 房间解析、消息历史、在线列表、房间删除。
type RoomHandler struct {
	roomService  *service.RoomService
	chatService  *service.ChatService
	presenceRepo repository.PresenceRepository
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService, chatService *service.ChatService, presenceRepo repository.PresenceRepository) *RoomHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	if chatService == nil {
		panic("ChatService cannot be nil for RoomHandler")
	}
	if presenceRepo == nil {
		panic("PresenceRepository cannot be nil for RoomHandler")
	}
	return &RoomHandler{
		roomService:  roomService,
		chatService:  chatService,
		presenceRepo: presenceRepo,
	}
}

// StartChatRequest 定义发起聊天请求的结构体。
// other_username 为空时解析群聊房间 (group_name 可选)。
type StartChatRequest struct {
	Username      string `json:"username" binding:"required"`
	OtherUsername string `json:"other_username"`
	GroupName     string `json:"group_name"`
}

// StartChatResponse 定义发起聊天成功的响应结构体
type StartChatResponse struct {
	Message string `json:"message"`
	RoomID  uint   `json:"room_id"`
	RoomKey string `json:"room_key"`
}

// StartChat 解析 (或创建) 一个聊天房间并返回其标识。
// 客户端随后用房间信息建立 WebSocket 连接。
func (h *RoomHandler) StartChat(c *gin.Context) {
	var req StartChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.StartChat: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: username is required"})
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"username":       req.Username,
		"other_username": req.OtherUsername,
	})

	var resolved *StartChatResponse
	if req.OtherUsername != "" {
		directRoom, err := h.roomService.ResolveDirect(c.Request.Context(), req.Username, req.OtherUsername)
		if err != nil {
			HandleServiceError(c, err)
			return
		}
		resolved = &StartChatResponse{Message: "Chat room resolved", RoomID: directRoom.ID, RoomKey: directRoom.RoomKey}
	} else {
		groupRoom, err := h.roomService.ResolveGroup(c.Request.Context(), req.GroupName, req.Username)
		if err != nil {
			HandleServiceError(c, err)
			return
		}
		resolved = &StartChatResponse{Message: "Chat room resolved", RoomID: groupRoom.ID, RoomKey: groupRoom.RoomKey}
	}

	logCtx.WithField("room_id", resolved.RoomID).Info("Handler.StartChat: Room resolved")
	c.JSON(http.StatusOK, resolved)
}

// GetMessages 返回房间的消息历史 (升序)。
// limit 查询参数限制返回条数，省略或非法时返回全部。
func (h *RoomHandler) GetMessages(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("room_id", roomID)

	// 先确认房间存在，未知房间返回 404 而不是空列表
	if _, err := h.roomService.FindRoomByID(c.Request.Context(), roomID); err != nil {
		HandleServiceError(c, err)
		return
	}

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = parsed
	}

	entries, err := h.chatService.History(c.Request.Context(), roomID, limit)
	if err != nil {
		logCtx.WithError(err).Error("Handler.GetMessages: Failed to load history")
		HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":  roomID,
		"messages": entries,
	})
}

// GetOnline 返回房间当前在线的用户 ID 集合。
func (h *RoomHandler) GetOnline(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("room_id", roomID)

	if _, err := h.roomService.FindRoomByID(c.Request.Context(), roomID); err != nil {
		HandleServiceError(c, err)
		return
	}

	userIDs, err := h.presenceRepo.ListOnline(c.Request.Context(), roomID)
	if err != nil {
		logCtx.WithError(err).Error("Handler.GetOnline: Failed to list online users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load online users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":         roomID,
		"online_user_ids": userIDs,
		"count":           len(userIDs),
	})
}

// DeleteRoom 删除房间及其全部消息。
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("room_id", roomID)

	if err := h.roomService.DeleteRoom(c.Request.Context(), roomID); err != nil {
		logCtx.WithError(err).Warn("Handler.DeleteRoom: Failed to delete room")
		HandleServiceError(c, err)
		return
	}

	logCtx.Info("Handler.DeleteRoom: Room deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted successfully"})
}

// parseRoomID 从 URL 参数解析房间 ID，失败时已写入 400 响应
func parseRoomID(c *gin.Context) (uint, bool) {
	roomIDStr := c.Param("roomId")
	roomIDUint64, err := strconv.ParseUint(roomIDStr, 10, 32)
	if err != nil {
		logrus.WithError(err).Warnf("Invalid room ID format: %s", roomIDStr)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID format"})
		return 0, false
	}
	return uint(roomIDUint64), true
}
