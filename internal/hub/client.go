package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KafetzisThomas/Chatterbox/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Conn 抽象了 Client 用到的 WebSocket 连接操作，
// *websocket.Conn 实现了该接口；测试中可以用内存实现替代。
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client 代表一个连接到 Hub 的 WebSocket 会话。
// 同一用户可以有多个并发会话 (多标签页)，每个会话有独立的连接 ID。
type Client struct {
	id       string // 连接级别的唯一 ID
	hub      *Hub   // 指向其所属的 Hub
	conn     Conn   // WebSocket 连接
	roomID   uint   // 客户端所在的房间 ID
	userID   uint   // 客户端的用户 ID
	username string // 客户端的用户名

	send chan []byte   // 用于向此客户端发送消息的缓冲通道
	done chan struct{} // 注销时关闭，通知 WritePump 和所有带外写入方停止

	closeOnce sync.Once // 保证 done 只被关闭一次
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn Conn, roomID, userID uint, username string) *Client {
	return &Client{
		id:       uuid.NewString(),
		hub:      hub,
		conn:     conn,
		roomID:   roomID,
		userID:   userID,
		username: username,
		// send 通道缓冲区大小，例如 256
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 从 WebSocket 连接读取入站消息并驱动处理管线。
// 每条消息同步地经过 校验→持久化→提交广播，因此同一客户端的
// 消息以到达顺序进入 Hub 事件循环 (发布者内 FIFO)。
// 它在自己的 goroutine 中运行；连接断开时触发注销。
func (c *Client) ReadPump() {
	logCtx := logrus.WithFields(logrus.Fields{
		"client_id": c.id,
		"user_id":   c.userID,
		"room_id":   c.roomID,
	})
	defer func() {
		// 清理操作：注销此客户端并关闭连接。
		// Unregister 是幂等的，即使 Handler 侧已经注销过也安全。
		c.hub.Unregister(c)
		c.conn.Close()
		logCtx.Info("readPump exited, client unregistered")
	}()

	c.conn.SetReadLimit(maxMessageSize) // 设置最大消息大小
	// 设置初始读取超时和 Pong 处理程序
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) // 收到 Pong 后重置读取超时
		return nil
	})

	for {
		// 从 WebSocket 读取消息
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			// 处理读取错误或连接关闭
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			break // 退出循环，触发 defer 中的注销
		}

		// 只处理文本消息
		if messageType != websocket.TextMessage {
			logCtx.Debugf("Received non-text message type: %d", messageType)
			continue
		}
		logCtx.Debugf("Received raw message (size: %d)", len(message))

		// 同步处理：校验并持久化。无效消息和未知作者被静默丢弃，
		// 会话继续；只有内部错误才值得升级日志级别。
		_, frame, err := c.hub.processor.HandleInbound(context.Background(), c.roomID, message)
		if err != nil {
			if errors.Is(err, service.ErrInvalidMessage) || errors.Is(err, service.ErrUserNotFound) {
				logCtx.Debug("Inbound message dropped")
			} else {
				logCtx.WithError(err).Error("Failed to process inbound message")
			}
			continue
		}

		// 持久化成功后提交广播 (阻塞提交，保持本客户端的消息顺序)
		c.hub.Broadcast(c.roomID, frame, c)
	}
}

// WritePump 将消息从 Client 的 send 通道泵送到 WebSocket 连接。
// 它在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	logCtx := logrus.WithFields(logrus.Fields{
		"client_id": c.id,
		"user_id":   c.userID,
		"room_id":   c.roomID,
	})
	// 创建一个定时器，用于定期发送 Ping 消息
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()  // 停止定时器
		c.conn.Close() // 关闭 WebSocket 连接
		logCtx.Info("writePump exited")
		// 不需要在这里 unregister，readPump 退出会处理
	}()

	for {
		select {
		case message := <-c.send:
			// 设置写入超时
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// 将消息写入 WebSocket 连接
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				// 写入失败，记录错误并退出
				logCtx.WithError(err).Warn("Failed to write message to websocket")
				return
			}

			// 清除写入超时
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-c.done:
			// Hub 已注销此客户端，向对端发送 WebSocket 关闭帧后退出
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			logCtx.Info("Client closed, writePump stopping")
			return

		case <-ticker.C:
			// 定时器触发，发送 Ping 消息以保持连接活跃并检测断开
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// 发送 Ping 失败，通常意味着连接已断开
				logCtx.WithError(err).Warn("Failed to send ping message")
				return // 退出 writePump
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

// shutdown 关闭 done 通道，至多执行一次。由 Hub 在注销时调用。
// send 通道本身永远不关闭：历史回放等带外 goroutine 可能仍持有
// 发送端，向已关闭的通道发送会 panic。写入方改为监听 done 来退出。
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) ID() string       { return c.id }
func (c *Client) RoomID() uint     { return c.roomID }
func (c *Client) UserID() uint     { return c.userID }
func (c *Client) Username() string { return c.username }
