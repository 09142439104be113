package hub

import (
	"context"
	"sync"
	"time"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"

	"github.com/sirupsen/logrus"
)

// 包级别的 WebSocket 常量，供 hub 和 client 包内使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	// base64 图片走同一条消息通道，所以上限要足够大
	maxMessageSize = 1 << 20

	// 注册后回放给新连接的历史消息条数
	historyReplayLimit = 50
)

// MessageProcessor 是 Hub 对消息处理管线的依赖：
// 校验、持久化入站消息并产出广播帧，以及为新连接提供历史回放帧。
// *service.ChatService 实现了该接口。
type MessageProcessor interface {
	HandleInbound(ctx context.Context, roomID uint, raw []byte) (*domain.Message, []byte, error)
	RecentFrames(ctx context.Context, roomID uint, limit int) ([][]byte, error)
}

// PresenceTracker 维护每个房间的在线用户集合。
// repository.PresenceRepository 实现了该接口。
type PresenceTracker interface {
	MarkOnline(ctx context.Context, roomID, userID uint) error
	MarkOffline(ctx context.Context, roomID, userID uint) error
}

// HubMessage 定义了在 Hub 内部通道传递的事件类型
type HubMessage struct {
	Type   string  // "register", "unregister", "broadcast"
	RoomID uint    // 房间 ID
	Client *Client // register/unregister 的目标；broadcast 时为发布者
	Frame  []byte  // 仅用于 broadcast (序列化好的出站帧)
}

// Hub 维护活跃客户端集合并把消息扇出到房间内的所有连接。
// 所有状态变更 (注册、注销、广播) 都经由单一事件循环串行处理，
// 因此同一发布者的广播帧严格按提交顺序入队到每个接收者。
type Hub struct {
	// 内部通道，处理所有来自 Client 和 Handler 的事件
	messageChan chan HubMessage

	// 客户端集合，按 RoomID 组织
	// map[roomID]map[*Client]bool
	rooms map[uint]map[*Client]bool
	// 保护 rooms map 的读写锁
	roomsMu sync.RWMutex

	processor MessageProcessor
	presence  PresenceTracker
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(processor MessageProcessor, presence PresenceTracker) *Hub {
	// 启动时检查依赖注入是否有效
	if processor == nil {
		panic("MessageProcessor cannot be nil for Hub")
	}
	if presence == nil {
		panic("PresenceTracker cannot be nil for Hub")
	}
	return &Hub{
		// 创建带缓冲区的通道，大小可根据预期负载调整
		messageChan: make(chan HubMessage, 512),
		rooms:       make(map[uint]map[*Client]bool),
		processor:   processor,
		presence:    presence,
	}
}

// Run 启动 Hub 的主事件处理循环。
// 它应该在一个单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	// 持续从 messageChan 读取并处理事件。
	// broadcast 必须在循环内同步处理：这是同一发布者消息保持
	// FIFO 顺序的前提，不能交给 goroutine。
	for msg := range h.messageChan {
		switch msg.Type {
		case "register":
			h.registerClient(msg.Client)
		case "unregister":
			h.unregisterClient(msg.Client)
		case "broadcast":
			h.broadcast(msg.RoomID, msg.Frame)
		default:
			log.Warnf("Hub: Received unknown message type: %s for room %d", msg.Type, msg.RoomID)
		}
	}
	// 当 messageChan 关闭时，循环结束
	log.Info("Hub is shutting down...")
}

// Register 将客户端注册请求提交给 Hub (阻塞直到事件循环接收)。
func (h *Hub) Register(client *Client) {
	h.messageChan <- HubMessage{Type: "register", RoomID: client.RoomID(), Client: client}
}

// Unregister 将客户端注销请求提交给 Hub (阻塞直到事件循环接收)。
// 对同一客户端重复调用是安全的。
func (h *Hub) Unregister(client *Client) {
	h.messageChan <- HubMessage{Type: "unregister", RoomID: client.RoomID(), Client: client}
}

// Broadcast 将一帧消息提交给 Hub，扇出到房间内的所有客户端 (包括发布者)。
// 阻塞直到事件循环接收，保证同一调用方的帧按提交顺序处理。
func (h *Hub) Broadcast(roomID uint, frame []byte, publisher *Client) {
	h.messageChan <- HubMessage{Type: "broadcast", RoomID: roomID, Client: publisher, Frame: frame}
}

// registerClient 处理客户端注册逻辑
func (h *Hub) registerClient(client *Client) {
	// 防御性编程：检查 client 是否为 nil
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	roomID := client.RoomID()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":   roomID,
		"user_id":   client.UserID(),
		"client_id": client.ID(),
		"action":    "registerClient",
	})

	h.roomsMu.Lock()
	// 检查房间是否存在，不存在则创建
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
		logCtx.Info("Client list created for new room")
	}
	// 将客户端添加到房间
	h.rooms[roomID][client] = true
	h.roomsMu.Unlock() // 操作完成后立即解锁
	logCtx.Info("Client registered to Hub")

	// 在线状态和历史回放都是带外操作，不阻塞事件循环
	go h.markPresence(client, true)
	go h.sendHistory(client)
}

// unregisterClient 处理客户端注销逻辑。
// 幂等：对未注册或已注销的客户端调用是无害的 no-op。
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	roomID := client.RoomID()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":   roomID,
		"user_id":   client.UserID(),
		"client_id": client.ID(),
		"action":    "unregisterClient",
	})

	removed := false
	h.roomsMu.Lock()
	if roomClients, roomExists := h.rooms[roomID]; roomExists {
		if _, clientExists := roomClients[client]; clientExists {
			// 从房间中删除客户端
			delete(roomClients, client)
			removed = true

			// 如果房间变空，则从 Hub 中删除该房间记录
			if len(roomClients) == 0 {
				delete(h.rooms, roomID)
				logCtx.Info("Room empty, removed from Hub")
			}
		}
	}
	h.roomsMu.Unlock()

	// 通知 WritePump 和带外写入方 (历史回放) 退出。shutdown 内部
	// 用 sync.Once 保护，所以重复注销不会重复关闭。send 通道本身
	// 不关闭，回放 goroutine 可能还持有发送端。
	client.shutdown()

	if removed {
		logCtx.Info("Client unregistered from Hub")
		go h.markPresence(client, false)
	} else {
		logCtx.Debug("Unregister for client not present in Hub, ignoring")
	}
}

// sendHistory 获取房间最近的消息帧并回放给新连接的客户端
func (h *Hub) sendHistory(client *Client) {
	if client == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":   client.RoomID(),
		"client_id": client.ID(),
		"operation": "sendHistory",
	})

	// 使用后台 context，因为 Service 调用可能涉及 IO 且不应被原始请求取消
	ctx := context.Background()
	frames, err := h.processor.RecentFrames(ctx, client.RoomID(), historyReplayLimit)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load message history for replay")
		return
	}
	for _, frame := range frames {
		// 客户端可能在回放途中注销；监听 done 而不是关闭 send，
		// 否则这里会向已关闭的通道发送
		select {
		case client.send <- frame:
		case <-client.done:
			logCtx.Debug("Client unregistered during history replay, stopping replay")
			return
		default:
			logCtx.Warn("Client send channel full during history replay, stopping replay")
			return
		}
	}
	if len(frames) > 0 {
		logCtx.WithField("frame_count", len(frames)).Debug("Message history replayed to client")
	}
}

// markPresence 更新房间在线集合，尽力而为
func (h *Hub) markPresence(client *Client, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if online {
		err = h.presence.MarkOnline(ctx, client.RoomID(), client.UserID())
	} else {
		err = h.presence.MarkOffline(ctx, client.RoomID(), client.UserID())
	}
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"room_id": client.RoomID(),
			"user_id": client.UserID(),
			"online":  online,
		}).Warn("Failed to update presence state")
	}
}

// broadcast 将消息帧发送给指定房间的所有客户端 (包括发布者，
// 客户端靠回显渲染自己的消息)。
func (h *Hub) broadcast(roomID uint, frame []byte) {
	h.roomsMu.RLock()
	roomClients, ok := h.rooms[roomID]
	// 创建一个接收者列表的副本，以避免长时间持有锁
	clientsToSend := make([]*Client, 0, len(roomClients))
	for client := range roomClients {
		clientsToSend = append(clientsToSend, client)
	}
	h.roomsMu.RUnlock() // 尽快释放读锁

	// 如果没有接收者，则直接返回
	if !ok || len(clientsToSend) == 0 {
		return
	}

	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":         roomID,
		"message_size":    len(frame),
		"recipient_count": len(clientsToSend),
	})
	logCtx.Debug("Broadcasting message to clients")

	// 遍历副本列表进行发送
	for _, client := range clientsToSend {
		// 使用非阻塞发送，避免单个慢客户端阻塞广播
		select {
		case client.send <- frame:
			// 消息成功放入该客户端的发送队列
		default:
			// 如果客户端的发送通道已满，跳过该客户端。
			// 让该客户端的 WritePump 或读取路径负责处理后续问题（如断开连接）。
			logCtx.WithField("receiver_client_id", client.ID()).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}

// RoomClientCount 返回指定房间当前注册的客户端数量，供状态接口使用。
func (h *Hub) RoomClientCount(roomID uint) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomID])
}
