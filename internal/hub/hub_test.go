package hub_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KafetzisThomas/Chatterbox/internal/domain"
	"github.com/KafetzisThomas/Chatterbox/internal/hub"
	"github.com/KafetzisThomas/Chatterbox/internal/service"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 测试替身 ---

type fakeFrame struct {
	messageType int
	data        []byte
}

// fakeConn 是 hub.Conn 的内存实现，入站消息从 inbound 读取，
// 写出的文本帧收集到 written
type fakeConn struct {
	inbound   chan fakeFrame
	written   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan fakeFrame, 64),
		written: make(chan []byte, 1024),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.messageType, f.data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	if messageType == websocket.TextMessage {
		c.written <- data
	}
	return nil
}

func (c *fakeConn) SetReadLimit(int64)                    {}
func (c *fakeConn) SetReadDeadline(time.Time) error       { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)     {}
func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// fakeProcessor 把入站原文直接作为广播帧返回，可配置历史回放帧
// 和需要拒绝的载荷
type fakeProcessor struct {
	history [][]byte
	reject  string // 与入站原文相等时返回 ErrInvalidMessage
}

func (p *fakeProcessor) HandleInbound(ctx context.Context, roomID uint, raw []byte) (*domain.Message, []byte, error) {
	if p.reject != "" && string(raw) == p.reject {
		return nil, nil, service.ErrInvalidMessage
	}
	return &domain.Message{RoomID: roomID}, raw, nil
}

func (p *fakeProcessor) RecentFrames(ctx context.Context, roomID uint, limit int) ([][]byte, error) {
	return p.history, nil
}

// fakePresence 记录在线状态变更
type fakePresence struct {
	mu      sync.Mutex
	online  []uint
	offline []uint
}

func (p *fakePresence) MarkOnline(ctx context.Context, roomID, userID uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = append(p.online, userID)
	return nil
}

func (p *fakePresence) MarkOffline(ctx context.Context, roomID, userID uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = append(p.offline, userID)
	return nil
}

func (p *fakePresence) onlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}

func (p *fakePresence) offlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.offline)
}

func startHub(t *testing.T, processor hub.MessageProcessor, presence hub.PresenceTracker) *hub.Hub {
	t.Helper()
	h := hub.NewHub(processor, presence)
	go h.Run()
	return h
}

func waitForFrame(t *testing.T, conn *fakeConn) []byte {
	t.Helper()
	select {
	case frame := <-conn.written:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("等待广播帧超时")
		return nil
	}
}

// --- 测试 ---

func TestHub_BroadcastReachesAllClientsIncludingPublisher(t *testing.T) {
	h := startHub(t, &fakeProcessor{}, &fakePresence{})

	connA := newFakeConn()
	connB := newFakeConn()
	clientA := hub.NewClient(h, connA, 1, 3, "alice")
	clientB := hub.NewClient(h, connB, 1, 8, "bob")
	h.Register(clientA)
	h.Register(clientB)
	clientA.Run()
	clientB.Run()

	// 另一个房间的客户端不应收到任何消息
	connOther := newFakeConn()
	clientOther := hub.NewClient(h, connOther, 2, 9, "carol")
	h.Register(clientOther)
	clientOther.Run()

	// alice 发送一条消息
	payload := []byte(`{"username":"alice","message":"hi","image":""}`)
	connA.inbound <- fakeFrame{websocket.TextMessage, payload}

	// 发布者自己和同房间的 bob 都收到回显
	assert.Equal(t, payload, waitForFrame(t, connA), "发布者应收到自己消息的回显")
	assert.Equal(t, payload, waitForFrame(t, connB), "同房间客户端应收到广播")

	// 其他房间保持安静
	select {
	case frame := <-connOther.written:
		t.Fatalf("其他房间不应收到广播: %s", frame)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHub_PerPublisherOrderingIsPreserved(t *testing.T) {
	h := startHub(t, &fakeProcessor{}, &fakePresence{})

	connPub := newFakeConn()
	connSub := newFakeConn()
	publisher := hub.NewClient(h, connPub, 1, 3, "alice")
	subscriber := hub.NewClient(h, connSub, 1, 8, "bob")
	h.Register(publisher)
	h.Register(subscriber)
	publisher.Run()
	subscriber.Run()

	const total = 50
	for i := 0; i < total; i++ {
		connPub.inbound <- fakeFrame{websocket.TextMessage, []byte(fmt.Sprintf("msg-%03d", i))}
	}

	// 订阅者按发布顺序收到全部消息
	for i := 0; i < total; i++ {
		frame := waitForFrame(t, connSub)
		assert.Equal(t, fmt.Sprintf("msg-%03d", i), string(frame), "同一发布者的消息必须保持 FIFO 顺序")
	}
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	presence := &fakePresence{}
	h := startHub(t, &fakeProcessor{}, presence)

	conn := newFakeConn()
	client := hub.NewClient(h, conn, 1, 3, "alice")
	h.Register(client)

	require.Eventually(t, func() bool {
		return h.RoomClientCount(1) == 1
	}, 2*time.Second, 10*time.Millisecond, "客户端应完成注册")

	// 第一次注销移除客户端，第二次是无害的 no-op
	h.Unregister(client)
	h.Unregister(client)

	require.Eventually(t, func() bool {
		return h.RoomClientCount(1) == 0
	}, 2*time.Second, 10*time.Millisecond, "客户端应被移除")

	// 在线状态各记录一次上线和下线
	require.Eventually(t, func() bool {
		return presence.onlineCount() == 1 && presence.offlineCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 从未注册过的客户端也可以安全注销
	stray := hub.NewClient(h, newFakeConn(), 1, 9, "carol")
	h.Unregister(stray)
	assert.Equal(t, 0, h.RoomClientCount(1))
}

func TestHub_SlowConsumerDoesNotBlockBroadcast(t *testing.T) {
	h := startHub(t, &fakeProcessor{}, &fakePresence{})

	// slow 的 WritePump 没有运行，send 缓冲区 (256) 会被填满
	slowConn := newFakeConn()
	slow := hub.NewClient(h, slowConn, 1, 3, "alice")
	h.Register(slow)

	healthyConn := newFakeConn()
	healthy := hub.NewClient(h, healthyConn, 1, 8, "bob")
	h.Register(healthy)
	healthy.Run()

	require.Eventually(t, func() bool {
		return h.RoomClientCount(1) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// 远超慢客户端缓冲区容量的广播量
	const total = 300
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			h.Broadcast(1, []byte(fmt.Sprintf("frame-%03d", i)), nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("慢客户端不应阻塞广播")
	}

	// 健康客户端仍然按顺序收到全部消息
	for i := 0; i < total; i++ {
		frame := waitForFrame(t, healthyConn)
		assert.Equal(t, fmt.Sprintf("frame-%03d", i), string(frame))
	}
}

func TestHub_HistoryReplayOnRegister(t *testing.T) {
	history := [][]byte{
		[]byte(`{"username":"alice","message":"old-1","image":""}`),
		[]byte(`{"username":"bob","message":"old-2","image":""}`),
	}
	h := startHub(t, &fakeProcessor{history: history}, &fakePresence{})

	conn := newFakeConn()
	client := hub.NewClient(h, conn, 1, 3, "alice")
	h.Register(client)
	client.Run()

	// 注册后历史帧按时间顺序回放
	assert.Equal(t, history[0], waitForFrame(t, conn))
	assert.Equal(t, history[1], waitForFrame(t, conn))
}

func TestHub_DisconnectDuringHistoryReplayIsHarmless(t *testing.T) {
	// 大量历史帧让回放 goroutine 在注销之后仍在向 send 写入
	history := make([][]byte, 200)
	for i := range history {
		history[i] = []byte(fmt.Sprintf(`{"username":"alice","message":"old-%03d","image":""}`, i))
	}
	h := startHub(t, &fakeProcessor{history: history}, &fakePresence{})

	// 注册后立刻注销，反复制造 回放写入 与 注销 的竞争。
	// 任何一次迭代向已关闭通道发送都会让整个测试进程 panic。
	for i := 0; i < 500; i++ {
		conn := newFakeConn()
		client := hub.NewClient(h, conn, 1, uint(i%7+1), "alice")
		h.Register(client)
		h.Unregister(client)
		conn.Close()
	}

	require.Eventually(t, func() bool {
		return h.RoomClientCount(1) == 0
	}, 5*time.Second, 10*time.Millisecond, "所有客户端最终都应被移除")
}

func TestHub_InvalidInboundIsDroppedSessionContinues(t *testing.T) {
	h := startHub(t, &fakeProcessor{reject: "bad payload"}, &fakePresence{})

	conn := newFakeConn()
	client := hub.NewClient(h, conn, 1, 3, "alice")
	h.Register(client)
	client.Run()

	// 无效消息被静默丢弃，随后合法消息正常广播
	conn.inbound <- fakeFrame{websocket.TextMessage, []byte("bad payload")}
	conn.inbound <- fakeFrame{websocket.TextMessage, []byte("good payload")}

	assert.Equal(t, "good payload", string(waitForFrame(t, conn)), "无效消息之后会话应继续工作")

	select {
	case frame := <-conn.written:
		t.Fatalf("被丢弃的消息不应被广播: %s", frame)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHub_ConnectionCloseTriggersUnregister(t *testing.T) {
	presence := &fakePresence{}
	h := startHub(t, &fakeProcessor{}, presence)

	conn := newFakeConn()
	client := hub.NewClient(h, conn, 1, 3, "alice")
	h.Register(client)
	client.Run()

	require.Eventually(t, func() bool {
		return h.RoomClientCount(1) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 传输层关闭：ReadPump 退出并注销客户端
	conn.Close()

	require.Eventually(t, func() bool {
		return h.RoomClientCount(1) == 0
	}, 2*time.Second, 10*time.Millisecond, "连接关闭后客户端应被移除")
	require.Eventually(t, func() bool {
		return presence.offlineCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
