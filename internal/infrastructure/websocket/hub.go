// Package websocket 把监控事件实时推送给连接的客户端
package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chatwatch/backend/internal/domain/events"
	"github.com/chatwatch/backend/internal/infrastructure/log"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	sendBuffer = 64
)

// Envelope 推送给客户端的事件包装
type Envelope struct {
	Type events.EventType `json:"type"`
	Time time.Time        `json:"time"`
	Data events.Event     `json:"data"`
}

// Hub WebSocket 连接管理中心
type Hub struct {
	clients    map[*Connection]bool
	register   chan *Connection
	unregister chan *Connection
	broadcast  chan []byte
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// Connection 单个客户端连接
type Connection struct {
	conn *websocket.Conn
	Send chan []byte
}

// 确保 Hub 可以直接订阅事件总线
var _ events.Handler = (*Hub)(nil)

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan []byte, 256),
		stop:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 状态 API 默认只监听本机
			},
		},
		logger: log.NewModuleLogger("websocket", "hub"),
	}
}

// Run 运行 Hub（需要在 goroutine 中运行）
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for conn := range h.clients {
				delete(h.clients, conn)
				close(conn.Send)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(conn.Send)
			}
			h.mu.Unlock()

		case data := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				select {
				case conn.Send <- data:
				default:
					// 客户端消费太慢，断开
					close(conn.Send)
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Start 启动 Hub（启动后台 goroutine）
func (h *Hub) Start() {
	go h.Run()
}

// Stop 停止 Hub 并关闭所有连接
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register 注册连接
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.stop:
	}
}

// Unregister 注销连接
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.stop:
	}
}

// Broadcast 向所有客户端广播
func (h *Hub) Broadcast(data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- jsonData:
	case <-h.stop:
	}
	return nil
}

// HandleEvent 实现 events.Handler，把事件转发给所有客户端
func (h *Hub) HandleEvent(event events.Event) error {
	return h.Broadcast(&Envelope{Type: event.Type(), Time: event.Timestamp(), Data: event})
}

// ServeWS 升级 HTTP 连接并开始推送
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	conn := &Connection{conn: ws, Send: make(chan []byte, sendBuffer)}
	h.Register(conn)

	go h.writePump(conn)
	go h.readPump(conn)
}

// readPump 只处理控制帧，客户端发送的数据被丢弃
func (h *Hub) readPump(c *Connection) {
	defer func() {
		h.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
