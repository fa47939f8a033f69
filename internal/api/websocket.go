// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/ElementFusion/internal/models"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

// DiscoveryClient 表示一个订阅发现广播的 WebSocket 客户端
type DiscoveryClient struct {
	conn      *websocket.Conn
	send      chan []byte
	closed    int32     // 原子操作标志，0=开启，1=关闭
	lastPing  time.Time // 最后一次ping时间
	createdAt time.Time // 创建时间
}

// Close 安全关闭客户端连接
func (client *DiscoveryClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		// 只设置关闭标志，发送通道由写循环的 defer 负责关闭
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *DiscoveryClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后ping时间
func (client *DiscoveryClient) UpdatePing() {
	client.lastPing = time.Now()
}

// IsExpired 检查连接是否超时
func (client *DiscoveryClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(client.lastPing) > timeout
}

// DiscoveryHub 管理所有订阅新元素发现的 WebSocket 连接
// 所有客户端在同一个广播组里，新组合产生时全员收到通知
type DiscoveryHub struct {
	clients       map[*DiscoveryClient]bool
	broadcast     chan []byte
	register      chan *DiscoveryClient
	unregister    chan *DiscoveryClient
	shutdownCh    chan bool
	mutex         sync.RWMutex
	pingTimeout   time.Duration
	cleanupTicker *time.Ticker
}

// NewDiscoveryHub 创建发现广播中心并启动主循环
func NewDiscoveryHub() *DiscoveryHub {
	hub := &DiscoveryHub{
		clients:     make(map[*DiscoveryClient]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *DiscoveryClient, 256),
		unregister:  make(chan *DiscoveryClient, 256),
		shutdownCh:  make(chan bool, 1),
		pingTimeout: 60 * time.Second,
	}

	go hub.run()
	return hub
}

// run 运行广播中心主循环
func (hub *DiscoveryHub) run() {
	hub.cleanupTicker = time.NewTicker(30 * time.Second)
	defer hub.cleanupTicker.Stop()

	for {
		select {
		case client := <-hub.register:
			hub.registerClient(client)

		case client := <-hub.unregister:
			hub.unregisterClient(client)

		case <-hub.cleanupTicker.C:
			hub.cleanupExpiredConnections()

		case message := <-hub.broadcast:
			hub.broadcastMessage(message)

		case <-hub.shutdownCh:
			hub.shutdown()
			return
		}
	}
}

// registerClient 注册新客户端
func (hub *DiscoveryHub) registerClient(client *DiscoveryClient) {
	if client == nil {
		log.Printf("⚠️ 尝试注册 nil 客户端，忽略")
		return
	}

	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	hub.clients[client] = true
	client.UpdatePing()

	log.Printf("✅ WebSocket 客户端已订阅发现广播 (当前 %d 个连接)", len(hub.clients))
}

// unregisterClient 安全注销客户端
// send通道只在这里（以及清理/关闭路径）关闭：先从clients移除再关闭，
// 广播循环与注销在同一个goroutine里串行执行，保证不会向已关闭的通道发送
func (hub *DiscoveryHub) unregisterClient(client *DiscoveryClient) {
	if client == nil {
		return
	}

	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	if _, exists := hub.clients[client]; exists {
		delete(hub.clients, client)
		close(client.send)
	}

	if !client.IsClosed() {
		client.Close()
	}

	log.Printf("🔌 WebSocket 客户端已断开 (剩余 %d 个连接)", len(hub.clients))
}

// cleanupExpiredConnections 清理过期和死连接
func (hub *DiscoveryHub) cleanupExpiredConnections() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for client := range hub.clients {
		if client.IsClosed() || client.IsExpired(hub.pingTimeout) {
			delete(hub.clients, client)
			close(client.send)
			if !client.IsClosed() {
				client.Close()
			}
		}
	}
}

// broadcastMessage 把消息发给所有活跃客户端
func (hub *DiscoveryHub) broadcastMessage(message []byte) {
	hub.mutex.RLock()
	active := make([]*DiscoveryClient, 0, len(hub.clients))
	for client := range hub.clients {
		if !client.IsClosed() {
			active = append(active, client)
		}
	}
	hub.mutex.RUnlock()

	for _, client := range active {
		select {
		case client.send <- message:
			// 消息发送成功
		default:
			// 队列满，关闭该客户端避免阻塞广播
			client.Close()
			select {
			case hub.unregister <- client:
			default:
			}
		}
	}
}

// shutdown 优雅关闭广播中心
func (hub *DiscoveryHub) shutdown() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	log.Println("🛑 正在关闭发现广播中心...")

	for client := range hub.clients {
		client.Close()
		close(client.send)
	}
	hub.clients = make(map[*DiscoveryClient]bool)

	log.Println("✅ 发现广播中心已关闭")
}

// Shutdown 请求关闭广播中心
func (hub *DiscoveryHub) Shutdown() {
	select {
	case hub.shutdownCh <- true:
	default:
	}
}

// NotifyDiscovery 广播新元素发现消息
func (hub *DiscoveryHub) NotifyDiscovery(element *models.Element) {
	message := map[string]interface{}{
		"type":      "combination_discovered",
		"element":   element,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ 序列化发现广播消息失败: %v", err)
		return
	}

	select {
	case hub.broadcast <- msgBytes:
	default:
		log.Printf("⚠️ 发现广播队列已满，消息被丢弃")
	}
}

// GetStatus 获取广播中心状态
func (hub *DiscoveryHub) GetStatus() map[string]interface{} {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()

	clients := make([]interface{}, 0, len(hub.clients))
	activeConnections := 0

	for client := range hub.clients {
		if client != nil && !client.IsClosed() {
			activeConnections++
			clients = append(clients, map[string]interface{}{
				"connected_at": client.createdAt.Format(time.RFC3339),
				"last_ping":    client.lastPing.Format(time.RFC3339),
			})
		}
	}

	return map[string]interface{}{
		"total_connections": activeConnections,
		"clients":           clients,
	}
}

// ServeWS 把HTTP连接升级为WebSocket并接入广播中心
func (hub *DiscoveryHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ WebSocket 升级失败: %v", err)
		return
	}

	client := &DiscoveryClient{
		conn:      conn,
		send:      make(chan []byte, 64),
		lastPing:  time.Now(),
		createdAt: time.Now(),
	}

	hub.register <- client

	go hub.handleWrites(client)
	go hub.handleReads(client)
}

// handleReads 读循环：处理pong并在连接关闭时注销客户端
func (hub *DiscoveryHub) handleReads(client *DiscoveryClient) {
	defer func() {
		hub.unregister <- client
	}()

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(hub.pingTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(hub.pingTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
		client.UpdatePing()
	}
}

// handleWrites 写循环：发送广播消息和定期ping
// 写循环不关闭send通道，只关闭连接；通道的关闭权在hub主循环
func (hub *DiscoveryHub) handleWrites(client *DiscoveryClient) {
	pingTicker := time.NewTicker(hub.pingTimeout / 2)
	defer func() {
		pingTicker.Stop()
		client.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-pingTicker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
