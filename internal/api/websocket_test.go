// internal/api/websocket_test.go
package api

import (
	"testing"
	"time"
)

// 构建不启动主循环的广播中心，测试中按主循环的串行顺序直接调用其方法
func newIdleHub() *DiscoveryHub {
	return &DiscoveryHub{
		clients:     make(map[*DiscoveryClient]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *DiscoveryClient, 256),
		unregister:  make(chan *DiscoveryClient, 256),
		shutdownCh:  make(chan bool, 1),
		pingTimeout: time.Minute,
	}
}

func newIdleClient(buffer int) *DiscoveryClient {
	return &DiscoveryClient{
		send:      make(chan []byte, buffer),
		lastPing:  time.Now(),
		createdAt: time.Now(),
	}
}

// TestHubBroadcastAfterUnregister 测试注销后的广播不会向已关闭的通道发送
func TestHubBroadcastAfterUnregister(t *testing.T) {
	hub := newIdleHub()
	client := newIdleClient(64)

	hub.registerClient(client)

	// 客户端断开：写循环退出，随后主循环处理注销
	client.Close()
	hub.unregisterClient(client)

	// 注销后的广播不应该panic（注销时通道已关闭且客户端已移出clients）
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("注销后广播不应该panic: %v", r)
		}
	}()
	hub.broadcastMessage([]byte(`{"type":"combination_discovered"}`))

	// send通道应该已被主循环关闭
	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("注销后send通道不应该还有消息")
		}
	default:
		t.Fatal("注销后send通道应该已关闭")
	}
}

// TestHubUnregisterIdempotent 测试重复注销不会重复关闭通道
func TestHubUnregisterIdempotent(t *testing.T) {
	hub := newIdleHub()
	client := newIdleClient(64)

	hub.registerClient(client)

	// 读循环和清理路径可能对同一客户端各触发一次注销
	hub.unregisterClient(client)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("重复注销不应该panic: %v", r)
		}
	}()
	hub.unregisterClient(client)
}

// TestHubBroadcastDeliversToActiveClient 测试广播送达活跃客户端
func TestHubBroadcastDeliversToActiveClient(t *testing.T) {
	hub := newIdleHub()
	client := newIdleClient(64)

	hub.registerClient(client)

	message := []byte(`{"type":"combination_discovered"}`)
	hub.broadcastMessage(message)

	select {
	case got := <-client.send:
		if string(got) != string(message) {
			t.Fatalf("广播消息不正确: %s", got)
		}
	default:
		t.Fatal("活跃客户端应该收到广播消息")
	}
}

// TestHubBroadcastFullQueue 测试队列已满的客户端被关闭并排队注销
func TestHubBroadcastFullQueue(t *testing.T) {
	hub := newIdleHub()
	client := newIdleClient(1)

	hub.registerClient(client)

	// 塞满发送队列
	client.send <- []byte("first")

	hub.broadcastMessage([]byte("second"))

	if !client.IsClosed() {
		t.Fatal("队列已满的客户端应该被关闭")
	}

	// 客户端应该已进入注销队列，主循环处理后通道被关闭
	select {
	case pending := <-hub.unregister:
		hub.unregisterClient(pending)
	default:
		t.Fatal("队列已满的客户端应该被排队注销")
	}

	if _, exists := hub.clients[client]; exists {
		t.Fatal("注销后客户端不应该还在连接表中")
	}
}

// TestHubCleanupExpiredClosesSend 测试过期清理路径关闭send通道
func TestHubCleanupExpiredClosesSend(t *testing.T) {
	hub := newIdleHub()
	hub.pingTimeout = time.Millisecond

	client := newIdleClient(64)
	client.lastPing = time.Now().Add(-time.Second)

	hub.registerClient(client)
	client.lastPing = time.Now().Add(-time.Second) // registerClient会刷新ping时间

	hub.cleanupExpiredConnections()

	if _, exists := hub.clients[client]; exists {
		t.Fatal("过期客户端应该被清理")
	}

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("清理后send通道不应该还有消息")
		}
	default:
		t.Fatal("清理后send通道应该已关闭")
	}
}
