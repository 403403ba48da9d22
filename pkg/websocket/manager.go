package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"breezy-server/internal/presence"

	"github.com/gorilla/websocket"
)

// Client 代表一个WebSocket连接
// ConnID: 连接ID（每次连接生成）
// UserID: 准入成功后绑定的用户ID，匿名连接为空
// Send: 发送消息的通道

type Client struct {
	ConnID string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Manager 管理所有活跃的WebSocket连接，按连接ID索引
// 同时承担状态变更的扇出：尽力而为，至多一次，不排队不重试

type Manager struct {
	clients map[string]*Client
	lock    sync.RWMutex
}

var manager = &Manager{
	clients: make(map[string]*Client),
}

// GetManager 获取全局WebSocket管理器
func GetManager() *Manager {
	return manager
}

// AddClient 添加新连接
func (m *Manager) AddClient(client *Client) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.clients[client.ConnID] = client
}

// RemoveClient 移除连接
func (m *Manager) RemoveClient(connID string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if c, ok := m.clients[connID]; ok {
		close(c.Send)
		delete(m.clients, connID)
	}
}

// Live 当前存活连接ID集合（对账用）
func (m *Manager) Live() map[string]struct{} {
	m.lock.RLock()
	defer m.lock.RUnlock()
	live := make(map[string]struct{}, len(m.clients))
	for id := range m.clients {
		live[id] = struct{}{}
	}
	return live
}

// Broadcast 广播状态变更事件给除指定连接外的所有连接
func (m *Manager) Broadcast(ev *presence.StatusEvent, excludeConnID string) {
	msg, err := json.Marshal(map[string]interface{}{
		"type": "user status",
		"user": map[string]interface{}{
			"id":        ev.UserID,
			"status":    ev.Status,
			"last_seen": ev.LastSeen.Format(time.RFC3339),
		},
	})
	if err != nil {
		return
	}
	m.BroadcastRaw(msg, excludeConnID)
}

// ForceLogout 通知被顶替的旧连接下线
// 仅为通知：服务端记录已经是权威状态，客户端是否照办不影响结果
func (m *Manager) ForceLogout(connID string) {
	msg, err := json.Marshal(map[string]interface{}{
		"type": "force logout",
	})
	if err != nil {
		return
	}
	m.SendTo(connID, msg)
}

// BroadcastRaw 广播原始消息
func (m *Manager) BroadcastRaw(msg []byte, excludeConnID string) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	for id, client := range m.clients {
		if id == excludeConnID {
			continue
		}
		select {
		case client.Send <- msg:
		default:
			// 发送缓冲已满，丢弃：慢消费者错过的事件由下次fetch补齐
		}
	}
}

// SendTo 给指定连接发送消息
func (m *Manager) SendTo(connID string, msg []byte) {
	m.lock.RLock()
	client, ok := m.clients[connID]
	m.lock.RUnlock()
	if !ok {
		return
	}
	select {
	case client.Send <- msg:
	default:
	}
}
