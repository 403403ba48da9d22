package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"breezy-server/config"
	"breezy-server/internal/presence"
	"breezy-server/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域
	},
}

// Handler WebSocket接入层
// 准入判定、读写泵、入站状态指令的分发都在这里
type Handler struct {
	admission *presence.Admission
	ledger    *presence.Ledger
	manager   *Manager
	cfg       config.WebSocketConfig
}

// NewHandler 创建WebSocket接入层
func NewHandler(admission *presence.Admission, ledger *presence.Ledger, manager *Manager, cfg config.WebSocketConfig) *Handler {
	return &Handler{admission: admission, ledger: ledger, manager: manager, cfg: cfg}
}

// inbound 客户端入站消息
type inbound struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
}

// Serve Gin路由处理函数
// token缺失按匿名连接放行；token无效按准入策略处理
func (h *Handler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Sec-WebSocket-Protocol"), "Bearer ")
	}

	connID := xid.New().String()

	identity, err := h.admission.Admit(c.Request.Context(), token, connID)
	if err != nil {
		logger.Warn("连接准入失败",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		if h.admission.Policy() == presence.PolicyReject {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		// anonymous策略：降级为匿名连接继续
		identity = nil
	}

	// 回显子协议，避免客户端提示 "Server sent no subprotocol"
	respHeader := http.Header{}
	if protocol := c.GetHeader("Sec-WebSocket-Protocol"); protocol != "" {
		respHeader.Set("Sec-WebSocket-Protocol", protocol)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		return
	}

	client := &Client{
		ConnID: connID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
	if identity != nil {
		client.UserID = identity.UserID
	}
	h.manager.AddClient(client)

	logger.Info("socket已连接",
		zap.String("conn_id", connID),
		zap.String("user_id", client.UserID),
	)

	defer func() {
		h.manager.RemoveClient(connID)
		if identity != nil {
			// 干净断开：清绑定、置离线、盖戳
			// 被顶替的旧连接断开时返回ErrNotBound，不影响新会话
			if _, err := h.ledger.Disconnect(c.Request.Context(), identity.UserID, connID); err != nil && !errors.Is(err, presence.ErrNotBound) {
				logger.Error("断开落账失败",
					zap.String("user_id", identity.UserID),
					zap.Error(err),
				)
			}
		}
		logger.Info("socket已断开", zap.String("conn_id", connID))
	}()

	// 写泵 + 定时ping心跳
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-client.Send:
				if !ok {
					return
				}
				_ = conn.WriteMessage(websocket.TextMessage, msg)
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	// 读泵：超时未收到任何读事件则断开
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(appData string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		var msg inbound
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "status":
			h.handleSetStatus(c, client, identity, msg.Status)
		case "heartbeat":
			// 读deadline已顺延，无需落账：LastSeen只在真实在线进出时推进
		}
	}
}

// handleSetStatus 处理显式状态变更指令
func (h *Handler) handleSetStatus(c *gin.Context, client *Client, identity *presence.Identity, status string) {
	if identity == nil {
		h.sendError(client, "authentication required")
		return
	}

	_, err := h.ledger.SetStatus(c.Request.Context(), identity.UserID, client.ConnID, presence.Status(status))
	switch {
	case err == nil:
		h.sendAck(client, status)
	case errors.Is(err, presence.ErrInvalidStatus):
		h.sendError(client, "invalid status value")
	case errors.Is(err, presence.ErrNotBound):
		h.sendError(client, "connection is no longer bound")
	default:
		logger.Error("状态变更落账失败",
			zap.String("user_id", identity.UserID),
			zap.Error(err),
		)
		h.sendError(client, "status update failed, please retry")
	}
}

// sendAck 回执：告知请求方其新的状态意图
func (h *Handler) sendAck(client *Client, status string) {
	msg, err := json.Marshal(map[string]interface{}{
		"type":   "status ack",
		"status": status,
	})
	if err != nil {
		return
	}
	h.manager.SendTo(client.ConnID, msg)
}

// sendError 给请求方回结构化错误
func (h *Handler) sendError(client *Client, message string) {
	msg, err := json.Marshal(map[string]interface{}{
		"type":    "error",
		"message": message,
	})
	if err != nil {
		return
	}
	h.manager.SendTo(client.ConnID, msg)
}
