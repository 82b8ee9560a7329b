package httpapi

import (
	"net/http"
	"sync"
	"time"

	"wisefido-surgical/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type hubClient struct {
	send chan models.SafetyAlert
}

// AlertHub 报警 WebSocket 推送
// 慢客户端缓冲满时丢弃该客户端的新报警，不阻塞报警追加路径
type AlertHub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	dropped uint64
	logger  *zap.Logger
}

func NewAlertHub(logger *zap.Logger) *AlertHub {
	return &AlertHub{
		clients: make(map[*hubClient]struct{}),
		logger:  logger,
	}
}

// Broadcast AlertStore 追加回调
func (h *AlertHub) Broadcast(alert models.SafetyAlert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- alert:
		default:
			h.dropped++
		}
	}
}

// Clients 当前连接数
func (h *AlertHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped 因客户端缓冲满而未推送的报警数
func (h *AlertHub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

func (h *AlertHub) register() *hubClient {
	c := &hubClient{send: make(chan models.SafetyAlert, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *AlertHub) unregister(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeWS GET /api/v1/safety/alerts/ws
func (h *AlertHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := h.register()
	defer h.unregister(c)
	h.logger.Debug("Alert stream client connected", zap.String("remote", r.RemoteAddr))

	// 读循环只用于感知断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("WebSocket read error", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case alert := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(alert); err != nil {
				h.logger.Debug("WebSocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
