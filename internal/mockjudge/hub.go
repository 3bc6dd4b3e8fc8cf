package mockjudge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"practiceoj/internal/client/push"
	"practiceoj/pkg/utils/contextkey"
	"practiceoj/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer = 32
	writeWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans submission events out to every connection of a user.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{users: make(map[string]map[*subscriber]struct{})}
}

// Serve upgrades the request and blocks until the connection closes.
func (h *Hub) Serve(c *gin.Context, userID string) {
	ctx := context.WithValue(c.Request.Context(), contextkey.UserID, userID)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "upgrade websocket failed", zap.Error(err))
		return
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(userID, sub)
	logger.Info(ctx, "push subscriber connected")

	done := make(chan struct{})
	go h.writePump(sub, done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(userID, sub)
	close(done)
	_ = conn.Close()
	logger.Info(ctx, "push subscriber disconnected")
}

// Publish sends one event to every connection of userID and returns the number of receivers.
func (h *Hub) Publish(userID, event string, data interface{}) int {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0
	}
	frame, err := json.Marshal(push.Frame{Event: event, Data: raw})
	if err != nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for sub := range h.users[userID] {
		select {
		case sub.send <- frame:
			n++
		default:
			logger.Warn(context.Background(), "drop push frame for slow subscriber", zap.String("user_id", userID))
		}
	}
	return n
}

// Subscribers returns the number of open connections of userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// CloseAll drops every connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, subs := range h.users {
		for sub := range subs {
			_ = sub.conn.Close()
		}
	}
}

func (h *Hub) writePump(sub *subscriber, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = sub.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) add(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[*subscriber]struct{})
	}
	h.users[userID][sub] = struct{}{}
}

func (h *Hub) remove(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.users[userID], sub)
	if len(h.users[userID]) == 0 {
		delete(h.users, userID)
	}
}
