package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"smartpark/internal/models"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

// Event is one session lifecycle notification pushed to subscribers.
type Event struct {
	Type       string `json:"type"` // "session_opened" | "session_closed"
	SessionID  int64  `json:"session_id"`
	LocationID int64  `json:"location_id"`
	SpotID     int64  `json:"spot_id"`
	Status     string `json:"status"`
	At         string `json:"at"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session open/close events out to WebSocket subscribers.
// Delivery is best effort: a slow subscriber drops events rather than
// blocking the orchestrator.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

// NewHub builds the hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// SessionOpened implements the orchestrator's broadcaster contract.
func (h *Hub) SessionOpened(session models.Session) {
	h.broadcast(Event{
		Type:       "session_opened",
		SessionID:  session.ID,
		LocationID: session.LocationID,
		SpotID:     session.SpotID,
		Status:     session.PaymentStatus,
		At:         session.EntryTime.UTC().Format(time.RFC3339),
	})
}

// SessionClosed implements the orchestrator's broadcaster contract.
func (h *Hub) SessionClosed(session models.Session) {
	h.broadcast(Event{
		Type:       "session_closed",
		SessionID:  session.ID,
		LocationID: session.LocationID,
		SpotID:     session.SpotID,
		Status:     session.PaymentStatus,
		At:         session.ExitTime.ValueOrZero().UTC().Format(time.RFC3339),
	})
}

func (h *Hub) broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to encode ws event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- data:
		default:
			// subscriber too slow, skip this event for it
		}
	}
}

// HandleSubscribe upgrades the request and streams events until the
// client goes away.
func (h *Hub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(sub)
	defer h.remove(sub)

	go h.writeLoop(sub)

	// Discard inbound frames; the read loop only notices disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer sub.conn.Close()

	for {
		select {
		case data, ok := <-sub.send:
			if !ok {
				return
			}
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

// Close drops all subscribers, typically at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		sub.conn.Close()
		delete(h.subscribers, sub)
		close(sub.send)
	}
}
