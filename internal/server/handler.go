package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/lora-digest/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait           = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultPingInterval = 30 * time.Second
	sendBufferSize      = 256
)

// FeedHandler streams newly produced chunk documents to websocket subscribers
type FeedHandler struct {
	upgrader       websocket.Upgrader
	authToken      string
	logger         zerolog.Logger
	allowedOrigins []string
	pingInterval   time.Duration
	pongWait       time.Duration
	startedAt      time.Time

	subscribers map[*Subscriber]struct{}
	mutex       sync.RWMutex
}

// SubscriberInfo describes a connected subscriber
type SubscriberInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Subscriber represents an active feed connection
type Subscriber struct {
	ID          string
	ConnectedAt time.Time
	conn        *websocket.Conn
	send        chan *models.Message
	closeOnce   sync.Once
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// NewFeedHandler creates a new websocket feed handler
func NewFeedHandler(authToken string, logger zerolog.Logger, allowedOrigins ...string) *FeedHandler {
	h := &FeedHandler{
		authToken:      authToken,
		logger:         logger,
		allowedOrigins: allowedOrigins,
		pingInterval:   defaultPingInterval,
		pongWait:       defaultPongWait,
		startedAt:      time.Now(),
		subscribers:    make(map[*Subscriber]struct{}),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// SetKeepalive overrides the ping interval and pong timeout.
// The ping interval must stay below the pong timeout.
func (h *FeedHandler) SetKeepalive(pingInterval, pongWait time.Duration) {
	if pingInterval > 0 {
		h.pingInterval = pingInterval
	}
	if pongWait > 0 {
		h.pongWait = pongWait
	}
	if h.pingInterval >= h.pongWait {
		h.pingInterval = h.pongWait * 9 / 10
	}
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *FeedHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP handles WebSocket connection requests
func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected format: "Bearer <token>"
	if !h.validateToken(r.Header.Get("Authorization")) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	sub := &Subscriber{
		ID:          conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan *models.Message, sendBufferSize),
	}
	h.addSubscriber(sub)

	go h.writePump(sub)
	h.readPump(sub)
}

// validateToken checks if the auth token is valid
func (h *FeedHandler) validateToken(authHeader string) bool {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	return strings.TrimPrefix(authHeader, "Bearer ") == h.authToken
}

func (h *FeedHandler) addSubscriber(sub *Subscriber) {
	h.mutex.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mutex.Unlock()

	h.logger.Info().Str("subscriber", sub.ID).Int("subscribers", count).Msg("Subscriber connected")
}

func (h *FeedHandler) removeSubscriber(sub *Subscriber) {
	h.mutex.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	h.mutex.Unlock()

	if ok {
		sub.close()
		h.logger.Info().Str("subscriber", sub.ID).Msg("Subscriber disconnected")
	}
}

// readPump consumes client frames so control messages are processed.
// Subscribers are not expected to send data.
func (h *FeedHandler) readPump(sub *Subscriber) {
	defer func() {
		h.removeSubscriber(sub)
		sub.conn.Close()
	}()

	sub.conn.SetReadLimit(4096)
	sub.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(h.pongWait))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("subscriber", sub.ID).Msg("WebSocket error")
			}
			return
		}
	}
}

// writePump delivers queued messages and keeps the connection alive
func (h *FeedHandler) writePump(sub *Subscriber) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteJSON(msg); err != nil {
				h.logger.Warn().Err(err).Str("subscriber", sub.ID).Msg("Failed to send message")
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

// Broadcast queues msg for every subscriber and returns how many accepted it.
// Subscribers whose buffer is full are disconnected.
func (h *FeedHandler) Broadcast(msg *models.Message) int {
	h.mutex.RLock()
	var slow []*Subscriber
	delivered := 0
	for sub := range h.subscribers {
		select {
		case sub.send <- msg:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	h.mutex.RUnlock()

	for _, sub := range slow {
		h.logger.Warn().Str("subscriber", sub.ID).Msg("Subscriber too slow, disconnecting")
		h.removeSubscriber(sub)
	}
	return delivered
}

// BroadcastDocuments sends one chunk message per document
func (h *FeedHandler) BroadcastDocuments(docs []models.ChunkDocument) {
	for _, doc := range docs {
		msg, err := models.NewMessage(models.MessageTypeChunk, doc)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to create chunk message")
			continue
		}
		h.Broadcast(msg)
	}
}

// Heartbeat broadcasts a heartbeat message
func (h *FeedHandler) Heartbeat() int {
	msg, err := models.NewMessage(models.MessageTypeHeartbeat, models.HeartbeatMessage{
		Subscribers: h.Subscribers(),
		Uptime:      int64(time.Since(h.startedAt).Seconds()),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create heartbeat message")
		return 0
	}
	return h.Broadcast(msg)
}

// Subscribers returns the number of connected subscribers
func (h *FeedHandler) Subscribers() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

// GetSubscribers returns a snapshot of connected subscribers
func (h *FeedHandler) GetSubscribers() []SubscriberInfo {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	result := make([]SubscriberInfo, 0, len(h.subscribers))
	for sub := range h.subscribers {
		result = append(result, SubscriberInfo{ID: sub.ID, ConnectedAt: sub.ConnectedAt})
	}
	return result
}

// Close disconnects every subscriber
func (h *FeedHandler) Close() {
	h.mutex.Lock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = make(map[*Subscriber]struct{})
	h.mutex.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
