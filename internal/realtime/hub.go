package realtime

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inkwell-hq/inkwell/pkg/logger"
	"github.com/inkwell-hq/inkwell/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultBufferSize = 64
)

// Message represents a JSON payload delivered to session members.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Dispatcher receives inbound client payloads and connection lifecycle
// callbacks. The hub stays ignorant of event semantics; the dispatcher owns
// decode and routing.
type Dispatcher interface {
	HandleMessage(ctx context.Context, conn *Conn, payload []byte)
	HandleDisconnect(ctx context.Context, conn *Conn)
}

// Hub multiplexes websocket connections into per-session rooms and fans
// broadcasts out to their members. Rooms are keyed by session id; a
// connection belongs to at most one room at a time.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*Conn
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*Conn),
		log:   logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the HTTP connection to a WebSocket and pumps messages until
// the client disconnects. Blocks for the lifetime of the connection.
func (h *Hub) Serve(userID string, dispatcher Dispatcher, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(h, socket, userID, dispatcher)
	metrics.ConnectedClients.Inc()

	go conn.writeLoop()
	conn.readLoop(r.Context())
}

// Publish delivers a message to every member of the session room.
func (h *Hub) Publish(sessionID, event string, data any) {
	h.deliver(sessionID, "", Message{Event: event, Data: data})
}

// PublishExcept delivers a message to every member except the named connection.
// Used for rebroadcasts where the originator already knows the payload.
func (h *Hub) PublishExcept(sessionID, excludeConnID, event string, data any) {
	h.deliver(sessionID, excludeConnID, Message{Event: event, Data: data})
}

// SendTo delivers a message to a single connection in the session room.
func (h *Hub) SendTo(sessionID, connID, event string, data any) {
	var stalled *Conn

	h.mu.RLock()
	if room, ok := h.rooms[sessionID]; ok {
		if conn, ok := room[connID]; ok && !h.enqueue(conn, Message{Event: event, Data: data}) {
			stalled = conn
		}
	}
	h.mu.RUnlock()

	if stalled != nil {
		h.drop(stalled)
	}
}

// CloseRoom disconnects every member of the session room. Callers must
// broadcast any terminal event before closing the room.
func (h *Hub) CloseRoom(sessionID string) {
	h.mu.Lock()
	room := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	h.mu.Unlock()

	for _, conn := range room {
		conn.close()
	}
}

// RoomSize reports the number of connections currently joined to a session.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *Hub) deliver(sessionID, excludeConnID string, message Message) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}

	var stalled []*Conn

	h.mu.RLock()
	for connID, conn := range h.rooms[sessionID] {
		if connID == excludeConnID {
			continue
		}
		if !h.enqueue(conn, message) {
			stalled = append(stalled, conn)
		}
	}
	h.mu.RUnlock()

	// Closing unregisters the connection, which takes the write lock, so it
	// must happen after the read lock is released.
	for _, conn := range stalled {
		h.drop(conn)
	}
}

func (h *Hub) join(conn *Conn, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev := conn.sessionID; prev != "" && prev != sessionID {
		h.removeLocked(conn, prev)
	}

	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[string]*Conn)
	}
	h.rooms[sessionID][conn.id] = conn
	conn.sessionID = sessionID
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn.sessionID != "" {
		h.removeLocked(conn, conn.sessionID)
	}
}

func (h *Hub) removeLocked(conn *Conn, sessionID string) {
	room := h.rooms[sessionID]
	delete(room, conn.id)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// enqueue reports whether the message fit in the connection's send buffer.
// It never blocks and never closes the connection; callers decide what to do
// with a stalled client once they hold no hub locks.
func (h *Hub) enqueue(conn *Conn, message Message) bool {
	select {
	case conn.send <- message:
		return true
	default:
		return false
	}
}

// drop disconnects a client whose send buffer stayed full. Must not be called
// while holding h.mu; close unregisters the connection under the write lock.
func (h *Hub) drop(conn *Conn) {
	h.log.Warn("dropping backpressure client",
		zap.String("user_id", conn.userID),
		zap.String("session_id", conn.sessionID),
	)
	metrics.BroadcastsDropped.Inc()
	conn.close()
}

// Conn is a single websocket connection owned by the hub. A user may hold
// several Conns at once (multiple tabs); presence reference counting happens
// above the transport.
type Conn struct {
	hub        *Hub
	socket     *websocket.Conn
	id         string
	userID     string
	sessionID  string
	dispatcher Dispatcher
	send       chan Message
	once       sync.Once
}

func newConn(hub *Hub, socket *websocket.Conn, userID string, dispatcher Dispatcher) *Conn {
	return &Conn{
		hub:        hub,
		socket:     socket,
		id:         uuid.NewString(),
		userID:     userID,
		dispatcher: dispatcher,
		send:       make(chan Message, defaultBufferSize),
	}
}

// ID returns the unique connection identifier.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated user bound to this connection.
func (c *Conn) UserID() string { return c.userID }

// SessionID returns the session room this connection has joined, if any.
func (c *Conn) SessionID() string { return c.sessionID }

// JoinSession binds the connection to a session room.
func (c *Conn) JoinSession(sessionID string) {
	c.hub.join(c, sessionID)
}

// Send enqueues a message directly to this connection.
func (c *Conn) Send(event string, data any) {
	if !c.hub.enqueue(c, Message{Event: event, Data: data}) {
		c.hub.drop(c)
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.close()
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.close()
	defer func() {
		if c.dispatcher != nil {
			c.dispatcher.HandleDisconnect(ctx, c)
		}
	}()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.log.Warn("unexpected close",
					zap.String("user_id", c.userID),
					zap.Error(err),
				)
			}
			return
		}

		if len(payload) == 0 {
			continue
		}
		if c.dispatcher != nil {
			c.dispatcher.HandleMessage(ctx, c, payload)
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		metrics.ConnectedClients.Dec()
		close(c.send)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
