package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/efreitasn/papertrade/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// ActionHandler answers client requests. The returned events are sent
// back to the requesting connection only.
type ActionHandler interface {
	HandleAction(connID string, msg ClientMessage) []Event
}

// client is one websocket connection. send is never closed; done signals
// the writer to stop.
type client struct {
	id      string
	ownerID string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	groups  map[string]bool // guarded by Hub.mu
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub is a Transport over gorilla/websocket. Each connection has a
// buffered send queue drained by its own writer goroutine; a connection
// whose queue is full is dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	groups  map[string]map[string]*client // group → conn ID → client

	handler      ActionHandler
	onDisconnect []func(connID string)

	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

var _ Transport = (*Hub)(nil)

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		groups:  make(map[string]map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: m,
	}
}

// SetHandler sets the handler for client actions. Call before serving.
func (h *Hub) SetHandler(handler ActionHandler) {
	h.handler = handler
}

// OnDisconnect registers fn to run after a connection closes. Call before
// serving.
func (h *Hub) OnDisconnect(fn func(connID string)) {
	h.onDisconnect = append(h.onDisconnect, fn)
}

// Serve upgrades the request to a websocket. A non-empty ownerID also
// joins the owner's notification group.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, ownerID string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:      uuid.New().String(),
		ownerID: ownerID,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		groups:  make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	if ownerID != "" {
		h.addLocked(c, OwnerGroup(ownerID))
	}
	h.mu.Unlock()
	h.metrics.Connections.Inc()
	h.logger.Debug("websocket connected",
		slog.String("conn_id", c.id),
		slog.String("owner_id", ownerID),
	)

	go h.writePump(c)
	go h.readPump(c)
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) AddToGroup(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return
	}
	h.addLocked(c, group)
}

func (h *Hub) addLocked(c *client, group string) {
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*client)
		h.groups[group] = members
	}
	members[c.id] = c
	c.groups[group] = true
}

func (h *Hub) RemoveFromGroup(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(connID, group)
}

func (h *Hub) removeLocked(connID, group string) {
	if members, ok := h.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	if c, ok := h.clients[connID]; ok {
		delete(c.groups, group)
	}
}

// BroadcastToGroup queues ev for every member of group. Delivery is best
// effort.
func (h *Hub) BroadcastToGroup(group string, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.groups[group] {
		h.enqueue(c, data)
	}
}

func (h *Hub) sendTo(c *client, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", slog.String("error", err.Error()))
		return
	}
	h.enqueue(c, data)
}

func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		h.logger.Warn("dropping slow websocket consumer", slog.String("conn_id", c.id))
		c.close()
	}
}

// unregister removes c from every group and runs the disconnect hooks.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	for group := range c.groups {
		h.removeLocked(c.id, group)
	}
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.close()
	h.metrics.Connections.Dec()
	for _, fn := range h.onDisconnect {
		fn(c.id)
	}
	h.logger.Debug("websocket disconnected", slog.String("conn_id", c.id))
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendTo(c, Event{Type: EventError, Data: errorData{Error: "invalid_request", Message: "message must be valid JSON"}})
			continue
		}
		if h.handler == nil {
			continue
		}
		for _, ev := range h.handler.HandleAction(c.id, msg) {
			h.sendTo(c, ev)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
