package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/events"
	"github.com/nerrad567/home-awareness/internal/infrastructure/config"
	"github.com/nerrad567/home-awareness/internal/infrastructure/logging"
)

// WebSocket message types handled by the hub itself. Any other type is
// published on the bus under that name.
const (
	WSTypeConnected   = "connected"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// DefaultWSEvents are the bus events relayed to WebSocket clients.
var DefaultWSEvents = []string{
	events.UserEnter,
	events.UserExit,
	events.TrackingInitialize,
	events.TrackingShutdown,
	events.ConfigChanged,
	events.AlarmTriggered,
	events.PlayerStateChanged,
}

// WSMessage is the wire form of every WebSocket message in both
// directions: a type plus an optional data bag.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// WSSubscribeData is the data of subscribe and unsubscribe messages.
type WSSubscribeData struct {
	Events []string `json:"events"`
}

// Hub manages WebSocket connections and relays bus events to them.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	bus     EventBus
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	limiter       *rate.Limiter
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub publishing client messages on b.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, b EventBus) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		bus:     b,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends a bus event to all clients subscribed to its name.
// Lock ordering: hub lock is acquired first, then released before per-client
// subscription checks.
func (h *Hub) Broadcast(name string, data any) {
	msg := WSMessage{
		Type:      name,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "event", name, "error", err)
		return
	}

	sent := 0
	for _, client := range h.snapshot() {
		if client.isSubscribed(name) {
			client.trySend(raw)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "event", name, "recipients", sent)
	}
}

// echo sends raw to every connected client regardless of subscriptions.
func (h *Hub) echo(raw []byte) {
	for _, client := range h.snapshot() {
		client.trySend(raw)
	}
}

func (h *Hub) snapshot() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// newClient creates a client for conn with the configured inbound rate.
func (h *Hub) newClient(conn *websocket.Conn) *WSClient {
	c := &WSClient{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	if h.cfg.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSecond), h.cfg.MessagesPerSecond)
	}
	return c
}

// wsTimings returns the ping interval and pong timeout, falling back to
// 30s and 10s when unset.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping, pong = 30*time.Second, 10*time.Second
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		pong = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, pong
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection
// and greets the client with a "connected" message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := s.hub.newClient(conn)
	s.hub.Register(client)
	client.sendMessage(WSMessage{Type: WSTypeConnected})

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval, pongWait := wsTimings(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := wsTimings(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
//
// Control types are answered directly. Every other message is published on
// the bus under its type with its data as the event data bag, then echoed
// verbatim to every connected client.
func (c *WSClient) handleMessage(raw []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.sendError("", "rate limit exceeded")
		return
	}

	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		c.sendError("", "invalid message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg, true)
	case WSTypeUnsubscribe:
		c.handleSubscribe(msg, false)
	case WSTypePing:
		c.sendMessage(WSMessage{Type: WSTypePong, ID: msg.ID})
	case bus.ErrorEventName:
		c.sendError(msg.ID, "the error event is reserved")
	default:
		c.publish(msg, raw)
	}
}

// publish puts a client message on the bus and echoes it to all clients.
func (c *WSClient) publish(msg WSMessage, raw []byte) {
	data, ok := msg.Data.(map[string]any)
	if msg.Data != nil && !ok {
		data = map[string]any{"value": msg.Data}
	}

	if _, err := c.hub.bus.Publish(msg.Type, bus.Event{Data: data}); err != nil {
		c.hub.logger.Error("websocket event handler failed", "event", msg.Type, "error", err)
		c.sendError(msg.ID, "event handler failed")
	}
	c.hub.echo(raw)
}

// handleSubscribe adds or removes event names from the client's
// subscriptions.
func (c *WSClient) handleSubscribe(msg WSMessage, subscribe bool) {
	payload, err := json.Marshal(msg.Data)
	if err != nil {
		c.sendError(msg.ID, "invalid data")
		return
	}

	var sub WSSubscribeData
	if err := json.Unmarshal(payload, &sub); err != nil || len(sub.Events) == 0 {
		c.sendError(msg.ID, "data.events must list at least one event")
		return
	}

	c.mu.Lock()
	for _, name := range sub.Events {
		if subscribe {
			c.subscriptions[name] = struct{}{}
		} else {
			delete(c.subscriptions, name)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
		c.hub.logger.Debug("websocket client subscribed", "events", sub.Events)
	}
	c.sendMessage(WSMessage{
		Type: WSTypeResponse,
		ID:   msg.ID,
		Data: map[string]any{key: sub.Events},
	})
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// isSubscribed checks if the client is subscribed to an event.
func (c *WSClient) isSubscribed(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[name]
	return ok
}

// sendMessage stamps and queues a message for the client.
func (c *WSClient) sendMessage(msg WSMessage) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendMessage(WSMessage{
		Type: WSTypeError,
		ID:   id,
		Data: map[string]string{"message": message},
	})
}
