package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-cybro/internal/bridges/cybro"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/mqtt"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ChannelEntityStateChanged is the WebSocket channel carrying bridge
// state messages.
const ChannelEntityStateChanged = "entity.state_changed"

// wsSendBufferSize is the per-client outbound queue length.
const wsSendBufferSize = 64

// WSMessage is the envelope of every WebSocket frame.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is an inbound frame; the payload is decoded per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// Hub tracks connected WebSocket clients and fans out events to them.
type Hub struct {
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client_id", c.id, "subject", c.subject, "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.shutdown()
	h.logger.Debug("websocket client disconnected", "client_id", c.id, "clients", n)
}

// Broadcast sends an event to every client subscribed to channel. Slow
// clients whose queue is full miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.subscribed(channel) {
			c.enqueue(data)
		}
	}
}

// wsClient is one WebSocket connection.
type wsClient struct {
	id      string
	subject string // token subject; empty when authentication is disabled
	hub     *Hub
	conn    *websocket.Conn

	mu       sync.Mutex
	send     chan []byte
	closed   bool
	channels map[string]struct{}
}

// enqueue queues a frame without blocking. Frames for a closed client or a
// full queue are dropped.
func (c *wsClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// shutdown closes the send queue once, ending the writer.
func (c *wsClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *wsClient) setChannels(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
}

func (c *wsClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *wsClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}

// readLoop handles inbound frames until the connection fails.
func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; application frames count too.
		extend() //nolint:errcheck // a failed deadline surfaces on the next read
		c.handle(data)
	}
}

// writeLoop drains the send queue and keeps the connection alive with pings.
func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(deadline)) //nolint:errcheck // write error follows
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // best effort
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if err := json.Unmarshal(req.Payload, &sub); err != nil {
			c.replyError(req.ID, "invalid "+req.Type+" payload")
			return
		}
		on := req.Type == WSTypeSubscribe
		c.setChannels(sub.Channels, on)

		key := "unsubscribed"
		if on {
			key = "subscribed"
			c.hub.logger.Info("websocket client subscribed", "client_id", c.id, "channels", sub.Channels)
		}
		c.reply(req.ID, WSTypeResponse, map[string]any{key: sub.Channels})
	default:
		c.replyError(req.ID, "unknown message type: "+req.Type)
	}
}

// subscribeStateUpdates relays bridge state messages from MQTT to WebSocket
// clients on the entity.state_changed channel.
func (s *Server) subscribeStateUpdates() error {
	if s.mqtt == nil {
		return nil
	}

	topic := mqtt.Topics{}.BridgeStates(cybro.Protocol)
	s.logger.Info("subscribing to state updates for WebSocket relay", "topic", topic)
	return s.mqtt.Subscribe(topic, 1, s.relayState)
}

// relayState forwards one MQTT state message to the hub. Malformed
// messages are logged and dropped.
func (s *Server) relayState(topic string, payload []byte) error {
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("failed to parse state message for WebSocket broadcast", "topic", topic, "error", err)
		return nil
	}
	s.hub.Broadcast(ChannelEntityStateChanged, msg)
	return nil
}

// handleWebSocket upgrades the connection. With authentication enabled a
// single-use ticket from POST /auth/ws-ticket is required.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		entry, ok := s.validateTicket(ticket)
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		subject = entry.subject
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		id:       uuid.NewString(),
		subject:  subject,
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}
