package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/exertus/exmebus-gateway/internal/exmebus"
	"github.com/exertus/exmebus-gateway/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// SignalChannel receives every forwarded record. A client can narrow
	// the feed to one machine with SignalChannel + "." + machineID.
	SignalChannel = "signals"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 4096
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// SignalEvent is the payload of a record broadcast.
type SignalEvent struct {
	Machine string `json:"machine,omitempty"`
	Signal  uint16 `json:"signal"`
	Group   string `json:"group"`
	View    string `json:"view"`
	Sample  string `json:"sample"`
	Value   string `json:"value"`
	Time    string `json:"time"`
}

// Hub fans forwarded records out to WebSocket clients.
type Hub struct {
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	pingInterval   time.Duration
	pongTimeout    time.Duration
	maxMessageSize int64
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The endpoint binds to the local metrics address only.
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:         logger,
		clients:        make(map[*WSClient]struct{}),
		pingInterval:   defaultPingInterval,
		pongTimeout:    defaultPongTimeout,
		maxMessageSize: defaultMaxMessageSize,
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
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

// Unregister removes a client from the hub. Only the caller that removes
// the client closes its send channel.
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

// WriteSignal broadcasts a forwarded record. It never blocks the caller:
// slow clients miss events.
func (h *Hub) WriteSignal(machineID string, p *exmebus.Packet) {
	if h.ClientCount() == 0 {
		return
	}

	value, err := p.Value()
	if err != nil {
		return
	}

	event := SignalEvent{
		Machine: machineID,
		Signal:  p.SignalNumber,
		Group:   p.SignalGroup.String(),
		View:    p.ViewType.String(),
		Sample:  p.SampleType.String(),
		Value:   value,
		Time:    p.Time().Format(time.RFC3339Nano),
	}

	channels := []string{SignalChannel}
	if machineID != "" {
		channels = append(channels, SignalChannel+"."+machineID)
	}
	h.Broadcast(channels, event)
}

// Broadcast sends an event to every client subscribed to any of channels.
// The event type is the first channel.
func (h *Hub) Broadcast(channels []string, payload any) {
	if len(channels) == 0 {
		return
	}

	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channels[0],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribedAny(channels) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

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

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	deadline := c.hub.pingInterval + c.hub.pongTimeout
	c.conn.SetReadLimit(c.hub.maxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id,omitempty"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.mu.Lock()
		for _, ch := range msg.Payload.Channels {
			c.subscriptions[ch] = struct{}{}
		}
		c.mu.Unlock()
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"subscribed": msg.Payload.Channels})
	case WSTypeUnsubscribe:
		c.mu.Lock()
		for _, ch := range msg.Payload.Channels {
			delete(c.subscriptions, ch)
		}
		c.mu.Unlock()
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": msg.Payload.Channels})
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// trySend drops the message when the client buffer is full or the client
// has already been unregistered.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) isSubscribedAny(channels []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range channels {
		if _, ok := c.subscriptions[ch]; ok {
			return true
		}
	}
	return false
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
