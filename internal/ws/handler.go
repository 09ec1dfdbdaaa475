package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-relay/backend/internal/service"
	"chat-relay/backend/pkg/errors"
	"chat-relay/backend/pkg/logger"
	wsproto "chat-relay/backend/pkg/ws"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer = 16
)

// Relay answers one chat turn
type Relay interface {
	HandleTurn(ctx context.Context, conversationID, text string) (*service.TurnResult, error)
}

// Client is one WebSocket connection. Its frames are handled one at a time.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	relay  Relay
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// conversationID is continued by frames that do not name one
	conversationID string
}

// Hub tracks live clients
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	log        *logger.Logger
}

// NewHub creates a hub. Call Run to start it.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registrations until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("WebSocket client registered", "client_id", client.ID)

		case client := <-h.unregister:
			h.remove(client)

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.cancel()
				client.Conn.Close()
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
		h.log.Debug("WebSocket client unregistered", "client_id", client.ID)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handler upgrades HTTP requests to chat WebSockets
type Handler struct {
	hub      *Hub
	relay    Relay
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a handler. allowedOrigins containing "*" accepts any origin.
func NewHandler(hub *Hub, relay Relay, allowedOrigins []string, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Handler{
		hub:   hub,
		relay: relay,
		log:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(allowedOrigins),
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// ServeWs upgrades the request and starts the client pumps. An optional
// conversation_id query parameter selects the conversation to continue.
func (h *Handler) ServeWs(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.LogError(err, "Error upgrading connection")
		return
	}

	clientID := uuid.NewString()
	log := logger.FromContext(c.Request.Context(), h.log).With("client_id", clientID)
	clientLog := &logger.Logger{Logger: log}

	// The request context ends when this handler returns
	ctx, cancel := context.WithCancel(logger.NewContext(context.Background(), clientLog))

	client := &Client{
		ID:             clientID,
		Conn:           conn,
		Send:           make(chan []byte, sendBuffer),
		Hub:            h.hub,
		relay:          h.relay,
		log:            clientLog,
		ctx:            ctx,
		cancel:         cancel,
		conversationID: c.Query("conversation_id"),
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		cancel()
		conn.Close()
		return
	}
	clientLog.Info("WebSocket connection established")

	go client.WritePump()
	go client.ReadPump()
}

// ReadPump reads frames and answers them in order
func (c *Client) ReadPump() {
	defer func() {
		c.cancel()
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
		c.log.Debug("ReadPump ended")
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("WebSocket read failed", "error", err)
			}
			return
		}

		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var in wsproto.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.sendError(errors.ValidationWithDetails("Invalid frame", map[string]any{"reason": err.Error()}))
		return
	}

	switch {
	case in.Type == wsproto.TypePing:
		c.send(wsproto.Outbound{Type: wsproto.TypePong})
	case in.IsChat():
		c.handleChat(in)
	default:
		c.sendError(errors.NewValidationError("Unknown frame type: " + in.Type))
	}
}

func (c *Client) handleChat(in wsproto.Inbound) {
	conversationID := in.ConversationID
	if conversationID == "" {
		conversationID = c.conversationID
	}

	res, err := c.relay.HandleTurn(c.ctx, conversationID, in.Message)
	if err != nil {
		c.sendError(err)
		return
	}

	c.conversationID = res.ConversationID
	c.send(wsproto.Outbound{
		Type:           wsproto.TypeReply,
		ConversationID: res.ConversationID,
		AIResponse:     res.AIText,
	})
}

func (c *Client) sendError(err error) {
	appErr := errors.FromError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		c.log.LogError(err, "WebSocket turn failed")
	}
	c.send(wsproto.Outbound{Type: wsproto.TypeError, Code: appErr.Code, Error: appErr.Message})
}

func (c *Client) send(out wsproto.Outbound) {
	data, err := json.Marshal(out)
	if err != nil {
		c.log.LogError(err, "Error marshaling frame")
		return
	}

	select {
	case c.Send <- data:
	case <-c.ctx.Done():
	}
}

// WritePump writes queued frames and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
