package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yegors/co-utm/internal/subscriptions"
	"github.com/yegors/co-utm/pkg/logger"
)

// Client request and server control message types. Events routed from
// topics keep their own kind as type.
const (
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeDashboardRequest  = "dashboard_request"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypeDashboardResponse = "dashboard"
	MessageTypeError             = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	replyQueueSize = 16
)

// Message is a client request or a server control reply
type Message struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// DashboardSource answers dashboard_request messages
type DashboardSource interface {
	Snapshot() any
}

// DashboardFunc adapts a function to DashboardSource
type DashboardFunc func() any

func (f DashboardFunc) Snapshot() any { return f() }

// Client is one live WebSocket connection bound to a router connection
type Client struct {
	id        string
	conn      *websocket.Conn
	sub       *subscriptions.Connection
	replies   chan *Message
	server    *Server
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
}

// Server upgrades HTTP requests and pumps routed events to clients
type Server struct {
	router    *subscriptions.Router
	dashboard DashboardSource
	upgrader  websocket.Upgrader
	logger    *logger.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewServer creates a new WebSocket server. dashboard may be nil.
func NewServer(router *subscriptions.Router, dashboard DashboardSource, logger *logger.Logger) *Server {
	return &Server{
		router:    router,
		dashboard: dashboard,
		clients:   make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: logger.Named("web-socket"),
	}
}

// HandleConnection handles a WebSocket connection
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			Error(err),
			String("remote_addr", r.RemoteAddr))
		return
	}

	id := uuid.NewString()
	sub, err := s.router.Register(id)
	if err != nil {
		s.logger.Error("Failed to register connection", Error(err))
		conn.Close()
		return
	}

	client := &Client{
		id:        id,
		conn:      conn,
		sub:       sub,
		replies:   make(chan *Message, replyQueueSize),
		server:    s,
		closeChan: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[id] = client
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Debug("Client connected",
		String("connection_id", id),
		String("remote_addr", r.RemoteAddr),
		logger.Int("client_count", count))

	go client.readPump()
	go client.writePump()
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown closes every client connection
func (s *Server) Shutdown() {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

// disconnect removes the client and its subscriptions. Safe to call from
// both pumps.
func (s *Server) disconnect(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c.id]
	delete(s.clients, c.id)
	count := len(s.clients)
	s.mu.Unlock()

	s.router.DropConnection(c.id)
	c.Close()

	if ok {
		s.logger.Debug("Client disconnected",
			String("connection_id", c.id),
			logger.Uint64("overflow", c.sub.Overflow()),
			logger.Int("client_count", count))
	}
}

// readPump handles requests from the client until the connection fails
func (c *Client) readPump() {
	defer c.server.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", Error(err))
			}
			return
		}

		var message Message
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.reply(errorMessage("", "malformed message"))
			continue
		}
		c.handle(message)
	}
}

func (c *Client) handle(message Message) {
	s := c.server
	switch message.Type {
	case MessageTypeSubscribe:
		topic, err := subscriptions.ParseTopic(message.Topic)
		if err != nil {
			c.reply(errorMessage(message.Topic, err.Error()))
			return
		}
		if _, err := s.router.Subscribe(c.id, topic); err != nil {
			c.reply(errorMessage(message.Topic, err.Error()))
			return
		}
		c.reply(&Message{Type: MessageTypeSubscribed, Topic: string(topic)})

	case MessageTypeUnsubscribe:
		topic, err := subscriptions.ParseTopic(message.Topic)
		if err != nil {
			c.reply(errorMessage(message.Topic, err.Error()))
			return
		}
		s.router.Unsubscribe(c.id, topic)
		c.reply(&Message{Type: MessageTypeUnsubscribed, Topic: string(topic)})

	case MessageTypeDashboardRequest:
		if s.dashboard == nil {
			c.reply(errorMessage("", "dashboard unavailable"))
			return
		}
		c.reply(&Message{Type: MessageTypeDashboardResponse, Data: s.dashboard.Snapshot()})

	default:
		c.reply(errorMessage(message.Topic, "unknown message type: "+message.Type))
	}
}

// writePump drains routed events and control replies to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.server.disconnect(c)
	}()

	for {
		select {
		case event, ok := <-c.sub.Events():
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(event); err != nil {
				return
			}

		case message := <-c.replies:
			if err := c.write(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

func (c *Client) write(v any) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		c.server.logger.Debug("Failed to write to client",
			String("connection_id", c.id),
			Error(err))
		return err
	}
	return nil
}

// reply queues a control message without blocking the read loop
func (c *Client) reply(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.replies <- message:
		return true
	default:
		c.server.logger.Warn("Reply queue full, dropping message",
			String("connection_id", c.id),
			String("message_type", message.Type))
		return false
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.closeChan)
	c.conn.Close()
}

// ID returns the router connection id of the client
func (c *Client) ID() string {
	return c.id
}

func errorMessage(topic, msg string) *Message {
	return &Message{Type: MessageTypeError, Topic: topic, Data: map[string]string{"message": msg}}
}

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)
