package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrConnectionClosed is returned when sending on a closed connection
var ErrConnectionClosed = errors.New("connection closed")

// Topic groups connections that receive the same broadcasts
type Topic string

const (
	TopicLeaderboard Topic = "leaderboard"
	TopicNames       Topic = "names"
)

// ConnectionManager manages WebSocket connections per topic
type ConnectionManager struct {
	topics map[Topic]map[*Connection]bool
	mu     sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcast
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// ConnectionHandlers hooks into a connection's lifecycle. OnOpen runs before
// any message is read or written.
type ConnectionHandlers struct {
	OnOpen    func(c *Connection)
	OnMessage func(c *Connection, data []byte)
	OnClose   func(c *Connection)
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID        string
	SessionID string
	Topic     Topic
	Conn      *websocket.Conn

	send     chan []byte
	manager  *ConnectionManager
	handlers ConnectionHandlers

	mu     sync.Mutex
	closed bool

	ConnectedAt time.Time
}

type broadcast struct {
	topic   Topic
	message Message
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		topics: make(map[Topic]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcast, 256),
	}
}

// Start processes broadcasts until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case b := <-cm.broadcastCh:
			cm.handleBroadcast(b)
		}
	}
}

// Upgrade upgrades an HTTP request to a WebSocket connection on topic
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, topic Topic, sessionID string, handlers ConnectionHandlers) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Topic:       topic,
		Conn:        conn,
		send:        make(chan []byte, cm.config.SendBufferSize),
		manager:     cm,
		handlers:    handlers,
		ConnectedAt: time.Now(),
	}
	if handlers.OnOpen != nil {
		handlers.OnOpen(c)
	}
	cm.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("session_id", sessionID).
		Str("topic", string(topic)).
		Msg("WebSocket connection established")
	return c, nil
}

func (cm *ConnectionManager) register(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.topics[c.Topic] == nil {
		cm.topics[c.Topic] = make(map[*Connection]bool)
	}
	cm.topics[c.Topic][c] = true
}

func (cm *ConnectionManager) unregister(c *Connection) {
	cm.mu.Lock()
	conns, ok := cm.topics[c.Topic]
	registered := ok && conns[c]
	if registered {
		delete(conns, c)
		if len(conns) == 0 {
			delete(cm.topics, c.Topic)
		}
	}
	cm.mu.Unlock()

	if !registered {
		return
	}
	c.close()
	if c.handlers.OnClose != nil {
		c.handlers.OnClose(c)
	}
	log.Info().
		Str("connection_id", c.ID).
		Str("topic", string(c.Topic)).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, conns := range cm.topics {
		for c := range conns {
			all = append(all, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range all {
		cm.unregister(c)
	}
}

// Broadcast queues message for every connection on topic
func (cm *ConnectionManager) Broadcast(topic Topic, message Message) {
	select {
	case cm.broadcastCh <- broadcast{topic: topic, message: message}:
	default:
		log.Warn().Str("topic", string(topic)).Str("type", string(message.Type)).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(b broadcast) {
	cm.mu.RLock()
	var targets []*Connection
	for c := range cm.topics[b.topic] {
		targets = append(targets, c)
	}
	cm.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(b.message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	for _, c := range targets {
		if err := c.enqueue(data); err != nil {
			log.Warn().
				Err(err).
				Str("connection_id", c.ID).
				Msg("dropping slow connection")
			cm.unregister(c)
		}
	}

	log.Debug().
		Str("type", string(b.message.Type)).
		Str("topic", string(b.topic)).
		Int("connections", len(targets)).
		Msg("message broadcasted")
}

// ConnectionCount returns the number of open connections on topic
func (cm *ConnectionManager) ConnectionCount(topic Topic) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.topics[topic])
}

// Stats returns statistics about active connections
func (cm *ConnectionManager) Stats() map[string]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := map[string]int{"total_connections": 0}
	for topic, conns := range cm.topics {
		stats[string(topic)] = len(conns)
		stats["total_connections"] += len(conns)
	}
	return stats
}

// Send queues message for this connection only
func (c *Connection) Send(message Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.enqueue(data)
}

func (c *Connection) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Connection) writePump() {
	cfg := c.manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	cfg := c.manager.config
	defer func() {
		c.manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(c, data)
		}
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}
