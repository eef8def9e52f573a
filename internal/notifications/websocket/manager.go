package websocket

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/notifications"
	"fairfund/fairfund-backend/pkg/address"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Manager handles WebSocket connections and message routing
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	hub         *Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	closeOnce   sync.Once
}

// Connection represents a WebSocket client connection. Account is empty for
// anonymous viewers.
type Connection struct {
	ID            string
	Account       string
	Subscriptions map[string]bool
	Conn          *websocket.Conn
	Send          chan notifications.WebSocketMessage
	ConnectedAt   time.Time
	LastActivity  time.Time
	UserAgent     string
	IPAddress     string
	mu            sync.Mutex
}

// Hub manages the broadcast of messages to connections
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan notifications.WebSocketMessage
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	done        chan struct{}
}

// NewManager creates a new WebSocket manager and starts its hub
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		connections: make(map[string]*Connection),
		hub: &Hub{
			connections: make(map[*Connection]bool),
			broadcast:   make(chan notifications.WebSocketMessage, sendBufferSize),
			register:    make(chan *Connection),
			unregister:  make(chan *Connection),
			stop:        make(chan struct{}),
			done:        make(chan struct{}),
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the stream is read-only public ledger data
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}

	go m.run()

	return m
}

// HandleConnection upgrades the request and starts pumping messages. account may
// be empty.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, account string) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:            uuid.New().String(),
		Account:       account,
		Subscriptions: make(map[string]bool),
		Conn:          conn,
		Send:          make(chan notifications.WebSocketMessage, sendBufferSize),
		ConnectedAt:   now,
		LastActivity:  now,
		UserAgent:     r.Header.Get("User-Agent"),
		IPAddress:     r.RemoteAddr,
	}

	select {
	case m.hub.register <- connection:
	case <-m.hub.done:
		conn.Close()
		return nil, fmt.Errorf("websocket manager closed")
	}

	go m.readPump(connection)
	go m.writePump(connection)

	m.trySend(connection, notifications.WebSocketMessage{
		Type:      notifications.WSMessageTypeStatus,
		Data:      map[string]interface{}{"status": "connected", "connection_id": connection.ID, "account": account},
		Timestamp: now,
		Channel:   notifications.ChannelAccount,
		Target:    account,
	})

	return connection, nil
}

// readPump reads client control messages until the connection drops
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.done:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(maxMessageSize)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg notifications.WebSocketMessage
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("WebSocket read failed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()

		m.handleMessage(conn, &msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (m *Manager) handleMessage(conn *Connection, msg *notifications.WebSocketMessage) {
	switch msg.Type {
	case notifications.WSMessageTypeSubscribe:
		m.handleSubscribe(conn, msg)
	case notifications.WSMessageTypePing:
		m.trySend(conn, notifications.WebSocketMessage{
			Type:      notifications.WSMessageTypeStatus,
			Data:      map[string]interface{}{"status": "pong"},
			Timestamp: time.Now(),
			Channel:   notifications.ChannelAccount,
		})
	default:
		m.logger.Debug("Ignoring websocket message", zap.String("type", msg.Type))
	}
}

// handleSubscribe narrows the connection to events that concern the listed accounts.
// An empty list restores the full stream.
func (m *Manager) handleSubscribe(conn *Connection, msg *notifications.WebSocketMessage) {
	subs := make(map[string]bool)
	var rejected []string
	if raw, ok := msg.Data["accounts"].([]interface{}); ok {
		for _, v := range raw {
			s, _ := v.(string)
			a, err := address.Normalize(s)
			if err != nil {
				rejected = append(rejected, s)
				continue
			}
			subs[a] = true
		}
	}

	conn.mu.Lock()
	conn.Subscriptions = subs
	accounts := make([]string, 0, len(subs))
	for a := range subs {
		accounts = append(accounts, a)
	}
	conn.mu.Unlock()

	m.trySend(conn, notifications.WebSocketMessage{
		Type:      notifications.WSMessageTypeStatus,
		Data:      map[string]interface{}{"status": "subscribed", "accounts": accounts, "rejected": rejected},
		Timestamp: time.Now(),
		Channel:   notifications.ChannelAccount,
		Target:    conn.Account,
	})
}

// wants reports whether a broadcast message passes the connection's subscription
func (c *Connection) wants(msg notifications.WebSocketMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Subscriptions) == 0 {
		return true
	}
	for _, a := range msg.Accounts {
		if c.Subscriptions[a] {
			return true
		}
	}
	return false
}

// run owns hub.connections and is the only place Send channels are closed
func (m *Manager) run() {
	h := m.hub
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			m.mu.Lock()
			m.connections[conn.ID] = conn
			m.mu.Unlock()
			m.logger.Info("Connection registered", zap.String("connection_id", conn.ID), zap.String("account", conn.Account))

		case conn := <-h.unregister:
			if h.connections[conn] {
				m.remove(conn)
				m.logger.Info("Connection unregistered", zap.String("connection_id", conn.ID), zap.String("account", conn.Account))
			}

		case message := <-h.broadcast:
			for conn := range h.connections {
				if !conn.wants(message) {
					continue
				}
				select {
				case conn.Send <- message:
				default:
					m.logger.Warn("Dropping slow connection", zap.String("connection_id", conn.ID))
					m.remove(conn)
				}
			}

		case <-h.stop:
			for conn := range h.connections {
				m.remove(conn)
				conn.Conn.Close()
			}
			return
		}
	}
}

func (m *Manager) remove(conn *Connection) {
	delete(m.hub.connections, conn)
	m.mu.Lock()
	delete(m.connections, conn.ID)
	close(conn.Send)
	m.mu.Unlock()
}

// trySend queues a message for one connection unless it is gone or backed up
func (m *Manager) trySend(conn *Connection, message notifications.WebSocketMessage) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.connections[conn.ID] != conn {
		return false
	}
	select {
	case conn.Send <- message:
		return true
	default:
		return false
	}
}

// SendToAccount sends a message to every connection authenticated as account
func (m *Manager) SendToAccount(account string, message notifications.WebSocketMessage) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	message.Target = account
	sent := 0
	for _, conn := range m.connections {
		if conn.Account != account {
			continue
		}
		select {
		case conn.Send <- message:
			sent++
		default:
			// buffer full, skip
		}
	}
	if sent == 0 {
		return fmt.Errorf("%w: %s", notifications.ErrNotConnected, account)
	}
	return nil
}

// Broadcast queues a message for every interested connection
func (m *Manager) Broadcast(message notifications.WebSocketMessage) error {
	select {
	case m.hub.broadcast <- message:
		return nil
	default:
		return fmt.Errorf("broadcast channel full")
	}
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// ConnectionInfo represents connection information for monitoring
type ConnectionInfo struct {
	ConnectionID  string    `json:"connection_id"`
	Account       string    `json:"account,omitempty"`
	Subscriptions []string  `json:"subscriptions"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
	UserAgent     string    `json:"user_agent"`
	IPAddress     string    `json:"ip_address"`
}

// GetConnectionInfo returns information about all active connections
func (m *Manager) GetConnectionInfo() []ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := make([]ConnectionInfo, 0, len(m.connections))
	for _, conn := range m.connections {
		conn.mu.Lock()
		ci := ConnectionInfo{
			ConnectionID:  conn.ID,
			Account:       conn.Account,
			Subscriptions: make([]string, 0, len(conn.Subscriptions)),
			ConnectedAt:   conn.ConnectedAt,
			LastActivity:  conn.LastActivity,
			UserAgent:     conn.UserAgent,
			IPAddress:     conn.IPAddress,
		}
		for a := range conn.Subscriptions {
			ci.Subscriptions = append(ci.Subscriptions, a)
		}
		conn.mu.Unlock()
		info = append(info, ci)
	}
	return info
}

// Close stops the hub and closes every connection
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.hub.stop) })
	<-m.hub.done
}
