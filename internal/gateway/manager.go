package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/rankstream/rankstream/internal/auth"
	"github.com/rankstream/rankstream/internal/events"
	"github.com/rankstream/rankstream/internal/metrics"
	"github.com/rankstream/rankstream/internal/rooms"
)

// MessageHandler consumes decoded client messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, conn *Connection, raw []byte)
}

// Manager owns connection lifecycle: websocket upgrade, the auth gate,
// registration, send primitives and disconnect cleanup. Connections are
// referenced, never owned, by the room registry.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	registry *rooms.Registry
	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock
	metrics  *metrics.Service

	validator    auth.Validator
	authRequired bool

	handler MessageHandler

	hooksMu         sync.Mutex
	disconnectHooks []func(connID string)
}

func NewManager(registry *rooms.Registry, config ConnectionConfig, validator auth.Validator, authRequired bool, clock clockwork.Clock, m *metrics.Service) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		conns: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		registry:     registry,
		config:       config,
		clock:        clock,
		metrics:      m,
		validator:    validator,
		authRequired: authRequired,
	}
}

// SetMessageHandler wires the client message router. Must be called before
// connections are accepted.
func (m *Manager) SetMessageHandler(h MessageHandler) {
	m.handler = h
}

// OnDisconnect registers a hook fired synchronously when a connection
// disconnects, after its room memberships are cleared.
func (m *Manager) OnDisconnect(hook func(connID string)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.disconnectHooks = append(m.disconnectHooks, hook)
}

// Upgrade promotes an HTTP request to a websocket connection, runs the auth
// gate, and starts the connection's pumps. A rejected token never reaches
// the connected state: the client observes only a connection-error followed
// by the close.
func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request, token string) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return err
	}

	userID, err := m.authenticate(token)
	if err != nil {
		if m.metrics != nil {
			m.metrics.AuthRejections.Inc()
		}
		m.reject(conn, err.Error())
		return err
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		conn:        conn,
		send:        make(chan []byte, m.config.SendBufferSize),
		manager:     m,
		ConnectedAt: m.clock.Now(),
		lastPing:    time.Now(),
	}

	m.mu.Lock()
	m.conns[connection.ID] = connection
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ConnectionsActive.Inc()
		m.metrics.ConnectionsTotal.Inc()
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Msg("websocket connection established")
	return nil
}

// authenticate applies the optional authentication gate. A supplied token is
// always validated; a missing token is rejected only when auth is required.
func (m *Manager) authenticate(token string) (string, error) {
	if m.validator == nil {
		return "", nil
	}
	if token == "" {
		if m.authRequired {
			return "", auth.ErrTokenRequired
		}
		return "", nil
	}
	return m.validator.Validate(token)
}

// reject writes a connection-error event and closes the socket without ever
// registering the connection.
func (m *Manager) reject(conn *websocket.Conn, reason string) {
	evt, err := events.NewServerEvent(events.ServerConnectionError, m.clock.Now(), events.ConnectionErrorPayload{Reason: reason})
	if err == nil {
		if data, merr := json.Marshal(evt); merr == nil {
			conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	conn.Close()
	log.Info().Str("reason", reason).Msg("connection rejected by auth gate")
}

// Send queues data for one connection. Returns false if the connection is
// unknown. A connection whose send buffer is full is treated as dead and
// disconnected.
func (m *Manager) Send(connID string, data []byte) bool {
	m.mu.RLock()
	conn, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case conn.send <- data:
		return true
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		m.unregister(conn)
		conn.conn.Close()
		return false
	}
}

// Disconnect force-closes a connection server-side.
func (m *Manager) Disconnect(connID, reason string) {
	m.mu.RLock()
	conn, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	log.Info().Str("connection_id", connID).Str("reason", reason).Msg("disconnecting connection")
	m.unregister(conn)
	conn.conn.Close()
}

// unregister removes the connection, clears its room memberships and fires
// disconnect hooks. Idempotent: the pumps and Send may race to call it.
func (m *Manager) unregister(conn *Connection) {
	m.mu.Lock()
	if _, ok := m.conns[conn.ID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, conn.ID)
	close(conn.send)
	m.mu.Unlock()

	left := m.registry.LeaveAll(conn.ID)

	m.hooksMu.Lock()
	hooks := make([]func(string), len(m.disconnectHooks))
	copy(hooks, m.disconnectHooks)
	m.hooksMu.Unlock()
	for _, hook := range hooks {
		hook(conn.ID)
	}

	if m.metrics != nil {
		m.metrics.ConnectionsActive.Dec()
	}
	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Int("rooms_left", len(left)).
		Msg("connection unregistered")
}

func (m *Manager) handleClientMessage(conn *Connection, raw []byte) {
	if m.handler == nil {
		log.Debug().
			Str("connection_id", conn.ID).
			RawJSON("message", raw).
			Msg("received client message with no handler configured")
		return
	}
	m.handler.HandleMessage(context.Background(), conn, raw)
}

// Connection returns the live connection by id.
func (m *Manager) Connection(connID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

// Stats reports active connection counts.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Connections: len(m.conns),
		Rooms:       m.registry.RoomCount(),
	}
}

// Stats summarizes the gateway's live state.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}
