package connections

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// TimeoutConfig holds the various timeout settings for WebSocket connections
type TimeoutConfig struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// Manager tracks live chat sockets so shutdown can close them.
type Manager struct {
	connections sync.Map
	mu          sync.RWMutex
	timeouts    TimeoutConfig
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	PongWait:   30 * time.Second,
	PingPeriod: 27 * time.Second, // (PongWait * 9) / 10
	WriteWait:  10 * time.Second,
}

// NewManager creates a new connection manager with the specified timeouts
func NewManager(timeouts TimeoutConfig) *Manager {
	return &Manager{
		timeouts: timeouts,
	}
}

// AddConnection registers a socket. cancel stops whatever the socket is
// serving and may be nil.
func (m *Manager) AddConnection(conn *websocket.Conn, cancel context.CancelFunc) {
	if cancel == nil {
		cancel = func() {}
	}
	m.connections.Store(conn, cancel)
}

// RemoveConnection removes a WebSocket connection
func (m *Manager) RemoveConnection(conn *websocket.Conn) {
	m.connections.Delete(conn)
}

// GetConnectionCount returns the current number of active connections
func (m *Manager) GetConnectionCount() int {
	count := 0
	m.connections.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// HasConnection checks if a specific connection exists
func (m *Manager) HasConnection(conn *websocket.Conn) bool {
	_, exists := m.connections.Load(conn)
	return exists
}

// CloseAll cancels every socket's work, sends a going-away close frame and
// closes the socket. It returns how many sockets were closed.
func (m *Manager) CloseAll(reason string) int {
	timeouts := m.GetTimeouts()
	closed := 0

	m.connections.Range(func(key, value interface{}) bool {
		conn := key.(*websocket.Conn)
		value.(context.CancelFunc)()

		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeouts.WriteWait)); err != nil {
			log.Debug().Err(err).Msg("Failed to send close frame")
		}
		conn.Close()

		m.connections.Delete(key)
		closed++
		return true
	})

	if closed > 0 {
		log.Info().Int("connections", closed).Msg("Closed websocket connections")
	}
	return closed
}

// GetTimeouts returns the current timeout configuration
func (m *Manager) GetTimeouts() TimeoutConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeouts
}

// SetTimeouts updates the timeout configuration
func (m *Manager) SetTimeouts(timeouts TimeoutConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts = timeouts
}
