package services

import (
	"log/slog"
	"sync"

	"chatgate/internal/models"
)

// ConnectionManager maps client identities to their live WebSocket
// connections. One live connection per identity: a new registration for the
// same identity replaces the old mapping (last writer wins).
type ConnectionManager struct {
	connections map[string]*models.UserConnection
	mutex       sync.RWMutex
	stats       *Stats
}

// NewConnectionManager creates a new connection manager.
func NewConnectionManager(stats *Stats) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*models.UserConnection),
		stats:       stats,
	}
}

// Register stores the connection for its identity, replacing any prior one.
func (cm *ConnectionManager) Register(conn *models.UserConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if _, replaced := cm.connections[conn.Identity]; replaced && cm.stats != nil {
		// The replaced connection's Unregister will be a stale no-op, so
		// account for its closure here.
		cm.stats.ConnectionClosed()
	}
	cm.connections[conn.Identity] = conn
	if cm.stats != nil {
		cm.stats.ConnectionOpened()
	}
	slog.Info("connection registered", "identity", conn.Identity, "conn_id", conn.ConnID, "total", len(cm.connections))
}

// Unregister removes the mapping for identity, but only if it still points
// at connID. A disconnect racing with a replacement registration must not
// tear down the newer connection. Safe to call when already removed.
func (cm *ConnectionManager) Unregister(identity, connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	conn, exists := cm.connections[identity]
	if !exists || conn.ConnID != connID {
		return
	}
	delete(cm.connections, identity)
	if cm.stats != nil {
		cm.stats.ConnectionClosed()
	}
	slog.Info("connection removed", "identity", identity, "conn_id", connID, "total", len(cm.connections))
}

// Get retrieves the live connection for an identity.
func (cm *ConnectionManager) Get(identity string) (*models.UserConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.connections[identity]
	return conn, exists
}

// Count returns the number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// Send delivers one text frame to an identity. It is a no-op when the
// identity has no live connection, and fails soft when the connection's
// write channel is gone or full — a client that vanished mid-stream must
// never error the turn pipeline.
func (cm *ConnectionManager) Send(identity, text string) {
	conn, exists := cm.Get(identity)
	if !exists {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Debug("send to closed connection dropped", "identity", identity)
		}
	}()

	select {
	case conn.WriteChan <- text:
	default:
		slog.Warn("write channel full, frame dropped", "identity", identity, "conn_id", conn.ConnID)
	}
}
