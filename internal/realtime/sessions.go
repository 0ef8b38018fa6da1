package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks open WebSocket connections per conversation so they
// can be closed on shutdown.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the connection for a conversation and client.
func (m *SessionManager) GetActive(conversationID, clientID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if clients, ok := m.active[conversationID]; ok {
		return clients[clientID]
	}
	return nil
}

// Count returns the number of open connections for a conversation.
func (m *SessionManager) Count(conversationID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[conversationID])
}

// Register adds a connection. A client reconnecting under the same id
// replaces its previous connection.
func (m *SessionManager) Register(conversationID, clientID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[conversationID]; !exists {
		m.active[conversationID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[conversationID][clientID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[conversationID][clientID] = conn
	slog.Info("Realtime session registered", "conversation_id", conversationID, "client_id", clientID)
}

// Unregister removes conn if it is still the current one for the client.
func (m *SessionManager) Unregister(conversationID, clientID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if clients, ok := m.active[conversationID]; ok {
		if current, exists := clients[clientID]; exists && current == conn {
			delete(clients, clientID)
			if len(clients) == 0 {
				delete(m.active, conversationID)
			}
			slog.Info("Realtime session unregistered", "conversation_id", conversationID, "client_id", clientID)
		}
	}
}

// CloseAll terminates every open connection.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for conversationID, clients := range m.active {
		for clientID, conn := range clients {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			slog.Info("Realtime session closed", "conversation_id", conversationID, "client_id", clientID)
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
}
