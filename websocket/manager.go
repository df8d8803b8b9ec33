package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
)

// ClientManager tracks the live sessions of this listener so shutdown can
// close them and wait for their read loops.
type ClientManager struct {
	mu      sync.Mutex
	clients map[*ClientSession]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewClientManager creates an empty manager.
func NewClientManager() *ClientManager {
	return &ClientManager{clients: make(map[*ClientSession]struct{})}
}

// AddClient stores a session and counts its read loop as running. It
// returns false once CloseAllConnections has run; the caller must then drop
// the session.
func (m *ClientManager) AddClient(s *ClientSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	m.wg.Add(1)
	m.clients[s] = struct{}{}
	return true
}

// RemoveClient forgets a session once its read loop has returned.
func (m *ClientManager) RemoveClient(s *ClientSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[s]; ok {
		delete(m.clients, s)
		m.wg.Done()
	}
}

// Count returns the number of live sessions.
func (m *ClientManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// CloseAllConnections refuses new sessions and sends a going-away close to
// every live one.
func (m *ClientManager) CloseAllConnections(reason string) {
	m.mu.Lock()
	m.closing = true
	sessions := make([]*ClientSession, 0, len(m.clients))
	for s := range m.clients {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.closeWith(websocket.CloseGoingAway, reason)
	}
}

// WaitForCompletion blocks until every read loop has returned.
func (m *ClientManager) WaitForCompletion() {
	m.wg.Wait()
}
