package transport

import (
	"fmt"
	"sync"

	"github.com/parleylabs/parley/internal/logger"
)

// Manager is the arena of transport sessions, keyed by conversation ID.
// Every conversation owns exactly one independently lifecycled Session;
// nothing is shared across conversations. This isolation is a
// correctness invariant, not an optimization.
type Manager struct {
	defaults Config
	dialer   Dialer
	handler  Handler

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session arena. The defaults supply everything but
// the per-conversation fields of each session's Config.
func NewManager(defaults Config, dialer Dialer, handler Handler) *Manager {
	return &Manager{
		defaults: defaults,
		dialer:   dialer,
		handler:  handler,
		sessions: make(map[string]*Session),
	}
}

// Open creates and registers the session for a conversation. Each
// session gets its own parameter set; re-opening an existing
// conversation is an error — the existing session must be closed first.
func (m *Manager) Open(conversationID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[conversationID]; exists {
		return nil, fmt.Errorf("session already open for conversation %s", conversationID)
	}

	cfg := m.defaults
	cfg.ConversationID = conversationID
	sess := NewSession(cfg, m.dialer, m.handler)
	m.sessions[conversationID] = sess
	logger.Info("Session opened for conversation %s", conversationID)
	return sess, nil
}

// Get returns the session for a conversation
func (m *Manager) Get(conversationID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[conversationID]
	return sess, ok
}

// Close disconnects and removes one conversation's session
func (m *Manager) Close(conversationID string) {
	m.mu.Lock()
	sess, ok := m.sessions[conversationID]
	delete(m.sessions, conversationID)
	m.mu.Unlock()

	if ok {
		sess.Disconnect()
		logger.Info("Session closed for conversation %s", conversationID)
	}
}

// CloseAll disconnects every session and empties the arena
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Disconnect()
	}
}

// Count returns the number of registered sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
