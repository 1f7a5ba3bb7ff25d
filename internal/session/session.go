// Package session serves the browser's websocket connection: it pushes
// lesson and test updates and dispatches the client's commands.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shsh-lessons/internal/protocol"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const writeTimeout = 10 * time.Second

// Session is one connected client. Sends are serialized so frames reach
// the browser in the order they were produced.
type Session struct {
	id        string
	conn      *websocket.Conn
	logger    *slog.Logger
	createdAt time.Time

	mu sync.Mutex
}

func newSession(conn *websocket.Conn, logger *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		conn:      conn,
		logger:    logger.With("session_id", id),
		createdAt: time.Now(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Send writes one event frame to the client.
func (s *Session) Send(ctx context.Context, event protocol.Event, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// Manager tracks active sessions.
type Manager struct {
	mu     sync.RWMutex
	active map[string]*Session
}

// NewManager creates a new session manager.
func NewManager() *Manager {
	return &Manager{active: make(map[string]*Session)}
}

// Register adds a session.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[s.id] = s
	slog.Info("Session registered", "session_id", s.id, "active", len(m.active))
}

// Unregister removes a session.
func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.active[s.id]; ok && current == s {
		delete(m.active, s.id)
		slog.Info("Session unregistered", "session_id", s.id, "active", len(m.active),
			"duration", time.Since(s.createdAt).Round(time.Second))
	}
}

// Get returns the session with id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[id]
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll terminates every active session, e.g. on shutdown.
func (m *Manager) CloseAll(reason string) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		_ = s.conn.Close(websocket.StatusGoingAway, reason)
	}
}
