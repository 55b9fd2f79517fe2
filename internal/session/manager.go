package session

import (
	"sync"

	"go.uber.org/zap"

	"relay-chat-server/internal/protocol"
)

// Manager is the process-wide registry of live sessions: the full set plus
// identity indexes populated once a session authenticates. One mutex covers
// all three maps so registration and removal are atomic with respect to
// lookups.
type Manager struct {
	log *zap.Logger

	mu         sync.Mutex
	sessions   map[*Session]struct{}
	byUserID   map[int64]*Session
	byUsername map[string]*Session
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		log:        log,
		sessions:   make(map[*Session]struct{}),
		byUserID:   make(map[int64]*Session),
		byUsername: make(map[string]*Session),
	}
}

// Add registers a freshly accepted session.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s] = struct{}{}
}

// Remove unregisters a session. For authenticated sessions both identity
// entries are cleared as well; the identity check guards against erasing a
// newer session that re-authenticated under the same user.
func (m *Manager) Remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.IsAuthenticated() {
		if cur, ok := m.byUserID[s.UserID()]; ok && cur == s {
			delete(m.byUserID, s.UserID())
		}
		if cur, ok := m.byUsername[s.Username()]; ok && cur == s {
			delete(m.byUsername, s.Username())
		}
	}
	delete(m.sessions, s)
}

// RegisterAuthenticated marks the session authenticated and indexes it by
// user id and username in one critical section.
func (m *Manager) RegisterAuthenticated(s *Session, userID int64, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.SetAuthenticated(userID, username)
	m.byUserID[userID] = s
	m.byUsername[username] = s
	m.log.Info("user authenticated",
		zap.Int64("user_id", userID),
		zap.String("username", username),
		zap.Uint64("session_id", s.ID()))
}

// UpdateUsername re-keys the username index: the old entry is removed before
// the new one is inserted, inside the same critical section.
func (m *Manager) UpdateUsername(s *Session, newUsername string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byUsername[s.Username()]; ok && cur == s {
		delete(m.byUsername, s.Username())
	}
	s.SetUsername(newUsername)
	m.byUsername[newUsername] = s
}

// FindByUsername returns the authenticated session for username, or nil.
// An absent entry is a normal outcome, not an error.
func (m *Manager) FindByUsername(username string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUsername[username]
}

// FindByUserID returns the authenticated session for userID, or nil.
func (m *Manager) FindByUserID(userID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUserID[userID]
}

// BroadcastAll sends the envelope to every authenticated session. The
// recipient set is snapshotted under the lock and delivery happens outside
// it.
func (m *Manager) BroadcastAll(env *protocol.Envelope) {
	m.mu.Lock()
	recipients := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		if s.IsAuthenticated() {
			recipients = append(recipients, s)
		}
	}
	m.mu.Unlock()

	for _, s := range recipients {
		s.Send(env)
	}
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll tears down every live session; used during server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
