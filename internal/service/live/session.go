package live

import (
	"sync"
	"time"
)

// Session is one connected listener (an SSE stream or a WebSocket) bound to
// a scene.
type Session struct {
	ID        string
	SceneID   string
	CreatedAt time.Time

	mu     sync.Mutex
	closed bool
	events chan Event
}

func newSession(id, sceneID string, buffer int) *Session {
	return &Session{
		ID:        id,
		SceneID:   sceneID,
		CreatedAt: time.Now().UTC(),
		events:    make(chan Event, buffer),
	}
}

// Events is closed when the session is unsubscribed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// deliver never blocks; a full buffer drops the event.
func (s *Session) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// SessionStore tracks connected sessions. It is injected into the Hub so
// deployments can swap the bookkeeping.
type SessionStore interface {
	Add(s *Session)
	Remove(id string) (*Session, bool)
	ForScene(sceneID string) []*Session
	Count() int
}

// MemorySessionStore is the default in-process SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (m *MemorySessionStore) Add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

func (m *MemorySessionStore) Remove(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return s, ok
}

func (m *MemorySessionStore) ForScene(sceneID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.SceneID == sceneID {
			out = append(out, s)
		}
	}
	return out
}

func (m *MemorySessionStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
