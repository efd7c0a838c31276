package live

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
)

// EventTurns is published whenever new turns land in a scene.
const EventTurns = "turns"

// DefaultBuffer is the per-session event buffer.
const DefaultBuffer = 16

// Event is what listeners receive.
type Event struct {
	Type      string          `json:"type"`
	SceneID   string          `json:"sceneId"`
	Turns     []dialogue.Turn `json:"turns"`
	Fallback  bool            `json:"fallback,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Hub fans published turns out to every session of a scene. Slow sessions
// lose events instead of blocking publishers.
type Hub struct {
	sessions SessionStore
	buffer   int
	dropped  atomic.Int64
	log      *slog.Logger
}

// NewHub creates a hub. A nil store uses MemorySessionStore.
func NewHub(store SessionStore, buffer int, log *slog.Logger) *Hub {
	if store == nil {
		store = NewMemorySessionStore()
	}
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Hub{
		sessions: store,
		buffer:   buffer,
		log:      logger.Component(log, "hub"),
	}
}

// Subscribe registers a listener for sceneID. The returned func removes the
// session and closes its channel; it is safe to call more than once.
func (h *Hub) Subscribe(sceneID string) (*Session, func()) {
	session := newSession(uuid.NewString(), sceneID, h.buffer)
	h.sessions.Add(session)
	h.log.Debug("session subscribed", "session", session.ID, "scene", sceneID)

	return session, func() {
		if s, ok := h.sessions.Remove(session.ID); ok {
			s.close()
			h.log.Debug("session unsubscribed", "session", session.ID, "scene", sceneID)
		}
	}
}

// Publish delivers turns to every session of the scene and reports how many
// sessions received them.
func (h *Hub) Publish(sceneID string, turns []dialogue.Turn, fallback bool) int {
	if len(turns) == 0 {
		return 0
	}

	ev := Event{
		Type:      EventTurns,
		SceneID:   sceneID,
		Turns:     append([]dialogue.Turn(nil), turns...),
		Fallback:  fallback,
		Timestamp: time.Now().Unix(),
	}

	delivered := 0
	for _, s := range h.sessions.ForScene(sceneID) {
		if s.deliver(ev) {
			delivered++
			continue
		}
		h.dropped.Add(1)
		h.log.Warn("dropping event for slow session", "session", s.ID, "scene", sceneID)
	}
	return delivered
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	return h.sessions.Count()
}

// Dropped returns how many deliveries were skipped.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
