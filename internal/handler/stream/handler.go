package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tavern-chatter/backend/internal/handler/conversation"
	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/live"
	"github.com/zhouzirui/tavern-chatter/backend/pkg/utils"
)

// DefaultHeartbeat keeps idle proxies from closing the stream.
const DefaultHeartbeat = 15 * time.Second

// Subscriber is the hub surface the stream needs.
type Subscriber interface {
	Subscribe(sceneID string) (*live.Session, func())
}

// Handler streams a scene's new turns via Server-Sent Events.
type Handler struct {
	hub       Subscriber
	heartbeat time.Duration
	log       *slog.Logger
}

// New creates a new stream handler. heartbeat <= 0 uses DefaultHeartbeat.
func New(hub Subscriber, heartbeat time.Duration, log *slog.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Handler{hub: hub, heartbeat: heartbeat, log: logger.Component(log, "stream")}
}

// RegisterRoutes mounts the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/scenes/{sceneID}/stream", h.handleStream)
}

// StreamResponse represents one streamed chunk
type StreamResponse struct {
	Event    string                 `json:"event"`
	SceneID  string                 `json:"sceneId"`
	Messages []conversation.Message `json:"messages,omitempty"`
	Fallback bool                   `json:"fallback,omitempty"`
	Time     string                 `json:"time,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sceneID := dialogue.Slug(chi.URLParam(r, "sceneID"))
	if sceneID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sceneID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	session, leave := h.hub.Subscribe(sceneID)
	defer leave()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	utils.SendSSEChunk(w, flusher, StreamResponse{Event: "status", SceneID: sceneID})
	h.log.Info("stream opened", "scene", sceneID, "session", session.ID)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Info("stream closed", "scene", sceneID, "session", session.ID)
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			utils.SendSSEChunk(w, flusher, StreamResponse{
				Event:    ev.Type,
				SceneID:  ev.SceneID,
				Messages: conversation.ToMessages(ev.Turns),
				Fallback: ev.Fallback,
			})
		case t := <-ticker.C:
			utils.SendSSEChunk(w, flusher, StreamResponse{
				Event:   "heartbeat",
				SceneID: sceneID,
				Time:    t.UTC().Format(time.RFC3339),
			})
		}
	}
}
