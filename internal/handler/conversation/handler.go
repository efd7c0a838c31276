package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	engine "github.com/zhouzirui/tavern-chatter/backend/internal/service/dialogue"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/tavern"
	"github.com/zhouzirui/tavern-chatter/backend/pkg/utils"
)

// FallbackHeader 标记本次结果来自兜底台词，值为失败类型。
const FallbackHeader = "X-Dialogue-Fallback"

// Service 是对话处理器依赖的应用服务。
type Service interface {
	Converse(ctx context.Context, in tavern.ConverseInput) (tavern.ConverseOutput, error)
	Reply(ctx context.Context, in tavern.ReplyInput) (tavern.ReplyOutput, error)
	Turns(ctx context.Context, sceneID string, since time.Time) ([]dialogue.Turn, error)
}

// Handler 对话服务的HTTP处理器
type Handler struct {
	svc Service
	log *slog.Logger
}

// New 创建对话处理器
func New(svc Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: logger.Component(log, "conversation")}
}

// RegisterRoutes 注册对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations", h.handleConverse)
	r.Post("/replies", h.handleReply)
	r.Get("/scenes/{sceneID}/turns", h.handleTurns)
}

type conversationRequest struct {
	SceneID        string   `json:"sceneId"`
	ParticipantIDs []string `json:"participantIds"`
	dialogue.Scene
}

type replyRequest struct {
	SceneID     string `json:"sceneId"`
	CharacterID string `json:"characterId"`
	Prompt      string `json:"prompt"`
	dialogue.Scene
}

// Message 是前端展示的一句台词。
type Message struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"characterId"`
	Message     string    `json:"message"`
	Mood        string    `json:"mood,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ToMessage 把对话轮次转换为前端消息。
func ToMessage(turn dialogue.Turn) Message {
	return Message{
		ID:          turn.ID,
		CharacterID: turn.SpeakerID,
		Message:     turn.Text,
		Mood:        turn.Mood,
		Timestamp:   turn.CreatedAt,
	}
}

// ToMessages converts a batch of turns.
func ToMessages(turns []dialogue.Turn) []Message {
	out := make([]Message, len(turns))
	for i, turn := range turns {
		out[i] = ToMessage(turn)
	}
	return out
}

// handleConverse 生成多人对话
func (h *Handler) handleConverse(w http.ResponseWriter, r *http.Request) {
	var payload conversationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.Converse(r.Context(), tavern.ConverseInput{
		SceneID:        payload.SceneID,
		ParticipantIDs: payload.ParticipantIDs,
		Scene:          payload.Scene,
	})
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	markFallback(w, out.Fallback, out.FailureKind)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sceneId":  out.SceneID,
		"messages": ToMessages(out.Turns),
	})
}

// handleReply 生成单个角色对玩家的回复
func (h *Handler) handleReply(w http.ResponseWriter, r *http.Request) {
	var payload replyRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.Reply(r.Context(), tavern.ReplyInput{
		SceneID:    payload.SceneID,
		PersonaID:  payload.CharacterID,
		PlayerText: payload.Prompt,
		Scene:      payload.Scene,
	})
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	markFallback(w, out.Fallback, out.FailureKind)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sceneId":  out.SceneID,
		"response": out.Turn.Text,
		"message":  ToMessage(out.Turn),
	})
}

// handleTurns 轮询场景中的新台词
func (h *Handler) handleTurns(w http.ResponseWriter, r *http.Request) {
	sceneID := dialogue.Slug(chi.URLParam(r, "sceneID"))
	if sceneID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sceneID is required")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = parsed
	}

	turns, err := h.svc.Turns(r.Context(), sceneID, since)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sceneId":  sceneID,
		"messages": ToMessages(turns),
	})
}

func (h *Handler) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		utils.RespondError(w, http.StatusServiceUnavailable, "tavern is busy, try again")
	default:
		log := logger.WithRequestID(h.log, middleware.GetReqID(r.Context()))
		logger.WithError(log, err).Error("request failed", "path", r.URL.Path)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

func markFallback(w http.ResponseWriter, fallback bool, kind string) {
	if !fallback {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	w.Header().Set(FallbackHeader, kind)
}
