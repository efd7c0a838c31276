package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/tavern-chatter/backend/internal/handler/conversation"
	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
	engine "github.com/zhouzirui/tavern-chatter/backend/internal/service/dialogue"
	livesvc "github.com/zhouzirui/tavern-chatter/backend/internal/service/live"
	"github.com/zhouzirui/tavern-chatter/backend/internal/service/tavern"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Service is the tavern surface driven by inbound socket messages.
type Service interface {
	Converse(ctx context.Context, in tavern.ConverseInput) (tavern.ConverseOutput, error)
	Reply(ctx context.Context, in tavern.ReplyInput) (tavern.ReplyOutput, error)
}

// Subscriber is the hub surface the socket listens on.
type Subscriber interface {
	Subscribe(sceneID string) (*livesvc.Session, func())
}

// WebSocketHandler WebSocket场景推送处理器
type WebSocketHandler struct {
	svc      Service
	hub      Subscriber
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(svc Service, hub Subscriber, log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		svc: svc,
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: logger.Component(log, "websocket"),
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sceneID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ReplyMessage 玩家对某个角色说的话
type ReplyMessage struct {
	CharacterID string `json:"characterId"`
	Prompt      string `json:"prompt"`
}

// ConverseMessage 请求几位角色聊上几句
type ConverseMessage struct {
	ParticipantIDs []string `json:"participantIds"`
}

// Envelope is every outbound frame.
type Envelope struct {
	Type      string `json:"type"`
	SceneID   string `json:"sceneId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// connection serialises writes; gorilla allows one concurrent writer.
type connection struct {
	conn    *websocket.Conn
	sceneID string
	scene   dialogue.Scene
	mu      sync.Mutex
	log     *slog.Logger
}

func (c *connection) send(msgType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteJSON(Envelope{
		Type:      msgType,
		SceneID:   c.sceneID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		c.log.Debug("write failed", "type", msgType, "error", err)
	}
	return err
}

func (c *connection) sendError(message string) {
	_ = c.send("error", map[string]string{"message": message})
}

func (c *connection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sceneID := dialogue.Slug(chi.URLParam(r, "sceneID"))
	if sceneID == "" {
		http.Error(w, "sceneID is required", http.StatusBadRequest)
		return
	}
	scene := sceneFromQuery(r, sceneID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(h.log, err).Warn("upgrade failed", "scene", sceneID)
		return
	}
	defer conn.Close()

	session, leave := h.hub.Subscribe(sceneID)
	defer leave()

	log := h.log.With("scene", sceneID, "session", session.ID)
	log.Info("new connection")

	c := &connection{conn: conn, sceneID: sceneID, scene: scene, log: log}

	// requests outlive a read; the loop keeps answering pings meanwhile
	var inflight sync.WaitGroup
	defer inflight.Wait()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.pump(ctx, c, session)

	_ = c.send("connected", map[string]any{"session": session.ID, "scene": scene.Name})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(log, err).Warn("read error")
			}
			log.Info("connection closed")
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(ctx, c, &msg, &inflight)
	}
}

// pump forwards hub events and keeps the connection alive.
func (h *WebSocketHandler) pump(ctx context.Context, c *connection, session *livesvc.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			if err := c.send(ev.Type, map[string]any{
				"messages": conversation.ToMessages(ev.Turns),
				"fallback": ev.Fallback,
			}); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

// handleMessage answers control frames inline and runs tavern requests in
// the background, tracked by inflight.
func (h *WebSocketHandler) handleMessage(ctx context.Context, c *connection, msg *inboundMessage, inflight *sync.WaitGroup) {
	switch msg.Type {
	case "reply":
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			h.handleReply(ctx, c, msg.Data)
		}()
	case "converse":
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			h.handleConverse(ctx, c, msg.Data)
		}()
	case "ping":
		_ = c.send("pong", nil)
	default:
		c.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *WebSocketHandler) handleReply(ctx context.Context, c *connection, raw json.RawMessage) {
	var in ReplyMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		c.sendError("invalid reply payload")
		return
	}

	out, err := h.svc.Reply(ctx, tavern.ReplyInput{
		SceneID:    c.sceneID,
		PersonaID:  in.CharacterID,
		PlayerText: in.Prompt,
		Scene:      c.scene,
	})
	if err != nil {
		h.reportFailure(c, err)
		return
	}

	_ = c.send("result", map[string]any{
		"response": out.Turn.Text,
		"message":  conversation.ToMessage(out.Turn),
		"fallback": out.Fallback,
	})
}

func (h *WebSocketHandler) handleConverse(ctx context.Context, c *connection, raw json.RawMessage) {
	var in ConverseMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		c.sendError("invalid converse payload")
		return
	}

	// turns reach this socket through the hub
	if _, err := h.svc.Converse(ctx, tavern.ConverseInput{
		SceneID:        c.sceneID,
		ParticipantIDs: in.ParticipantIDs,
		Scene:          c.scene,
	}); err != nil {
		h.reportFailure(c, err)
	}
}

func (h *WebSocketHandler) reportFailure(c *connection, err error) {
	if errors.Is(err, engine.ErrInvalidRequest) {
		c.sendError(err.Error())
		return
	}
	logger.WithError(c.log, err).Warn("socket request failed")
	c.sendError("tavern is busy, try again")
}

func sceneFromQuery(r *http.Request, sceneID string) dialogue.Scene {
	q := r.URL.Query()
	scene := dialogue.Scene{
		Name:         q.Get("scene"),
		Atmosphere:   q.Get("atmosphere"),
		Theme:        q.Get("theme"),
		RecentEvents: q["event"],
	}
	if scene.Name == "" {
		scene.Name = sceneID
	}
	return scene.Normalized()
}
