package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/tavern-chatter/backend/internal/handler/conversation"
	"github.com/zhouzirui/tavern-chatter/backend/internal/handler/live"
	"github.com/zhouzirui/tavern-chatter/backend/internal/handler/persona"
	"github.com/zhouzirui/tavern-chatter/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/tavern-chatter/backend/internal/middleware"
	personaModel "github.com/zhouzirui/tavern-chatter/backend/internal/model/persona"
	liveService "github.com/zhouzirui/tavern-chatter/backend/internal/service/live"
	tavernService "github.com/zhouzirui/tavern-chatter/backend/internal/service/tavern"
	"github.com/zhouzirui/tavern-chatter/backend/pkg/utils"
)

// Deps 是路由依赖的核心服务。
type Deps struct {
	Personas personaModel.Store
	Tavern   *tavernService.Service
	Hub      *liveService.Hub
	Backend  string
	Logger   *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"backend":  deps.Backend,
			"sessions": deps.Hub.Sessions(),
		})
	})

	personaHandler := persona.New(deps.Personas)
	conversationHandler := conversation.New(deps.Tavern, deps.Logger)
	streamHandler := stream.New(deps.Hub, 0, deps.Logger)
	socketHandler := live.NewWebSocketHandler(deps.Tavern, deps.Hub, deps.Logger)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		conversationHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		socketHandler.RegisterWebSocketRoutes(api)
	})

	return r
}
