package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-parlor/backend/internal/handler/chat"
	roleHandler "github.com/zhouzirui/z-parlor/backend/internal/handler/role"
	"github.com/zhouzirui/z-parlor/backend/internal/handler/stream"
	"github.com/zhouzirui/z-parlor/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/z-parlor/backend/internal/middleware"
	roleModel "github.com/zhouzirui/z-parlor/backend/internal/model/role"
	chatService "github.com/zhouzirui/z-parlor/backend/internal/service/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/service/memory"
	"github.com/zhouzirui/z-parlor/backend/internal/service/turn"
	"github.com/zhouzirui/z-parlor/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(roles roleModel.Store, chatSvc *chatService.Service, turnSvc *turn.Service, mem *memory.Store) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	rolesHandler := roleHandler.New(roles)
	chatHandler := chat.New(chatSvc, turnSvc, mem, roles)
	streamHandler := stream.New(turnSvc)
	wsHandler := ws.New(turnSvc, chatSvc)

	r.Route("/api", func(api chi.Router) {
		rolesHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)

		api.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			userMessage := r.URL.Query().Get("message")

			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamHandler.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
				log.Printf("[stream] error handling request: %v", err)
			}
		})
	})

	return r
}
