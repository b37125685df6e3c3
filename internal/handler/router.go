package handler

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ragdesk/ragdesk/backend/internal/auth"
	"github.com/ragdesk/ragdesk/backend/internal/handler/conversation"
	"github.com/ragdesk/ragdesk/backend/internal/handler/history"
	"github.com/ragdesk/ragdesk/backend/internal/handler/knowledge"
	middlewarePkg "github.com/ragdesk/ragdesk/backend/internal/middleware"
	chatService "github.com/ragdesk/ragdesk/backend/internal/service/chat"
	"github.com/ragdesk/ragdesk/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, strategy auth.Strategy, allowedOrigins []string, knowledgeDir string, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}

	origins := middlewarePkg.NewOriginPolicy(allowedOrigins)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(origins.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"historyEnabled": chatSvc.HistoryEnabled(),
			"auth":           strategy.Name(),
		})
	})

	// Create handlers
	historyHandler := history.New(chatSvc)
	wsHandler := conversation.NewWebSocketHandler(chatSvc, origins.CheckOrigin, logger.WithPrefix("conversation"))
	knowledgeHandler := knowledge.New(knowledgeDir, logger.WithPrefix("knowledge"))

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.Authenticate(strategy, logger.WithPrefix("auth")))

		historyHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
		knowledgeHandler.RegisterRoutes(api)

		api.Get("/me", func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFrom(r.Context())
			utils.RespondJSON(w, http.StatusOK, principal)
		})
	})

	return r
}
