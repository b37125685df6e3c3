package knowledge

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/ragdesk/ragdesk/backend/internal/knowledge"
	"github.com/ragdesk/ragdesk/backend/pkg/utils"
)

// Handler exposes the document support matrix and the knowledge-base inventory.
type Handler struct {
	dataDir string
	logger  *log.Logger
}

// New 创建知识库处理器
func New(dataDir string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{dataDir: dataDir, logger: logger}
}

// RegisterRoutes 注册知识库相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/knowledge/filetypes", h.handleFileTypes)
	r.Get("/knowledge/files", h.handleFiles)
}

func (h *Handler) handleFileTypes(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"categories": knowledge.Categories(),
		"extensions": knowledge.Extensions(),
	})
}

func (h *Handler) handleFiles(w http.ResponseWriter, r *http.Request) {
	inv, err := knowledge.Scan(r.Context(), h.dataDir)
	if err != nil {
		h.logger.Error("knowledge scan failed", "dir", h.dataDir, "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "knowledge base unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, inv)
}
