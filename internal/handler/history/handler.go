package history

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/ragdesk/ragdesk/backend/internal/auth"
	"github.com/ragdesk/ragdesk/backend/internal/model/chat"
	chatService "github.com/ragdesk/ragdesk/backend/internal/service/chat"
	historyService "github.com/ragdesk/ragdesk/backend/internal/service/history"
	"github.com/ragdesk/ragdesk/backend/pkg/utils"
)

// Handler 会话历史的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	now     func() time.Time
}

// New 创建会话历史处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc, now: time.Now}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleStart)
		r.Get("/", h.handleList)
		r.Delete("/", h.handleClearAll)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Delete("/", h.handleDelete)
			r.Patch("/", h.handleRename)
			r.Post("/messages", h.handleAppend)
			r.Post("/checkpoint", h.handleCheckpoint)
			r.Post("/end", h.handleEnd)
			r.Post("/resume", h.handleResume)
		})
	})
}

type summaryView struct {
	ID           string    `json:"session_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"timestamp"`
	MessageCount int       `json:"message_count"`
	Age          string    `json:"age"`
	Active       bool      `json:"active"`
}

type listResponse struct {
	Sessions []summaryView `json:"sessions"`
	Active   []summaryView `json:"active"`
	Enabled  bool          `json:"historyEnabled"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.Start(r.Context(), principalOf(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleList 返回历史会话列表，最新的在前。
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	active := h.chatSvc.Active(r.Context(), principal)
	activeIDs := lo.SliceToMap(active, func(s chat.Summary) (string, struct{}) {
		return s.ID, struct{}{}
	})

	resp := listResponse{
		Sessions: []summaryView{},
		Active:   h.views(active, activeIDs),
		Enabled:  h.chatSvc.HistoryEnabled(),
	}
	if resp.Enabled {
		stored, err := h.chatSvc.List(r.Context(), principal)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		resp.Sessions = h.views(stored, activeIDs)
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.ClearAll(r.Context(), principalOf(r)); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGet prefers the live transcript and falls back to the stored one.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	principal, id := principalOf(r), chi.URLParam(r, "sessionID")

	if live, err := h.chatSvc.Get(r.Context(), principal, id); err == nil {
		utils.RespondJSON(w, http.StatusOK, live)
		return
	}

	session, err := h.chatSvc.Load(r.Context(), principal, id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	principal, id := principalOf(r), chi.URLParam(r, "sessionID")

	if !h.chatSvc.HistoryEnabled() {
		h.chatSvc.Forget(principal, id)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.chatSvc.Delete(r.Context(), principal, id); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	summary, err := h.chatSvc.Rename(r.Context(), principalOf(r), chi.URLParam(r, "sessionID"), payload.Title)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		Author  string `json:"author"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role := chat.Role(payload.Role)
	if role == "" {
		role = chat.RoleUser
	}

	message, err := h.chatSvc.Append(r.Context(), principalOf(r), chi.URLParam(r, "sessionID"), role, payload.Content, payload.Author)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, message)
}

func (h *Handler) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	result, err := h.chatSvc.Checkpoint(r.Context(), principalOf(r), chi.URLParam(r, "sessionID"))
	respondSave(w, result, err)
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	result, err := h.chatSvc.End(r.Context(), principalOf(r), chi.URLParam(r, "sessionID"))
	respondSave(w, result, err)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.Resume(r.Context(), principalOf(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) views(summaries []chat.Summary, active map[string]struct{}) []summaryView {
	now := h.now()
	return lo.Map(summaries, func(s chat.Summary, _ int) summaryView {
		_, live := active[s.ID]
		return summaryView{
			ID:           s.ID,
			Title:        s.Title,
			CreatedAt:    s.CreatedAt,
			MessageCount: s.MessageCount,
			Age:          humanize.RelTime(s.CreatedAt, now, "ago", "from now"),
			Active:       live,
		}
	})
}

// respondSave reports storage failures as saved=false; the conversation
// itself is unaffected, so the request still succeeds.
func respondSave(w http.ResponseWriter, result chatService.SaveResult, err error) {
	if err != nil && !errors.Is(err, historyService.ErrIO) {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrHistoryDisabled):
		utils.RespondError(w, http.StatusServiceUnavailable, "chat history is disabled")
	case errors.Is(err, chatService.ErrSessionNotFound), errors.Is(err, historyService.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, historyService.ErrCorrupt):
		utils.RespondError(w, http.StatusUnprocessableEntity, "cannot resume this session")
	case errors.Is(err, chat.ErrInvalidRole):
		utils.RespondError(w, http.StatusBadRequest, "invalid message role")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "chat history unavailable")
	}
}

func principalOf(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok && p.ID != "" {
		return p.ID
	}
	return auth.AnonymousID
}
