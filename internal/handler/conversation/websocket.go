package conversation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ragdesk/ragdesk/backend/internal/auth"
	"github.com/ragdesk/ragdesk/backend/internal/model/chat"
	chatService "github.com/ragdesk/ragdesk/backend/internal/service/chat"
	historyService "github.com/ragdesk/ragdesk/backend/internal/service/history"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	// persistTimeout bounds the save performed after the client is gone.
	persistTimeout = 15 * time.Second
)

// WebSocketHandler runs one conversation per websocket connection. Opening
// the socket starts (or resumes) a session, message frames append turns and
// the session is persisted when the client sends "end" or disconnects.
type WebSocketHandler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
//
// checkOrigin decides which browser origins may open a conversation. A nil
// checkOrigin only accepts same-host origins.
func NewWebSocketHandler(chatSvc *chatService.Service, checkOrigin func(*http.Request) bool, logger *log.Logger) *WebSocketHandler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if checkOrigin == nil {
		checkOrigin = sameHostOrigin
	}
	return &WebSocketHandler{
		chatSvc: chatSvc,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage is the payload of a *_message frame.
type TextMessage struct {
	Content string `json:"content"`
	Author  string `json:"author,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection serialises writes; gorilla allows one concurrent writer.
type connection struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	principal string
	sessionID string
	logger    *log.Logger
}

func (c *connection) send(msg outgoingMessage) {
	msg.Timestamp = time.Now().Unix()
	if msg.SessionID == "" {
		msg.SessionID = c.sessionID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("write failed", "type", msg.Type, "error", err)
	}
}

func (c *connection) sendError(message string) {
	c.send(outgoingMessage{Type: "error", Data: map[string]string{"message": message}})
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal := auth.AnonymousID
	if p, ok := auth.PrincipalFrom(r.Context()); ok && p.ID != "" {
		principal = p.ID
	}

	if !h.upgrader.CheckOrigin(r) {
		h.logger.Warn("rejected cross-origin conversation", "origin", r.Header.Get("Origin"))
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	resumeID := r.URL.Query().Get("session")
	session, err := h.open(r.Context(), principal, resumeID)
	if err != nil {
		status, message := openFailure(err)
		http.Error(w, message, status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		if resumeID == "" {
			h.chatSvc.Forget(principal, session.ID)
		}
		return
	}
	defer conn.Close()

	c := &connection{
		conn:      conn,
		principal: principal,
		sessionID: session.ID,
		logger:    h.logger.With("session", session.ID),
	}
	c.logger.Info("conversation connected", "principal", principal, "messages", len(session.Messages))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ended := false
	defer func() {
		if !ended {
			h.finish(c, "disconnect")
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, conn)

	c.send(outgoingMessage{Type: "session", Data: session})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != session.ID {
			c.sendError("session mismatch")
			continue
		}

		if h.handleMessage(ctx, c, &msg) {
			ended = true
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "conversation ended"),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// open starts a fresh conversation or reactivates a stored one.
func (h *WebSocketHandler) open(ctx context.Context, principal, sessionID string) (chat.Session, error) {
	if sessionID == "" {
		return h.chatSvc.Start(ctx, principal)
	}
	return h.chatSvc.Resume(ctx, principal, sessionID)
}

// handleMessage applies one frame and reports whether the conversation ended.
func (h *WebSocketHandler) handleMessage(ctx context.Context, c *connection, msg *inboundMessage) bool {
	switch msg.Type {
	case "user_message", "assistant_message", "system_message":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			c.sendError("invalid message payload")
			return false
		}
		role := chat.RoleFromMessageType(msg.Type)
		message, err := h.chatSvc.Append(ctx, c.principal, c.sessionID, role, text.Content, text.Author)
		if err != nil {
			c.logger.Warn("append failed", "error", err)
			c.sendError("message rejected")
			return false
		}
		c.send(outgoingMessage{Type: "ack", Data: message})
		return false

	case "checkpoint":
		result, err := h.chatSvc.Checkpoint(ctx, c.principal, c.sessionID)
		if err != nil && !errors.Is(err, historyService.ErrIO) {
			c.sendError("checkpoint failed")
			return false
		}
		c.send(outgoingMessage{Type: "saved", Data: result})
		return false

	case "end":
		result := h.finish(c, "end")
		c.send(outgoingMessage{Type: "saved", Data: result})
		return true

	default:
		c.sendError("unknown message type: " + strings.TrimSpace(msg.Type))
		return false
	}
}

// finish ends the conversation and persists it. A failed save is logged and
// reported as saved=false; the transcript is never discarded silently.
func (h *WebSocketHandler) finish(c *connection, reason string) chatService.SaveResult {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	result, err := h.chatSvc.End(ctx, c.principal, c.sessionID)
	if err != nil {
		c.logger.Warn("conversation not saved", "reason", reason, "error", err)
	} else {
		c.logger.Info("conversation closed", "reason", reason, "saved", result.Saved)
	}
	return result
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func openFailure(err error) (int, string) {
	switch {
	case errors.Is(err, chatService.ErrHistoryDisabled):
		return http.StatusServiceUnavailable, "chat history is disabled"
	case errors.Is(err, historyService.ErrNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, historyService.ErrCorrupt):
		return http.StatusUnprocessableEntity, "cannot resume this session"
	default:
		return http.StatusInternalServerError, "conversation unavailable"
	}
}
