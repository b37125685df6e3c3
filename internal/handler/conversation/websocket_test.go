package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragdesk/ragdesk/backend/internal/middleware"
	chatService "github.com/ragdesk/ragdesk/backend/internal/service/chat"
	historyService "github.com/ragdesk/ragdesk/backend/internal/service/history"
)

type frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func newServer(t *testing.T) (*httptest.Server, *chatService.Service) {
	t.Helper()
	return newServerWithOrigins(t, nil)
}

func newServerWithOrigins(t *testing.T, checkOrigin func(*http.Request) bool) (*httptest.Server, *chatService.Service) {
	t.Helper()
	manager := historyService.NewManager(historyService.Config{Dir: t.TempDir(), MaxSessions: 50}, nil)
	svc := chatService.NewService(manager, chatService.Config{HistoryEnabled: true}, nil)

	r := chi.NewRouter()
	NewWebSocketHandler(svc, checkOrigin, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func sendFrame(t *testing.T, conn *websocket.Conn, kind string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": kind, "data": json.RawMessage(raw)}))
}

func openSession(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, "session", f.Type)
	require.NotEmpty(t, f.SessionID)
	return f.SessionID
}

func TestConversationEndPersists(t *testing.T) {
	srv, svc := newServer(t)
	conn := dial(t, srv, "")
	id := openSession(t, conn)

	sendFrame(t, conn, "user_message", TextMessage{Content: "Wi-Fi drops every hour"})
	ack := readFrame(t, conn)
	require.Equal(t, "ack", ack.Type)
	assert.Contains(t, string(ack.Data), `"type":"user_message"`)

	sendFrame(t, conn, "assistant_message", TextMessage{Content: "Update the wireless driver."})
	require.Equal(t, "ack", readFrame(t, conn).Type)

	sendFrame(t, conn, "end", struct{}{})
	saved := readFrame(t, conn)
	require.Equal(t, "saved", saved.Type)

	var result struct {
		Saved   bool `json:"saved"`
		Session struct {
			Title        string `json:"title"`
			MessageCount int    `json:"message_count"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(saved.Data, &result))
	assert.True(t, result.Saved)
	assert.Equal(t, "Wi-Fi drops every hour", result.Session.Title)
	assert.Equal(t, 2, result.Session.MessageCount)

	loaded, err := svc.Load(context.Background(), "anonymous", id)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 2)
}

func TestConversationDisconnectPersists(t *testing.T) {
	srv, svc := newServer(t)
	conn := dial(t, srv, "")
	id := openSession(t, conn)

	sendFrame(t, conn, "user_message", TextMessage{Content: "monitor flickers"})
	require.Equal(t, "ack", readFrame(t, conn).Type)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		session, err := svc.Load(context.Background(), "anonymous", id)
		return err == nil && session.MessageCount == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConversationResume(t *testing.T) {
	srv, svc := newServer(t)
	conn := dial(t, srv, "")
	id := openSession(t, conn)
	sendFrame(t, conn, "user_message", TextMessage{Content: "need a new badge"})
	require.Equal(t, "ack", readFrame(t, conn).Type)
	sendFrame(t, conn, "end", struct{}{})
	require.Equal(t, "saved", readFrame(t, conn).Type)

	resumed := dial(t, srv, "?session="+id)
	f := readFrame(t, resumed)
	require.Equal(t, "session", f.Type)
	assert.Equal(t, id, f.SessionID)
	assert.Contains(t, string(f.Data), "need a new badge")

	sendFrame(t, resumed, "system_message", TextMessage{Content: "ticket opened"})
	require.Equal(t, "ack", readFrame(t, resumed).Type)
	sendFrame(t, resumed, "end", struct{}{})
	require.Equal(t, "saved", readFrame(t, resumed).Type)

	loaded, err := svc.Load(context.Background(), "anonymous", id)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 2)
	assert.Equal(t, "need a new badge", loaded.Title)
}

func TestConversationRejectsBadFrames(t *testing.T) {
	srv, _ := newServer(t)
	conn := dial(t, srv, "")
	openSession(t, conn)

	sendFrame(t, conn, "tool_message", TextMessage{Content: "x"})
	assert.Equal(t, "error", readFrame(t, conn).Type)

	sendFrame(t, conn, "dance", struct{}{})
	assert.Equal(t, "error", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "user_message", "sessionId": "someone-else"}))
	assert.Equal(t, "error", readFrame(t, conn).Type)
}

func TestConversationResumeUnknownSession(t *testing.T) {
	srv, _ := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=0b5f3d9e-8c1a-4f7b-9e2d-6a4c8b1f0e3d"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConversationRejectsForeignOrigin(t *testing.T) {
	policy := middleware.NewOriginPolicy([]string{"https://helpdesk.example.com"})
	srv, _ := newServerWithOrigins(t, policy.CheckOrigin)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://helpdesk.example.com"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.Equal(t, "session", readFrame(t, conn).Type)
}

func TestConversationDefaultsToSameHost(t *testing.T) {
	srv, _ := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
