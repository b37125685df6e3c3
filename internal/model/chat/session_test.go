package chat_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragdesk/ragdesk/backend/internal/model/chat"
)

func TestAppendRejectsUnknownRole(t *testing.T) {
	session := chat.NewSession("s1", createdAt)

	_, err := session.Append(chat.Role("robot"), "beep", "", createdAt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, chat.ErrInvalidRole))
	assert.Empty(t, session.Messages)
}

func TestAppendFillsDefaultAuthor(t *testing.T) {
	session := chat.NewSession("s1", createdAt)

	msg, err := session.Append(chat.RoleAssistant, "try restarting the spooler service", "", createdAt)
	require.NoError(t, err)
	assert.Equal(t, "Assistant", msg.Author)

	msg, err = session.Append(chat.RoleUser, "thanks", "alice", createdAt)
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.Author)
	assert.Len(t, session.Messages, 2)
}

func TestSessionWireFormat(t *testing.T) {
	session := chat.NewSession("8d0f7c3e-5f0e-4c1d-9f59-3c3f1fb7a001", createdAt)
	_, err := session.Append(chat.RoleUser, "printer offline", "", createdAt.Add(time.Second))
	require.NoError(t, err)
	session.Title = "printer offline"
	session.MessageCount = 1

	data, err := json.Marshal(session)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "8d0f7c3e-5f0e-4c1d-9f59-3c3f1fb7a001", raw["session_id"])
	assert.Equal(t, "printer offline", raw["title"])
	assert.Equal(t, "2025-03-14T09:26:53Z", raw["timestamp"])
	assert.EqualValues(t, 1, raw["message_count"])

	messages := raw["messages"].([]any)
	require.Len(t, messages, 1)
	first := messages[0].(map[string]any)
	assert.Equal(t, "user_message", first["type"])
	assert.Equal(t, "User", first["author"])
	assert.Equal(t, "2025-03-14T09:26:54Z", first["timestamp"])
}

func TestSessionDecodesLegacyTimestamps(t *testing.T) {
	legacy := []byte(`{
		"session_id": "abc",
		"title": "outlook crash",
		"timestamp": "2024-11-02T16:20:11.482913",
		"messages": [
			{"type": "user_message", "content": "outlook crash", "author": "User"},
			{"type": "assistant_message", "content": "Open in safe mode", "timestamp": "2024-11-02T16:20:12"}
		],
		"message_count": 1
	}`)

	var session chat.Session
	require.NoError(t, json.Unmarshal(legacy, &session))

	assert.Equal(t, time.Date(2024, 11, 2, 16, 20, 11, 482913000, time.UTC), session.CreatedAt)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, chat.RoleAssistant, session.Messages[1].Role)
	assert.True(t, session.Messages[0].Timestamp.IsZero())
	assert.Equal(t, 2, session.MessageCount)
}

func TestSummaryRequiresHeaderFields(t *testing.T) {
	var summary chat.Summary

	err := json.Unmarshal([]byte(`{"title": "x", "timestamp": "2025-01-01T00:00:00Z"}`), &summary)
	assert.True(t, errors.Is(err, chat.ErrMalformedSession))

	err = json.Unmarshal([]byte(`{"session_id": "a", "timestamp": "yesterday"}`), &summary)
	assert.True(t, errors.Is(err, chat.ErrMalformedSession))

	require.NoError(t, json.Unmarshal([]byte(`{"session_id": "a", "title": "t", "timestamp": "2025-01-01T00:00:00Z", "message_count": 4, "messages": [{"type": 12}]}`), &summary))
	assert.Equal(t, 4, summary.MessageCount)
}

func TestCloneIsIndependent(t *testing.T) {
	session := chat.NewSession("s1", createdAt)
	_, _ = session.Append(chat.RoleUser, "first", "", createdAt)

	clone := session.Clone()
	_, _ = session.Append(chat.RoleUser, "second", "", createdAt)

	assert.Len(t, clone.Messages, 1)
	assert.Len(t, session.Messages, 2)
}
