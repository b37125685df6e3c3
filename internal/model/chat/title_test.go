package chat_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/ragdesk/ragdesk/backend/internal/model/chat"
)

var createdAt = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestDeriveTitleShortMessageVerbatim(t *testing.T) {
	messages := []chat.Message{{Role: chat.RoleUser, Content: "vpn drops"}}
	assert.Equal(t, "vpn drops", chat.DeriveTitle(messages, createdAt))
}

func TestDeriveTitleTruncatesLongMessage(t *testing.T) {
	long := strings.Repeat("a", 80)
	title := chat.DeriveTitle([]chat.Message{{Role: chat.RoleUser, Content: long}}, createdAt)

	assert.Equal(t, strings.Repeat("a", 47)+"...", title)
	assert.LessOrEqual(t, utf8.RuneCountInString(title), chat.TitleMaxLength)
}

func TestDeriveTitleExactlyFiftyIsKept(t *testing.T) {
	fifty := strings.Repeat("b", 50)
	assert.Equal(t, fifty, chat.DeriveTitle([]chat.Message{{Role: chat.RoleUser, Content: fifty}}, createdAt))
}

func TestDeriveTitleCountsRunesNotBytes(t *testing.T) {
	msg := strings.Repeat("打", 60)
	title := chat.DeriveTitle([]chat.Message{{Role: chat.RoleUser, Content: msg}}, createdAt)

	assert.Equal(t, strings.Repeat("打", 47)+"...", title)
	assert.True(t, utf8.ValidString(title))
}

func TestDeriveTitleSkipsAssistantAndBlankMessages(t *testing.T) {
	messages := []chat.Message{
		{Role: chat.RoleAssistant, Content: "How can I help?"},
		{Role: chat.RoleUser, Content: "   "},
		{Role: chat.RoleUser, Content: "  printer offline  "},
		{Role: chat.RoleUser, Content: "second question"},
	}
	assert.Equal(t, "printer offline", chat.DeriveTitle(messages, createdAt))
}

func TestDeriveTitleFallsBackToTimestamp(t *testing.T) {
	messages := []chat.Message{{Role: chat.RoleAssistant, Content: "Welcome"}}
	assert.Equal(t, "Chat 2025-03-14 09:26", chat.DeriveTitle(messages, createdAt))
	assert.Equal(t, "Chat 2025-03-14 09:26", chat.DeriveTitle(nil, createdAt))
}
