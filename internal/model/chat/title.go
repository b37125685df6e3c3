package chat

import (
	"strings"
	"time"
)

const (
	// TitleMaxLength bounds a derived title, ellipsis included.
	TitleMaxLength = 50
	titleEllipsis  = "..."

	fallbackTitleLayout = "2006-01-02 15:04"
)

// DeriveTitle picks the sidebar title for a transcript: the first non-blank
// user message, cut to TitleMaxLength runes, or a timestamp label when the
// user has not spoken yet.
func DeriveTitle(messages []Message, createdAt time.Time) string {
	for _, msg := range messages {
		if msg.Role != RoleUser {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		return truncateTitle(content)
	}
	return "Chat " + createdAt.Format(fallbackTitleLayout)
}

func truncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleMaxLength {
		return content
	}
	keep := TitleMaxLength - len(titleEllipsis)
	return string(runes[:keep]) + titleEllipsis
}
