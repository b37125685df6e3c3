package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidRole is returned when a message is appended with an unknown author role.
var ErrInvalidRole = errors.New("invalid message role")

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

const messageTypeSuffix = "_message"

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// DefaultAuthor is the display name used when a message carries no explicit author.
func (r Role) DefaultAuthor() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// MessageType is the on-disk "type" discriminator, e.g. "user_message".
func (r Role) MessageType() string {
	return string(r) + messageTypeSuffix
}

// RoleFromMessageType reverses MessageType. Types without the suffix are taken verbatim.
func RoleFromMessageType(kind string) Role {
	return Role(strings.TrimSuffix(kind, messageTypeSuffix))
}

// Message persists individual turns of a transcript.
type Message struct {
	Role      Role
	Content   string
	Author    string
	Timestamp time.Time
}

type wireMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    string `json:"author"`
}

// MarshalJSON writes the message in the history file format.
func (m Message) MarshalJSON() ([]byte, error) {
	author := m.Author
	if author == "" {
		author = m.Role.DefaultAuthor()
	}
	return json.Marshal(wireMessage{
		Type:      m.Role.MessageType(),
		Content:   m.Content,
		Timestamp: formatTimestamp(m.Timestamp),
		Author:    author,
	})
}

// UnmarshalJSON reads a message from the history file format.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Type == "" {
		return errors.New("message type is missing")
	}

	var ts time.Time
	if wire.Timestamp != "" {
		parsed, err := parseTimestamp(wire.Timestamp)
		if err != nil {
			return errors.Wrap(err, "message timestamp")
		}
		ts = parsed
	}

	*m = Message{
		Role:      RoleFromMessageType(wire.Type),
		Content:   wire.Content,
		Author:    wire.Author,
		Timestamp: ts,
	}
	return nil
}
