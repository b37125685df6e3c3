package chat

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrMalformedSession marks a session record that is missing required fields.
var ErrMalformedSession = errors.New("malformed session record")

// Session captures one conversation transcript.
//
// ID and CreatedAt are fixed at creation. Messages only grow, in insertion
// order. Title is derived once on first persist and MessageCount is
// recomputed on every persist.
type Session struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	Messages     []Message
	MessageCount int
}

// NewSession returns an empty transcript shell.
func NewSession(id string, createdAt time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: createdAt.UTC(),
		Messages:  make([]Message, 0, 16),
	}
}

// Append adds a turn at the end of the transcript.
func (s *Session) Append(role Role, content, author string, at time.Time) (Message, error) {
	if !role.Valid() {
		return Message{}, errors.Wrapf(ErrInvalidRole, "role %q", role)
	}
	if author == "" {
		author = role.DefaultAuthor()
	}

	msg := Message{
		Role:      role,
		Content:   content,
		Author:    author,
		Timestamp: at.UTC(),
	}
	s.Messages = append(s.Messages, msg)
	return msg, nil
}

// Summary returns the listing metadata for the session.
func (s *Session) Summary() Summary {
	return Summary{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		MessageCount: len(s.Messages),
	}
}

// Clone returns a copy whose message slice can diverge from the original.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Messages = make([]Message, len(s.Messages))
	copy(clone.Messages, s.Messages)
	return &clone
}

type wireSession struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	Timestamp    string    `json:"timestamp"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"message_count"`
}

// MarshalJSON writes the session in the history file format.
func (s Session) MarshalJSON() ([]byte, error) {
	messages := s.Messages
	if messages == nil {
		messages = []Message{}
	}
	return json.Marshal(wireSession{
		SessionID:    s.ID,
		Title:        s.Title,
		Timestamp:    formatTimestamp(s.CreatedAt),
		Messages:     messages,
		MessageCount: s.MessageCount,
	})
}

// UnmarshalJSON reads a full session record. MessageCount is recomputed from
// the decoded messages rather than trusted from the file.
func (s *Session) UnmarshalJSON(data []byte) error {
	var wire wireSession
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	createdAt, err := requireHeader(wire.SessionID, wire.Timestamp)
	if err != nil {
		return err
	}

	messages := wire.Messages
	if messages == nil {
		messages = []Message{}
	}

	*s = Session{
		ID:           wire.SessionID,
		Title:        wire.Title,
		CreatedAt:    createdAt,
		Messages:     messages,
		MessageCount: len(messages),
	}
	return nil
}

// Summary is the sidebar view of a stored session.
type Summary struct {
	ID           string    `json:"session_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"timestamp"`
	MessageCount int       `json:"message_count"`
}

// UnmarshalJSON reads only the header fields of a session file; message
// bodies are skipped.
func (s *Summary) UnmarshalJSON(data []byte) error {
	var wire struct {
		SessionID    string `json:"session_id"`
		Title        string `json:"title"`
		Timestamp    string `json:"timestamp"`
		MessageCount int    `json:"message_count"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	createdAt, err := requireHeader(wire.SessionID, wire.Timestamp)
	if err != nil {
		return err
	}

	*s = Summary{
		ID:           wire.SessionID,
		Title:        wire.Title,
		CreatedAt:    createdAt,
		MessageCount: wire.MessageCount,
	}
	return nil
}

func requireHeader(id, timestamp string) (time.Time, error) {
	if id == "" {
		return time.Time{}, errors.Wrap(ErrMalformedSession, "session_id is missing")
	}
	if timestamp == "" {
		return time.Time{}, errors.Wrap(ErrMalformedSession, "timestamp is missing")
	}
	createdAt, err := parseTimestamp(timestamp)
	if err != nil {
		return time.Time{}, errors.Mark(errors.Wrap(err, "timestamp"), ErrMalformedSession)
	}
	return createdAt, nil
}
