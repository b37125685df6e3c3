package chat

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/ragdesk/ragdesk/backend/internal/model/chat"
	"github.com/ragdesk/ragdesk/backend/internal/service/history"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrHistoryDisabled = errors.New("chat history is disabled")
)

// Config toggles persistence. With history disabled conversations still run,
// they are just never written to disk.
type Config struct {
	HistoryEnabled bool
}

// SaveResult reports the outcome of a checkpoint or end-of-conversation save.
type SaveResult struct {
	Summary chat.Summary `json:"session"`
	Saved   bool         `json:"saved"`
}

type activeSession struct {
	principal string
	session   *chat.Session

	// saveMu orders the writes of one session so an older snapshot can never
	// land on disk after a newer one.
	saveMu sync.Mutex
}

// Service keeps the transcripts of live conversations in memory and hands
// them to the history store at checkpoints and when a conversation ends.
type Service struct {
	mu        sync.RWMutex
	sessions  map[string]*activeSession
	histories *history.Manager
	enabled   bool
	logger    *log.Logger
}

// NewService wires the conversation service to the per-principal history stores.
func NewService(histories *history.Manager, cfg Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Service{
		sessions:  make(map[string]*activeSession),
		histories: histories,
		enabled:   cfg.HistoryEnabled,
		logger:    logger,
	}
}

// HistoryEnabled reports whether conversations are persisted.
func (s *Service) HistoryEnabled() bool {
	return s.enabled
}

// Start opens a new conversation for the principal.
func (s *Service) Start(_ context.Context, principal string) (chat.Session, error) {
	session := s.histories.For(principal).CreateSession()

	s.mu.Lock()
	s.sessions[session.ID] = &activeSession{principal: principal, session: session}
	s.mu.Unlock()

	s.logger.Debug("conversation started", "session", session.ID, "principal", principal)
	return *session.Clone(), nil
}

// Append records a turn in a live conversation. It never touches disk.
func (s *Service) Append(_ context.Context, principal, sessionID string, role chat.Role, content, author string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.lookupLocked(principal, sessionID)
	if err != nil {
		return chat.Message{}, err
	}
	return s.histories.For(principal).AppendMessage(active.session, role, content, author)
}

// Get returns a snapshot of a live conversation.
func (s *Service) Get(_ context.Context, principal, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active, err := s.lookupLocked(principal, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	return *active.session.Clone(), nil
}

// Transcript returns the messages of a live conversation.
func (s *Service) Transcript(ctx context.Context, principal, sessionID string) ([]chat.Message, error) {
	session, err := s.Get(ctx, principal, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Messages, nil
}

// Active lists the principal's live conversations, newest first.
func (s *Service) Active(_ context.Context, principal string) []chat.Summary {
	s.mu.RLock()
	owned := lo.FilterMap(lo.Values(s.sessions), func(active *activeSession, _ int) (chat.Summary, bool) {
		if active.principal != principal {
			return chat.Summary{}, false
		}
		return active.session.Summary(), true
	})
	s.mu.RUnlock()

	slices.SortFunc(owned, func(a, b chat.Summary) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return owned
}

// Checkpoint persists a live conversation without ending it. A storage
// failure is returned alongside Saved=false; the conversation stays usable.
func (s *Service) Checkpoint(ctx context.Context, principal, sessionID string) (SaveResult, error) {
	s.mu.RLock()
	active, err := s.lookupLocked(principal, sessionID)
	s.mu.RUnlock()
	if err != nil {
		return SaveResult{}, err
	}

	active.saveMu.Lock()
	defer active.saveMu.Unlock()

	s.mu.RLock()
	snapshot := active.session.Clone()
	s.mu.RUnlock()

	result, err := s.persist(ctx, principal, snapshot)

	if result.Saved {
		s.mu.Lock()
		if active.session.Title == "" {
			active.session.Title = snapshot.Title
		}
		active.session.MessageCount = snapshot.MessageCount
		s.mu.Unlock()
	}
	return result, err
}

// End closes a live conversation and persists it. The conversation is
// released even when the save fails.
func (s *Service) End(ctx context.Context, principal, sessionID string) (SaveResult, error) {
	s.mu.Lock()
	active, err := s.lookupLocked(principal, sessionID)
	if err == nil {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if err != nil {
		return SaveResult{}, err
	}

	active.saveMu.Lock()
	defer active.saveMu.Unlock()

	s.logger.Debug("conversation ended", "session", sessionID, "messages", len(active.session.Messages))
	return s.persist(ctx, principal, active.session)
}

// Resume reactivates a stored conversation so it can be continued.
func (s *Service) Resume(ctx context.Context, principal, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	active, err := s.lookupLocked(principal, sessionID)
	s.mu.RUnlock()
	if err == nil {
		return *active.session.Clone(), nil
	}

	store, err := s.store(principal)
	if err != nil {
		return chat.Session{}, err
	}
	session, err := store.Load(ctx, sessionID)
	if err != nil {
		return chat.Session{}, err
	}

	s.mu.Lock()
	if existing, ok := s.sessions[sessionID]; ok && existing.principal == principal {
		session = existing.session
	} else {
		s.sessions[sessionID] = &activeSession{principal: principal, session: session}
	}
	s.mu.Unlock()

	return *session.Clone(), nil
}

// List returns the principal's stored conversations, newest first.
func (s *Service) List(ctx context.Context, principal string) ([]chat.Summary, error) {
	store, err := s.store(principal)
	if err != nil {
		return nil, err
	}
	return store.List(ctx)
}

// Load reads one stored conversation.
func (s *Service) Load(ctx context.Context, principal, sessionID string) (*chat.Session, error) {
	store, err := s.store(principal)
	if err != nil {
		return nil, err
	}
	return store.Load(ctx, sessionID)
}

// Rename changes the stored title of a conversation.
func (s *Service) Rename(ctx context.Context, principal, sessionID, title string) (chat.Summary, error) {
	store, err := s.store(principal)
	if err != nil {
		return chat.Summary{}, err
	}
	summary, err := store.Rename(ctx, sessionID, title)
	if err != nil {
		return chat.Summary{}, err
	}

	s.mu.Lock()
	if active, err := s.lookupLocked(principal, sessionID); err == nil {
		active.session.Title = summary.Title
	}
	s.mu.Unlock()
	return summary, nil
}

// Delete removes a stored conversation and drops it from the live set.
func (s *Service) Delete(ctx context.Context, principal, sessionID string) error {
	store, err := s.store(principal)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.Forget(principal, sessionID)
	return nil
}

// ClearAll removes every stored conversation of the principal. Live
// conversations keep running and will be saved again when they end.
func (s *Service) ClearAll(ctx context.Context, principal string) error {
	store, err := s.store(principal)
	if err != nil {
		return err
	}
	return store.ClearAll(ctx)
}

// Forget drops a live conversation without saving it.
func (s *Service) Forget(principal, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookupLocked(principal, sessionID); err == nil {
		delete(s.sessions, sessionID)
	}
}

func (s *Service) persist(ctx context.Context, principal string, session *chat.Session) (SaveResult, error) {
	if !s.enabled {
		return SaveResult{Summary: session.Summary()}, nil
	}

	if err := s.histories.For(principal).Persist(ctx, session); err != nil {
		// The transcript only loses durability; the caller's chat keeps going.
		return SaveResult{Summary: session.Summary()}, err
	}
	s.logger.Info("conversation saved", "session", session.ID, "title", session.Title, "messages", session.MessageCount)
	return SaveResult{Summary: session.Summary(), Saved: true}, nil
}

func (s *Service) store(principal string) (*history.Store, error) {
	if !s.enabled {
		return nil, ErrHistoryDisabled
	}
	return s.histories.For(principal), nil
}

// lookupLocked finds a live session owned by principal. Sessions of other
// principals are reported as missing.
func (s *Service) lookupLocked(principal, sessionID string) (*activeSession, error) {
	active, ok := s.sessions[sessionID]
	if !ok || active.principal != principal {
		return nil, errors.Wrapf(ErrSessionNotFound, "session %s", sessionID)
	}
	return active, nil
}
