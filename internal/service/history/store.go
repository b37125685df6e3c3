// Package history persists chat transcripts as one JSON file per session and
// keeps the number of stored sessions under a retention cap.
package history

import (
	"cmp"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/ragdesk/ragdesk/backend/internal/model/chat"
)

const (
	sessionFileExt = ".json"
	lockFileName   = ".lock"

	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

// Config describes one session directory.
type Config struct {
	// Dir holds one {session_id}.json file per session.
	Dir string
	// MaxSessions caps the number of stored sessions; zero or less disables eviction.
	MaxSessions int
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for creation and message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger used for skipped files and evictions.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withRemoveFunc(remove func(name string) error) Option {
	return func(s *Store) {
		s.removeFile = remove
	}
}

// Store owns the session files of a single directory. Memory only holds the
// caller's active session; the directory is the source of truth for listings.
type Store struct {
	dir         string
	maxSessions int
	now         func() time.Time
	logger      *log.Logger
	removeFile  func(name string) error

	// mu serialises writers inside this process; the flock covers other processes.
	mu sync.Mutex
}

// NewStore builds a Store. No I/O happens until the first write.
func NewStore(cfg Config, opts ...Option) *Store {
	s := &Store{
		dir:         cfg.Dir,
		maxSessions: cfg.MaxSessions,
		now:         time.Now,
		logger:      log.New(io.Discard),
		removeFile:  os.Remove,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// CreateSession allocates a new id and an empty in-memory session.
func (s *Store) CreateSession() *chat.Session {
	return chat.NewSession(uuid.NewString(), s.now())
}

// AppendMessage adds a turn to the in-memory session. It never touches disk.
func (s *Store) AppendMessage(session *chat.Session, role chat.Role, content, author string) (chat.Message, error) {
	return session.Append(role, content, author, s.now())
}

// Persist writes the full session snapshot, replacing any previous file for
// the same id, then evicts the oldest sessions beyond the retention cap.
//
// The title is derived on the first successful persist and kept afterwards.
// A failed write leaves the in-memory session untouched.
func (s *Store) Persist(ctx context.Context, session *chat.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session == nil || !validID(session.ID) {
		return errors.Wrap(ErrInvalidID, "persist")
	}

	record := *session
	if record.Title == "" {
		record.Title = chat.DeriveTitle(record.Messages, record.CreatedAt)
	}
	record.MessageCount = len(record.Messages)

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode session %s", session.ID)
	}

	err = s.withLock(func() error {
		if err := writeFileAtomic(s.path(session.ID), data, filePerm); err != nil {
			return ioFailure(err, "write session %s", session.ID)
		}
		session.Title = record.Title
		session.MessageCount = record.MessageCount

		// The snapshot is already on disk; eviction ignores cancellation.
		return s.enforceRetention(context.WithoutCancel(ctx))
	})
	if err != nil {
		s.logger.Warn("failed to persist session", "session", session.ID, "error", err)
	}
	return err
}

// Rename replaces the stored title. An empty title re-derives it from the
// transcript. The file is read and rewritten under the directory lock so a
// concurrent delete or eviction is never undone.
func (s *Store) Rename(ctx context.Context, id, title string) (chat.Summary, error) {
	if err := ctx.Err(); err != nil {
		return chat.Summary{}, err
	}
	if !validID(id) {
		return chat.Summary{}, errors.Wrapf(ErrNotFound, "session %q", id)
	}

	var summary chat.Summary
	err := s.withLock(func() error {
		session, err := s.read(id)
		if err != nil {
			return err
		}

		session.Title = strings.TrimSpace(title)
		if session.Title == "" {
			session.Title = chat.DeriveTitle(session.Messages, session.CreatedAt)
		}

		data, err := json.MarshalIndent(session, "", "  ")
		if err != nil {
			return errors.Wrapf(err, "encode session %s", id)
		}
		if err := writeFileAtomic(s.path(id), data, filePerm); err != nil {
			return ioFailure(err, "write session %s", id)
		}
		summary = session.Summary()
		return nil
	})
	if err != nil {
		return chat.Summary{}, err
	}
	return summary, nil
}

// List returns the stored sessions, newest first. Unreadable or malformed
// files are logged and skipped so a single bad file never hides the rest.
func (s *Store) List(ctx context.Context) ([]chat.Summary, error) {
	summaries, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(summaries, func(a, b chat.Summary) int {
		return compareOldestFirst(b, a)
	})
	return summaries, nil
}

// Load reads one session in full. Unknown ids yield ErrNotFound; undecodable
// files yield ErrCorrupt.
func (s *Store) Load(ctx context.Context, id string) (*chat.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, errors.Wrapf(ErrNotFound, "session %q", id)
	}

	return s.read(id)
}

func (s *Store) read(id string) (*chat.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "session %s", id)
		}
		return nil, ioFailure(err, "read session %s", id)
	}

	var session chat.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, corrupt(err, "decode session %s", id)
	}
	if session.ID != id {
		return nil, corrupt(errors.Newf("file holds session %q", session.ID), "decode session %s", id)
	}
	return &session, nil
}

// Delete removes a stored session. Deleting a missing session succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validID(id) {
		return nil
	}
	return s.withLock(func() error {
		return s.remove(id)
	})
}

// ClearAll removes every session file. Each file is attempted even when
// earlier removals fail; the returned error reports how many could not be removed.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.withLock(func() error {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return ioFailure(err, "read session directory %s", s.dir)
		}

		var (
			firstErr error
			failed   int
			total    int
		)
		for _, entry := range entries {
			id, ok := sessionIDFromName(entry)
			if !ok {
				continue
			}
			total++
			if err := s.removeFile(filepath.Join(s.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				failed++
				if firstErr == nil {
					firstErr = err
				}
				s.logger.Warn("failed to remove session file", "session", id, "error", err)
			}
		}

		if failed > 0 {
			return ioFailure(firstErr, "removed %d of %d session files", total-failed, total)
		}
		return nil
	})
}

// enforceRetention deletes the oldest sessions until at most maxSessions
// remain. Ties on creation time are broken by id. Caller holds the lock.
func (s *Store) enforceRetention(ctx context.Context) error {
	if s.maxSessions <= 0 {
		return nil
	}

	summaries, err := s.scan(ctx)
	if err != nil {
		return err
	}
	excess := len(summaries) - s.maxSessions
	if excess <= 0 {
		return nil
	}

	slices.SortFunc(summaries, compareOldestFirst)

	var firstErr error
	for _, summary := range summaries[:excess] {
		if err := s.remove(summary.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.logger.Info("evicted session", "session", summary.ID, "created", summary.CreatedAt, "limit", s.maxSessions)
	}
	return firstErr
}

// scan reads the header of every session file in the directory.
func (s *Store) scan(ctx context.Context) ([]chat.Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []chat.Summary{}, nil
		}
		return nil, ioFailure(err, "read session directory %s", s.dir)
	}

	summaries := make([]chat.Summary, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, ok := sessionIDFromName(entry)
		if !ok {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		summary, err := readSummary(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("skipping unreadable session file", "path", path, "error", err)
			}
			continue
		}
		if summary.ID != id {
			s.logger.Warn("skipping session file with mismatched id", "path", path, "session", summary.ID)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func readSummary(path string) (chat.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chat.Summary{}, err
	}
	var summary chat.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return chat.Summary{}, corrupt(err, "decode %s", filepath.Base(path))
	}
	return summary, nil
}

func (s *Store) remove(id string) error {
	if err := s.removeFile(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioFailure(err, "delete session %s", id)
	}
	return nil
}

// withLock runs fn with the directory locked against other writers.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return ioFailure(err, "create session directory %s", s.dir)
	}

	lock := flock.New(filepath.Join(s.dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return ioFailure(err, "lock session directory %s", s.dir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Debug("failed to unlock session directory", "dir", s.dir, "error", err)
		}
	}()

	return fn()
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+sessionFileExt)
}

// sessionIDFromName accepts regular {uuid}.json files only, which skips the
// lock file and the temp files of in-flight atomic writes.
func sessionIDFromName(entry os.DirEntry) (string, bool) {
	name := entry.Name()
	if !entry.Type().IsRegular() || filepath.Ext(name) != sessionFileExt {
		return "", false
	}
	id := strings.TrimSuffix(name, sessionFileExt)
	return id, validID(id)
}

// validID accepts only canonical UUID strings so ids can never escape the directory.
func validID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

func compareOldestFirst(a, b chat.Summary) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
