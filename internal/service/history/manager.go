package history

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/charmbracelet/log"
)

// AnonymousPrincipal owns the history of unauthenticated deployments.
const AnonymousPrincipal = "anonymous"

var safeNamespace = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,63}$`)

// Manager hands out one Store per principal, each rooted in its own
// subdirectory so users never see each other's history.
type Manager struct {
	root        string
	maxSessions int
	logger      *log.Logger
	opts        []Option

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a Manager rooted at cfg.Dir. Each principal gets its own
// retention cap of cfg.MaxSessions.
func NewManager(cfg Config, logger *log.Logger, opts ...Option) *Manager {
	return &Manager{
		root:        cfg.Dir,
		maxSessions: cfg.MaxSessions,
		logger:      logger,
		opts:        opts,
		stores:      make(map[string]*Store),
	}
}

// For returns the store of the given principal.
func (m *Manager) For(principal string) *Store {
	if principal == "" {
		principal = AnonymousPrincipal
	}
	namespace := Namespace(principal)

	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[namespace]; ok {
		return store
	}

	opts := append([]Option{}, m.opts...)
	if m.logger != nil {
		opts = append(opts, WithLogger(m.logger.With("principal", principal)))
	}
	store := NewStore(Config{
		Dir:         filepath.Join(m.root, namespace),
		MaxSessions: m.maxSessions,
	}, opts...)
	m.stores[namespace] = store
	return store
}

// Namespace maps a principal id to its directory name. Readable ids are kept
// as is; anything else is hashed. Hashed names start with "_", which readable
// names cannot, so the two forms never collide.
func Namespace(principal string) string {
	if safeNamespace.MatchString(principal) {
		return principal
	}
	sum := sha256.Sum256([]byte(principal))
	return "_" + hex.EncodeToString(sum[:16])
}
