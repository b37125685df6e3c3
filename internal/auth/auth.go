// Package auth maps incoming requests to an authenticated principal. The
// strategy is chosen once at startup; downstream code only ever sees the
// resulting Principal and never depends on which strategy produced it.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/ragdesk/ragdesk/backend/internal/config"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrUnknownStrategy = errors.New("unknown authentication strategy")
)

// Principal is the authenticated caller.
type Principal struct {
	ID       string `json:"id"`
	Strategy string `json:"strategy"`
}

// Strategy authenticates a request.
type Strategy interface {
	Name() string
	Authenticate(r *http.Request) (Principal, error)
	// Challenge decorates a 401 response, e.g. with WWW-Authenticate.
	Challenge(w http.ResponseWriter)
}

// New selects the strategy configured for the deployment.
func New(cfg config.AuthConfig) (Strategy, error) {
	switch cfg.Mode {
	case config.AuthNone, "":
		return None{}, nil
	case config.AuthHeader:
		return NewHeader(cfg.Header), nil
	case config.AuthPassword:
		return NewPassword(cfg.Users, cfg.Realm)
	default:
		return nil, errors.Wrapf(ErrUnknownStrategy, "%q", cfg.Mode)
	}
}

// AnonymousID is the principal of deployments without authentication.
const AnonymousID = "anonymous"

// None lets every request through as the shared anonymous principal.
type None struct{}

func (None) Name() string { return string(config.AuthNone) }

func (None) Authenticate(*http.Request) (Principal, error) {
	return Principal{ID: AnonymousID, Strategy: string(config.AuthNone)}, nil
}

func (None) Challenge(http.ResponseWriter) {}

// Header trusts a user header set by an authenticating reverse proxy.
type Header struct {
	header string
}

// NewHeader returns a Header strategy reading the given header.
func NewHeader(header string) *Header {
	return &Header{header: http.CanonicalHeaderKey(header)}
}

func (h *Header) Name() string { return string(config.AuthHeader) }

func (h *Header) Authenticate(r *http.Request) (Principal, error) {
	user := strings.TrimSpace(r.Header.Get(h.header))
	if user == "" {
		return Principal{}, errors.Wrapf(ErrUnauthenticated, "missing %s header", h.header)
	}
	return Principal{ID: user, Strategy: h.Name()}, nil
}

func (h *Header) Challenge(http.ResponseWriter) {}

// Password checks HTTP basic credentials against bcrypt hashes.
type Password struct {
	users map[string][]byte
	realm string
	// dummy is compared for unknown users so they cost as much as known ones.
	dummy []byte
}

// NewPassword validates every hash up front so a typo fails at startup
// instead of locking a user out at runtime.
func NewPassword(users map[string]string, realm string) (*Password, error) {
	if len(users) == 0 {
		return nil, errors.New("password strategy needs at least one user")
	}
	hashes := make(map[string][]byte, len(users))
	maxCost := bcrypt.MinCost
	for name, hash := range users {
		cost, err := bcrypt.Cost([]byte(hash))
		if err != nil {
			return nil, errors.Wrapf(err, "user %q", name)
		}
		maxCost = max(maxCost, cost)
		hashes[name] = []byte(hash)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("unknown-user"), maxCost)
	if err != nil {
		return nil, errors.Wrap(err, "generate placeholder hash")
	}
	return &Password{users: hashes, realm: realm, dummy: dummy}, nil
}

func (p *Password) Name() string { return string(config.AuthPassword) }

func (p *Password) Authenticate(r *http.Request) (Principal, error) {
	name, secret, ok := r.BasicAuth()
	if !ok {
		return Principal{}, errors.Wrap(ErrUnauthenticated, "missing basic credentials")
	}
	hash, known := p.users[name]
	if !known {
		hash = p.dummy
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil || !known {
		return Principal{}, errors.Wrap(ErrUnauthenticated, "invalid credentials")
	}
	return Principal{ID: name, Strategy: p.Name()}, nil
}

func (p *Password) Challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+p.realm+`", charset="UTF-8"`)
}

type principalKey struct{}

// WithPrincipal stores the authenticated principal in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
