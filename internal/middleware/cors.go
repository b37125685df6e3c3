package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/ragdesk/ragdesk/backend/pkg/utils"
)

// OriginPolicy decides which browser origins may reach the API.
type OriginPolicy struct {
	allowed map[string]struct{}
}

// NewOriginPolicy builds a policy from the configured origin list.
func NewOriginPolicy(origins []string) *OriginPolicy {
	return &OriginPolicy{
		allowed: lo.SliceToMap(origins, func(origin string) (string, struct{}) {
			return normalizeOrigin(origin), struct{}{}
		}),
	}
}

// Listed reports whether origin is on the configured list.
func (p *OriginPolicy) Listed(origin string) bool {
	_, ok := p.allowed[normalizeOrigin(origin)]
	return ok
}

// CheckOrigin accepts requests without an Origin header, same-host requests
// and listed origins. It fits websocket.Upgrader.CheckOrigin.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || sameHost(origin, r.Host) || p.Listed(origin)
}

// CORS answers cross-origin requests. Listed origins are echoed with
// credentials allowed. Without a list every origin gets "*" and no
// credentials. With a list, unlisted origins are refused.
func (p *OriginPolicy) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		crossOrigin := origin != "" && !sameHost(origin, r.Host)

		switch {
		case !crossOrigin:
		case p.Listed(origin):
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			setAllowHeaders(w)
		case len(p.allowed) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
			setAllowHeaders(w)
		default:
			utils.RespondError(w, http.StatusForbidden, "origin not allowed")
			return
		}

		if r.Method == http.MethodOptions && crossOrigin {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setAllowHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
}

func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && strings.EqualFold(u.Host, host)
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}
