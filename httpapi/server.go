// Package httpapi exposes the auth engine as a JSON HTTP surface under
// /api/v1/auth. It owns the session boundary plumbing: the signed
// session cookie, loading the session context from redis before each
// engine call and persisting it after, and translating engine sentinel
// errors into status codes.
package httpapi

import (
	"log/slog"
	"net/http"

	nexusterminal "github.com/wwng2333/nexus-terminal-sub003"
	"github.com/wwng2333/nexus-terminal-sub003/session"
)

// Config holds transport-level tunables.
type Config struct {
	// CookieName names the session cookie. Defaults to "nt_session".
	CookieName string
	// CookieDomain may be empty for a host-only cookie.
	CookieDomain string
	// SecureCookies marks the cookie Secure; enable behind TLS.
	SecureCookies bool
}

func (c *Config) normalize() {
	if c.CookieName == "" {
		c.CookieName = "nt_session"
	}
}

// Server mounts all routes on a method-guarded stdlib mux.
type Server struct {
	cfg      Config
	engine   *nexusterminal.Engine
	sessions *session.Store
	tokens   *session.TokenManager
	mux      *http.ServeMux
	logger   *slog.Logger
}

// New builds a Server. It does not start listening.
func New(cfg Config, engine *nexusterminal.Engine, sessions *session.Store, tokens *session.TokenManager, logger *slog.Logger) *Server {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		sessions: sessions,
		tokens:   tokens,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.mountRoutes()
	return s
}

// Handler returns the root handler with cache suppression applied to
// the auth endpoints.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer")
		s.mux.ServeHTTP(w, r)
	})
}
