package httpapi

import (
	"net/http"

	nexusterminal "github.com/wwng2333/nexus-terminal-sub003"
)

type middleware func(http.Handler) http.Handler

// requireAuth rejects requests without a fully authenticated session.
// The console is single-account, so an authenticated session is the
// admin; a login still awaiting its second factor does not qualify.
func (s *Server) requireAuth() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, sess := s.loadSession(r)
			if !sess.IsAuthenticated() {
				s.writeError(w, r, nexusterminal.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
