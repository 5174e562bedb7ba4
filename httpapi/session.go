package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	nexusterminal "github.com/wwng2333/nexus-terminal-sub003"
	"github.com/wwng2333/nexus-terminal-sub003/session"
)

// requestContext attaches the caller's IP and user agent for the ban
// ledger, CAPTCHA verification and audit events.
func requestContext(r *http.Request) context.Context {
	ctx := nexusterminal.WithClientIP(r.Context(), clientIP(r))
	if ua := r.UserAgent(); ua != "" {
		ctx = nexusterminal.WithUserAgent(ctx, ua)
	}
	return ctx
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// loadSession resolves the request's session from the signed cookie. A
// missing, invalid or expired cookie yields an anonymous context with an
// empty sid; the caller mints a fresh id on first persist.
func (s *Server) loadSession(r *http.Request) (string, *session.Context) {
	cookie, err := r.Cookie(s.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return "", &session.Context{}
	}

	sid, err := s.tokens.Parse(cookie.Value)
	if err != nil {
		return "", &session.Context{}
	}

	sess, err := s.sessions.Get(r.Context(), sid)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			s.logger.Warn("session load failed", "error", err)
		}
		return "", &session.Context{}
	}
	return sid, sess
}

// persistSession writes the session row back, minting an id for a
// fresh session. The cookie is re-issued on every persist so its
// lifetime always matches the session's remember-me state: a
// remember-me upgrade on an already-persisted session must reach the
// client, not just the redis row. Engine mutations to the context are
// lost if this fails, so failures surface as 500s.
func (s *Server) persistSession(w http.ResponseWriter, r *http.Request, sid string, sess *session.Context) error {
	if sid == "" {
		var err error
		sid, err = session.NewID()
		if err != nil {
			return err
		}
	}
	token, err := s.tokens.Issue(sid, sess.RememberMe, time.Now())
	if err != nil {
		return err
	}
	s.setSessionCookie(w, token, sess.RememberMe, time.Now().Add(10*365*24*time.Hour))
	return s.sessions.Save(r.Context(), sid, sess)
}

// dropSession deletes the redis row and clears the cookie.
func (s *Server) dropSession(w http.ResponseWriter, r *http.Request, sid string) {
	if sid != "" {
		if err := s.sessions.Delete(r.Context(), sid); err != nil {
			s.logger.Warn("session delete failed", "error", err)
		}
	}
	s.clearSessionCookie(w)
}
