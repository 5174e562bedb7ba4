package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	nexusterminal "github.com/wwng2333/nexus-terminal-sub003"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid json body")
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, fallback int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// GET /needs-setup
func (s *Server) handleNeedsSetup(w http.ResponseWriter, r *http.Request) {
	needed, err := s.engine.NeedsSetup(requestContext(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"needsSetup": needed})
}

// POST /setup
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username        string `json:"username"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.engine.SetupAdmin(requestContext(r), req.Username, req.Password, req.ConfirmPassword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "admin account created",
		"user":    user,
	})
}

// GET /captcha/config
func (s *Server) handleCaptchaConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.CaptchaPublicConfig(requestContext(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GET /status — always 200; isAuthenticated false covers anonymous,
// expired and 2FA-pending sessions alike.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, sess := s.loadSession(r)
	writeJSON(w, http.StatusOK, s.engine.AuthStatus(sess))
}

// POST /login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username     string `json:"username"`
		Password     string `json:"password"`
		RememberMe   bool   `json:"rememberMe"`
		CaptchaToken string `json:"captchaToken"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sid, sess := s.loadSession(r)
	res, err := s.engine.Login(requestContext(r), sess, nexusterminal.LoginRequest{
		Username:     req.Username,
		Password:     req.Password,
		RememberMe:   req.RememberMe,
		CaptchaToken: req.CaptchaToken,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.persistSession(w, r, sid, sess); err != nil {
		s.writeError(w, r, err)
		return
	}

	if res.RequiresTwoFactor {
		writeJSON(w, http.StatusOK, map[string]any{"requiresTwoFactor": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "login successful",
		"user":    res.User,
	})
}

// POST /login/2fa
func (s *Server) handleLogin2FA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sid, sess := s.loadSession(r)
	res, err := s.engine.VerifyLogin2FA(requestContext(r), sess, req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.persistSession(w, r, sid, sess); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "login successful",
		"user":    res.User,
	})
}

// POST /logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sid, sess := s.loadSession(r)
	s.engine.Logout(requestContext(r), sess)
	s.dropSession(w, r, sid)
	writeMessage(w, http.StatusOK, "logged out")
}

// PUT /password
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	_, sess := s.loadSession(r)
	if err := s.engine.ChangePassword(requestContext(r), sess, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "password changed")
}

// POST /2fa/setup
func (s *Server) handle2FASetup(w http.ResponseWriter, r *http.Request) {
	sid, sess := s.loadSession(r)
	setup, err := s.engine.Setup2FA(requestContext(r), sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// The unconfirmed secret is staged in the session row.
	if err := s.persistSession(w, r, sid, sess); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

// POST /2fa/verify
func (s *Server) handle2FAVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sid, sess := s.loadSession(r)
	if err := s.engine.VerifyAndActivate2FA(requestContext(r), sess, req.Token); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.persistSession(w, r, sid, sess); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "two-factor authentication enabled")
}

// DELETE /2fa
func (s *Server) handle2FADisable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	_, sess := s.loadSession(r)
	if err := s.engine.Disable2FA(requestContext(r), sess, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "two-factor authentication disabled")
}

// POST /passkey/register-options
func (s *Server) handlePasskeyRegisterOptions(w http.ResponseWriter, r *http.Request) {
	sid, sess := s.loadSession(r)
	options, err := s.engine.BeginPasskeyRegistration(requestContext(r), sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.persistSession(w, r, sid, sess); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

// POST /passkey/verify-registration
func (s *Server) handlePasskeyVerifyRegistration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string          `json:"name"`
		Response json.RawMessage `json:"response"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sid, sess := s.loadSession(r)
	cred, engineErr := s.engine.FinishPasskeyRegistration(requestContext(r), sess, req.Name, req.Response)

	// The staged challenge is single-use: persist its removal even when
	// verification failed.
	if err := s.persistSession(w, r, sid, sess); err != nil {
		s.writeError(w, r, err)
		return
	}
	if engineErr != nil {
		s.writeError(w, r, engineErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "passkey registered",
		"passkey":  cred,
		"verified": true,
	})
}

// POST /passkey/login-options
func (s *Server) handlePasskeyLoginOptions(w http.ResponseWriter, r *http.Request) {
	sid, sess := s.loadSession(r)
	options, err := s.engine.BeginPasskeyLogin(requestContext(r), sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.persistSession(w, r, sid, sess); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

// POST /passkey/verify-login
func (s *Server) handlePasskeyVerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RememberMe bool            `json:"rememberMe"`
		Response   json.RawMessage `json:"response"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sid, sess := s.loadSession(r)
	res, engineErr := s.engine.FinishPasskeyLogin(requestContext(r), sess, req.RememberMe, req.Response)

	if err := s.persistSession(w, r, sid, sess); err != nil {
		s.writeError(w, r, err)
		return
	}
	if engineErr != nil {
		s.writeError(w, r, engineErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "login successful",
		"user":    res.User,
	})
}

// GET /passkeys
func (s *Server) handlePasskeyList(w http.ResponseWriter, r *http.Request) {
	_, sess := s.loadSession(r)
	creds, err := s.engine.ListPasskeys(requestContext(r), sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

// PUT /passkeys/{id}
func (s *Server) handlePasskeyRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	_, sess := s.loadSession(r)
	if err := s.engine.RenamePasskey(requestContext(r), sess, r.PathValue("id"), req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "passkey renamed")
}

// DELETE /passkeys/{id}
func (s *Server) handlePasskeyDelete(w http.ResponseWriter, r *http.Request) {
	_, sess := s.loadSession(r)
	if err := s.engine.DeletePasskey(requestContext(r), sess, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "passkey removed")
}

// GET /settings/ip-blacklist?limit&offset
func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	bl, err := s.engine.Blacklist(requestContext(r), limit, offset)
	if err != nil {
		// The view degrades to an empty page on ledger failure.
		s.logger.Warn("blacklist read degraded", "error", err)
	}
	writeJSON(w, http.StatusOK, bl)
}

// DELETE /settings/ip-blacklist/{ip}
func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Unban(requestContext(r), r.PathValue("ip")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "ip unbanned")
}
