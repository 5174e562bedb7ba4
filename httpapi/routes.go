package httpapi

import "net/http"

const basePath = "/api/v1/auth"

// mountRoutes binds all endpoints onto the Server's mux.
func (s *Server) mountRoutes() {
	// Bootstrap and public probes.
	s.handle("GET", "/needs-setup", s.handleNeedsSetup)
	s.handle("POST", "/setup", s.handleSetup)
	s.handle("GET", "/captcha/config", s.handleCaptchaConfig)
	s.handle("GET", "/status", s.handleStatus)

	// Login state machine.
	s.handle("POST", "/login", s.handleLogin)
	s.handle("POST", "/login/2fa", s.handleLogin2FA)
	s.handle("POST", "/logout", s.handleLogout)

	// Account management (authenticated; enforced in the engine).
	s.handle("PUT", "/password", s.handleChangePassword)
	s.handle("POST", "/2fa/setup", s.handle2FASetup)
	s.handle("POST", "/2fa/verify", s.handle2FAVerify)
	s.handle("DELETE", "/2fa", s.handle2FADisable)

	// Passkey ceremonies and management.
	s.handle("POST", "/passkey/register-options", s.handlePasskeyRegisterOptions)
	s.handle("POST", "/passkey/verify-registration", s.handlePasskeyVerifyRegistration)
	s.handle("POST", "/passkey/login-options", s.handlePasskeyLoginOptions)
	s.handle("POST", "/passkey/verify-login", s.handlePasskeyVerifyLogin)
	s.handle("GET", "/passkeys", s.handlePasskeyList)
	s.handle("PUT", "/passkeys/{id}", s.handlePasskeyRename)
	s.handle("DELETE", "/passkeys/{id}", s.handlePasskeyDelete)

	// Admin ban ledger view.
	s.handle("GET", "/settings/ip-blacklist", s.handleBlacklist, s.requireAuth())
	s.handle("DELETE", "/settings/ip-blacklist/{ip}", s.handleUnban, s.requireAuth())
}

// handle attaches a method-scoped route with optional middlewares. The
// mux owns method dispatch: a known path hit with the wrong method gets
// a 405 with the Allow header listing the registered methods.
func (s *Server) handle(method, path string, h http.HandlerFunc, mws ...middleware) {
	var handler http.Handler = h
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i](handler)
	}
	s.mux.Handle(method+" "+basePath+path, handler)
}
