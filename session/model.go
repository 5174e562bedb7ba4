// Package session models the per-client authentication context of the
// web console: an explicit, redis-backed key-value row scoped to one
// browser session, plus the signed cookie token that names it.
//
// The Context struct is the single place where partially-authenticated
// state lives: a login that still awaits its second factor, a 2FA
// secret staged during setup, or a one-time WebAuthn challenge. The
// engine mutates it through a pointer; the HTTP layer loads and
// persists it around each request.
package session

// Context is the ephemeral state of one client session. The zero value
// is an anonymous session.
type Context struct {
	UserID            string `json:"userId,omitempty"`
	Username          string `json:"username,omitempty"`
	RequiresTwoFactor bool   `json:"requiresTwoFactor,omitempty"`
	RememberMe        bool   `json:"rememberMe,omitempty"`

	// TempTOTPSecret holds a generated-but-unconfirmed 2FA secret
	// between Setup2FA and VerifyAndActivate2FA.
	TempTOTPSecret string `json:"tempTotpSecret,omitempty"`

	// WebAuthn challenges are single-use: retrieval through the Take
	// helpers clears them regardless of ceremony outcome.
	RegistrationChallenge string `json:"registrationChallenge,omitempty"`
	LoginChallenge        string `json:"loginChallenge,omitempty"`

	CreatedAt int64 `json:"createdAt,omitempty"`
}

// IsAuthenticated reports whether the session completed every required
// login step. A session awaiting its second factor is not authenticated.
func (c *Context) IsAuthenticated() bool {
	return c != nil && c.UserID != "" && !c.RequiresTwoFactor
}

// Clear resets the context to anonymous. Used on logout and whenever a
// stale partial state must be discarded.
func (c *Context) Clear() {
	if c == nil {
		return
	}
	*c = Context{}
}

// TakeRegistrationChallenge returns the staged registration challenge
// and clears it.
func (c *Context) TakeRegistrationChallenge() string {
	ch := c.RegistrationChallenge
	c.RegistrationChallenge = ""
	return ch
}

// TakeLoginChallenge returns the staged login challenge and clears it.
func (c *Context) TakeLoginChallenge() string {
	ch := c.LoginChallenge
	c.LoginChallenge = ""
	return ch
}
