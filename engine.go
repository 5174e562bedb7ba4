package nexusterminal

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wwng2333/nexus-terminal-sub003/password"
	"github.com/wwng2333/nexus-terminal-sub003/session"
)

// Engine drives the console's authentication state machine. It is
// configured once through the Builder and safe for concurrent use; all
// mutable per-client state lives in the session.Context passed into
// each operation.
type Engine struct {
	config          Config
	credentials     CredentialStore
	passkeys        PasskeyStore
	settings        SettingsStore
	ledger          *banLedger
	captcha         CaptchaVerifier
	passkeyVerifier PasskeyVerifier
	audit           *auditDispatcher
	notify          *auditDispatcher
	passwordHash    *password.Hasher
	totp            *totpManager
}

// Close drains and stops the audit and notification dispatchers.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	e.notify.Close()
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher queue was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuthStatus reports the session's authentication state. A session that
// passed the password step but still awaits its second factor is not
// authenticated.
func (e *Engine) AuthStatus(sess *session.Context) AuthStatus {
	if !sess.IsAuthenticated() {
		return AuthStatus{}
	}
	return AuthStatus{
		IsAuthenticated: true,
		User:            &PublicUser{ID: sess.UserID, Username: sess.Username},
	}
}

// Logout clears the session context. The transport layer is responsible
// for deleting the persisted session row and the cookie.
func (e *Engine) Logout(ctx context.Context, sess *session.Context) {
	if sess == nil {
		return
	}
	if sess.UserID != "" {
		e.emitAudit(ctx, auditEventLogout, true, sess.UserID, sess.Username, "", nil)
	}
	sess.Clear()
}

// Blacklist returns one page of the ban ledger for the admin view. On a
// ledger backend failure the page is empty and the error is returned
// for logging; the view degrades rather than failing.
func (e *Engine) Blacklist(ctx context.Context, limit, offset int64) (*Blacklist, error) {
	return e.ledger.Blacklist(ctx, limit, offset)
}

// Unban removes an IP from the ban ledger. It returns
// ErrBanEntryNotFound when no row existed.
func (e *Engine) Unban(ctx context.Context, ip string) error {
	removed, err := e.ledger.Unban(ctx, ip)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if !removed {
		return ErrBanEntryNotFound
	}
	e.emitAudit(ctx, auditEventIPUnbanned, true, "", "", "", func() map[string]string {
		return map[string]string{"unbanned_ip": ip}
	})
	return nil
}

// CaptchaPublicConfig returns the client-safe subset of the CAPTCHA
// settings. The secret key is never part of it.
func (e *Engine) CaptchaPublicConfig(ctx context.Context) (CaptchaPublicConfig, error) {
	cfg, err := resolveCaptchaSettings(ctx, e.settings)
	if err != nil {
		return CaptchaPublicConfig{}, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	return CaptchaPublicConfig{
		Enabled:  cfg.Enabled,
		Provider: cfg.Provider,
		SiteKey:  cfg.SiteKey,
	}, nil
}

// requireAuthenticated gates operations that need a completed login.
func requireAuthenticated(sess *session.Context) error {
	if sess == nil || sess.UserID == "" {
		return ErrUnauthorized
	}
	if sess.RequiresTwoFactor {
		return ErrTwoFactorPending
	}
	return nil
}

// completeLogin finalizes a successful authentication: the ban ledger
// entry for the caller's IP is cleared, the session becomes fully
// authenticated, and success events are emitted.
func (e *Engine) completeLogin(ctx context.Context, sess *session.Context, user *User, rememberMe, usedSecondFactor bool) {
	ip := clientIPFromContext(ctx)
	if ip != "" {
		e.ledger.ResetAttempts(ctx, ip)
	}

	sess.UserID = user.ID
	sess.Username = user.Username
	sess.RequiresTwoFactor = false
	sess.RememberMe = rememberMe
	if sess.CreatedAt == 0 {
		sess.CreatedAt = time.Now().Unix()
	}

	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, user.Username, "", func() map[string]string {
		if !usedSecondFactor {
			return nil
		}
		return map[string]string{"second_factor": "true"}
	})
	e.emitNotify(ctx, auditEventLoginSuccess, user.ID, user.Username, "", nil)
}

// loginFailure records one failed authentication attempt: the ban
// ledger counter for the caller's IP advances and failure events are
// emitted.
func (e *Engine) loginFailure(ctx context.Context, userID, username, reason string) {
	ip := clientIPFromContext(ctx)
	if ip != "" {
		e.ledger.RecordFailedAttempt(ctx, ip)
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, username, reason, nil)
	e.emitNotify(ctx, auditEventLoginFailure, userID, username, reason, nil)
}

// banStarted is wired as the ledger's onBan callback.
func (e *Engine) banStarted(ctx context.Context, entry IPBanEntry, maxAttempts int, duration time.Duration) {
	metadata := map[string]string{
		"banned_ip":    entry.IP,
		"attempts":     fmt.Sprintf("%d", entry.Attempts),
		"max_attempts": fmt.Sprintf("%d", maxAttempts),
		"duration":     duration.String(),
	}
	if entry.BlockedUntil != nil {
		metadata["blocked_until"] = entry.BlockedUntil.UTC().Format(time.RFC3339)
	}
	e.emitAudit(ctx, auditEventIPBanned, false, "", "", "attempt_threshold_crossed", func() map[string]string {
		return metadata
	})
	e.emitNotify(ctx, auditEventIPBanned, "", "", "attempt_threshold_crossed", metadata)
	log.Print("nexusterminal: ip banned after repeated login failures")
}
