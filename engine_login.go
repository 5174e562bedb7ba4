package nexusterminal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/wwng2333/nexus-terminal-sub003/session"
)

// Login runs the password step of the state machine:
//
//	ban gate → CAPTCHA → user lookup → password → TOTP gate
//
// A banned origin is rejected before any credential work. Unknown
// username and wrong password produce the same ErrInvalidCredentials to
// prevent enumeration; only missing fields and CAPTCHA conditions are
// structurally distinct. When the account has a TOTP secret the session
// is left in the pending state and no user info is returned.
func (e *Engine) Login(ctx context.Context, sess *session.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil {
		return nil, ErrEngineNotReady
	}
	if sess == nil {
		return nil, ErrEngineNotReady
	}
	if req.Username == "" || req.Password == "" {
		return nil, ErrMissingFields
	}

	ip := clientIPFromContext(ctx)

	// Fail-open by policy: a ledger backend failure must not lock out
	// legitimate logins.
	if blocked, err := e.ledger.IsBlocked(ctx, ip); err != nil {
		log.Print("nexusterminal: ban ledger unavailable, allowing attempt")
	} else if blocked {
		e.emitAudit(ctx, auditEventLoginBlocked, false, "", req.Username, "ip_banned", nil)
		return nil, ErrIPBanned
	}

	captchaCfg, err := resolveCaptchaSettings(ctx, e.settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	if captchaCfg.Enabled {
		if req.CaptchaToken == "" {
			return nil, ErrCaptchaRequired
		}
		ok, err := e.captcha.Verify(ctx, req.CaptchaToken, ip)
		if err != nil {
			// A verifier fault is a service problem, not a credential
			// failure: the ban ledger is not touched.
			if errors.Is(err, ErrCaptchaUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
		}
		if !ok {
			e.loginFailure(ctx, "", req.Username, "invalid_captcha")
			return nil, ErrCaptchaInvalid
		}
	}

	user, err := e.credentials.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.loginFailure(ctx, "", req.Username, "user_not_found")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}

	ok, err := e.passwordHash.Verify(req.Password, user.PasswordHash)
	if err != nil || !ok {
		e.loginFailure(ctx, user.ID, req.Username, "invalid_password")
		return nil, ErrInvalidCredentials
	}

	if user.TOTPSecret != "" {
		// Password accepted, second factor outstanding. The remember-me
		// choice is staged with the session and applied after 2FA.
		sess.UserID = user.ID
		sess.Username = user.Username
		sess.RequiresTwoFactor = true
		sess.RememberMe = req.RememberMe
		if sess.CreatedAt == 0 {
			sess.CreatedAt = time.Now().Unix()
		}
		return &LoginResult{RequiresTwoFactor: true}, nil
	}

	e.completeLogin(ctx, sess, user, req.RememberMe, false)
	return &LoginResult{User: user.Public()}, nil
}

// VerifyLogin2FA completes a pending login with a TOTP code. The code
// is accepted within the configured time-step window (one step in each
// direction by default). On failure the session stays pending so the
// code can be retried without re-entering the password; retries are
// bounded only by the ban ledger.
func (e *Engine) VerifyLogin2FA(ctx context.Context, sess *session.Context, token string) (*LoginResult, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if token == "" {
		return nil, ErrMissingFields
	}
	if sess == nil || sess.UserID == "" || !sess.RequiresTwoFactor {
		return nil, ErrTwoFactorNotPending
	}

	user, err := e.credentials.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// The account vanished mid-login; the pending state is useless.
			sess.Clear()
			return nil, ErrSessionStale
		}
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if user.TOTPSecret == "" {
		// 2FA was disabled after the password step; the pending session
		// cannot be completed and must not be upgraded without a fresh
		// password check.
		sess.Clear()
		return nil, ErrSessionStale
	}

	ok, err := e.totp.VerifyCode(user.TOTPSecret, token, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if !ok {
		ip := clientIPFromContext(ctx)
		if ip != "" {
			e.ledger.RecordFailedAttempt(ctx, ip)
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, user.Username, "invalid_2fa_token", nil)
		return nil, ErrTOTPInvalid
	}

	rememberMe := sess.RememberMe
	sess.RequiresTwoFactor = false
	e.completeLogin(ctx, sess, user, rememberMe, true)
	return &LoginResult{User: user.Public(), UsedSecondFactor: true}, nil
}
