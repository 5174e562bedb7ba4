package nexusterminal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wwng2333/nexus-terminal-sub003/session"
)

// Setup2FA generates a fresh TOTP secret and stages it in the session.
// Nothing is persisted until VerifyAndActivate2FA confirms the user's
// authenticator produces matching codes. An account with 2FA already
// active must disable it first.
func (e *Engine) Setup2FA(ctx context.Context, sess *session.Context) (*TOTPSetup, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if err := requireAuthenticated(sess); err != nil {
		return nil, err
	}

	user, err := e.credentials.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if user.TOTPSecret != "" {
		return nil, ErrTOTPAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	sess.TempTOTPSecret = secret

	return &TOTPSetup{
		Secret:    secret,
		QRCodeURL: e.totp.ProvisionURI(secret, user.Username),
	}, nil
}

// VerifyAndActivate2FA checks the submitted code against the staged
// secret and persists it on success. On failure the stage is left
// intact so the user can retry with the next code.
func (e *Engine) VerifyAndActivate2FA(ctx context.Context, sess *session.Context, token string) error {
	if e == nil || e.totp == nil {
		return ErrEngineNotReady
	}
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	if token == "" {
		return ErrMissingFields
	}
	if sess.TempTOTPSecret == "" {
		return ErrTOTPSetupNotStarted
	}

	ok, err := e.totp.VerifyCode(sess.TempTOTPSecret, token, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if !ok {
		return ErrTOTPInvalid
	}

	if err := e.credentials.SetTOTPSecret(ctx, sess.UserID, sess.TempTOTPSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}
	sess.TempTOTPSecret = ""

	e.emitAudit(ctx, auditEventTOTPEnabled, true, sess.UserID, sess.Username, "", nil)
	e.emitNotify(ctx, auditEventTOTPEnabled, sess.UserID, sess.Username, "", nil)
	return nil
}

// Disable2FA clears the stored secret after re-confirming the account
// password. Like change-password, the confirmation is independent of
// the ban ledger.
func (e *Engine) Disable2FA(ctx context.Context, sess *session.Context, password string) error {
	if e == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	if password == "" {
		return ErrMissingFields
	}

	user, err := e.credentials.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if user.TOTPSecret == "" {
		return ErrTOTPNotConfigured
	}

	ok, err := e.passwordHash.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return ErrCurrentPasswordIncorrect
	}

	if err := e.credentials.ClearTOTPSecret(ctx, user.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}

	e.emitAudit(ctx, auditEventTOTPDisabled, true, user.ID, user.Username, "", nil)
	e.emitNotify(ctx, auditEventTOTPDisabled, user.ID, user.Username, "", nil)
	return nil
}
