package nexusterminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/wwng2333/nexus-terminal-sub003/session"
)

// BeginPasskeyRegistration starts the WebAuthn attestation ceremony for
// the logged-in user. The returned options are relayed verbatim to the
// browser; the challenge is staged in the session for the finish step.
func (e *Engine) BeginPasskeyRegistration(ctx context.Context, sess *session.Context) (json.RawMessage, error) {
	if e == nil || e.passkeyVerifier == nil {
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

	creds, err := e.passkeys.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}

	options, challenge, err := e.passkeyVerifier.BeginRegistration(ctx, user, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	sess.RegistrationChallenge = challenge
	return options, nil
}

// FinishPasskeyRegistration consumes the staged challenge and verifies
// the browser's attestation response. The challenge is single-use: it is
// cleared from the session before verification, so a failed response
// requires a fresh begin step.
func (e *Engine) FinishPasskeyRegistration(ctx context.Context, sess *session.Context, name string, response json.RawMessage) (*PasskeyCredential, error) {
	if e == nil || e.passkeyVerifier == nil {
		return nil, ErrEngineNotReady
	}
	if err := requireAuthenticated(sess); err != nil {
		return nil, err
	}

	challenge := sess.TakeRegistrationChallenge()
	if challenge == "" {
		return nil, ErrChallengeNotStaged
	}
	if len(response) == 0 {
		return nil, ErrMissingFields
	}

	user, err := e.credentials.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}

	creds, err := e.passkeys.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}

	cred, err := e.passkeyVerifier.FinishRegistration(ctx, user, creds, challenge, response)
	if err != nil {
		e.emitAudit(ctx, auditEventPasskeyRegistered, false, user.ID, user.Username, "attestation_rejected", nil)
		return nil, fmt.Errorf("%w: %v", ErrPasskeyVerification, err)
	}

	cred.ID = uuid.NewString()
	cred.UserID = user.ID
	cred.CreatedAt = time.Now().UTC()
	if name != "" {
		cred.Name = name
	}
	if cred.Name == "" {
		cred.Name = "Passkey"
	}

	if err := e.passkeys.Create(ctx, cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}

	e.emitAudit(ctx, auditEventPasskeyRegistered, true, user.ID, user.Username, "", func() map[string]string {
		return map[string]string{"passkey_name": cred.Name}
	})
	e.emitNotify(ctx, auditEventPasskeyRegistered, user.ID, user.Username, "", map[string]string{"passkey_name": cred.Name})
	return cred, nil
}

// BeginPasskeyLogin starts a passwordless assertion ceremony. It runs
// pre-authentication, so the only gates are the ban ledger and the
// existence of at least one registered credential. The console is
// single-account, so the credential set resolves the user.
func (e *Engine) BeginPasskeyLogin(ctx context.Context, sess *session.Context) (json.RawMessage, error) {
	if e == nil || e.passkeyVerifier == nil {
		return nil, ErrEngineNotReady
	}
	if sess == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)
	if blocked, err := e.ledger.IsBlocked(ctx, ip); err != nil {
		log.Print("nexusterminal: ban ledger unavailable, allowing attempt")
	} else if blocked {
		e.emitAudit(ctx, auditEventLoginBlocked, false, "", "", "ip_banned", nil)
		return nil, ErrIPBanned
	}

	creds, err := e.passkeys.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if len(creds) == 0 {
		return nil, ErrPasskeyNotFound
	}

	user, err := e.credentials.GetUserByID(ctx, creds[0].UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrPasskeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}

	options, challenge, err := e.passkeyVerifier.BeginLogin(ctx, user, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	sess.LoginChallenge = challenge
	return options, nil
}

// FinishPasskeyLogin consumes the staged challenge, verifies the
// assertion, and completes the login. A passkey is a possession factor,
// so no TOTP step follows; a failed assertion counts against the ban
// ledger like a wrong password.
func (e *Engine) FinishPasskeyLogin(ctx context.Context, sess *session.Context, rememberMe bool, response json.RawMessage) (*LoginResult, error) {
	if e == nil || e.passkeyVerifier == nil {
		return nil, ErrEngineNotReady
	}
	if sess == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)
	if blocked, err := e.ledger.IsBlocked(ctx, ip); err != nil {
		log.Print("nexusterminal: ban ledger unavailable, allowing attempt")
	} else if blocked {
		e.emitAudit(ctx, auditEventLoginBlocked, false, "", "", "ip_banned", nil)
		return nil, ErrIPBanned
	}

	challenge := sess.TakeLoginChallenge()
	if challenge == "" {
		return nil, ErrChallengeNotStaged
	}
	if len(response) == 0 {
		return nil, ErrMissingFields
	}

	creds, err := e.passkeys.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if len(creds) == 0 {
		return nil, ErrPasskeyNotFound
	}

	user, err := e.credentials.GetUserByID(ctx, creds[0].UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrPasskeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}

	credentialID, signCount, err := e.passkeyVerifier.FinishLogin(ctx, user, creds, challenge, response)
	if err != nil {
		e.loginFailure(ctx, user.ID, user.Username, "passkey_assertion_rejected")
		return nil, fmt.Errorf("%w: %v", ErrPasskeyVerification, err)
	}

	// Sign counter writeback is best-effort: the assertion already
	// verified, a stale counter only weakens clone detection next time.
	if err := e.passkeys.UpdateSignCount(ctx, credentialID, signCount); err != nil {
		log.Print("nexusterminal: passkey sign count writeback failed")
	}

	e.completeLogin(ctx, sess, user, rememberMe, false)
	e.emitAudit(ctx, auditEventPasskeyLogin, true, user.ID, user.Username, "", func() map[string]string {
		return map[string]string{"credential_id": credentialID}
	})
	return &LoginResult{User: user.Public(), UsedSecondFactor: true}, nil
}

// ListPasskeys returns the registered credentials for the settings view.
func (e *Engine) ListPasskeys(ctx context.Context, sess *session.Context) ([]PasskeyCredential, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if err := requireAuthenticated(sess); err != nil {
		return nil, err
	}
	creds, err := e.passkeys.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependency, err)
	}
	return creds, nil
}

// RenamePasskey updates a credential's display name.
func (e *Engine) RenamePasskey(ctx context.Context, sess *session.Context, id, name string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	if id == "" || name == "" {
		return ErrMissingFields
	}
	if err := e.passkeys.Rename(ctx, id, name); err != nil {
		if errors.Is(err, ErrPasskeyNotFound) {
			return ErrPasskeyNotFound
		}
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}
	return nil
}

// DeletePasskey removes a registered credential.
func (e *Engine) DeletePasskey(ctx context.Context, sess *session.Context, id string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := requireAuthenticated(sess); err != nil {
		return err
	}
	if id == "" {
		return ErrMissingFields
	}
	removed, err := e.passkeys.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependency, err)
	}
	if !removed {
		return ErrPasskeyNotFound
	}
	e.emitAudit(ctx, auditEventPasskeyRemoved, true, sess.UserID, sess.Username, "", func() map[string]string {
		return map[string]string{"passkey_id": id}
	})
	e.emitNotify(ctx, auditEventPasskeyRemoved, sess.UserID, sess.Username, "", map[string]string{"passkey_id": id})
	return nil
}
