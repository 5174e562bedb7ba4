package nexusterminal

import "errors"

var (
	// ErrUnauthorized is returned when an operation requires a fully
	// authenticated session and none is present.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials covers both unknown-username and wrong-password
	// failures; the message is deliberately identical for the two cases.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMissingFields is returned when a required request field is absent.
	ErrMissingFields = errors.New("missing required fields")
	// ErrIPBanned is returned when the caller's IP has an active ban window.
	ErrIPBanned = errors.New("too many failed attempts, try again later")
	// ErrCaptchaRequired is returned when CAPTCHA is enabled and no token
	// was submitted.
	ErrCaptchaRequired = errors.New("captcha token required")
	// ErrCaptchaInvalid is returned when the verifier rejects the token.
	ErrCaptchaInvalid = errors.New("invalid captcha token")
	// ErrCaptchaUnavailable is returned when the verifier itself fails
	// (network or configuration), as opposed to rejecting the token.
	ErrCaptchaUnavailable = errors.New("captcha verification unavailable")
	// ErrTwoFactorPending is returned when an operation requires a fully
	// authenticated session but the session is still awaiting 2FA.
	ErrTwoFactorPending = errors.New("two-factor verification pending")
	// ErrTwoFactorNotPending is returned when VerifyLogin2FA is called on a
	// session that never passed the password step.
	ErrTwoFactorNotPending = errors.New("no two-factor verification pending")
	// ErrSessionStale is returned when a pending login can no longer be
	// completed because the account state changed underneath it (the user
	// row or its TOTP secret is gone). The session is cleared and the
	// client must sign in again.
	ErrSessionStale = errors.New("login session is stale, sign in again")
	// ErrTOTPInvalid is returned for a wrong or out-of-window code.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrTOTPNotConfigured is returned when the user has no stored secret.
	ErrTOTPNotConfigured = errors.New("totp not configured")
	// ErrTOTPAlreadyEnabled is returned by Setup2FA when a secret is
	// already active; it must be disabled first.
	ErrTOTPAlreadyEnabled = errors.New("totp already enabled")
	// ErrTOTPSetupNotStarted is returned by VerifyAndActivate2FA when no
	// secret is staged in the session.
	ErrTOTPSetupNotStarted = errors.New("totp setup not started")
	// ErrPasswordPolicy is returned when a new password is shorter than the
	// minimum length.
	ErrPasswordPolicy = errors.New("password must be at least 8 characters")
	// ErrPasswordReuse is returned when the new password equals the current.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrCurrentPasswordIncorrect is returned by the re-confirmation step
	// of change-password and disable-2FA. Unlike a login failure it never
	// touches the ban ledger.
	ErrCurrentPasswordIncorrect = errors.New("current password is incorrect")
	// ErrPasswordMismatch is returned when password and confirmation differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrSetupComplete is returned by SetupAdmin once any user exists. The
	// bootstrap path is permanently disabled from that point on.
	ErrSetupComplete = errors.New("setup already completed")
	// ErrUserNotFound is returned when a user row is missing for an
	// already-authenticated session (stale session state).
	ErrUserNotFound = errors.New("user not found")
	// ErrChallengeNotStaged is returned when a WebAuthn response arrives
	// without a staged challenge in the session.
	ErrChallengeNotStaged = errors.New("webauthn challenge not staged")
	// ErrPasskeyVerification is returned when the WebAuthn library rejects
	// a registration or assertion response.
	ErrPasskeyVerification = errors.New("passkey verification failed")
	// ErrPasskeyNotFound is returned when operating on a missing credential.
	ErrPasskeyNotFound = errors.New("passkey not found")
	// ErrSettingNotFound is returned by SettingsStore.Get for absent keys.
	ErrSettingNotFound = errors.New("setting not found")
	// ErrBanEntryNotFound is returned by Unban when no row exists.
	ErrBanEntryNotFound = errors.New("ban entry not found")
	// ErrDependency wraps storage or verifier backend failures that the
	// transport layer must surface as a generic server error.
	ErrDependency = errors.New("dependency failure")
	// ErrEngineNotReady signals a nil or incompletely built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
