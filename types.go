package nexusterminal

import (
	"context"
	"encoding/json"
	"time"
)

// User is one account row in the credential store. TOTPSecret is the
// base32-encoded shared secret, empty while 2FA is disabled.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	TOTPSecret   string
}

// PublicUser is the client-facing projection of a User. The password
// hash and TOTP secret are never serialized.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Public returns the serializable projection of u.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username}
}

// PasskeyCredential is one registered WebAuthn authenticator.
// CredentialID is base64url without padding, PublicKey standard base64.
// SignCount is the authenticator's signature counter; the verification
// layer enforces that it never decreases, the store just persists it.
type PasskeyCredential struct {
	ID           string     `json:"id"`
	UserID       string     `json:"-"`
	CredentialID string     `json:"credentialId"`
	PublicKey    string     `json:"-"`
	SignCount    uint32     `json:"-"`
	Transports   []string   `json:"transports,omitempty"`
	Name         string     `json:"name,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}

// IPBanEntry is one row of the ban ledger, keyed by network origin.
// BlockedUntil is nil while the IP is only being counted.
type IPBanEntry struct {
	IP            string     `json:"ip"`
	Attempts      int64      `json:"attempts"`
	LastAttemptAt time.Time  `json:"lastAttemptAt"`
	BlockedUntil  *time.Time `json:"blockedUntil,omitempty"`
}

// Blacklist is one page of ban ledger entries, most recent attempt first.
type Blacklist struct {
	Entries []IPBanEntry `json:"entries"`
	Total   int64        `json:"total"`
}

// CredentialStore persists user accounts. Implementations return
// ErrUserNotFound for missing rows.
type CredentialStore interface {
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetTOTPSecret(ctx context.Context, id, secret string) error
	ClearTOTPSecret(ctx context.Context, id string) error
	CountUsers(ctx context.Context) (int64, error)
}

// PasskeyStore persists WebAuthn credentials. Implementations return
// ErrPasskeyNotFound for missing rows.
type PasskeyStore interface {
	Create(ctx context.Context, cred *PasskeyCredential) error
	List(ctx context.Context) ([]PasskeyCredential, error)
	GetByCredentialID(ctx context.Context, credentialID string) (*PasskeyCredential, error)
	UpdateSignCount(ctx context.Context, credentialID string, signCount uint32) error
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) (bool, error)
}

// Settings keys consumed by this package. Values are stored as strings;
// unparseable values fall back to compiled-in defaults.
const (
	SettingMaxLoginAttempts = "maxLoginAttempts"
	SettingBanDuration      = "loginBanDurationSeconds"
	SettingCaptchaEnabled   = "captchaEnabled"
	SettingCaptchaProvider  = "captchaProvider"
	SettingCaptchaSiteKey   = "captchaSiteKey"
	SettingCaptchaSecretKey = "captchaSecretKey"
)

// SettingsStore is the generic key-value store supplying tunables.
// Get returns ErrSettingNotFound for absent keys.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// CaptchaVerifier validates a client-submitted CAPTCHA token. A false
// result means the token was rejected; a non-nil error means the
// verifier itself failed (network, misconfiguration) and must be
// surfaced as a dependency error, not a credential failure.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// CaptchaPublicConfig is the public subset of the CAPTCHA settings.
// The secret key is never part of it.
type CaptchaPublicConfig struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider,omitempty"`
	SiteKey  string `json:"siteKey,omitempty"`
}

// PasskeyVerifier is the black-boxed WebAuthn ceremony layer. Options
// and responses are opaque JSON passed through to the browser; the
// staged challenge is an opaque string the engine stores in the session
// between the begin and finish steps.
type PasskeyVerifier interface {
	BeginRegistration(ctx context.Context, user *User, creds []PasskeyCredential) (options json.RawMessage, challenge string, err error)
	FinishRegistration(ctx context.Context, user *User, creds []PasskeyCredential, challenge string, response json.RawMessage) (*PasskeyCredential, error)
	BeginLogin(ctx context.Context, user *User, creds []PasskeyCredential) (options json.RawMessage, challenge string, err error)
	FinishLogin(ctx context.Context, user *User, creds []PasskeyCredential, challenge string, response json.RawMessage) (credentialID string, signCount uint32, err error)
}

// LoginRequest is the input for Engine.Login.
type LoginRequest struct {
	Username     string
	Password     string
	RememberMe   bool
	CaptchaToken string
}

// LoginResult is returned by Engine.Login and Engine.VerifyLogin2FA.
// When RequiresTwoFactor is set the password step passed but the session
// is not yet authenticated and User is empty.
type LoginResult struct {
	User              PublicUser
	RequiresTwoFactor bool
	UsedSecondFactor  bool
}

// AuthStatus is returned by Engine.AuthStatus.
type AuthStatus struct {
	IsAuthenticated bool        `json:"isAuthenticated"`
	User            *PublicUser `json:"user,omitempty"`
}

// TOTPSetup is returned by Engine.Setup2FA. The secret is staged in the
// session and not persisted until activation.
type TOTPSetup struct {
	Secret    string `json:"secret"`
	QRCodeURL string `json:"qrCodeUrl"`
}
