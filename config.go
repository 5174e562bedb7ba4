package nexusterminal

import (
	"errors"
	"time"
)

// Config defines the compiled-in tunables of the auth core. Runtime
// tunables (attempt threshold, ban duration, CAPTCHA keys) live in the
// SettingsStore instead; the values here are the fallbacks used when a
// setting is absent or unparseable.
type Config struct {
	Security SecurityConfig
	TOTP     TOTPConfig
	Password PasswordConfig
	Passkey  PasskeyConfig
	Captcha  CaptchaConfig
	Session  SessionConfig
	Audit    AuditConfig
}

// SecurityConfig holds the ban ledger fallbacks and the allowlist of
// origins that are never throttled.
type SecurityConfig struct {
	// MaxLoginAttempts is the failed-attempt threshold used when the
	// SettingsStore has no usable value. Crossing it starts a ban window.
	MaxLoginAttempts int
	// BanDuration is the ban window length fallback.
	BanDuration time.Duration
	// LocalAllowlist contains addresses that are never counted or banned,
	// so an operator on the box cannot lock themselves out.
	LocalAllowlist []string
}

// TOTPConfig parameterizes code generation and verification.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string // SHA1 (default), SHA256 or SHA512
	// Skew is the accepted time-step tolerance in each direction. 1 means
	// the previous, current and next 30s windows are all accepted.
	Skew int
}

// PasswordConfig holds the Argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PasskeyConfig identifies the WebAuthn relying party.
type PasskeyConfig struct {
	RPDisplayName string
	RPID          string
	RPOrigins     []string
}

// CaptchaConfig holds transport tunables for the external verifier.
// Which provider is active and its keys come from the SettingsStore.
type CaptchaConfig struct {
	VerifyTimeout time.Duration
}

// SessionConfig governs the session boundary lifetimes.
type SessionConfig struct {
	RedisPrefix string
	// Lifetime is the ordinary session TTL, refreshed on access.
	Lifetime time.Duration
	// RememberMeLifetime is the effectively non-expiring horizon applied
	// when the client asked to stay signed in.
	RememberMeLifetime time.Duration
	// TokenSecret signs the session cookie token.
	TokenSecret []byte
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns the configuration used by the stock server
// binary. The attempt threshold and ban duration mirror the settings
// defaults (5 attempts, 300 seconds).
func DefaultConfig() Config {
	return Config{
		Security: SecurityConfig{
			MaxLoginAttempts: 5,
			BanDuration:      300 * time.Second,
			LocalAllowlist:   []string{"127.0.0.1", "::1", "localhost"},
		},
		TOTP: TOTPConfig{
			Issuer:    "Nexus Terminal",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Passkey: PasskeyConfig{
			RPDisplayName: "Nexus Terminal",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:3000"},
		},
		Captcha: CaptchaConfig{
			VerifyTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:        "ntsess",
			Lifetime:           24 * time.Hour,
			RememberMeLifetime: 10 * 365 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Security.MaxLoginAttempts < 1 {
		return errors.New("security: MaxLoginAttempts must be >= 1")
	}
	if c.Security.BanDuration <= 0 {
		return errors.New("security: BanDuration must be positive")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp: Digits must be between 6 and 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("totp: Period must be positive")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("totp: Skew must be >= 0")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("session: Lifetime must be positive")
	}
	if c.Session.RememberMeLifetime < c.Session.Lifetime {
		return errors.New("session: RememberMeLifetime must be >= Lifetime")
	}
	return nil
}
