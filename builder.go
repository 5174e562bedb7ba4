package nexusterminal

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/wwng2333/nexus-terminal-sub003/password"
)

// Builder assembles an Engine. Stores and the redis client are
// mandatory; everything else defaults sensibly (HTTP CAPTCHA verifier,
// WebAuthn verifier from the config, no-op sinks).
type Builder struct {
	config          Config
	configSet       bool
	redis           *redis.Client
	credentials     CredentialStore
	passkeys        PasskeyStore
	settings        SettingsStore
	captcha         CaptchaVerifier
	passkeyVerifier PasskeyVerifier
	auditSink       AuditSink
	notifySink      NotifySink
}

// NewBuilder starts a builder with DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.configSet = true
	return b
}

// WithRedis sets the redis client backing the ban ledger.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the user account store.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

// WithPasskeyStore sets the WebAuthn credential store.
func (b *Builder) WithPasskeyStore(store PasskeyStore) *Builder {
	b.passkeys = store
	return b
}

// WithSettingsStore sets the runtime settings store.
func (b *Builder) WithSettingsStore(store SettingsStore) *Builder {
	b.settings = store
	return b
}

// WithCaptchaVerifier overrides the default HTTP verifier.
func (b *Builder) WithCaptchaVerifier(v CaptchaVerifier) *Builder {
	b.captcha = v
	return b
}

// WithPasskeyVerifier overrides the default go-webauthn verifier.
func (b *Builder) WithPasskeyVerifier(v PasskeyVerifier) *Builder {
	b.passkeyVerifier = v
	return b
}

// WithAuditSink sets the audit event sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithNotifySink sets the operator notification sink.
func (b *Builder) WithNotifySink(sink NotifySink) *Builder {
	b.notifySink = sink
	return b
}

// Build validates the configuration and wires the engine together.
func (b *Builder) Build() (*Engine, error) {
	cfg := b.config
	if !b.configSet {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("builder: redis client is required")
	}
	if b.credentials == nil {
		return nil, errors.New("builder: credential store is required")
	}
	if b.passkeys == nil {
		return nil, errors.New("builder: passkey store is required")
	}
	if b.settings == nil {
		return nil, errors.New("builder: settings store is required")
	}

	hasher, err := password.New(password.Config(cfg.Password))
	if err != nil {
		return nil, err
	}

	captcha := b.captcha
	if captcha == nil {
		captcha = NewHTTPCaptchaVerifier(b.settings, cfg.Captcha)
	}

	passkeyVerifier := b.passkeyVerifier
	if passkeyVerifier == nil {
		passkeyVerifier, err = NewWebAuthnVerifier(cfg.Passkey)
		if err != nil {
			return nil, err
		}
	}

	auditSink := b.auditSink
	if auditSink == nil {
		auditSink = NoOpSink{}
	}
	var notifyDispatcher *auditDispatcher
	if b.notifySink != nil {
		notifyDispatcher = newAuditDispatcher(cfg.Audit, notifyAdapter{sink: b.notifySink})
	}

	engine := &Engine{
		config:          cfg,
		credentials:     b.credentials,
		passkeys:        b.passkeys,
		settings:        b.settings,
		captcha:         captcha,
		passkeyVerifier: passkeyVerifier,
		audit:           newAuditDispatcher(cfg.Audit, auditSink),
		notify:          notifyDispatcher,
		passwordHash:    hasher,
		totp:            newTOTPManager(cfg.TOTP),
	}

	ledger := newBanLedger(b.redis, b.settings, cfg.Security, "ntban")
	ledger.onBan = engine.banStarted
	engine.ledger = ledger

	return engine, nil
}
