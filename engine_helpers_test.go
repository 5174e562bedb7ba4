package nexusterminal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wwng2333/nexus-terminal-sub003/session"
)

// memCredentialStore is an in-memory CredentialStore for tests.
type memCredentialStore struct {
	mu    sync.Mutex
	users map[string]*User
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{users: map[string]*User{}}
}

func (s *memCredentialStore) GetUserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memCredentialStore) GetUserByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *memCredentialStore) CreateUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *user
	s.users[user.ID] = &clone
	return nil
}

func (s *memCredentialStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *memCredentialStore) SetTOTPSecret(_ context.Context, id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.TOTPSecret = secret
	return nil
}

func (s *memCredentialStore) ClearTOTPSecret(_ context.Context, id string) error {
	return s.SetTOTPSecret(context.Background(), id, "")
}

func (s *memCredentialStore) CountUsers(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

// memPasskeyStore is an in-memory PasskeyStore for tests.
type memPasskeyStore struct {
	mu    sync.Mutex
	creds []PasskeyCredential
}

func (s *memPasskeyStore) Create(_ context.Context, cred *PasskeyCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = append(s.creds, *cred)
	return nil
}

func (s *memPasskeyStore) List(_ context.Context) ([]PasskeyCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PasskeyCredential, len(s.creds))
	copy(out, s.creds)
	return out, nil
}

func (s *memPasskeyStore) GetByCredentialID(_ context.Context, credentialID string) (*PasskeyCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.creds {
		if s.creds[i].CredentialID == credentialID {
			clone := s.creds[i]
			return &clone, nil
		}
	}
	return nil, ErrPasskeyNotFound
}

func (s *memPasskeyStore) UpdateSignCount(_ context.Context, credentialID string, signCount uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.creds {
		if s.creds[i].CredentialID == credentialID {
			s.creds[i].SignCount = signCount
			now := time.Now()
			s.creds[i].LastUsedAt = &now
			return nil
		}
	}
	return ErrPasskeyNotFound
}

func (s *memPasskeyStore) Rename(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.creds {
		if s.creds[i].ID == id {
			s.creds[i].Name = name
			return nil
		}
	}
	return ErrPasskeyNotFound
}

func (s *memPasskeyStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.creds {
		if s.creds[i].ID == id {
			s.creds = append(s.creds[:i], s.creds[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// memSettingsStore is an in-memory SettingsStore for tests.
type memSettingsStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettingsStore() *memSettingsStore {
	return &memSettingsStore{values: map[string]string{}}
}

func (s *memSettingsStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrSettingNotFound
	}
	return v, nil
}

func (s *memSettingsStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// stubCaptchaVerifier scripts CAPTCHA outcomes.
type stubCaptchaVerifier struct {
	ok  bool
	err error
}

func (v *stubCaptchaVerifier) Verify(context.Context, string, string) (bool, error) {
	return v.ok, v.err
}

// stubPasskeyVerifier scripts WebAuthn ceremony outcomes without real
// cryptography.
type stubPasskeyVerifier struct {
	registerErr error
	loginErr    error

	credentialID string
	signCount    uint32

	lastChallenge string
}

func (v *stubPasskeyVerifier) BeginRegistration(_ context.Context, _ *User, _ []PasskeyCredential) (json.RawMessage, string, error) {
	v.lastChallenge = "reg-challenge"
	return json.RawMessage(`{"publicKey":{}}`), v.lastChallenge, nil
}

func (v *stubPasskeyVerifier) FinishRegistration(_ context.Context, _ *User, _ []PasskeyCredential, challenge string, _ json.RawMessage) (*PasskeyCredential, error) {
	if v.registerErr != nil {
		return nil, v.registerErr
	}
	if challenge != "reg-challenge" {
		return nil, ErrPasskeyVerification
	}
	return &PasskeyCredential{
		CredentialID: v.credentialID,
		PublicKey:    "cHVibGljLWtleQ==",
		SignCount:    v.signCount,
	}, nil
}

func (v *stubPasskeyVerifier) BeginLogin(_ context.Context, _ *User, _ []PasskeyCredential) (json.RawMessage, string, error) {
	v.lastChallenge = "login-challenge"
	return json.RawMessage(`{"publicKey":{}}`), v.lastChallenge, nil
}

func (v *stubPasskeyVerifier) FinishLogin(_ context.Context, _ *User, _ []PasskeyCredential, challenge string, _ json.RawMessage) (string, uint32, error) {
	if v.loginErr != nil {
		return "", 0, v.loginErr
	}
	if challenge != "login-challenge" {
		return "", 0, ErrPasskeyVerification
	}
	return v.credentialID, v.signCount, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	// Cheapest parameters the hasher accepts; production costs would make
	// the suite crawl.
	cfg.Password = PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	cfg.Security.MaxLoginAttempts = 3
	cfg.Security.BanDuration = 60 * time.Second
	return cfg
}

type testEngine struct {
	engine   *Engine
	redis    *redis.Client
	mini     *miniredis.Miniredis
	users    *memCredentialStore
	passkeys *memPasskeyStore
	settings *memSettingsStore
	verifier *stubPasskeyVerifier
	audit    *ChannelSink
}

func newTestEngine(t *testing.T, cfg Config) *testEngine {
	t.Helper()

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { client.Close() })

	users := newMemCredentialStore()
	passkeys := &memPasskeyStore{}
	settings := newMemSettingsStore()
	verifier := &stubPasskeyVerifier{credentialID: "cred-1", signCount: 1}
	audit := NewChannelSink(128)

	engine, err := NewBuilder().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(users).
		WithPasskeyStore(passkeys).
		WithSettingsStore(settings).
		WithCaptchaVerifier(&stubCaptchaVerifier{ok: true}).
		WithPasskeyVerifier(verifier).
		WithAuditSink(audit).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{
		engine:   engine,
		redis:    client,
		mini:     mini,
		users:    users,
		passkeys: passkeys,
		settings: settings,
		verifier: verifier,
		audit:    audit,
	}
}

// addUser creates an account with the given password (and optional TOTP
// secret) directly in the credential store.
func (te *testEngine) addUser(t *testing.T, id, username, password, totpSecret string) {
	t.Helper()
	hash, err := te.engine.passwordHash.Hash(password)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if err := te.users.CreateUser(context.Background(), &User{
		ID:           id,
		Username:     username,
		PasswordHash: hash,
		TOTPSecret:   totpSecret,
	}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
}

// login runs a password login from ip and returns the session.
func (te *testEngine) login(t *testing.T, ip, username, password string) (*session.Context, *LoginResult, error) {
	t.Helper()
	sess := &session.Context{}
	ctx := WithClientIP(context.Background(), ip)
	res, err := te.engine.Login(ctx, sess, LoginRequest{Username: username, Password: password})
	return sess, res, err
}
