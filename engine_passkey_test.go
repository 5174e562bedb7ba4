package nexusterminal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/wwng2333/nexus-terminal-sub003/session"
)

var stubResponse = json.RawMessage(`{"id":"cred-1"}`)

func registerTestPasskey(t *testing.T, te *testEngine, sess *session.Context, name string) *PasskeyCredential {
	t.Helper()
	ctx := context.Background()

	if _, err := te.engine.BeginPasskeyRegistration(ctx, sess); err != nil {
		t.Fatalf("BeginPasskeyRegistration failed: %v", err)
	}
	cred, err := te.engine.FinishPasskeyRegistration(ctx, sess, name, stubResponse)
	if err != nil {
		t.Fatalf("FinishPasskeyRegistration failed: %v", err)
	}
	return cred
}

func TestPasskeyRegistrationRoundTrip(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "correct-horse-battery", "")
	sess := loggedInSession(t, te)

	options, err := te.engine.BeginPasskeyRegistration(context.Background(), sess)
	if err != nil {
		t.Fatalf("BeginPasskeyRegistration failed: %v", err)
	}
	if len(options) == 0 {
		t.Fatal("expected creation options")
	}
	if sess.RegistrationChallenge == "" {
		t.Fatal("expected staged registration challenge")
	}

	cred, err := te.engine.FinishPasskeyRegistration(context.Background(), sess, "laptop", stubResponse)
	if err != nil {
		t.Fatalf("FinishPasskeyRegistration failed: %v", err)
	}
	if cred.ID == "" || cred.UserID != "u1" || cred.Name != "laptop" {
		t.Fatalf("unexpected credential: %+v", cred)
	}

	creds, err := te.engine.ListPasskeys(context.Background(), sess)
	if err != nil {
		t.Fatalf("ListPasskeys failed: %v", err)
	}
	if len(creds) != 1 || creds[0].CredentialID != "cred-1" {
		t.Fatalf("unexpected stored credentials: %+v", creds)
	}
}

func TestPasskeyRegistrationChallengeIsSingleUse(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "correct-horse-battery", "")
	sess := loggedInSession(t, te)
	ctx := context.Background()

	if _, err := te.engine.BeginPasskeyRegistration(ctx, sess); err != nil {
		t.Fatalf("BeginPasskeyRegistration failed: %v", err)
	}

	// A failed verification still consumes the challenge.
	te.verifier.registerErr = errors.New("attestation rejected")
	if _, err := te.engine.FinishPasskeyRegistration(ctx, sess, "laptop", stubResponse); !errors.Is(err, ErrPasskeyVerification) {
		t.Fatalf("expected ErrPasskeyVerification, got %v", err)
	}
	if sess.RegistrationChallenge != "" {
		t.Fatal("challenge must be cleared regardless of outcome")
	}

	te.verifier.registerErr = nil
	if _, err := te.engine.FinishPasskeyRegistration(ctx, sess, "laptop", stubResponse); !errors.Is(err, ErrChallengeNotStaged) {
		t.Fatalf("expected ErrChallengeNotStaged on replay, got %v", err)
	}
}

func TestPasskeyRegistrationRequiresAuthenticated(t *testing.T) {
	te := newTestEngine(t, testConfig())

	if _, err := te.engine.BeginPasskeyRegistration(context.Background(), emptySession()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestPasskeyLoginWritesBackSignCount(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "correct-horse-battery", "")
	sess := loggedInSession(t, te)

	te.verifier.signCount = 1
	registerTestPasskey(t, te, sess, "laptop")

	// Fresh anonymous session for the passwordless login.
	loginSess := emptySession()
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	options, err := te.engine.BeginPasskeyLogin(ctx, loginSess)
	if err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}
	if len(options) == 0 || loginSess.LoginChallenge == "" {
		t.Fatal("expected assertion options and a staged challenge")
	}

	te.verifier.signCount = 2
	res, err := te.engine.FinishPasskeyLogin(ctx, loginSess, false, stubResponse)
	if err != nil {
		t.Fatalf("FinishPasskeyLogin failed: %v", err)
	}
	if res.User.ID != "u1" || !loginSess.IsAuthenticated() {
		t.Fatal("expected completed passwordless login")
	}

	stored, err := te.passkeys.GetByCredentialID(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("GetByCredentialID failed: %v", err)
	}
	if stored.SignCount != 2 {
		t.Fatalf("expected sign count 2 after writeback, got %d", stored.SignCount)
	}
}

func TestPasskeyLoginWithoutRegisteredCredential(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "correct-horse-battery", "")

	if _, err := te.engine.BeginPasskeyLogin(context.Background(), emptySession()); !errors.Is(err, ErrPasskeyNotFound) {
		t.Fatalf("expected ErrPasskeyNotFound, got %v", err)
	}
}

func TestPasskeyLoginFailureCountsAgainstLedger(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "correct-horse-battery", "")
	sess := loggedInSession(t, te)
	registerTestPasskey(t, te, sess, "laptop")

	ip := "203.0.113.20"
	ctx := WithClientIP(context.Background(), ip)
	loginSess := emptySession()

	if _, err := te.engine.BeginPasskeyLogin(ctx, loginSess); err != nil {
		t.Fatalf("BeginPasskeyLogin failed: %v", err)
	}

	te.verifier.loginErr = errors.New("assertion rejected")
	if _, err := te.engine.FinishPasskeyLogin(ctx, loginSess, false, stubResponse); !errors.Is(err, ErrPasskeyVerification) {
		t.Fatalf("expected ErrPasskeyVerification, got %v", err)
	}
	if loginSess.LoginChallenge != "" {
		t.Fatal("login challenge must be single-use")
	}
	if n := ledgerAttempts(t, te, ip); n != 1 {
		t.Fatalf("expected one ledger attempt, got %d", n)
	}
}

func TestPasskeyLoginBanGate(t *testing.T) {
	cfg := testConfig()
	te := newTestEngine(t, cfg)
	te.addUser(t, "u1", "admin", "correct-horse-battery", "")
	sess := loggedInSession(t, te)
	registerTestPasskey(t, te, sess, "laptop")

	ip := "203.0.113.21"
	for i := 0; i < cfg.Security.MaxLoginAttempts; i++ {
		te.login(t, ip, "admin", "wrong")
	}

	ctx := WithClientIP(context.Background(), ip)
	if _, err := te.engine.BeginPasskeyLogin(ctx, emptySession()); !errors.Is(err, ErrIPBanned) {
		t.Fatalf("expected ErrIPBanned, got %v", err)
	}
}

func TestPasskeyRenameAndDelete(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "correct-horse-battery", "")
	sess := loggedInSession(t, te)
	cred := registerTestPasskey(t, te, sess, "laptop")
	ctx := context.Background()

	if err := te.engine.RenamePasskey(ctx, sess, cred.ID, "yubikey"); err != nil {
		t.Fatalf("RenamePasskey failed: %v", err)
	}
	creds, _ := te.engine.ListPasskeys(ctx, sess)
	if len(creds) != 1 || creds[0].Name != "yubikey" {
		t.Fatalf("rename not applied: %+v", creds)
	}

	if err := te.engine.DeletePasskey(ctx, sess, cred.ID); err != nil {
		t.Fatalf("DeletePasskey failed: %v", err)
	}
	if err := te.engine.DeletePasskey(ctx, sess, cred.ID); !errors.Is(err, ErrPasskeyNotFound) {
		t.Fatalf("expected ErrPasskeyNotFound on second delete, got %v", err)
	}
	if err := te.engine.RenamePasskey(ctx, sess, cred.ID, "gone"); !errors.Is(err, ErrPasskeyNotFound) {
		t.Fatalf("expected ErrPasskeyNotFound for rename of missing row, got %v", err)
	}
}
