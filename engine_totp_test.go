package nexusterminal

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wwng2333/nexus-terminal-sub003/session"
)

func loggedInSession(t *testing.T, te *testEngine) *session.Context {
	t.Helper()
	sess, _, err := te.login(t, "203.0.113.7", "admin", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return sess
}

func TestSetup2FAStagesSecretWithoutPersisting(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "correct-horse-battery", "")
	sess := loggedInSession(t, te)

	setup, err := te.engine.Setup2FA(context.Background(), sess)
	if err != nil {
		t.Fatalf("Setup2FA failed: %v", err)
	}
	if setup.Secret == "" || sess.TempTOTPSecret != setup.Secret {
		t.Fatal("expected secret staged in the session")
	}
	if !strings.HasPrefix(setup.QRCodeURL, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning uri: %s", setup.QRCodeURL)
	}

	// Nothing persisted until activation.
	user, err := te.users.GetUserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if user.TOTPSecret != "" {
		t.Fatal("secret must not be stored before activation")
	}
}

func TestVerifyAndActivate2FA(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "correct-horse-battery", "")
	sess := loggedInSession(t, te)
	ctx := context.Background()

	setup, err := te.engine.Setup2FA(ctx, sess)
	if err != nil {
		t.Fatalf("Setup2FA failed: %v", err)
	}

	// Wrong code: stage stays intact for a retry.
	if err := te.engine.VerifyAndActivate2FA(ctx, sess, "000000"); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("expected ErrTOTPInvalid, got %v", err)
	}
	if sess.TempTOTPSecret == "" {
		t.Fatal("staged secret must survive a failed activation attempt")
	}

	code := codeForOffset(t, te.engine.totp, setup.Secret, 0)
	if err := te.engine.VerifyAndActivate2FA(ctx, sess, code); err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	if sess.TempTOTPSecret != "" {
		t.Fatal("stage must be cleared after activation")
	}

	user, _ := te.users.GetUserByID(ctx, "u1")
	if user.TOTPSecret != setup.Secret {
		t.Fatal("activated secret must be persisted")
	}
}

func TestVerifyAndActivate2FAWithoutSetup(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "correct-horse-battery", "")
	sess := loggedInSession(t, te)

	if err := te.engine.VerifyAndActivate2FA(context.Background(), sess, "123456"); !errors.Is(err, ErrTOTPSetupNotStarted) {
		t.Fatalf("expected ErrTOTPSetupNotStarted, got %v", err)
	}
}

func TestSetup2FARejectedWhenAlreadyEnabled(t *testing.T) {
	te := newTestEngine(t, testConfig())
	secret, _ := newTOTPManager(testConfig().TOTP).GenerateSecret()
	te.addUser(t, "u1", "admin", "correct-horse-battery", secret)

	sess := &session.Context{UserID: "u1", Username: "admin"}
	if _, err := te.engine.Setup2FA(context.Background(), sess); !errors.Is(err, ErrTOTPAlreadyEnabled) {
		t.Fatalf("expected ErrTOTPAlreadyEnabled, got %v", err)
	}
}

func TestDisable2FA(t *testing.T) {
	te := newTestEngine(t, testConfig())
	secret, _ := newTOTPManager(testConfig().TOTP).GenerateSecret()
	te.addUser(t, "u1", "admin", "correct-horse-battery", secret)
	sess := &session.Context{UserID: "u1", Username: "admin"}
	ctx := context.Background()

	// Wrong password re-confirmation.
	if err := te.engine.Disable2FA(ctx, sess, "wrong"); !errors.Is(err, ErrCurrentPasswordIncorrect) {
		t.Fatalf("expected ErrCurrentPasswordIncorrect, got %v", err)
	}
	user, _ := te.users.GetUserByID(ctx, "u1")
	if user.TOTPSecret == "" {
		t.Fatal("failed re-confirmation must not clear the secret")
	}

	if err := te.engine.Disable2FA(ctx, sess, "correct-horse-battery"); err != nil {
		t.Fatalf("Disable2FA failed: %v", err)
	}
	user, _ = te.users.GetUserByID(ctx, "u1")
	if user.TOTPSecret != "" {
		t.Fatal("expected secret cleared")
	}

	// Disabling again: nothing configured.
	if err := te.engine.Disable2FA(ctx, sess, "correct-horse-battery"); !errors.Is(err, ErrTOTPNotConfigured) {
		t.Fatalf("expected ErrTOTPNotConfigured, got %v", err)
	}
}
