package nexusterminal

import (
	"context"
	"errors"
	"testing"
)

func TestChangePasswordSuccess(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "original-password", "")

	sess, _, err := te.login(t, "203.0.113.7", "admin", "original-password")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	if err := te.engine.ChangePassword(ctx, sess, "original-password", "replacement-password"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, _, err := te.login(t, "203.0.113.7", "admin", "original-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("old password must stop working")
	}
	if _, _, err := te.login(t, "203.0.113.7", "admin", "replacement-password"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}

func TestChangePasswordWrongCurrentDoesNotMutateOrCountAgainstLedger(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "original-password", "")

	sess, _, err := te.login(t, "203.0.113.7", "admin", "original-password")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	ctx := WithClientIP(context.Background(), "203.0.113.7")
	before := ledgerAttempts(t, te, "203.0.113.7")

	if err := te.engine.ChangePassword(ctx, sess, "not-the-password", "replacement-password"); !errors.Is(err, ErrCurrentPasswordIncorrect) {
		t.Fatalf("expected ErrCurrentPasswordIncorrect, got %v", err)
	}

	// Re-confirmation failures are not login attempts.
	if after := ledgerAttempts(t, te, "203.0.113.7"); after != before {
		t.Fatalf("ledger advanced on re-confirmation failure: %d -> %d", before, after)
	}

	// The stored hash is untouched.
	if _, _, err := te.login(t, "203.0.113.8", "admin", "original-password"); err != nil {
		t.Fatalf("original password must still verify: %v", err)
	}
}

func TestChangePasswordValidation(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "original-password", "")

	sess, _, err := te.login(t, "203.0.113.7", "admin", "original-password")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		name             string
		current, newPass string
		want             error
	}{
		{"missing current", "", "replacement-password", ErrMissingFields},
		{"missing new", "original-password", "", ErrMissingFields},
		{"too short", "original-password", "short", ErrPasswordPolicy},
		{"reuse", "original-password", "original-password", ErrPasswordReuse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := te.engine.ChangePassword(ctx, sess, tc.current, tc.newPass); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestChangePasswordRequiresAuthenticatedSession(t *testing.T) {
	te := newTestEngine(t, testConfig())
	te.addUser(t, "u1", "admin", "original-password", "")

	if err := te.engine.ChangePassword(context.Background(), emptySession(), "original-password", "replacement-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
