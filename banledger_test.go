package nexusterminal

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

func newTestLedger(t *testing.T) (*banLedger, *testEngine) {
	t.Helper()
	te := newTestEngine(t, testConfig())
	return te.engine.ledger, te
}

func TestBanLedgerThreshold(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	ip := "203.0.113.10"

	for i := 0; i < 2; i++ {
		ledger.RecordFailedAttempt(ctx, ip)
		blocked, err := ledger.IsBlocked(ctx, ip)
		if err != nil {
			t.Fatalf("IsBlocked failed: %v", err)
		}
		if blocked {
			t.Fatalf("blocked after %d attempts, threshold is 3", i+1)
		}
	}

	ledger.RecordFailedAttempt(ctx, ip)
	blocked, err := ledger.IsBlocked(ctx, ip)
	if err != nil {
		t.Fatalf("IsBlocked failed: %v", err)
	}
	if !blocked {
		t.Fatal("expected block after crossing the threshold")
	}
}

func TestBanLedgerWindowExpires(t *testing.T) {
	ledger, te := newTestLedger(t)
	ctx := context.Background()
	ip := "203.0.113.11"

	for i := 0; i < 3; i++ {
		ledger.RecordFailedAttempt(ctx, ip)
	}
	if blocked, _ := ledger.IsBlocked(ctx, ip); !blocked {
		t.Fatal("expected active ban")
	}

	// Rewrite blocked_until into the past to simulate expiry.
	te.redis.HSet(ctx, ledger.entryKey(ip), "blocked_until", time.Now().Add(-time.Second).Unix())

	if blocked, _ := ledger.IsBlocked(ctx, ip); blocked {
		t.Fatal("expected ban to lift after the window elapses")
	}
}

func TestBanLedgerActiveWindowIsNotExtended(t *testing.T) {
	ledger, te := newTestLedger(t)
	ctx := context.Background()
	ip := "203.0.113.12"

	for i := 0; i < 3; i++ {
		ledger.RecordFailedAttempt(ctx, ip)
	}
	before, err := te.redis.HGet(ctx, ledger.entryKey(ip), "blocked_until").Result()
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}

	// Further failures while banned must not push the window out.
	ledger.RecordFailedAttempt(ctx, ip)
	ledger.RecordFailedAttempt(ctx, ip)

	after, err := te.redis.HGet(ctx, ledger.entryKey(ip), "blocked_until").Result()
	if err != nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if before != after {
		t.Fatalf("ban window extended: %s -> %s", before, after)
	}
}

func TestBanLedgerAllowlistNeverCounted(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ledger.RecordFailedAttempt(ctx, "127.0.0.1")
	}
	if blocked, _ := ledger.IsBlocked(ctx, "127.0.0.1"); blocked {
		t.Fatal("allowlisted address must never be blocked")
	}
	if n := ledgerAttemptsRaw(t, ledger, "127.0.0.1"); n != 0 {
		t.Fatalf("allowlisted address must not be counted, attempts=%d", n)
	}
}

func TestBanLedgerResetAttempts(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	ip := "203.0.113.13"

	for i := 0; i < 3; i++ {
		ledger.RecordFailedAttempt(ctx, ip)
	}
	ledger.ResetAttempts(ctx, ip)

	if blocked, _ := ledger.IsBlocked(ctx, ip); blocked {
		t.Fatal("expected reset to lift the ban")
	}
	bl, err := ledger.Blacklist(ctx, 50, 0)
	if err != nil {
		t.Fatalf("Blacklist failed: %v", err)
	}
	for _, e := range bl.Entries {
		if e.IP == ip {
			t.Fatal("expected reset entry to leave the index")
		}
	}
}

func TestBanLedgerSettingsOverrideDefaults(t *testing.T) {
	ledger, te := newTestLedger(t)
	ctx := context.Background()

	te.settings.Set(ctx, SettingMaxLoginAttempts, "2")
	te.settings.Set(ctx, SettingBanDuration, "120")

	ip := "203.0.113.14"
	ledger.RecordFailedAttempt(ctx, ip)
	if blocked, _ := ledger.IsBlocked(ctx, ip); blocked {
		t.Fatal("one attempt below the lowered threshold must not block")
	}
	ledger.RecordFailedAttempt(ctx, ip)
	if blocked, _ := ledger.IsBlocked(ctx, ip); !blocked {
		t.Fatal("expected block at the lowered threshold")
	}
}

func TestBanLedgerUnparseableSettingsFallBack(t *testing.T) {
	ledger, te := newTestLedger(t)
	ctx := context.Background()

	te.settings.Set(ctx, SettingMaxLoginAttempts, "banana")
	te.settings.Set(ctx, SettingBanDuration, "-5")

	maxAttempts, duration := ledger.resolveLimits(ctx)
	if maxAttempts != 3 || duration != 60*time.Second {
		t.Fatalf("expected compiled-in fallbacks, got %d/%s", maxAttempts, duration)
	}
}

func TestBanLedgerBlacklistPagination(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ip := "198.51.100." + strconv.Itoa(i)
		ledger.RecordFailedAttempt(ctx, ip)
	}

	page, err := ledger.Blacklist(ctx, 2, 0)
	if err != nil {
		t.Fatalf("Blacklist failed: %v", err)
	}
	if page.Total != 5 || len(page.Entries) != 2 {
		t.Fatalf("unexpected first page: total=%d len=%d", page.Total, len(page.Entries))
	}

	rest, err := ledger.Blacklist(ctx, 50, 2)
	if err != nil {
		t.Fatalf("Blacklist failed: %v", err)
	}
	if len(rest.Entries) != 3 {
		t.Fatalf("unexpected second page size: %d", len(rest.Entries))
	}
}

func TestBanLedgerFailOpenOnBackendFailure(t *testing.T) {
	ledger, te := newTestLedger(t)
	ctx := context.Background()
	ip := "203.0.113.15"

	for i := 0; i < 3; i++ {
		ledger.RecordFailedAttempt(ctx, ip)
	}
	te.mini.Close()

	blocked, err := ledger.IsBlocked(ctx, ip)
	if err == nil {
		t.Fatal("expected backend error after redis went away")
	}
	if blocked {
		t.Fatal("fail-open: blocked must be false when the backend errors")
	}
	if !errors.Is(err, errBanBackend) {
		t.Fatalf("expected errBanBackend, got %v", err)
	}

	// The degraded blacklist view is an empty page plus the error.
	bl, err := ledger.Blacklist(ctx, 50, 0)
	if err == nil {
		t.Fatal("expected error from degraded blacklist read")
	}
	if bl == nil || len(bl.Entries) != 0 {
		t.Fatalf("expected empty degraded page, got %+v", bl)
	}
}

func TestBanLedgerUnban(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	ip := "203.0.113.16"

	for i := 0; i < 3; i++ {
		ledger.RecordFailedAttempt(ctx, ip)
	}

	removed, err := ledger.Unban(ctx, ip)
	if err != nil {
		t.Fatalf("Unban failed: %v", err)
	}
	if !removed {
		t.Fatal("expected a row to be removed")
	}
	if blocked, _ := ledger.IsBlocked(ctx, ip); blocked {
		t.Fatal("expected unban to lift the block")
	}

	removed, err = ledger.Unban(ctx, ip)
	if err != nil {
		t.Fatalf("second Unban failed: %v", err)
	}
	if removed {
		t.Fatal("expected no row on second unban")
	}
}

func TestBanStartNotifiesOncePerWindow(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	ip := "203.0.113.17"

	var fired int
	ledger.onBan = func(context.Context, IPBanEntry, int, time.Duration) {
		fired++
	}

	for i := 0; i < 6; i++ {
		ledger.RecordFailedAttempt(ctx, ip)
	}
	if fired != 1 {
		t.Fatalf("expected exactly one ban notification, got %d", fired)
	}
}

func ledgerAttemptsRaw(t *testing.T, ledger *banLedger, ip string) int64 {
	t.Helper()
	fields, err := ledger.redis.HGetAll(context.Background(), ledger.entryKey(ip)).Result()
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	return parseIntField(fields, "attempts")
}
