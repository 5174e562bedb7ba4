package nexusterminal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const banLedgerRetries = 4

var errBanBackend = errors.New("ban ledger backend unavailable")

// banLedger is the per-IP failed-attempt counter and timed-lockout
// store. One redis hash per IP plus a sorted-set index ordered by last
// attempt for the admin blacklist view.
//
// Read operations are fail-open by policy: a backend failure yields the
// safe default (not blocked, empty page) together with the error, and
// the caller decides to allow. The ledger must never become the single
// point of failure for legitimate logins.
type banLedger struct {
	redis    *redis.Client
	settings SettingsStore
	defaults SecurityConfig
	prefix   string

	// onBan fires once per new ban window, never for failures recorded
	// while a ban is already active.
	onBan func(ctx context.Context, entry IPBanEntry, maxAttempts int, duration time.Duration)
}

func newBanLedger(redisClient *redis.Client, settings SettingsStore, defaults SecurityConfig, prefix string) *banLedger {
	if prefix == "" {
		prefix = "ntban"
	}
	return &banLedger{
		redis:    redisClient,
		settings: settings,
		defaults: defaults,
		prefix:   prefix,
	}
}

func (l *banLedger) entryKey(ip string) string {
	return l.prefix + ":entry:" + ip
}

func (l *banLedger) indexKey() string {
	return l.prefix + ":index"
}

// IsBlocked reports whether ip has an active ban window. The boolean is
// authoritative only when err is nil; on backend failure it is always
// false and the caller applies the documented allow policy.
func (l *banLedger) IsBlocked(ctx context.Context, ip string) (bool, error) {
	raw, err := l.redis.HGet(ctx, l.entryKey(ip), "blocked_until").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", errBanBackend, err)
	}

	until, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || until <= 0 {
		return false, nil
	}
	return time.Now().Unix() < until, nil
}

// RecordFailedAttempt increments the counter for ip and opens a ban
// window when the threshold is crossed. Addresses on the local
// allowlist are never counted. Backend failures are logged and
// swallowed: failing to record an attempt is less harmful than
// crashing the login flow.
func (l *banLedger) RecordFailedAttempt(ctx context.Context, ip string) {
	if ip == "" || l.isAllowlisted(ip) {
		return
	}

	maxAttempts, banDuration := l.resolveLimits(ctx)
	key := l.entryKey(ip)
	now := time.Now()

	for i := 0; i < banLedgerRetries; i++ {
		var banned *IPBanEntry
		err := l.redis.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			attempts := parseIntField(fields, "attempts") + 1
			blockedUntil := parseIntField(fields, "blocked_until")
			banActive := blockedUntil > 0 && now.Unix() < blockedUntil

			// An active window is never extended by further failures;
			// only a fresh cycle after expiry opens a new one.
			startBan := attempts >= int64(maxAttempts) && !banActive
			if startBan {
				blockedUntil = now.Add(banDuration).Unix()
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key,
					"attempts", attempts,
					"last_attempt", now.Unix(),
					"blocked_until", blockedUntil,
				)
				pipe.ZAdd(ctx, l.indexKey(), redis.Z{Score: float64(now.Unix()), Member: ip})
				return nil
			})
			if err != nil {
				return err
			}

			if startBan {
				until := time.Unix(blockedUntil, 0)
				banned = &IPBanEntry{
					IP:            ip,
					Attempts:      attempts,
					LastAttemptAt: now,
					BlockedUntil:  &until,
				}
			}
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			log.Print("nexusterminal: ban ledger record failed")
			return
		}
		if banned != nil && l.onBan != nil {
			l.onBan(ctx, *banned, maxAttempts, banDuration)
		}
		return
	}

	// Every retry lost its CAS race; the attempt goes unrecorded, same
	// policy as a backend failure.
	log.Print("nexusterminal: ban ledger contention, attempt not recorded")
}

// ResetAttempts deletes the entry outright after a fully successful
// authentication. Backend failures are logged and swallowed.
func (l *banLedger) ResetAttempts(ctx context.Context, ip string) {
	if ip == "" {
		return
	}
	pipe := l.redis.Pipeline()
	pipe.Del(ctx, l.entryKey(ip))
	pipe.ZRem(ctx, l.indexKey(), ip)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Print("nexusterminal: ban ledger reset failed")
	}
}

// Unban is the explicit operator action. It reports whether a row was
// actually removed.
func (l *banLedger) Unban(ctx context.Context, ip string) (bool, error) {
	n, err := l.redis.Del(ctx, l.entryKey(ip)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errBanBackend, err)
	}
	if err := l.redis.ZRem(ctx, l.indexKey(), ip).Err(); err != nil {
		return n > 0, fmt.Errorf("%w: %v", errBanBackend, err)
	}
	return n > 0, nil
}

// Blacklist returns one page of entries ordered by most recent attempt.
// On backend failure it degrades to an empty page and returns the error
// for the caller to log.
func (l *banLedger) Blacklist(ctx context.Context, limit, offset int64) (*Blacklist, error) {
	empty := &Blacklist{Entries: []IPBanEntry{}}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	total, err := l.redis.ZCard(ctx, l.indexKey()).Result()
	if err != nil {
		return empty, fmt.Errorf("%w: %v", errBanBackend, err)
	}

	ips, err := l.redis.ZRevRange(ctx, l.indexKey(), offset, offset+limit-1).Result()
	if err != nil {
		return empty, fmt.Errorf("%w: %v", errBanBackend, err)
	}

	entries := make([]IPBanEntry, 0, len(ips))
	for _, ip := range ips {
		fields, err := l.redis.HGetAll(ctx, l.entryKey(ip)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		entries = append(entries, entryFromFields(ip, fields))
	}

	return &Blacklist{Entries: entries, Total: total}, nil
}

func (l *banLedger) isAllowlisted(ip string) bool {
	for _, a := range l.defaults.LocalAllowlist {
		if ip == a {
			return true
		}
	}
	return false
}

// resolveLimits reads the runtime threshold and ban duration from the
// settings store. Missing keys or unparseable values fall back to the
// compiled-in defaults and never fail the caller.
func (l *banLedger) resolveLimits(ctx context.Context) (int, time.Duration) {
	maxAttempts := l.defaults.MaxLoginAttempts
	banDuration := l.defaults.BanDuration

	if l.settings == nil {
		return maxAttempts, banDuration
	}

	if raw, err := l.settings.Get(ctx, SettingMaxLoginAttempts); err == nil {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			maxAttempts = v
		}
	}
	if raw, err := l.settings.Get(ctx, SettingBanDuration); err == nil {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			banDuration = time.Duration(v) * time.Second
		}
	}

	return maxAttempts, banDuration
}

func parseIntField(fields map[string]string, name string) int64 {
	v, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func entryFromFields(ip string, fields map[string]string) IPBanEntry {
	entry := IPBanEntry{
		IP:            ip,
		Attempts:      parseIntField(fields, "attempts"),
		LastAttemptAt: time.Unix(parseIntField(fields, "last_attempt"), 0),
	}
	if until := parseIntField(fields, "blocked_until"); until > 0 {
		t := time.Unix(until, 0)
		entry.BlockedUntil = &t
	}
	return entry
}
