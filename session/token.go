package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenManager signs and parses the session cookie value: a compact JWT
// whose only payload is the session id. Signing the id keeps forged or
// truncated cookies from ever reaching redis.
type TokenManager struct {
	secret             []byte
	lifetime           time.Duration
	rememberMeLifetime time.Duration
}

type sessionClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// NewTokenManager builds a TokenManager. The secret must be non-empty;
// lifetimes align with the store's TTLs.
func NewTokenManager(secret []byte, lifetime, rememberMeLifetime time.Duration) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session token secret must be at least 32 bytes")
	}
	if rememberMeLifetime < lifetime {
		rememberMeLifetime = lifetime
	}
	return &TokenManager{
		secret:             secret,
		lifetime:           lifetime,
		rememberMeLifetime: rememberMeLifetime,
	}, nil
}

// Issue creates a signed token for sid. Remember-me tokens carry the
// long-horizon expiry so the cookie can outlive the browser session.
func (m *TokenManager) Issue(sid string, rememberMe bool, now time.Time) (string, error) {
	ttl := m.lifetime
	if rememberMe {
		ttl = m.rememberMeLifetime
	}

	claims := sessionClaims{
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse validates the token signature and expiry and returns the
// session id.
func (m *TokenManager) Parse(token string) (string, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.SID == "" {
		return "", fmt.Errorf("invalid session token")
	}
	return claims.SID, nil
}
