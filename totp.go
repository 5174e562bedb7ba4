package nexusterminal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

// codeModulus maps the configured code length to its decimal modulus.
// Config.Validate bounds Digits to this range.
var codeModulus = map[int]int{6: 1_000_000, 7: 10_000_000, 8: 100_000_000}

// totpManager generates and verifies RFC 6238 codes. Secrets are
// handled in their stored form: base32 without padding.
type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &totpManager{config: cfg}
}

// GenerateSecret returns a fresh base32-encoded shared secret.
func (m *totpManager) GenerateSecret() (string, error) {
	if m == nil {
		return "", ErrEngineNotReady
	}
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI authenticator apps scan.
func (m *totpManager) ProvisionURI(secretBase32, account string) string {
	issuer := m.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", strings.ToUpper(m.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode checks code against the secret, accepting Skew time steps
// of drift in either direction. A malformed code is a plain mismatch; a
// malformed secret is an error, because stored secrets are generated by
// this package and must always decode.
func (m *totpManager) VerifyCode(secretBase32, code string, now time.Time) (bool, error) {
	if m == nil {
		return false, ErrEngineNotReady
	}

	submitted := strings.TrimSpace(code)
	if len(submitted) != m.config.Digits {
		return false, nil
	}
	for _, r := range submitted {
		if r < '0' || r > '9' {
			return false, nil
		}
	}

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secretBase32))
	if err != nil || len(secret) == 0 {
		return false, errors.New("malformed totp secret")
	}

	step := now.Unix() / int64(m.config.Period)
	for drift := -m.config.Skew; drift <= m.config.Skew; drift++ {
		counter := step + int64(drift)
		if counter < 0 {
			continue
		}
		expected, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) == 1 {
			return true, nil
		}
	}

	return false, nil
}

// hotpCode derives one RFC 4226 code for a counter value.
func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	hf, err := hashFor(algorithm)
	if err != nil {
		return "", err
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation, RFC 4226 §5.3.
	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod, ok := codeModulus[digits]
	if !ok {
		return "", fmt.Errorf("unsupported code length %d", digits)
	}
	return fmt.Sprintf("%0*d", digits, int(truncated)%mod), nil
}

func hashFor(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}
