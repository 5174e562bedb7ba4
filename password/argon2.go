// Package password provides Argon2id hashing for console accounts with
// PHC-formatted output and constant-time verification.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var errInvalidHash = errors.New("invalid password hash format")

// Config holds the Argon2id cost parameters.
type Config struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords with fixed parameters. Hashes
// embed their own parameters, so verification works across parameter
// changes and NeedsUpgrade detects stale ones.
type Hasher struct {
	config Config
}

// New validates cfg and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	if cfg.Memory < minMemoryKB {
		return nil, errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < 1 {
		return nil, errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < 1 {
		return nil, errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return nil, errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return nil, errors.New("password key length must be >= 16")
	}
	return &Hasher{config: cfg}, nil
}

// Hash derives a PHC-encoded hash from password with a fresh salt.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash. The comparison
// is constant-time over the derived key.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	memory, timeCost, parallelism, salt, key, err := decode(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, timeCost, memory, parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the Hasher currently runs with.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	memory, timeCost, parallelism, _, key, err := decode(encodedHash)
	if err != nil {
		return false, err
	}
	if h.config.Memory > memory || h.config.Time > timeCost || h.config.Parallelism > parallelism {
		return true, nil
	}
	return h.config.KeyLength != uint32(len(key)), nil
}

func decode(encodedHash string) (memory, timeCost uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		err = errInvalidHash
		return
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		err = errInvalidHash
		return
	}
	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &parallelism); err != nil {
		err = errInvalidHash
		return
	}
	if memory < minMemoryKB || timeCost < 1 || parallelism < 1 {
		err = errInvalidHash
		return
	}

	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || uint32(len(salt)) < minSaltLength {
		err = errInvalidHash
		return
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(key) == 0 {
		err = errInvalidHash
		return
	}
	return
}
