package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"

	"github.com/goldilocks/identity/internal/config"
)

const (
	argon2Variant = "argon2id"
	saltLength    = 16
	keyLength     = 32
)

// ValidationError reports a password that fails the local policy. It carries
// field-level detail so the caller can surface it as a 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Store hashes and verifies passwords. It never touches storage or logs and
// never retains a plaintext beyond the call.
type Store struct {
	config *config.AuthConfig

	// dummy is a hash of a throwaway password, verified against when the
	// account does not exist so lookup misses cost the same as mismatches.
	dummy string
}

func NewStore(config *config.AuthConfig) *Store {
	s := &Store{config: config}
	dummy, err := s.hash("not-a-real-password")
	if err != nil {
		// Hashing a constant only fails if the entropy source is broken,
		// in which case nothing else works either.
		panic(err)
	}
	s.dummy = dummy
	return s
}

// Hash validates password against the policy and returns an encoded argon2id
// hash of the form $argon2id$v=19$m=...,t=...,p=...$salt$hash. The encoding
// self-describes its parameters so stored values survive policy changes.
func (s *Store) Hash(password string) (string, error) {
	if err := s.checkPolicy(password); err != nil {
		return "", err
	}
	return s.hash(password)
}

func (s *Store) hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, s.time(), s.memory(), s.threads(), keyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Variant,
		argon2.Version,
		s.memory(), s.time(), s.threads(),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches the encoded hash. Malformed stored
// values verify as false rather than erroring, so a corrupt row reads as a
// failed login instead of a crash.
func (s *Store) Verify(password, encoded string) bool {
	params, salt, key, err := decode(encoded)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1
}

// VerifyDummy burns the same CPU cost as a real verification. Called when the
// submitted identifier matches no account, to flatten the timing difference.
func (s *Store) VerifyDummy(password string) {
	s.Verify(password, s.dummy)
}

// NeedsRehash reports whether the stored hash was produced with parameters
// weaker than or different from the current configuration. Callers rehash on
// the next successful login.
func (s *Store) NeedsRehash(encoded string) bool {
	params, _, _, err := decode(encoded)
	if err != nil {
		return true
	}
	return params.time != s.time() || params.memory != s.memory() || params.threads != s.threads()
}

func (s *Store) checkPolicy(password string) error {
	min := s.config.MinPasswordLength
	if min <= 0 {
		min = 8
	}
	if len(password) < min {
		return &ValidationError{
			Field:  "password",
			Reason: fmt.Sprintf("must be at least %d characters", min),
		}
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return &ValidationError{
			Field:  "password",
			Reason: "must contain at least one letter and one digit",
		}
	}

	return nil
}

func (s *Store) time() uint32 {
	if s.config.Argon2Time == 0 {
		return 2
	}
	return s.config.Argon2Time
}

func (s *Store) memory() uint32 {
	if s.config.Argon2MemoryKiB == 0 {
		return 64 * 1024
	}
	return s.config.Argon2MemoryKiB
}

func (s *Store) threads() uint8 {
	if s.config.Argon2Threads == 0 {
		return 2
	}
	return s.config.Argon2Threads
}

type hashParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

func decode(encoded string) (hashParams, []byte, []byte, error) {
	var params hashParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return params, nil, nil, errors.New("malformed hash")
	}
	if parts[1] != argon2Variant {
		return params, nil, nil, fmt.Errorf("unsupported algorithm %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, errors.New("malformed version")
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return params, nil, nil, errors.New("malformed parameters")
	}
	if params.memory == 0 || params.time == 0 || params.threads == 0 {
		return params, nil, nil, errors.New("invalid parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, errors.New("malformed salt")
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, errors.New("malformed key")
	}

	return params, salt, key, nil
}
