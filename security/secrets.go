package security

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

const (
	// EnvSigningKey holds the hex-encoded token signing key.
	EnvSigningKey = "AUTHSERVER_SIGNING_KEY" //nolint:gosec // variable name, not a credential

	// EnvSecretPepper holds the hex-encoded hashing pepper.
	EnvSecretPepper = "AUTHSERVER_SECRET_PEPPER" //nolint:gosec // variable name, not a credential

	// MinSigningKeyLength is the minimum signing key length in bytes.
	MinSigningKeyLength = 32

	// MinPepperLength is the minimum pepper length in bytes.
	MinPepperLength = 16
)

// ErrSecretMissing is returned when a required secret is not configured.
var ErrSecretMissing = errors.New("secret not configured")

// EnvSecrets reads the signing key and pepper from environment variables.
//
// With reloadOnRead set, every call re-reads the environment so that secrets
// can be rotated without a restart. Otherwise the first successful read is
// cached for the lifetime of the process.
type EnvSecrets struct {
	getenv       func(string) string
	reloadOnRead bool

	mu         sync.RWMutex
	signingKey []byte
	pepper     []byte
}

// NewEnvSecrets creates an EnvSecrets reading from the process environment.
func NewEnvSecrets(reloadOnRead bool) *EnvSecrets {
	return NewEnvSecretsWithLookup(os.Getenv, reloadOnRead)
}

// NewEnvSecretsWithLookup creates an EnvSecrets reading through getenv.
func NewEnvSecretsWithLookup(getenv func(string) string, reloadOnRead bool) *EnvSecrets {
	return &EnvSecrets{getenv: getenv, reloadOnRead: reloadOnRead}
}

// SigningKey returns the token signing key.
func (s *EnvSecrets) SigningKey() ([]byte, error) {
	return s.load(EnvSigningKey, MinSigningKeyLength, &s.signingKey)
}

// Pepper returns the hashing pepper.
func (s *EnvSecrets) Pepper() ([]byte, error) {
	return s.load(EnvSecretPepper, MinPepperLength, &s.pepper)
}

func (s *EnvSecrets) load(name string, minLen int, cached *[]byte) ([]byte, error) {
	if !s.reloadOnRead {
		s.mu.RLock()
		v := *cached
		s.mu.RUnlock()
		if v != nil {
			return v, nil
		}
	}

	v, err := decodeSecret(name, s.getenv(name), minLen)
	if err != nil {
		return nil, err
	}

	if !s.reloadOnRead {
		s.mu.Lock()
		*cached = v
		s.mu.Unlock()
	}
	return v, nil
}

func decodeSecret(name, raw string, minLen int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s", ErrSecretMissing, name)
	}
	v, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex encoded: %w", name, err)
	}
	if len(v) < minLen {
		return nil, fmt.Errorf("%s must be at least %d bytes, got %d", name, minLen, len(v))
	}
	return v, nil
}

// StaticSecrets serves fixed secrets. Useful for tests and embedding.
type StaticSecrets struct {
	Key         []byte
	PepperBytes []byte
}

// SigningKey returns the configured signing key.
func (s StaticSecrets) SigningKey() ([]byte, error) {
	if len(s.Key) == 0 {
		return nil, fmt.Errorf("%w: signing key", ErrSecretMissing)
	}
	return s.Key, nil
}

// Pepper returns the configured pepper.
func (s StaticSecrets) Pepper() ([]byte, error) {
	if len(s.PepperBytes) == 0 {
		return nil, fmt.Errorf("%w: pepper", ErrSecretMissing)
	}
	return s.PepperBytes, nil
}
