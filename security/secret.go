package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/authserver/storage"
)

var (
	// ErrUnknownHashVersion is returned when a stored hash uses an unsupported format.
	ErrUnknownHashVersion = errors.New("unknown password hash version")

	// ErrMalformedHash is returned when a stored argon2id hash cannot be decoded.
	ErrMalformedHash = errors.New("malformed password hash")
)

// PepperSource supplies the server-wide pepper.
type PepperSource interface {
	Pepper() ([]byte, error)
}

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultArgon2Params follows the OWASP minimum recommendation for argon2id.
var DefaultArgon2Params = Argon2Params{
	Time:    2,
	Memory:  19 * 1024,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

// Hasher hashes and verifies user passwords and client secrets.
type Hasher struct {
	pepper PepperSource
	params Argon2Params
}

// NewHasher creates a Hasher. A zero params value selects DefaultArgon2Params.
func NewHasher(pepper PepperSource, params Argon2Params) *Hasher {
	if params == (Argon2Params{}) {
		params = DefaultArgon2Params
	}
	return &Hasher{pepper: pepper, params: params}
}

// Hash produces a PasswordHash with the current hash version. The argon2id
// parameters and salt are encoded into Hash in the PHC string format, so a
// later change of parameters does not invalidate existing hashes.
func (h *Hasher) Hash(secret string) (storage.PasswordHash, error) {
	peppered, err := h.peppered(secret)
	if err != nil {
		return storage.PasswordHash{}, err
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return storage.PasswordHash{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(peppered, salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return storage.PasswordHash{
		Hash:    encodeArgon2id(h.params, salt, key),
		Version: storage.HashVersionArgon2id,
	}, nil
}

// Verify reports whether secret matches stored.
func (h *Hasher) Verify(secret string, stored storage.PasswordHash) (bool, error) {
	peppered, err := h.peppered(secret)
	if err != nil {
		return false, err
	}

	switch stored.Version {
	case storage.HashVersionArgon2id:
		params, salt, key, err := decodeArgon2id(stored.Hash)
		if err != nil {
			return false, err
		}
		computed := argon2.IDKey(peppered, salt, params.Time, params.Memory, params.Threads, params.KeyLen)
		return subtle.ConstantTimeCompare(computed, key) == 1, nil
	case storage.HashVersionBcrypt:
		err := bcrypt.CompareHashAndPassword(stored.Hash, bcryptInput(peppered))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to compare bcrypt hash: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrUnknownHashVersion, stored.Version)
	}
}

// NeedsRehash reports whether stored was produced by an older hash version
// or with parameters other than the hasher's.
func (h *Hasher) NeedsRehash(stored storage.PasswordHash) bool {
	if stored.Version != storage.HashVersionArgon2id {
		return true
	}
	params, _, _, err := decodeArgon2id(stored.Hash)
	if err != nil {
		return true
	}
	return params != h.params
}

func (h *Hasher) peppered(secret string) ([]byte, error) {
	pepper, err := h.pepper.Pepper()
	if err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(secret))
	return mac.Sum(nil), nil
}

// encodeArgon2id renders $argon2id$v=19$m=<KiB>,t=<time>,p=<threads>$<salt>$<key>.
func encodeArgon2id(p Argon2Params, salt, key []byte) []byte {
	return []byte(fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)))
}

func decodeArgon2id(encoded []byte) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params
	parts := strings.Split(string(encoded), "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported argon2 version", ErrMalformedHash)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	if p.Time == 0 || p.Threads == 0 {
		return p, nil, nil, fmt.Errorf("%w: zero cost parameter", ErrMalformedHash)
	}

	p.KeyLen = uint32(len(key))
	p.SaltLen = len(salt)
	return p, salt, key, nil
}

// bcrypt rejects inputs longer than 72 bytes and stops at NUL bytes, so the
// raw MAC is encoded first.
func bcryptInput(peppered []byte) []byte {
	return []byte(base64.RawStdEncoding.EncodeToString(peppered))
}
