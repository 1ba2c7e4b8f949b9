package storage

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClientNotFound is returned when no client matches the lookup.
	ErrClientNotFound = errors.New("client not found")

	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateID is returned when an insert collides on its primary key.
	// Callers treat it as a signal to draw a new id, never as a fatal error.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrAliasTaken is returned when a client alias is already registered.
	ErrAliasTaken = errors.New("client alias already taken")

	// ErrUsernameTaken is returned when a username is already registered.
	ErrUsernameTaken = errors.New("username already taken")
)

// ClientType distinguishes clients that can hold a secret from those that cannot.
type ClientType string

const (
	ClientTypeConfidential ClientType = "confidential"
	ClientTypePublic       ClientType = "public"
)

// HashVersion selects the algorithm a PasswordHash was produced with.
type HashVersion uint8

const (
	// HashVersionBcrypt is the legacy bcrypt format.
	HashVersionBcrypt HashVersion = 1
	// HashVersionArgon2id is the current format: an argon2id PHC string
	// carrying its own cost parameters and salt.
	HashVersionArgon2id HashVersion = 2
)

// PasswordHash is a stored secret digest. Every supported format embeds its
// salt in Hash.
type PasswordHash struct {
	Hash    []byte
	Version HashVersion
}

// Client is a registered application.
type Client struct {
	ID    uuid.UUID
	Alias string
	Type  ClientType

	// Secret is set if and only if Type is ClientTypeConfidential.
	Secret *PasswordHash

	// AllowedScopes and DefaultScopes are whitespace-delimited scope strings.
	// DefaultScopes is empty when the client has no default.
	AllowedScopes string
	DefaultScopes string

	RedirectURIs []string

	// Trusted clients may use the resource owner password grant.
	Trusted bool
}

// IsConfidential reports whether the client is a confidential client.
func (c *Client) IsConfidential() bool {
	return c.Type == ClientTypeConfidential
}

// HasSecret reports whether the client must authenticate with a secret.
func (c *Client) HasSecret() bool {
	return c.Secret != nil
}

// HasRedirectURI reports whether uri is registered for the client. The
// comparison is exact.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// User is a resource owner.
type User struct {
	ID       uuid.UUID
	Username string
	Password PasswordHash
}

// LoginAttempt is a failed authentication of a user or client secret.
// Subject is the username, or the client id for client secret failures.
type LoginAttempt struct {
	Subject   string
	IPAddress string
	Time      time.Time
}

// RevocationReason explains why a refresh token row was revoked.
type RevocationReason string

const (
	// RevocationReusedAuthorizationCode marks refresh tokens revoked because
	// their backing authorization code was redeemed twice.
	RevocationReusedAuthorizationCode RevocationReason = "reused_authorization_code"

	// RevocationNewRefreshToken marks refresh tokens consumed by use.
	RevocationNewRefreshToken RevocationReason = "new_refresh_token"
)
