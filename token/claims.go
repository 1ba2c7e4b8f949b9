package token

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes the three credential types sharing the Claims shape.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindAccess        Kind = "access"
	KindRefresh       Kind = "refresh"
)

// Claims is the signed payload of every credential.
//
// Subject is the resource owner id, or the client id itself for tokens
// obtained with the client credentials grant. Audience always contains the
// issuer and the client id.
type Claims struct {
	jwt.RegisteredClaims

	Scope    string    `json:"scope,omitempty"`
	ClientID uuid.UUID `json:"client_id"`

	// AuthCodeID links access and refresh tokens to the authorization code
	// they were obtained with. Nil for the password and client credentials
	// grants.
	AuthCodeID *uuid.UUID `json:"auth_code_id,omitempty"`

	// RedirectURI is only set on authorization codes.
	RedirectURI string `json:"redirect_uri,omitempty"`

	Kind Kind `json:"token_type"`
}

// JTI returns the token id.
func (c *Claims) JTI() (uuid.UUID, error) {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid token id", ErrMalformed)
	}
	return id, nil
}

// BackingCode returns AuthCodeID in the form storage expects.
func (c *Claims) BackingCode() uuid.NullUUID {
	if c.AuthCodeID == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *c.AuthCodeID, Valid: true}
}

// HasAudience reports whether aud is one of the token's audiences.
func (c *Claims) HasAudience(aud string) bool {
	return slices.Contains(c.Audience, aud)
}

// ExpiresIn returns the time left until expiry, never negative.
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return max(c.ExpiresAt.Sub(now), 0)
}
