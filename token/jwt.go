package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var signingMethod = jwt.SigningMethodHS256

// Sign serializes c into a compact signed token.
func (m *Manager) Sign(c *Claims) (string, error) {
	key, err := m.keys.SigningKey()
	if err != nil {
		return "", fmt.Errorf("failed to load signing key: %w", err)
	}
	signed, err := jwt.NewWithClaims(signingMethod, c).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse checks the signature of raw and decodes its claims. No claim is
// validated; use Verify.
func (m *Manager) Parse(raw string) (*Claims, error) {
	key, err := m.keys.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	c := &Claims{}
	_, err = jwt.ParseWithClaims(raw, c,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, ErrInvalidSignature
	default:
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}

// Verify parses raw and runs the checks common to every token kind, in
// order: signature, issuer, client (when expectedClient is valid), issuer in
// audience, expiry, not-before and kind.
func (m *Manager) Verify(raw, issuer string, expectedClient uuid.NullUUID, kind Kind) (*Claims, error) {
	c, err := m.Parse(raw)
	if err != nil {
		return nil, err
	}

	if c.Issuer != issuer {
		return nil, ErrIncorrectIssuer
	}
	if expectedClient.Valid && c.ClientID != expectedClient.UUID {
		return nil, ErrWrongClient
	}
	if !c.HasAudience(issuer) {
		return nil, ErrBadAudience
	}

	now := m.now()
	if c.ExpiresAt == nil || now.After(c.ExpiresAt.Time) {
		return nil, ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return nil, ErrNotYetValid
	}

	if c.Kind != kind {
		return nil, ErrWrongKind
	}
	return c, nil
}
