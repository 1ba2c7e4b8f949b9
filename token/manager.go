package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/authserver/storage"
)

const (
	// AuthCodeTTL is the lifetime of an authorization code.
	AuthCodeTTL = 5 * time.Minute

	// RefreshGrace is how much longer a refresh token lives than the token
	// it was derived from.
	RefreshGrace = 24 * time.Hour
)

// KeySource supplies the signing key. It is consulted on every sign and
// verify so the key can be rotated.
type KeySource interface {
	SigningKey() ([]byte, error)
}

// Manager issues and verifies credentials.
type Manager struct {
	store  storage.TokenStore
	keys   KeySource
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager persisting token rows in store.
func NewManager(store storage.TokenStore, keys KeySource, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		keys:   keys,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) newClaims(kind Kind, issuer string, clientID uuid.UUID, subject, scope string, expiresAt time.Time) *Claims {
	now := m.now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{issuer, clientID.String()},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Scope:    scope,
		ClientID: clientID,
		Kind:     kind,
	}
}

// IssueAuthCode issues an authorization code bound to redirectURI.
func (m *Manager) IssueAuthCode(ctx context.Context, issuer string, clientID uuid.UUID, subject, scope, redirectURI string) (*Claims, error) {
	c := m.newClaims(KindAuthorization, issuer, clientID, subject, scope, m.now().Add(AuthCodeTTL))
	c.RedirectURI = redirectURI

	jti, err := storage.InsertWithUniqueID(ctx, m.store.AuthCodeExists, func(ctx context.Context, id uuid.UUID) error {
		return m.store.CreateAuthCode(ctx, id, c.ExpiresAt.Time)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store authorization code: %w", err)
	}
	c.ID = jti.String()
	return c, nil
}

// IssueAccessToken issues an access token valid for duration. authCode links
// the token to the authorization code it was obtained with and may be nil.
func (m *Manager) IssueAccessToken(ctx context.Context, issuer string, clientID uuid.UUID, subject, scope string, duration time.Duration, authCode *uuid.UUID) (*Claims, error) {
	c := m.newClaims(KindAccess, issuer, clientID, subject, scope, m.now().Add(duration))
	c.AuthCodeID = authCode

	jti, err := storage.InsertWithUniqueID(ctx, m.store.AccessTokenExists, func(ctx context.Context, id uuid.UUID) error {
		return m.store.CreateAccessToken(ctx, id, c.BackingCode(), c.ExpiresAt.Time)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}
	c.ID = jti.String()
	return c, nil
}

// IssueRefreshToken issues a refresh token derived from from. It carries the
// same subject, scope, audience and backing code and outlives from by
// RefreshGrace.
func (m *Manager) IssueRefreshToken(ctx context.Context, from *Claims) (*Claims, error) {
	if from.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: source token has no expiry", ErrMalformed)
	}

	c := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    from.Issuer,
			Subject:   from.Subject,
			Audience:  append(jwt.ClaimStrings(nil), from.Audience...),
			ExpiresAt: jwt.NewNumericDate(from.ExpiresAt.Add(RefreshGrace)),
			IssuedAt:  jwt.NewNumericDate(m.now()),
		},
		Scope:      from.Scope,
		ClientID:   from.ClientID,
		AuthCodeID: from.AuthCodeID,
		Kind:       KindRefresh,
	}

	jti, err := storage.InsertWithUniqueID(ctx, m.store.RefreshTokenExists, func(ctx context.Context, id uuid.UUID) error {
		return m.store.CreateRefreshToken(ctx, id, c.BackingCode(), c.ExpiresAt.Time)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	c.ID = jti.String()
	return c, nil
}

// IssuePair issues an access token and a refresh token derived from it.
// When authCode is set and a replay of that code has been recorded, the new
// tokens are revoked again and a *ReplayError is returned.
func (m *Manager) IssuePair(ctx context.Context, issuer string, clientID uuid.UUID, subject, scope string, duration time.Duration, authCode *uuid.UUID) (access, refresh *Claims, err error) {
	access, err = m.IssueAccessToken(ctx, issuer, clientID, subject, scope, duration, authCode)
	if err != nil {
		return nil, nil, err
	}
	refresh, err = m.IssueRefreshToken(ctx, access)
	if err != nil {
		return nil, nil, err
	}
	if authCode != nil {
		if err := m.revokeIfReplayed(ctx, *authCode); err != nil {
			return nil, nil, err
		}
	}
	return access, refresh, nil
}

// revokeIfReplayed must run after the tokens backed by code are stored. A
// replay marks the code before it cascades, so either the cascade sees the
// new rows or this check sees the marker.
func (m *Manager) revokeIfReplayed(ctx context.Context, code uuid.UUID) error {
	replayed, err := m.store.AuthCodeReplayed(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to look up replay marker: %w", err)
	}
	if !replayed {
		return nil
	}
	replay, err := m.revokeIssuedFrom(ctx, code)
	if err != nil {
		return err
	}
	m.logger.Warn("Revoked tokens issued from a replayed authorization code",
		"access_tokens_revoked", replay.AccessTokensRevoked,
		"refresh_tokens_revoked", replay.RefreshTokensRevoked)
	return replay
}

// RotateRefresh consumes old and issues a new access and refresh token pair
// carrying scope, which must already have been checked against old.Scope.
// The old row is kept, revoked with RevocationNewRefreshToken.
//
// Consumption happens first so that of two concurrent rotations of the same
// token only one can succeed.
func (m *Manager) RotateRefresh(ctx context.Context, old *Claims, scope string, duration time.Duration) (access, refresh *Claims, err error) {
	if err := m.ConsumeRefreshToken(ctx, old); err != nil {
		return nil, nil, err
	}
	return m.IssuePair(ctx, old.Issuer, old.ClientID, old.Subject, scope, duration, old.AuthCodeID)
}

// ConsumeRefreshToken revokes c so it cannot be used again. It returns
// ErrRevoked if c was already revoked.
func (m *Manager) ConsumeRefreshToken(ctx context.Context, c *Claims) error {
	jti, err := c.JTI()
	if err != nil {
		return err
	}
	n, err := m.store.RevokeRefreshToken(ctx, jti, storage.RevocationNewRefreshToken)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if n == 0 {
		return ErrRevoked
	}
	return nil
}

// VerifyAuthCode verifies an authorization code presented by clientID with
// redirectURI and redeems it. A code that was already redeemed is marked as
// replayed, every token issued from it is revoked and a *ReplayError is
// returned.
func (m *Manager) VerifyAuthCode(ctx context.Context, raw, issuer string, clientID uuid.UUID, redirectURI string) (*Claims, error) {
	c, err := m.Verify(raw, issuer, uuid.NullUUID{UUID: clientID, Valid: true}, KindAuthorization)
	if err != nil {
		return nil, err
	}
	if c.RedirectURI != redirectURI {
		return nil, ErrRedirectMismatch
	}

	jti, err := c.JTI()
	if err != nil {
		return nil, err
	}

	n, err := m.store.DeleteAuthCode(ctx, jti)
	if err != nil {
		return nil, fmt.Errorf("failed to delete authorization code: %w", err)
	}
	if n > 0 {
		return c, nil
	}

	if err := m.store.MarkAuthCodeReplayed(ctx, jti, m.now().Add(RefreshGrace)); err != nil {
		return nil, fmt.Errorf("failed to mark replayed authorization code: %w", err)
	}
	replay, err := m.revokeIssuedFrom(ctx, jti)
	if err != nil {
		return nil, err
	}
	m.logger.Warn("Authorization code replay detected",
		"client_id", clientID,
		"access_tokens_revoked", replay.AccessTokensRevoked,
		"refresh_tokens_revoked", replay.RefreshTokensRevoked)
	return nil, replay
}

func (m *Manager) revokeIssuedFrom(ctx context.Context, code uuid.UUID) (*ReplayError, error) {
	access, err := m.store.DeleteAccessTokensWithAuthCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke access tokens of replayed code: %w", err)
	}
	refresh, err := m.store.RevokeRefreshTokensWithAuthCode(ctx, code, storage.RevocationReusedAuthorizationCode)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh tokens of replayed code: %w", err)
	}
	return &ReplayError{AccessTokensRevoked: access, RefreshTokensRevoked: refresh}, nil
}

// VerifyAccessToken verifies an access token and checks it still exists.
func (m *Manager) VerifyAccessToken(ctx context.Context, raw, issuer string) (*Claims, error) {
	c, err := m.Verify(raw, issuer, uuid.NullUUID{}, KindAccess)
	if err != nil {
		return nil, err
	}
	jti, err := c.JTI()
	if err != nil {
		return nil, err
	}
	ok, err := m.store.AccessTokenExists(ctx, jti)
	if err != nil {
		return nil, fmt.Errorf("failed to look up access token: %w", err)
	}
	if !ok {
		return nil, ErrRevoked
	}
	return c, nil
}

// VerifyRefreshToken verifies a refresh token and checks it is not revoked.
// It does not consume the token; see ConsumeRefreshToken and RotateRefresh.
func (m *Manager) VerifyRefreshToken(ctx context.Context, raw, issuer string, expectedClient uuid.NullUUID) (*Claims, error) {
	c, err := m.Verify(raw, issuer, expectedClient, KindRefresh)
	if err != nil {
		return nil, err
	}
	jti, err := c.JTI()
	if err != nil {
		return nil, err
	}
	revoked, err := m.store.RefreshTokenRevoked(ctx, jti)
	if err != nil {
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}
	return c, nil
}

// IsVerificationError reports whether err means the presented token is not
// acceptable, as opposed to an internal failure.
func IsVerificationError(err error) bool {
	for _, target := range []error{
		ErrMalformed, ErrInvalidSignature, ErrIncorrectIssuer, ErrWrongClient,
		ErrBadAudience, ErrExpired, ErrNotYetValid, ErrWrongKind, ErrRevoked,
		ErrRedirectMismatch, ErrCodeReplayed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
