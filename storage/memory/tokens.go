package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/authserver/storage"
)

// AuthCodeExists reports whether an authorization code id is in use.
func (s *Store) AuthCodeExists(_ context.Context, jti uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.authCodes[jti]
	return ok, nil
}

// AccessTokenExists reports whether an access token id is in use.
func (s *Store) AccessTokenExists(_ context.Context, jti uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accessTokens[jti]
	return ok, nil
}

// RefreshTokenExists reports whether a refresh token id is in use.
func (s *Store) RefreshTokenExists(_ context.Context, jti uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.refreshTokens[jti]
	return ok, nil
}

// CreateAuthCode inserts an authorization code row.
func (s *Store) CreateAuthCode(ctx context.Context, jti uuid.UUID, expiresAt time.Time) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[jti]; ok {
		s.record(ctx, "create_auth_code", start, storage.ErrDuplicateID)
		return storage.ErrDuplicateID
	}
	s.authCodes[jti] = expiresAt
	s.authCodesCount.Store(int64(len(s.authCodes)))
	s.record(ctx, "create_auth_code", start, nil)
	return nil
}

// CreateAccessToken inserts an access token row.
func (s *Store) CreateAccessToken(ctx context.Context, jti uuid.UUID, authCode uuid.NullUUID, expiresAt time.Time) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accessTokens[jti]; ok {
		s.record(ctx, "create_access_token", start, storage.ErrDuplicateID)
		return storage.ErrDuplicateID
	}
	s.accessTokens[jti] = tokenRow{authCode: authCode, expiresAt: expiresAt}
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.record(ctx, "create_access_token", start, nil)
	return nil
}

// CreateRefreshToken inserts an unrevoked refresh token row.
func (s *Store) CreateRefreshToken(ctx context.Context, jti uuid.UUID, authCode uuid.NullUUID, expiresAt time.Time) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[jti]; ok {
		s.record(ctx, "create_refresh_token", start, storage.ErrDuplicateID)
		return storage.ErrDuplicateID
	}
	s.refreshTokens[jti] = &refreshRow{tokenRow: tokenRow{authCode: authCode, expiresAt: expiresAt}}
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	s.record(ctx, "create_refresh_token", start, nil)
	return nil
}

// DeleteAuthCode removes an authorization code row.
func (s *Store) DeleteAuthCode(ctx context.Context, jti uuid.UUID) (int64, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[jti]; !ok {
		s.record(ctx, "delete_auth_code", start, nil)
		return 0, nil
	}
	delete(s.authCodes, jti)
	s.authCodesCount.Store(int64(len(s.authCodes)))
	s.record(ctx, "delete_auth_code", start, nil)
	return 1, nil
}

// MarkAuthCodeReplayed records a replay marker for the authorization code.
func (s *Store) MarkAuthCodeReplayed(ctx context.Context, jti uuid.UUID, expiresAt time.Time) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.replayedCodes[jti]; !ok || exp.Before(expiresAt) {
		s.replayedCodes[jti] = expiresAt
	}
	s.record(ctx, "mark_auth_code_replayed", start, nil)
	return nil
}

// AuthCodeReplayed reports whether the authorization code carries a replay marker.
func (s *Store) AuthCodeReplayed(_ context.Context, jti uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.replayedCodes[jti]
	return ok, nil
}

// DeleteAccessTokensWithAuthCode removes access tokens backed by authCode.
func (s *Store) DeleteAccessTokensWithAuthCode(ctx context.Context, authCode uuid.UUID) (int64, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for jti, row := range s.accessTokens {
		if row.authCode.Valid && row.authCode.UUID == authCode {
			delete(s.accessTokens, jti)
			n++
		}
	}
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.record(ctx, "delete_access_tokens_with_auth_code", start, nil)
	return n, nil
}

// RefreshTokenRevoked reports whether the refresh token is unusable.
func (s *Store) RefreshTokenRevoked(_ context.Context, jti uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.refreshTokens[jti]
	if !ok {
		return true, nil
	}
	return row.revokedReason != "", nil
}

// RevokeRefreshToken revokes the row if it is not already revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, jti uuid.UUID, reason storage.RevocationReason) (int64, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.refreshTokens[jti]
	if !ok || row.revokedReason != "" {
		s.record(ctx, "revoke_refresh_token", start, nil)
		return 0, nil
	}
	row.revokedReason = reason
	s.record(ctx, "revoke_refresh_token", start, nil)
	return 1, nil
}

// RevokeRefreshTokensWithAuthCode revokes unrevoked refresh tokens backed by authCode.
func (s *Store) RevokeRefreshTokensWithAuthCode(ctx context.Context, authCode uuid.UUID, reason storage.RevocationReason) (int64, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.refreshTokens {
		if row.authCode.Valid && row.authCode.UUID == authCode && row.revokedReason == "" {
			row.revokedReason = reason
			n++
		}
	}
	s.record(ctx, "revoke_refresh_tokens_with_auth_code", start, nil)
	return n, nil
}

// RefreshTokenRevocationReason returns the reason a refresh token was revoked,
// or "" if it is still usable. The boolean is false when no row exists.
func (s *Store) RefreshTokenRevocationReason(jti uuid.UUID) (storage.RevocationReason, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.refreshTokens[jti]
	if !ok {
		return "", false
	}
	return row.revokedReason, true
}

// ============================================================
// Sweeping
// ============================================================

// DeleteExpiredAuthCodes removes authorization codes that expired before now.
func (s *Store) DeleteExpiredAuthCodes(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for jti, exp := range s.authCodes {
		if exp.Before(now) {
			delete(s.authCodes, jti)
			n++
		}
	}
	s.authCodesCount.Store(int64(len(s.authCodes)))
	return n, nil
}

// DeleteExpiredReplayMarkers removes replay markers that expired before now.
func (s *Store) DeleteExpiredReplayMarkers(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for jti, exp := range s.replayedCodes {
		if exp.Before(now) {
			delete(s.replayedCodes, jti)
			n++
		}
	}
	return n, nil
}

// DeleteExpiredAccessTokens removes access tokens that expired before now.
func (s *Store) DeleteExpiredAccessTokens(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for jti, row := range s.accessTokens {
		if row.expiresAt.Before(now) {
			delete(s.accessTokens, jti)
			n++
		}
	}
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	return n, nil
}

// DeleteExpiredRefreshTokens removes refresh tokens that expired before now.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for jti, row := range s.refreshTokens {
		if row.expiresAt.Before(now) {
			delete(s.refreshTokens, jti)
			n++
		}
	}
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	return n, nil
}
