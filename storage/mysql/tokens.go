package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/authserver/storage"
)

// AuthCodeExists reports whether an authorization code id is in use.
func (s *Store) AuthCodeExists(ctx context.Context, jti uuid.UUID) (bool, error) {
	return exists(ctx, s.db, `SELECT 1 FROM auth_codes WHERE jti = ?`, jti)
}

// AccessTokenExists reports whether an access token id is in use.
func (s *Store) AccessTokenExists(ctx context.Context, jti uuid.UUID) (bool, error) {
	return exists(ctx, s.db, `SELECT 1 FROM access_tokens WHERE jti = ?`, jti)
}

// RefreshTokenExists reports whether a refresh token id is in use.
func (s *Store) RefreshTokenExists(ctx context.Context, jti uuid.UUID) (bool, error) {
	return exists(ctx, s.db, `SELECT 1 FROM refresh_tokens WHERE jti = ?`, jti)
}

// CreateAuthCode inserts an authorization code row.
func (s *Store) CreateAuthCode(ctx context.Context, jti uuid.UUID, expiresAt time.Time) error {
	return s.insertToken(ctx, "create_auth_code", `
		INSERT INTO auth_codes (jti, expires_at) VALUES (?, ?)
	`, jti, expiresAt.UTC())
}

// CreateAccessToken inserts an access token row.
func (s *Store) CreateAccessToken(ctx context.Context, jti uuid.UUID, authCode uuid.NullUUID, expiresAt time.Time) error {
	return s.insertToken(ctx, "create_access_token", `
		INSERT INTO access_tokens (jti, auth_code, expires_at) VALUES (?, ?, ?)
	`, jti, authCode, expiresAt.UTC())
}

// CreateRefreshToken inserts an unrevoked refresh token row.
func (s *Store) CreateRefreshToken(ctx context.Context, jti uuid.UUID, authCode uuid.NullUUID, expiresAt time.Time) error {
	return s.insertToken(ctx, "create_refresh_token", `
		INSERT INTO refresh_tokens (jti, auth_code, expires_at) VALUES (?, ?, ?)
	`, jti, authCode, expiresAt.UTC())
}

func (s *Store) insertToken(ctx context.Context, operation, query string, args ...any) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if dup, _ := duplicateKey(err); dup {
			err = storage.ErrDuplicateID
		} else {
			err = fmt.Errorf("failed to %s: %w", operation, err)
		}
	}
	s.record(ctx, operation, start, err)
	return err
}

// DeleteAuthCode deletes the authorization code row. The affected-row count
// decides which of several concurrent redemptions wins.
func (s *Store) DeleteAuthCode(ctx context.Context, jti uuid.UUID) (int64, error) {
	return s.execCount(ctx, "delete_auth_code", `
		DELETE FROM auth_codes WHERE jti = ?
	`, jti)
}

// MarkAuthCodeReplayed records a replay marker for the authorization code.
func (s *Store) MarkAuthCodeReplayed(ctx context.Context, jti uuid.UUID, expiresAt time.Time) error {
	_, err := s.execCount(ctx, "mark_auth_code_replayed", `
		INSERT INTO replayed_auth_codes (jti, expires_at) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE expires_at = GREATEST(expires_at, VALUES(expires_at))
	`, jti, expiresAt.UTC())
	return err
}

// AuthCodeReplayed reports whether the authorization code carries a replay marker.
func (s *Store) AuthCodeReplayed(ctx context.Context, jti uuid.UUID) (bool, error) {
	return exists(ctx, s.db, `SELECT 1 FROM replayed_auth_codes WHERE jti = ?`, jti)
}

// DeleteAccessTokensWithAuthCode deletes every access token backed by authCode.
func (s *Store) DeleteAccessTokensWithAuthCode(ctx context.Context, authCode uuid.UUID) (int64, error) {
	return s.execCount(ctx, "delete_access_tokens_with_auth_code", `
		DELETE FROM access_tokens WHERE auth_code = ?
	`, authCode)
}

// RefreshTokenRevoked reports whether the refresh token is revoked or missing.
func (s *Store) RefreshTokenRevoked(ctx context.Context, jti uuid.UUID) (bool, error) {
	var reason sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT revoked_reason FROM refresh_tokens WHERE jti = ?
	`, jti).Scan(&reason)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query refresh token: %w", err)
	}
	return reason.Valid, nil
}

// RevokeRefreshToken revokes the row if it is not already revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, jti uuid.UUID, reason storage.RevocationReason) (int64, error) {
	return s.execCount(ctx, "revoke_refresh_token", `
		UPDATE refresh_tokens
		SET revoked_reason = ?
		WHERE jti = ? AND revoked_reason IS NULL
	`, string(reason), jti)
}

// RevokeRefreshTokensWithAuthCode revokes every unrevoked refresh token
// backed by authCode.
func (s *Store) RevokeRefreshTokensWithAuthCode(ctx context.Context, authCode uuid.UUID, reason storage.RevocationReason) (int64, error) {
	return s.execCount(ctx, "revoke_refresh_tokens_with_auth_code", `
		UPDATE refresh_tokens
		SET revoked_reason = ?
		WHERE auth_code = ? AND revoked_reason IS NULL
	`, string(reason), authCode)
}

// DeleteExpiredAuthCodes removes authorization codes that expired before now.
func (s *Store) DeleteExpiredAuthCodes(ctx context.Context, now time.Time) (int64, error) {
	return s.execCount(ctx, "delete_expired_auth_codes", `
		DELETE FROM auth_codes WHERE expires_at < ?
	`, now.UTC())
}

// DeleteExpiredAccessTokens removes access tokens that expired before now.
func (s *Store) DeleteExpiredAccessTokens(ctx context.Context, now time.Time) (int64, error) {
	return s.execCount(ctx, "delete_expired_access_tokens", `
		DELETE FROM access_tokens WHERE expires_at < ?
	`, now.UTC())
}

// DeleteExpiredRefreshTokens removes refresh tokens that expired before now.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	return s.execCount(ctx, "delete_expired_refresh_tokens", `
		DELETE FROM refresh_tokens WHERE expires_at < ?
	`, now.UTC())
}

// DeleteExpiredReplayMarkers removes replay markers that expired before now.
func (s *Store) DeleteExpiredReplayMarkers(ctx context.Context, now time.Time) (int64, error) {
	return s.execCount(ctx, "delete_expired_replay_markers", `
		DELETE FROM replayed_auth_codes WHERE expires_at < ?
	`, now.UTC())
}

func (s *Store) execCount(ctx context.Context, operation, query string, args ...any) (int64, error) {
	start := time.Now()
	n, err := s.exec(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("failed to %s: %w", operation, err)
	}
	s.record(ctx, operation, start, err)
	return n, err
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
