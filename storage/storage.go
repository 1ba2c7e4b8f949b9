package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ClientStore provides read access to registered clients and the insert used
// by client registration.
type ClientStore interface {
	// GetClient retrieves a client by id. Returns ErrClientNotFound if absent.
	GetClient(ctx context.Context, id uuid.UUID) (*Client, error)

	// GetClientByAlias retrieves a client by its unique alias.
	// Returns ErrClientNotFound if absent.
	GetClientByAlias(ctx context.Context, alias string) (*Client, error)

	// SaveClient inserts a new client. Returns ErrDuplicateID when the id is
	// taken and ErrAliasTaken when the alias is.
	SaveClient(ctx context.Context, client *Client) error

	// UpdateClientSecret replaces the stored secret hash of a client.
	// Returns ErrClientNotFound if absent.
	UpdateClientSecret(ctx context.Context, id uuid.UUID, secret PasswordHash) error

	// ClientIDExists is the uniqueness oracle for client ids.
	ClientIDExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// UserStore provides read access to resource owners and the insert used by
// user registration.
type UserStore interface {
	// GetUserByUsername retrieves a user. Returns ErrUserNotFound if absent.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// SaveUser inserts a new user. Returns ErrDuplicateID when the id is taken
	// and ErrUsernameTaken when the username is.
	SaveUser(ctx context.Context, user *User) error

	// UpdateUserPassword replaces the stored password hash of a user.
	// Returns ErrUserNotFound if absent.
	UpdateUserPassword(ctx context.Context, id uuid.UUID, password PasswordHash) error

	// UserIDExists is the uniqueness oracle for user ids.
	UserIDExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// TokenStore persists one row per issued token id. Rows carry only the token
// id, the optional backing authorization code, the expiry and, for refresh
// tokens, the revocation reason. The signed claims themselves are never stored.
type TokenStore interface {
	// AuthCodeExists, AccessTokenExists and RefreshTokenExists are the
	// uniqueness oracles for token ids.
	AuthCodeExists(ctx context.Context, jti uuid.UUID) (bool, error)
	AccessTokenExists(ctx context.Context, jti uuid.UUID) (bool, error)
	RefreshTokenExists(ctx context.Context, jti uuid.UUID) (bool, error)

	// CreateAuthCode inserts an authorization code row.
	// Returns ErrDuplicateID if jti is already present.
	CreateAuthCode(ctx context.Context, jti uuid.UUID, expiresAt time.Time) error

	// CreateAccessToken inserts an access token row linked to authCode when valid.
	// Returns ErrDuplicateID if jti is already present.
	CreateAccessToken(ctx context.Context, jti uuid.UUID, authCode uuid.NullUUID, expiresAt time.Time) error

	// CreateRefreshToken inserts an unrevoked refresh token row linked to
	// authCode when valid. Returns ErrDuplicateID if jti is already present.
	CreateRefreshToken(ctx context.Context, jti uuid.UUID, authCode uuid.NullUUID, expiresAt time.Time) error

	// DeleteAuthCode deletes the authorization code row and returns the number
	// of rows removed. Concurrent callers for the same jti must observe exactly
	// one deletion.
	DeleteAuthCode(ctx context.Context, jti uuid.UUID) (int64, error)

	// MarkAuthCodeReplayed records that a second redemption of the
	// authorization code was attempted. The marker is kept until expiresAt.
	// Marking an already marked code is not an error.
	MarkAuthCodeReplayed(ctx context.Context, jti uuid.UUID, expiresAt time.Time) error

	// AuthCodeReplayed reports whether the authorization code carries a
	// replay marker.
	AuthCodeReplayed(ctx context.Context, jti uuid.UUID) (bool, error)

	// DeleteAccessTokensWithAuthCode deletes every access token row backed by
	// the given authorization code.
	DeleteAccessTokensWithAuthCode(ctx context.Context, authCode uuid.UUID) (int64, error)

	// RefreshTokenRevoked reports whether the refresh token can no longer be
	// used. A missing row counts as revoked.
	RefreshTokenRevoked(ctx context.Context, jti uuid.UUID) (bool, error)

	// RevokeRefreshToken marks the row revoked with reason if it is not
	// already revoked, and returns the number of rows changed. Concurrent
	// callers for the same jti must observe exactly one change.
	RevokeRefreshToken(ctx context.Context, jti uuid.UUID, reason RevocationReason) (int64, error)

	// RevokeRefreshTokensWithAuthCode marks every unrevoked refresh token
	// backed by the given authorization code revoked with reason.
	RevokeRefreshTokensWithAuthCode(ctx context.Context, authCode uuid.UUID, reason RevocationReason) (int64, error)
}

// TokenSweeper removes token rows whose expiry lies before now.
type TokenSweeper interface {
	DeleteExpiredAuthCodes(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredAccessTokens(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredReplayMarkers(ctx context.Context, now time.Time) (int64, error)
}

// LoginAttemptStore records failed authentications for brute-force detection.
type LoginAttemptStore interface {
	// RecordFailedLoginAttempt appends an attempt.
	RecordFailedLoginAttempt(ctx context.Context, attempt LoginAttempt) error

	// CountFailedLoginAttemptsSince counts attempts for subject from ip with a
	// timestamp at or after since.
	CountFailedLoginAttemptsSince(ctx context.Context, subject, ip string, since time.Time) (int, error)

	// DeleteLoginAttemptsBefore prunes attempts older than before.
	DeleteLoginAttemptsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Store is implemented by backends that provide every storage concern.
type Store interface {
	ClientStore
	UserStore
	TokenStore
	TokenSweeper
	LoginAttemptStore
}
