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

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	start := time.Now()
	var (
		u       storage.User
		version int16
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, password_version
		FROM users
		WHERE username = ?
	`, username).Scan(&u.ID, &u.Username, &u.Password.Hash, &version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = storage.ErrUserNotFound
	case err != nil:
		err = fmt.Errorf("failed to query user: %w", err)
	}
	s.record(ctx, "get_user_by_username", start, err)
	if err != nil {
		return nil, err
	}
	u.Password.Version = storage.HashVersion(version)
	return &u, nil
}

// SaveUser inserts a user.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, password_version)
		VALUES (?, ?, ?, ?)
	`, user.ID, user.Username, user.Password.Hash, int16(user.Password.Version))
	if err != nil {
		if dupErr := asDuplicate(err, storage.ErrUsernameTaken); dupErr != nil {
			err = dupErr
		} else {
			err = fmt.Errorf("failed to insert user: %w", err)
		}
	}
	s.record(ctx, "save_user", start, err)
	return err
}

// UpdateUserPassword replaces a user's password hash.
func (s *Store) UpdateUserPassword(ctx context.Context, id uuid.UUID, password storage.PasswordHash) error {
	n, err := s.execCount(ctx, "update_user_password", `
		UPDATE users SET password_hash = ?, password_version = ? WHERE id = ?
	`, password.Hash, int16(password.Version), id)
	if err == nil && n == 0 {
		err = storage.ErrUserNotFound
	}
	return err
}

// UserIDExists reports whether a user id is in use.
func (s *Store) UserIDExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return exists(ctx, s.db, `SELECT 1 FROM users WHERE id = ?`, id)
}
