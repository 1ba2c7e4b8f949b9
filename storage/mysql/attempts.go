package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/authserver/storage"
)

// RecordFailedLoginAttempt appends a failed attempt.
func (s *Store) RecordFailedLoginAttempt(ctx context.Context, attempt storage.LoginAttempt) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_attempts (subject, ip_address, attempted_at)
		VALUES (?, ?, ?)
	`, attempt.Subject, attempt.IPAddress, attempt.Time.UTC())
	if err != nil {
		err = fmt.Errorf("failed to record login attempt: %w", err)
	}
	s.record(ctx, "record_failed_login_attempt", start, err)
	return err
}

// CountFailedLoginAttemptsSince counts attempts for (subject, ip) at or after since.
func (s *Store) CountFailedLoginAttemptsSince(ctx context.Context, subject, ip string, since time.Time) (int, error) {
	start := time.Now()
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM login_attempts
		WHERE subject = ? AND ip_address = ? AND attempted_at >= ?
	`, subject, ip, since.UTC()).Scan(&n)
	if err != nil {
		err = fmt.Errorf("failed to count login attempts: %w", err)
	}
	s.record(ctx, "count_failed_login_attempts", start, err)
	return n, err
}

// DeleteLoginAttemptsBefore prunes attempts older than before.
func (s *Store) DeleteLoginAttemptsBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.execCount(ctx, "delete_login_attempts_before", `
		DELETE FROM login_attempts WHERE attempted_at < ?
	`, before.UTC())
}
