package memory

import (
	"context"
	"time"

	"github.com/giantswarm/authserver/storage"
)

// RecordFailedLoginAttempt appends a failed attempt.
func (s *Store) RecordFailedLoginAttempt(ctx context.Context, attempt storage.LoginAttempt) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loginAttempts = append(s.loginAttempts, attempt)
	s.attemptsCount.Store(int64(len(s.loginAttempts)))
	s.record(ctx, "record_failed_login_attempt", start, nil)
	return nil
}

// CountFailedLoginAttemptsSince counts attempts for (subject, ip) at or after since.
func (s *Store) CountFailedLoginAttemptsSince(ctx context.Context, subject, ip string, since time.Time) (int, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.loginAttempts {
		if a.Subject == subject && a.IPAddress == ip && !a.Time.Before(since) {
			n++
		}
	}
	s.record(ctx, "count_failed_login_attempts", start, nil)
	return n, nil
}

// DeleteLoginAttemptsBefore prunes attempts older than before.
func (s *Store) DeleteLoginAttemptsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.loginAttempts[:0]
	for _, a := range s.loginAttempts {
		if !a.Time.Before(before) {
			kept = append(kept, a)
		}
	}
	removed := int64(len(s.loginAttempts) - len(kept))
	clear(s.loginAttempts[len(kept):])
	s.loginAttempts = kept
	s.attemptsCount.Store(int64(len(s.loginAttempts)))
	return removed, nil
}
