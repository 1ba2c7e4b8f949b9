package security

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/authserver/storage"
)

const (
	// DefaultMaxFailedAttempts is the number of failures tolerated per window.
	// The attempt after the last tolerated failure is rejected.
	DefaultMaxFailedAttempts = 10

	// DefaultAttemptWindow is the trailing window failures are counted in.
	DefaultAttemptWindow = time.Hour
)

// Guard detects brute-force attempts against user passwords and client secrets.
type Guard struct {
	store       storage.LoginAttemptStore
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithMaxFailedAttempts overrides DefaultMaxFailedAttempts.
func WithMaxFailedAttempts(n int) GuardOption {
	return func(g *Guard) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithAttemptWindow overrides DefaultAttemptWindow.
func WithAttemptWindow(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.window = d
		}
	}
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard creates a Guard over the given attempt log.
func NewGuard(store storage.LoginAttemptStore, opts ...GuardOption) *Guard {
	g := &Guard{
		store:       store,
		maxAttempts: DefaultMaxFailedAttempts,
		window:      DefaultAttemptWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Detected reports whether subject is locked out when authenticating from ip,
// that is whether the failures recorded in the trailing window reached the
// threshold.
func (g *Guard) Detected(ctx context.Context, subject, ip string) (bool, error) {
	since := g.now().Add(-g.window)

	count, err := g.store.CountFailedLoginAttemptsSince(ctx, subject, ip, since)
	if err != nil {
		return false, fmt.Errorf("failed to count login attempts: %w", err)
	}

	return count >= g.maxAttempts, nil
}

// RecordFailure appends a failed attempt for subject from ip.
func (g *Guard) RecordFailure(ctx context.Context, subject, ip string) error {
	err := g.store.RecordFailedLoginAttempt(ctx, storage.LoginAttempt{
		Subject:   subject,
		IPAddress: ip,
		Time:      g.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}

// Window returns the trailing window attempts are counted in. Attempts older
// than this can be pruned.
func (g *Guard) Window() time.Duration {
	return g.window
}
