package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/authserver/instrumentation"
	"github.com/giantswarm/authserver/storage"
)

// Sweeper periodically deletes expired token rows and login attempts older
// than the brute-force window. Failures are logged and the next run retries.
type Sweeper struct {
	tokens   storage.TokenSweeper
	attempts storage.LoginAttemptStore
	interval time.Duration
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *instrumentation.Metrics

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a Sweeper for the server's store and configuration.
func (s *Server) NewSweeper() *Sweeper {
	return &Sweeper{
		tokens:   s.store,
		attempts: s.store,
		interval: s.Config.SweepInterval,
		window:   s.guard.Window(),
		now:      s.Config.Clock,
		logger:   s.Logger,
		metrics:  s.metrics(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine until ctx is done or Stop is called.
func (sw *Sweeper) Start(ctx context.Context) {
	go sw.run(ctx)
}

func (sw *Sweeper) run(ctx context.Context) {
	defer close(sw.done)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.Sweep(ctx)
		case <-sw.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the loop and waits for a running sweep to finish. It must only
// be called after Start.
func (sw *Sweeper) Stop() {
	sw.stopOnce.Do(func() { close(sw.stop) })
	<-sw.done
}

// Sweep runs a single pass and returns the number of rows removed.
func (sw *Sweeper) Sweep(ctx context.Context) int64 {
	now := sw.now()
	steps := []struct {
		table string
		run   func(context.Context, time.Time) (int64, error)
		at    time.Time
	}{
		{"auth_codes", sw.tokens.DeleteExpiredAuthCodes, now},
		{"access_tokens", sw.tokens.DeleteExpiredAccessTokens, now},
		{"refresh_tokens", sw.tokens.DeleteExpiredRefreshTokens, now},
		{"replayed_auth_codes", sw.tokens.DeleteExpiredReplayMarkers, now},
		{"login_attempts", sw.attempts.DeleteLoginAttemptsBefore, now.Add(-sw.window)},
	}

	var total int64
	for _, step := range steps {
		n, err := step.run(ctx, step.at)
		if err != nil {
			sw.logger.Error("Failed to sweep expired rows", "table", step.table, "error", err)
			continue
		}
		if n > 0 {
			sw.logger.Debug("Swept expired rows", "table", step.table, "rows", n)
			sw.metrics.RecordRowsSwept(ctx, step.table, n)
		}
		total += n
	}
	return total
}
