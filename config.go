package oauth

import (
	"log/slog"

	"github.com/giantswarm/authserver/instrumentation"
	"github.com/giantswarm/authserver/server"
)

// Config holds the authorization server and HTTP handler configuration.
type Config struct {
	// Server is the core server configuration. Issuer is required.
	Server server.Config

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Instrumentation provides metrics and tracing (optional)
	Instrumentation *instrumentation.Instrumentation

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration for the token and
// authorization endpoints.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// MaxEntries bounds the number of tracked IPs. Zero uses the default.
	MaxEntries int
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	// EnableAuditLogging enables security audit logging.
	// Logs auth events, token operations, and violations (sensitive data hashed).
	EnableAuditLogging bool
}

// applyDefaults fills the handler level defaults.
func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = c.RateLimit.Rate * 2
	}
}
