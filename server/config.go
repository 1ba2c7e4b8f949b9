package server

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/giantswarm/authserver/security"
)

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL). It is the iss
	// claim of every token and is required in every token's audience.
	Issuer string

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL time.Duration // default: 1 hour

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Default: 1
	TrustedProxyCount int

	// MaxFailedAttempts is the number of failed credential checks per
	// (subject, address) tolerated within AttemptWindow
	MaxFailedAttempts int // default: 10

	// AttemptWindow is the trailing window failed attempts are counted in
	AttemptWindow time.Duration // default: 1 hour

	// SweepInterval is how often expired token rows are deleted
	SweepInterval time.Duration // default: 5 minutes

	// AllowInsecureIssuer permits an http issuer, for local development only
	AllowInsecureIssuer bool

	// HashParams are the argon2id parameters for new secrets. Zero selects
	// security.DefaultArgon2Params.
	HashParams security.Argon2Params

	// Clock overrides time.Now
	Clock func() time.Time
}

// applySecureDefaults fills unset values with secure defaults
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = time.Hour
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.MaxFailedAttempts == 0 {
		config.MaxFailedAttempts = security.DefaultMaxFailedAttempts
	}
	if config.AttemptWindow == 0 {
		config.AttemptWindow = security.DefaultAttemptWindow
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = 5 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	logSecurityWarnings(config, logger)
	return config
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.TrustProxy {
		logger.Warn("Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"trusted_proxy_count", config.TrustedProxyCount)
	}
	if config.AllowInsecureIssuer {
		logger.Warn("Insecure issuer allowed",
			"risk", "Tokens and credentials sent in clear text",
			"recommendation", "Use an https issuer outside local development")
	}
}

// validate checks the configuration after defaults were applied
func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	u, err := url.Parse(c.Issuer)
	if err != nil || u.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL: %q", c.Issuer)
	}
	if u.Scheme != "https" && !(u.Scheme == "http" && c.AllowInsecureIssuer) {
		return fmt.Errorf("issuer must use https: %q", c.Issuer)
	}
	if c.AccessTokenTTL < 0 {
		return fmt.Errorf("access token TTL must be positive")
	}
	return nil
}
