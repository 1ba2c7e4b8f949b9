package oauth

import (
	"github.com/giantswarm/authserver/security"
	"github.com/giantswarm/authserver/server"
	"github.com/giantswarm/authserver/storage"
)

// Server is the authorization server business logic.
type Server = server.Server

// NewServer creates a Server from config, wiring the audit logger, the
// per-IP rate limiter and instrumentation it enables.
func NewServer(store storage.Store, secrets server.Secrets, config *Config) (*Server, error) {
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()

	srv, err := server.New(store, secrets, &config.Server, config.Logger)
	if err != nil {
		return nil, err
	}

	auditor := security.NewAuditor(config.Logger, config.Security.EnableAuditLogging)
	if config.Instrumentation != nil {
		auditor.SetCounter(config.Instrumentation.Metrics())
	}
	srv.SetAuditor(auditor)
	if config.RateLimit.Rate > 0 {
		rl := security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, config.Logger)
		if config.RateLimit.MaxEntries > 0 {
			rl = security.NewRateLimiterWithConfig(config.RateLimit.Rate, config.RateLimit.Burst, config.RateLimit.MaxEntries, config.Logger)
		}
		srv.SetRateLimiter(rl)
	}
	if config.Instrumentation != nil {
		srv.SetInstrumentation(config.Instrumentation)
	}
	return srv, nil
}
