package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/authserver/instrumentation"
	"github.com/giantswarm/authserver/security"
	"github.com/giantswarm/authserver/storage"
	"github.com/giantswarm/authserver/token"
)

// Secrets supplies the signing key and the hashing pepper.
type Secrets interface {
	token.KeySource
	security.PepperSource
}

// Server implements the authorization server logic.
type Server struct {
	store  storage.Store
	tokens *token.Manager
	hasher *security.Hasher
	guard  *security.Guard

	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // IP-based rate limiter
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config
}

// New creates a new authorization server
func New(store storage.Store, secrets Secrets, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("secrets are required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &Server{
		store: store,
		tokens: token.NewManager(store, secrets,
			token.WithClock(config.Clock),
			token.WithLogger(logger)),
		hasher: security.NewHasher(secrets, config.HashParams),
		guard: security.NewGuard(store,
			security.WithMaxFailedAttempts(config.MaxFailedAttempts),
			security.WithAttemptWindow(config.AttemptWindow),
			security.WithClock(config.Clock)),
		Config: config,
		Logger: logger,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation sets the metrics and tracing provider
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// Tokens returns the token manager, for bearer token verification.
func (s *Server) Tokens() *token.Manager {
	return s.tokens
}

// Store returns the storage backend.
func (s *Server) Store() storage.Store {
	return s.store
}

// Sign serializes claims into a wire token.
func (s *Server) Sign(c *token.Claims) (string, error) {
	return s.tokens.Sign(c)
}

func (s *Server) metrics() *instrumentation.Metrics {
	return s.Instrumentation.Metrics()
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.Instrumentation.Tracer("server").Start(ctx, name)
}

// internalError logs err, records it on the current span and returns a
// generic server_error.
func (s *Server) internalError(ctx context.Context, msg string, err error) *Error {
	instrumentation.RecordError(trace.SpanFromContext(ctx), err)
	s.Logger.ErrorContext(ctx, msg, "error", err, "request_id", security.GetRequestID(ctx))
	return ErrServerError("internal server error")
}
