package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/giantswarm/authserver/scope"
	"github.com/giantswarm/authserver/storage"
)

// MinPasswordLength is the shortest accepted user password or client secret.
const MinPasswordLength = 8

var (
	// ErrInvalidClientMetadata is returned when a client registration violates
	// the client model.
	ErrInvalidClientMetadata = errors.New("invalid client metadata")

	// ErrInvalidUserMetadata is returned when a user registration is invalid.
	ErrInvalidUserMetadata = errors.New("invalid user metadata")
)

// BasicCredentials are client credentials presented with HTTP Basic
// authentication. Alias is the client alias.
type BasicCredentials struct {
	Alias  string
	Secret string
}

// ClientRegistration describes a client to create.
type ClientRegistration struct {
	Alias         string
	Type          storage.ClientType
	Secret        string
	AllowedScopes string
	DefaultScopes string
	RedirectURIs  []string
	Trusted       bool
}

// Validate checks the registration against the client model.
func (r *ClientRegistration) Validate() error {
	if strings.TrimSpace(r.Alias) == "" {
		return fmt.Errorf("%w: alias is required", ErrInvalidClientMetadata)
	}

	switch r.Type {
	case storage.ClientTypeConfidential:
		if r.Secret == "" {
			return fmt.Errorf("%w: confidential clients require a secret", ErrInvalidClientMetadata)
		}
		if len(r.Secret) < MinPasswordLength {
			return fmt.Errorf("%w: secret must be at least %d characters", ErrInvalidClientMetadata, MinPasswordLength)
		}
	case storage.ClientTypePublic:
		if r.Secret != "" {
			return fmt.Errorf("%w: public clients cannot have a secret", ErrInvalidClientMetadata)
		}
		if r.Trusted {
			return fmt.Errorf("%w: public clients cannot be trusted", ErrInvalidClientMetadata)
		}
	default:
		return fmt.Errorf("%w: unknown client type %q", ErrInvalidClientMetadata, r.Type)
	}

	if !scope.IsSubsetOf(r.DefaultScopes, r.AllowedScopes) {
		return fmt.Errorf("%w: default scopes must be a subset of allowed scopes", ErrInvalidClientMetadata)
	}

	for _, uri := range r.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidClientMetadata, err)
		}
	}
	return nil
}

// validateRedirectURI requires an absolute https URI without a fragment.
func validateRedirectURI(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}
	// url.Parse drops an empty trailing fragment, so check the raw string
	if strings.Contains(redirectURI, "#") {
		return fmt.Errorf("redirect_uri must not contain a fragment: %q", redirectURI)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("redirect_uri must use https: %q", redirectURI)
	}
	if parsed.Host == "" {
		return fmt.Errorf("redirect_uri must be absolute: %q", redirectURI)
	}
	return nil
}

// RegisterClient validates and stores a new client. The secret is hashed
// before storage.
func (s *Server) RegisterClient(ctx context.Context, reg ClientRegistration) (*storage.Client, error) {
	reg.AllowedScopes = scope.Normalize(reg.AllowedScopes)
	reg.DefaultScopes = scope.Normalize(reg.DefaultScopes)
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	client := &storage.Client{
		Alias:         reg.Alias,
		Type:          reg.Type,
		AllowedScopes: reg.AllowedScopes,
		DefaultScopes: reg.DefaultScopes,
		RedirectURIs:  reg.RedirectURIs,
		Trusted:       reg.Trusted,
	}
	if reg.Secret != "" {
		hash, err := s.hasher.Hash(reg.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		client.Secret = &hash
	}

	id, err := storage.InsertWithUniqueID(ctx, s.store.ClientIDExists, func(ctx context.Context, id uuid.UUID) error {
		client.ID = id
		return s.store.SaveClient(ctx, client)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}
	client.ID = id

	s.Logger.Info("Client registered", "client_id", client.ID, "alias", client.Alias, "type", client.Type)
	s.Auditor.LogClientRegistered(client.ID.String(), string(client.Type))
	s.metrics().RecordClientRegistration(ctx, string(client.Type))
	return client, nil
}

// RegisterUser validates and stores a new user with a hashed password.
func (s *Server) RegisterUser(ctx context.Context, username, password string) (*storage.User, error) {
	if strings.TrimSpace(username) == "" || strings.ContainsAny(username, " \t\r\n") {
		return nil, fmt.Errorf("%w: username must be non-empty and contain no whitespace", ErrInvalidUserMetadata)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidUserMetadata, MinPasswordLength)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &storage.User{Username: username, Password: hash}

	id, err := storage.InsertWithUniqueID(ctx, s.store.UserIDExists, func(ctx context.Context, id uuid.UUID) error {
		user.ID = id
		return s.store.SaveUser(ctx, user)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	user.ID = id

	s.Auditor.LogUserRegistered(username)
	return user, nil
}

// GetClientByAlias looks up a client for the read-only client endpoint.
func (s *Server) GetClientByAlias(ctx context.Context, alias string) (*storage.Client, error) {
	return s.store.GetClientByAlias(ctx, alias)
}

// authenticateClient checks the presented secret against the client's,
// consulting and feeding the brute-force guard. Failures are invalid_client.
func (s *Server) authenticateClient(ctx context.Context, client *storage.Client, creds *BasicCredentials, ip string) *Error {
	if creds == nil {
		return ErrInvalidClient("client authentication required")
	}
	if creds.Alias != client.Alias {
		return ErrInvalidClient("client credentials do not match client_id")
	}

	subject := client.ID.String()
	detected, err := s.guard.Detected(ctx, subject, ip)
	if err != nil {
		return s.internalError(ctx, "Failed to check brute-force guard", err)
	}
	if detected {
		s.Logger.WarnContext(ctx, "Client locked out after repeated failures", "client_id", subject, "ip", ip)
		s.Auditor.LogBruteForceDetected(subject, ip)
		s.metrics().RecordBruteForceBlocked(ctx, "client")
		return ErrInvalidClient("too many failed authentication attempts")
	}

	ok := false
	if client.Secret != nil {
		ok, err = s.hasher.Verify(creds.Secret, *client.Secret)
		if err != nil {
			return s.internalError(ctx, "Failed to verify client secret", err)
		}
	}
	if !ok {
		if err := s.guard.RecordFailure(ctx, subject, ip); err != nil {
			return s.internalError(ctx, "Failed to record login attempt", err)
		}
		s.Auditor.LogAuthFailure("", client.Alias, ip, "invalid_client_secret")
		s.metrics().RecordLoginFailure(ctx, "client")
		return ErrInvalidClient("client authentication failed")
	}
	s.upgradeHash(ctx, "client_secret", *client.Secret, creds.Secret, func(ctx context.Context, h storage.PasswordHash) error {
		return s.store.UpdateClientSecret(ctx, client.ID, h)
	})
	return nil
}

// authenticateUser checks a resource owner's password, consulting and
// feeding the brute-force guard. It returns errUserLockedOut or
// errBadCredentials for the caller to map.
func (s *Server) authenticateUser(ctx context.Context, username, password, clientAlias, ip string) (*storage.User, error) {
	detected, err := s.guard.Detected(ctx, username, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to check brute-force guard: %w", err)
	}
	if detected {
		s.Logger.WarnContext(ctx, "User locked out after repeated failures", "ip", ip)
		s.Auditor.LogBruteForceDetected(username, ip)
		s.metrics().RecordBruteForceBlocked(ctx, "user")
		return nil, errUserLockedOut
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		user = nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	ok := false
	if user != nil {
		ok, err = s.hasher.Verify(password, user.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to verify password: %w", err)
		}
	}
	if !ok {
		if err := s.guard.RecordFailure(ctx, username, ip); err != nil {
			return nil, err
		}
		s.Auditor.LogAuthFailure(username, clientAlias, ip, "invalid_credentials")
		s.metrics().RecordLoginFailure(ctx, "user")
		return nil, errBadCredentials
	}
	s.upgradeHash(ctx, "user_password", user.Password, password, func(ctx context.Context, h storage.PasswordHash) error {
		return s.store.UpdateUserPassword(ctx, user.ID, h)
	})
	return user, nil
}

// upgradeHash re-hashes a just verified secret when stored uses an older
// format or other cost parameters. Failures are logged and do not fail the
// authentication.
func (s *Server) upgradeHash(ctx context.Context, kind string, stored storage.PasswordHash, secret string, save func(context.Context, storage.PasswordHash) error) {
	if !s.hasher.NeedsRehash(stored) {
		return
	}
	hash, err := s.hasher.Hash(secret)
	if err == nil {
		err = save(ctx, hash)
	}
	if err != nil {
		s.Logger.WarnContext(ctx, "Failed to upgrade stored hash", "kind", kind, "error", err)
		return
	}
	s.Logger.DebugContext(ctx, "Upgraded stored hash", "kind", kind)
}

var (
	errUserLockedOut  = errors.New("user locked out")
	errBadCredentials = errors.New("bad credentials")
)
