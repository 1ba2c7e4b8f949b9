package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/giantswarm/authserver/instrumentation"
	"github.com/giantswarm/authserver/scope"
	"github.com/giantswarm/authserver/storage"
	"github.com/giantswarm/authserver/token"
)

// Grant types
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
)

// TokenRequest is a parsed token endpoint request.
type TokenRequest struct {
	GrantType string

	// authorization_code
	Code        string
	RedirectURI string
	ClientID    string // client alias

	// password
	Username string
	Password string

	// refresh_token
	RefreshToken string

	// Scope is optional for every grant but authorization_code, which ignores it.
	Scope string

	// Basic is nil when no Authorization: Basic header was sent.
	Basic *BasicCredentials

	IPAddress string
}

// Token dispatches a token request on its grant type. It returns the issued
// tokens and the granted scope. Errors are always *Error.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*oauth2.Token, string, error) {
	ctx, span := s.startSpan(ctx, "server.Token")
	defer span.End()

	var (
		tok     *oauth2.Token
		granted string
		oerr    *Error
	)
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		tok, granted, oerr = s.authorizationCodeGrant(ctx, req)
	case GrantTypePassword:
		tok, granted, oerr = s.passwordGrant(ctx, req)
	case GrantTypeClientCredentials:
		tok, granted, oerr = s.clientCredentialsGrant(ctx, req)
	case GrantTypeRefreshToken:
		tok, granted, oerr = s.refreshTokenGrant(ctx, req)
	case "":
		oerr = ErrInvalidRequest("grant_type is required")
	default:
		oerr = ErrUnsupportedGrantType("grant type " + req.GrantType + " is not supported")
	}

	instrumentation.AddGrantAttributes(span, req.GrantType, req.ClientID, granted)
	if oerr != nil {
		instrumentation.SetSpanError(span, oerr.Code)
		return nil, "", oerr
	}
	instrumentation.SetSpanSuccess(span)
	s.metrics().RecordTokenIssued(ctx, req.GrantType, tok.RefreshToken != "")
	return tok, granted, nil
}

// authorizationCodeGrant redeems an authorization code. Basic
// authentication is required iff the client has a secret. client_id may be
// omitted when the client authenticates.
func (s *Server) authorizationCodeGrant(ctx context.Context, req *TokenRequest) (*oauth2.Token, string, *Error) {
	alias := req.ClientID
	if alias == "" && req.Basic != nil {
		alias = req.Basic.Alias
	}
	if req.Code == "" || req.RedirectURI == "" || alias == "" {
		return nil, "", ErrInvalidRequest("code, redirect_uri and client_id are required")
	}

	client, oerr := s.lookupClient(ctx, alias)
	if oerr != nil {
		return nil, "", oerr
	}
	if client.HasSecret() || req.Basic != nil {
		if oerr := s.authenticateClient(ctx, client, req.Basic, req.IPAddress); oerr != nil {
			return nil, "", oerr
		}
	}

	code, err := s.tokens.VerifyAuthCode(ctx, req.Code, s.Config.Issuer, client.ID, req.RedirectURI)
	if err != nil {
		s.reportCodeReplay(ctx, client, req, err)
		return nil, "", s.grantError(ctx, "authorization code", err)
	}

	codeID, err := code.JTI()
	if err != nil {
		return nil, "", s.grantError(ctx, "authorization code", err)
	}
	access, refresh, err := s.tokens.IssuePair(ctx, s.Config.Issuer, client.ID, code.Subject, code.Scope, s.Config.AccessTokenTTL, &codeID)
	if err != nil {
		if errors.Is(err, token.ErrCodeReplayed) {
			s.reportCodeReplay(ctx, client, req, err)
			return nil, "", s.grantError(ctx, "authorization code", err)
		}
		return nil, "", s.internalError(ctx, "Failed to issue tokens", err)
	}

	s.Auditor.LogTokenIssued(code.Subject, client.Alias, req.IPAddress, GrantTypeAuthorizationCode, code.Scope)
	return s.tokenResponse(ctx, access, refresh)
}

// passwordGrant authenticates a resource owner directly. Only trusted
// clients, which are always confidential, may use it.
func (s *Server) passwordGrant(ctx context.Context, req *TokenRequest) (*oauth2.Token, string, *Error) {
	client, oerr := s.basicClient(ctx, req)
	if oerr != nil {
		return nil, "", oerr
	}
	if oerr := s.authenticateClient(ctx, client, req.Basic, req.IPAddress); oerr != nil {
		return nil, "", oerr
	}
	if !client.Trusted {
		return nil, "", ErrUnauthorizedClient("client is not allowed to use the password grant")
	}
	if req.Username == "" || req.Password == "" {
		return nil, "", ErrInvalidRequest("username and password are required")
	}

	user, err := s.authenticateUser(ctx, req.Username, req.Password, client.Alias, req.IPAddress)
	switch {
	case errors.Is(err, errUserLockedOut):
		return nil, "", ErrInvalidGrant("too many failed authentication attempts")
	case errors.Is(err, errBadCredentials):
		return nil, "", ErrInvalidGrant("invalid username or password")
	case err != nil:
		return nil, "", s.internalError(ctx, "Failed to authenticate user", err)
	}

	granted, oerr := s.resolveScope(client, req.Scope, user.ID.String(), req.IPAddress)
	if oerr != nil {
		return nil, "", oerr
	}

	access, refresh, err := s.tokens.IssuePair(ctx, s.Config.Issuer, client.ID, user.ID.String(), granted, s.Config.AccessTokenTTL, nil)
	if err != nil {
		return nil, "", s.internalError(ctx, "Failed to issue tokens", err)
	}

	s.Auditor.LogTokenIssued(user.ID.String(), client.Alias, req.IPAddress, GrantTypePassword, granted)
	return s.tokenResponse(ctx, access, refresh)
}

// clientCredentialsGrant issues an access token to a confidential client
// acting on its own behalf. No refresh token is issued.
func (s *Server) clientCredentialsGrant(ctx context.Context, req *TokenRequest) (*oauth2.Token, string, *Error) {
	client, oerr := s.basicClient(ctx, req)
	if oerr != nil {
		return nil, "", oerr
	}
	if !client.IsConfidential() {
		return nil, "", ErrUnauthorizedClient("only confidential clients may use the client_credentials grant")
	}
	if oerr := s.authenticateClient(ctx, client, req.Basic, req.IPAddress); oerr != nil {
		return nil, "", oerr
	}

	subject := client.ID.String()
	granted, oerr := s.resolveScope(client, req.Scope, subject, req.IPAddress)
	if oerr != nil {
		return nil, "", oerr
	}

	access, err := s.tokens.IssueAccessToken(ctx, s.Config.Issuer, client.ID, subject, granted, s.Config.AccessTokenTTL, nil)
	if err != nil {
		return nil, "", s.internalError(ctx, "Failed to issue access token", err)
	}

	s.Auditor.LogTokenIssued(subject, client.Alias, req.IPAddress, GrantTypeClientCredentials, granted)
	return s.tokenResponse(ctx, access, nil)
}

// refreshTokenGrant rotates a refresh token. Basic authentication is
// required iff the client the token was issued to has a secret.
func (s *Server) refreshTokenGrant(ctx context.Context, req *TokenRequest) (*oauth2.Token, string, *Error) {
	if req.RefreshToken == "" {
		return nil, "", ErrInvalidRequest("refresh_token is required")
	}

	old, err := s.tokens.VerifyRefreshToken(ctx, req.RefreshToken, s.Config.Issuer, uuid.NullUUID{})
	if err != nil {
		if errors.Is(err, token.ErrRevoked) {
			s.reportRefreshReuse(ctx, nil, req)
		}
		return nil, "", s.grantError(ctx, "refresh token", err)
	}

	client, err := s.store.GetClient(ctx, old.ClientID)
	switch {
	case errors.Is(err, storage.ErrClientNotFound):
		return nil, "", ErrInvalidGrant("refresh token client no longer exists")
	case err != nil:
		return nil, "", s.internalError(ctx, "Failed to look up client", err)
	}
	if req.ClientID != "" && req.ClientID != client.Alias {
		return nil, "", ErrInvalidGrant("refresh token was issued to another client")
	}
	if client.HasSecret() || req.Basic != nil {
		if oerr := s.authenticateClient(ctx, client, req.Basic, req.IPAddress); oerr != nil {
			return nil, "", oerr
		}
	}

	granted := old.Scope
	if scope.Normalize(req.Scope) != "" {
		if !scope.IsSubsetOf(req.Scope, old.Scope) {
			s.Auditor.LogScopeEscalation(old.Subject, client.Alias, req.IPAddress, req.Scope, old.Scope)
			return nil, "", ErrInvalidScope("requested scope exceeds the original grant")
		}
		granted = scope.Normalize(req.Scope)
	}

	access, refresh, err := s.tokens.RotateRefresh(ctx, old, granted, s.Config.AccessTokenTTL)
	if err != nil {
		if errors.Is(err, token.ErrRevoked) {
			s.reportRefreshReuse(ctx, old, req)
		}
		s.reportCodeReplay(ctx, client, req, err)
		return nil, "", s.grantError(ctx, "refresh token", err)
	}

	s.Auditor.LogTokenRefreshed(old.Subject, client.Alias, req.IPAddress, granted)
	return s.tokenResponse(ctx, access, refresh)
}

// reportCodeReplay audits err if it is a *token.ReplayError.
func (s *Server) reportCodeReplay(ctx context.Context, client *storage.Client, req *TokenRequest, err error) {
	var replay *token.ReplayError
	if !errors.As(err, &replay) {
		return
	}
	s.Auditor.LogCodeReplay(client.Alias, req.IPAddress, replay.AccessTokensRevoked, replay.RefreshTokensRevoked)
	s.metrics().RecordCodeReplayDetected(ctx)
}

func (s *Server) reportRefreshReuse(ctx context.Context, old *token.Claims, req *TokenRequest) {
	subject := ""
	if old != nil {
		subject = old.Subject
	}
	s.Auditor.LogRefreshTokenReuse(subject, req.ClientID, req.IPAddress)
	s.metrics().RecordRefreshReuseDetected(ctx)
}

// lookupClient resolves a client alias; unknown clients are invalid_client.
func (s *Server) lookupClient(ctx context.Context, alias string) (*storage.Client, *Error) {
	client, err := s.store.GetClientByAlias(ctx, alias)
	switch {
	case errors.Is(err, storage.ErrClientNotFound):
		return nil, ErrInvalidClient("unknown client")
	case err != nil:
		return nil, s.internalError(ctx, "Failed to look up client", err)
	}
	return client, nil
}

// basicClient resolves the client named by mandatory Basic credentials.
func (s *Server) basicClient(ctx context.Context, req *TokenRequest) (*storage.Client, *Error) {
	if req.Basic == nil {
		return nil, ErrInvalidClient("client authentication required")
	}
	if req.ClientID != "" && req.ClientID != req.Basic.Alias {
		return nil, ErrInvalidClient("client credentials do not match client_id")
	}
	return s.lookupClient(ctx, req.Basic.Alias)
}

// resolveScope picks the requested scope or the client's default and checks
// it against the client's allowed scopes.
func (s *Server) resolveScope(client *storage.Client, requested, subject, ip string) (string, *Error) {
	effective := scope.Normalize(requested)
	if effective == "" {
		effective = client.DefaultScopes
	}
	if effective == "" {
		return "", ErrInvalidScope("no scope requested and the client has no default scope")
	}
	if !scope.IsSubsetOf(effective, client.AllowedScopes) {
		s.Auditor.LogScopeEscalation(subject, client.Alias, ip, effective, client.AllowedScopes)
		return "", ErrInvalidScope("requested scope is not allowed for this client")
	}
	return effective, nil
}

// grantError maps a token verification failure to invalid_grant. Anything
// else is internal.
func (s *Server) grantError(ctx context.Context, what string, err error) *Error {
	if token.IsVerificationError(err) {
		s.Logger.DebugContext(ctx, "Grant rejected", "credential", what, "reason", err)
		return ErrInvalidGrant("invalid " + what)
	}
	return s.internalError(ctx, "Failed to verify "+what, err)
}

func (s *Server) tokenResponse(ctx context.Context, access, refresh *token.Claims) (*oauth2.Token, string, *Error) {
	accessRaw, err := s.tokens.Sign(access)
	if err != nil {
		return nil, "", s.internalError(ctx, "Failed to sign access token", err)
	}

	tok := &oauth2.Token{
		AccessToken: accessRaw,
		TokenType:   "bearer",
		Expiry:      access.ExpiresAt.Time,
		ExpiresIn:   int64(access.ExpiresIn(s.Config.Clock()) / time.Second),
	}
	if refresh != nil {
		tok.RefreshToken, err = s.tokens.Sign(refresh)
		if err != nil {
			return nil, "", s.internalError(ctx, "Failed to sign refresh token", err)
		}
	}
	return tok, access.Scope, nil
}
