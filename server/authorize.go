package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/giantswarm/authserver/instrumentation"
	"github.com/giantswarm/authserver/storage"
)

// Response types
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// AuthorizeRequest is a parsed authorization endpoint request.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string // client alias
	RedirectURI  string // optional when the client has exactly one
	Scope        string
	State        string

	Username string
	Password string

	IPAddress string
}

// AuthorizeOutcome tells the HTTP layer how to answer.
type AuthorizeOutcome int

const (
	// OutcomeRedirect means redirect to Location. Both grants and errors
	// after the redirect URI was verified end this way.
	OutcomeRedirect AuthorizeOutcome = iota + 1

	// OutcomePrompt means render the credential form. Err, if set, is
	// shown on the form.
	OutcomePrompt

	// OutcomeError means render Err inline. No redirect URI can be trusted.
	OutcomeError
)

// AuthorizeResult is the result of an authorization request.
type AuthorizeResult struct {
	Outcome AuthorizeOutcome

	// Location is set for OutcomeRedirect.
	Location string

	// Client and RedirectURI are set once resolved.
	Client      *storage.Client
	RedirectURI string

	Err *Error
}

// PrepareAuthorization resolves the client and redirect URI for the
// credential page. It never authenticates anyone.
func (s *Server) PrepareAuthorization(ctx context.Context, req *AuthorizeRequest) *AuthorizeResult {
	client, redirectURI, res := s.resolveAuthorizeTarget(ctx, req)
	if res != nil {
		return res
	}
	return &AuthorizeResult{Outcome: OutcomePrompt, Client: client, RedirectURI: redirectURI}
}

// Authorize runs the authorization flow for submitted credentials:
// resolve the client and redirect URI, check the brute-force guard,
// authenticate the resource owner, resolve the scope and grant a code or a
// token.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest) *AuthorizeResult {
	ctx, span := s.startSpan(ctx, "server.Authorize")
	defer span.End()
	instrumentation.AddGrantAttributes(span, "", req.ClientID, req.Scope)

	client, redirectURI, res := s.resolveAuthorizeTarget(ctx, req)
	if res != nil {
		return res
	}

	// errors from here on are redirected to the verified URI
	fail := func(oerr *Error) *AuthorizeResult {
		instrumentation.SetSpanError(span, oerr.Code)
		return s.redirectError(client, redirectURI, req, oerr)
	}
	prompt := func(oerr *Error) *AuthorizeResult {
		return &AuthorizeResult{Outcome: OutcomePrompt, Client: client, RedirectURI: redirectURI, Err: oerr}
	}

	if req.Username == "" || req.Password == "" {
		return prompt(ErrInvalidRequest("username and password are required"))
	}

	user, err := s.authenticateUser(ctx, req.Username, req.Password, client.Alias, req.IPAddress)
	switch {
	case errors.Is(err, errUserLockedOut):
		instrumentation.SetSpanError(span, ErrorCodeTemporarilyUnavailable)
		return &AuthorizeResult{
			Outcome:     OutcomeError,
			Client:      client,
			RedirectURI: redirectURI,
			Err:         ErrTemporarilyUnavailable("too many failed login attempts, try again later"),
		}
	case errors.Is(err, errBadCredentials):
		return prompt(NewError(ErrorCodeAccessDenied, "invalid username or password", http.StatusUnauthorized))
	case err != nil:
		return fail(s.internalError(ctx, "Failed to authenticate user", err))
	}

	subject := user.ID.String()
	granted, oerr := s.resolveScope(client, req.Scope, subject, req.IPAddress)
	if oerr != nil {
		return fail(oerr)
	}

	var location string
	switch req.ResponseType {
	case ResponseTypeCode:
		code, err := s.tokens.IssueAuthCode(ctx, s.Config.Issuer, client.ID, subject, granted, redirectURI)
		if err != nil {
			return fail(s.internalError(ctx, "Failed to issue authorization code", err))
		}
		raw, err := s.tokens.Sign(code)
		if err != nil {
			return fail(s.internalError(ctx, "Failed to sign authorization code", err))
		}
		location, err = buildRedirect(redirectURI, url.Values{"code": {raw}}, req.State, false)
		if err != nil {
			return fail(s.internalError(ctx, "Failed to build redirect", err))
		}
	case ResponseTypeToken:
		access, err := s.tokens.IssueAccessToken(ctx, s.Config.Issuer, client.ID, subject, granted, s.Config.AccessTokenTTL, nil)
		if err != nil {
			return fail(s.internalError(ctx, "Failed to issue access token", err))
		}
		raw, err := s.tokens.Sign(access)
		if err != nil {
			return fail(s.internalError(ctx, "Failed to sign access token", err))
		}
		params := url.Values{
			"access_token": {raw},
			"token_type":   {"bearer"},
			"expires_in":   {strconv.FormatInt(int64(access.ExpiresIn(s.Config.Clock())/time.Second), 10)},
			"scope":        {granted},
		}
		location, err = buildRedirect(redirectURI, params, req.State, true)
		if err != nil {
			return fail(s.internalError(ctx, "Failed to build redirect", err))
		}
	default:
		return fail(ErrUnsupportedResponseType(fmt.Sprintf("response type %q is not supported", req.ResponseType)))
	}

	instrumentation.SetSpanSuccess(span)
	s.Auditor.LogAuthorizationGranted(subject, client.Alias, req.IPAddress, req.ResponseType, granted)
	s.metrics().RecordAuthorizationGranted(ctx, req.ResponseType)
	return &AuthorizeResult{Outcome: OutcomeRedirect, Location: location, Client: client, RedirectURI: redirectURI}
}

// resolveAuthorizeTarget resolves the client and its redirect URI. A non-nil
// result is an inline error.
func (s *Server) resolveAuthorizeTarget(ctx context.Context, req *AuthorizeRequest) (*storage.Client, string, *AuthorizeResult) {
	inline := func(oerr *Error) *AuthorizeResult {
		return &AuthorizeResult{Outcome: OutcomeError, Err: oerr}
	}

	if req.ClientID == "" {
		return nil, "", inline(ErrInvalidRequest("client_id is required"))
	}
	client, err := s.store.GetClientByAlias(ctx, req.ClientID)
	switch {
	case errors.Is(err, storage.ErrClientNotFound):
		return nil, "", inline(NewError(ErrorCodeInvalidRequest, "unknown client", http.StatusNotFound))
	case err != nil:
		return nil, "", inline(s.internalError(ctx, "Failed to look up client", err))
	}

	redirectURI := req.RedirectURI
	switch {
	case redirectURI != "":
		if !client.HasRedirectURI(redirectURI) {
			return nil, "", inline(ErrInvalidRequest("redirect_uri is not registered for this client"))
		}
	case len(client.RedirectURIs) == 1:
		redirectURI = client.RedirectURIs[0]
	default:
		return nil, "", inline(ErrInvalidRequest("redirect_uri is required"))
	}
	return client, redirectURI, nil
}

// redirectError redirects an error to the verified redirect URI, in the
// fragment for the token response type and in the query otherwise.
func (s *Server) redirectError(client *storage.Client, redirectURI string, req *AuthorizeRequest, oerr *Error) *AuthorizeResult {
	params := url.Values{"error": {oerr.Code}}
	if oerr.Description != "" {
		params.Set("error_description", oerr.Description)
	}
	location, err := buildRedirect(redirectURI, params, req.State, req.ResponseType == ResponseTypeToken)
	if err != nil {
		// the URI was registered and validated, so this cannot normally happen
		return &AuthorizeResult{Outcome: OutcomeError, Client: client, Err: oerr}
	}
	return &AuthorizeResult{Outcome: OutcomeRedirect, Location: location, Client: client, RedirectURI: redirectURI, Err: oerr}
}

// buildRedirect adds params and state to base, in the query or the fragment.
func buildRedirect(base string, params url.Values, state string, fragment bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}
	if state != "" {
		params.Set("state", state)
	}

	if fragment {
		u.Fragment = ""
		u.RawFragment = ""
		return u.String() + "#" + params.Encode(), nil
	}

	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
