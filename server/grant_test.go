package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/authserver/instrumentation"
	"github.com/giantswarm/authserver/internal/testutil"
	"github.com/giantswarm/authserver/storage"
	"github.com/giantswarm/authserver/storage/memory"
	"github.com/giantswarm/authserver/token"
)

func TestToken_DispatchErrors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name      string
		grantType string
		wantCode  string
	}{
		{"missing grant type", "", ErrorCodeInvalidRequest},
		{"unsupported grant type", "urn:ietf:params:oauth:grant-type:device_code", ErrorCodeUnsupportedGrantType},
		{"implicit is not a grant", "implicit", ErrorCodeUnsupportedGrantType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.srv.Token(context.Background(), &TokenRequest{GrantType: tt.grantType})
			wantOAuthError(t, err, tt.wantCode)
		})
	}
}

func TestAuthorizationCodeGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.issueCode(t, "read write")

	tok, granted, err := env.srv.Token(ctx, &TokenRequest{
		GrantType:   GrantTypeAuthorizationCode,
		Code:        code,
		RedirectURI: testutil.RedirectURI,
		ClientID:    "backend",
		Basic:       basic("backend", testSecret),
		IPAddress:   testIP,
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if granted != "read write" {
		t.Errorf("granted scope = %q, want the code's scope verbatim", granted)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		t.Fatalf("token = %+v, want access and refresh tokens", tok)
	}
	if tok.TokenType != "bearer" || tok.ExpiresIn != int64(time.Hour/time.Second) {
		t.Errorf("token type %q expires_in %d, want bearer 3600", tok.TokenType, tok.ExpiresIn)
	}

	access, err := env.srv.Tokens().VerifyAccessToken(ctx, tok.AccessToken, testutil.Issuer)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if access.Subject != env.user.ID.String() {
		t.Errorf("subject = %q, want user id", access.Subject)
	}
	if access.AuthCodeID == nil {
		t.Error("access token is not linked to its authorization code")
	}
}

func TestAuthorizationCodeGrant_ReplayRevokesIssuedTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.issueCode(t, "read")

	req := &TokenRequest{
		GrantType:   GrantTypeAuthorizationCode,
		Code:        code,
		RedirectURI: testutil.RedirectURI,
		ClientID:    "backend",
		Basic:       basic("backend", testSecret),
		IPAddress:   testIP,
	}
	tok, _, err := env.srv.Token(ctx, req)
	if err != nil {
		t.Fatalf("first redemption error = %v", err)
	}

	_, _, err = env.srv.Token(ctx, req)
	wantOAuthError(t, err, ErrorCodeInvalidGrant)

	if _, err := env.srv.Tokens().VerifyAccessToken(ctx, tok.AccessToken, testutil.Issuer); !errors.Is(err, token.ErrRevoked) {
		t.Errorf("access token after replay: error = %v, want ErrRevoked", err)
	}
	_, _, err = env.srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: tok.RefreshToken,
		Basic:        basic("backend", testSecret),
		IPAddress:    testIP,
	})
	wantOAuthError(t, err, ErrorCodeInvalidGrant)
}

// interleavingStore runs beforeAccess once, right before the next access
// token row is inserted.
type interleavingStore struct {
	*memory.Store
	beforeAccess func()
	access       []uuid.UUID
	refresh      []uuid.UUID
}

func (s *interleavingStore) CreateAccessToken(ctx context.Context, jti uuid.UUID, authCode uuid.NullUUID, expiresAt time.Time) error {
	if hook := s.beforeAccess; hook != nil {
		s.beforeAccess = nil
		hook()
	}
	s.access = append(s.access, jti)
	return s.Store.CreateAccessToken(ctx, jti, authCode, expiresAt)
}

func (s *interleavingStore) CreateRefreshToken(ctx context.Context, jti uuid.UUID, authCode uuid.NullUUID, expiresAt time.Time) error {
	s.refresh = append(s.refresh, jti)
	return s.Store.CreateRefreshToken(ctx, jti, authCode, expiresAt)
}

func TestAuthorizationCodeGrant_ReplayDuringIssuance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.issueCode(t, "read")

	store := &interleavingStore{Store: env.store}
	env.srv.tokens = token.NewManager(store, testutil.Secrets(), token.WithClock(env.clock.Now))

	req := &TokenRequest{
		GrantType:   GrantTypeAuthorizationCode,
		Code:        code,
		RedirectURI: testutil.RedirectURI,
		ClientID:    "backend",
		Basic:       basic("backend", testSecret),
		IPAddress:   testIP,
	}
	var replayErr error
	store.beforeAccess = func() {
		_, _, replayErr = env.srv.Token(ctx, req)
	}

	tok, _, err := env.srv.Token(ctx, req)
	wantOAuthError(t, replayErr, ErrorCodeInvalidGrant)
	wantOAuthError(t, err, ErrorCodeInvalidGrant)
	if tok != nil {
		t.Errorf("Token() = %+v, want no tokens for a replayed code", tok)
	}

	if len(store.access) != 1 || len(store.refresh) != 1 {
		t.Fatalf("stored %d access and %d refresh rows, want 1 each", len(store.access), len(store.refresh))
	}
	if ok, _ := env.store.AccessTokenExists(ctx, store.access[0]); ok {
		t.Error("access token row survived the replay")
	}
	if reason, _ := env.store.RefreshTokenRevocationReason(store.refresh[0]); reason != storage.RevocationReusedAuthorizationCode {
		t.Errorf("refresh revocation reason = %q, want %q", reason, storage.RevocationReusedAuthorizationCode)
	}
}

func TestAuthorizationCodeGrant_ClientAuthentication(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		basic    *BasicCredentials
		redirect string
		wantCode string
	}{
		{"missing basic for confidential client", "backend", nil, testutil.RedirectURI, ErrorCodeInvalidClient},
		{"wrong secret", "backend", basic("backend", "wrong-secret"), testutil.RedirectURI, ErrorCodeInvalidClient},
		{"basic names another client", "backend", basic("spa", ""), testutil.RedirectURI, ErrorCodeInvalidClient},
		{"unknown client", "nope", nil, testutil.RedirectURI, ErrorCodeInvalidClient},
		{"redirect mismatch", "backend", basic("backend", testSecret), "https://app.example.com/other", ErrorCodeInvalidGrant},
		{"code issued to another client", "spa", nil, testutil.RedirectURI, ErrorCodeInvalidGrant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			code := env.issueCode(t, "read")
			_, _, err := env.srv.Token(context.Background(), &TokenRequest{
				GrantType:   GrantTypeAuthorizationCode,
				Code:        code,
				RedirectURI: tt.redirect,
				ClientID:    tt.clientID,
				Basic:       tt.basic,
				IPAddress:   testIP,
			})
			oerr := wantOAuthError(t, err, tt.wantCode)
			if tt.wantCode == ErrorCodeInvalidClient && oerr.Status != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", oerr.Status)
			}
		})
	}
}

func TestAuthorizationCodeGrant_MissingParameters(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.srv.Token(context.Background(), &TokenRequest{
		GrantType: GrantTypeAuthorizationCode,
		ClientID:  "backend",
	})
	wantOAuthError(t, err, ErrorCodeInvalidRequest)
}

func TestPasswordGrant(t *testing.T) {
	tests := []struct {
		name      string
		basic     *BasicCredentials
		username  string
		password  string
		scope     string
		wantCode  string
		wantScope string
	}{
		{"default scope", basic("backend", testSecret), testUser, testPassword, "", "", "read"},
		{"explicit scope", basic("backend", testSecret), testUser, testPassword, "write read", "", "write read"},
		{"scope not allowed", basic("backend", testSecret), testUser, testPassword, "read delete", ErrorCodeInvalidScope, ""},
		{"wrong password", basic("backend", testSecret), testUser, "wrong-password", "", ErrorCodeInvalidGrant, ""},
		{"unknown user", basic("backend", testSecret), "mallory", testPassword, "", ErrorCodeInvalidGrant, ""},
		{"missing password", basic("backend", testSecret), testUser, "", "", ErrorCodeInvalidRequest, ""},
		{"missing basic", nil, testUser, testPassword, "", ErrorCodeInvalidClient, ""},
		{"untrusted public client", basic("spa", ""), testUser, testPassword, "", ErrorCodeInvalidClient, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tok, granted, err := env.srv.Token(context.Background(), &TokenRequest{
				GrantType: GrantTypePassword,
				Username:  tt.username,
				Password:  tt.password,
				Scope:     tt.scope,
				Basic:     tt.basic,
				IPAddress: testIP,
			})
			if tt.wantCode != "" {
				wantOAuthError(t, err, tt.wantCode)
				return
			}
			if err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			if granted != tt.wantScope {
				t.Errorf("granted = %q, want %q", granted, tt.wantScope)
			}
			if tok.RefreshToken == "" {
				t.Error("password grant must return a refresh token")
			}
		})
	}
}

func TestPasswordGrant_UntrustedConfidentialClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.srv.RegisterClient(ctx, ClientRegistration{
		Alias:         "worker",
		Type:          storage.ClientTypeConfidential,
		Secret:        testSecret,
		AllowedScopes: "read",
		DefaultScopes: "read",
	})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	_, _, err = env.srv.Token(ctx, &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  testUser,
		Password:  testPassword,
		Basic:     basic("worker", testSecret),
		IPAddress: testIP,
	})
	wantOAuthError(t, err, ErrorCodeUnauthorizedClient)
}

func TestPasswordGrant_BruteForce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	attempt := func(password, ip string) error {
		_, _, err := env.srv.Token(ctx, &TokenRequest{
			GrantType: GrantTypePassword,
			Username:  testUser,
			Password:  password,
			Basic:     basic("backend", testSecret),
			IPAddress: ip,
		})
		return err
	}

	for i := range 10 {
		if err := attempt(fmt.Sprintf("wrong-%d", i), testIP); err == nil {
			t.Fatalf("attempt %d with wrong password succeeded", i+1)
		}
	}

	// the eleventh attempt is rejected even with the right password
	oerr := wantOAuthError(t, attempt(testPassword, testIP), ErrorCodeInvalidGrant)
	if oerr.Description != "too many failed authentication attempts" {
		t.Errorf("description = %q, want lockout", oerr.Description)
	}

	if err := attempt(testPassword, "198.51.100.7"); err != nil {
		t.Errorf("attempt from another address error = %v, want success", err)
	}

	env.clock.Advance(time.Hour + time.Second)
	if err := attempt(testPassword, testIP); err != nil {
		t.Errorf("attempt after the window error = %v, want success", err)
	}
}

func TestClientSecret_BruteForce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for range 10 {
		_, _, err := env.srv.Token(ctx, &TokenRequest{
			GrantType: GrantTypeClientCredentials,
			Basic:     basic("backend", "wrong-secret"),
			IPAddress: testIP,
		})
		wantOAuthError(t, err, ErrorCodeInvalidClient)
	}

	_, _, err := env.srv.Token(ctx, &TokenRequest{
		GrantType: GrantTypeClientCredentials,
		Basic:     basic("backend", testSecret),
		IPAddress: testIP,
	})
	oerr := wantOAuthError(t, err, ErrorCodeInvalidClient)
	if oerr.Description != "too many failed authentication attempts" {
		t.Errorf("description = %q, want lockout", oerr.Description)
	}
}

func TestClientCredentialsGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tok, granted, err := env.srv.Token(ctx, &TokenRequest{
		GrantType: GrantTypeClientCredentials,
		Scope:     "write",
		Basic:     basic("backend", testSecret),
		IPAddress: testIP,
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if granted != "write" {
		t.Errorf("granted = %q, want write", granted)
	}
	if tok.RefreshToken != "" {
		t.Error("client_credentials must not return a refresh token")
	}

	claims, err := env.srv.Tokens().VerifyAccessToken(ctx, tok.AccessToken, testutil.Issuer)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	if claims.Subject != env.confidential.ID.String() {
		t.Errorf("subject = %q, want the client id", claims.Subject)
	}

	_, _, err = env.srv.Token(ctx, &TokenRequest{
		GrantType: GrantTypeClientCredentials,
		Basic:     basic("spa", ""),
		IPAddress: testIP,
	})
	wantOAuthError(t, err, ErrorCodeUnauthorizedClient)

	_, _, err = env.srv.Token(ctx, &TokenRequest{
		GrantType: GrantTypeClientCredentials,
		ClientID:  "spa",
		Basic:     basic("backend", testSecret),
		IPAddress: testIP,
	})
	wantOAuthError(t, err, ErrorCodeInvalidClient)
}

func (env *testEnv) passwordTokens(t *testing.T, scope string) (access, refresh string) {
	t.Helper()
	tok, _, err := env.srv.Token(context.Background(), &TokenRequest{
		GrantType: GrantTypePassword,
		Username:  testUser,
		Password:  testPassword,
		Scope:     scope,
		Basic:     basic("backend", testSecret),
		IPAddress: testIP,
	})
	if err != nil {
		t.Fatalf("password grant error = %v", err)
	}
	return tok.AccessToken, tok.RefreshToken
}

func TestRefreshTokenGrant_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, refresh := env.passwordTokens(t, "read write")

	refreshReq := func(raw string) (string, string, error) {
		tok, granted, err := env.srv.Token(ctx, &TokenRequest{
			GrantType:    GrantTypeRefreshToken,
			RefreshToken: raw,
			Basic:        basic("backend", testSecret),
			IPAddress:    testIP,
		})
		if err != nil {
			return "", "", err
		}
		return tok.RefreshToken, granted, nil
	}

	next, granted, err := refreshReq(refresh)
	if err != nil {
		t.Fatalf("first refresh error = %v", err)
	}
	if granted != "read write" {
		t.Errorf("granted = %q, want the original scope", granted)
	}

	_, _, err = refreshReq(refresh)
	wantOAuthError(t, err, ErrorCodeInvalidGrant)

	if _, _, err := refreshReq(next); err != nil {
		t.Errorf("refresh with the rotated token error = %v", err)
	}
}

func TestRefreshTokenGrant_Scope(t *testing.T) {
	tests := []struct {
		name      string
		scope     string
		wantCode  string
		wantScope string
	}{
		{"no scope keeps original", "", "", "read write"},
		{"blank scope keeps original", "  \t ", "", "read write"},
		{"narrower scope", "read", "", "read"},
		{"wider scope", "read admin", ErrorCodeInvalidScope, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, refresh := env.passwordTokens(t, "read write")

			_, granted, err := env.srv.Token(context.Background(), &TokenRequest{
				GrantType:    GrantTypeRefreshToken,
				RefreshToken: refresh,
				Scope:        tt.scope,
				Basic:        basic("backend", testSecret),
				IPAddress:    testIP,
			})
			if tt.wantCode != "" {
				wantOAuthError(t, err, tt.wantCode)
				return
			}
			if err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			if granted != tt.wantScope {
				t.Errorf("granted = %q, want %q", granted, tt.wantScope)
			}
		})
	}
}

func TestRefreshTokenGrant_ClientChecks(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		basic    *BasicCredentials
		token    func(access, refresh string) string
		wantCode string
	}{
		{"confidential client requires basic", "", nil, nil, ErrorCodeInvalidClient},
		{"wrong client id", "spa", basic("backend", testSecret), nil, ErrorCodeInvalidGrant},
		{"access token presented", "", basic("backend", testSecret), func(a, _ string) string { return a }, ErrorCodeInvalidGrant},
		{"missing token", "", basic("backend", testSecret), func(string, string) string { return "" }, ErrorCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			access, refresh := env.passwordTokens(t, "read")
			raw := refresh
			if tt.token != nil {
				raw = tt.token(access, refresh)
			}
			_, _, err := env.srv.Token(context.Background(), &TokenRequest{
				GrantType:    GrantTypeRefreshToken,
				RefreshToken: raw,
				ClientID:     tt.clientID,
				Basic:        tt.basic,
				IPAddress:    testIP,
			})
			wantOAuthError(t, err, tt.wantCode)
		})
	}
}

func TestRefreshTokenGrant_PublicClientWithoutBasic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	access, err := env.srv.Tokens().IssueAccessToken(ctx, testutil.Issuer, env.public.ID, env.user.ID.String(), "read", time.Hour, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	refresh, err := env.srv.Tokens().IssueRefreshToken(ctx, access)
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}
	raw, err := env.srv.Sign(refresh)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	tok, _, err := env.srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: raw,
		ClientID:     "spa",
		IPAddress:    testIP,
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.RefreshToken == "" {
		t.Error("rotation must return a new refresh token")
	}
}

func TestRefreshTokenGrant_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	_, refresh := env.passwordTokens(t, "read")

	env.clock.Advance(time.Hour + token.RefreshGrace + time.Minute)
	_, _, err := env.srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: refresh,
		Basic:        basic("backend", testSecret),
		IPAddress:    testIP,
	})
	wantOAuthError(t, err, ErrorCodeInvalidGrant)
}

func TestRefreshTokenGrant_ConcurrentRotation(t *testing.T) {
	env := newTestEnv(t)
	_, refresh := env.passwordTokens(t, "read")

	const workers = 8
	results := make(chan error, workers)
	for range workers {
		go func() {
			_, _, err := env.srv.Token(context.Background(), &TokenRequest{
				GrantType:    GrantTypeRefreshToken,
				RefreshToken: refresh,
				Basic:        basic("backend", testSecret),
				IPAddress:    testIP,
			})
			results <- err
		}()
	}

	succeeded := 0
	for range workers {
		if err := <-results; err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("%d concurrent rotations succeeded, want exactly 1", succeeded)
	}
}

func TestTokenResponse_InternalErrorsAreGeneric(t *testing.T) {
	env := newTestEnv(t)
	env.srv.tokens = token.NewManager(env.store, brokenKeys{})

	_, _, err := env.srv.Token(context.Background(), &TokenRequest{
		GrantType: GrantTypeClientCredentials,
		Basic:     basic("backend", testSecret),
		IPAddress: testIP,
	})
	oerr := wantOAuthError(t, err, ErrorCodeServerError)
	if oerr.Description != "internal server error" {
		t.Errorf("description = %q leaks internals", oerr.Description)
	}
}

func TestInternalError_RecordedOnSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, SpanProcessor: rec})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	env := newTestEnv(t)
	env.srv.SetInstrumentation(inst)
	env.srv.tokens = token.NewManager(env.store, brokenKeys{})

	_, _, err = env.srv.Token(context.Background(), &TokenRequest{
		GrantType: GrantTypeClientCredentials,
		Basic:     basic("backend", testSecret),
		IPAddress: testIP,
	})
	wantOAuthError(t, err, ErrorCodeServerError)

	spans := rec.Ended()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	span := spans[len(spans)-1]
	if span.Name() != "server.Token" {
		t.Fatalf("last span = %q, want server.Token", span.Name())
	}
	if span.Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", span.Status().Code)
	}
	recorded := false
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			recorded = true
		}
	}
	if !recorded {
		t.Error("internal error was not recorded as a span event")
	}
}

type brokenKeys struct{}

func (brokenKeys) SigningKey() ([]byte, error) { return nil, errors.New("kms unreachable") }
