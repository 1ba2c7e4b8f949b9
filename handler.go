package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/authserver/instrumentation"
	"github.com/giantswarm/authserver/scope"
	"github.com/giantswarm/authserver/security"
	"github.com/giantswarm/authserver/server"
	"github.com/giantswarm/authserver/storage"
	"github.com/giantswarm/authserver/token"
)

// Endpoint paths
const (
	PathToken     = "/oauth/token"
	PathAuthorize = "/oauth/authorize"
	PathClients   = "/clients/"
	PathPing      = "/liveops/ping"
)

const tokenTypeBearer = "bearer"

// Handler is a thin HTTP adapter for the authorization Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
		tracer: server.Instrumentation.Tracer("http"),
	}
}

// Routes returns a mux serving every endpoint, wrapped with request id
// propagation.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathToken, h.instrument("token", http.HandlerFunc(h.ServeToken)))
	mux.Handle(PathAuthorize, h.instrument("authorize", http.HandlerFunc(h.ServeAuthorization)))
	mux.Handle("GET "+PathClients+"{alias}", h.instrument("clients",
		h.ValidateToken(h.RequirePermission(scope.ResourceClient, scope.ActionRead)(http.HandlerFunc(h.ServeClient)))))
	mux.HandleFunc("GET "+PathPing, h.ServePing)
	return security.RequestIDMiddleware(mux)
}

// ServePing is the liveness probe.
func (h *Handler) ServePing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ServeToken handles the OAuth token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	basic, oerr := parseBasicAuth(r)
	if oerr != nil {
		h.writeError(w, oerr)
		return
	}

	req := &server.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientID:     r.PostForm.Get("client_id"),
		Username:     r.PostForm.Get("username"),
		Password:     r.PostForm.Get("password"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        r.PostForm.Get("scope"),
		Basic:        basic,
		IPAddress:    clientIP,
	}

	tok, granted, err := h.server.Token(r.Context(), req)
	if err != nil {
		oerr := server.AsError(err)
		h.logger.Debug("Token request rejected",
			"grant_type", req.GrantType, "error", oerr.Code, "ip", clientIP)
		h.writeError(w, oerr)
		return
	}
	h.writeTokenResponse(w, tok, granted)
}

// ServeAuthorization handles the authorization endpoint. GET renders the
// credential form, POST submits it.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderErrorPage(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	req := &server.AuthorizeRequest{
		ResponseType: r.Form.Get("response_type"),
		ClientID:     r.Form.Get("client_id"),
		RedirectURI:  r.Form.Get("redirect_uri"),
		Scope:        r.Form.Get("scope"),
		State:        r.Form.Get("state"),
		IPAddress:    clientIP,
	}

	var res *server.AuthorizeResult
	if r.Method == http.MethodGet {
		res = h.server.PrepareAuthorization(r.Context(), req)
	} else {
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		res = h.server.Authorize(r.Context(), req)
	}

	switch res.Outcome {
	case server.OutcomeRedirect:
		security.SetNoStoreHeaders(w)
		http.Redirect(w, r, res.Location, http.StatusFound)
	case server.OutcomePrompt:
		status := http.StatusOK
		data := loginPageData{
			Action:       PathAuthorize,
			ClientAlias:  res.Client.Alias,
			ResponseType: req.ResponseType,
			RedirectURI:  req.RedirectURI,
			Scope:        req.Scope,
			State:        req.State,
			Username:     req.Username,
		}
		if res.Err != nil {
			status = res.Err.Status
			data.Error = res.Err.Description
		}
		h.renderLoginPage(w, status, data)
	default:
		h.renderErrorPage(w, res.Err)
	}
}

// ServeClient returns the public view of the client named in the path.
func (h *Handler) ServeClient(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")
	client, err := h.server.GetClientByAlias(r.Context(), alias)
	switch {
	case errors.Is(err, storage.ErrClientNotFound):
		h.writeError(w, NewOAuthError(ErrorCodeInvalidRequest, "No client with the given alias was found", http.StatusNotFound))
		return
	case err != nil:
		h.logger.Error("Failed to look up client", "alias", alias, "error", err,
			"request_id", security.GetRequestID(r.Context()))
		h.writeError(w, ErrServerError("internal server error"))
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(NewClientResponse(client))
}

// ValidateToken is middleware that validates bearer access tokens and stores
// their claims in the request context.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.clientIP(r)

		if h.checkIPRateLimit(w, r, clientIP) {
			return
		}

		accessToken, ok := h.extractBearerToken(w, r)
		if !ok {
			return
		}

		claims, err := h.server.Tokens().VerifyAccessToken(r.Context(), accessToken, h.server.Config.Issuer)
		if err != nil {
			if !token.IsVerificationError(err) {
				h.logger.Error("Failed to verify access token", "error", err,
					"request_id", security.GetRequestID(r.Context()))
				h.writeError(w, ErrServerError("internal server error"))
				return
			}
			h.logger.Warn("Token validation failed", "ip", clientIP, "error", err)
			h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Token validation failed")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

// RequirePermission is middleware that requires a validated token whose
// scope grants action on resource. It must run after ValidateToken.
func (h *Handler) RequirePermission(resource scope.Resource, action scope.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Missing token")
				return
			}
			if !scope.HasPermission(claims.Scope, resource, action) {
				h.writeInsufficientScopeError(w, fmt.Sprintf("Token does not allow %s on %s", action, resource))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFromContext returns the access token claims stored by ValidateToken.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.Claims)
	return claims, ok
}

// ContextWithClaims returns a copy of ctx carrying claims.
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP)
	h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	h.server.Auditor.LogRateLimitExceeded(clientIP, r.URL.Path)
	w.Header().Set("Retry-After", "60")
	h.writeError(w, NewOAuthError(ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests))
	return true
}

// extractBearerToken extracts the Bearer token from the Authorization header.
// Returns the token and true if successful, or writes an error and returns false.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Missing Authorization header")
		return "", false
	}

	scheme, tok, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || tok == "" {
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Invalid Authorization header format")
		return "", false
	}
	return tok, true
}

// parseBasicAuth extracts client credentials from an Authorization: Basic
// header. Both parts are form-urlencoded per RFC 6749 section 2.3.1. No
// header yields nil; a malformed one is invalid_client.
func parseBasicAuth(r *http.Request) (*server.BasicCredentials, *OAuthError) {
	if r.Header.Get("Authorization") == "" {
		return nil, nil
	}
	rawAlias, rawSecret, ok := r.BasicAuth()
	if !ok {
		return nil, ErrInvalidClient("Malformed Authorization header")
	}
	alias, err := url.QueryUnescape(rawAlias)
	if err != nil {
		return nil, ErrInvalidClient("Malformed Authorization header")
	}
	secret, err := url.QueryUnescape(rawSecret)
	if err != nil {
		return nil, ErrInvalidClient("Malformed Authorization header")
	}
	return &server.BasicCredentials{Alias: alias, Secret: secret}, nil
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, tok *oauth2.Token, granted string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = tokenTypeBearer
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tokenType,
		ExpiresIn:    tok.ExpiresIn,
		RefreshToken: tok.RefreshToken,
		Scope:        granted,
	})
}

// writeError writes a JSON OAuth error. 401 responses challenge for Basic
// client authentication.
func (h *Handler) writeError(w http.ResponseWriter, oerr *OAuthError) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if oerr.Status == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+h.realm()+`"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oerr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	})
}

// writeUnauthorizedError writes a 401 with a Bearer challenge per RFC 6750.
func (h *Handler) writeUnauthorizedError(w http.ResponseWriter, code, description string) {
	w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(code, description))
	h.writeError(w, NewOAuthError(code, description, http.StatusUnauthorized))
}

// writeInsufficientScopeError writes a 403 insufficient_scope with a Bearer
// challenge.
func (h *Handler) writeInsufficientScopeError(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(ErrorCodeInsufficientScope, description))
	h.writeError(w, ErrInsufficientScope(description))
}

func (h *Handler) formatWWWAuthenticate(errCode, errorDesc string) string {
	params := []string{
		fmt.Sprintf(`realm="%s"`, h.realm()),
		fmt.Sprintf(`error="%s"`, errCode),
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, strings.ReplaceAll(errorDesc, `"`, `'`)))
	}
	return "Bearer " + strings.Join(params, ", ")
}

func (h *Handler) realm() string {
	return h.server.Config.Issuer
}

// instrument records a span and request metrics for endpoint.
func (h *Handler) instrument(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := h.tracer.Start(r.Context(), "http."+endpoint)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, rec.status)
		if h.server.Instrumentation.ShouldLogClientIPs() {
			instrumentation.AddSecurityAttributes(span, h.clientIP(r))
		}
		h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, r.Method, endpoint, rec.status,
			float64(time.Since(start).Microseconds())/1000)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
