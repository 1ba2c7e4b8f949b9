package oauth

import (
	"github.com/giantswarm/authserver/storage"
)

// TokenResponse is the token endpoint success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// ClientResponse is the public view of a registered client. It never
// carries the secret.
type ClientResponse struct {
	ID            string   `json:"id"`
	Alias         string   `json:"alias"`
	Type          string   `json:"type"`
	RedirectURIs  []string `json:"redirect_uris"`
	AllowedScopes string   `json:"allowed_scopes"`
	DefaultScopes string   `json:"default_scopes,omitempty"`
	Trusted       bool     `json:"trusted"`
}

// NewClientResponse builds the public view of client.
func NewClientResponse(client *storage.Client) ClientResponse {
	uris := client.RedirectURIs
	if uris == nil {
		uris = []string{}
	}
	return ClientResponse{
		ID:            client.ID.String(),
		Alias:         client.Alias,
		Type:          string(client.Type),
		RedirectURIs:  uris,
		AllowedScopes: client.AllowedScopes,
		DefaultScopes: client.DefaultScopes,
		Trusted:       client.Trusted,
	}
}
