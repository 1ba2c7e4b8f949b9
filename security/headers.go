package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets the headers common to every OAuth response.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

	if u, err := url.Parse(issuer); err == nil && u.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	SetNoStoreHeaders(w)
}

// SetNoStoreHeaders forbids caching of the response. Every response carrying
// a token or authorization code must set these.
func SetNoStoreHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// SetPageHeaders sets security headers for the HTML pages served by the
// authorization endpoint. The page may submit a form to itself and use its
// own inline stylesheet but nothing else.
func SetPageHeaders(w http.ResponseWriter, issuer string) {
	SetSecurityHeaders(w, issuer)
	w.Header().Set("Content-Security-Policy",
		"default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'")
}
