package oauth

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/giantswarm/authserver/security"
)

// loginPageTemplate collects resource owner credentials. The hidden fields
// carry the authorization request through the POST.
const loginPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sign in to {{.ClientAlias}}</title>
<style>
body { font-family: system-ui, sans-serif; background: #f4f5f7; display: flex; justify-content: center; padding-top: 10vh; }
form { background: #fff; padding: 2rem; border-radius: 8px; min-width: 18rem; box-shadow: 0 1px 4px rgba(0,0,0,.1); }
label { display: block; margin-top: 1rem; }
input[type=text], input[type=password] { width: 100%; padding: .5rem; box-sizing: border-box; }
button { margin-top: 1.5rem; width: 100%; padding: .6rem; }
.error { color: #b00020; }
</style>
</head>
<body>
<form method="post" action="{{.Action}}">
<h1>Sign in</h1>
<p><strong>{{.ClientAlias}}</strong> is requesting access{{if .Scope}} to <code>{{.Scope}}</code>{{end}}.</p>
{{if .Error}}<p class="error" role="alert">{{.Error}}</p>{{end}}
<input type="hidden" name="response_type" value="{{.ResponseType}}">
<input type="hidden" name="client_id" value="{{.ClientAlias}}">
<input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
<input type="hidden" name="scope" value="{{.Scope}}">
<input type="hidden" name="state" value="{{.State}}">
<label for="username">Username</label>
<input type="text" id="username" name="username" value="{{.Username}}" autocomplete="username" required autofocus>
<label for="password">Password</label>
<input type="password" id="password" name="password" autocomplete="current-password" required>
<button type="submit">Sign in</button>
</form>
</body>
</html>`

const errorPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Authorization failed</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 36rem; margin: 10vh auto; }
code { background: #eee; padding: .1rem .3rem; }
</style>
</head>
<body>
<h1>Authorization failed</h1>
<p><code>{{.Code}}</code></p>
<p>{{.Description}}</p>
</body>
</html>`

// fallbackErrorPage is served when the error page itself cannot be rendered.
const fallbackErrorPage = `<!DOCTYPE html><html><head><title>Error</title></head><body><h1>Authorization failed</h1></body></html>`

var (
	loginPageTmpl = template.Must(template.New("login").Parse(loginPageTemplate))
	errorPageTmpl = template.Must(template.New("error").Parse(errorPageTemplate))
)

type loginPageData struct {
	Action       string
	ClientAlias  string
	ResponseType string
	RedirectURI  string
	Scope        string
	State        string
	Username     string
	Error        string
}

type errorPageData struct {
	Code        string
	Description string
}

// renderLoginPage renders the credential form. Rendering failures fall back
// to the inline error page.
func (h *Handler) renderLoginPage(w http.ResponseWriter, status int, data loginPageData) {
	var buf bytes.Buffer
	if err := loginPageTmpl.Execute(&buf, data); err != nil {
		h.logger.Error("Failed to render login page", "error", err)
		h.renderErrorPage(w, ErrServerError("internal server error"))
		return
	}
	h.writePage(w, status, buf.Bytes())
}

// renderErrorPage renders an inline authorization error.
func (h *Handler) renderErrorPage(w http.ResponseWriter, oerr *OAuthError) {
	var buf bytes.Buffer
	if err := errorPageTmpl.Execute(&buf, errorPageData{Code: oerr.Code, Description: oerr.Description}); err != nil {
		h.logger.Error("Failed to render error page", "error", err)
		h.writePage(w, oerr.Status, []byte(fallbackErrorPage))
		return
	}
	h.writePage(w, oerr.Status, buf.Bytes())
}

func (h *Handler) writePage(w http.ResponseWriter, status int, body []byte) {
	security.SetPageHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
