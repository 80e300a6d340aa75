package transport

import (
	"net/http"
	"strings"
)

// Authenticator applies authentication to HTTP requests.
type Authenticator interface {
	Apply(req *http.Request, token string)
}

// NoAuth implements no authentication.
type NoAuth struct{}

// Apply implements the Authenticator interface for NoAuth.
func (a *NoAuth) Apply(_ *http.Request, _ string) {
	// No authentication applied
}

// TokenAuth sends the credential as "Authorization: <Scheme> <token>".
// Paperless-ngx API tokens use the "Token" scheme.
type TokenAuth struct {
	Scheme string
}

// Apply implements the Authenticator interface for TokenAuth.
func (a *TokenAuth) Apply(req *http.Request, token string) {
	scheme := a.Scheme
	if scheme == "" {
		scheme = "Token"
	}
	req.Header.Set("Authorization", scheme+" "+token)
}

// BearerAuth implements Bearer token authentication.
type BearerAuth struct{}

// Apply implements the Authenticator interface for BearerAuth.
func (a *BearerAuth) Apply(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}

// HeaderAuth implements custom header authentication.
type HeaderAuth struct {
	Header string
}

// Apply implements the Authenticator interface for HeaderAuth.
func (a *HeaderAuth) Apply(req *http.Request, token string) {
	req.Header.Set(a.Header, token)
}

// AuthForScheme returns the authenticator for a configured scheme name.
// Unknown schemes are sent verbatim as the Authorization scheme.
func AuthForScheme(scheme string) Authenticator {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", "token":
		return &TokenAuth{Scheme: "Token"}
	case "bearer":
		return &BearerAuth{}
	case "none":
		return &NoAuth{}
	default:
		return &TokenAuth{Scheme: strings.TrimSpace(scheme)}
	}
}
