// Package auth defines the pluggable Authenticator interface and the
// default token-extraction function.
package auth

import (
	"net/http"
	"net/url"
	"strings"
)

// Result is what an Authenticator reports back after checking a token.
type Result struct {
	Success   bool
	UserID    string
	Metadata  map[string]any
	Error     string
	ErrorCode string
}

// Authenticator verifies a connection's claimed identity.
// Reconnection token revalidation is a separate, optional capability
// (TokenValidator); implementations that don't support it simply do not
// implement ValidateToken.
type Authenticator interface {
	Authenticate(token string) Result
}

// TokenValidator is the optional reconnection-revalidation capability.
type TokenValidator interface {
	ValidateToken(token string) bool
}

// ExtractToken reads a bearer token from the URL query parameter
// "token" or the "Authorization: Bearer …" header.
func ExtractToken(rawURL string, header http.Header) string {
	if u, err := url.Parse(rawURL); err == nil {
		if tok := u.Query().Get("token"); tok != "" {
			return tok
		}
	}
	if h := header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(h, prefix) {
			return strings.TrimPrefix(h, prefix)
		}
	}
	return ""
}
