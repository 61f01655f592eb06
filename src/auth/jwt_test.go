package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthenticatorRoundTrip(t *testing.T) {
	a := NewJWTAuthenticator([]byte("secret"))
	token, err := a.IssueToken("user-1", time.Minute)
	require.NoError(t, err)

	res := a.Authenticate(token)
	assert.True(t, res.Success)
	assert.Equal(t, "user-1", res.UserID)
}

func TestJWTAuthenticatorRejectsExpired(t *testing.T) {
	a := NewJWTAuthenticator([]byte("secret"))
	token, err := a.IssueToken("user-1", -time.Minute)
	require.NoError(t, err)

	res := a.Authenticate(token)
	assert.False(t, res.Success)
	assert.Equal(t, "invalid_token", res.ErrorCode)
}

func TestJWTAuthenticatorRejectsWrongSecret(t *testing.T) {
	a := NewJWTAuthenticator([]byte("secret"))
	token, _ := a.IssueToken("user-1", time.Minute)

	other := NewJWTAuthenticator([]byte("different"))
	res := other.Authenticate(token)
	assert.False(t, res.Success)
}

func TestValidateTokenForReconnection(t *testing.T) {
	a := NewJWTAuthenticator([]byte("secret"))
	token, _ := a.IssueToken("user-1", time.Minute)
	assert.True(t, a.ValidateToken(token))
	assert.False(t, a.ValidateToken("garbage"))
}

func TestExtractTokenFromQueryParam(t *testing.T) {
	tok := ExtractToken("wss://host/ws?token=abc123", http.Header{})
	assert.Equal(t, "abc123", tok)
}

func TestExtractTokenFromAuthorizationHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer xyz789")
	tok := ExtractToken("wss://host/ws", h)
	assert.Equal(t, "xyz789", tok)
}

func TestExtractTokenPrefersQueryParam(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer header-token")
	tok := ExtractToken("wss://host/ws?token=query-token", h)
	assert.Equal(t, "query-token", tok)
}

func TestExtractTokenNoneProvided(t *testing.T) {
	tok := ExtractToken("wss://host/ws", http.Header{})
	assert.Equal(t, "", tok)
}
