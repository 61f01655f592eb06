package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal claim set the JWT authenticator expects:
// UserID carried as a custom claim alongside the registered ones.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies bearer tokens signed with a shared secret,
// a concrete Authenticator implementation.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator builds an authenticator keyed on secret.
func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret}
}

// Authenticate parses and verifies token, returning the embedded
// user-id on success.
func (a *JWTAuthenticator) Authenticate(token string) Result {
	if token == "" {
		return Result{Success: false, Error: "token required", ErrorCode: "missing_token"}
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return Result{Success: false, Error: "invalid or expired token", ErrorCode: "invalid_token"}
	}

	return Result{
		Success:  true,
		UserID:   claims.UserID,
		Metadata: map[string]any{"token_expires_at": claims.ExpiresAt},
	}
}

// ValidateToken re-checks a token's validity for reconnection
// revalidation.
func (a *JWTAuthenticator) ValidateToken(token string) bool {
	res := a.Authenticate(token)
	return res.Success
}

// IssueToken is a convenience helper for tests and local tooling: mints
// a token for userID valid for ttl.
func (a *JWTAuthenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
