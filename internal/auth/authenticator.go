package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned for a missing, malformed, expired or badly
// signed credential.
var ErrUnauthorized = errors.New("unauthorized")

// DefaultCookieName is the cookie carrying the access token.
const DefaultCookieName = "accessToken"

// Authenticator validates the credential carried in connection-setup headers.
type Authenticator struct {
	jwt        *JWTConfig
	cookieName string
}

// NewAuthenticator builds an Authenticator reading the token from cookieName.
func NewAuthenticator(cfg *JWTConfig, cookieName string) *Authenticator {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Authenticator{jwt: cfg, cookieName: cookieName}
}

// Authenticate extracts the token from the cookie header, falling back to a
// bearer Authorization header, and returns the embedded user ID.
func (a *Authenticator) Authenticate(header http.Header) (string, error) {
	token := a.extractToken(header)
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims, err := ValidateToken(a.jwt, token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims.UserID, nil
}

func (a *Authenticator) extractToken(header http.Header) string {
	req := http.Request{Header: header}
	if cookie, err := req.Cookie(a.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	// Extract token from "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
