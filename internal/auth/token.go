package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingAuthorization = errors.New("authorization header is missing")
	ErrMalformedBearer      = errors.New("authorization header must be 'Bearer <token>'")
	ErrNoSubject            = errors.New("token carries no subject")
)

// BearerToken returns the raw token of an "Authorization: Bearer" header.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAuthorization
	}

	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.Contains(token, " ") {
		return "", ErrMalformedBearer
	}
	return token, nil
}

// UnverifiedSubject reads the sub claim without checking the signature.
// Only dev mode trusts it; the OIDC verifier checks tokens everywhere else.
func UnverifiedSubject(raw string) (string, error) {
	if raw == "" {
		return "", ErrMalformedBearer
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", fmt.Errorf("unreadable token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}
