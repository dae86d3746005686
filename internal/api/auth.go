package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer is the issuer claim of every API token.
const TokenIssuer = "homeaware"

// ErrEmptySecret is returned when signing or verifying without a secret.
var ErrEmptySecret = errors.New("api: jwt secret is empty")

// IssueToken signs an HS256 bearer token for subject, valid for ttl.
//
// Parameters:
//   - secret: The shared signing secret (security.jwt.secret)
//   - subject: Who the token is for, e.g. "kitchen-panel"
//   - ttl: Token lifetime; zero or negative issues a token without expiry
//
// Returns:
//   - string: The signed token
//   - error: If the secret is empty or signing fails
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    TokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies an HS256 token signed with secret and returns its
// claims. Expired tokens and tokens from another issuer are rejected.
func ParseToken(secret, raw string) (*jwt.RegisteredClaims, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	return claims, nil
}
