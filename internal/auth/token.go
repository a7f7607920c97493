package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenSecretRequired is returned when an issuer is constructed without a
// signing secret.
var ErrTokenSecretRequired = errors.New("token secret is required")

// TokenIssuer produces signed bearer tokens bound to a username. Tokens carry
// no expiry: once issued at registration they remain valid for the lifetime
// of the account record.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer constructs an issuer signing with the provided process-wide
// secret.
func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, ErrTokenSecretRequired
	}
	return &TokenIssuer{secret: []byte(trimmed)}, nil
}

// Issue signs a token for the provided username.
func (i *TokenIssuer) Issue(username string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", errors.New("username is required")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:  username,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Subject verifies the token signature and returns the username it was issued
// for.
func (i *TokenIssuer) Subject(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}
