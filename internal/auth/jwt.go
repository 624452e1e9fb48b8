package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload: the registered claims plus a role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var tokenParser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithExpirationRequired(),
)

// ParseToken validates an HS256 token and resolves the caller.
func ParseToken(raw string, secret []byte) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrUnauthorized
	}
	if len(secret) == 0 {
		return Identity{}, errors.New("auth: empty secret")
	}
	claims := &Claims{}
	token, err := tokenParser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	role, ok := ParseRole(claims.Role)
	if !ok {
		return Identity{}, fmt.Errorf("%w: role %q", ErrInvalidToken, claims.Role)
	}
	return Identity{Subject: claims.Subject, Role: role}, nil
}
