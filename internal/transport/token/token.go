// Package token validates the bearer tokens the auth service issues. Both
// the HTTP middleware and the websocket handshake go through it, so the two
// entry points cannot drift apart.
package token

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ParseUserID verifies the signature and expiry and returns the user id from
// the subject claim.
func ParseUserID(raw string, secret []byte) (uuid.UUID, error) {
	tok, err := jwt.Parse(raw,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing token: %w", err)
	}
	if !tok.Valid {
		return uuid.Nil, jwt.ErrTokenUnverifiable
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, jwt.ErrTokenInvalidClaims
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return uuid.Nil, fmt.Errorf("reading subject: %w", err)
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing subject %q: %w", sub, err)
	}
	return userID, nil
}
