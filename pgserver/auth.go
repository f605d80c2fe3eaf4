package pgserver

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// validateToken checks that token is a JWT signed with secret. A token with
// a subject is only accepted for the user it names.
func validateToken(secret, user, token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return fmt.Errorf("invalid subject claim: %w", err)
	}
	if sub != "" && sub != user {
		return fmt.Errorf("token subject %q does not match user %q", sub, user)
	}
	return nil
}
