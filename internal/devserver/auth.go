package devserver

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var errUnauthorized = errors.New("unauthorized")

// resolveUser turns a bearer token into a user id. With a secret configured
// the token must be a valid HS256 JWT and the subject claim wins; without
// one, an unverified subject or the fallback id is accepted.
func (s *Server) resolveUser(token, fallback string) (string, error) {
	if s.cfg.JWTSecret != "" {
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			return "", errUnauthorized
		}
		sub, err := parsed.Claims.GetSubject()
		if err != nil || sub == "" {
			return "", errUnauthorized
		}
		return sub, nil
	}
	if token != "" {
		if parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{}); err == nil {
			if sub, err := parsed.Claims.GetSubject(); err == nil && sub != "" {
				return sub, nil
			}
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", errUnauthorized
}
