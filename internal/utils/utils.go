package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func Now() time.Time {
	return time.Now()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

// TokenSubject reads the subject claim out of a bearer token without
// verifying it. Good enough for knowing who we are locally; the server does
// the real validation.
func TokenSubject(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty token")
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", err
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}
