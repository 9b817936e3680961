package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

// SignLocalToken issues an HS256 token accepted by an Auth configured with
// the same secret. It is meant for local runs and tests.
func SignLocalToken(secret []byte, id domain.Identity, audience string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret must be set")
	}
	if id.ID == "" {
		return "", errors.New("user id must be set")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": id.ID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if id.Name != "" {
		claims["name"] = id.Name
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
