package api

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

var testSecret = []byte("test-secret")

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":  "user-123",
		"name": "Dana",
		"aud":  "api://aud",
		"iss":  "https://issuer/",
		"exp":  time.Now().Add(5 * time.Minute).Unix(),
		"nbf":  time.Now().Add(-time.Minute).Unix(),
	}
}

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	a, err := NewAuth(nil, AuthConfig{Audience: "api://aud", Issuer: "https://issuer/", TestSecret: testSecret})
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	return a
}

func TestBearerTokenFromString(t *testing.T) {
	token, err := bearerTokenFromString("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
	if _, err := bearerTokenFromString(""); !errors.Is(err, errMissingAuthorization) {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if _, err := bearerTokenFromString("Basic abc"); !errors.Is(err, errBadAuthorization) {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
	if _, err := bearerTokenFromString("Bearer " + strings.Repeat(".", 1000)); !errors.Is(err, errBadAuthorization) {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestIdentityFromAuthHeaderHS256(t *testing.T) {
	auth := newTestAuth(t)
	id, err := auth.IdentityFromAuthHeader("Bearer " + signTestToken(t, validClaims()))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if id.ID != "user-123" || id.Name != "Dana" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestIdentityFromTokenWithoutName(t *testing.T) {
	auth := newTestAuth(t)
	claims := validClaims()
	delete(claims, "name")
	id, err := auth.IdentityFromToken(signTestToken(t, claims))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.DisplayName() != "user-123" {
		t.Fatalf("expected display name to fall back to id, got %q", id.DisplayName())
	}
}

func TestIdentityRejectsInvalidTokens(t *testing.T) {
	auth := newTestAuth(t)
	cases := map[string]func(jwt.MapClaims){
		"expired":     func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-5 * time.Minute).Unix() },
		"not yet":     func(c jwt.MapClaims) { c["nbf"] = time.Now().Add(10 * time.Minute).Unix() },
		"audience":    func(c jwt.MapClaims) { c["aud"] = "api://other" },
		"issuer":      func(c jwt.MapClaims) { c["iss"] = "https://other/" },
		"missing sub": func(c jwt.MapClaims) { delete(c, "sub") },
		"missing exp": func(c jwt.MapClaims) { delete(c, "exp") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			claims := validClaims()
			mutate(claims)
			_, err := auth.IdentityFromToken(signTestToken(t, claims))
			if !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("expected unauthorized, got %v", err)
			}
		})
	}
}

func TestIdentityRejectsWrongSecret(t *testing.T) {
	auth := newTestAuth(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	signed, err := token.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.IdentityFromToken(signed); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := auth.IdentityFromToken(""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for empty token, got %v", err)
	}
}

func TestNewAuthRequiresKeys(t *testing.T) {
	if _, err := NewAuth(nil, AuthConfig{}); err == nil {
		t.Fatal("expected error without jwks or test secret")
	}
}

func TestSignLocalTokenRoundTrip(t *testing.T) {
	a, err := NewAuth(nil, AuthConfig{Audience: "api://aud", TestSecret: testSecret})
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	token, err := SignLocalToken(testSecret, domain.Identity{ID: "u1", Name: "Uma"}, "api://aud", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := a.IdentityFromToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.ID != "u1" || id.Name != "Uma" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if _, err := SignLocalToken(nil, domain.Identity{ID: "u1"}, "", time.Hour); err == nil {
		t.Fatal("expected error without secret")
	}
}
