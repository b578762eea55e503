package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{
		UserID: "user-1",
		Role:   "admin",
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseToken("secret", "issuer", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	if claims.UserID != "user-1" || claims.Role != "admin" || claims.Subject != "user-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	expired, err := NewAccessToken("secret", "issuer", -time.Minute, Claims{UserID: "user-1", Role: "user"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("secret", "issuer", expired); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}

	valid, err := NewAccessToken("secret", "issuer", time.Minute, Claims{UserID: "user-1", Role: "user"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("other-secret", "issuer", valid); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
	if _, err := ParseToken("secret", "other-issuer", valid); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}
	if _, err := ParseToken("secret", "issuer", "not-a-token"); err == nil {
		t.Fatalf("expected malformed token to fail")
	}
}

func TestNewAccessTokenRequiresSecret(t *testing.T) {
	if _, err := NewAccessToken("", "issuer", time.Minute, Claims{UserID: "user-1"}); err == nil {
		t.Fatalf("expected empty secret to error")
	}
}
