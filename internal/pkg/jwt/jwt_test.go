package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestValidateAccessTokenRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Minute)
	userID := uuid.New()

	token, err := svc.GenerateAccessToken(userID, RoleTeacher)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	got, _ := claims.UserID()
	if got != userID || claims.Role != RoleTeacher {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateAccessTokenRejectsOtherSecret(t *testing.T) {
	token, _ := NewService("one", time.Minute).GenerateAccessToken(uuid.New(), RoleAdmin)

	if _, err := NewService("two", time.Minute).ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateAccessTokenExpired(t *testing.T) {
	svc := NewService("secret", -time.Minute)
	token, _ := svc.GenerateAccessToken(uuid.New(), RoleStudent)

	if _, err := svc.ValidateAccessToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}
