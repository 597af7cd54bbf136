package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(secret string, clock func() time.Time) *TokenManager {
	return NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte(secret),
		Issuer:        "strive-auth",
		Audience:      "strive-api",
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	manager := newTestManager("test-secret", func() time.Time { return now })

	token, expiresIn, err := manager.IssueToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if expiresIn != 3600 {
		t.Fatalf("expected 3600 second lifetime, got %d", expiresIn)
	}

	subject, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("expected subject user-1, got %q", subject)
	}
}

func TestIssueTokenRequiresSubject(t *testing.T) {
	manager := newTestManager("test-secret", nil)
	if _, _, err := manager.IssueToken(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty subject")
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	manager := NewTokenManager(TokenManagerConfig{})
	if _, _, err := manager.IssueToken(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error without signing secret")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	manager := newTestManager("test-secret", clock)

	token, _, err := manager.IssueToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := manager.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer := newTestManager("secret-a", clock)
	verifier := newTestManager("secret-b", clock)

	token, _, err := issuer.IssueToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Fatal("expected validation failure for mismatched secret")
	}
}

func TestValidateTokenRejectsWrongAudience(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "strive-auth",
		Audience:      "other-service",
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
	verifier := newTestManager("test-secret", clock)

	token, _, err := issuer.IssueToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Fatal("expected validation failure for mismatched audience")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	manager := newTestManager("test-secret", nil)
	if _, err := manager.ValidateToken("not-a-jwt"); err == nil {
		t.Fatal("expected validation failure for malformed token")
	}
}

func TestDefaultTTLApplied(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	manager := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "strive-auth",
		Audience:      "strive-api",
		Clock:         func() time.Time { return now },
	})

	_, expiresIn, err := manager.IssueToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if expiresIn != int64(defaultTokenTTL.Seconds()) {
		t.Fatalf("expected default TTL %d seconds, got %d", int64(defaultTokenTTL.Seconds()), expiresIn)
	}
}
