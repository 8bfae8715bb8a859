package auth

import (
	"context"
	"testing"
	"time"
)

func TestGenerateAndParseToken(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("u-42", "bde-7", "Ada", "Lovelace", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.UserUUID() != "u-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.BdeUUID != "bde-7" {
		t.Fatalf("unexpected bde_uuid: %s", claims.BdeUUID)
	}
	if claims.Firstname != "Ada" || claims.Lastname != "Lovelace" {
		t.Fatalf("name not preserved: %s %s", claims.Firstname, claims.Lastname)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		t.Fatalf("timestamps missing")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	if _, err := GenerateToken("", "bde-7", "", "", time.Minute); err == nil {
		t.Fatalf("expected error for empty user uuid")
	}
	if _, err := GenerateToken("u-1", "", "", "", time.Minute); err == nil {
		t.Fatalf("expected error for empty bde uuid")
	}
	if _, err := GenerateToken("u-1", "bde-7", "", "", 0); err == nil {
		t.Fatalf("expected error for non-positive ttl")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := ParseAndValidate(token); err == nil {
			t.Fatalf("expected failure for token %q", token)
		}
	}
}

func TestParseRejectsExpired(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("u-1", "bde-1", "", "", time.Millisecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := ParseAndValidate(token); err == nil {
		t.Fatalf("expected expired token to fail validation")
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "first-secret")
	ResetSecretForTests()
	token, err := GenerateToken("u-1", "bde-1", "", "", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	t.Setenv(secretEnvVariable, "second-secret")
	ResetSecretForTests()
	if _, err := ParseAndValidate(token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	defer ResetSecretForTests()

	if _, err := GenerateToken("u-1", "bde-1", "", "", time.Minute); err == nil {
		t.Fatalf("expected missing secret error")
	}
}

func TestContextHelpers(t *testing.T) {
	claims := &Claims{BdeUUID: "bde-1"}
	ctx := ContextWithClaims(context.Background(), claims)
	got, ok := ClaimsFromContext(ctx)
	if !ok || got.BdeUUID != "bde-1" {
		t.Fatalf("claims not round-tripped")
	}
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Fatalf("expected no claims on fresh context")
	}

	ctx = ContextWithToken(context.Background(), "raw-token")
	token, ok := TokenFromContext(ctx)
	if !ok || token != "raw-token" {
		t.Fatalf("token not round-tripped")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "s3cret"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch error")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}
