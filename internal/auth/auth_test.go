package auth

import (
	"errors"
	"testing"
	"time"
)

func testKeyConfig() *KeyConfig {
	return &KeyConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
	}
}

func TestKeyRoundTrip(t *testing.T) {
	cfg := testKeyConfig()

	key, err := GenerateKey(cfg, RoleAnon)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	claims, err := ValidateKey(cfg, key)
	if err != nil {
		t.Fatalf("ValidateKey failed: %v", err)
	}
	if claims.Role != RoleAnon {
		t.Fatalf("expected role %q, got %q", RoleAnon, claims.Role)
	}
	if claims.ExpiresAt != nil {
		t.Fatal("zero TTL should issue a key without expiry")
	}
}

func TestValidateKeyRejects(t *testing.T) {
	cfg := testKeyConfig()

	other := testKeyConfig()
	other.Secret = []byte("another-secret")
	foreign, _ := GenerateKey(other, RoleAnon)

	wrongAudience := testKeyConfig()
	wrongAudience.Audience = "elsewhere"
	misdirected, _ := GenerateKey(wrongAudience, RoleAnon)

	expiredCfg := testKeyConfig()
	expiredCfg.TTL = -time.Minute
	expired, _ := GenerateKey(expiredCfg, RoleAnon)

	unknownRole, _ := GenerateKey(cfg, "admin")

	tests := []struct {
		name string
		key  string
	}{
		{"garbage", "not-a-jwt"},
		{"foreign secret", foreign},
		{"wrong audience", misdirected},
		{"expired", expired},
		{"unknown role", unknownRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateKey(cfg, tt.key); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestGenerateKeyRequiresSecret(t *testing.T) {
	if _, err := GenerateKey(&KeyConfig{}, RoleAnon); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestSessionTokenHash(t *testing.T) {
	hash, err := HashSessionToken("token-1")
	if err != nil {
		t.Fatalf("HashSessionToken failed: %v", err)
	}
	if hash == "token-1" {
		t.Fatal("token must not be stored in clear")
	}
	if err := CompareSessionToken(hash, "token-1"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := CompareSessionToken(hash, "token-2"); err == nil {
		t.Fatal("expected mismatch")
	}
}
