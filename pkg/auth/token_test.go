package auth_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tradepost-labs/tradepost-backend/pkg/auth"
	"github.com/tradepost-labs/tradepost-backend/pkg/config"
	"github.com/tradepost-labs/tradepost-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "tradepost-test",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	actorID := uuid.New()

	signed, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		ActorID: actorID,
		Role:    enums.ActorRoleSeller,
	})
	if err != nil {
		t.Fatalf("MintAccessToken returned error: %v", err)
	}

	claims, err := auth.ParseAccessToken(cfg, signed)
	if err != nil {
		t.Fatalf("ParseAccessToken returned error: %v", err)
	}
	if claims.ActorID != actorID {
		t.Fatalf("expected actor %s, got %s", actorID, claims.ActorID)
	}
	if claims.Role != enums.ActorRoleSeller {
		t.Fatalf("expected role seller, got %s", claims.Role)
	}
	if claims.ID == "" {
		t.Fatal("expected a generated jti")
	}
}

func TestMintAccessTokenRejectsInvalidRole(t *testing.T) {
	_, err := auth.MintAccessToken(testJWTConfig(), time.Now(), auth.AccessTokenPayload{
		ActorID: uuid.New(),
		Role:    enums.ActorRole("ghost"),
	})
	if err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	signed, err := auth.MintAccessToken(cfg, time.Now().Add(-2*time.Hour), auth.AccessTokenPayload{
		ActorID: uuid.New(),
		Role:    enums.ActorRoleBuyer,
	})
	if err != nil {
		t.Fatalf("MintAccessToken returned error: %v", err)
	}

	if _, err := auth.ParseAccessToken(cfg, signed); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestParseAccessTokenRejectsWrongSecret(t *testing.T) {
	cfg := testJWTConfig()
	signed, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		ActorID: uuid.New(),
		Role:    enums.ActorRoleBuyer,
	})
	if err != nil {
		t.Fatalf("MintAccessToken returned error: %v", err)
	}

	other := cfg
	other.Secret = "different-secret"
	if _, err := auth.ParseAccessToken(other, signed); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}
