package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/config"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "ramassage"}

func TestMintAndParseAccessToken(t *testing.T) {
	now := time.Now().UTC()
	token, err := MintAccessToken(testJWT, now, 42, enums.ActorRoleCollector, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := ParseAccessToken(testJWT, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	id, err := claims.ActorID()
	if err != nil || id != 42 {
		t.Fatalf("unexpected actor id %d err=%v", id, err)
	}
	if claims.Role != enums.ActorRoleCollector {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.Issuer != testJWT.Issuer || claims.ID == "" {
		t.Fatalf("registered claims not populated: %+v", claims.RegisteredClaims)
	}
}

func TestParseAccessTokenRejects(t *testing.T) {
	now := time.Now().UTC()

	expired, _ := MintAccessToken(testJWT, now.Add(-2*time.Hour), 1, enums.ActorRoleAdmin, time.Hour)
	if _, err := ParseAccessToken(testJWT, expired); err == nil {
		t.Fatalf("expected expired token to fail")
	}

	good, _ := MintAccessToken(testJWT, now, 1, enums.ActorRoleAdmin, time.Hour)
	if _, err := ParseAccessToken(config.JWTConfig{Secret: "other", Issuer: "ramassage"}, good); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}
	if _, err := ParseAccessToken(config.JWTConfig{Secret: "secret", Issuer: "someone-else"}, good); err == nil {
		t.Fatalf("expected wrong issuer to fail")
	}

	noRole := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "1", Issuer: "ramassage", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	})
	signed, err := noRole.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(testJWT, signed); err == nil {
		t.Fatalf("expected missing role to fail")
	}
}

func TestMintAccessTokenValidation(t *testing.T) {
	now := time.Now()
	if _, err := MintAccessToken(config.JWTConfig{}, now, 1, enums.ActorRoleAdmin, time.Hour); err == nil {
		t.Fatalf("expected secret required")
	}
	if _, err := MintAccessToken(testJWT, now, 0, enums.ActorRoleAdmin, time.Hour); err == nil {
		t.Fatalf("expected actor id required")
	}
	if _, err := MintAccessToken(testJWT, now, 1, enums.ActorRole("driver"), time.Hour); err == nil {
		t.Fatalf("expected invalid role")
	}
	if _, err := MintAccessToken(testJWT, now, 1, enums.ActorRoleAdmin, 0); err == nil {
		t.Fatalf("expected ttl required")
	}
}

func TestActorIDRejectsBadSubject(t *testing.T) {
	for _, sub := range []string{"", "abc", "0", "-1"} {
		c := &AccessTokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: sub}}
		if _, err := c.ActorID(); err == nil {
			t.Fatalf("expected error for subject %q", sub)
		}
	}
}
