package auth

import (
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{
		UserID:   42,
		UserType: "FARMER",
		DeviceID: "D1",
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	if claims.UserID != 42 || claims.UserType != "FARMER" || claims.DeviceID != "D1" {
		t.Fatalf("unexpected claims")
	}
	if claims.Subject != "42" {
		t.Fatalf("subject must be the user id, got %q", claims.Subject)
	}
	if claims.Purpose != "" {
		t.Fatalf("normal tokens carry no purpose")
	}
}

func TestPinChangeToken(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", 15*time.Minute, Claims{
		UserID:   7,
		UserType: "AGENT",
		Purpose:  PurposePinChange,
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.Purpose != PurposePinChange {
		t.Fatalf("expected pin_change purpose, got %q", claims.Purpose)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{UserID: 1, UserType: "BUYER"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("other-secret", token); err == nil {
		t.Fatalf("expected signature rejection")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", -time.Minute, Claims{UserID: 1, UserType: "BUYER"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("secret", token); err == nil {
		t.Fatalf("expected expiry rejection")
	}
}
