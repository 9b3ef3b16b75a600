package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:           "user-1",
		EmailVerified: true,
		SecretKey:     "00112233445566778899aabbccddeeff",
		Exp:           time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || !claims.EmailVerified || claims.SecretKey != "00112233445566778899aabbccddeeff" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.IsAnonymous() {
		t.Fatal("expected a non-anonymous caller")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub: "user-1",
		Exp: time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	exp := time.Now().Add(time.Hour).Unix()
	issued, err := IssueToken(secret, Claims{Sub: "user-1", Exp: exp})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	forged, err := IssueToken([]byte("other"), Claims{Sub: "user-2", Exp: exp})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	payload, _, _ := strings.Cut(forged, ".")
	_, signature, _ := strings.Cut(issued, ".")

	for name, token := range map[string]string{
		"wrong secret":   forged,
		"swapped body":   payload + "." + signature,
		"no signature":   payload,
		"extra segment":  issued + ".x",
		"empty":          "",
		"garbage base64": "!!!." + signature,
	} {
		if _, err := ParseToken(secret, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestParseTokenRejectsUnusableSubject(t *testing.T) {
	secret := []byte("secret")
	for _, sub := range []string{"", "a/b"} {
		issued, err := IssueToken(secret, Claims{Sub: sub, Exp: time.Now().Add(time.Hour).Unix()})
		if err != nil {
			t.Fatalf("IssueToken() error = %v", err)
		}
		if _, err := ParseToken(secret, issued); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("sub %q: expected ErrInvalidToken, got %v", sub, err)
		}
	}
}

func TestAnonymousCallers(t *testing.T) {
	if !(Claims{Anonymous: true}).IsAnonymous() {
		t.Fatal("isAnonymous claim should mark the caller anonymous")
	}
	if !(Claims{ProviderID: ProviderAnonymous}).IsAnonymous() {
		t.Fatal("anonymous provider should mark the caller anonymous")
	}
	if (Claims{ProviderID: "password"}).IsAnonymous() {
		t.Fatal("password provider is not anonymous")
	}
}
