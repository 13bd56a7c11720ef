package auth

import (
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Identity{
		Sub:   "user-1",
		Name:  "Avery",
		Email: "avery@example.com",
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	identity, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if identity.Sub != "user-1" || identity.Name != "Avery" || identity.Email != "avery@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Identity{
		Sub:  "user-1",
		Name: "Avery",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); err == nil {
		t.Fatal("expected ParseToken() to fail for expired token")
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Identity{
		Sub: "user-1",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other-secret"), issued); err == nil {
		t.Fatal("expected ParseToken() to fail for wrong secret")
	}
	if _, err := ParseToken(secret, issued+"x"); err == nil {
		t.Fatal("expected ParseToken() to fail for tampered token")
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		identity Identity
		want     string
	}{
		{Identity{Name: "Avery", Email: "avery@example.com"}, "Avery"},
		{Identity{Email: "avery@example.com"}, "avery"},
		{Identity{}, "Unknown"},
	}
	for _, tc := range cases {
		if got := tc.identity.DisplayName(); got != tc.want {
			t.Errorf("DisplayName(%+v) = %q, want %q", tc.identity, got, tc.want)
		}
	}
}
