package auth

import (
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user_1",
		Name: "alice",
		Role: "admin",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user_1" || claims.Name != "alice" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user_1",
		Name: "alice",
		Role: "user",
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued)
	if err == nil {
		t.Fatal("expected ParseToken() to fail for expired token")
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user_1",
		Name: "alice",
		Role: "user",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	parts := strings.SplitN(issued, ".", 2)
	forged := parts[0] + "x." + parts[1]
	if _, err := ParseToken(secret, forged); err == nil {
		t.Fatal("expected ParseToken() to reject a modified payload")
	}

	if _, err := ParseToken([]byte("other-secret"), issued); err == nil {
		t.Fatal("expected ParseToken() to reject a foreign secret")
	}
}

func TestHashTokenStable(t *testing.T) {
	a := HashToken("refresh-token-value")
	b := HashToken("refresh-token-value")
	if a != b {
		t.Fatal("HashToken() should be deterministic")
	}
	if a == HashToken("different") {
		t.Fatal("HashToken() should differ for different inputs")
	}
	if len(a) != 64 {
		t.Fatalf("HashToken() length = %d, want 64 hex chars", len(a))
	}
}
