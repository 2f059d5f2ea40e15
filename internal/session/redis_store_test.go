package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + mini.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs, mini
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-1", "user_1", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}

	user, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession() error = %v", err)
	}
	if user.ID != "user_1" {
		t.Fatalf("user ID = %q, want user_1", user.ID)
	}
}

func TestSaveRejectsPastExpiry(t *testing.T) {
	rs, _ := setupTestRedis(t)

	err := rs.SaveRefreshSession(context.Background(), "hash-1", "user_1", time.Now().Add(-time.Minute))
	if err == nil {
		t.Fatalf("expected error for an already expired session")
	}
}

func TestLookupExpiredSession(t *testing.T) {
	rs, mini := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-1", "user_1", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	mini.FastForward(2 * time.Second)

	if _, err := rs.LookupRefreshSession(ctx, "hash-1"); err == nil {
		t.Fatalf("expected error for an expired session")
	}
}

func TestLookupUnknownSession(t *testing.T) {
	rs, _ := setupTestRedis(t)

	if _, err := rs.LookupRefreshSession(context.Background(), "no-such-hash"); err == nil {
		t.Fatalf("expected error for an unknown session")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := rs.SaveRefreshSession(ctx, "hash-1", "user_1", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	if err := rs.SaveRefreshSession(ctx, "hash-2", "user_2", expiresAt); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}

	if err := rs.RevokeRefreshSession(ctx, "hash-1"); err != nil {
		t.Fatalf("RevokeRefreshSession() error = %v", err)
	}

	if _, err := rs.LookupRefreshSession(ctx, "hash-1"); err == nil {
		t.Fatalf("revoked session must not resolve")
	}
	// Other sessions are untouched.
	if user, err := rs.LookupRefreshSession(ctx, "hash-2"); err != nil || user.ID != "user_2" {
		t.Fatalf("LookupRefreshSession(hash-2) = %v, %v", user, err)
	}

	// Revoking an unknown hash is a no-op.
	if err := rs.RevokeRefreshSession(ctx, "no-such-hash"); err != nil {
		t.Fatalf("RevokeRefreshSession(no-such-hash) error = %v", err)
	}
}
