package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestApplyBatchApprovalRollsBackOnDuplicate verifies that a unique
// violation halfway through a change set leaves no partial writes and
// keeps the batch claimable, so review can be retried after cleanup.
func TestApplyBatchApprovalRollsBackOnDuplicate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := openMigratedStore(t, ctx)

	if err := s.CreateUser(ctx, User{ID: "usr_1", Name: "taoist", Role: "user"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.InsertBatch(ctx, Batch{ID: "batch_1", Title: "rollback", Status: BatchStatusSubmitted, UserID: "usr_1"}); err != nil {
		t.Fatalf("insert batch: %v", err)
	}

	// An existing row for the second change to collide with.
	if _, err := s.DB().ExecContext(ctx, `
		INSERT INTO phrases (id, word, code, type, weight)
		VALUES ('ph_1', '网管', 'otgx', 'phrase', 100)
	`); err != nil {
		t.Fatalf("seed phrase: %v", err)
	}

	changes := []PhraseChange{
		{EditID: "ed_1", Action: EditActionCreate, PhraseID: "ph_2", Word: "新词", Code: "xinc", Type: "phrase", Weight: 100},
		{EditID: "ed_2", Action: EditActionCreate, PhraseID: "ph_3", Word: "网管", Code: "otgx", Type: "phrase", Weight: 101},
	}
	err := s.ApplyBatchApproval(ctx, "batch_1", "", changes)

	var dup *DuplicatePhraseError
	if !errors.As(err, &dup) {
		t.Fatalf("expected a duplicate phrase error, got %v", err)
	}
	if dup.Word != "网管" || dup.Code != "otgx" {
		t.Fatalf("unexpected duplicate %+v", dup)
	}

	// The first create must have rolled back with the rest.
	if p, err := s.GetPhraseByWordCode(ctx, "新词", "xinc"); err != nil {
		t.Fatalf("look up phrase: %v", err)
	} else if p != nil {
		t.Fatalf("expected no partial write, found %+v", p)
	}

	batch, err := s.GetBatch(ctx, "batch_1")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch == nil || batch.Status != BatchStatusSubmitted {
		t.Fatalf("expected the batch to stay submitted, got %+v", batch)
	}
}

// TestApplyBatchApprovalClaimsSubmittedBatchOnly verifies the claim row
// update: a batch is only applied from the submitted state, and only once.
func TestApplyBatchApprovalClaimsSubmittedBatchOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := openMigratedStore(t, ctx)

	if err := s.CreateUser(ctx, User{ID: "usr_1", Name: "taoist", Role: "user"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.InsertBatch(ctx, Batch{ID: "batch_1", Title: "claim", Status: BatchStatusDraft, UserID: "usr_1"}); err != nil {
		t.Fatalf("insert batch: %v", err)
	}

	if err := s.ApplyBatchApproval(ctx, "batch_1", "", nil); !errors.Is(err, ErrBatchNotSubmitted) {
		t.Fatalf("expected ErrBatchNotSubmitted for a draft, got %v", err)
	}

	if ok, err := s.UpdateBatchStatus(ctx, "batch_1", BatchStatusDraft, BatchStatusSubmitted, ""); err != nil || !ok {
		t.Fatalf("submit batch: ok=%v err=%v", ok, err)
	}
	if err := s.ApplyBatchApproval(ctx, "batch_1", "fine", nil); err != nil {
		t.Fatalf("approve submitted batch: %v", err)
	}

	// The first claim won; a second approval must not reapply.
	if err := s.ApplyBatchApproval(ctx, "batch_1", "again", nil); !errors.Is(err, ErrBatchNotSubmitted) {
		t.Fatalf("expected ErrBatchNotSubmitted on the second claim, got %v", err)
	}

	batch, err := s.GetBatch(ctx, "batch_1")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch == nil || batch.Status != BatchStatusApproved || batch.ReviewNote != "fine" {
		t.Fatalf("expected the first approval to stand, got %+v", batch)
	}
}

func TestApplyBatchApprovalDeleteIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := openMigratedStore(t, ctx)

	if err := s.CreateUser(ctx, User{ID: "usr_1", Name: "taoist", Role: "user"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.InsertBatch(ctx, Batch{ID: "batch_1", Title: "delete gone", Status: BatchStatusSubmitted, UserID: "usr_1"}); err != nil {
		t.Fatalf("insert batch: %v", err)
	}

	// Deleting a phrase someone else already removed is not an error.
	changes := []PhraseChange{
		{EditID: "ed_1", Action: EditActionDelete, Word: "不在", Code: "zzzz"},
	}
	if err := s.ApplyBatchApproval(ctx, "batch_1", "", changes); err != nil {
		t.Fatalf("approve with vanished target: %v", err)
	}

	batch, err := s.GetBatch(ctx, "batch_1")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch == nil || batch.Status != BatchStatusApproved {
		t.Fatalf("expected approved, got %+v", batch)
	}
}

func openMigratedStore(t *testing.T, ctx context.Context) *PostgresStore {
	t.Helper()

	db, err := Open(ctx, testDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

// testDatabaseURL picks the database under test, preferring
// KEYTAO_TEST_DATABASE_URL and falling back to the standard POSTGRES_*
// variables a CI runner exports. Without either, the test is skipped.
func testDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := strings.TrimSpace(os.Getenv("KEYTAO_TEST_DATABASE_URL")); url != "" {
		return url
	}

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		t.Skip("KEYTAO_TEST_DATABASE_URL is not set")
	}
	port := getenvDefault("POSTGRES_PORT", "5432")
	user := getenvDefault("POSTGRES_USER", "keytao")
	pass := getenvDefault("POSTGRES_PASSWORD", "keytao")
	dbname := getenvDefault("POSTGRES_DB", "keytao_test")
	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenvDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
