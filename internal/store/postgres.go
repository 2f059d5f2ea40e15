package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserExists        = errors.New("user already exists")
	ErrBatchNotSubmitted = errors.New("batch is not in submitted state")
)

// DuplicatePhraseError reports the row that tripped the (word, code)
// unique constraint while a batch was being applied.
type DuplicatePhraseError struct {
	Word string
	Code string
}

func (e *DuplicatePhraseError) Error() string {
	return fmt.Sprintf("phrase %q already exists at code %q", e.Word, e.Code)
}

// MissingPhraseError reports a change or delete whose target phrase no
// longer exists.
type MissingPhraseError struct {
	Word string
	Code string
}

func (e *MissingPhraseError) Error() string {
	return fmt.Sprintf("no phrase %q at code %q", e.Word, e.Code)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	status := user.Status
	if status == "" {
		status = UserStatusActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, display_name, email, password_hash, role, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Name, user.DisplayName, user.Email, user.PasswordHash, user.Role, status)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, email, password_hash, role, status, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.Status, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, email, password_hash, role, status, created_at, updated_at
		FROM users
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.Name, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.Status, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) GetUserByName(ctx context.Context, name string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, email, password_hash, role, status, created_at, updated_at
		FROM users
		WHERE name=$1
	`, name).Scan(&user.ID, &user.Name, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.Status, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by name: %w", err)
	}
	return &user, nil
}

// EnsureAdminUser seeds or refreshes the bootstrap admin account. It
// also re-activates the seed on conflict so a disabled admin cannot
// lock the instance out.
func (s *PostgresStore) EnsureAdminUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, display_name, email, password_hash, role, status)
		VALUES ($1, $2, $3, $4, $5, 'admin', 'active')
		ON CONFLICT (name) DO UPDATE SET role='admin', status='active', updated_at=NOW()
	`, user.ID, user.Name, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("ensure admin user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAdminEmails(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email FROM users WHERE role='admin' AND email <> ''`)
	if err != nil {
		return nil, fmt.Errorf("list admin emails: %w", err)
	}
	defer rows.Close()

	emails := make([]string, 0)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan admin email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin emails: %w", err)
	}
	return emails, nil
}

// ListUsers returns one page of accounts for the admin screen, matched
// by a case-insensitive substring over name, display name and email.
// An empty query matches everything.
func (s *PostgresStore) ListUsers(ctx context.Context, query string, limit, offset int) ([]User, int, error) {
	pattern := "%" + query + "%"

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM users
		WHERE name ILIKE $1 OR display_name ILIKE $1 OR email ILIKE $1
	`, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, email, password_hash, role, status, created_at, updated_at
		FROM users
		WHERE name ILIKE $1 OR display_name ILIKE $1 OR email ILIKE $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.Status, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return users, total, nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET role=$2, updated_at=NOW()
		WHERE id=$1
	`, userID, role)
	if err != nil {
		return false, fmt.Errorf("update user role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update user role rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetUserStatus(ctx context.Context, userID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET status=$2, updated_at=NOW()
		WHERE id=$1
	`, userID, status)
	if err != nil {
		return false, fmt.Errorf("set user status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set user status rows: %w", err)
	}
	return affected > 0, nil
}

// ---- refresh sessions and token revocation ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.name, u.display_name, u.email, u.role, u.status
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Name, &user.DisplayName, &user.Email, &user.Role, &user.Status)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- phrases ----

const phraseColumns = `id, word, code, type, weight, status, COALESCE(user_id, ''), remark, created_at, updated_at`

func scanPhrase(row interface{ Scan(...any) error }) (Phrase, error) {
	var item Phrase
	err := row.Scan(&item.ID, &item.Word, &item.Code, &item.Type, &item.Weight, &item.Status, &item.UserID, &item.Remark, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) GetPhraseByID(ctx context.Context, phraseID string) (*Phrase, error) {
	item, err := scanPhrase(s.db.QueryRowContext(ctx, `
		SELECT ` + phraseColumns + ` FROM phrases WHERE id=$1
	`, phraseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get phrase: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) GetPhraseByWordCode(ctx context.Context, word, code string) (*Phrase, error) {
	item, err := scanPhrase(s.db.QueryRowContext(ctx, `
		SELECT ` + phraseColumns + ` FROM phrases WHERE word=$1 AND code=$2
	`, word, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get phrase by word and code: %w", err)
	}
	return &item, nil
}

// ListPhrasesByCode returns every phrase at a code, best ranked first.
func (s *PostgresStore) ListPhrasesByCode(ctx context.Context, code string) ([]Phrase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ` + phraseColumns + `
		FROM phrases
		WHERE code=$1
		ORDER BY weight DESC, word ASC
	`, code)
	if err != nil {
		return nil, fmt.Errorf("list phrases by code: %w", err)
	}
	defer rows.Close()

	items := make([]Phrase, 0)
	for rows.Next() {
		item, err := scanPhrase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phrase: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phrases: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountPhrasesByCodeAndType(ctx context.Context, code, phraseType string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM phrases WHERE code=$1 AND type=$2
	`, code, phraseType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count phrases at code: %w", err)
	}
	return count, nil
}

// PhraseFilter narrows ListPhrases. Empty fields match everything; Code
// matches by prefix so partial typing finds candidates.
type PhraseFilter struct {
	Word   string
	Code   string
	Type   string
	Limit  int
	Offset int
}

func (s *PostgresStore) ListPhrases(ctx context.Context, filter PhraseFilter) ([]Phrase, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ` + phraseColumns + `
		FROM phrases
		WHERE ($1 = '' OR word = $1)
			AND ($2 = '' OR code LIKE $2 || '%')
			AND ($3 = '' OR type = $3)
		ORDER BY code ASC, weight DESC
		LIMIT $4 OFFSET $5
	`, filter.Word, filter.Code, filter.Type, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list phrases: %w", err)
	}
	defer rows.Close()

	items := make([]Phrase, 0)
	for rows.Next() {
		item, err := scanPhrase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phrase: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phrases: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountPhrases(ctx context.Context, filter PhraseFilter) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM phrases
		WHERE ($1 = '' OR word = $1)
			AND ($2 = '' OR code LIKE $2 || '%')
			AND ($3 = '' OR type = $3)
	`, filter.Word, filter.Code, filter.Type).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count phrases: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListAllPhrases(ctx context.Context) ([]Phrase, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ` + phraseColumns + ` FROM phrases ORDER BY code ASC, weight DESC`)
	if err != nil {
		return nil, fmt.Errorf("list all phrases: %w", err)
	}
	defer rows.Close()

	items := make([]Phrase, 0)
	for rows.Next() {
		item, err := scanPhrase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phrase: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phrases: %w", err)
	}
	return items, nil
}

// ---- issues ----

func (s *PostgresStore) InsertIssue(ctx context.Context, issue Issue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (id, title, body, status, user_id)
		VALUES ($1, $2, $3, $4, $5)
	`, issue.ID, issue.Title, issue.Body, issue.Status, issue.UserID)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIssue(ctx context.Context, issueID string) (*Issue, error) {
	var item Issue
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.title, i.body, i.status, i.user_id, COALESCE(NULLIF(u.display_name, ''), u.name), i.created_at, i.updated_at
		FROM issues i
		JOIN users u ON u.id = i.user_id
		WHERE i.id=$1
	`, issueID).Scan(&item.ID, &item.Title, &item.Body, &item.Status, &item.UserID, &item.UserName, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListIssues(ctx context.Context, status string) ([]Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.title, i.body, i.status, i.user_id, COALESCE(NULLIF(u.display_name, ''), u.name), i.created_at, i.updated_at
		FROM issues i
		JOIN users u ON u.id = i.user_id
		WHERE ($1 = '' OR i.status = $1)
		ORDER BY i.created_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	items := make([]Issue, 0)
	for rows.Next() {
		var item Issue
		if err := rows.Scan(&item.ID, &item.Title, &item.Body, &item.Status, &item.UserID, &item.UserName, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateIssueStatus(ctx context.Context, issueID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE issues
		SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status <> $2
	`, issueID, status)
	if err != nil {
		return false, fmt.Errorf("update issue status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update issue status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertIssueComment(ctx context.Context, comment IssueComment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issue_comments (id, issue_id, user_id, body)
		VALUES ($1, $2, $3, $4)
	`, comment.ID, comment.IssueID, comment.UserID, comment.Body)
	if err != nil {
		return fmt.Errorf("insert issue comment: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE issues SET updated_at=NOW() WHERE id=$1`, comment.IssueID); err != nil {
		return fmt.Errorf("touch issue: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListIssueComments(ctx context.Context, issueID string) ([]IssueComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.issue_id, c.user_id, COALESCE(NULLIF(u.display_name, ''), u.name), c.body, c.created_at
		FROM issue_comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.issue_id=$1
		ORDER BY c.created_at ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list issue comments: %w", err)
	}
	defer rows.Close()

	items := make([]IssueComment, 0)
	for rows.Next() {
		var item IssueComment
		if err := rows.Scan(&item.ID, &item.IssueID, &item.UserID, &item.UserName, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan issue comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue comments: %w", err)
	}
	return items, nil
}

// ---- batches and edits ----

const batchColumns = `
	b.id, b.title, b.status, b.user_id, COALESCE(NULLIF(u.display_name, ''), u.name),
	b.issue_id, b.sync_task_id, b.review_note,
	(SELECT COUNT(*) FROM edits e WHERE e.batch_id = b.id),
	b.created_at, b.updated_at`

func scanBatch(row interface{ Scan(...any) error }) (Batch, error) {
	var item Batch
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Status,
		&item.UserID,
		&item.UserName,
		&item.IssueID,
		&item.SyncTaskID,
		&item.ReviewNote,
		&item.EditCount,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertBatch(ctx context.Context, batch Batch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, title, status, user_id, issue_id)
		VALUES ($1, $2, $3, $4, $5)
	`, batch.ID, batch.Title, batch.Status, batch.UserID, batch.IssueID)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	item, err := scanBatch(s.db.QueryRowContext(ctx, `
		SELECT ` + batchColumns + `
		FROM batches b
		JOIN users u ON u.id = b.user_id
		WHERE b.id=$1
	`, batchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return &item, nil
}

// BatchFilter narrows ListBatches; empty fields match everything.
type BatchFilter struct {
	Status string
	UserID string
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ` + batchColumns + `
		FROM batches b
		JOIN users u ON u.id = b.user_id
		WHERE ($1 = '' OR b.status = $1)
			AND ($2 = '' OR b.user_id = $2)
		ORDER BY b.created_at DESC
	`, filter.Status, filter.UserID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	items := make([]Batch, 0)
	for rows.Next() {
		item, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return items, nil
}

// UpdateBatchStatus flips a batch from one lifecycle state to another.
// The previous state is part of the WHERE clause so concurrent
// transitions cannot both win.
func (s *PostgresStore) UpdateBatchStatus(ctx context.Context, batchID, fromStatus, toStatus, reviewNote string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET status=$3, review_note=$4, updated_at=NOW()
		WHERE id=$1 AND status=$2
	`, batchID, fromStatus, toStatus, reviewNote)
	if err != nil {
		return false, fmt.Errorf("update batch status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update batch status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteBatch(ctx context.Context, batchID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE id=$1`, batchID)
	if err != nil {
		return false, fmt.Errorf("delete batch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete batch rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertEdit(ctx context.Context, edit Edit) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edits (id, batch_id, user_id, position, action, word, code, type, weight, old_word, phrase_id, remark, status)
		VALUES ($1, $2, $3,
			(SELECT COALESCE(MAX(position)+1, 0) FROM edits WHERE batch_id=$2),
			$4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, edit.ID, edit.BatchID, edit.UserID, edit.Action, edit.Word, edit.Code, edit.Type, edit.Weight, edit.OldWord, edit.PhraseID, edit.Remark, edit.Status)
	if err != nil {
		return fmt.Errorf("insert edit: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE batches SET updated_at=NOW() WHERE id=$1`, edit.BatchID); err != nil {
		return fmt.Errorf("touch batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteEdit(ctx context.Context, batchID, editID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM edits WHERE id=$2 AND batch_id=$1`, batchID, editID)
	if err != nil {
		return false, fmt.Errorf("delete edit: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete edit rows: %w", err)
	}
	if affected > 0 {
		if _, err := s.db.ExecContext(ctx, `UPDATE batches SET updated_at=NOW() WHERE id=$1`, batchID); err != nil {
			return false, fmt.Errorf("touch batch: %w", err)
		}
	}
	return affected > 0, nil
}

const editColumns = `id, batch_id, user_id, position, action, word, code, type, weight, old_word, phrase_id, remark, status, created_at`

func scanEdit(row interface{ Scan(...any) error }) (Edit, error) {
	var item Edit
	err := row.Scan(
		&item.ID,
		&item.BatchID,
		&item.UserID,
		&item.Position,
		&item.Action,
		&item.Word,
		&item.Code,
		&item.Type,
		&item.Weight,
		&item.OldWord,
		&item.PhraseID,
		&item.Remark,
		&item.Status,
		&item.CreatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListEditsByBatch(ctx context.Context, batchID string) ([]Edit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ` + editColumns + `
		FROM edits
		WHERE batch_id=$1
		ORDER BY position ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list edits: %w", err)
	}
	defer rows.Close()

	items := make([]Edit, 0)
	for rows.Next() {
		item, err := scanEdit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edit: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edits: %w", err)
	}
	return items, nil
}

// PhraseChange is one resolved operation of an approved batch, ready to
// be applied to the phrase table.
type PhraseChange struct {
	EditID   string
	Action   string
	PhraseID string
	Word     string
	Code     string
	Type     string
	Weight   int
	OldWord  string
	UserID   string
	Remark   string
}

// ApplyBatchApproval flips a submitted batch to approved and applies all
// its edits to the phrase table in one transaction. Any failure rolls
// everything back, so a batch is never half applied.
func (s *PostgresStore) ApplyBatchApproval(ctx context.Context, batchID, reviewNote string, changes []PhraseChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch approval: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE batches
		SET status='approved', review_note=$2, updated_at=NOW()
		WHERE id=$1 AND status='submitted'
	`, batchID, reviewNote)
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("claim batch rows: %w", err)
	} else if affected == 0 {
		return ErrBatchNotSubmitted
	}

	for _, change := range changes {
		switch change.Action {
		case EditActionCreate:
			_, err := tx.ExecContext(ctx, `
				INSERT INTO phrases (id, word, code, type, weight, status, user_id, remark)
				VALUES ($1, $2, $3, $4, $5, 'finish', NULLIF($6, ''), $7)
			`, change.PhraseID, change.Word, change.Code, change.Type, change.Weight, change.UserID, change.Remark)
			if isUniqueViolation(err) {
				return &DuplicatePhraseError{Word: change.Word, Code: change.Code}
			}
			if err != nil {
				return fmt.Errorf("insert phrase: %w", err)
			}
		case EditActionChange:
			applied, err := applyPhraseChange(ctx, tx, change)
			if err != nil {
				return err
			}
			if !applied {
				return &MissingPhraseError{Word: change.OldWord, Code: change.Code}
			}
		case EditActionDelete:
			// A phrase already gone is fine; delete is idempotent.
			_, err := tx.ExecContext(ctx, `
				DELETE FROM phrases WHERE id=$1 OR (word=$2 AND code=$3)
			`, change.PhraseID, change.Word, change.Code)
			if err != nil {
				return fmt.Errorf("delete phrase: %w", err)
			}
		default:
			return fmt.Errorf("unknown edit action %q", change.Action)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE edits SET status='approved', weight=$2 WHERE id=$1
		`, change.EditID, change.Weight); err != nil {
			return fmt.Errorf("mark edit approved: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch approval: %w", err)
	}
	return nil
}

func applyPhraseChange(ctx context.Context, tx *sql.Tx, change PhraseChange) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE phrases
		SET word=$1, type=$2, weight=$3, remark=$4, updated_at=NOW()
		WHERE word=$5 AND code=$6
	`, change.Word, change.Type, change.Weight, change.Remark, change.OldWord, change.Code)
	if isUniqueViolation(err) {
		return false, &DuplicatePhraseError{Word: change.Word, Code: change.Code}
	}
	if err != nil {
		return false, fmt.Errorf("change phrase: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("change phrase rows: %w", err)
	}
	if affected > 0 {
		return true, nil
	}
	if change.PhraseID == "" {
		return false, nil
	}
	result, err = tx.ExecContext(ctx, `
		UPDATE phrases
		SET word=$2, type=$3, weight=$4, remark=$5, updated_at=NOW()
		WHERE id=$1
	`, change.PhraseID, change.Word, change.Type, change.Weight, change.Remark)
	if isUniqueViolation(err) {
		return false, &DuplicatePhraseError{Word: change.Word, Code: change.Code}
	}
	if err != nil {
		return false, fmt.Errorf("change phrase by id: %w", err)
	}
	affected, err = result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("change phrase by id rows: %w", err)
	}
	return affected > 0, nil
}

// ---- sync tasks ----

const syncTaskColumns = `id, status, progress, github_branch, github_pr_url, github_pr_number,
	processed_items, total_items, processed_files_json, pending_files_json, error,
	started_at, completed_at, created_at, updated_at`

func scanSyncTask(row interface{ Scan(...any) error }) (SyncTask, error) {
	var item SyncTask
	var processedJSON, pendingJSON []byte
	err := row.Scan(
		&item.ID,
		&item.Status,
		&item.Progress,
		&item.GithubBranch,
		&item.GithubPrURL,
		&item.GithubPrNumber,
		&item.ProcessedItems,
		&item.TotalItems,
		&processedJSON,
		&pendingJSON,
		&item.Error,
		&item.StartedAt,
		&item.CompletedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return SyncTask{}, err
	}
	if err := json.Unmarshal(processedJSON, &item.ProcessedFiles); err != nil {
		return SyncTask{}, fmt.Errorf("decode processed files: %w", err)
	}
	if err := json.Unmarshal(pendingJSON, &item.PendingFiles); err != nil {
		return SyncTask{}, fmt.Errorf("decode pending files: %w", err)
	}
	return item, nil
}

func marshalSyncFiles(task SyncTask) ([]byte, []byte, error) {
	processed := task.ProcessedFiles
	if processed == nil {
		processed = []string{}
	}
	pending := task.PendingFiles
	if pending == nil {
		pending = []SyncFile{}
	}
	processedJSON, err := json.Marshal(processed)
	if err != nil {
		return nil, nil, fmt.Errorf("encode processed files: %w", err)
	}
	pendingJSON, err := json.Marshal(pending)
	if err != nil {
		return nil, nil, fmt.Errorf("encode pending files: %w", err)
	}
	return processedJSON, pendingJSON, nil
}

func (s *PostgresStore) CreateSyncTask(ctx context.Context, task SyncTask) error {
	processedJSON, pendingJSON, err := marshalSyncFiles(task)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_tasks (id, status, progress, processed_files_json, pending_files_json)
		VALUES ($1, $2, $3, $4, $5)
	`, task.ID, task.Status, task.Progress, processedJSON, pendingJSON)
	if err != nil {
		return fmt.Errorf("create sync task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSyncTask(ctx context.Context, taskID string) (SyncTask, error) {
	item, err := scanSyncTask(s.db.QueryRowContext(ctx, `
		SELECT ` + syncTaskColumns + ` FROM sync_tasks WHERE id=$1
	`, taskID))
	if err != nil {
		return SyncTask{}, err
	}
	return item, nil
}

// GetActiveSyncTask returns the pending or running task, if any. Only
// one task may be active at a time.
func (s *PostgresStore) GetActiveSyncTask(ctx context.Context) (*SyncTask, error) {
	item, err := scanSyncTask(s.db.QueryRowContext(ctx, `
		SELECT ` + syncTaskColumns + `
		FROM sync_tasks
		WHERE status IN ('pending', 'running')
		ORDER BY created_at ASC
		LIMIT 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active sync task: %w", err)
	}
	return &item, nil
}

// ListSyncTasks omits the pending file payloads; they can be large and
// the listing only needs the checkpoint counters.
func (s *PostgresStore) ListSyncTasks(ctx context.Context) ([]SyncTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, progress, github_branch, github_pr_url, github_pr_number,
			processed_items, total_items, processed_files_json, '[]'::jsonb, error,
			started_at, completed_at, created_at, updated_at
		FROM sync_tasks
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sync tasks: %w", err)
	}
	defer rows.Close()

	items := make([]SyncTask, 0)
	for rows.Next() {
		item, err := scanSyncTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync tasks: %w", err)
	}
	return items, nil
}

// UpdateSyncTask persists the full task row, checkpoint included.
func (s *PostgresStore) UpdateSyncTask(ctx context.Context, task SyncTask) error {
	processedJSON, pendingJSON, err := marshalSyncFiles(task)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sync_tasks
		SET status=$2, progress=$3, github_branch=$4, github_pr_url=$5, github_pr_number=$6,
			processed_items=$7, total_items=$8, processed_files_json=$9, pending_files_json=$10,
			error=$11, started_at=$12, completed_at=$13, updated_at=NOW()
		WHERE id=$1
	`, task.ID, task.Status, task.Progress, task.GithubBranch, task.GithubPrURL, task.GithubPrNumber,
		task.ProcessedItems, task.TotalItems, processedJSON, pendingJSON,
		task.Error, task.StartedAt, task.CompletedAt)
	if err != nil {
		return fmt.Errorf("update sync task: %w", err)
	}
	return nil
}

// CheckpointSyncTask persists the row like UpdateSyncTask but only
// while the task is still pending or running, so a checkpoint written
// by the worker never overwrites a concurrent cancellation. Returns
// false when the task left the active states in the meantime.
func (s *PostgresStore) CheckpointSyncTask(ctx context.Context, task SyncTask) (bool, error) {
	processedJSON, pendingJSON, err := marshalSyncFiles(task)
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_tasks
		SET status=$2, progress=$3, github_branch=$4, github_pr_url=$5, github_pr_number=$6,
			processed_items=$7, total_items=$8, processed_files_json=$9, pending_files_json=$10,
			error=$11, started_at=$12, completed_at=$13, updated_at=NOW()
		WHERE id=$1 AND status IN ('pending', 'running')
	`, task.ID, task.Status, task.Progress, task.GithubBranch, task.GithubPrURL, task.GithubPrNumber,
		task.ProcessedItems, task.TotalItems, processedJSON, pendingJSON,
		task.Error, task.StartedAt, task.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("checkpoint sync task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checkpoint sync task rows: %w", err)
	}
	return affected > 0, nil
}

// CancelSyncTask flips an active task to cancelled. Returns false when
// the task already reached a terminal state.
func (s *PostgresStore) CancelSyncTask(ctx context.Context, taskID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_tasks
		SET status='cancelled', completed_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status IN ('pending', 'running')
	`, taskID)
	if err != nil {
		return false, fmt.Errorf("cancel sync task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel sync task rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListApprovedUnsyncedBatches(ctx context.Context) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ` + batchColumns + `
		FROM batches b
		JOIN users u ON u.id = b.user_id
		WHERE b.status='approved' AND b.sync_task_id IS NULL
		ORDER BY b.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list approved batches: %w", err)
	}
	defer rows.Close()

	items := make([]Batch, 0)
	for rows.Next() {
		item, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) LinkBatchesToSyncTask(ctx context.Context, taskID string, batchIDs []string) error {
	for _, batchID := range batchIDs {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE batches SET sync_task_id=$2, updated_at=NOW() WHERE id=$1
		`, batchID, taskID); err != nil {
			return fmt.Errorf("link batch to sync task: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListBatchesBySyncTask(ctx context.Context, taskID string) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ` + batchColumns + `
		FROM batches b
		JOIN users u ON u.id = b.user_id
		WHERE b.sync_task_id=$1
		ORDER BY b.created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list batches by sync task: %w", err)
	}
	defer rows.Close()

	items := make([]Batch, 0)
	for rows.Next() {
		item, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return items, nil
}

// ListEditsForSyncTask returns the approved edits of every batch linked
// to the task, in batch order then position order.
func (s *PostgresStore) ListEditsForSyncTask(ctx context.Context, taskID string) ([]Edit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.batch_id, e.user_id, e.position, e.action, e.word, e.code, e.type, e.weight, e.old_word, e.phrase_id, e.remark, e.status, e.created_at
		FROM edits e
		JOIN batches b ON b.id = e.batch_id
		WHERE b.sync_task_id=$1 AND e.status='approved'
		ORDER BY b.created_at ASC, e.position ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list edits for sync task: %w", err)
	}
	defer rows.Close()

	items := make([]Edit, 0)
	for rows.Next() {
		item, err := scanEdit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edit: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edits: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkBatchesPublished(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET status='published', updated_at=NOW()
		WHERE sync_task_id=$1 AND status='approved'
	`, taskID)
	if err != nil {
		return fmt.Errorf("mark batches published: %w", err)
	}
	return nil
}
