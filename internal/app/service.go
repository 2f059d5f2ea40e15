package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"keytao/api/internal/archive"
	"keytao/api/internal/auth"
	"keytao/api/internal/authpw"
	"keytao/api/internal/config"
	"keytao/api/internal/conflict"
	"keytao/api/internal/dictsync"
	"keytao/api/internal/export"
	"keytao/api/internal/rbac"
	"keytao/api/internal/search"
	"keytao/api/internal/store"
	"keytao/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	DisplayName  string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	EnsureAdminUser(context.Context, store.User) error
	ListUsers(context.Context, string, int, int) ([]store.User, int, error)
	UpdateUserRole(context.Context, string, string) (bool, error)
	SetUserStatus(context.Context, string, string) (bool, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	GetPhraseByID(context.Context, string) (*store.Phrase, error)
	GetPhraseByWordCode(context.Context, string, string) (*store.Phrase, error)
	ListPhrases(context.Context, store.PhraseFilter) ([]store.Phrase, error)
	CountPhrases(context.Context, store.PhraseFilter) (int, error)
	InsertIssue(context.Context, store.Issue) error
	GetIssue(context.Context, string) (*store.Issue, error)
	ListIssues(context.Context, string) ([]store.Issue, error)
	UpdateIssueStatus(context.Context, string, string) (bool, error)
	InsertIssueComment(context.Context, store.IssueComment) error
	ListIssueComments(context.Context, string) ([]store.IssueComment, error)
	InsertBatch(context.Context, store.Batch) error
	GetBatch(context.Context, string) (*store.Batch, error)
	ListBatches(context.Context, store.BatchFilter) ([]store.Batch, error)
	UpdateBatchStatus(context.Context, string, string, string, string) (bool, error)
	DeleteBatch(context.Context, string) (bool, error)
	InsertEdit(context.Context, store.Edit) error
	DeleteEdit(context.Context, string, string) (bool, error)
	ListEditsByBatch(context.Context, string) ([]store.Edit, error)
	ApplyBatchApproval(context.Context, string, string, []store.PhraseChange) error
	GetSyncTask(context.Context, string) (store.SyncTask, error)
	ListSyncTasks(context.Context) ([]store.SyncTask, error)
	ListBatchesBySyncTask(context.Context, string) ([]store.Batch, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. The Postgres store implements it,
// and so does the Redis store, which is why it is split from dataStore.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexPhrase(record search.PhraseRecord)
	IndexIssue(record search.IssueRecord)
	DeletePhrase(id string)
	DeleteIssue(id string)
	ReindexAllFromPG(ctx context.Context)
}

type conflictChecker interface {
	CheckBatch(ctx context.Context, edits []store.Edit) ([]conflict.Result, error)
}

type batchNotifier interface {
	BatchSubmitted(batch store.Batch)
	BatchReviewed(to string, batch store.Batch)
}

type syncManager interface {
	CreateTask(ctx context.Context) (store.SyncTask, error)
	Cancel(ctx context.Context, taskID string) (dictsync.CancelResult, error)
	Retry(ctx context.Context, taskID string) (store.SyncTask, error)
}

type syncKicker interface {
	Kick(taskID string)
}

type snapshotArchive interface {
	ListSnapshots(ctx context.Context, taskID string) ([]archive.Snapshot, error)
}

type batchExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	accounts *authpw.Service
	checker  conflictChecker
	searcher searchIndex
	exporter batchExporter
	syncer   syncManager
	runner   syncKicker
	archives snapshotArchive
	notifier batchNotifier
}

func New(cfg config.Config, dataStore *store.PostgresStore, accounts *authpw.Service, checker *conflict.BatchService) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		accounts: accounts,
		checker:  checker,
	}
}

// SetSessionStore moves refresh sessions off Postgres, e.g. to Redis.
func (s *Service) SetSessionStore(sessions sessionStore) {
	s.sessions = sessions
}

func (s *Service) SetSearch(searcher *search.Service) {
	s.searcher = searcher
}

func (s *Service) SetExporter(exporter *export.Service) {
	s.exporter = exporter
}

func (s *Service) SetSync(manager *dictsync.Manager, runner *dictsync.Runner) {
	s.syncer = manager
	s.runner = runner
}

func (s *Service) SetArchive(archives *archive.Service) {
	s.archives = archives
}

func (s *Service) SetNotifier(notifier batchNotifier) {
	s.notifier = notifier
}

// Bootstrap seeds the admin account and catches the search index up
// with the database. Safe to run on every start.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.AdminPassword != "" {
		hash, err := authpw.HashPassword(s.cfg.AdminPassword)
		if err != nil {
			return err
		}
		admin := store.User{
			ID:           util.NewID("user"),
			Name:         s.cfg.AdminName,
			DisplayName:  s.cfg.AdminName,
			Email:        s.cfg.AdminEmail,
			PasswordHash: hash,
			Role:         string(rbac.RoleAdmin),
			Status:       store.UserStatusActive,
		}
		if err := s.store.EnsureAdminUser(ctx, admin); err != nil {
			return err
		}
	}
	if s.searcher != nil {
		go s.searcher.ReindexAllFromPG(context.Background())
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---- sessions ----

func (s *Service) Register(ctx context.Context, name, displayName, email, password string) (Session, error) {
	user, err := s.accounts.Register(ctx, authpw.RegisterRequest{
		Name:        name,
		DisplayName: displayName,
		Email:       email,
		Password:    password,
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, name, password string) (Session, error) {
	user, err := s.accounts.Login(ctx, name, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	stub, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session store may only carry the user ID; load the full row
	// so the new token reflects the current role.
	user, err := s.store.GetUserByID(ctx, stub.ID)
	if err != nil {
		return Session{}, err
	}
	if user.Status == store.UserStatusDisabled {
		return Session{}, authpw.ErrAccountDisabled
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken("rft")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		DisplayName:  user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	// A disabled account keeps its unexpired tokens; cut them off here.
	if user.Status == store.UserStatusDisabled {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:       token,
		UserID:      user.ID,
		UserName:    user.Name,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		JTI:         claims.JTI,
		ExpiresAt:   claims.ExpiresAt(),
	}, nil
}

func (s *Service) CurrentUser(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

// ---- phrases ----

func (s *Service) ListPhrases(ctx context.Context, query, code, phraseType string, page, perPage int) (map[string]any, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	// Free text goes through the search index; exact filters hit the
	// store directly.
	if query != "" && code == "" && phraseType == "" && s.searcher != nil {
		resp := s.searcher.Search(search.Query{
			Text:       query,
			FilterType: search.ResultPhrase,
			Limit:      perPage,
			Offset:     offset,
		})
		items := make([]map[string]any, 0, len(resp.Results))
		for _, hit := range resp.Results {
			phrase, err := s.store.GetPhraseByID(ctx, hit.ID)
			if err != nil {
				return nil, err
			}
			if phrase == nil {
				// The index lags behind deletes.
				continue
			}
			items = append(items, phrasePayload(*phrase))
		}
		return map[string]any{"phrases": items, "total": resp.Total, "page": page, "perPage": perPage}, nil
	}

	filter := store.PhraseFilter{
		Word:   query,
		Code:   code,
		Type:   phraseType,
		Limit:  perPage,
		Offset: offset,
	}
	phrases, err := s.store.ListPhrases(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountPhrases(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(phrases))
	for _, phrase := range phrases {
		items = append(items, phrasePayload(phrase))
	}
	return map[string]any{"phrases": items, "total": total, "page": page, "perPage": perPage}, nil
}

func (s *Service) GetPhrase(ctx context.Context, phraseID string) (map[string]any, error) {
	phrase, err := s.store.GetPhraseByID(ctx, phraseID)
	if err != nil {
		return nil, err
	}
	if phrase == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Phrase not found", nil)
	}
	return phrasePayload(*phrase), nil
}

func (s *Service) SearchAll(query search.Query) search.Response {
	if s.searcher == nil {
		return search.Response{Results: []search.Result{}, Query: query.Text}
	}
	return s.searcher.Search(query)
}

// ---- issues ----

func (s *Service) CreateIssue(ctx context.Context, session Session, title, body string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Issue title is required", nil)
	}

	issue := store.Issue{
		ID:     util.NewID("issue"),
		Title:  title,
		Body:   strings.TrimSpace(body),
		Status: store.IssueStatusOpen,
		UserID: session.UserID,
	}
	if err := s.store.InsertIssue(ctx, issue); err != nil {
		return nil, err
	}
	if s.searcher != nil {
		s.searcher.IndexIssue(search.IssueRecord{ID: issue.ID, Title: issue.Title, Body: issue.Body, Status: issue.Status})
	}

	stored, err := s.store.GetIssue(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, sql.ErrNoRows
	}
	return issuePayload(*stored), nil
}

func (s *Service) ListIssues(ctx context.Context, status string) (map[string]any, error) {
	issues, err := s.store.ListIssues(ctx, status)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		items = append(items, issuePayload(issue))
	}
	return map[string]any{"issues": items}, nil
}

func (s *Service) GetIssue(ctx context.Context, issueID string) (map[string]any, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Issue not found", nil)
	}
	comments, err := s.store.ListIssueComments(ctx, issueID)
	if err != nil {
		return nil, err
	}
	commentItems := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		commentItems = append(commentItems, commentPayload(comment))
	}
	payload := issuePayload(*issue)
	payload["comments"] = commentItems
	return payload, nil
}

func (s *Service) CommentIssue(ctx context.Context, session Session, issueID, body string) (map[string]any, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Comment body is required", nil)
	}
	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Issue not found", nil)
	}

	comment := store.IssueComment{
		ID:      util.NewID("cmt"),
		IssueID: issueID,
		UserID:  session.UserID,
		Body:    body,
	}
	if err := s.store.InsertIssueComment(ctx, comment); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        comment.ID,
		"issueId":   comment.IssueID,
		"userId":    comment.UserID,
		"userName":  session.DisplayName,
		"body":      comment.Body,
		"createdAt": time.Now(),
	}, nil
}

func (s *Service) CloseIssue(ctx context.Context, session Session, issueID string) (map[string]any, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Issue not found", nil)
	}
	if issue.UserID != session.UserID && !s.Can(session.Role, rbac.ActionAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the issue author or an admin can close it", nil)
	}

	ok, err := s.store.UpdateIssueStatus(ctx, issueID, store.IssueStatusClosed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusConflict, "ALREADY_CLOSED", "Issue is already closed", nil)
	}
	if s.searcher != nil {
		s.searcher.IndexIssue(search.IssueRecord{ID: issue.ID, Title: issue.Title, Body: issue.Body, Status: store.IssueStatusClosed})
	}

	updated, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, sql.ErrNoRows
	}
	return issuePayload(*updated), nil
}

// ---- payloads ----

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"name":        user.Name,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"role":        user.Role,
		"status":      user.Status,
		"createdAt":   user.CreatedAt,
	}
}

func phrasePayload(phrase store.Phrase) map[string]any {
	return map[string]any{
		"id":        phrase.ID,
		"word":      phrase.Word,
		"code":      phrase.Code,
		"type":      phrase.Type,
		"weight":    phrase.Weight,
		"status":    phrase.Status,
		"userId":    phrase.UserID,
		"remark":    phrase.Remark,
		"createdAt": phrase.CreatedAt,
		"updatedAt": phrase.UpdatedAt,
	}
}

func issuePayload(issue store.Issue) map[string]any {
	return map[string]any{
		"id":        issue.ID,
		"title":     issue.Title,
		"body":      issue.Body,
		"status":    issue.Status,
		"userId":    issue.UserID,
		"userName":  issue.UserName,
		"createdAt": issue.CreatedAt,
		"updatedAt": issue.UpdatedAt,
	}
}

func commentPayload(comment store.IssueComment) map[string]any {
	return map[string]any{
		"id":        comment.ID,
		"issueId":   comment.IssueID,
		"userId":    comment.UserID,
		"userName":  comment.UserName,
		"body":      comment.Body,
		"createdAt": comment.CreatedAt,
	}
}
