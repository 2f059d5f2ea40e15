package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"keytao/api/internal/auth"
	"keytao/api/internal/rbac"
	"keytao/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	log.Printf("app: deny %s %s to %s (%s)", r.Method, r.URL.Path, session.UserName, action)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/healthz" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/register" {
		s.handleAuthRegister(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleAuthLogin(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		s.handleAuthRefresh(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		s.handleAuthLogout(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Public dictionary reads
	if r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "phrases" {
		s.handleListPhrases(w, r)
		return
	}
	if r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "phrases" {
		payload, err := s.service.GetPhrase(r.Context(), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}
	if r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "search" {
		s.handleSearch(w, r)
		return
	}
	if r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "issues" {
		payload, err := s.service.ListIssues(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}
	if r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "issues" {
		payload, err := s.service.GetIssue(r.Context(), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// Everything below needs a session
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/me" {
		payload, err := s.service.CurrentUser(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if parts[1] == "issues" {
		s.handleIssueActions(w, r, session, parts)
		return
	}
	if parts[1] == "batches" {
		s.handleBatches(w, r, session, parts)
		return
	}
	if len(parts) >= 3 && parts[1] == "sync" && parts[2] == "tasks" {
		s.handleSyncTasks(w, r, session, parts)
		return
	}
	if parts[1] == "admin" {
		s.handleAdmin(w, r, session, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleListPhrases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))
	payload, err := s.service.ListPhrases(r.Context(), q.Get("query"), q.Get("code"), q.Get("type"), page, perPage)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	resp := s.service.SearchAll(search.Query{
		Text:       strings.TrimSpace(q.Get("q")),
		FilterType: search.ResultType(q.Get("type")),
		Limit:      limit,
		Offset:     offset,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleIssueActions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method == http.MethodPost && len(parts) == 2 {
		if !s.service.Can(session.Role, rbac.ActionContribute) {
			s.forbid(w, r, session, rbac.ActionContribute)
			return
		}
		var body struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateIssue(r.Context(), session, body.Title, body.Body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "comments" {
		if !s.service.Can(session.Role, rbac.ActionContribute) {
			s.forbid(w, r, session, rbac.ActionContribute)
			return
		}
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CommentIssue(r.Context(), session, parts[2], body.Body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "close" {
		if !s.service.Can(session.Role, rbac.ActionContribute) {
			s.forbid(w, r, session, rbac.ActionContribute)
			return
		}
		payload, err := s.service.CloseIssue(r.Context(), session, parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleBatches(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		if r.Method == http.MethodGet {
			mine, _ := strconv.ParseBool(r.URL.Query().Get("mine"))
			payload, err := s.service.ListBatches(r.Context(), session, r.URL.Query().Get("status"), mine)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodPost {
			if !s.service.Can(session.Role, rbac.ActionContribute) {
				s.forbid(w, r, session, rbac.ActionContribute)
				return
			}
			var body struct {
				Title   string `json:"title"`
				IssueID string `json:"issueId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateBatch(r.Context(), session, body.Title, body.IssueID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	batchID := parts[2]

	if len(parts) == 3 {
		if r.Method == http.MethodGet {
			payload, err := s.service.GetBatch(r.Context(), batchID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodDelete {
			if !s.service.Can(session.Role, rbac.ActionContribute) {
				s.forbid(w, r, session, rbac.ActionContribute)
				return
			}
			if err := s.service.DeleteBatch(r.Context(), session, batchID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodGet && parts[3] == "export" {
		s.handleExport(w, r, batchID)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost {
		switch parts[3] {
		case "edits":
			if !s.service.Can(session.Role, rbac.ActionContribute) {
				s.forbid(w, r, session, rbac.ActionContribute)
				return
			}
			var body EditInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.AddEdit(r.Context(), session, batchID, body)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		case "check":
			payload, err := s.service.CheckBatch(r.Context(), batchID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case "submit":
			if !s.service.Can(session.Role, rbac.ActionContribute) {
				s.forbid(w, r, session, rbac.ActionContribute)
				return
			}
			payload, err := s.service.SubmitBatch(r.Context(), session, batchID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case "withdraw":
			if !s.service.Can(session.Role, rbac.ActionContribute) {
				s.forbid(w, r, session, rbac.ActionContribute)
				return
			}
			payload, err := s.service.WithdrawBatch(r.Context(), session, batchID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case "approve":
			if !s.service.Can(session.Role, rbac.ActionReview) {
				s.forbid(w, r, session, rbac.ActionReview)
				return
			}
			var body struct {
				Note string `json:"note"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.ApproveBatch(r.Context(), session, batchID, body.Note)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case "reject":
			if !s.service.Can(session.Role, rbac.ActionReview) {
				s.forbid(w, r, session, rbac.ActionReview)
				return
			}
			var body struct {
				Note string `json:"note"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.RejectBatch(r.Context(), session, batchID, body.Note)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	if len(parts) == 5 && r.Method == http.MethodDelete && parts[3] == "edits" {
		if !s.service.Can(session.Role, rbac.ActionContribute) {
			s.forbid(w, r, session, rbac.ActionContribute)
			return
		}
		if err := s.service.RemoveEdit(r.Context(), session, batchID, parts[4]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, batchID string) {
	q := r.URL.Query()
	includeVerdicts, _ := strconv.ParseBool(q.Get("verdicts"))
	result, err := s.service.ExportBatch(r.Context(), batchID, q.Get("format"), includeVerdicts)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSyncTasks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 3 {
		if r.Method == http.MethodGet {
			payload, err := s.service.ListSyncTasks(r.Context())
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
		if r.Method == http.MethodPost {
			if !s.service.Can(session.Role, rbac.ActionSync) {
				s.forbid(w, r, session, rbac.ActionSync)
				return
			}
			payload, err := s.service.StartSync(r.Context())
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	taskID := parts[3]

	if len(parts) == 4 && r.Method == http.MethodGet {
		payload, err := s.service.GetSyncTask(r.Context(), taskID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && r.Method == http.MethodGet && parts[4] == "artifacts" {
		payload, err := s.service.SyncArtifacts(r.Context(), taskID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionSync) {
			s.forbid(w, r, session, rbac.ActionSync)
			return
		}
		switch parts[4] {
		case "cancel":
			payload, err := s.service.CancelSync(r.Context(), taskID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case "retry":
			payload, err := s.service.RetrySync(r.Context(), taskID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// Auth handlers

func (s *HTTPServer) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		Email       string `json:"email"`
		Password    string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Register(r.Context(), body.Name, body.DisplayName, body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Name, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "refreshToken is required", nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		// Whatever went wrong, the token no longer buys a session.
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token is invalid or expired", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	var session Session
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), session, body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"displayName":  session.DisplayName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
