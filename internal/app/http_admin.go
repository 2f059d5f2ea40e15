package app

import (
	"net/http"
	"strconv"

	"keytao/api/internal/rbac"
)

// Admin user management. Every route below requires the admin action;
// ownership never applies here.

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if !s.service.Can(session.Role, rbac.ActionAdmin) {
		s.forbid(w, r, session, rbac.ActionAdmin)
		return
	}

	// GET /api/admin/users
	if r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "users" {
		s.handleAdminListUsers(w, r)
		return
	}

	// PUT /api/admin/users/{id}/role
	if r.Method == http.MethodPut && len(parts) == 5 && parts[2] == "users" && parts[4] == "role" {
		s.handleAdminUserRole(w, r, session, parts[3])
		return
	}

	// PUT /api/admin/users/{id}/status
	if r.Method == http.MethodPut && len(parts) == 5 && parts[2] == "users" && parts[4] == "status" {
		s.handleAdminUserStatus(w, r, session, parts[3])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))
	payload, err := s.service.ListUsers(r.Context(), q.Get("query"), page, perPage)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAdminUserRole(w http.ResponseWriter, r *http.Request, session Session, userID string) {
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateUserRole(r.Context(), session, userID, body.Role)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAdminUserStatus(w http.ResponseWriter, r *http.Request, session Session, userID string) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.SetUserStatus(r.Context(), session, userID, body.Status)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
