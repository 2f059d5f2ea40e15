package app

import (
	"context"
	"net/http"
	"strings"

	"keytao/api/internal/store"
)

// ---- admin user management ----

var userRoles = map[string]bool{
	"user":  true,
	"admin": true,
}

var userStatuses = map[string]bool{
	store.UserStatusActive:   true,
	store.UserStatusDisabled: true,
}

// ListUsers returns one page of accounts for the admin screen.
func (s *Service) ListUsers(ctx context.Context, query string, page, perPage int) (map[string]any, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	users, total, err := s.store.ListUsers(ctx, strings.TrimSpace(query), perPage, offset)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return map[string]any{"users": items, "total": total, "page": page, "perPage": perPage}, nil
}

// UpdateUserRole promotes or demotes an account. Changing the account
// you are logged in with is rejected so an instance always keeps at
// least the acting admin.
func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID, role string) (map[string]any, error) {
	if !userRoles[role] {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Role must be user or admin", nil)
	}
	if userID == session.UserID {
		return nil, domainError(http.StatusConflict, "OWN_ACCOUNT", "You cannot change your own account", nil)
	}

	ok, err := s.store.UpdateUserRole(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

// SetUserStatus enables or disables an account. Disabling does not
// revoke issued tokens; the session check rejects disabled users on
// their next request.
func (s *Service) SetUserStatus(ctx context.Context, session Session, userID, status string) (map[string]any, error) {
	if !userStatuses[status] {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Status must be active or disabled", nil)
	}
	if userID == session.UserID {
		return nil, domainError(http.StatusConflict, "OWN_ACCOUNT", "You cannot change your own account", nil)
	}

	ok, err := s.store.SetUserStatus(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}
