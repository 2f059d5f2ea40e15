package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"keytao/api/internal/auth"
	"keytao/api/internal/authpw"
	"keytao/api/internal/conflict"
	"keytao/api/internal/dictsync"
	"keytao/api/internal/export"
	"keytao/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapError translates errors from the store, auth, conflict, sync and export
// layers into the HTTP status and stable error code the API responds with.
// Anything unrecognized becomes a 500 so internals never leak to clients.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var dup *store.DuplicatePhraseError
	if errors.As(err, &dup) {
		return http.StatusConflict, "PHRASE_CONFLICT", dup.Error(), nil
	}
	var missing *store.MissingPhraseError
	if errors.As(err, &missing) {
		return http.StatusConflict, "PHRASE_CONFLICT", missing.Error(), nil
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid name or password", nil
	case errors.Is(err, authpw.ErrAccountDisabled):
		return http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled", nil
	case errors.Is(err, authpw.ErrNameTaken):
		return http.StatusConflict, "NAME_TAKEN", "Login name is already taken", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_TAKEN", "Email is already registered", nil
	case errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION", err.Error(), nil
	case errors.Is(err, conflict.ErrEmptyBatch):
		return http.StatusUnprocessableEntity, "EMPTY_BATCH", "Batch has no edits", nil
	case errors.Is(err, store.ErrBatchNotSubmitted):
		return http.StatusConflict, "NOT_SUBMITTED", "Batch is not in submitted state", nil
	case errors.Is(err, dictsync.ErrNothingToSync):
		return http.StatusUnprocessableEntity, "NOTHING_TO_SYNC", "No approved batches are waiting for sync", nil
	case errors.Is(err, dictsync.ErrTaskActive):
		return http.StatusConflict, "SYNC_ACTIVE", "Another sync task is already active", nil
	case errors.Is(err, dictsync.ErrNotCancellable):
		return http.StatusConflict, "NOT_CANCELLABLE", "Task is not pending or running", nil
	case errors.Is(err, dictsync.ErrNotRetryable):
		return http.StatusConflict, "NOT_RETRYABLE", "Task is not failed or cancelled", nil
	case errors.Is(err, export.ErrBatchNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Batch not found", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
