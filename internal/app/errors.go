package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"agora/api/internal/auth"
	"agora/api/internal/authpw"
	"agora/api/internal/rbac"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/upload"
	"agora/api/internal/util"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func badRequest(message string) *DomainError {
	return domainError(http.StatusBadRequest, "BAD_REQUEST", message)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message)
}

func conflict(message string) *DomainError {
	return domainError(http.StatusBadRequest, "CONFLICT", message)
}

var errDenylisted = errors.New("token has been revoked")

const internalMessage = "Internal server error"

// mapError turns anything a service call returns into a response. Unknown
// errors become an opaque 500; the caller logs them.
func mapError(err error) (status int, code, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message
	}

	switch {
	case errors.Is(err, rbac.ErrUnauthenticated),
		errors.Is(err, errDenylisted),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrMalformedToken):
		return http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required"
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password"
	case errors.Is(err, rbac.ErrNotApproved), errors.Is(err, authpw.ErrNotApproved):
		return http.StatusForbidden, "NOT_APPROVED", "Your account is awaiting admin approval"
	case errors.Is(err, rbac.ErrAdminRequired):
		return http.StatusForbidden, "ADMIN_REQUIRED", "Admin access required"
	case errors.Is(err, rbac.ErrSelfModification):
		return http.StatusForbidden, "SELF_MODIFICATION", "You cannot change your own account"
	case errors.Is(err, rbac.ErrNotOwner):
		return http.StatusForbidden, "NOT_OWNER", "Only the author can do that"
	case errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusBadRequest, "BAD_REQUEST", strings.TrimPrefix(err.Error(), authpw.ErrInvalidInput.Error()+": ")
	case errors.Is(err, store.ErrUsernameTaken):
		return http.StatusBadRequest, "CONFLICT", "Username already taken"
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusBadRequest, "CONFLICT", "Email already registered"
	case errors.Is(err, store.ErrAlreadyApproved):
		return http.StatusBadRequest, "BAD_REQUEST", "Approved members cannot be rejected"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	case errors.Is(err, util.ErrMalformedID):
		return http.StatusBadRequest, "BAD_REQUEST", "Malformed id"
	case errors.Is(err, search.ErrInvalidDate):
		return http.StatusBadRequest, "BAD_REQUEST", "Invalid date, expected YYYY-MM-DD"
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusBadRequest, "BAD_REQUEST", "File is too large"
	case errors.Is(err, upload.ErrNotImage):
		return http.StatusBadRequest, "BAD_REQUEST", "Only image uploads are allowed"
	}
	return http.StatusInternalServerError, "INTERNAL", internalMessage
}
