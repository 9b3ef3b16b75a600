package app

import (
	"fmt"
	"net/http"
)

const (
	CodePermissionDenied = "permission-denied"
	CodeInvalidArgument  = "invalid-argument"
	CodeInternal         = "internal"
)

const defaultDetails = "Something went wrong. Try again."

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

func permissionDenied(details string) *DomainError {
	if details == "" {
		details = "You are not allowed to do this."
	}
	return domainError(http.StatusForbidden, CodePermissionDenied, "Permission denied", details)
}

// invalidArgument is the error of a rejected request. message defaults to
// "Bad Request".
func invalidArgument(message, details string) *DomainError {
	if message == "" {
		message = "Bad Request"
	}
	if details == "" {
		details = defaultDetails
	}
	return domainError(http.StatusBadRequest, CodeInvalidArgument, message, details)
}

func internalError() *DomainError {
	return domainError(http.StatusInternalServerError, CodeInternal, "Internal error", defaultDetails)
}
