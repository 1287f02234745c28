package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid      ErrorCode = "invalid"
	ErrorForbidden    ErrorCode = "forbidden"
	ErrorNotFound     ErrorCode = "not_found"
	ErrorConflict     ErrorCode = "conflict"
	ErrorUnauthorized ErrorCode = "unauthorized"

	// Scoring-core failure kinds. Each maps to its own client-facing
	// status in the API layer; none of them are retried here.
	ErrorStructural   ErrorCode = "structural"
	ErrorIncompatible ErrorCode = "policy_incompatible"
	ErrorIncomplete   ErrorCode = "incomplete_scoring"
	ErrorLifecycle    ErrorCode = "lifecycle"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error   { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewForbiddenError(msg string) error { return &ServiceError{Code: ErrorForbidden, Message: msg} }
func NewNotFoundError(msg string) error  { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error  { return &ServiceError{Code: ErrorConflict, Message: msg} }

func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

func NewStructuralError(msg string) error {
	return &ServiceError{Code: ErrorStructural, Message: msg}
}

func NewIncompatibleError(msg string) error {
	return &ServiceError{Code: ErrorIncompatible, Message: msg}
}

func NewIncompleteError(msg string) error {
	return &ServiceError{Code: ErrorIncomplete, Message: msg}
}

func NewLifecycleError(msg string) error {
	return &ServiceError{Code: ErrorLifecycle, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
