// Package apperr defines the error taxonomy shared by all services and the
// translation of those errors into user-safe messages.
package apperr

import (
	"errors"
	"fmt"
)

// Standard sentinel errors. Typed errors below wrap one of these so callers
// can classify with errors.Is without knowing the concrete type.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrInternal           = errors.New("internal error")
)

// operational marks expected business failures that must never be retried.
type operational interface {
	Operational() bool
}

// IsOperational reports whether err is an expected, non-transient failure.
func IsOperational(err error) bool {
	var op operational
	if errors.As(err, &op) {
		return op.Operational()
	}
	return false
}

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error     { return ErrNotFound }
func (e *NotFoundError) Operational() bool { return true }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// ValidationError reports a single invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string     { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }
func (e *ValidationError) Unwrap() error     { return ErrInvalidInput }
func (e *ValidationError) Operational() bool { return true }

// RequiredError is the most common validation failure.
func RequiredError(field string) *ValidationError {
	return NewValidationError(field, "is required")
}

func IsValidationError(err error) bool { return errors.Is(err, ErrInvalidInput) }

// AccessDeniedError reports a permission failure on a specific resource.
type AccessDeniedError struct {
	Resource string
	ID       string
	UserID   string
	Reason   string
}

func NewAccessDeniedError(resource, id, userID string) *AccessDeniedError {
	return &AccessDeniedError{Resource: resource, ID: id, UserID: userID}
}

func (e *AccessDeniedError) Error() string {
	msg := fmt.Sprintf("access denied to %s %q for user %s", e.Resource, e.ID, e.UserID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *AccessDeniedError) Unwrap() error     { return ErrForbidden }
func (e *AccessDeniedError) Operational() bool { return true }

func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// OwnershipError reports that a resource belongs to a different user.
type OwnershipError struct {
	Resource string
	ID       string
	UserID   string
}

func NewOwnershipError(resource, id, userID string) *OwnershipError {
	return &OwnershipError{Resource: resource, ID: id, UserID: userID}
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("%s %s does not belong to user %s", e.Resource, e.ID, e.UserID)
}

func (e *OwnershipError) Unwrap() error     { return ErrForbidden }
func (e *OwnershipError) Operational() bool { return true }

func IsOwnershipError(err error) bool {
	var oe *OwnershipError
	return errors.As(err, &oe)
}

// EnsureOwnership returns an OwnershipError unless both user ids match.
func EnsureOwnership(resourceUserID, requestUserID, resourceType, resourceID string) error {
	if resourceUserID == "" || resourceUserID != requestUserID {
		return NewOwnershipError(resourceType, resourceID, requestUserID)
	}
	return nil
}

// ConflictError reports a state conflict.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func NewConflictError(resource, id, reason string) *ConflictError {
	return &ConflictError{Resource: resource, ID: id, Reason: reason}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Resource, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error     { return ErrAlreadyExists }
func (e *ConflictError) Operational() bool { return true }

func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrConflict)
}

// LimitError reports that a numeric quota was reached. The message names the
// limit so clients can render it without a follow-up call.
type LimitError struct {
	Resource string
	Limit    int
}

func NewLimitError(resource string, limit int) *LimitError {
	return &LimitError{Resource: resource, Limit: limit}
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit reached (%d)", e.Resource, e.Limit)
}

func (e *LimitError) Unwrap() error     { return ErrConflict }
func (e *LimitError) Operational() bool { return true }

func IsLimitError(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}

// BusinessError carries a business-rule message that is safe to show as-is.
type BusinessError struct {
	Msg string
}

func NewBusinessError(msg string) *BusinessError { return &BusinessError{Msg: msg} }

func (e *BusinessError) Error() string     { return e.Msg }
func (e *BusinessError) Unwrap() error     { return ErrInvalidInput }
func (e *BusinessError) Operational() bool { return true }

func IsBusinessError(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}

// ExternalError wraps a failure from a third-party collaborator.
type ExternalError struct {
	Provider string
	Err      error
}

func NewExternalError(provider string, err error) *ExternalError {
	return &ExternalError{Provider: provider, Err: err}
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// ServiceError annotates an error with the service and operation it came from.
type ServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WrapServiceError wraps err with service/operation context. Returns nil when
// err is nil so call sites can wrap unconditionally.
func WrapServiceError(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Service: service, Op: op, Err: err}
}
