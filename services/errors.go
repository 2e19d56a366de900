package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeChainRace     ErrorType = "chain_race"
	ErrorTypeSerialization ErrorType = "serialization"
	ErrorTypeInternal      ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrOrganizationNotFound = NewDomainError(ErrorTypeNotFound, "organization not found", nil)
	ErrEventNotFound        = NewDomainError(ErrorTypeNotFound, "event not found", nil)
	ErrSnapshotNotFound     = NewDomainError(ErrorTypeNotFound, "snapshot not found", nil)
	ErrVerificationNotFound = NewDomainError(ErrorTypeNotFound, "verification record not found", nil)

	// Validation Errors
	ErrInvalidInput           = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidSnapshotPointer = NewDomainError(ErrorTypeValidation, "invalid snapshot pointer", nil)

	// Authorization Errors
	ErrUnauthorized    = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidAPIKey   = NewDomainError(ErrorTypeUnauthorized, "invalid API key", nil)
	ErrInvalidToken    = NewDomainError(ErrorTypeUnauthorized, "invalid session token", nil)
	ErrUnknownOrg      = NewDomainError(ErrorTypeUnauthorized, "unknown organization", nil)
	ErrNoSigningKey    = NewDomainError(ErrorTypeUnauthorized, "organization has no active signing key", nil)
	ErrInvalidAdminKey = NewDomainError(ErrorTypeUnauthorized, "invalid admin key", nil)

	// Permission Errors
	ErrForbidden       = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrOrgMismatch     = NewDomainError(ErrorTypeForbidden, "organization mismatch", nil)
	ErrSubjectMismatch = NewDomainError(ErrorTypeForbidden, "session subject mismatch", nil)
	ErrSandboxDisabled = NewDomainError(ErrorTypeForbidden, "sandbox reset is disabled", nil)
	ErrNotSandboxUser  = NewDomainError(ErrorTypeForbidden, "user is not a sandbox user", nil)

	// Rate Limit Errors
	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)

	// Conflict Errors
	ErrSnapshotVersionConflict = NewDomainError(ErrorTypeConflict, "snapshot version already exists", nil)
	ErrDuplicateEvent          = NewDomainError(ErrorTypeConflict, "event already exists", nil)

	// Chain Race Errors
	ErrChainRace = NewDomainError(ErrorTypeChainRace, "concurrent append to the same chain", nil)

	// Serialization Errors
	ErrSerialization = NewDomainError(ErrorTypeSerialization, "payload cannot be canonicalized", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// NewValidationError builds a validation error with a caller-actionable message
func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, nil)
}

// NewMissingFieldsError names every missing field in the order given
func NewMissingFieldsError(fields []string) *DomainError {
	return NewValidationError("Missing required fields: "+strings.Join(fields, ", ")).
		WithDetail("missingFields", fields)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return hasType(err, ErrorTypeForbidden)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return hasType(err, ErrorTypeRateLimit)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsChainRaceError checks if an error reports a lost race on a chain append
func IsChainRaceError(err error) bool {
	return hasType(err, ErrorTypeChainRace)
}

// IsSerializationError checks if an error is a canonicalization failure
func IsSerializationError(err error) bool {
	return hasType(err, ErrorTypeSerialization)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapSerialization wraps a canonicalization failure
func WrapSerialization(message string, err error) error {
	return NewDomainError(ErrorTypeSerialization, message, err)
}
