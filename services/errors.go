package services

import (
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeUnavailable  ErrorType = "unavailable"
)

// DomainError represents a structured error with a stable machine-readable
// code. Descriptions never carry credential material.
type DomainError struct {
	Type    ErrorType
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is; two domain errors match on their code
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error carrying an underlying cause
func (e *DomainError) WithCause(err error) *DomainError {
	return &DomainError{Type: e.Type, Code: e.Code, Message: e.Message, Err: err}
}

// Withf returns a copy of the error with extra detail appended to the message
func (e *DomainError) Withf(format string, args ...interface{}) *DomainError {
	return &DomainError{
		Type:    e.Type,
		Code:    e.Code,
		Message: fmt.Sprintf("%s: %s", e.Message, fmt.Sprintf(format, args...)),
		Err:     e.Err,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, code, message string) *DomainError {
	return &DomainError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// HTTPStatus maps the error category to an HTTP status class
func (e *DomainError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeUnauthorized:
		return 401
	case ErrorTypeForbidden:
		return 403
	case ErrorTypeNotFound:
		return 404
	case ErrorTypeValidation:
		return 400
	case ErrorTypeConflict:
		return 409
	case ErrorTypeUnavailable:
		return 503
	default:
		return 500
	}
}

// Domain error variables

var (
	// Credential errors (401)
	ErrMissingToken     = NewDomainError(ErrorTypeUnauthorized, "missing_token", "no credential presented")
	ErrInvalidToken     = NewDomainError(ErrorTypeUnauthorized, "invalid_token", "token is malformed or not valid")
	ErrInvalidSignature = NewDomainError(ErrorTypeUnauthorized, "invalid_signature", "token signature could not be verified")
	ErrInvalidIssuer    = NewDomainError(ErrorTypeUnauthorized, "invalid_issuer", "token issuer is not trusted")
	ErrInvalidAudience  = NewDomainError(ErrorTypeUnauthorized, "invalid_audience", "token audience does not match this resource")
	ErrExpiredToken     = NewDomainError(ErrorTypeUnauthorized, "expired_token", "token has expired")

	// Permission errors (403)
	ErrInsufficientScope    = NewDomainError(ErrorTypeForbidden, "insufficient_scope", "token lacks a required scope")
	ErrCrossTenantAccess    = NewDomainError(ErrorTypeForbidden, "cross_tenant_access", "token tenant does not match the requested tenant")
	ErrAgentNotFound        = NewDomainError(ErrorTypeForbidden, "agent_not_found", "no enabled agent matches the credential")
	ErrAgentSessionMismatch = NewDomainError(ErrorTypeForbidden, "agent_session_mismatch", "token agent does not match the resolved agent")
	ErrPolicyDenied         = NewDomainError(ErrorTypeForbidden, "policy_denied", "policy denied the requested action")

	// Dependency errors (503); always fail closed
	ErrServiceUnavailable = NewDomainError(ErrorTypeUnavailable, "service_unavailable", "a required dependency is unreachable")

	// Management errors
	ErrPolicyNotFound  = NewDomainError(ErrorTypeNotFound, "policy_not_found", "policy not found")
	ErrBindingNotFound = NewDomainError(ErrorTypeNotFound, "binding_not_found", "binding not found")
	ErrRuleNotFound    = NewDomainError(ErrorTypeNotFound, "rule_not_found", "rule not found")
	ErrInvalidInput    = NewDomainError(ErrorTypeValidation, "invalid_input", "invalid input")
)
