package services

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := NewDomainError(ErrorTypeForbidden, "policy_denied", "policy denied the requested action")
	assert.Equal(t, "policy_denied: policy denied the requested action", err.Error())

	wrapped := err.WithCause(errors.New("boom"))
	assert.Contains(t, wrapped.Error(), "policy_denied")
	assert.Contains(t, wrapped.Error(), "boom")
}

func TestDomainError_IsMatchesOnCode(t *testing.T) {
	wrapped := ErrServiceUnavailable.WithCause(errors.New("dial tcp: connection refused"))

	assert.ErrorIs(t, wrapped, ErrServiceUnavailable)
	assert.NotErrorIs(t, wrapped, ErrInvalidToken)

	// Matching survives further wrapping
	doubly := fmt.Errorf("evaluating policy: %w", wrapped)
	assert.ErrorIs(t, doubly, ErrServiceUnavailable)
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	wrapped := ErrServiceUnavailable.WithCause(cause)
	assert.ErrorIs(t, wrapped, cause)
}

func TestDomainError_WithCauseDoesNotMutate(t *testing.T) {
	wrapped := ErrInvalidToken.WithCause(errors.New("bad segment"))
	assert.NotSame(t, ErrInvalidToken, wrapped)
	assert.Nil(t, ErrInvalidToken.Err)
	assert.NotNil(t, wrapped.Err)
}

func TestDomainError_Withf(t *testing.T) {
	detailed := ErrInsufficientScope.Withf("scope %q required", "authz:admin")
	assert.ErrorIs(t, detailed, ErrInsufficientScope)
	assert.Contains(t, detailed.Message, `scope "authz:admin" required`)
	assert.NotContains(t, ErrInsufficientScope.Message, "authz:admin")
}

func TestDomainError_HTTPStatus(t *testing.T) {
	tests := []struct {
		err    *DomainError
		status int
	}{
		{ErrMissingToken, http.StatusUnauthorized},
		{ErrExpiredToken, http.StatusUnauthorized},
		{ErrInsufficientScope, http.StatusForbidden},
		{ErrCrossTenantAccess, http.StatusForbidden},
		{ErrAgentSessionMismatch, http.StatusForbidden},
		{ErrPolicyNotFound, http.StatusNotFound},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrServiceUnavailable, http.StatusServiceUnavailable},
		{NewDomainError(ErrorTypeInternal, "internal_error", "boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.err.HTTPStatus(), tt.err.Code)
	}
}
