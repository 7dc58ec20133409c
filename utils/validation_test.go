package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createBindingBody struct {
	ScopeType string `validate:"required,oneof=agent tool resource_ns env org"`
	ScopeID   string `validate:"required"`
	Priority  int    `validate:"gte=0"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		body := createBindingBody{ScopeType: "tool", ScopeID: "search", Priority: 10}
		assert.NoError(t, ValidateStruct(body))
	})

	t.Run("missing required fields", func(t *testing.T) {
		err := ValidateStruct(createBindingBody{Priority: 1})
		require.Error(t, err)
		require.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "ScopeType is required", fields["ScopeType"])
		assert.Equal(t, "ScopeID is required", fields["ScopeID"])
	})

	t.Run("oneof violation", func(t *testing.T) {
		err := ValidateStruct(createBindingBody{ScopeType: "galaxy", ScopeID: "x"})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Contains(t, fields["ScopeType"], "must be one of")
	})

	t.Run("negative priority", func(t *testing.T) {
		err := ValidateStruct(createBindingBody{ScopeType: "org", ScopeID: "x", Priority: -1})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Contains(t, fields["Priority"], "greater than or equal to 0")
	})
}

func TestIsValidationError(t *testing.T) {
	assert.False(t, IsValidationError(errors.New("plain error")))
	assert.False(t, IsValidationError(nil))
	assert.Nil(t, GetValidationFields(errors.New("plain error")))

	verr := &ValidationError{Message: "Validation failed", Fields: map[string]string{"Name": "Name is required"}}
	assert.True(t, IsValidationError(verr))
	assert.Equal(t, "Validation failed", verr.Error())
}
