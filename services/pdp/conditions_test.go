package pdp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOne(t *testing.T, conditions string) []Predicate {
	t.Helper()
	predicates, err := ParseConditions(json.RawMessage(conditions))
	require.NoError(t, err)
	return predicates
}

func evalAll(predicates []Predicate, evalCtx Context) bool {
	for _, p := range predicates {
		if !p.Evaluate(evalCtx) {
			return false
		}
	}
	return true
}

func TestParseConditions_Empty(t *testing.T) {
	predicates, err := ParseConditions(nil)
	require.NoError(t, err)
	assert.Empty(t, predicates)

	predicates, err = ParseConditions(json.RawMessage("null"))
	require.NoError(t, err)
	assert.Empty(t, predicates)

	predicates, err = ParseConditions(json.RawMessage("{}"))
	require.NoError(t, err)
	assert.Empty(t, predicates)
}

func TestParseConditions_UnknownKey(t *testing.T) {
	_, err := ParseConditions(json.RawMessage(`{"not_a_condition": 1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown condition")
}

func TestParseConditions_MalformedValues(t *testing.T) {
	tests := []struct {
		name       string
		conditions string
	}{
		{"not an object", `[1, 2, 3]`},
		{"env wants string", `{"env==": 42}`},
		{"risk level wants number", `{"risk_level<=": "high"}`},
		{"time window bad clock", `{"time_window": {"start": "9am", "end": "17:00"}}`},
		{"time window hour out of range", `{"time_window": {"start": "25:00", "end": "17:00"}}`},
		{"tags wants strings", `{"tags": [1, 2]}`},
		{"ttl_valid wants bool", `{"ttl_valid": "yes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConditions(json.RawMessage(tt.conditions))
			assert.Error(t, err)
		})
	}
}

func TestEnvEquals(t *testing.T) {
	predicates := parseOne(t, `{"env==": "env-prod"}`)

	assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{"env_id": "env-prod"}}))
	assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{"env_id": "env-dev"}}))
	assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{}}))
}

func TestTimeWindow(t *testing.T) {
	// Monday 2026-01-05
	monday := func(hour, minute int) time.Time {
		return time.Date(2026, 1, 5, hour, minute, 0, 0, time.UTC)
	}

	t.Run("same day window", func(t *testing.T) {
		predicates := parseOne(t, `{"time_window": {"start": "09:00", "end": "17:00"}}`)

		assert.True(t, evalAll(predicates, Context{Now: monday(9, 0)}))
		assert.True(t, evalAll(predicates, Context{Now: monday(12, 30)}))
		assert.True(t, evalAll(predicates, Context{Now: monday(17, 0)}))
		assert.False(t, evalAll(predicates, Context{Now: monday(8, 59)}))
		assert.False(t, evalAll(predicates, Context{Now: monday(17, 1)}))
	})

	t.Run("window wrapping midnight", func(t *testing.T) {
		predicates := parseOne(t, `{"time_window": {"start": "22:00", "end": "06:00"}}`)

		assert.True(t, evalAll(predicates, Context{Now: monday(23, 0)}))
		assert.True(t, evalAll(predicates, Context{Now: monday(2, 0)}))
		assert.True(t, evalAll(predicates, Context{Now: monday(6, 0)}))
		assert.False(t, evalAll(predicates, Context{Now: monday(12, 0)}))
	})

	t.Run("day restriction", func(t *testing.T) {
		predicates := parseOne(t, `{"time_window": {"start": "00:00", "end": "23:59", "days": ["mon", "Tuesday"]}}`)

		assert.True(t, evalAll(predicates, Context{Now: monday(12, 0)}))
		assert.True(t, evalAll(predicates, Context{Now: monday(12, 0).AddDate(0, 0, 1)}))
		// Wednesday
		assert.False(t, evalAll(predicates, Context{Now: monday(12, 0).AddDate(0, 0, 2)}))
	})
}

func TestTagsSuperset(t *testing.T) {
	predicates := parseOne(t, `{"tags": ["finance", "approved"]}`)

	assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{
		"tags": []string{"finance", "approved", "extra"},
	}}))
	assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{
		"tags": []string{"finance"},
	}}))
	assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{}}))

	// Single string form
	single := parseOne(t, `{"tags": "finance"}`)
	assert.True(t, evalAll(single, Context{Values: map[string]interface{}{
		"tags": []interface{}{"finance"},
	}}))
}

func TestNumericBounds(t *testing.T) {
	t.Run("risk level inclusive upper bound", func(t *testing.T) {
		predicates := parseOne(t, `{"risk_level<=": 2}`)

		assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{"risk_level": 2}}))
		assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{"risk_level": float64(1)}}))
		assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{"risk_level": 3}}))
		// Missing value defaults to 0, which passes an upper bound
		assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{}}))
	})

	t.Run("depth inclusive upper bound", func(t *testing.T) {
		predicates := parseOne(t, `{"depth<=": 2}`)

		assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{"depth": 2}}))
		assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{"depth": 3}}))
	})

	t.Run("budget lower bound", func(t *testing.T) {
		predicates := parseOne(t, `{"budget_left_cents>=": 100}`)

		assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{"budget_left_cents": 100}}))
		assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{"budget_left_cents": 99}}))
		// Missing budget defaults to 0, which fails a lower bound
		assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{}}))
	})

	t.Run("max size", func(t *testing.T) {
		predicates := parseOne(t, `{"max_size_mb<=": 10}`)

		assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{"size_mb": 9.5}}))
		assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{"size_mb": 10.5}}))
	})
}

func TestContentTypeIn(t *testing.T) {
	predicates := parseOne(t, `{"content_type": ["application/pdf", "text/plain"]}`)

	assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{"content_type": "text/plain"}}))
	assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{"content_type": "image/png"}}))
	assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{}}))
}

func TestAllowedGlobs(t *testing.T) {
	t.Run("allowed_tools", func(t *testing.T) {
		predicates := parseOne(t, `{"allowed_tools": ["pdf/*", "search"]}`)

		assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{"tool": "pdf/read"}}))
		assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{"tool": "search"}}))
		assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{"tool": "shell"}}))
		assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{}}))
	})

	t.Run("allowed_resource_ns", func(t *testing.T) {
		predicates := parseOne(t, `{"allowed_resource_ns": "docs/*"}`)

		assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{"resource_ns": "docs/internal"}}))
		assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{"resource_ns": "secrets/keys"}}))
	})
}

func TestTTLValid(t *testing.T) {
	required := parseOne(t, `{"ttl_valid": true}`)

	assert.True(t, evalAll(required, Context{Values: map[string]interface{}{"ttl_valid": true}}))
	assert.False(t, evalAll(required, Context{Values: map[string]interface{}{"ttl_valid": false}}))
	assert.False(t, evalAll(required, Context{Values: map[string]interface{}{}}))

	// A false requirement holds regardless of the context
	notRequired := parseOne(t, `{"ttl_valid": false}`)
	assert.True(t, evalAll(notRequired, Context{Values: map[string]interface{}{"ttl_valid": false}}))
	assert.True(t, evalAll(notRequired, Context{Values: map[string]interface{}{}}))
}

func TestConditionsAreANDed(t *testing.T) {
	predicates := parseOne(t, `{"env==": "env-prod", "risk_level<=": 2}`)

	assert.True(t, evalAll(predicates, Context{Values: map[string]interface{}{
		"env_id":     "env-prod",
		"risk_level": 1,
	}}))
	assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{
		"env_id":     "env-prod",
		"risk_level": 5,
	}}))
	assert.False(t, evalAll(predicates, Context{Values: map[string]interface{}{
		"env_id":     "env-dev",
		"risk_level": 1,
	}}))
}
