package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alparn/agentxsuite-sub000/services"
)

const metadataURL = "https://gateway.example.com/.well-known/oauth-protected-resource"

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	t.Run("sets content type and status", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteJSON(w, http.StatusOK, map[string]string{"decision": "allow"}))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "allow", body["decision"])
	})

	t.Run("nil data writes empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOKWrapsData(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteOK(w, map[string]string{"id": "pol-1"}))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "pol-1", data["id"])
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]string{"id": "rule-7"}))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteBadRequestCarriesDetails(t *testing.T) {
	w := httptest.NewRecorder()
	details := map[string]interface{}{"Tool": "Tool is required"}
	require.NoError(t, WriteBadRequest(w, "Validation failed", details))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeErrorResponse(t, w)
	assert.Equal(t, "bad_request", resp.Error)
	assert.Equal(t, "Validation failed", resp.Message)
	assert.Equal(t, "Tool is required", resp.Details["Tool"])
}

func TestSimpleErrorWriters(t *testing.T) {
	tests := []struct {
		name    string
		write   func(w http.ResponseWriter) error
		status  int
		errCode string
		message string
	}{
		{
			name:    "unauthorized default message",
			write:   func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") },
			status:  http.StatusUnauthorized,
			errCode: "unauthorized",
			message: "Authentication required",
		},
		{
			name:    "forbidden custom message",
			write:   func(w http.ResponseWriter) error { return WriteForbidden(w, "Access denied to this policy") },
			status:  http.StatusForbidden,
			errCode: "forbidden",
			message: "Access denied to this policy",
		},
		{
			name:    "not found",
			write:   func(w http.ResponseWriter) error { return WriteNotFound(w, "") },
			status:  http.StatusNotFound,
			errCode: "not_found",
			message: "Resource not found",
		},
		{
			name:    "internal error",
			write:   func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			status:  http.StatusInternalServerError,
			errCode: "internal_error",
			message: "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.status, w.Code)
			resp := decodeErrorResponse(t, w)
			assert.Equal(t, tt.errCode, resp.Error)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestWriteUnauthorizedChallenge(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteUnauthorizedChallenge(w, "expired_token", "Token has expired", metadataURL))

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	challenge := w.Header().Get("WWW-Authenticate")
	assert.Contains(t, challenge, `Bearer error="invalid_token"`)
	assert.Contains(t, challenge, `resource_metadata="`+metadataURL+`"`)

	resp := decodeErrorResponse(t, w)
	assert.Equal(t, "expired_token", resp.Error)
	assert.Equal(t, "Token has expired", resp.Message)
}

func TestWriteUnauthorizedChallengeDefaultCode(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteUnauthorizedChallenge(w, "", "", metadataURL))

	resp := decodeErrorResponse(t, w)
	assert.Equal(t, "unauthorized", resp.Error)
}

func TestWriteDomainError(t *testing.T) {
	t.Run("401 attaches the challenge", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteDomainError(w, services.ErrInvalidSignature, metadataURL))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Header().Get("WWW-Authenticate"), "resource_metadata")

		resp := decodeErrorResponse(t, w)
		assert.Equal(t, "invalid_signature", resp.Error)
	})

	t.Run("401 without metadata URL skips the challenge", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteDomainError(w, services.ErrMissingToken, ""))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, w.Header().Get("WWW-Authenticate"))
	})

	t.Run("non-401 keeps the domain code", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteDomainError(w, services.ErrInsufficientScope, metadataURL))

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("WWW-Authenticate"))

		resp := decodeErrorResponse(t, w)
		assert.Equal(t, "insufficient_scope", resp.Error)
	})

	t.Run("503 service unavailable", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteDomainError(w, services.ErrServiceUnavailable, metadataURL))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
