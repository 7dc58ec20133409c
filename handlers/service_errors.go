package handlers

import (
	"errors"
	"net/http"

	"github.com/alparn/agentxsuite-sub000/services"
	"github.com/alparn/agentxsuite-sub000/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses, preserving
// their stable machine-readable codes. metadataURL attaches the
// WWW-Authenticate challenge to 401 responses.
func HandleServiceError(w http.ResponseWriter, err error, metadataURL string, logger *zap.Logger) {
	if err == nil {
		return
	}

	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		if domainErr.Type == services.ErrorTypeInternal {
			logger.Error("internal server error", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "An internal error occurred")
			return
		}
		if writeErr := utils.WriteDomainError(w, domainErr, metadataURL); writeErr != nil {
			logger.Error("failed to write error response", zap.Error(writeErr))
		}
		return
	}

	// Unknown error type, never leak the underlying message
	logger.Error("unhandled error type", zap.Error(err))
	_ = utils.WriteInternalServerError(w, "An unexpected error occurred")
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	// Generic validation error
	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// notFoundOrInternal writes 404 for typed not-found errors and 500 otherwise
func notFoundOrInternal(w http.ResponseWriter, err error, resource string, logger *zap.Logger) {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) && domainErr.Type == services.ErrorTypeNotFound {
		_ = utils.WriteNotFound(w, resource+" not found")
		return
	}
	logger.Error("lookup failed", zap.String("resource", resource), zap.Error(err))
	_ = utils.WriteInternalServerError(w, "Failed to retrieve "+resource)
}
