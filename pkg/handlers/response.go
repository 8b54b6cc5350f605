package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/vault"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteServiceError maps service-layer errors onto HTTP responses. Validation
// failures include the per-field violations so a client can fix everything in
// one pass.
func WriteServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var verr *vault.ValidationError
	if errors.As(err, &verr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "validation_failed",
			"message": "one or more fields are invalid",
			"details": verr.Errors,
		})
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, apperrors.ErrConflict):
		_ = ErrorResponse(w, http.StatusConflict, "conflict", "Resource already exists")
	case errors.Is(err, apperrors.ErrValidationFailed):
		_ = ErrorResponse(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, apperrors.ErrUnsupportedConnectionType):
		_ = ErrorResponse(w, http.StatusBadRequest, "unsupported_connection_type", err.Error())
	case errors.Is(err, apperrors.ErrRateLimited):
		_ = ErrorResponse(w, http.StatusTooManyRequests, "rate_limited", "Action is temporarily blocked")
	case errors.Is(err, apperrors.ErrConnectionNotUsable):
		_ = ErrorResponse(w, http.StatusConflict, "connection_not_usable", err.Error())
	case errors.Is(err, apperrors.ErrMissingRequiredConnection):
		_ = ErrorResponse(w, http.StatusFailedDependency, "missing_required_connection", err.Error())
	case errors.Is(err, apperrors.ErrNoUsableConnection):
		_ = ErrorResponse(w, http.StatusConflict, "no_usable_connection", err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
