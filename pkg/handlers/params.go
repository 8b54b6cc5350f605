package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/auth"
)

// ParseConnectionID extracts and validates the connection ID from the request
// path. Returns the parsed UUID and true on success, or uuid.Nil and false on
// error (after writing an error response).
// Expects path parameter: cid
func ParseConnectionID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "cid", "invalid_connection_id", "Invalid connection ID format", logger)
}

// ParseAgentID extracts and validates the agent ID from the request path.
// Expects path parameter: aid
func ParseAgentID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "aid", "invalid_agent_id", "Invalid agent ID format", logger)
}

// ParseAlertID extracts and validates the alert ID from the request path.
// Expects path parameter: alid
func ParseAlertID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "alid", "invalid_alert_id", "Invalid alert ID format", logger)
}

func parseUUID(w http.ResponseWriter, r *http.Request, param, errorCode, message string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(param))
	if err != nil {
		logger.Debug("invalid path parameter",
			zap.String("param", param),
			zap.Error(err))
		_ = ErrorResponse(w, http.StatusBadRequest, errorCode, message)
		return uuid.Nil, false
	}
	return id, true
}

// RequireUser extracts the authenticated user from the request context,
// writing a 401 on failure.
func RequireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := auth.RequireUserID(r.Context())
	if err != nil {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return uuid.Nil, false
	}
	return userID, true
}
