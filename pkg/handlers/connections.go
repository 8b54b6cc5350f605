package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/middleware"
	"github.com/relayforge-ai/relayforge-engine/pkg/repositories"
	"github.com/relayforge-ai/relayforge-engine/pkg/vault"
)

// ConnectionHandler exposes the connection vault over HTTP.
type ConnectionHandler struct {
	vault  vault.ConnectionService
	logs   repositories.ConnectionLogRepository
	logger *zap.Logger
}

// NewConnectionHandler creates a new ConnectionHandler.
func NewConnectionHandler(v vault.ConnectionService, logs repositories.ConnectionLogRepository, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{vault: v, logs: logs, logger: logger}
}

// RegisterRoutes registers the connection routes on the given mux. All routes
// require authentication.
func (h *ConnectionHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /api/connections", requireAuth(h.Create))
	mux.HandleFunc("GET /api/connections", requireAuth(h.List))
	mux.HandleFunc("GET /api/connections/{cid}", requireAuth(h.Get))
	mux.HandleFunc("PATCH /api/connections/{cid}", requireAuth(h.Update))
	mux.HandleFunc("POST /api/connections/{cid}/test", requireAuth(h.Test))
	mux.HandleFunc("DELETE /api/connections/{cid}", requireAuth(h.Revoke))
	mux.HandleFunc("GET /api/connections/{cid}/logs", requireAuth(h.Logs))
}

// Create handles POST /api/connections.
func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}

	var req vault.CreateConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	view, err := h.vault.Create(r.Context(), userID, middleware.ClientOrigin(r), req)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, view)
}

// List handles GET /api/connections.
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}

	views, err := h.vault.List(r.Context(), userID)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"connections": views})
}

// Get handles GET /api/connections/{cid}.
func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}
	connectionID, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	view, err := h.vault.Get(r.Context(), userID, connectionID)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, view)
}

// Update handles PATCH /api/connections/{cid}.
func (h *ConnectionHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}
	connectionID, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	var req vault.UpdateConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	view, err := h.vault.Update(r.Context(), userID, connectionID, middleware.ClientOrigin(r), req)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, view)
}

// Test handles POST /api/connections/{cid}/test.
func (h *ConnectionHandler) Test(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}
	connectionID, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.vault.Test(r.Context(), userID, connectionID, middleware.ClientOrigin(r))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, result)
}

// Revoke handles DELETE /api/connections/{cid}. Revocation is a logical
// delete; the row stays for audit.
func (h *ConnectionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}
	connectionID, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.vault.Revoke(r.Context(), userID, connectionID, middleware.ClientOrigin(r)); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Logs handles GET /api/connections/{cid}/logs.
func (h *ConnectionHandler) Logs(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}
	connectionID, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	// Ownership check; the log table itself is not user-scoped.
	if _, err := h.vault.Get(r.Context(), userID, connectionID); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	logs, err := h.logs.ListForConnection(r.Context(), connectionID, limit)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
