package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/repositories"
)

// AlertHandler exposes the user's security alerts.
type AlertHandler struct {
	security repositories.SecurityRepository
	logger   *zap.Logger
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(security repositories.SecurityRepository, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{security: security, logger: logger}
}

// RegisterRoutes registers the alert routes on the given mux.
func (h *AlertHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /api/security/alerts", requireAuth(h.List))
	mux.HandleFunc("POST /api/security/alerts/{alid}/resolve", requireAuth(h.Resolve))
}

// List handles GET /api/security/alerts.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}

	alerts, err := h.security.ListActiveAlerts(r.Context(), userID)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// Resolve handles POST /api/security/alerts/{alid}/resolve.
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}
	alertID, ok := ParseAlertID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.security.ResolveAlert(r.Context(), userID, alertID); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
