package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/broker"
	"github.com/relayforge-ai/relayforge-engine/pkg/middleware"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
	"github.com/relayforge-ai/relayforge-engine/pkg/vault"
)

// AgentHandler exposes agent connection links and task execution.
type AgentHandler struct {
	vault  vault.ConnectionService
	broker *broker.Broker
	logger *zap.Logger
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(v vault.ConnectionService, b *broker.Broker, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{vault: v, broker: b, logger: logger}
}

// RegisterRoutes registers the agent routes on the given mux.
func (h *AgentHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /api/agents/{aid}/connections", requireAuth(h.Link))
	mux.HandleFunc("GET /api/agents/{aid}/connections", requireAuth(h.ListLinks))
	mux.HandleFunc("PATCH /api/agents/{aid}/connections/{cid}", requireAuth(h.UpdateLink))
	mux.HandleFunc("DELETE /api/agents/{aid}/connections/{cid}", requireAuth(h.Unlink))
	mux.HandleFunc("POST /api/agents/{aid}/execute", requireAuth(h.Execute))
}

type linkRequest struct {
	ConnectionID uuid.UUID      `json:"connection_id"`
	Permissions  []models.Scope `json:"permissions"`
	IsRequired   bool           `json:"is_required"`
}

// Link handles POST /api/agents/{aid}/connections.
func (h *AgentHandler) Link(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}
	agentID, ok := ParseAgentID(w, r, h.logger)
	if !ok {
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	link, err := h.vault.LinkAgent(r.Context(), userID, agentID, req.ConnectionID, req.Permissions, req.IsRequired)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, link)
}

// ListLinks handles GET /api/agents/{aid}/connections.
func (h *AgentHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireUser(w, r); !ok {
		return
	}
	agentID, ok := ParseAgentID(w, r, h.logger)
	if !ok {
		return
	}

	links, err := h.vault.ListAgentLinks(r.Context(), agentID)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"links": links})
}

// UpdateLink handles PATCH /api/agents/{aid}/connections/{cid}.
func (h *AgentHandler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}
	agentID, ok := ParseAgentID(w, r, h.logger)
	if !ok {
		return
	}
	connectionID, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.vault.UpdateAgentLink(r.Context(), userID, agentID, connectionID, req.Permissions, req.IsRequired); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unlink handles DELETE /api/agents/{aid}/connections/{cid}.
func (h *AgentHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}
	agentID, ok := ParseAgentID(w, r, h.logger)
	if !ok {
		return
	}
	connectionID, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.vault.UnlinkAgent(r.Context(), userID, agentID, connectionID); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	Capability broker.Capability `json:"capability"`
	Input      string            `json:"input"`
	Options    map[string]any    `json:"options"`
}

// Execute handles POST /api/agents/{aid}/execute.
func (h *AgentHandler) Execute(w http.ResponseWriter, r *http.Request) {
	userID, ok := RequireUser(w, r)
	if !ok {
		return
	}
	agentID, ok := ParseAgentID(w, r, h.logger)
	if !ok {
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	result, err := h.broker.Execute(r.Context(), broker.ExecuteRequest{
		UserID:     userID,
		AgentID:    agentID,
		Capability: req.Capability,
		Input:      req.Input,
		Options:    req.Options,
		Origin:     middleware.ClientOrigin(r),
	})
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, result)
}
