package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/catalog"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// CatalogHandler exposes the connection type registry.
type CatalogHandler struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(c *catalog.Catalog, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: c, logger: logger}
}

// RegisterRoutes registers the catalog routes on the given mux.
func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /api/connection-types", requireAuth(h.List))
	mux.HandleFunc("GET /api/connection-types/{type}", requireAuth(h.Describe))
}

// typeDescription is the wire form of a catalog spec. Validator regexes stay
// internal; clients only learn which fields exist.
type typeDescription struct {
	Type            string         `json:"type"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	RequiredFields  []string       `json:"required_fields"`
	OptionalFields  []string       `json:"optional_fields"`
	DefaultScopes   []models.Scope `json:"default_scopes"`
	SupportedScopes []models.Scope `json:"supported_scopes"`
}

func describe(connType string, spec catalog.Spec) typeDescription {
	return typeDescription{
		Type:            connType,
		Name:            spec.Name,
		Description:     spec.Description,
		RequiredFields:  spec.RequiredFields,
		OptionalFields:  spec.OptionalFields,
		DefaultScopes:   spec.DefaultScopes,
		SupportedScopes: spec.SupportedScopes,
	}
}

// List handles GET /api/connection-types.
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	types := h.catalog.Types()
	out := make([]typeDescription, 0, len(types))
	for _, t := range types {
		spec, err := h.catalog.Describe(t)
		if err != nil {
			continue
		}
		out = append(out, describe(t, spec))
	}
	_ = WriteJSON(w, http.StatusOK, map[string]any{"types": out})
}

// Describe handles GET /api/connection-types/{type}.
func (h *CatalogHandler) Describe(w http.ResponseWriter, r *http.Request) {
	connType := r.PathValue("type")
	spec, err := h.catalog.Describe(connType)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	_ = WriteJSON(w, http.StatusOK, describe(connType, spec))
}
