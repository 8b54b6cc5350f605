package vault

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/catalog"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// checkLinkPermissions enforces the link invariant: an agent's permissions
// never exceed the scopes granted to the connection itself.
func checkLinkPermissions(conn *models.Connection, permissions []models.Scope) error {
	for _, p := range permissions {
		if !p.Valid() {
			return &ValidationError{Errors: []catalog.FieldError{{
				Field:   "permissions",
				Message: fmt.Sprintf("unknown scope %q", p),
			}}}
		}
	}
	if !models.ScopeSubset(permissions, conn.Scopes) {
		return &ValidationError{Errors: []catalog.FieldError{{
			Field:   "permissions",
			Message: "permissions exceed the scopes granted to the connection",
		}}}
	}
	return nil
}

func (s *connectionService) LinkAgent(ctx context.Context, userID, agentID, connectionID uuid.UUID, permissions []models.Scope, isRequired bool) (*models.AgentConnection, error) {
	conn, _, err := s.connections.GetByID(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Status == models.StatusRevoked {
		return nil, fmt.Errorf("%w: connection is revoked", apperrors.ErrConnectionNotUsable)
	}

	if len(permissions) == 0 {
		permissions = conn.Scopes
	}
	if err := checkLinkPermissions(conn, permissions); err != nil {
		return nil, err
	}

	link := &models.AgentConnection{
		AgentID:      agentID,
		ConnectionID: connectionID,
		Permissions:  permissions,
		IsRequired:   isRequired,
	}
	if err := s.links.Link(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *connectionService) UpdateAgentLink(ctx context.Context, userID, agentID, connectionID uuid.UUID, permissions []models.Scope, isRequired bool) error {
	conn, _, err := s.connections.GetByID(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	if err := checkLinkPermissions(conn, permissions); err != nil {
		return err
	}
	return s.links.Update(ctx, agentID, connectionID, permissions, isRequired)
}

func (s *connectionService) UnlinkAgent(ctx context.Context, userID, agentID, connectionID uuid.UUID) error {
	// Ownership check before touching the link table.
	if _, _, err := s.connections.GetByID(ctx, userID, connectionID); err != nil {
		return err
	}
	return s.links.Unlink(ctx, agentID, connectionID)
}

func (s *connectionService) ListAgentLinks(ctx context.Context, agentID uuid.UUID) ([]*models.AgentConnection, error) {
	return s.links.ListForAgent(ctx, agentID)
}
