package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/database"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// AgentConnectionRepository defines data access for agent-to-connection links.
type AgentConnectionRepository interface {
	// Link grants an agent access to a connection. Returns ErrConflict when
	// the link already exists.
	Link(ctx context.Context, link *models.AgentConnection) error

	// Update replaces the permissions and required flag of an existing link.
	Update(ctx context.Context, agentID, connectionID uuid.UUID, permissions []models.Scope, isRequired bool) error

	// ListForAgent returns all links held by an agent.
	ListForAgent(ctx context.Context, agentID uuid.UUID) ([]*models.AgentConnection, error)

	// ListForConnection returns all agent links referencing a connection.
	ListForConnection(ctx context.Context, connectionID uuid.UUID) ([]*models.AgentConnection, error)

	// Unlink removes the grant.
	Unlink(ctx context.Context, agentID, connectionID uuid.UUID) error
}

type agentConnectionRepository struct {
	db *database.DB
}

// NewAgentConnectionRepository creates a PostgreSQL-backed link repository.
func NewAgentConnectionRepository(db *database.DB) AgentConnectionRepository {
	return &agentConnectionRepository{db: db}
}

func (r *agentConnectionRepository) Link(ctx context.Context, link *models.AgentConnection) error {
	link.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO engine_agent_connections (agent_id, connection_id, permissions, is_required, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		link.AgentID,
		link.ConnectionID,
		scopesToStrings(link.Permissions),
		link.IsRequired,
		link.CreatedAt,
	).Scan(&link.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to link agent connection: %w", err)
	}

	return nil
}

func (r *agentConnectionRepository) Update(ctx context.Context, agentID, connectionID uuid.UUID, permissions []models.Scope, isRequired bool) error {
	query := `
		UPDATE engine_agent_connections
		SET permissions = $3, is_required = $4
		WHERE agent_id = $1 AND connection_id = $2`

	result, err := r.db.Exec(ctx, query, agentID, connectionID, scopesToStrings(permissions), isRequired)
	if err != nil {
		return fmt.Errorf("failed to update agent connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

const agentConnectionColumns = `id, agent_id, connection_id, permissions, is_required, created_at`

func (r *agentConnectionRepository) ListForAgent(ctx context.Context, agentID uuid.UUID) ([]*models.AgentConnection, error) {
	query := `
		SELECT ` + agentConnectionColumns + `
		FROM engine_agent_connections
		WHERE agent_id = $1
		ORDER BY created_at`

	return r.list(ctx, query, agentID)
}

func (r *agentConnectionRepository) ListForConnection(ctx context.Context, connectionID uuid.UUID) ([]*models.AgentConnection, error) {
	query := `
		SELECT ` + agentConnectionColumns + `
		FROM engine_agent_connections
		WHERE connection_id = $1
		ORDER BY created_at`

	return r.list(ctx, query, connectionID)
}

func (r *agentConnectionRepository) list(ctx context.Context, query string, arg any) ([]*models.AgentConnection, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent connections: %w", err)
	}
	defer rows.Close()

	var links []*models.AgentConnection
	for rows.Next() {
		var link models.AgentConnection
		var permissions []string
		if err := rows.Scan(
			&link.ID,
			&link.AgentID,
			&link.ConnectionID,
			&permissions,
			&link.IsRequired,
			&link.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent connection: %w", err)
		}
		link.Permissions = stringsToScopes(permissions)
		links = append(links, &link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent connections: %w", err)
	}

	return links, nil
}

func (r *agentConnectionRepository) Unlink(ctx context.Context, agentID, connectionID uuid.UUID) error {
	query := `DELETE FROM engine_agent_connections WHERE agent_id = $1 AND connection_id = $2`

	result, err := r.db.Exec(ctx, query, agentID, connectionID)
	if err != nil {
		return fmt.Errorf("failed to unlink agent connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

var _ AgentConnectionRepository = (*agentConnectionRepository)(nil)
