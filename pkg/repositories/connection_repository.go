// Package repositories provides PostgreSQL data access for the connection
// vault. Credential configs are stored as encrypted TEXT; encryption and
// decryption happen in the service layer, never here.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/crypto"
	"github.com/relayforge-ai/relayforge-engine/pkg/database"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// ConnectionRepository defines data access for connection records.
type ConnectionRepository interface {
	// Create inserts a new connection. Returns ErrConflict if the user
	// already has a connection with the same name.
	Create(ctx context.Context, conn *models.Connection, encryptedConfig crypto.EncryptedBlob) error

	// GetByID retrieves a connection owned by userID. Returns the model and
	// the encrypted config.
	GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Connection, crypto.EncryptedBlob, error)

	// List retrieves connection metadata for a user. Encrypted configs are
	// deliberately not returned; use GetByID when credentials are needed.
	List(ctx context.Context, userID uuid.UUID) ([]*models.Connection, error)

	// UpdateMetadata modifies name, description, and scopes.
	UpdateMetadata(ctx context.Context, id uuid.UUID, name, description string, scopes []models.Scope) error

	// UpdateConfig replaces the encrypted credential blob.
	UpdateConfig(ctx context.Context, id uuid.UUID, encryptedConfig crypto.EncryptedBlob) error

	// SetStatus transitions the lifecycle status. Revoked rows are terminal:
	// the update is refused once a connection is revoked.
	SetStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus) error

	// TouchLastUsed stamps last_used_at with the current time.
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

type connectionRepository struct {
	db *database.DB
}

// NewConnectionRepository creates a PostgreSQL-backed connection repository.
func NewConnectionRepository(db *database.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, user_id, connection_type, name, description, scopes, status, last_used_at, expires_at, created_at, updated_at`

func (r *connectionRepository) Create(ctx context.Context, conn *models.Connection, encryptedConfig crypto.EncryptedBlob) error {
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	if conn.Status == "" {
		conn.Status = models.StatusTesting
	}

	query := `
		INSERT INTO engine_connections (user_id, connection_type, name, description, connection_config, scopes, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		conn.UserID,
		conn.Type,
		conn.Name,
		conn.Description,
		string(encryptedConfig),
		scopesToStrings(conn.Scopes),
		conn.Status,
		conn.ExpiresAt,
		conn.CreatedAt,
		conn.UpdatedAt,
	).Scan(&conn.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}

	return nil
}

func (r *connectionRepository) GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Connection, crypto.EncryptedBlob, error) {
	query := `
		SELECT ` + connectionColumns + `, connection_config
		FROM engine_connections
		WHERE user_id = $1 AND id = $2`

	var conn models.Connection
	var scopes []string
	var encryptedConfig string
	err := r.db.QueryRow(ctx, query, userID, id).Scan(
		&conn.ID,
		&conn.UserID,
		&conn.Type,
		&conn.Name,
		&conn.Description,
		&scopes,
		&conn.Status,
		&conn.LastUsedAt,
		&conn.ExpiresAt,
		&conn.CreatedAt,
		&conn.UpdatedAt,
		&encryptedConfig,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", apperrors.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get connection: %w", err)
	}
	conn.Scopes = stringsToScopes(scopes)

	return &conn, crypto.EncryptedBlob(encryptedConfig), nil
}

func (r *connectionRepository) List(ctx context.Context, userID uuid.UUID) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM engine_connections
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		var conn models.Connection
		var scopes []string
		if err := rows.Scan(
			&conn.ID,
			&conn.UserID,
			&conn.Type,
			&conn.Name,
			&conn.Description,
			&scopes,
			&conn.Status,
			&conn.LastUsedAt,
			&conn.ExpiresAt,
			&conn.CreatedAt,
			&conn.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conn.Scopes = stringsToScopes(scopes)
		connections = append(connections, &conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return connections, nil
}

func (r *connectionRepository) UpdateMetadata(ctx context.Context, id uuid.UUID, name, description string, scopes []models.Scope) error {
	query := `
		UPDATE engine_connections
		SET name = $2, description = $3, scopes = $4, updated_at = $5
		WHERE id = $1 AND status <> 'revoked'`

	result, err := r.db.Exec(ctx, query, id, name, description, scopesToStrings(scopes), time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *connectionRepository) UpdateConfig(ctx context.Context, id uuid.UUID, encryptedConfig crypto.EncryptedBlob) error {
	query := `
		UPDATE engine_connections
		SET connection_config = $2, updated_at = $3
		WHERE id = $1 AND status <> 'revoked'`

	result, err := r.db.Exec(ctx, query, id, string(encryptedConfig), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update connection config: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *connectionRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid status %q", apperrors.ErrValidationFailed, status)
	}

	// Revoked is terminal; the WHERE clause makes that atomic even under
	// concurrent writers.
	query := `
		UPDATE engine_connections
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status <> 'revoked'`

	result, err := r.db.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set connection status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *connectionRepository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE engine_connections SET last_used_at = $2 WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to stamp last_used_at: %w", err)
	}
	return nil
}

func scopesToStrings(scopes []models.Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

func stringsToScopes(strs []string) []models.Scope {
	out := make([]models.Scope, len(strs))
	for i, s := range strs {
		out[i] = models.Scope(s)
	}
	return out
}

// Ensure connectionRepository implements ConnectionRepository at compile time.
var _ ConnectionRepository = (*connectionRepository)(nil)
