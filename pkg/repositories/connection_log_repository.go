package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/database"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// ConnectionLogRepository defines data access for the append-only audit trail.
type ConnectionLogRepository interface {
	// Insert appends an audit row.
	Insert(ctx context.Context, log *models.ConnectionLog) error

	// ListForConnection returns the most recent rows for a connection,
	// newest first.
	ListForConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]*models.ConnectionLog, error)

	// DeleteOlderThan removes rows created before the cutoff. Returns the
	// number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type connectionLogRepository struct {
	db *database.DB
}

// NewConnectionLogRepository creates a PostgreSQL-backed audit log repository.
func NewConnectionLogRepository(db *database.DB) ConnectionLogRepository {
	return &connectionLogRepository{db: db}
}

func (r *connectionLogRepository) Insert(ctx context.Context, log *models.ConnectionLog) error {
	log.CreatedAt = time.Now().UTC()

	var contextJSON []byte
	if log.Context != nil {
		var err error
		contextJSON, err = json.Marshal(log.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal log context: %w", err)
		}
	}

	query := `
		INSERT INTO engine_connection_logs (connection_id, user_id, action, success, error, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		log.ConnectionID,
		log.UserID,
		log.Action,
		log.Success,
		log.Error,
		contextJSON,
		log.CreatedAt,
	).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("failed to insert connection log: %w", err)
	}

	return nil
}

func (r *connectionLogRepository) ListForConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]*models.ConnectionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, connection_id, user_id, action, success, error, context, created_at
		FROM engine_connection_logs
		WHERE connection_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, connectionID, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to list connection logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.ConnectionLog
	for rows.Next() {
		var log models.ConnectionLog
		var contextJSON []byte
		if err := rows.Scan(
			&log.ID,
			&log.ConnectionID,
			&log.UserID,
			&log.Action,
			&log.Success,
			&log.Error,
			&contextJSON,
			&log.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan connection log: %w", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &log.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log context: %w", err)
			}
		}
		logs = append(logs, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection logs: %w", err)
	}

	return logs, nil
}

func (r *connectionLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM engine_connection_logs WHERE created_at < $1`

	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune connection logs: %w", err)
	}
	return result.RowsAffected(), nil
}

var _ ConnectionLogRepository = (*connectionLogRepository)(nil)
