package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/database"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// SecurityRepository defines data access for security events and alerts.
type SecurityRepository interface {
	// InsertEvent appends a raw security observation.
	InsertEvent(ctx context.Context, event *models.SecurityEvent) error

	// InsertAlert persists a monitor-raised alert.
	InsertAlert(ctx context.Context, alert *models.SecurityAlert) error

	// ResolveAlert marks an active alert resolved.
	ResolveAlert(ctx context.Context, userID, alertID uuid.UUID) error

	// ListActiveAlerts returns unresolved alerts for a user, newest first.
	ListActiveAlerts(ctx context.Context, userID uuid.UUID) ([]*models.SecurityAlert, error)

	// HasActiveAlert reports whether an unresolved alert of the given type
	// already exists for a user and optional connection. The monitor uses
	// this to keep threshold alerts idempotent.
	HasActiveAlert(ctx context.Context, userID uuid.UUID, connectionID *uuid.UUID, alertType models.AlertType) (bool, error)

	// RecentOrigins returns the distinct network origins seen for a user
	// since the given time.
	RecentOrigins(ctx context.Context, userID uuid.UUID, since time.Time) ([]string, error)
}

type securityRepository struct {
	db *database.DB
}

// NewSecurityRepository creates a PostgreSQL-backed security repository.
func NewSecurityRepository(db *database.DB) SecurityRepository {
	return &securityRepository{db: db}
}

func (r *securityRepository) InsertEvent(ctx context.Context, event *models.SecurityEvent) error {
	event.CreatedAt = time.Now().UTC()

	detailsJSON, err := marshalDetails(event.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_security_events (user_id, connection_id, event_type, origin, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		event.UserID,
		event.ConnectionID,
		event.EventType,
		event.Origin,
		detailsJSON,
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	return nil
}

func (r *securityRepository) InsertAlert(ctx context.Context, alert *models.SecurityAlert) error {
	alert.CreatedAt = time.Now().UTC()
	if alert.Status == "" {
		alert.Status = models.AlertActive
	}

	detailsJSON, err := marshalDetails(alert.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_security_alerts (user_id, connection_id, alert_type, severity, status, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		alert.UserID,
		alert.ConnectionID,
		alert.Type,
		alert.Severity,
		alert.Status,
		detailsJSON,
		alert.CreatedAt,
	).Scan(&alert.ID)
	if err != nil {
		return fmt.Errorf("failed to insert security alert: %w", err)
	}

	return nil
}

func (r *securityRepository) ResolveAlert(ctx context.Context, userID, alertID uuid.UUID) error {
	query := `
		UPDATE engine_security_alerts
		SET status = 'resolved', resolved_at = $3
		WHERE user_id = $1 AND id = $2 AND status = 'active'`

	result, err := r.db.Exec(ctx, query, userID, alertID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to resolve security alert: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *securityRepository) ListActiveAlerts(ctx context.Context, userID uuid.UUID) ([]*models.SecurityAlert, error) {
	query := `
		SELECT id, user_id, connection_id, alert_type, severity, status, details, created_at, resolved_at
		FROM engine_security_alerts
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list security alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.SecurityAlert
	for rows.Next() {
		var alert models.SecurityAlert
		var detailsJSON []byte
		if err := rows.Scan(
			&alert.ID,
			&alert.UserID,
			&alert.ConnectionID,
			&alert.Type,
			&alert.Severity,
			&alert.Status,
			&detailsJSON,
			&alert.CreatedAt,
			&alert.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan security alert: %w", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &alert.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal alert details: %w", err)
			}
		}
		alerts = append(alerts, &alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security alerts: %w", err)
	}

	return alerts, nil
}

func (r *securityRepository) HasActiveAlert(ctx context.Context, userID uuid.UUID, connectionID *uuid.UUID, alertType models.AlertType) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM engine_security_alerts
			WHERE user_id = $1
			  AND alert_type = $2
			  AND status = 'active'
			  AND ($3::uuid IS NULL OR connection_id = $3)
		)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, alertType, connectionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active alert: %w", err)
	}
	return exists, nil
}

func (r *securityRepository) RecentOrigins(ctx context.Context, userID uuid.UUID, since time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT origin
		FROM engine_security_events
		WHERE user_id = $1 AND origin <> '' AND created_at >= $2`

	rows, err := r.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent origins: %w", err)
	}
	defer rows.Close()

	var origins []string
	for rows.Next() {
		var origin string
		if err := rows.Scan(&origin); err != nil {
			return nil, fmt.Errorf("failed to scan origin: %w", err)
		}
		origins = append(origins, origin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating origins: %w", err)
	}

	return origins, nil
}

func marshalDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal details: %w", err)
	}
	return b, nil
}

var _ SecurityRepository = (*securityRepository)(nil)
