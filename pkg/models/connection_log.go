package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionAction identifies the operation recorded in a connection log row.
const (
	ActionCreated       = "created"
	ActionUpdated       = "updated"
	ActionUsed          = "used"
	ActionTested        = "tested"
	ActionRevoked       = "revoked"
	ActionAutoSuspended = "auto_suspended"
)

// ConnectionLog is an append-only audit row written by every mutating or
// usage operation. Rows are never mutated or deleted except by the retention
// sweep.
type ConnectionLog struct {
	ID           uuid.UUID      `json:"id"`
	ConnectionID uuid.UUID      `json:"connection_id"`
	UserID       uuid.UUID      `json:"user_id"`
	Action       string         `json:"action"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
