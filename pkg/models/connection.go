package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus is the lifecycle state of a stored connection.
type ConnectionStatus string

const (
	// StatusTesting is the initial state before the first passing probe.
	StatusTesting ConnectionStatus = "testing"
	// StatusActive means the last probe passed and the connection is usable.
	StatusActive ConnectionStatus = "active"
	// StatusFailed means the last probe failed.
	StatusFailed ConnectionStatus = "failed"
	// StatusSuspended is set only by the security monitor; a human must
	// reactivate explicitly.
	StatusSuspended ConnectionStatus = "suspended"
	// StatusRevoked is terminal and set only by the owning user.
	StatusRevoked ConnectionStatus = "revoked"
)

// Valid reports whether s is a known status.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusTesting, StatusActive, StatusFailed, StatusSuspended, StatusRevoked:
		return true
	}
	return false
}

// Usable reports whether a connection in this status may serve credentials.
func (s ConnectionStatus) Usable() bool {
	return s == StatusActive
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
// Revoked is terminal: once revoked a connection never becomes active again.
func (s ConnectionStatus) CanTransitionTo(next ConnectionStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == StatusRevoked {
		return false
	}
	if s == next {
		return true
	}
	switch next {
	case StatusTesting, StatusActive, StatusFailed, StatusSuspended, StatusRevoked:
		return true
	}
	return false
}

// Connection is a user-owned credential record for one external provider.
// The encrypted credential blob is deliberately not part of this struct; it
// travels separately through the repository layer and is only ever opened by
// the credential cipher.
type Connection struct {
	ID          uuid.UUID        `json:"id"`
	UserID      uuid.UUID        `json:"user_id"`
	Type        string           `json:"type"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Scopes      []Scope          `json:"scopes"`
	Status      ConnectionStatus `json:"status"`
	LastUsedAt  *time.Time       `json:"last_used_at,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// AgentConnection links an agent to a connection with a (sub)set of the
// connection's scopes. Invariant: Permissions never exceed the connection's
// granted scopes.
type AgentConnection struct {
	ID           uuid.UUID `json:"id"`
	AgentID      uuid.UUID `json:"agent_id"`
	ConnectionID uuid.UUID `json:"connection_id"`
	Permissions  []Scope   `json:"permissions"`
	IsRequired   bool      `json:"is_required"`
	CreatedAt    time.Time `json:"created_at"`
}
