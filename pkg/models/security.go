package models

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEventType categorizes raw security observations. Events are facts;
// alerts are conclusions the monitor draws from them.
type SecurityEventType string

const (
	EventConnectionCreated  SecurityEventType = "connection_created"
	EventConnectionTested   SecurityEventType = "connection_tested"
	EventConnectionTestFail SecurityEventType = "connection_test_failed"
	EventConnectionUsed     SecurityEventType = "connection_used"
	EventConnectionRevoked  SecurityEventType = "connection_revoked"
	EventRevokedUsage       SecurityEventType = "revoked_usage_attempt"
)

// SecurityEvent is an immutable raw observation.
type SecurityEvent struct {
	ID           uuid.UUID         `json:"id"`
	UserID       uuid.UUID         `json:"user_id"`
	ConnectionID *uuid.UUID        `json:"connection_id,omitempty"`
	EventType    SecurityEventType `json:"event_type"`
	Origin       string            `json:"origin,omitempty"` // network origin, when known
	Details      map[string]any    `json:"details,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// AlertType identifies the anomaly rule that raised an alert.
type AlertType string

const (
	AlertRepeatedFailedTests    AlertType = "repeated_failed_tests"
	AlertMassConnectionCreation AlertType = "mass_connection_creation"
	AlertPersistentRevokedUsage AlertType = "persistent_revoked_usage"
	AlertUnusualLocationAccess  AlertType = "unusual_location_access"
	AlertInjectionAttempt       AlertType = "injection_attempt"
)

// AlertSeverity ranks alerts for triage and notification routing.
type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// AlertStatus tracks the alert lifecycle. Alerts only move active -> resolved.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// SecurityAlert is a monitor-raised conclusion, persisted with severity.
type SecurityAlert struct {
	ID           uuid.UUID      `json:"id"`
	UserID       uuid.UUID      `json:"user_id"`
	ConnectionID *uuid.UUID     `json:"connection_id,omitempty"`
	Type         AlertType      `json:"type"`
	Severity     AlertSeverity  `json:"severity"`
	Status       AlertStatus    `json:"status"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
}

// RateLimitRecord blocks an action for a user until ExpiresAt.
type RateLimitRecord struct {
	UserID    uuid.UUID `json:"user_id"`
	Action    string    `json:"action"`
	ExpiresAt time.Time `json:"expires_at"`
}
