// Package security watches connection activity for abuse patterns and turns
// raw events into persisted alerts, automatic suspensions, and temporary
// creation blocks. Observation is best effort: a failing monitor never blocks
// the operation that produced the event.
package security

import (
	"context"
	"fmt"
	"time"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/models"
	"github.com/relayforge-ai/relayforge-engine/pkg/repositories"
)

// ActionCreateConnection is the rate-limited action name for connection
// creation bursts.
const ActionCreateConnection = "create_connection"

// originLookback bounds the history consulted for unusual-origin detection.
const originLookback = 30 * 24 * time.Hour

// Suspender pauses a connection on the monitor's behalf. The vault implements
// this; the indirection keeps the dependency one-way.
type Suspender interface {
	Suspend(ctx context.Context, userID, connectionID uuid.UUID, reason string) error
}

// Notifier delivers high-severity alerts to an external channel.
type Notifier interface {
	NotifyHighSeverity(ctx context.Context, alert *models.SecurityAlert)
}

// LogNotifier is the default Notifier; it writes to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a Notifier backed by the given logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("security_alerts")}
}

func (n *LogNotifier) NotifyHighSeverity(_ context.Context, alert *models.SecurityAlert) {
	n.logger.Warn("high severity security alert",
		zap.String("alert_type", string(alert.Type)),
		zap.String("user_id", alert.UserID.String()))
}

// Thresholds configures the monitor's detection rules.
type Thresholds struct {
	// FailedTests suspends a connection after this many failed probes
	// inside FailedTestWindow.
	FailedTests      int
	FailedTestWindow time.Duration

	// MassCreation blocks creation for CreationBlock after this many
	// connections created inside MassCreationWindow.
	MassCreation       int
	MassCreationWindow time.Duration
	CreationBlock      time.Duration

	// RevokedUsage raises a high alert after this many cumulative attempts
	// to use a revoked connection.
	RevokedUsage int
}

// Monitor is the security monitor. Counters are process-local; events and
// alerts are durable.
type Monitor struct {
	thresholds Thresholds
	repo       repositories.SecurityRepository
	limits     RateLimitStore
	notifier   Notifier
	logger     *zap.Logger

	suspender Suspender

	failedTests *windowCounter
	creations   *windowCounter
	revokedUse  *cumulativeCounter
}

// NewMonitor creates a security monitor.
func NewMonitor(thresholds Thresholds, repo repositories.SecurityRepository, limits RateLimitStore, notifier Notifier, logger *zap.Logger) *Monitor {
	return &Monitor{
		thresholds:  thresholds,
		repo:        repo,
		limits:      limits,
		notifier:    notifier,
		logger:      logger,
		failedTests: newWindowCounter(thresholds.FailedTestWindow),
		creations:   newWindowCounter(thresholds.MassCreationWindow),
		revokedUse:  newCumulativeCounter(),
	}
}

// SetSuspender wires the connection suspender after construction. The vault
// depends on the monitor, so the reverse edge is injected late.
func (m *Monitor) SetSuspender(s Suspender) {
	m.suspender = s
}

// StartSweeper evicts idle counter keys on the given interval until ctx is
// done.
func (m *Monitor) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := m.failedTests.Sweep() + m.creations.Sweep(); removed > 0 {
					m.logger.Debug("evicted idle security counters", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// CreationBlocked reports whether connection creation is currently blocked
// for the user. Store failures fail open with a warning; availability of the
// vault is not held hostage to the limiter backend.
func (m *Monitor) CreationBlocked(ctx context.Context, userID uuid.UUID) bool {
	blocked, err := m.limits.IsBlocked(ctx, userID, ActionCreateConnection)
	if err != nil {
		m.logger.Warn("rate limit check failed", zap.Error(err))
		return false
	}
	return blocked
}

// ObserveConnectionCreated records a creation event and enforces the mass
// creation rule.
func (m *Monitor) ObserveConnectionCreated(ctx context.Context, userID, connectionID uuid.UUID, origin string) {
	m.recordEvent(ctx, userID, &connectionID, models.EventConnectionCreated, origin, nil)

	if count := m.creations.Observe(userID.String()); count >= m.thresholds.MassCreation {
		m.creations.Reset(userID.String())

		until := time.Now().Add(m.thresholds.CreationBlock)
		if err := m.limits.Block(ctx, userID, ActionCreateConnection, until); err != nil {
			m.logger.Warn("failed to record creation block", zap.Error(err))
		}

		m.raiseAlert(ctx, &models.SecurityAlert{
			UserID:   userID,
			Type:     models.AlertMassConnectionCreation,
			Severity: models.SeverityMedium,
			Details: map[string]any{
				"count":         count,
				"blocked_until": until.UTC().Format(time.RFC3339),
			},
		})
	}
}

// ObserveTestResult records a probe outcome and suspends the connection after
// repeated failures.
func (m *Monitor) ObserveTestResult(ctx context.Context, userID, connectionID uuid.UUID, origin string, success bool) {
	eventType := models.EventConnectionTested
	if !success {
		eventType = models.EventConnectionTestFail
	}
	m.recordEvent(ctx, userID, &connectionID, eventType, origin, map[string]any{"success": success})

	if success {
		m.failedTests.Reset(userID.String() + "|" + connectionID.String())
		return
	}

	key := userID.String() + "|" + connectionID.String()
	if count := m.failedTests.Observe(key); count >= m.thresholds.FailedTests {
		m.failedTests.Reset(key)
		m.autoSuspend(ctx, userID, connectionID, count)
	}
}

// ObserveUsage records a usage event and checks the origin against recent
// history.
func (m *Monitor) ObserveUsage(ctx context.Context, userID, connectionID uuid.UUID, origin string) {
	m.recordEvent(ctx, userID, &connectionID, models.EventConnectionUsed, origin, nil)
	m.checkOrigin(ctx, userID, &connectionID, origin)
}

// ObserveRevoked records a revocation event.
func (m *Monitor) ObserveRevoked(ctx context.Context, userID, connectionID uuid.UUID, origin string) {
	m.recordEvent(ctx, userID, &connectionID, models.EventConnectionRevoked, origin, nil)
}

// ObserveRevokedUsage records an attempt to use a revoked connection and
// raises a high alert once the attempts persist.
func (m *Monitor) ObserveRevokedUsage(ctx context.Context, userID, connectionID uuid.UUID, origin string) {
	m.recordEvent(ctx, userID, &connectionID, models.EventRevokedUsage, origin, nil)

	key := userID.String() + "|" + connectionID.String()
	if count := m.revokedUse.Observe(key); count >= m.thresholds.RevokedUsage {
		m.raiseAlert(ctx, &models.SecurityAlert{
			UserID:       userID,
			ConnectionID: &connectionID,
			Type:         models.AlertPersistentRevokedUsage,
			Severity:     models.SeverityHigh,
			Details:      map[string]any{"attempts": count},
		})
	}
}

// ScanFields checks credential field values for injection payloads before
// they are accepted. A hit raises a high alert; the caller decides whether to
// proceed. Returns true when a payload was detected.
func (m *Monitor) ScanFields(ctx context.Context, userID uuid.UUID, origin string, fields map[string]string) bool {
	for name, value := range fields {
		sqli, _ := libinjection.IsSQLi(value)
		if !sqli && !libinjection.IsXSS(value) {
			continue
		}
		m.raiseAlert(ctx, &models.SecurityAlert{
			UserID:   userID,
			Type:     models.AlertInjectionAttempt,
			Severity: models.SeverityHigh,
			Details:  map[string]any{"field": name, "origin": origin},
		})
		return true
	}
	return false
}

func (m *Monitor) autoSuspend(ctx context.Context, userID, connectionID uuid.UUID, failures int) {
	if m.suspender == nil {
		m.logger.Error("no suspender wired, cannot auto-suspend",
			zap.String("connection_id", connectionID.String()))
		return
	}

	reason := fmt.Sprintf("%d failed credential tests inside the detection window", failures)
	if err := m.suspender.Suspend(ctx, userID, connectionID, reason); err != nil {
		m.logger.Error("auto-suspend failed",
			zap.String("connection_id", connectionID.String()),
			zap.Error(err))
	}

	m.raiseAlert(ctx, &models.SecurityAlert{
		UserID:       userID,
		ConnectionID: &connectionID,
		Type:         models.AlertRepeatedFailedTests,
		Severity:     models.SeverityMedium,
		Details:      map[string]any{"failures": failures},
	})
}

func (m *Monitor) checkOrigin(ctx context.Context, userID uuid.UUID, connectionID *uuid.UUID, origin string) {
	if origin == "" {
		return
	}

	known, err := m.repo.RecentOrigins(ctx, userID, time.Now().Add(-originLookback))
	if err != nil {
		m.logger.Warn("origin history lookup failed", zap.Error(err))
		return
	}
	// First-ever origin establishes the baseline rather than alerting.
	if len(known) == 0 {
		return
	}
	for _, o := range known {
		if o == origin {
			return
		}
	}

	m.raiseAlert(ctx, &models.SecurityAlert{
		UserID:       userID,
		ConnectionID: connectionID,
		Type:         models.AlertUnusualLocationAccess,
		Severity:     models.SeverityMedium,
		Details:      map[string]any{"origin": origin},
	})
}

func (m *Monitor) recordEvent(ctx context.Context, userID uuid.UUID, connectionID *uuid.UUID, eventType models.SecurityEventType, origin string, details map[string]any) {
	event := &models.SecurityEvent{
		UserID:       userID,
		ConnectionID: connectionID,
		EventType:    eventType,
		Origin:       origin,
		Details:      details,
	}
	if err := m.repo.InsertEvent(ctx, event); err != nil {
		m.logger.Warn("failed to persist security event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

// raiseAlert persists an alert unless an identical one is already active, and
// notifies on high severity. Alerts are idempotent per (user, connection,
// type) so a sustained burst produces one row, not one per hit.
func (m *Monitor) raiseAlert(ctx context.Context, alert *models.SecurityAlert) {
	exists, err := m.repo.HasActiveAlert(ctx, alert.UserID, alert.ConnectionID, alert.Type)
	if err != nil {
		m.logger.Warn("active alert lookup failed", zap.Error(err))
	}
	if exists {
		return
	}

	alert.Status = models.AlertActive
	if err := m.repo.InsertAlert(ctx, alert); err != nil {
		m.logger.Error("failed to persist security alert",
			zap.String("alert_type", string(alert.Type)),
			zap.Error(err))
		return
	}

	m.logger.Info("security alert raised",
		zap.String("alert_type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("user_id", alert.UserID.String()))

	if alert.Severity == models.SeverityHigh && m.notifier != nil {
		m.notifier.NotifyHighSeverity(ctx, alert)
	}
}
