package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

type mockSecurityRepo struct {
	mu      sync.Mutex
	events  []*models.SecurityEvent
	alerts  []*models.SecurityAlert
	origins []string
}

func (m *mockSecurityRepo) InsertEvent(_ context.Context, event *models.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockSecurityRepo) InsertAlert(_ context.Context, alert *models.SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *mockSecurityRepo) ResolveAlert(_ context.Context, _, _ uuid.UUID) error { return nil }

func (m *mockSecurityRepo) ListActiveAlerts(_ context.Context, _ uuid.UUID) ([]*models.SecurityAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.SecurityAlert(nil), m.alerts...), nil
}

func (m *mockSecurityRepo) HasActiveAlert(_ context.Context, userID uuid.UUID, connectionID *uuid.UUID, alertType models.AlertType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.UserID != userID || a.Type != alertType || a.Status != models.AlertActive {
			continue
		}
		if connectionID == nil || (a.ConnectionID != nil && *a.ConnectionID == *connectionID) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockSecurityRepo) RecentOrigins(_ context.Context, _ uuid.UUID, _ time.Time) ([]string, error) {
	return m.origins, nil
}

func (m *mockSecurityRepo) alertsOfType(alertType models.AlertType) []*models.SecurityAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SecurityAlert
	for _, a := range m.alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

type mockSuspender struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (m *mockSuspender) Suspend(_ context.Context, _, connectionID uuid.UUID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, connectionID)
	return nil
}

type mockNotifier struct {
	mu    sync.Mutex
	count int
}

func (m *mockNotifier) NotifyHighSeverity(_ context.Context, _ *models.SecurityAlert) {
	m.mu.Lock()
	m.count++
	m.mu.Unlock()
}

func testThresholds() Thresholds {
	return Thresholds{
		FailedTests:        3,
		FailedTestWindow:   time.Hour,
		MassCreation:       5,
		MassCreationWindow: time.Minute,
		CreationBlock:      15 * time.Minute,
		RevokedUsage:       3,
	}
}

func newTestMonitor(repo *mockSecurityRepo, notifier Notifier) (*Monitor, *mockSuspender) {
	m := NewMonitor(testThresholds(), repo, NewMemoryRateLimitStore(), notifier, zap.NewNop())
	susp := &mockSuspender{}
	m.SetSuspender(susp)
	return m, susp
}

func TestFailedTestsBelowThresholdDoNotSuspend(t *testing.T) {
	repo := &mockSecurityRepo{}
	m, susp := newTestMonitor(repo, nil)
	userID, connID := uuid.New(), uuid.New()

	for i := 0; i < 2; i++ {
		m.ObserveTestResult(context.Background(), userID, connID, "", false)
	}

	if len(susp.calls) != 0 {
		t.Fatalf("suspended after %d failures, threshold is 3", 2)
	}
	if alerts := repo.alertsOfType(models.AlertRepeatedFailedTests); len(alerts) != 0 {
		t.Fatalf("got %d alerts below threshold, want 0", len(alerts))
	}
}

func TestFailedTestsAtThresholdSuspendOnce(t *testing.T) {
	repo := &mockSecurityRepo{}
	m, susp := newTestMonitor(repo, nil)
	userID, connID := uuid.New(), uuid.New()

	// One past the threshold: the extra failure must not re-suspend or
	// duplicate the alert.
	for i := 0; i < 4; i++ {
		m.ObserveTestResult(context.Background(), userID, connID, "", false)
	}

	if len(susp.calls) != 1 {
		t.Fatalf("suspend called %d times, want 1", len(susp.calls))
	}
	if susp.calls[0] != connID {
		t.Fatalf("suspended %s, want %s", susp.calls[0], connID)
	}
	if alerts := repo.alertsOfType(models.AlertRepeatedFailedTests); len(alerts) != 1 {
		t.Fatalf("got %d alerts, want exactly 1", len(alerts))
	}
}

func TestSuccessfulTestResetsFailureCount(t *testing.T) {
	repo := &mockSecurityRepo{}
	m, susp := newTestMonitor(repo, nil)
	userID, connID := uuid.New(), uuid.New()

	m.ObserveTestResult(context.Background(), userID, connID, "", false)
	m.ObserveTestResult(context.Background(), userID, connID, "", false)
	m.ObserveTestResult(context.Background(), userID, connID, "", true)
	m.ObserveTestResult(context.Background(), userID, connID, "", false)
	m.ObserveTestResult(context.Background(), userID, connID, "", false)

	if len(susp.calls) != 0 {
		t.Fatal("a successful test in between must reset the failure count")
	}
}

func TestMassCreationBlocksFurtherCreation(t *testing.T) {
	repo := &mockSecurityRepo{}
	notifier := &mockNotifier{}
	m, _ := newTestMonitor(repo, notifier)
	userID := uuid.New()

	for i := 0; i < 4; i++ {
		m.ObserveConnectionCreated(context.Background(), userID, uuid.New(), "10.0.0.1")
	}
	if m.CreationBlocked(context.Background(), userID) {
		t.Fatal("blocked below the mass creation threshold")
	}

	m.ObserveConnectionCreated(context.Background(), userID, uuid.New(), "10.0.0.1")
	if !m.CreationBlocked(context.Background(), userID) {
		t.Fatal("expected creation to be blocked at the threshold")
	}
	alerts := repo.alertsOfType(models.AlertMassConnectionCreation)
	if len(alerts) != 1 {
		t.Fatalf("got %d mass creation alerts, want 1", len(alerts))
	}
	if alerts[0].Severity != models.SeverityMedium {
		t.Fatalf("severity = %s, want medium", alerts[0].Severity)
	}
	// Medium severity alerts do not page anyone.
	if notifier.count != 0 {
		t.Fatalf("notifier called %d times, want 0", notifier.count)
	}
}

func TestWindowCounterSweepEvictsIdleKeys(t *testing.T) {
	c := newWindowCounter(20 * time.Millisecond)
	c.Observe("stale")
	c.Observe("fresh")
	time.Sleep(30 * time.Millisecond)
	c.Observe("fresh")

	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("swept %d keys, want 1", removed)
	}

	c.mu.Lock()
	_, staleKept := c.hits["stale"]
	_, freshKept := c.hits["fresh"]
	c.mu.Unlock()
	if staleKept {
		t.Fatal("idle key survived the sweep")
	}
	if !freshKept {
		t.Fatal("live key was evicted")
	}
}

func TestRevokedUsageRaisesHighAlertAtThreshold(t *testing.T) {
	repo := &mockSecurityRepo{}
	notifier := &mockNotifier{}
	m, _ := newTestMonitor(repo, notifier)
	userID, connID := uuid.New(), uuid.New()

	for i := 0; i < 3; i++ {
		m.ObserveRevokedUsage(context.Background(), userID, connID, "")
	}

	alerts := repo.alertsOfType(models.AlertPersistentRevokedUsage)
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if alerts[0].Severity != models.SeverityHigh {
		t.Fatalf("severity = %s, want high", alerts[0].Severity)
	}
	if notifier.count != 1 {
		t.Fatalf("notifier called %d times, want 1", notifier.count)
	}
}

func TestUnusualOriginRaisesAlert(t *testing.T) {
	repo := &mockSecurityRepo{origins: []string{"203.0.113.7"}}
	m, _ := newTestMonitor(repo, nil)
	userID, connID := uuid.New(), uuid.New()

	m.ObserveUsage(context.Background(), userID, connID, "198.51.100.23")

	if alerts := repo.alertsOfType(models.AlertUnusualLocationAccess); len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
}

func TestFirstOriginEstablishesBaseline(t *testing.T) {
	repo := &mockSecurityRepo{}
	m, _ := newTestMonitor(repo, nil)

	m.ObserveUsage(context.Background(), uuid.New(), uuid.New(), "198.51.100.23")

	if alerts := repo.alertsOfType(models.AlertUnusualLocationAccess); len(alerts) != 0 {
		t.Fatal("first origin must not alert")
	}
}

func TestScanFieldsDetectsInjection(t *testing.T) {
	repo := &mockSecurityRepo{}
	m, _ := newTestMonitor(repo, &mockNotifier{})
	userID := uuid.New()

	clean := map[string]string{"apiKey": "sk-or-abcdefghijklmnopqrstuv"}
	if m.ScanFields(context.Background(), userID, "", clean) {
		t.Fatal("clean fields flagged as injection")
	}

	dirty := map[string]string{"name": "x' OR '1'='1' --"}
	if !m.ScanFields(context.Background(), userID, "", dirty) {
		t.Fatal("SQL injection payload not detected")
	}
	if alerts := repo.alertsOfType(models.AlertInjectionAttempt); len(alerts) != 1 {
		t.Fatalf("got %d injection alerts, want 1", len(alerts))
	}
}

func TestMemoryRateLimitStoreExpiry(t *testing.T) {
	store := NewMemoryRateLimitStore()
	userID := uuid.New()

	if err := store.Block(context.Background(), userID, ActionCreateConnection, time.Now().Add(30*time.Millisecond)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blocked, err := store.IsBlocked(context.Background(), userID, ActionCreateConnection)
	if err != nil || !blocked {
		t.Fatalf("expected blocked, got %v (err %v)", blocked, err)
	}

	time.Sleep(50 * time.Millisecond)
	blocked, err = store.IsBlocked(context.Background(), userID, ActionCreateConnection)
	if err != nil || blocked {
		t.Fatalf("expected block to expire, got %v (err %v)", blocked, err)
	}
}
