package vault

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/crypto"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
	"github.com/relayforge-ai/relayforge-engine/pkg/probe"
)

// mockConnectionRepo is an in-memory stand-in for the PostgreSQL repository.
type mockConnectionRepo struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*models.Connection
	blobs map[uuid.UUID]crypto.EncryptedBlob
}

func newMockConnectionRepo() *mockConnectionRepo {
	return &mockConnectionRepo{
		conns: map[uuid.UUID]*models.Connection{},
		blobs: map[uuid.UUID]crypto.EncryptedBlob{},
	}
}

func (m *mockConnectionRepo) Create(_ context.Context, conn *models.Connection, blob crypto.EncryptedBlob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.conns {
		if existing.UserID == conn.UserID && existing.Name == conn.Name {
			return apperrors.ErrConflict
		}
	}
	conn.ID = uuid.New()
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	clone := *conn
	m.conns[conn.ID] = &clone
	m.blobs[conn.ID] = blob
	return nil
}

func (m *mockConnectionRepo) GetByID(_ context.Context, userID, id uuid.UUID) (*models.Connection, crypto.EncryptedBlob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok || conn.UserID != userID {
		return nil, "", apperrors.ErrNotFound
	}
	clone := *conn
	return &clone, m.blobs[id], nil
}

func (m *mockConnectionRepo) List(_ context.Context, userID uuid.UUID) ([]*models.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Connection
	for _, conn := range m.conns {
		if conn.UserID == userID {
			clone := *conn
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockConnectionRepo) UpdateMetadata(_ context.Context, id uuid.UUID, name, description string, scopes []models.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok || conn.Status == models.StatusRevoked {
		return apperrors.ErrNotFound
	}
	conn.Name = name
	conn.Description = description
	conn.Scopes = scopes
	conn.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockConnectionRepo) UpdateConfig(_ context.Context, id uuid.UUID, blob crypto.EncryptedBlob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok || conn.Status == models.StatusRevoked {
		return apperrors.ErrNotFound
	}
	m.blobs[id] = blob
	return nil
}

func (m *mockConnectionRepo) SetStatus(_ context.Context, id uuid.UUID, status models.ConnectionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok || conn.Status == models.StatusRevoked {
		return apperrors.ErrNotFound
	}
	conn.Status = status
	return nil
}

func (m *mockConnectionRepo) TouchLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[id]; ok {
		now := time.Now().UTC()
		conn.LastUsedAt = &now
	}
	return nil
}

func (m *mockConnectionRepo) status(id uuid.UUID) models.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[id]; ok {
		return conn.Status
	}
	return ""
}

// mockLinkRepo is an in-memory agent link repository.
type mockLinkRepo struct {
	mu    sync.Mutex
	links []*models.AgentConnection
}

func (m *mockLinkRepo) Link(_ context.Context, link *models.AgentConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.AgentID == link.AgentID && l.ConnectionID == link.ConnectionID {
			return apperrors.ErrConflict
		}
	}
	link.ID = uuid.New()
	link.CreatedAt = time.Now().UTC()
	clone := *link
	m.links = append(m.links, &clone)
	return nil
}

func (m *mockLinkRepo) Update(_ context.Context, agentID, connectionID uuid.UUID, permissions []models.Scope, isRequired bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.AgentID == agentID && l.ConnectionID == connectionID {
			l.Permissions = permissions
			l.IsRequired = isRequired
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockLinkRepo) ListForAgent(_ context.Context, agentID uuid.UUID) ([]*models.AgentConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AgentConnection
	for _, l := range m.links {
		if l.AgentID == agentID {
			clone := *l
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockLinkRepo) ListForConnection(_ context.Context, connectionID uuid.UUID) ([]*models.AgentConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AgentConnection
	for _, l := range m.links {
		if l.ConnectionID == connectionID {
			clone := *l
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockLinkRepo) Unlink(_ context.Context, agentID, connectionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.links {
		if l.AgentID == agentID && l.ConnectionID == connectionID {
			m.links = append(m.links[:i], m.links[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

// mockProber returns scripted results.
type mockProber struct {
	mu      sync.Mutex
	healthy bool
	detail  string
	calls   int
}

func (m *mockProber) Probe(_ context.Context, _ string, _ map[string]string) (probe.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return probe.Result{Healthy: m.healthy, Detail: m.detail}, nil
}

func (m *mockProber) set(healthy bool) {
	m.mu.Lock()
	m.healthy = healthy
	m.mu.Unlock()
}

// mockMonitor records observations without any detection logic.
type mockMonitor struct {
	mu           sync.Mutex
	blocked      bool
	injection    bool
	created      int
	testResults  []bool
	usages       int
	revoked      int
	revokedUsage int
}

func (m *mockMonitor) CreationBlocked(context.Context, uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked
}

func (m *mockMonitor) ObserveConnectionCreated(_ context.Context, _, _ uuid.UUID, _ string) {
	m.mu.Lock()
	m.created++
	m.mu.Unlock()
}

func (m *mockMonitor) ObserveTestResult(_ context.Context, _, _ uuid.UUID, _ string, success bool) {
	m.mu.Lock()
	m.testResults = append(m.testResults, success)
	m.mu.Unlock()
}

func (m *mockMonitor) ObserveUsage(_ context.Context, _, _ uuid.UUID, _ string) {
	m.mu.Lock()
	m.usages++
	m.mu.Unlock()
}

func (m *mockMonitor) ObserveRevoked(_ context.Context, _, _ uuid.UUID, _ string) {
	m.mu.Lock()
	m.revoked++
	m.mu.Unlock()
}

func (m *mockMonitor) ObserveRevokedUsage(_ context.Context, _, _ uuid.UUID, _ string) {
	m.mu.Lock()
	m.revokedUsage++
	m.mu.Unlock()
}

func (m *mockMonitor) ScanFields(context.Context, uuid.UUID, string, map[string]string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.injection
}

// mockRecorder captures audit entries.
type mockRecorder struct {
	mu      sync.Mutex
	entries []*models.ConnectionLog
}

func (m *mockRecorder) Record(_ context.Context, entry *models.ConnectionLog) {
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
}

func (m *mockRecorder) PruneOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *mockRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}
