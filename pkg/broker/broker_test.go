package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/catalog"
	"github.com/relayforge-ai/relayforge-engine/pkg/credcache"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// fakeVault serves scripted links and bundles.
type fakeVault struct {
	mu      sync.Mutex
	links   []*models.AgentConnection
	bundles map[uuid.UUID]*credcache.Bundle
	refuse  map[uuid.UUID]error
	used    []uuid.UUID
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		bundles: map[uuid.UUID]*credcache.Bundle{},
		refuse:  map[uuid.UUID]error{},
	}
}

func (v *fakeVault) addLink(connType string, permissions []models.Scope, required bool) uuid.UUID {
	id := uuid.New()
	v.links = append(v.links, &models.AgentConnection{
		ID:           uuid.New(),
		AgentID:      uuid.Nil,
		ConnectionID: id,
		Permissions:  permissions,
		IsRequired:   required,
		CreatedAt:    time.Now().Add(time.Duration(len(v.links)) * time.Second),
	})
	v.bundles[id] = &credcache.Bundle{
		ConnectionID: id,
		Type:         connType,
		Fields:       map[string]string{},
		Scopes:       permissions,
	}
	return id
}

func (v *fakeVault) ListAgentLinks(context.Context, uuid.UUID) ([]*models.AgentConnection, error) {
	return v.links, nil
}

func (v *fakeVault) GetCredentials(_ context.Context, _, id uuid.UUID, _ string) (*credcache.Bundle, error) {
	if err, ok := v.refuse[id]; ok {
		return nil, err
	}
	return v.bundles[id], nil
}

func (v *fakeVault) MarkUsed(_ context.Context, _, id uuid.UUID, _ string, _ map[string]any) {
	v.mu.Lock()
	v.used = append(v.used, id)
	v.mu.Unlock()
}

// fakeIntegration returns a fixed output or error.
type fakeIntegration struct {
	output string
	err    error
	calls  int
}

func (f *fakeIntegration) Invoke(_ context.Context, _ *credcache.Bundle, _ Invocation) (*InvocationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &InvocationResult{Output: f.output}, nil
}

func newTestBroker(v Vault, integrations map[string]Integration) *Broker {
	return New(v, integrations, time.Second, zap.NewNop())
}

func TestExecuteRejectsUnknownCapability(t *testing.T) {
	b := newTestBroker(newFakeVault(), nil)

	_, err := b.Execute(context.Background(), ExecuteRequest{Capability: "telepathy"})
	if !errors.Is(err, apperrors.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestExecuteListsEveryMissingRequiredConnection(t *testing.T) {
	v := newFakeVault()
	okID := v.addLink(catalog.TypeOpenRouter, []models.Scope{models.ScopeRead}, false)
	_ = okID
	brokenA := v.addLink(catalog.TypeAnthropic, []models.Scope{models.ScopeRead}, true)
	brokenB := v.addLink(catalog.TypeGitHub, []models.Scope{models.ScopeRead}, true)
	v.refuse[brokenA] = apperrors.ErrConnectionNotUsable
	v.refuse[brokenB] = apperrors.ErrConnectionNotUsable

	b := newTestBroker(v, map[string]Integration{
		catalog.TypeOpenRouter: &fakeIntegration{output: "ok"},
	})

	_, err := b.Execute(context.Background(), ExecuteRequest{Capability: CapabilityStandard})
	if !errors.Is(err, apperrors.ErrMissingRequiredConnection) {
		t.Fatalf("expected ErrMissingRequiredConnection, got %v", err)
	}
	for _, id := range []uuid.UUID{brokenA, brokenB} {
		if !strings.Contains(err.Error(), id.String()) {
			t.Errorf("error does not name failing connection %s: %v", id, err)
		}
	}
}

func TestExecuteFollowsPriorityOrder(t *testing.T) {
	v := newFakeVault()
	// Linked in reverse priority order; the table, not link order, must win.
	modelsLabID := v.addLink(catalog.TypeModelsLab, []models.Scope{models.ScopeRead, models.ScopeWrite}, false)
	falID := v.addLink(catalog.TypeFAL, []models.Scope{models.ScopeRead, models.ScopeWrite}, false)
	_ = modelsLabID

	fal := &fakeIntegration{output: "from fal"}
	modelsLab := &fakeIntegration{output: "from modelslab"}
	b := newTestBroker(v, map[string]Integration{
		catalog.TypeFAL:       fal,
		catalog.TypeModelsLab: modelsLab,
	})

	result, err := b.Execute(context.Background(), ExecuteRequest{Capability: CapabilityMedia})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ConnectionType != catalog.TypeFAL || result.ConnectionID != falID {
		t.Fatalf("routed to %s (%s), want fal", result.ConnectionType, result.ConnectionID)
	}
	if modelsLab.calls != 0 {
		t.Fatal("lower priority provider invoked although higher succeeded")
	}
	if len(v.used) != 1 || v.used[0] != falID {
		t.Fatalf("usage stamped on %v, want [%s]", v.used, falID)
	}
}

func TestExecuteFallsBackWhenProviderFails(t *testing.T) {
	v := newFakeVault()
	v.addLink(catalog.TypeFAL, []models.Scope{models.ScopeWrite}, false)
	modelsLabID := v.addLink(catalog.TypeModelsLab, []models.Scope{models.ScopeWrite}, false)

	b := newTestBroker(v, map[string]Integration{
		catalog.TypeFAL:       &fakeIntegration{err: errors.New("rendering farm down")},
		catalog.TypeModelsLab: &fakeIntegration{output: "from modelslab"},
	})

	result, err := b.Execute(context.Background(), ExecuteRequest{Capability: CapabilityMedia})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ConnectionID != modelsLabID {
		t.Fatalf("expected fallback to modelslab, routed to %s", result.ConnectionType)
	}
}

func TestExecuteRequiresCapabilityScope(t *testing.T) {
	v := newFakeVault()
	// Delegation demands write; a read-only link must not be used.
	v.addLink(catalog.TypeArcade, []models.Scope{models.ScopeRead}, false)

	b := newTestBroker(v, map[string]Integration{
		catalog.TypeArcade: &fakeIntegration{output: "should not run"},
	})

	_, err := b.Execute(context.Background(), ExecuteRequest{Capability: CapabilityDelegation})
	if !errors.Is(err, apperrors.ErrNoUsableConnection) {
		t.Fatalf("expected ErrNoUsableConnection, got %v", err)
	}
}

func TestExecuteAdminScopeSatisfiesWriteRequirement(t *testing.T) {
	v := newFakeVault()
	v.addLink(catalog.TypeOpenOps, []models.Scope{models.ScopeAdmin}, false)

	b := newTestBroker(v, map[string]Integration{
		catalog.TypeOpenOps: &fakeIntegration{output: "ran"},
	})

	if _, err := b.Execute(context.Background(), ExecuteRequest{Capability: CapabilityInfrastructure}); err != nil {
		t.Fatalf("admin permission should satisfy the write requirement: %v", err)
	}
}

func TestExecuteIgnoresLinksOutsideCapability(t *testing.T) {
	v := newFakeVault()
	v.addLink(catalog.TypeGitHub, []models.Scope{models.ScopeAdmin}, false)

	b := newTestBroker(v, map[string]Integration{})

	_, err := b.Execute(context.Background(), ExecuteRequest{Capability: CapabilityStandard})
	if !errors.Is(err, apperrors.ErrNoUsableConnection) {
		t.Fatalf("expected ErrNoUsableConnection, got %v", err)
	}
	// The caller learns which connection types would have satisfied the class.
	for _, accepted := range []string{catalog.TypeOpenRouter, catalog.TypeAnthropic} {
		if !strings.Contains(err.Error(), accepted) {
			t.Errorf("error does not name accepted type %s: %v", accepted, err)
		}
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	v := newFakeVault()
	v.addLink(catalog.TypeFAL, []models.Scope{models.ScopeWrite}, false)

	failing := &fakeIntegration{err: errors.New("boom")}
	b := newTestBroker(v, map[string]Integration{catalog.TypeFAL: failing})

	for i := 0; i < 3; i++ {
		if _, err := b.Execute(context.Background(), ExecuteRequest{Capability: CapabilityMedia}); err == nil {
			t.Fatal("expected failure")
		}
	}
	callsAtOpen := failing.calls

	// Circuit is open: the integration must not be invoked again.
	if _, err := b.Execute(context.Background(), ExecuteRequest{Capability: CapabilityMedia}); err == nil {
		t.Fatal("expected failure while circuit open")
	}
	if failing.calls != callsAtOpen {
		t.Fatalf("integration invoked %d times after circuit opened, want %d", failing.calls, callsAtOpen)
	}
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	br := newBreaker(2, 20*time.Millisecond)

	br.Failure("fal")
	br.Failure("fal")
	if br.Allow("fal") {
		t.Fatal("circuit should be open")
	}

	time.Sleep(30 * time.Millisecond)
	if !br.Allow("fal") {
		t.Fatal("circuit should half-open after the cooldown")
	}

	// The trial failure re-opens immediately.
	br.Failure("fal")
	if br.Allow("fal") {
		t.Fatal("failed trial must re-open the circuit")
	}
}
