package vault

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/catalog"
	"github.com/relayforge-ai/relayforge-engine/pkg/credcache"
	"github.com/relayforge-ai/relayforge-engine/pkg/crypto"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

type vaultFixture struct {
	svc      ConnectionService
	repo     *mockConnectionRepo
	links    *mockLinkRepo
	prober   *mockProber
	monitor  *mockMonitor
	recorder *mockRecorder
	cache    *credcache.Cache
}

func newVaultFixture(t *testing.T) *vaultFixture {
	t.Helper()

	cipher, err := crypto.NewEphemeralCredentialCipher()
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}

	f := &vaultFixture{
		repo:     newMockConnectionRepo(),
		links:    &mockLinkRepo{},
		prober:   &mockProber{healthy: true},
		monitor:  &mockMonitor{},
		recorder: &mockRecorder{},
		cache:    credcache.New(time.Minute),
	}
	f.svc = NewConnectionService(
		catalog.New(),
		cipher,
		f.repo,
		f.links,
		f.prober,
		f.cache,
		f.monitor,
		f.recorder,
		zap.NewNop(),
	)
	return f
}

func githubRequest(name string) CreateConnectionRequest {
	return CreateConnectionRequest{
		Type:   catalog.TypeGitHub,
		Name:   name,
		Fields: map[string]string{"token": "ghp_abcdefghij1234567890"},
		Scopes: []models.Scope{models.ScopeRead, models.ScopeWrite},
	}
}

func TestCreateActivatesOnHealthyProbe(t *testing.T) {
	f := newVaultFixture(t)
	userID := uuid.New()

	view, err := f.svc.Create(context.Background(), userID, "10.0.0.1", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Status != models.StatusActive {
		t.Fatalf("status = %s, want active", view.Status)
	}
	if f.repo.status(view.ID) != models.StatusActive {
		t.Fatal("persisted status should be active after a healthy probe")
	}
	if f.monitor.created != 1 {
		t.Fatalf("creation observed %d times, want 1", f.monitor.created)
	}
	got := f.recorder.actions()
	want := []string{models.ActionCreated, models.ActionTested}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("audit actions = %v, want %v", got, want)
	}
}

func TestCreateFailsStatusOnUnhealthyProbe(t *testing.T) {
	f := newVaultFixture(t)
	f.prober.set(false)

	view, err := f.svc.Create(context.Background(), uuid.New(), "", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("probe failure must not fail creation: %v", err)
	}
	if view.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", view.Status)
	}
}

func TestCreateReportsEveryValidationError(t *testing.T) {
	f := newVaultFixture(t)

	_, err := f.svc.Create(context.Background(), uuid.New(), "", CreateConnectionRequest{
		Type: catalog.TypeGitHub,
		Name: "",
		Fields: map[string]string{
			"token":   "not-a-github-token",
			"mystery": "value",
		},
		Scopes: []models.Scope{"superuser"},
	})
	if !errors.Is(err, apperrors.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	// name missing, token format, unknown field, unknown scope.
	if len(verr.Errors) != 4 {
		t.Fatalf("got %d violations, want 4: %v", len(verr.Errors), verr.Errors)
	}
}

func TestCreateRejectedWhenRateLimited(t *testing.T) {
	f := newVaultFixture(t)
	f.monitor.blocked = true

	_, err := f.svc.Create(context.Background(), uuid.New(), "", githubRequest("ci-bot"))
	if !errors.Is(err, apperrors.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCreateRejectedOnInjectionDetection(t *testing.T) {
	f := newVaultFixture(t)
	f.monitor.injection = true

	_, err := f.svc.Create(context.Background(), uuid.New(), "", githubRequest("ci-bot"))
	if !errors.Is(err, apperrors.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestCreateDuplicateNameConflicts(t *testing.T) {
	f := newVaultFixture(t)
	userID := uuid.New()

	if _, err := f.svc.Create(context.Background(), userID, "", githubRequest("ci-bot")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := f.svc.Create(context.Background(), userID, "", githubRequest("ci-bot"))
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetReturnsOnlyPublicFields(t *testing.T) {
	f := newVaultFixture(t)
	userID := uuid.New()

	req := githubRequest("ci-bot")
	req.Fields["org"] = "relayforge-ai"
	view, err := f.svc.Create(context.Background(), userID, "", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := f.svc.Get(context.Background(), userID, view.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Config["org"] != "relayforge-ai" {
		t.Errorf("public field org missing from projection: %v", got.Config)
	}
	if _, ok := got.Config["token"]; ok {
		t.Fatal("secret field leaked into the sanitized projection")
	}
}

func TestGetIsScopedToOwner(t *testing.T) {
	f := newVaultFixture(t)

	view, err := f.svc.Create(context.Background(), uuid.New(), "", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.svc.Get(context.Background(), uuid.New(), view.ID)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a different user, got %v", err)
	}
}

func TestUpdateCredentialsReprobesAndInvalidatesCache(t *testing.T) {
	f := newVaultFixture(t)
	userID := uuid.New()

	view, err := f.svc.Create(context.Background(), userID, "", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.GetCredentials(context.Background(), userID, view.ID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	probesBefore := f.prober.calls
	_, err = f.svc.Update(context.Background(), userID, view.ID, "", UpdateConnectionRequest{
		Fields: map[string]string{"token": "ghp_zzzzzzzzzz9876543210"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.prober.calls != probesBefore+1 {
		t.Fatal("credential change must trigger a re-probe")
	}

	bundle, err := f.svc.GetCredentials(context.Background(), userID, view.ID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bundle.Fields["token"] != "ghp_zzzzzzzzzz9876543210" {
		t.Fatal("cache served stale credentials after an update")
	}
}

func TestUpdateMetadataDoesNotReprobe(t *testing.T) {
	f := newVaultFixture(t)
	userID := uuid.New()

	view, err := f.svc.Create(context.Background(), userID, "", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	probesBefore := f.prober.calls
	desc := "deploy token for CI"
	if _, err := f.svc.Update(context.Background(), userID, view.ID, "", UpdateConnectionRequest{Description: &desc}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.prober.calls != probesBefore {
		t.Fatal("metadata-only update must not re-probe")
	}
}

func TestUpdateRefusesScopeNarrowingBelowAgentPermissions(t *testing.T) {
	f := newVaultFixture(t)
	userID, agentID := uuid.New(), uuid.New()

	view, err := f.svc.Create(context.Background(), userID, "", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.LinkAgent(context.Background(), userID, agentID, view.ID, []models.Scope{models.ScopeWrite}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.svc.Update(context.Background(), userID, view.ID, "", UpdateConnectionRequest{
		Scopes: []models.Scope{models.ScopeRead},
	})
	if !errors.Is(err, apperrors.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "agent") {
		t.Errorf("error should name the conflicting agent: %v", err)
	}
}

func TestRevokeIsTerminalAndIdempotent(t *testing.T) {
	f := newVaultFixture(t)
	userID := uuid.New()

	view, err := f.svc.Create(context.Background(), userID, "", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.svc.Revoke(context.Background(), userID, view.ID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.Revoke(context.Background(), userID, view.ID, ""); err != nil {
		t.Fatalf("second revoke should be a no-op, got %v", err)
	}
	if f.monitor.revoked != 1 {
		t.Fatalf("revocation observed %d times, want 1", f.monitor.revoked)
	}

	_, err = f.svc.Test(context.Background(), userID, view.ID, "")
	if !errors.Is(err, apperrors.ErrConnectionNotUsable) {
		t.Fatalf("expected ErrConnectionNotUsable on revoked test, got %v", err)
	}
	if f.monitor.revokedUsage != 1 {
		t.Fatal("revoked usage attempt was not observed")
	}
}

func TestRevocationBeatsCachedCredentials(t *testing.T) {
	f := newVaultFixture(t)
	userID := uuid.New()

	view, err := f.svc.Create(context.Background(), userID, "", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.GetCredentials(context.Background(), userID, view.ID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.svc.Revoke(context.Background(), userID, view.ID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.svc.GetCredentials(context.Background(), userID, view.ID, "")
	if !errors.Is(err, apperrors.ErrConnectionNotUsable) {
		t.Fatalf("revoked connection served credentials from cache: %v", err)
	}
}

func TestGetCredentialsIsScopedToOwnerEvenWhenCached(t *testing.T) {
	f := newVaultFixture(t)
	owner := uuid.New()

	view, err := f.svc.Create(context.Background(), owner, "", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Warm the cache as the owner.
	if _, err := f.svc.GetCredentials(context.Background(), owner, view.ID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.svc.GetCredentials(context.Background(), uuid.New(), view.ID, "")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("another user received the owner's cached bundle: %v", err)
	}
}

func TestFailedTestInvalidatesCachedCredentials(t *testing.T) {
	f := newVaultFixture(t)
	userID := uuid.New()

	view, err := f.svc.Create(context.Background(), userID, "", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.GetCredentials(context.Background(), userID, view.ID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.prober.set(false)
	if _, err := f.svc.Test(context.Background(), userID, view.ID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.repo.status(view.ID) != models.StatusFailed {
		t.Fatal("failed probe did not persist the failed status")
	}

	_, err = f.svc.GetCredentials(context.Background(), userID, view.ID, "")
	if !errors.Is(err, apperrors.ErrConnectionNotUsable) {
		t.Fatalf("failed connection served credentials from cache: %v", err)
	}
}

func TestSuspendedUsageAttemptsAreObserved(t *testing.T) {
	f := newVaultFixture(t)
	userID := uuid.New()

	view, err := f.svc.Create(context.Background(), userID, "", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.Suspend(context.Background(), userID, view.ID, "repeated failures"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.GetCredentials(context.Background(), userID, view.ID, ""); !errors.Is(err, apperrors.ErrConnectionNotUsable) {
			t.Fatalf("expected ErrConnectionNotUsable, got %v", err)
		}
	}
	if f.monitor.revokedUsage != 2 {
		t.Fatalf("suspended usage observed %d times, want 2", f.monitor.revokedUsage)
	}
}

func TestGetCredentialsRefusesExpiredConnection(t *testing.T) {
	f := newVaultFixture(t)
	userID := uuid.New()

	req := githubRequest("ci-bot")
	past := time.Now().Add(-time.Hour)
	req.ExpiresAt = &past
	view, err := f.svc.Create(context.Background(), userID, "", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.svc.GetCredentials(context.Background(), userID, view.ID, "")
	if !errors.Is(err, apperrors.ErrConnectionNotUsable) {
		t.Fatalf("expected ErrConnectionNotUsable for expired connection, got %v", err)
	}
}

func TestSuspendBlocksCredentialAccess(t *testing.T) {
	f := newVaultFixture(t)
	userID := uuid.New()

	view, err := f.svc.Create(context.Background(), userID, "", githubRequest("ci-bot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.svc.Suspend(context.Background(), userID, view.ID, "repeated failures"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.repo.status(view.ID) != models.StatusSuspended {
		t.Fatal("suspend did not persist")
	}

	_, err = f.svc.GetCredentials(context.Background(), userID, view.ID, "")
	if !errors.Is(err, apperrors.ErrConnectionNotUsable) {
		t.Fatalf("expected ErrConnectionNotUsable, got %v", err)
	}
}

func TestLinkAgentEnforcesPermissionSubset(t *testing.T) {
	f := newVaultFixture(t)
	userID, agentID := uuid.New(), uuid.New()

	req := githubRequest("ci-bot")
	req.Scopes = []models.Scope{models.ScopeRead}
	view, err := f.svc.Create(context.Background(), userID, "", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = f.svc.LinkAgent(context.Background(), userID, agentID, view.ID, []models.Scope{models.ScopeAdmin}, false)
	if !errors.Is(err, apperrors.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}

	link, err := f.svc.LinkAgent(context.Background(), userID, agentID, view.ID, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(link.Permissions) != 1 || link.Permissions[0] != models.ScopeRead {
		t.Fatalf("default permissions = %v, want the connection scopes", link.Permissions)
	}
}
