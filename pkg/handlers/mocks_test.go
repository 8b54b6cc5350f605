package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/relayforge-ai/relayforge-engine/pkg/auth"
	"github.com/relayforge-ai/relayforge-engine/pkg/credcache"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
	"github.com/relayforge-ai/relayforge-engine/pkg/probe"
	"github.com/relayforge-ai/relayforge-engine/pkg/vault"
)

// stubVault scripts the vault surface for handler tests.
type stubVault struct {
	createFn func(ctx context.Context, userID uuid.UUID, origin string, req vault.CreateConnectionRequest) (*vault.ConnectionView, error)
	getFn    func(ctx context.Context, userID, id uuid.UUID) (*vault.ConnectionView, error)
	listFn   func(ctx context.Context, userID uuid.UUID) ([]*vault.ConnectionView, error)
	testFn   func(ctx context.Context, userID, id uuid.UUID, origin string) (probe.Result, error)
	revokeFn func(ctx context.Context, userID, id uuid.UUID, origin string) error
	linkFn   func(ctx context.Context, userID, agentID, connectionID uuid.UUID, permissions []models.Scope, isRequired bool) (*models.AgentConnection, error)
	linksFn  func(ctx context.Context, agentID uuid.UUID) ([]*models.AgentConnection, error)
	credsFn  func(ctx context.Context, userID, id uuid.UUID, origin string) (*credcache.Bundle, error)
}

func (s *stubVault) Create(ctx context.Context, userID uuid.UUID, origin string, req vault.CreateConnectionRequest) (*vault.ConnectionView, error) {
	return s.createFn(ctx, userID, origin, req)
}

func (s *stubVault) Get(ctx context.Context, userID, id uuid.UUID) (*vault.ConnectionView, error) {
	return s.getFn(ctx, userID, id)
}

func (s *stubVault) List(ctx context.Context, userID uuid.UUID) ([]*vault.ConnectionView, error) {
	return s.listFn(ctx, userID)
}

func (s *stubVault) Update(context.Context, uuid.UUID, uuid.UUID, string, vault.UpdateConnectionRequest) (*vault.ConnectionView, error) {
	return nil, nil
}

func (s *stubVault) Test(ctx context.Context, userID, id uuid.UUID, origin string) (probe.Result, error) {
	return s.testFn(ctx, userID, id, origin)
}

func (s *stubVault) Revoke(ctx context.Context, userID, id uuid.UUID, origin string) error {
	return s.revokeFn(ctx, userID, id, origin)
}

func (s *stubVault) Suspend(context.Context, uuid.UUID, uuid.UUID, string) error { return nil }

func (s *stubVault) GetCredentials(ctx context.Context, userID, id uuid.UUID, origin string) (*credcache.Bundle, error) {
	return s.credsFn(ctx, userID, id, origin)
}

func (s *stubVault) MarkUsed(context.Context, uuid.UUID, uuid.UUID, string, map[string]any) {}

func (s *stubVault) LinkAgent(ctx context.Context, userID, agentID, connectionID uuid.UUID, permissions []models.Scope, isRequired bool) (*models.AgentConnection, error) {
	return s.linkFn(ctx, userID, agentID, connectionID, permissions, isRequired)
}

func (s *stubVault) UpdateAgentLink(context.Context, uuid.UUID, uuid.UUID, uuid.UUID, []models.Scope, bool) error {
	return nil
}

func (s *stubVault) UnlinkAgent(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error { return nil }

func (s *stubVault) ListAgentLinks(ctx context.Context, agentID uuid.UUID) ([]*models.AgentConnection, error) {
	return s.linksFn(ctx, agentID)
}

var _ vault.ConnectionService = (*stubVault)(nil)

// authed attaches claims for userID to the request context, mimicking what
// the auth middleware does.
func authed(r *http.Request, userID uuid.UUID) *http.Request {
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	return r.WithContext(context.WithValue(r.Context(), auth.ClaimsKey, claims))
}

// passthroughAuth skips token validation in tests.
func passthroughAuth(next http.HandlerFunc) http.HandlerFunc { return next }

func doRequest(mux *http.ServeMux, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	return rec
}
