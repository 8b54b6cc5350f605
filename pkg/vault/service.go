// Package vault is the connection vault: it owns the lifecycle of stored
// credentials from validation and encryption through probing, caching, and
// revocation. Plaintext credentials exist only inside this package and the
// integrations it hands bundles to.
package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/audit"
	"github.com/relayforge-ai/relayforge-engine/pkg/catalog"
	"github.com/relayforge-ai/relayforge-engine/pkg/credcache"
	"github.com/relayforge-ai/relayforge-engine/pkg/crypto"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
	"github.com/relayforge-ai/relayforge-engine/pkg/probe"
	"github.com/relayforge-ai/relayforge-engine/pkg/repositories"
)

// ConnectionView is the sanitized projection returned to callers. Config
// carries only the catalog's public fields; secrets never leave the vault.
type ConnectionView struct {
	models.Connection
	Config map[string]string `json:"config,omitempty"`
}

// CreateConnectionRequest carries the inputs for a new connection.
type CreateConnectionRequest struct {
	Type        string            `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Fields      map[string]string `json:"fields"`
	Scopes      []models.Scope    `json:"scopes"`
	ExpiresAt   *time.Time        `json:"expires_at"`
}

// UpdateConnectionRequest carries a partial update. Nil means unchanged;
// providing Fields replaces the whole credential set and triggers a re-probe.
type UpdateConnectionRequest struct {
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	Fields      map[string]string `json:"fields"`
	Scopes      []models.Scope    `json:"scopes"`
}

// ValidationError aggregates every violated rule from one request.
type ValidationError struct {
	Errors []catalog.FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return fmt.Sprintf("%v: %s", apperrors.ErrValidationFailed, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrValidationFailed }

// SecurityMonitor is the slice of the security monitor the vault needs.
type SecurityMonitor interface {
	CreationBlocked(ctx context.Context, userID uuid.UUID) bool
	ObserveConnectionCreated(ctx context.Context, userID, connectionID uuid.UUID, origin string)
	ObserveTestResult(ctx context.Context, userID, connectionID uuid.UUID, origin string, success bool)
	ObserveUsage(ctx context.Context, userID, connectionID uuid.UUID, origin string)
	ObserveRevoked(ctx context.Context, userID, connectionID uuid.UUID, origin string)
	ObserveRevokedUsage(ctx context.Context, userID, connectionID uuid.UUID, origin string)
	ScanFields(ctx context.Context, userID uuid.UUID, origin string, fields map[string]string) bool
}

// Prober runs a live credential check for one connection type.
type Prober interface {
	Probe(ctx context.Context, connType string, fields map[string]string) (probe.Result, error)
}

// ConnectionService is the vault's public surface.
type ConnectionService interface {
	Create(ctx context.Context, userID uuid.UUID, origin string, req CreateConnectionRequest) (*ConnectionView, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*ConnectionView, error)
	List(ctx context.Context, userID uuid.UUID) ([]*ConnectionView, error)
	Update(ctx context.Context, userID, id uuid.UUID, origin string, req UpdateConnectionRequest) (*ConnectionView, error)
	Test(ctx context.Context, userID, id uuid.UUID, origin string) (probe.Result, error)
	Revoke(ctx context.Context, userID, id uuid.UUID, origin string) error

	// Suspend pauses a connection on the security monitor's behalf.
	Suspend(ctx context.Context, userID, connectionID uuid.UUID, reason string) error

	// GetCredentials returns the decrypted bundle for an active connection.
	// Internal: only the broker and probes may call it; handlers never do.
	GetCredentials(ctx context.Context, userID, id uuid.UUID, origin string) (*credcache.Bundle, error)

	// MarkUsed stamps usage on a connection after a successful invocation.
	MarkUsed(ctx context.Context, userID, id uuid.UUID, origin string, execContext map[string]any)

	LinkAgent(ctx context.Context, userID, agentID, connectionID uuid.UUID, permissions []models.Scope, isRequired bool) (*models.AgentConnection, error)
	UpdateAgentLink(ctx context.Context, userID, agentID, connectionID uuid.UUID, permissions []models.Scope, isRequired bool) error
	UnlinkAgent(ctx context.Context, userID, agentID, connectionID uuid.UUID) error
	ListAgentLinks(ctx context.Context, agentID uuid.UUID) ([]*models.AgentConnection, error)
}

type connectionService struct {
	catalog     *catalog.Catalog
	cipher      *crypto.CredentialCipher
	connections repositories.ConnectionRepository
	links       repositories.AgentConnectionRepository
	prober      Prober
	cache       *credcache.Cache
	monitor     SecurityMonitor
	recorder    audit.Recorder
	logger      *zap.Logger
}

// NewConnectionService creates the vault service.
func NewConnectionService(
	cat *catalog.Catalog,
	cipher *crypto.CredentialCipher,
	connections repositories.ConnectionRepository,
	links repositories.AgentConnectionRepository,
	prober Prober,
	cache *credcache.Cache,
	monitor SecurityMonitor,
	recorder audit.Recorder,
	logger *zap.Logger,
) ConnectionService {
	return &connectionService{
		catalog:     cat,
		cipher:      cipher,
		connections: connections,
		links:       links,
		prober:      prober,
		cache:       cache,
		monitor:     monitor,
		recorder:    recorder,
		logger:      logger,
	}
}

func (s *connectionService) Create(ctx context.Context, userID uuid.UUID, origin string, req CreateConnectionRequest) (*ConnectionView, error) {
	if s.monitor.CreationBlocked(ctx, userID) {
		return nil, fmt.Errorf("%w: connection creation is temporarily blocked", apperrors.ErrRateLimited)
	}

	scopes := req.Scopes
	spec, err := s.catalog.Describe(req.Type)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = spec.DefaultScopes
	}

	if err := s.validate(req.Type, req.Name, req.Fields, scopes); err != nil {
		return nil, err
	}
	if s.monitor.ScanFields(ctx, userID, origin, req.Fields) {
		return nil, &ValidationError{Errors: []catalog.FieldError{
			{Field: "fields", Message: "a field value was rejected by content screening"},
		}}
	}

	blob, err := s.cipher.Encrypt(req.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	conn := &models.Connection{
		UserID:      userID,
		Type:        req.Type,
		Name:        req.Name,
		Description: req.Description,
		Scopes:      scopes,
		Status:      models.StatusTesting,
		ExpiresAt:   req.ExpiresAt,
	}
	if err := s.connections.Create(ctx, conn, blob); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, &models.ConnectionLog{
		ConnectionID: conn.ID,
		UserID:       userID,
		Action:       models.ActionCreated,
		Success:      true,
		Context:      map[string]any{"type": conn.Type},
	})
	s.monitor.ObserveConnectionCreated(ctx, userID, conn.ID, origin)

	// Initial probe decides testing -> active or testing -> failed.
	result := s.runProbe(ctx, userID, conn, req.Fields, origin)
	conn.Status = models.StatusFailed
	if result.Healthy {
		conn.Status = models.StatusActive
	}

	return s.view(conn, req.Fields)
}

func (s *connectionService) Get(ctx context.Context, userID, id uuid.UUID) (*ConnectionView, error) {
	conn, blob, err := s.connections.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	fields, err := s.cipher.Decrypt(blob)
	if err != nil {
		// Still return metadata: a key rotation must not hide the record.
		s.logger.Warn("failed to decrypt connection config for display",
			zap.String("connection_id", id.String()),
			zap.Error(err))
		return s.view(conn, nil)
	}
	return s.view(conn, fields)
}

func (s *connectionService) List(ctx context.Context, userID uuid.UUID) ([]*ConnectionView, error) {
	conns, err := s.connections.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]*ConnectionView, 0, len(conns))
	for _, conn := range conns {
		v, err := s.view(conn, nil)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *connectionService) Update(ctx context.Context, userID, id uuid.UUID, origin string, req UpdateConnectionRequest) (*ConnectionView, error) {
	conn, blob, err := s.connections.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if conn.Status == models.StatusRevoked {
		return nil, fmt.Errorf("%w: connection is revoked", apperrors.ErrConnectionNotUsable)
	}

	if req.Name != nil {
		conn.Name = *req.Name
	}
	if req.Description != nil {
		conn.Description = *req.Description
	}
	if req.Scopes != nil {
		if err := s.checkScopeNarrowing(ctx, conn, req.Scopes); err != nil {
			return nil, err
		}
		conn.Scopes = req.Scopes
	}

	fields := req.Fields
	credentialChange := fields != nil
	if !credentialChange {
		if fields, err = s.cipher.Decrypt(blob); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrCredentialsKeyMismatch, err)
		}
	}

	if err := s.validate(conn.Type, conn.Name, fields, conn.Scopes); err != nil {
		return nil, err
	}

	if credentialChange {
		if s.monitor.ScanFields(ctx, userID, origin, fields) {
			return nil, &ValidationError{Errors: []catalog.FieldError{
				{Field: "fields", Message: "a field value was rejected by content screening"},
			}}
		}
		newBlob, err := s.cipher.Encrypt(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
		}
		if err := s.connections.UpdateConfig(ctx, id, newBlob); err != nil {
			return nil, err
		}
		s.cache.Invalidate(id)
	}

	if err := s.connections.UpdateMetadata(ctx, id, conn.Name, conn.Description, conn.Scopes); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, &models.ConnectionLog{
		ConnectionID: id,
		UserID:       userID,
		Action:       models.ActionUpdated,
		Success:      true,
		Context:      map[string]any{"credential_change": credentialChange},
	})

	// Credential changes invalidate the previous probe verdict.
	if credentialChange {
		result := s.runProbe(ctx, userID, conn, fields, origin)
		conn.Status = models.StatusFailed
		if result.Healthy {
			conn.Status = models.StatusActive
		}
	}

	return s.view(conn, fields)
}

// checkScopeNarrowing refuses a scope change that would leave an agent link
// holding permissions the connection no longer grants.
func (s *connectionService) checkScopeNarrowing(ctx context.Context, conn *models.Connection, newScopes []models.Scope) error {
	if errs, err := s.catalog.ValidateScopes(conn.Type, newScopes); err != nil {
		return err
	} else if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	links, err := s.links.ListForConnection(ctx, conn.ID)
	if err != nil {
		return err
	}
	for _, link := range links {
		if !models.ScopeSubset(link.Permissions, newScopes) {
			return &ValidationError{Errors: []catalog.FieldError{{
				Field:   "scopes",
				Message: fmt.Sprintf("agent %s holds permissions outside the narrowed scopes", link.AgentID),
			}}}
		}
	}
	return nil
}

func (s *connectionService) validate(connType, name string, fields map[string]string, scopes []models.Scope) error {
	var all []catalog.FieldError
	if name == "" {
		all = append(all, catalog.FieldError{Field: "name", Message: "required field is missing"})
	}

	fieldErrs, err := s.catalog.Validate(connType, fields)
	if err != nil {
		return err
	}
	all = append(all, fieldErrs...)

	scopeErrs, err := s.catalog.ValidateScopes(connType, scopes)
	if err != nil {
		return err
	}
	all = append(all, scopeErrs...)

	if len(all) > 0 {
		return &ValidationError{Errors: all}
	}
	return nil
}

// runProbe tests the credentials, persists the resulting status, and records
// the outcome. Probe failures are state, not errors.
func (s *connectionService) runProbe(ctx context.Context, userID uuid.UUID, conn *models.Connection, fields map[string]string, origin string) probe.Result {
	result, err := s.prober.Probe(ctx, conn.Type, fields)
	if err != nil {
		result = probe.Result{Healthy: false, Detail: "no probe strategy available"}
	}

	next := models.StatusFailed
	if result.Healthy {
		next = models.StatusActive
	}
	if err := s.connections.SetStatus(ctx, conn.ID, next); err != nil {
		s.logger.Error("failed to persist probe status",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err))
	}
	// The status just changed; a cached bundle would let a failed connection
	// keep serving credentials until its TTL.
	s.cache.Invalidate(conn.ID)

	s.recorder.Record(ctx, &models.ConnectionLog{
		ConnectionID: conn.ID,
		UserID:       userID,
		Action:       models.ActionTested,
		Success:      result.Healthy,
		Error:        result.Detail,
		Context:      map[string]any{"latency_ms": result.Latency.Milliseconds()},
	})
	s.monitor.ObserveTestResult(ctx, userID, conn.ID, origin, result.Healthy)

	return result
}

func (s *connectionService) view(conn *models.Connection, fields map[string]string) (*ConnectionView, error) {
	v := &ConnectionView{Connection: *conn}
	if fields != nil {
		public, err := s.catalog.Sanitize(conn.Type, fields)
		if err != nil {
			return nil, err
		}
		v.Config = public
	}
	return v, nil
}

var _ ConnectionService = (*connectionService)(nil)
