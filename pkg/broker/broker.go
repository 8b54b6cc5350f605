package broker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/credcache"
	"github.com/relayforge-ai/relayforge-engine/pkg/logging"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// Invocation is the task handed to an integration.
type Invocation struct {
	Capability Capability     `json:"capability"`
	Input      string         `json:"input"`
	Options    map[string]any `json:"options,omitempty"`
}

// InvocationResult is an integration's output.
type InvocationResult struct {
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Integration executes an invocation against one provider using a decrypted
// credential bundle. Implementations must not retain the bundle.
type Integration interface {
	Invoke(ctx context.Context, bundle *credcache.Bundle, inv Invocation) (*InvocationResult, error)
}

// Vault is the slice of the connection vault the broker needs.
type Vault interface {
	ListAgentLinks(ctx context.Context, agentID uuid.UUID) ([]*models.AgentConnection, error)
	GetCredentials(ctx context.Context, userID, id uuid.UUID, origin string) (*credcache.Bundle, error)
	MarkUsed(ctx context.Context, userID, id uuid.UUID, origin string, execContext map[string]any)
}

// ExecuteRequest asks the broker to run a task on behalf of an agent.
type ExecuteRequest struct {
	UserID     uuid.UUID      `json:"-"`
	AgentID    uuid.UUID      `json:"agent_id"`
	Capability Capability     `json:"capability"`
	Input      string         `json:"input"`
	Options    map[string]any `json:"options,omitempty"`
	Origin     string         `json:"-"`
}

// ExecuteResult carries the output plus provenance: which connection actually
// served the invocation.
type ExecuteResult struct {
	Output         string         `json:"output"`
	ConnectionID   uuid.UUID      `json:"connection_id"`
	ConnectionType string         `json:"connection_type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Broker resolves an agent's links into a concrete provider invocation.
type Broker struct {
	vault         Vault
	integrations  map[string]Integration
	breaker       *breaker
	invokeTimeout time.Duration
	logger        *zap.Logger
}

// New creates a broker over the given integration set.
func New(v Vault, integrations map[string]Integration, invokeTimeout time.Duration, logger *zap.Logger) *Broker {
	return &Broker{
		vault:         v,
		integrations:  integrations,
		breaker:       newBreaker(3, 30*time.Second),
		invokeTimeout: invokeTimeout,
		logger:        logger,
	}
}

// Execute routes the request to the best usable linked connection. Required
// links are verified first; every unusable required link is reported, not
// just the first.
func (b *Broker) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	if !req.Capability.Valid() {
		return nil, fmt.Errorf("%w: unknown capability %q", apperrors.ErrValidationFailed, req.Capability)
	}

	links, err := b.vault.ListAgentLinks(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	bundles, missing := b.resolveLinks(ctx, req, links)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrMissingRequiredConnection, strings.Join(missing, "; "))
	}

	accepted := strings.Join(capabilityPriority[req.Capability], ", ")
	candidates := b.rankCandidates(req.Capability, links, bundles)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: capability %s has no linked provider (accepts: %s)",
			apperrors.ErrNoUsableConnection, req.Capability, accepted)
	}

	inv := Invocation{Capability: req.Capability, Input: req.Input, Options: req.Options}
	var lastErr error
	for _, c := range candidates {
		if !b.breaker.Allow(c.bundle.Type) {
			b.logger.Debug("circuit open, skipping provider",
				zap.String("connection_type", c.bundle.Type))
			continue
		}
		integration, ok := b.integrations[c.bundle.Type]
		if !ok {
			continue
		}

		invCtx, cancel := context.WithTimeout(ctx, b.invokeTimeout)
		result, err := integration.Invoke(invCtx, c.bundle, inv)
		cancel()
		if err != nil {
			b.breaker.Failure(c.bundle.Type)
			lastErr = err
			b.logger.Warn("integration invocation failed",
				zap.String("connection_type", c.bundle.Type),
				zap.String("connection_id", c.bundle.ConnectionID.String()),
				zap.String("detail", logging.SanitizeError(err)))
			continue
		}

		b.breaker.Success(c.bundle.Type)
		b.vault.MarkUsed(ctx, req.UserID, c.bundle.ConnectionID, req.Origin, map[string]any{
			"capability": string(req.Capability),
		})

		return &ExecuteResult{
			Output:         result.Output,
			ConnectionID:   c.bundle.ConnectionID,
			ConnectionType: c.bundle.Type,
			Metadata:       result.Metadata,
		}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: all candidates failed, last: %s",
			apperrors.ErrNoUsableConnection, logging.SanitizeError(lastErr))
	}
	return nil, fmt.Errorf("%w: no candidate for capability %s could be invoked (accepts: %s)",
		apperrors.ErrNoUsableConnection, req.Capability, accepted)
}

// resolveLinks fetches credential bundles for every link. Required links that
// cannot be resolved are collected into the missing list; optional ones are
// silently skipped.
func (b *Broker) resolveLinks(ctx context.Context, req ExecuteRequest, links []*models.AgentConnection) (map[uuid.UUID]*credcache.Bundle, []string) {
	bundles := make(map[uuid.UUID]*credcache.Bundle, len(links))
	var missing []string
	for _, link := range links {
		bundle, err := b.vault.GetCredentials(ctx, req.UserID, link.ConnectionID, req.Origin)
		if err != nil {
			if link.IsRequired {
				missing = append(missing, fmt.Sprintf("connection %s: %s", link.ConnectionID, logging.SanitizeError(err)))
			}
			continue
		}
		bundles[link.ConnectionID] = bundle
	}
	sort.Strings(missing)
	return bundles, missing
}

type candidate struct {
	link   *models.AgentConnection
	bundle *credcache.Bundle
	rank   int
}

// rankCandidates filters links to those that can serve the capability and
// orders them by the fixed priority table, then by link age for stability.
func (b *Broker) rankCandidates(capability Capability, links []*models.AgentConnection, bundles map[uuid.UUID]*credcache.Bundle) []candidate {
	priority := map[string]int{}
	for i, t := range capabilityPriority[capability] {
		priority[t] = i
	}
	needed := capabilityScope[capability]

	var out []candidate
	for _, link := range links {
		bundle, ok := bundles[link.ConnectionID]
		if !ok {
			continue
		}
		rank, eligible := priority[bundle.Type]
		if !eligible {
			continue
		}
		if !models.ScopesInclude(link.Permissions, needed) {
			continue
		}
		out = append(out, candidate{link: link, bundle: bundle, rank: rank})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank < out[j].rank
		}
		return out[i].link.CreatedAt.Before(out[j].link.CreatedAt)
	})
	return out
}
