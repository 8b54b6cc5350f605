// Package probe performs live credential verification against providers.
// Each connection type registers exactly one strategy; a probe is a single
// attempt with a hard deadline and no retries.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/catalog"
	"github.com/relayforge-ai/relayforge-engine/pkg/logging"
)

// Result describes the outcome of one probe attempt. Detail is sanitized and
// safe to persist or return to callers.
type Result struct {
	Healthy bool          `json:"healthy"`
	Detail  string        `json:"detail,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Prober verifies a set of decrypted credential fields against the live
// provider. Implementations return nil only when the provider accepted the
// credentials.
type Prober interface {
	Probe(ctx context.Context, fields map[string]string) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, fields map[string]string) error

func (f ProberFunc) Probe(ctx context.Context, fields map[string]string) error {
	return f(ctx, fields)
}

// Registry maps connection types to probe strategies and enforces the shared
// probe deadline.
type Registry struct {
	probers map[string]Prober
	timeout time.Duration
	logger  *zap.Logger
}

// NewRegistry builds a registry with strategies for every catalog type.
func NewRegistry(timeout time.Duration, logger *zap.Logger) *Registry {
	r := &Registry{
		probers: make(map[string]Prober),
		timeout: timeout,
		logger:  logger,
	}
	r.Register(catalog.TypeOpenRouter, newOpenRouterProber())
	r.Register(catalog.TypeAnthropic, newAnthropicProber())
	r.Register(catalog.TypeOpenOps, newOpenOpsProber())
	r.Register(catalog.TypeArcade, newArcadeProber())
	r.Register(catalog.TypeMCPJungle, newMCPJungleProber())
	r.Register(catalog.TypeFAL, newFALProber())
	r.Register(catalog.TypeModelsLab, newModelsLabProber())
	r.Register(catalog.TypeAWS, newAWSProber())
	r.Register(catalog.TypeGitHub, newGitHubProber())
	r.Register(catalog.TypeSupabase, newSupabaseProber())
	return r
}

// Register installs (or replaces) the strategy for a connection type.
func (r *Registry) Register(connType string, p Prober) {
	r.probers[connType] = p
}

// Probe runs the strategy for connType against the given fields. It returns
// an error only for unsupported types; provider rejection and timeouts are
// reported through the Result.
func (r *Registry) Probe(ctx context.Context, connType string, fields map[string]string) (Result, error) {
	prober, ok := r.probers[connType]
	if !ok {
		return Result{}, fmt.Errorf("%w: no probe strategy for %q", apperrors.ErrUnsupportedConnectionType, connType)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := prober.Probe(ctx, fields)
	latency := time.Since(start)

	if err != nil {
		detail := categorize(err)
		r.logger.Debug("probe failed",
			zap.String("connection_type", connType),
			zap.Duration("latency", latency),
			zap.String("detail", detail))
		return Result{Healthy: false, Detail: detail, Latency: latency}, nil
	}

	return Result{Healthy: true, Latency: latency}, nil
}

// categorize turns a raw probe error into a short, sanitized hint. Raw
// provider responses may echo credentials back and must never pass through
// unfiltered.
func categorize(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "provider did not respond within the probe window"
	case errors.Is(err, context.Canceled):
		return "probe canceled"
	default:
		return logging.SanitizeError(err)
	}
}
