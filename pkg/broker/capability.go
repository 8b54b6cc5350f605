// Package broker routes agent task execution to a usable connection. Routing
// is deterministic: each capability class has a fixed provider preference
// order, and within a class, health and linkage decide, never load.
package broker

import (
	"github.com/relayforge-ai/relayforge-engine/pkg/catalog"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// Capability classifies what kind of work an invocation needs.
type Capability string

const (
	CapabilityStandard       Capability = "standard"
	CapabilityResearch       Capability = "research"
	CapabilityDelegation     Capability = "delegation"
	CapabilityInfrastructure Capability = "infrastructure"
	CapabilityMedia          Capability = "media"
)

// Valid reports whether c is a known capability class.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityStandard, CapabilityResearch, CapabilityDelegation,
		CapabilityInfrastructure, CapabilityMedia:
		return true
	}
	return false
}

// capabilityPriority fixes the provider preference order per class. Order is
// part of the routing contract: earlier types win when both are linked and
// healthy.
var capabilityPriority = map[Capability][]string{
	CapabilityDelegation:     {catalog.TypeArcade, catalog.TypeMCPJungle},
	CapabilityInfrastructure: {catalog.TypeOpenOps, catalog.TypeAWS, catalog.TypeMCPJungle},
	CapabilityMedia:          {catalog.TypeFAL, catalog.TypeModelsLab},
	CapabilityResearch:       {catalog.TypeOpenRouter, catalog.TypeAnthropic, catalog.TypeMCPJungle},
	CapabilityStandard:       {catalog.TypeOpenRouter, catalog.TypeAnthropic},
}

// capabilityScope is the minimum link permission each class demands.
// Read-only classes observe; the rest act on external systems.
var capabilityScope = map[Capability]models.Scope{
	CapabilityStandard:       models.ScopeRead,
	CapabilityResearch:       models.ScopeRead,
	CapabilityDelegation:     models.ScopeWrite,
	CapabilityInfrastructure: models.ScopeWrite,
	CapabilityMedia:          models.ScopeWrite,
}

// PriorityFor returns the provider preference order for a capability.
func PriorityFor(c Capability) []string {
	return append([]string(nil), capabilityPriority[c]...)
}

// RequiredScope returns the minimum permission the class demands.
func RequiredScope(c Capability) models.Scope {
	return capabilityScope[c]
}
