// Package catalog is the static registry of supported connection types.
// It is the only place new provider types are registered; the store, cache,
// and broker stay type-agnostic.
package catalog

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
)

// Spec describes one connection type: which credential fields it takes, which
// scopes it supports, and per-field format validators.
type Spec struct {
	Name            string
	Description     string
	RequiredFields  []string
	OptionalFields  []string
	DefaultScopes   []models.Scope
	SupportedScopes []models.Scope
	FieldValidators map[string]*regexp.Regexp

	// PublicFields are non-secret fields safe to return in sanitized
	// projections for display (regions, workspaces, endpoints).
	PublicFields []string
}

// FieldError reports one violated validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Catalog holds the closed set of connection type specs. Construct with New;
// there is no runtime registration.
type Catalog struct {
	specs map[string]Spec
}

// Describe returns the spec for a connection type.
func (c *Catalog) Describe(connType string) (Spec, error) {
	spec, ok := c.specs[connType]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedConnectionType, connType)
	}
	return spec, nil
}

// Types returns all registered connection types, sorted.
func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.specs))
	for t := range c.specs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks fields against the type's spec and reports every violated
// rule, one FieldError per violation, so a caller can surface all problems at
// once. An unknown type is an error, never a silent no-op.
func (c *Catalog) Validate(connType string, fields map[string]string) ([]FieldError, error) {
	spec, err := c.Describe(connType)
	if err != nil {
		return nil, err
	}

	var errs []FieldError
	for _, f := range spec.RequiredFields {
		if fields[f] == "" {
			errs = append(errs, FieldError{Field: f, Message: "required field is missing"})
		}
	}

	known := make(map[string]bool, len(spec.RequiredFields)+len(spec.OptionalFields))
	for _, f := range spec.RequiredFields {
		known[f] = true
	}
	for _, f := range spec.OptionalFields {
		known[f] = true
	}

	// Deterministic order for the format and unknown-field checks.
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)

	for _, f := range names {
		v := fields[f]
		if !known[f] {
			errs = append(errs, FieldError{Field: f, Message: "unknown field for connection type"})
			continue
		}
		if v == "" {
			continue
		}
		if pattern, ok := spec.FieldValidators[f]; ok && !pattern.MatchString(v) {
			errs = append(errs, FieldError{Field: f, Message: "value does not match the expected format"})
		}
	}

	return errs, nil
}

// ValidateScopes checks requested scopes against the type's supported scopes.
func (c *Catalog) ValidateScopes(connType string, scopes []models.Scope) ([]FieldError, error) {
	spec, err := c.Describe(connType)
	if err != nil {
		return nil, err
	}

	var errs []FieldError
	for _, s := range scopes {
		if !s.Valid() {
			errs = append(errs, FieldError{Field: "scopes", Message: fmt.Sprintf("unknown scope %q", s)})
			continue
		}
		if !models.ScopesInclude(spec.SupportedScopes, s) {
			errs = append(errs, FieldError{Field: "scopes", Message: fmt.Sprintf("scope %q is not supported by %s", s, connType)})
		}
	}
	return errs, nil
}

// Sanitize returns the subset of fields that are safe to display.
func (c *Catalog) Sanitize(connType string, fields map[string]string) (map[string]string, error) {
	spec, err := c.Describe(connType)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(spec.PublicFields))
	for _, f := range spec.PublicFields {
		if v, ok := fields[f]; ok && v != "" {
			out[f] = v
		}
	}
	return out, nil
}
