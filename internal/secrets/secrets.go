// Package secrets resolves credential references found in configuration.
// String fields such as provider API keys, storage DSNs, and the gateway
// auth token may hold a reference ("env://VAR", "vault://path#field")
// instead of a literal value. References are resolved once at startup;
// resolved material never appears in logs or model prompts.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/jkaninda/uamuzi/internal/config"
)

// ErrNotFound is returned when a reference cannot be resolved.
var ErrNotFound = fmt.Errorf("secret not found")

// Resolver turns a credential reference into its secret value.
// Implementations must be safe for concurrent use.
type Resolver interface {
	// Resolve takes a reference such as "env://ANTHROPIC_API_KEY" and
	// returns the raw value. Returns ErrNotFound for unknown references.
	Resolve(ctx context.Context, ref string) (string, error)

	// Name identifies the resolver for error messages. Never secret material.
	Name() string
}

// IsRef reports whether s looks like a credential reference rather than
// a literal value.
func IsRef(s string) bool {
	return strings.HasPrefix(s, "env://") || strings.HasPrefix(s, "vault://")
}

// Expand resolves s when it is a reference and returns it unchanged when
// it is a literal (including empty).
func Expand(ctx context.Context, r Resolver, s string) (string, error) {
	if !IsRef(s) {
		return s, nil
	}
	return r.Resolve(ctx, s)
}

// NewResolver builds the resolver chain for the given configuration.
// env:// references always work; vault:// references require a
// configured Vault backend.
func NewResolver(cfg *config.SecretsConfig) (Resolver, error) {
	resolvers := []Resolver{Env{}}
	if cfg != nil && cfg.Vault != nil {
		v, err := NewVault(cfg.Vault)
		if err != nil {
			return nil, err
		}
		resolvers = append(resolvers, v)
	}
	return Chain(resolvers), nil
}

// Chain tries each resolver in order; the first success wins.
type Chain []Resolver

func (c Chain) Name() string { return "chain" }

func (c Chain) Resolve(ctx context.Context, ref string) (string, error) {
	var lastErr error
	for _, r := range c {
		value, err := r.Resolve(ctx, ref)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no resolver handles %q", ErrNotFound, ref)
	}
	return "", lastErr
}
