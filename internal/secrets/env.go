package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Env resolves "env://VARIABLE_NAME" references from the process environment.
type Env struct{}

func (Env) Name() string { return "env" }

func (Env) Resolve(_ context.Context, ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, "env://")
	if !ok {
		return "", fmt.Errorf("%w: env resolver only handles env:// references, got %q", ErrNotFound, ref)
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty environment variable name", ErrNotFound)
	}
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %q is not set", ErrNotFound, name)
	}
	return value, nil
}
