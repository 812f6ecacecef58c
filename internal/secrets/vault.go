package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jkaninda/uamuzi/internal/config"
)

// Vault resolves "vault://secret/data/app#field" references from a
// HashiCorp Vault KV v2 backend using token authentication.
//
//   - vault://        required prefix
//   - secret/data/... full KV v2 API path
//   - #field          selects one key; omitted = whole data map as JSON
//
// Safe for concurrent use.
type Vault struct {
	address   string
	token     string
	namespace string
	client    *http.Client
}

// NewVault builds a Vault resolver. VAULT_ADDR, VAULT_TOKEN, and
// VAULT_NAMESPACE env vars override the configured values.
func NewVault(cfg *config.VaultConfig) (*Vault, error) {
	address := cfg.Address
	if env := os.Getenv("VAULT_ADDR"); env != "" {
		address = env
	}
	if address == "" {
		return nil, fmt.Errorf("vault address is required (set secrets.vault.address or VAULT_ADDR)")
	}

	token := cfg.Token
	if env := os.Getenv("VAULT_TOKEN"); env != "" {
		token = env
	}
	if token == "" {
		return nil, fmt.Errorf("vault token is required (set secrets.vault.token or VAULT_TOKEN)")
	}

	namespace := cfg.Namespace
	if env := os.Getenv("VAULT_NAMESPACE"); env != "" {
		namespace = env
	}

	timeout := 5 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid vault timeout %q: %w", cfg.Timeout, err)
		}
		timeout = d
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Vault{
		address:   strings.TrimRight(address, "/"),
		token:     token,
		namespace: namespace,
		client:    &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (v *Vault) Name() string { return "vault" }

func (v *Vault) Resolve(ctx context.Context, ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, "vault://")
	if !ok {
		return "", fmt.Errorf("%w: vault resolver only handles vault:// references, got %q", ErrNotFound, ref)
	}
	path, field, _ := strings.Cut(raw, "#")
	if path == "" {
		return "", fmt.Errorf("%w: empty vault path", ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.address+"/v1/"+path, nil)
	if err != nil {
		return "", fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", v.token)
	if v.namespace != "" {
		req.Header.Set("X-Vault-Namespace", v.namespace)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading vault response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: vault path %q not found", ErrNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("vault access denied for path %q (check token permissions)", path)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("vault returned status %d for path %q", resp.StatusCode, path)
	}

	// KV v2 envelope: { "data": { "data": { ... }, "metadata": { ... } } }
	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("parsing vault response: %w", err)
	}
	data := envelope.Data.Data
	if data == nil {
		return "", fmt.Errorf("%w: vault path %q returned no data", ErrNotFound, path)
	}

	if field != "" {
		val, ok := data[field]
		if !ok {
			return "", fmt.Errorf("%w: field %q not found in vault path %q", ErrNotFound, field, path)
		}
		s, ok := val.(string)
		if !ok {
			return "", fmt.Errorf("vault field %q in path %q is not a string", field, path)
		}
		return s, nil
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshaling vault data: %w", err)
	}
	return string(encoded), nil
}
