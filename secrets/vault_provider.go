package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultProvider reads secrets from a Vault KV v2 mount.
type VaultProvider struct {
	config VaultConfig
	client *vault.Client
}

// NewVaultProvider creates a Vault provider for cfg. No request is made until
// the first Get.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrProviderInit)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: vault token is required", ErrProviderInit)
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	cfg.MountPath = strings.Trim(cfg.MountPath, "/")

	vc := vault.DefaultConfig()
	vc.Address = strings.TrimRight(cfg.Address, "/")
	vc.MaxRetries = 0
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderInit, err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &VaultProvider{config: cfg, client: client}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

// Get retrieves a secret. The key can be in the format "path" or "path#field".
// With a field, that field's value is returned; without one, the secret must
// hold exactly one field.
func (p *VaultProvider) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	path, field := parseVaultKey(key)
	if path == "" {
		return "", ErrInvalidKey
	}

	secret, err := p.client.KVv2(p.config.MountPath).Get(ctx, path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("secrets: vault read %s: %w", path, err)
	}
	if len(secret.Data) == 0 {
		return "", fmt.Errorf("%w: no data at key %q", ErrNotFound, key)
	}

	if field == "" {
		if len(secret.Data) != 1 {
			return "", fmt.Errorf("%w: %q holds %d fields, name one with #field", ErrInvalidKey, path, len(secret.Data))
		}
		for _, v := range secret.Data {
			return fmt.Sprint(v), nil
		}
	}
	val, ok := secret.Data[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q not found at key %q", ErrNotFound, field, path)
	}
	return fmt.Sprint(val), nil
}

// parseVaultKey splits "path#field" into (path, field).
func parseVaultKey(key string) (path, field string) {
	if idx := strings.LastIndex(key, "#"); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}
