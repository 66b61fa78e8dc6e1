// Package secrets resolves secret:// references in configuration values
// against an environment, file or Vault backend.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretPrefix is the URI scheme used in config values to reference secrets.
const SecretPrefix = "secret://"

// Common errors.
var (
	ErrNotFound     = errors.New("secrets: secret not found")
	ErrInvalidKey   = errors.New("secrets: invalid key")
	ErrProviderInit = errors.New("secrets: provider initialization failed")
)

// Provider is a read-only secret backend.
type Provider interface {
	// Name returns the provider identifier.
	Name() string
	// Get retrieves a secret value by key.
	Get(ctx context.Context, key string) (string, error)
}

// --- Environment Variable Provider ---

// EnvProvider reads secrets from environment variables.
// Keys are converted to uppercase with dots replaced by underscores.
// For example, "stripe.api_key" becomes "STRIPE_API_KEY".
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a new environment variable secret provider.
// If prefix is non-empty, it is prepended to all key lookups (e.g., prefix "APP_" + key "db_pass" -> "APP_DB_PASS").
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	envKey := p.envKey(key)
	val, ok := os.LookupEnv(envKey)
	if !ok {
		return "", fmt.Errorf("%w: env var %s", ErrNotFound, envKey)
	}
	return val, nil
}

func (p *EnvProvider) envKey(key string) string {
	k := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if p.prefix != "" {
		return strings.ToUpper(p.prefix) + k
	}
	return k
}

// --- File Provider ---

// FileProvider reads secrets from files in a directory.
// Each file name is the secret key, and the file content is the value.
// This is compatible with Kubernetes secret volume mounts.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a file-based secret provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(_ context.Context, key string) (string, error) {
	if key == "" || !filepath.IsLocal(key) {
		return "", ErrInvalidKey
	}
	data, err := os.ReadFile(filepath.Join(p.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("secrets: failed to read %s: %w", key, err)
	}
	return strings.TrimRight(string(data), "\n\r"), nil
}

// --- Vault Configuration ---

// VaultConfig holds configuration for HashiCorp Vault.
type VaultConfig struct {
	Address   string `json:"address" yaml:"address"`
	Token     string `json:"token" yaml:"token"`
	MountPath string `json:"mount_path" yaml:"mount_path"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// --- Secret Resolver ---

// Resolver resolves secret:// references in configuration values.
type Resolver struct {
	provider Provider
}

// NewResolver creates a resolver backed by the given provider.
func NewResolver(provider Provider) *Resolver {
	return &Resolver{provider: provider}
}

// IsReference reports whether value is a secret:// reference.
func IsReference(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

// Resolve replaces a value containing a secret:// reference with the actual secret.
// If the value does not start with SecretPrefix, it is returned as-is.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsReference(value) {
		return value, nil
	}
	key := strings.TrimPrefix(value, SecretPrefix)
	v, err := r.provider.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("secrets: resolve %s via %s: %w", key, r.provider.Name(), err)
	}
	return v, nil
}

// ResolveAll resolves each value in place. It stops at the first failure and
// leaves later values untouched.
func (r *Resolver) ResolveAll(ctx context.Context, values ...*string) error {
	for _, v := range values {
		if v == nil {
			continue
		}
		resolved, err := r.Resolve(ctx, *v)
		if err != nil {
			return err
		}
		*v = resolved
	}
	return nil
}

// Provider returns the underlying provider.
func (r *Resolver) Provider() Provider {
	return r.provider
}
