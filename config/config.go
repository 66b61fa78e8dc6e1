// Package config loads schedulesync settings from YAML, an optional .env file
// and environment overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/GoCodeAlone/schedulesync/secrets"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvBillingEnabled       = "IS_BILLING_ENABLED"
	EnvStripeAPIKey         = "BILLING_STRIPE_API_KEY"
	EnvStripeWebhookSecret  = "BILLING_STRIPE_WEBHOOK_SECRET"
	EnvStripeAPIURL         = "BILLING_STRIPE_API_URL"
	EnvServerAddr           = "SCHEDULESYNC_ADDR"
	EnvLaunchDarklySDKKey   = "LAUNCHDARKLY_SDK_KEY"
	EnvOTLPEndpoint         = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvAuthJWTSecret        = "SCHEDULESYNC_JWT_SECRET"
	EnvAuditDSN             = "SCHEDULESYNC_AUDIT_DSN"
	EnvVaultToken           = "VAULT_TOKEN"
	defaultFlagKey          = "billing-enabled"
	defaultAddr             = ":8080"
	defaultAuditSQLiteDSN   = "file:schedulesync.db?_pragma=busy_timeout(5000)"
	defaultRedisAuditPrefix = "schedulesync:reconciliations:"
)

// Audit drivers.
const (
	AuditNone   = "none"
	AuditMemory = "memory"
	AuditSQLite = "sqlite"
	AuditRedis  = "redis"
)

// Secret providers.
const (
	SecretsEnv   = "env"
	SecretsFile  = "file"
	SecretsVault = "vault"
)

// Flag providers.
const (
	FlagsNone         = "none"
	FlagsStatic       = "static"
	FlagsLaunchDarkly = "launchdarkly"
)

// Config is the full service configuration. It is read once at startup.
type Config struct {
	LogLevel     string             `yaml:"log_level"`
	Server       ServerConfig       `yaml:"server"`
	Billing      BillingConfig      `yaml:"billing"`
	Secrets      SecretsConfig      `yaml:"secrets"`
	FeatureFlags FeatureFlagsConfig `yaml:"feature_flags"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Audit        AuditConfig        `yaml:"audit"`
	Auth         AuthConfig         `yaml:"auth"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BillingConfig holds the billing switch and remote credentials.
type BillingConfig struct {
	Enabled bool         `yaml:"enabled"`
	Stripe  StripeConfig `yaml:"stripe"`
}

// StripeConfig configures the Stripe client. APIKey and WebhookSecret may be
// secret:// references.
type StripeConfig struct {
	APIKey        string  `yaml:"api_key"`
	WebhookSecret string  `yaml:"webhook_secret"`
	APIURL        string  `yaml:"api_url"`
	RateLimit     float64 `yaml:"rate_limit"`
	Burst         int     `yaml:"burst"`
}

// SecretsConfig selects the backend for secret:// references.
type SecretsConfig struct {
	Provider  string              `yaml:"provider"`
	EnvPrefix string              `yaml:"env_prefix"`
	Dir       string              `yaml:"dir"`
	Vault     secrets.VaultConfig `yaml:"vault"`
}

// FeatureFlagsConfig selects the provider that may override Billing.Enabled.
type FeatureFlagsConfig struct {
	Provider     string             `yaml:"provider"`
	BillingKey   string             `yaml:"billing_key"`
	ContextKey   string             `yaml:"context_key"`
	Static       map[string]bool    `yaml:"static"`
	LaunchDarkly LaunchDarklyConfig `yaml:"launchdarkly"`
}

// LaunchDarklyConfig configures the LaunchDarkly SDK.
type LaunchDarklyConfig struct {
	SDKKey       string        `yaml:"sdk_key"`
	Stream       bool          `yaml:"stream"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RelayProxy   string        `yaml:"relay_proxy"`
	StartWait    time.Duration `yaml:"start_wait"`
}

// TracingConfig configures OTLP export. An empty Endpoint disables tracing.
type TracingConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	ServiceName string            `yaml:"service_name"`
	Insecure    bool              `yaml:"insecure"`
	SampleRate  float64           `yaml:"sample_rate"`
	Headers     map[string]string `yaml:"headers"`
}

// AuditConfig selects the reconciliation audit store.
type AuditConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// AuthConfig protects the billing API with HS256 bearer tokens. An empty
// JWTSecret leaves the API open.
type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// Default returns a Config with billing disabled and local defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            defaultAddr,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Secrets: SecretsConfig{Provider: SecretsEnv},
		FeatureFlags: FeatureFlagsConfig{
			Provider:   FlagsNone,
			BillingKey: defaultFlagKey,
		},
		Tracing: TracingConfig{
			ServiceName: "schedulesync",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Audit: AuditConfig{
			Driver:      AuditMemory,
			RedisPrefix: defaultRedisAuditPrefix,
		},
		Auth: AuthConfig{RateLimitPerMinute: 120},
	}
}

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvBillingEnabled); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvBillingEnabled, v, err)
		}
		c.Billing.Enabled = enabled
	}
	overrides := []struct {
		env string
		dst *string
	}{
		{EnvStripeAPIKey, &c.Billing.Stripe.APIKey},
		{EnvStripeWebhookSecret, &c.Billing.Stripe.WebhookSecret},
		{EnvStripeAPIURL, &c.Billing.Stripe.APIURL},
		{EnvServerAddr, &c.Server.Addr},
		{EnvLaunchDarklySDKKey, &c.FeatureFlags.LaunchDarkly.SDKKey},
		{EnvOTLPEndpoint, &c.Tracing.Endpoint},
		{EnvAuthJWTSecret, &c.Auth.JWTSecret},
		{EnvAuditDSN, &c.Audit.DSN},
		{EnvVaultToken, &c.Secrets.Vault.Token},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
	return nil
}

// Validate checks the configuration for missing or conflicting values.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Billing.Enabled && c.Billing.Stripe.APIKey == "" {
		errs = append(errs, fmt.Errorf("billing.stripe.api_key (or %s) is required when billing is enabled", EnvStripeAPIKey))
	}
	if c.Billing.Stripe.RateLimit < 0 {
		errs = append(errs, errors.New("billing.stripe.rate_limit must not be negative"))
	}
	switch c.Secrets.Provider {
	case SecretsEnv:
	case SecretsFile:
		if c.Secrets.Dir == "" {
			errs = append(errs, errors.New("secrets.dir is required for the file provider"))
		}
	case SecretsVault:
		if c.Secrets.Vault.Address == "" {
			errs = append(errs, errors.New("secrets.vault.address is required for the vault provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown secrets.provider %q", c.Secrets.Provider))
	}
	switch c.FeatureFlags.Provider {
	case FlagsNone, FlagsStatic:
	case FlagsLaunchDarkly:
		if c.FeatureFlags.LaunchDarkly.SDKKey == "" {
			errs = append(errs, fmt.Errorf("feature_flags.launchdarkly.sdk_key (or %s) is required", EnvLaunchDarklySDKKey))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown feature_flags.provider %q", c.FeatureFlags.Provider))
	}
	switch c.Audit.Driver {
	case AuditNone, AuditMemory:
	case AuditSQLite:
		if c.Audit.DSN == "" {
			c.Audit.DSN = defaultAuditSQLiteDSN
		}
	case AuditRedis:
		if c.Audit.DSN == "" {
			errs = append(errs, errors.New("audit.dsn is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit.driver %q", c.Audit.Driver))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("tracing.sample_rate must be between 0 and 1"))
	}
	return errors.Join(errs...)
}

// ResolveSecrets replaces secret:// references in credential fields using r.
// The Vault token itself is never a reference.
func (c *Config) ResolveSecrets(ctx context.Context, r *secrets.Resolver) error {
	return r.ResolveAll(ctx,
		&c.Billing.Stripe.APIKey,
		&c.Billing.Stripe.WebhookSecret,
		&c.FeatureFlags.LaunchDarkly.SDKKey,
		&c.Auth.JWTSecret,
	)
}

// HasSecretReferences reports whether any credential field still holds a
// secret:// reference.
func (c *Config) HasSecretReferences() bool {
	for _, v := range []string{
		c.Billing.Stripe.APIKey,
		c.Billing.Stripe.WebhookSecret,
		c.FeatureFlags.LaunchDarkly.SDKKey,
		c.Auth.JWTSecret,
	} {
		if secrets.IsReference(v) {
			return true
		}
	}
	return false
}
