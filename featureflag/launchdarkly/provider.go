// Package launchdarkly provides a feature flag Provider backed by LaunchDarkly.
package launchdarkly

import (
	"context"
	"fmt"
	"time"

	"github.com/GoCodeAlone/schedulesync/featureflag"
	ldcontext "github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	ld "github.com/launchdarkly/go-server-sdk/v7"
	"github.com/launchdarkly/go-server-sdk/v7/ldcomponents"
)

// defaultContextKey is used when the evaluation context carries no key.
const defaultContextKey = "schedulesync"

// Config holds configuration for the LaunchDarkly provider.
type Config struct {
	SDKKey       string        `yaml:"sdk_key"`
	Stream       bool          `yaml:"stream"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RelayProxy   string        `yaml:"relay_proxy"`
	// StartWait bounds how long NewProvider waits for the first flag payload.
	StartWait time.Duration `yaml:"start_wait"`
}

// Provider implements featureflag.Provider using the LaunchDarkly Go Server SDK.
type Provider struct {
	client *ld.LDClient
}

// NewProvider creates a new LaunchDarkly provider. It blocks until the SDK
// initialises or StartWait (default 10 seconds) elapses.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.SDKKey == "" {
		return nil, fmt.Errorf("launchdarkly: sdk_key is required")
	}

	ldCfg := ld.Config{}

	if !cfg.Stream {
		pollInterval := cfg.PollInterval
		if pollInterval == 0 {
			pollInterval = 30 * time.Second
		}
		ldCfg.DataSource = ldcomponents.PollingDataSource().PollInterval(pollInterval)
	}

	if cfg.RelayProxy != "" {
		ldCfg.ServiceEndpoints.Streaming = cfg.RelayProxy
		ldCfg.ServiceEndpoints.Polling = cfg.RelayProxy
		ldCfg.ServiceEndpoints.Events = cfg.RelayProxy
	}

	wait := cfg.StartWait
	if wait == 0 {
		wait = 10 * time.Second
	}
	return NewProviderWithConfig(cfg.SDKKey, ldCfg, wait)
}

// NewProviderWithConfig creates a provider from a raw SDK configuration, for
// callers that supply their own data source.
func NewProviderWithConfig(sdkKey string, ldCfg ld.Config, wait time.Duration) (*Provider, error) {
	client, err := ld.MakeCustomClient(sdkKey, ldCfg, wait)
	if err != nil {
		if client != nil {
			_ = client.Close()
		}
		return nil, fmt.Errorf("launchdarkly: init failed: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name implements featureflag.Provider.
func (p *Provider) Name() string { return "launchdarkly" }

// BoolValue implements featureflag.Provider.
func (p *Provider) BoolValue(_ context.Context, key string, evalCtx featureflag.EvaluationContext, fallback bool) (bool, error) {
	v, detail, err := p.client.BoolVariationDetail(key, buildLDContext(evalCtx), fallback)
	if err != nil {
		return fallback, fmt.Errorf("launchdarkly: evaluate %q (%s): %w", key, detail.Reason.String(), err)
	}
	return v, nil
}

// Close shuts down the LD client gracefully.
func (p *Provider) Close() error {
	return p.client.Close()
}

// buildLDContext converts our EvaluationContext to the LD context type.
func buildLDContext(ec featureflag.EvaluationContext) ldcontext.Context {
	key := ec.Key
	if key == "" {
		key = defaultContextKey
	}
	builder := ldcontext.NewBuilder(key)
	for k, v := range ec.Attributes {
		builder.SetString(k, v)
	}
	return builder.Build()
}

// Ensure Provider implements the interface at compile time.
var _ featureflag.Provider = (*Provider)(nil)
