// Package featureflag evaluates boolean flags that gate optional features.
package featureflag

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrUnknownFlag is returned when a provider has no definition for a key.
var ErrUnknownFlag = errors.New("featureflag: unknown flag")

// EvaluationContext holds the contextual data used to evaluate a feature flag.
// Key uniquely identifies the subject (service, deployment, etc.). Attributes
// carry additional targeting information.
type EvaluationContext struct {
	Key        string            `json:"key"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Provider is the interface that all feature-flag backends must implement.
type Provider interface {
	// Name returns a unique identifier for this provider (e.g. "static", "launchdarkly").
	Name() string

	// BoolValue returns the flag's value for evalCtx. fallback is returned
	// together with any error.
	BoolValue(ctx context.Context, key string, evalCtx EvaluationContext, fallback bool) (bool, error)

	// Close releases provider resources.
	Close() error
}

// Resolve evaluates key once, logging and falling back when the provider
// fails. A nil provider yields fallback.
func Resolve(ctx context.Context, p Provider, key string, evalCtx EvaluationContext, fallback bool, logger *slog.Logger) bool {
	if p == nil {
		return fallback
	}
	if logger == nil {
		logger = slog.Default()
	}
	v, err := p.BoolValue(ctx, key, evalCtx, fallback)
	if err != nil {
		logger.Warn("feature flag evaluation failed, using fallback",
			"provider", p.Name(),
			"key", key,
			"fallback", fallback,
			"error", err,
		)
		return fallback
	}
	logger.Info("feature flag evaluated", "provider", p.Name(), "key", key, "value", v)
	return v
}

// StaticProvider serves fixed flag values. It backs tests and deployments
// without a flag service.
type StaticProvider struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewStaticProvider creates a StaticProvider with the given values.
func NewStaticProvider(flags map[string]bool) *StaticProvider {
	m := make(map[string]bool, len(flags))
	for k, v := range flags {
		m[k] = v
	}
	return &StaticProvider{flags: m}
}

func (p *StaticProvider) Name() string { return "static" }

// Set overrides a flag value.
func (p *StaticProvider) Set(key string, value bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flags[key] = value
}

func (p *StaticProvider) BoolValue(_ context.Context, key string, _ EvaluationContext, fallback bool) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.flags[key]
	if !ok {
		return fallback, ErrUnknownFlag
	}
	return v, nil
}

func (p *StaticProvider) Close() error { return nil }
