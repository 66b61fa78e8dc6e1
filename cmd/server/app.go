package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/GoCodeAlone/schedulesync/api"
	"github.com/GoCodeAlone/schedulesync/billing"
	"github.com/GoCodeAlone/schedulesync/config"
	"github.com/GoCodeAlone/schedulesync/featureflag"
	"github.com/GoCodeAlone/schedulesync/featureflag/launchdarkly"
	"github.com/GoCodeAlone/schedulesync/observability/tracing"
	"github.com/GoCodeAlone/schedulesync/secrets"
	_ "modernc.org/sqlite"
)

const tokenIssuer = "schedulesync"

// app holds the wired service graph. Everything is built once from Config;
// later config edits require a restart.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	service  billing.ScheduleService
	metrics  *billing.Metrics
	handler  http.Handler
	closers  []func(context.Context) error
	recorder billing.Recorder
}

// appOptions lets tests substitute pieces that would otherwise reach out to
// real services.
type appOptions struct {
	flags      featureflag.Provider
	secrets    secrets.Provider
	httpClient *http.Client
	provider   billing.ScheduleProvider
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := a.resolveSecrets(ctx, opts.secrets); err != nil {
		return nil, err
	}

	enabled, err := a.billingEnabled(ctx, opts.flags)
	if err != nil {
		return nil, err
	}

	svcOpts := []billing.ServiceOption{billing.WithLogger(logger)}

	a.metrics = billing.NewMetrics("schedulesync")
	svcOpts = append(svcOpts, billing.WithMetrics(a.metrics))

	if cfg.Tracing.Endpoint != "" {
		tp, err := tracing.NewProvider(ctx, tracing.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.ServiceName,
			Insecure:    cfg.Tracing.Insecure,
			SampleRate:  cfg.Tracing.SampleRate,
			Headers:     cfg.Tracing.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		a.closers = append(a.closers, tp.Shutdown)
		svcOpts = append(svcOpts, billing.WithTracer(tp.Tracer()))
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	rec, err := a.openRecorder(ctx)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		a.recorder = rec
		svcOpts = append(svcOpts, billing.WithRecorder(rec))
	}

	var provider billing.ScheduleProvider
	if enabled {
		provider = opts.provider
		if provider == nil {
			provider = billing.NewStripeScheduleProvider(billing.StripeConfig{
				APIKey:     cfg.Billing.Stripe.APIKey,
				APIURL:     cfg.Billing.Stripe.APIURL,
				RateLimit:  cfg.Billing.Stripe.RateLimit,
				Burst:      cfg.Billing.Stripe.Burst,
				HTTPClient: opts.httpClient,
				Logger:     logger,
			})
		}
	}

	a.service, err = billing.NewScheduleService(enabled, provider, svcOpts...)
	if err != nil {
		return nil, err
	}
	logger.Info("billing schedule service ready", "enabled", a.service.Enabled())

	a.handler = a.routes()
	return a, nil
}

// resolveSecrets replaces secret:// references in the config.
func (a *app) resolveSecrets(ctx context.Context, p secrets.Provider) error {
	if !a.cfg.HasSecretReferences() {
		return nil
	}
	if p == nil {
		var err error
		p, err = newSecretsProvider(a.cfg.Secrets)
		if err != nil {
			return err
		}
	}
	if err := a.cfg.ResolveSecrets(ctx, secrets.NewResolver(p)); err != nil {
		return err
	}
	a.logger.Info("secrets resolved", "provider", p.Name())
	return nil
}

func newSecretsProvider(cfg config.SecretsConfig) (secrets.Provider, error) {
	switch cfg.Provider {
	case config.SecretsFile:
		return secrets.NewFileProvider(cfg.Dir), nil
	case config.SecretsVault:
		return secrets.NewVaultProvider(cfg.Vault)
	default:
		return secrets.NewEnvProvider(cfg.EnvPrefix), nil
	}
}

// billingEnabled reads the billing switch once. A configured flag provider
// overrides the file and environment value; on failure the configured value
// stands.
func (a *app) billingEnabled(ctx context.Context, p featureflag.Provider) (bool, error) {
	fallback := a.cfg.Billing.Enabled
	if p == nil {
		var err error
		p, err = newFlagProvider(a.cfg.FeatureFlags)
		if err != nil {
			a.logger.Warn("feature flag provider unavailable, using configured billing switch",
				"provider", a.cfg.FeatureFlags.Provider, "error", err)
			p = nil
		}
	}
	enabled := fallback
	if p != nil {
		evalCtx := featureflag.EvaluationContext{Key: a.cfg.FeatureFlags.ContextKey}
		if evalCtx.Key == "" {
			evalCtx.Key, _ = os.Hostname()
		}
		enabled = featureflag.Resolve(ctx, p, a.cfg.FeatureFlags.BillingKey, evalCtx, fallback, a.logger)
		if err := p.Close(); err != nil {
			a.logger.Warn("feature flag provider close failed", "error", err)
		}
	}
	if enabled && a.cfg.Billing.Stripe.APIKey == "" {
		return false, errors.New("billing enabled by feature flag but no Stripe API key is configured")
	}
	return enabled, nil
}

func newFlagProvider(cfg config.FeatureFlagsConfig) (featureflag.Provider, error) {
	switch cfg.Provider {
	case config.FlagsStatic:
		return featureflag.NewStaticProvider(cfg.Static), nil
	case config.FlagsLaunchDarkly:
		return launchdarkly.NewProvider(launchdarkly.Config{
			SDKKey:       cfg.LaunchDarkly.SDKKey,
			Stream:       cfg.LaunchDarkly.Stream,
			PollInterval: cfg.LaunchDarkly.PollInterval,
			RelayProxy:   cfg.LaunchDarkly.RelayProxy,
			StartWait:    cfg.LaunchDarkly.StartWait,
		})
	default:
		return nil, nil
	}
}

func (a *app) openRecorder(ctx context.Context) (billing.Recorder, error) {
	switch a.cfg.Audit.Driver {
	case config.AuditNone:
		return nil, nil
	case config.AuditSQLite:
		db, err := sql.Open("sqlite", a.cfg.Audit.DSN)
		if err != nil {
			return nil, fmt.Errorf("audit: open sqlite: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		return billing.NewSQLiteRecorder(db)
	case config.AuditRedis:
		rec, err := billing.NewRedisRecorder(ctx, a.cfg.Audit.DSN, a.cfg.Audit.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rec.Close() })
		return rec, nil
	default:
		return billing.NewInMemoryRecorder(), nil
	}
}

func (a *app) routes() http.Handler {
	var verifier *billing.WebhookVerifier
	if secret := a.cfg.Billing.Stripe.WebhookSecret; secret != "" {
		verifier = billing.NewWebhookVerifier(secret)
	}
	h := billing.NewHandler(a.service, verifier, a.metrics, a.logger)

	if secret := a.cfg.Auth.JWTSecret; secret != "" {
		mw := api.NewMiddleware([]byte(secret), tokenIssuer)
		a.closers = append(a.closers, func(context.Context) error { mw.Stop(); return nil })
		h.Protect(mw.Chain(a.cfg.Auth.RateLimitPerMinute))
	} else {
		a.logger.Warn("billing API authentication disabled: no JWT secret configured")
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", a.handleHealth)

	// RequestID copies the request, so it wraps the span middleware to keep
	// the route pattern visible to it.
	return api.RequestID(tracing.SpanMiddleware(mux))
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.service.Enabled() {
		_, _ = w.Write([]byte(`{"status":"ok","billing_enabled":true}` + "\n"))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok","billing_enabled":false}` + "\n"))
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
