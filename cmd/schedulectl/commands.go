package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/GoCodeAlone/schedulesync/api"
	"github.com/GoCodeAlone/schedulesync/billing"
	"github.com/GoCodeAlone/schedulesync/config"
	"github.com/GoCodeAlone/schedulesync/secrets"
)

// commonFlags are shared by every billing command.
type commonFlags struct {
	config  *string
	format  *string
	verbose *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:  fs.String("config", os.Getenv("SCHEDULESYNC_CONFIG"), "Path to schedulesync configuration YAML file"),
		format:  fs.String("format", "text", "Output format: text or json"),
		verbose: fs.Bool("v", false, "Log remote calls to stderr"),
	}
}

// newService builds the schedule service from config. Tests replace it.
var newService = func(ctx context.Context, cf commonFlags) (billing.ScheduleService, error) {
	cfg, err := loadConfig(ctx, *cf.config)
	if err != nil {
		return nil, err
	}
	level := slog.LevelWarn
	if *cf.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var provider billing.ScheduleProvider
	if cfg.Billing.Enabled {
		provider = billing.NewStripeScheduleProvider(billing.StripeConfig{
			APIKey:    cfg.Billing.Stripe.APIKey,
			APIURL:    cfg.Billing.Stripe.APIURL,
			RateLimit: cfg.Billing.Stripe.RateLimit,
			Burst:     cfg.Billing.Stripe.Burst,
			Logger:    logger,
		})
	}
	return billing.NewScheduleService(cfg.Billing.Enabled, provider, billing.WithLogger(logger))
}

func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.HasSecretReferences() {
		var p secrets.Provider
		switch cfg.Secrets.Provider {
		case config.SecretsFile:
			p = secrets.NewFileProvider(cfg.Secrets.Dir)
		case config.SecretsVault:
			vp, err := secrets.NewVaultProvider(cfg.Secrets.Vault)
			if err != nil {
				return nil, err
			}
			p = vp
		default:
			p = secrets.NewEnvProvider(cfg.Secrets.EnvPrefix)
		}
		if err := cfg.ResolveSecrets(ctx, secrets.NewResolver(p)); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// parseWithID parses args and returns the single positional argument.
func parseWithID(fs *flag.FlagSet, args []string, what string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return "", fmt.Errorf("exactly one %s is required", what)
	}
	return fs.Arg(0), nil
}

func setUsage(fs *flag.FlagSet, synopsis, description string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: schedulectl %s\n\n%s\n\nOptions:\n", synopsis, description)
		fs.PrintDefaults()
	}
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	setUsage(fs, "show [options] <schedule-id>", "Retrieve a schedule and print its phases.")
	id, err := parseWithID(fs, args, "schedule id")
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, err := newService(ctx, cf)
	if err != nil {
		return err
	}
	s, err := svc.RetrieveSchedule(ctx, id)
	if err != nil {
		return err
	}
	return output(*cf.format, s, func(w io.Writer) { printSchedule(w, s) })
}

func runPhases(args []string) error {
	fs := flag.NewFlagSet("phases", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	setUsage(fs, "phases [options] <schedule-id>", "Print the current and next phases of a schedule.")
	id, err := parseWithID(fs, args, "schedule id")
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, err := newService(ctx, cf)
	if err != nil {
		return err
	}
	ep, err := svc.EditablePhases(ctx, id)
	if err != nil {
		return err
	}
	return output(*cf.format, ep, func(w io.Writer) {
		fmt.Fprintf(w, "Schedule %s\n", ep.Schedule.ID)
		fmt.Fprintln(w, "Current:")
		printPhase(w, ep.Current)
		if ep.Next == nil {
			fmt.Fprintln(w, "Next: none")
			return
		}
		fmt.Fprintln(w, "Next:")
		printPhase(w, *ep.Next)
	})
}

func runReplace(args []string) error {
	fs := flag.NewFlagSet("replace", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	editFile := fs.String("edit", "", "Path to a JSON edit ({\"currentPhaseUpdateParam\": ..., \"nextPhase\": ...}); - reads stdin")
	dryRun := fs.Bool("dry-run", false, "Print the phase list that would be submitted without updating")
	setUsage(fs, "replace -edit <file.json> [options] <schedule-id>",
		"Replace the current and next phases of a schedule. Omitting nextPhase keeps the\nexisting future phase; \"nextPhase\": null removes it.")
	id, err := parseWithID(fs, args, "schedule id")
	if err != nil {
		return err
	}
	if *editFile == "" {
		fs.Usage()
		return errors.New("-edit is required")
	}
	edit, err := readEdit(*editFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, err := newService(ctx, cf)
	if err != nil {
		return err
	}

	if *dryRun {
		ep, err := svc.EditablePhases(ctx, id)
		if err != nil {
			return err
		}
		plan, err := billing.BuildEditablePhases(ep.Schedule, edit, time.Now())
		if err != nil {
			return err
		}
		return output(*cf.format, plan, func(w io.Writer) {
			fmt.Fprintf(w, "Dry run for %s (next phase %s)\n", id, plan.NextAction)
			for i, pp := range plan.Phases {
				fmt.Fprintf(w, "Phase %d:\n", i)
				printPhase(w, pp.Phase())
			}
		})
	}

	s, err := svc.ReplaceEditablePhases(ctx, id, edit)
	if err != nil {
		return err
	}
	return output(*cf.format, s, func(w io.Writer) { printSchedule(w, s) })
}

func readEdit(path string) (billing.DesiredEdit, error) {
	var edit billing.DesiredEdit
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return edit, fmt.Errorf("read edit: %w", err)
	}
	if err := json.Unmarshal(data, &edit); err != nil {
		return edit, fmt.Errorf("parse edit %s: %w", path, err)
	}
	return edit, nil
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	setUsage(fs, "create [options] <subscription-id>",
		"Print the schedule attached to a subscription, creating one when none exists.")
	id, err := parseWithID(fs, args, "subscription id")
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, err := newService(ctx, cf)
	if err != nil {
		return err
	}
	sub, err := svc.GetSubscriptionWithSchedule(ctx, id)
	if err != nil {
		return err
	}
	s, err := svc.FindOrCreateSubscriptionSchedule(ctx, sub)
	if err != nil {
		return err
	}
	return output(*cf.format, s, func(w io.Writer) { printSchedule(w, s) })
}

func runRelease(args []string) error {
	fs := flag.NewFlagSet("release", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	setUsage(fs, "release [options] <schedule-id>", "Release a schedule. The subscription keeps its current items.")
	id, err := parseWithID(fs, args, "schedule id")
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, err := newService(ctx, cf)
	if err != nil {
		return err
	}
	s, err := svc.Release(ctx, id)
	if err != nil {
		return err
	}
	return output(*cf.format, s, func(w io.Writer) {
		fmt.Fprintf(w, "Released %s (status %s)\n", s.ID, s.Status)
	})
}

func runDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	setUsage(fs, "diff <old-config.yaml> <new-config.yaml>",
		"Compare two configuration files and list the sections that differ.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("two config files are required: <old-config.yaml> <new-config.yaml>")
	}
	oldCfg, err := config.Load(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("load old config %q: %w", fs.Arg(0), err)
	}
	newCfg, err := config.Load(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("load new config %q: %w", fs.Arg(1), err)
	}
	changed := config.Diff(oldCfg, newCfg)
	if len(changed) == 0 {
		fmt.Fprintln(stdout, "No changes.")
		return nil
	}
	for _, s := range changed {
		fmt.Fprintf(stdout, "~ %s\n", s)
	}
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configFile := fs.String("config", os.Getenv("SCHEDULESYNC_CONFIG"), "Path to schedulesync configuration YAML file")
	subject := fs.String("subject", "", "Token subject (operator or service name)")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	setUsage(fs, "token -subject <name> [options]", "Issue a bearer token for the billing API.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(context.Background(), *configFile)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	tok, err := api.IssueToken([]byte(cfg.Auth.JWTSecret), "schedulesync", *subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tok)
	return nil
}

func output(format string, v any, text func(io.Writer)) error {
	switch format {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		return nil
	case "text", "":
		text(stdout)
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func printSchedule(w io.Writer, s *billing.Schedule) {
	fmt.Fprintf(w, "Schedule %s", s.ID)
	if s.SubscriptionID != "" {
		fmt.Fprintf(w, " (subscription %s)", s.SubscriptionID)
	}
	fmt.Fprintf(w, " status=%s\n", s.Status)
	for i, p := range s.Phases {
		fmt.Fprintf(w, "Phase %d:\n", i)
		printPhase(w, p)
	}
}

func printPhase(w io.Writer, p billing.Phase) {
	fmt.Fprintf(w, "  %s -> %s\n", formatTS(p.StartDate), formatTS(p.EndDate))
	if p.BillingThresholds != nil {
		fmt.Fprintf(w, "  invoice at amount >= %d\n", p.BillingThresholds.AmountGTE)
	}
	for _, it := range p.Items {
		var parts []string
		parts = append(parts, it.Price.Canonical())
		if it.Quantity != nil {
			parts = append(parts, fmt.Sprintf("qty=%d", *it.Quantity))
		}
		if it.BillingThresholds != nil {
			parts = append(parts, fmt.Sprintf("usage_gte=%d", it.BillingThresholds.UsageGTE))
		}
		fmt.Fprintf(w, "  - %s\n", strings.Join(parts, " "))
	}
}

func formatTS(ts int64) string {
	if ts == 0 {
		return "open"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
