package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/subscriptionschedule"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// StripeConfig configures a StripeScheduleProvider.
type StripeConfig struct {
	APIKey string
	// APIURL overrides the Stripe API base URL (e.g. a stripe-mock instance).
	APIURL string
	// RateLimit caps outbound requests per second. Zero disables pacing.
	RateLimit float64
	// Burst is the limiter burst size; defaults to 1 when RateLimit is set.
	Burst int
	// HTTPClient replaces the default instrumented client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// StripeScheduleProvider implements ScheduleProvider using the Stripe API.
// The backend never retries: a failed call is returned to the caller as is.
type StripeScheduleProvider struct {
	schedules     subscriptionschedule.Client
	subscriptions subscription.Client
	limiter       *rate.Limiter
}

// NewStripeScheduleProvider creates a StripeScheduleProvider with its own
// backend, so several API keys can coexist in one process.
func NewStripeScheduleProvider(cfg StripeConfig) *StripeScheduleProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   80 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	bc := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripeLogger{logger: logger},
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)

	p := &StripeScheduleProvider{
		schedules:     subscriptionschedule.Client{B: backend, Key: cfg.APIKey},
		subscriptions: subscription.Client{B: backend, Key: cfg.APIKey},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p
}

// Retrieve fetches a schedule with its subscription expanded.
func (p *StripeScheduleProvider) Retrieve(ctx context.Context, scheduleID string) (*Schedule, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionScheduleParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	ss, err := p.schedules.Get(scheduleID, params)
	if err != nil {
		return nil, err
	}
	return fromStripeResponse(ss), nil
}

// Update submits the full phase list. Each call carries a fresh idempotency
// key so a transport-level resend cannot apply the same list twice.
func (p *StripeScheduleProvider) Update(ctx context.Context, scheduleID string, phases []PhaseParams) (*Schedule, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionScheduleParams{}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	setPhases(params, phases)

	ss, err := p.schedules.Update(scheduleID, params)
	if err != nil {
		return nil, err
	}
	return fromStripeResponse(ss), nil
}

// CreateFromSubscription creates a schedule from an existing subscription.
func (p *StripeScheduleProvider) CreateFromSubscription(ctx context.Context, subscriptionID string) (*Schedule, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionScheduleParams{
		FromSubscription: stripe.String(subscriptionID),
	}
	params.Context = ctx

	ss, err := p.schedules.New(params)
	if err != nil {
		return nil, err
	}
	return fromStripeResponse(ss), nil
}

// Release releases the schedule; the subscription keeps running.
func (p *StripeScheduleProvider) Release(ctx context.Context, scheduleID string) (*Schedule, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionScheduleReleaseParams{}
	params.Context = ctx

	ss, err := p.schedules.Release(scheduleID, params)
	if err != nil {
		return nil, err
	}
	return fromStripeResponse(ss), nil
}

// RetrieveSubscription fetches a subscription with its schedule expanded.
func (p *StripeScheduleProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("schedule")

	sub, err := p.subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, err
	}
	return subscriptionFromStripe(sub), nil
}

func (p *StripeScheduleProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// ---------- conversions ----------

func fromStripeResponse(ss *stripe.SubscriptionSchedule) *Schedule {
	s := scheduleFromStripe(ss)
	if ss != nil && ss.LastResponse != nil {
		applyItemThresholds(s, ss.LastResponse.RawJSON)
	}
	return s
}

// applyItemThresholds copies item-level usage thresholds from a raw schedule
// body. stripe-go no longer models them on phase items, but accounts pinned
// to older API versions still return them.
func applyItemThresholds(s *Schedule, raw []byte) {
	if s == nil || len(raw) == 0 {
		return
	}
	var body struct {
		Phases []struct {
			Items []struct {
				BillingThresholds *ItemBillingThresholds `json:"billing_thresholds"`
			} `json:"items"`
		} `json:"phases"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Phases) != len(s.Phases) {
		return
	}
	for i, bp := range body.Phases {
		if len(bp.Items) != len(s.Phases[i].Items) {
			continue
		}
		for j, bi := range bp.Items {
			if bi.BillingThresholds != nil {
				s.Phases[i].Items[j].BillingThresholds = bi.BillingThresholds
			}
		}
	}
}

func scheduleFromStripe(ss *stripe.SubscriptionSchedule) *Schedule {
	if ss == nil {
		return nil
	}
	s := &Schedule{
		ID:     ss.ID,
		Status: string(ss.Status),
		Phases: make([]Phase, 0, len(ss.Phases)),
	}
	if ss.Subscription != nil {
		s.SubscriptionID = ss.Subscription.ID
	}
	if ss.CurrentPhase != nil {
		s.CurrentPhase = &PhaseWindow{
			StartDate: ss.CurrentPhase.StartDate,
			EndDate:   ss.CurrentPhase.EndDate,
		}
	}
	for _, sp := range ss.Phases {
		if sp == nil {
			continue
		}
		s.Phases = append(s.Phases, phaseFromStripe(sp))
	}
	return s
}

func phaseFromStripe(sp *stripe.SubscriptionSchedulePhase) Phase {
	p := Phase{
		StartDate:         sp.StartDate,
		EndDate:           sp.EndDate,
		ProrationBehavior: string(sp.ProrationBehavior),
		Items:             make([]PhaseItem, 0, len(sp.Items)),
	}
	if sp.BillingThresholds != nil {
		p.BillingThresholds = &BillingThresholds{
			AmountGTE:               sp.BillingThresholds.AmountGTE,
			ResetBillingCycleAnchor: sp.BillingThresholds.ResetBillingCycleAnchor,
		}
	}
	for _, si := range sp.Items {
		if si == nil {
			continue
		}
		item := PhaseItem{}
		if si.Price != nil {
			item.Price = PriceRef{ID: si.Price.ID, LookupKey: si.Price.LookupKey}
			if si.Price.Product != nil {
				item.Price.Product = si.Price.Product.ID
			}
		}
		// Metered prices carry no quantity; Stripe reports them as 0.
		if si.Quantity > 0 {
			q := si.Quantity
			item.Quantity = &q
		}
		p.Items = append(p.Items, item)
	}
	return p
}

func subscriptionFromStripe(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Schedule != nil && sub.Schedule.ID != "" {
		out.Schedule = scheduleFromStripe(sub.Schedule)
		if out.Schedule.SubscriptionID == "" {
			out.Schedule.SubscriptionID = sub.ID
		}
	}
	return out
}

// setPhases encodes phases onto params. Item usage thresholds have no typed
// field and are sent as extra form values.
func setPhases(params *stripe.SubscriptionScheduleParams, phases []PhaseParams) {
	params.Phases = make([]*stripe.SubscriptionSchedulePhaseParams, 0, len(phases))
	for i, pp := range phases {
		sp := &stripe.SubscriptionSchedulePhaseParams{
			StartDate: pp.StartDate,
			EndDate:   pp.EndDate,
			Items:     make([]*stripe.SubscriptionSchedulePhaseItemParams, 0, len(pp.Items)),
		}
		if pp.ProrationBehavior != "" {
			sp.ProrationBehavior = stripe.String(pp.ProrationBehavior)
		}
		if pp.BillingThresholds != nil {
			sp.BillingThresholds = &stripe.SubscriptionSchedulePhaseBillingThresholdsParams{
				AmountGTE:               stripe.Int64(pp.BillingThresholds.AmountGTE),
				ResetBillingCycleAnchor: stripe.Bool(pp.BillingThresholds.ResetBillingCycleAnchor),
			}
		}
		for j, it := range pp.Items {
			sp.Items = append(sp.Items, &stripe.SubscriptionSchedulePhaseItemParams{
				Price:    stripe.String(it.Price),
				Quantity: it.Quantity,
			})
			if it.BillingThresholds != nil {
				params.AddExtra(
					fmt.Sprintf("phases[%d][items][%d][billing_thresholds][usage_gte]", i, j),
					strconv.FormatInt(it.BillingThresholds.UsageGTE, 10),
				)
			}
		}
		params.Phases = append(params.Phases, sp)
	}
}

// stripeLogger routes stripe-go's leveled logging into slog.
type stripeLogger struct {
	logger *slog.Logger
}

func (l *stripeLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *stripeLogger) Infof(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *stripeLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *stripeLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "stripe")
}
