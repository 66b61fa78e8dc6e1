package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ScheduleService is the host-facing façade over the remote schedule API.
// It has two variants: DisabledScheduleService, which holds no client and
// fails every call with ErrBillingDisabled, and EnabledScheduleService.
type ScheduleService interface {
	// Enabled reports whether the service talks to a remote provider.
	Enabled() bool
	// RetrieveSchedule fetches a schedule.
	RetrieveSchedule(ctx context.Context, scheduleID string) (*Schedule, error)
	// UpdateSchedule submits a complete phase list.
	UpdateSchedule(ctx context.Context, scheduleID string, phases []PhaseParams) (*Schedule, error)
	// CreateScheduleFromSubscription creates a schedule owning the subscription.
	CreateScheduleFromSubscription(ctx context.Context, subscriptionID string) (*Schedule, error)
	// GetSubscriptionWithSchedule fetches a subscription with its schedule.
	GetSubscriptionWithSchedule(ctx context.Context, subscriptionID string) (*Subscription, error)
	// FindOrCreateSubscriptionSchedule returns the attached schedule or creates one.
	FindOrCreateSubscriptionSchedule(ctx context.Context, sub *Subscription) (*Schedule, error)
	// EditablePhases fetches a schedule and classifies its current and next phases.
	EditablePhases(ctx context.Context, scheduleID string) (*EditablePhases, error)
	// ReplaceEditablePhases applies edit to the current and next phases.
	ReplaceEditablePhases(ctx context.Context, scheduleID string, edit DesiredEdit) (*Schedule, error)
	// Release releases the schedule.
	Release(ctx context.Context, scheduleID string) (*Schedule, error)
}

// EditablePhases is the current/next classification of a live schedule.
type EditablePhases struct {
	Schedule *Schedule `json:"schedule"`
	Current  Phase     `json:"current"`
	Next     *Phase    `json:"next,omitempty"`
}

// NewScheduleService returns the Enabled variant when enabled is true and the
// Disabled variant otherwise. The provider is ignored when disabled.
func NewScheduleService(enabled bool, provider ScheduleProvider, opts ...ServiceOption) (ScheduleService, error) {
	if !enabled {
		return DisabledScheduleService{}, nil
	}
	if provider == nil {
		return nil, errors.New("billing: enabled schedule service requires a provider")
	}
	s := &EnabledScheduleService{
		provider: provider,
		now:      time.Now,
		logger:   slog.Default(),
		tracer:   otel.GetTracerProvider().Tracer("schedulesync.billing"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ServiceOption configures an EnabledScheduleService.
type ServiceOption func(*EnabledScheduleService)

// WithClock overrides the time source used to classify phases.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *EnabledScheduleService) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *EnabledScheduleService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables Prometheus recording.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *EnabledScheduleService) { s.metrics = m }
}

// WithRecorder enables the reconciliation audit log.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *EnabledScheduleService) { s.recorder = r }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *EnabledScheduleService) {
		if t != nil {
			s.tracer = t
		}
	}
}

// ---------- Disabled variant ----------

// DisabledScheduleService fails every operation with ErrBillingDisabled.
type DisabledScheduleService struct{}

func (DisabledScheduleService) Enabled() bool { return false }

func (DisabledScheduleService) RetrieveSchedule(context.Context, string) (*Schedule, error) {
	return nil, ErrBillingDisabled
}

func (DisabledScheduleService) UpdateSchedule(context.Context, string, []PhaseParams) (*Schedule, error) {
	return nil, ErrBillingDisabled
}

func (DisabledScheduleService) CreateScheduleFromSubscription(context.Context, string) (*Schedule, error) {
	return nil, ErrBillingDisabled
}

func (DisabledScheduleService) GetSubscriptionWithSchedule(context.Context, string) (*Subscription, error) {
	return nil, ErrBillingDisabled
}

func (DisabledScheduleService) FindOrCreateSubscriptionSchedule(context.Context, *Subscription) (*Schedule, error) {
	return nil, ErrBillingDisabled
}

func (DisabledScheduleService) EditablePhases(context.Context, string) (*EditablePhases, error) {
	return nil, ErrBillingDisabled
}

func (DisabledScheduleService) ReplaceEditablePhases(context.Context, string, DesiredEdit) (*Schedule, error) {
	return nil, ErrBillingDisabled
}

func (DisabledScheduleService) Release(context.Context, string) (*Schedule, error) {
	return nil, ErrBillingDisabled
}

// ---------- Enabled variant ----------

// EnabledScheduleService talks to a ready ScheduleProvider. Each call is
// request scoped: read, compute, write, with no retries and no locking.
// A concurrent edit between the read and the write is not detected.
type EnabledScheduleService struct {
	provider ScheduleProvider
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	recorder Recorder
}

func (s *EnabledScheduleService) Enabled() bool { return true }

// RetrieveSchedule fetches a schedule.
func (s *EnabledScheduleService) RetrieveSchedule(ctx context.Context, scheduleID string) (*Schedule, error) {
	ctx, span := s.startSpan(ctx, "billing.retrieve_schedule", attribute.String("billing.schedule_id", scheduleID))
	defer span.End()

	live, err := s.retrieve(ctx, scheduleID)
	endSpan(span, err)
	return live, err
}

// UpdateSchedule submits phases unchanged.
func (s *EnabledScheduleService) UpdateSchedule(ctx context.Context, scheduleID string, phases []PhaseParams) (*Schedule, error) {
	ctx, span := s.startSpan(ctx, "billing.update_schedule",
		attribute.String("billing.schedule_id", scheduleID),
		attribute.Int("billing.phase_count", len(phases)),
	)
	defer span.End()

	updated, err := observe(s.metrics, "update", func() (*Schedule, error) {
		return s.provider.Update(ctx, scheduleID, phases)
	})
	endSpan(span, err)
	return updated, err
}

// CreateScheduleFromSubscription creates a schedule from a subscription.
func (s *EnabledScheduleService) CreateScheduleFromSubscription(ctx context.Context, subscriptionID string) (*Schedule, error) {
	ctx, span := s.startSpan(ctx, "billing.create_schedule", attribute.String("billing.subscription_id", subscriptionID))
	defer span.End()

	created, err := observe(s.metrics, "create", func() (*Schedule, error) {
		return s.provider.CreateFromSubscription(ctx, subscriptionID)
	})
	endSpan(span, err)
	if err == nil {
		s.logger.Info("subscription schedule created",
			"subscription_id", subscriptionID,
			"schedule_id", created.ID,
		)
	}
	return created, err
}

// GetSubscriptionWithSchedule fetches a subscription with its schedule expanded.
func (s *EnabledScheduleService) GetSubscriptionWithSchedule(ctx context.Context, subscriptionID string) (*Subscription, error) {
	ctx, span := s.startSpan(ctx, "billing.get_subscription", attribute.String("billing.subscription_id", subscriptionID))
	defer span.End()

	sub, err := observe(s.metrics, "retrieve_subscription", func() (*Subscription, error) {
		return s.provider.RetrieveSubscription(ctx, subscriptionID)
	})
	endSpan(span, err)
	return sub, err
}

// FindOrCreateSubscriptionSchedule returns sub's schedule, creating one from
// the subscription when none is attached.
func (s *EnabledScheduleService) FindOrCreateSubscriptionSchedule(ctx context.Context, sub *Subscription) (*Schedule, error) {
	if sub == nil {
		return nil, errors.New("billing: subscription is required")
	}
	if sub.Schedule != nil {
		return sub.Schedule, nil
	}
	return s.CreateScheduleFromSubscription(ctx, sub.ID)
}

// EditablePhases fetches a schedule and classifies it at the current time.
func (s *EnabledScheduleService) EditablePhases(ctx context.Context, scheduleID string) (*EditablePhases, error) {
	ctx, span := s.startSpan(ctx, "billing.editable_phases", attribute.String("billing.schedule_id", scheduleID))
	defer span.End()

	live, err := s.retrieve(ctx, scheduleID)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	current, next, err := CurrentAndNextPhases(live, s.now())
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	return &EditablePhases{Schedule: live, Current: *current, Next: next}, nil
}

// ReplaceEditablePhases fetches the live schedule, computes the phase list
// for edit and submits it. At most one read and one write reach the provider.
func (s *EnabledScheduleService) ReplaceEditablePhases(ctx context.Context, scheduleID string, edit DesiredEdit) (*Schedule, error) {
	ctx, span := s.startSpan(ctx, "billing.replace_editable_phases", attribute.String("billing.schedule_id", scheduleID))
	defer span.End()

	live, err := s.retrieve(ctx, scheduleID)
	if err != nil {
		s.metrics.RecordReconciliation("retrieve_failed")
		endSpan(span, err)
		return nil, err
	}

	plan, err := BuildEditablePhases(live, edit, s.now())
	if err != nil {
		outcome := "phase_not_found"
		if errors.Is(err, ErrInvalidPhaseWindow) {
			outcome = "invalid_edit"
		}
		s.metrics.RecordReconciliation(outcome)
		endSpan(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("billing.phase_count", len(plan.Phases)),
		attribute.String("billing.next_action", string(plan.NextAction)),
	)

	if len(plan.Phases) == 0 {
		s.metrics.RecordReconciliation("skipped")
		s.audit(ctx, scheduleID, plan, true)
		endSpan(span, nil)
		return live, nil
	}

	updated, err := observe(s.metrics, "update", func() (*Schedule, error) {
		return s.provider.Update(ctx, scheduleID, plan.Phases)
	})
	if err != nil {
		s.metrics.RecordReconciliation("update_failed")
		endSpan(span, err)
		return nil, err
	}

	s.metrics.RecordReconciliation("updated")
	s.audit(ctx, scheduleID, plan, false)
	s.logger.Info("editable phases replaced",
		"schedule_id", scheduleID,
		"phases", len(plan.Phases),
		"next_action", plan.NextAction,
	)
	endSpan(span, nil)
	return updated, nil
}

// Release releases a schedule.
func (s *EnabledScheduleService) Release(ctx context.Context, scheduleID string) (*Schedule, error) {
	ctx, span := s.startSpan(ctx, "billing.release_schedule", attribute.String("billing.schedule_id", scheduleID))
	defer span.End()

	released, err := observe(s.metrics, "release", func() (*Schedule, error) {
		return s.provider.Release(ctx, scheduleID)
	})
	endSpan(span, err)
	if err == nil {
		s.logger.Info("subscription schedule released", "schedule_id", scheduleID)
	}
	return released, err
}

func (s *EnabledScheduleService) retrieve(ctx context.Context, scheduleID string) (*Schedule, error) {
	return observe(s.metrics, "retrieve", func() (*Schedule, error) {
		return s.provider.Retrieve(ctx, scheduleID)
	})
}

func (s *EnabledScheduleService) audit(ctx context.Context, scheduleID string, plan Plan, skipped bool) {
	if s.recorder == nil {
		return
	}
	rec := Reconciliation{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		PhaseCount: len(plan.Phases),
		NextAction: plan.NextAction,
		Skipped:    skipped,
		CreatedAt:  s.now().UTC(),
	}
	// The remote write already happened; a failed audit write is only logged.
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.logger.Warn("failed to record reconciliation", "schedule_id", scheduleID, "error", err)
	}
}

func (s *EnabledScheduleService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// observe times fn and records it against operation. Errors pass through
// untouched.
func observe[T any](m *Metrics, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	m.RecordRemoteCall(operation, err, time.Since(start))
	return v, err
}
