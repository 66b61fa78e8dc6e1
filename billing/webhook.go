package billing

import (
	"encoding/json"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ScheduleEvent is a verified webhook event. Schedule is set for
// subscription_schedule.* events only.
type ScheduleEvent struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Schedule *Schedule `json:"schedule,omitempty"`
}

// WebhookVerifier checks Stripe webhook signatures and decodes schedule events.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier creates a verifier for the endpoint signing secret.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Verify validates the Stripe-Signature header against payload and decodes
// the event.
func (v *WebhookVerifier) Verify(payload []byte, signature string) (*ScheduleEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("billing: webhook signature verification failed: %w", err)
	}

	out := &ScheduleEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "subscription_schedule.") {
		return out, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("billing: %s event %s has no data", out.Type, event.ID)
	}

	var ss stripe.SubscriptionSchedule
	if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
		return nil, fmt.Errorf("billing: parse %s event: %w", out.Type, err)
	}
	out.Schedule = scheduleFromStripe(&ss)
	applyItemThresholds(out.Schedule, event.Data.Raw)
	return out, nil
}
