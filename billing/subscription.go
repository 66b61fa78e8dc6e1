package billing

// Subscription is the subset of a remote subscription the schedule service
// needs: identity, status and the schedule attached to it, if any.
type Subscription struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id,omitempty"`
	Status     string    `json:"status"` // active, past_due, canceled, trialing
	Schedule   *Schedule `json:"schedule,omitempty"`
}

// SubscriptionStatus constants for well-known Stripe subscription states.
const (
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusTrialing = "trialing"
)

// Schedule status constants as reported by the remote service.
const (
	ScheduleStatusNotStarted = "not_started"
	ScheduleStatusActive     = "active"
	ScheduleStatusCompleted  = "completed"
	ScheduleStatusReleased   = "released"
	ScheduleStatusCanceled   = "canceled"
)
