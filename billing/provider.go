package billing

import (
	"context"
	"fmt"
	"sync"
)

// ScheduleProvider abstracts the remote subscription-schedule service.
type ScheduleProvider interface {
	// Retrieve fetches a schedule by id.
	Retrieve(ctx context.Context, scheduleID string) (*Schedule, error)
	// Update replaces the phase list of a schedule and returns the result.
	Update(ctx context.Context, scheduleID string, phases []PhaseParams) (*Schedule, error)
	// CreateFromSubscription creates a schedule that takes over the
	// subscription's current billing configuration.
	CreateFromSubscription(ctx context.Context, subscriptionID string) (*Schedule, error)
	// Release detaches the schedule, leaving the subscription in place.
	Release(ctx context.Context, scheduleID string) (*Schedule, error)
	// RetrieveSubscription fetches a subscription with its schedule attached.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// ---------- Mock implementation ----------

// MockScheduleProvider is a test double that keeps schedules in memory,
// records calls, and returns configurable errors.
type MockScheduleProvider struct {
	mu sync.Mutex

	// Schedules maps scheduleID -> schedule.
	Schedules map[string]*Schedule
	// Subscriptions maps subscriptionID -> subscription.
	Subscriptions map[string]*Subscription
	// Calls lists every method invocation as "<method>:<id>".
	Calls []string
	// Updates collects the phase lists passed to Update.
	Updates []UpdateCall

	// Error fields allow tests to inject failures.
	RetrieveErr             error
	UpdateErr               error
	CreateErr               error
	ReleaseErr              error
	RetrieveSubscriptionErr error

	nextScheduleSeq int
}

// UpdateCall records a single Update invocation.
type UpdateCall struct {
	ScheduleID string
	Phases     []PhaseParams
}

// NewMockScheduleProvider creates a MockScheduleProvider ready for use.
func NewMockScheduleProvider() *MockScheduleProvider {
	return &MockScheduleProvider{
		Schedules:     make(map[string]*Schedule),
		Subscriptions: make(map[string]*Subscription),
	}
}

// AddSchedule stores s, linking it to its subscription when one is known.
func (m *MockScheduleProvider) AddSchedule(s *Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Schedules[s.ID] = cloneSchedule(s)
	if sub, ok := m.Subscriptions[s.SubscriptionID]; ok {
		sub.Schedule = cloneSchedule(s)
	}
}

// AddSubscription stores sub.
func (m *MockScheduleProvider) AddSubscription(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *sub
	c.Schedule = cloneSchedule(sub.Schedule)
	m.Subscriptions[sub.ID] = &c
}

// CallCount returns the number of recorded calls.
func (m *MockScheduleProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Retrieve returns a copy of the stored schedule.
func (m *MockScheduleProvider) Retrieve(_ context.Context, scheduleID string) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "retrieve:"+scheduleID)

	if m.RetrieveErr != nil {
		return nil, m.RetrieveErr
	}
	s, ok := m.Schedules[scheduleID]
	if !ok {
		return nil, fmt.Errorf("billing: schedule %s not found", scheduleID)
	}
	return cloneSchedule(s), nil
}

// Update stores the phases as the schedule's new phase list.
func (m *MockScheduleProvider) Update(_ context.Context, scheduleID string, phases []PhaseParams) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "update:"+scheduleID)

	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	s, ok := m.Schedules[scheduleID]
	if !ok {
		return nil, fmt.Errorf("billing: schedule %s not found", scheduleID)
	}

	recorded := make([]PhaseParams, len(phases))
	s.Phases = make([]Phase, len(phases))
	for i, pp := range phases {
		recorded[i] = pp.Clone()
		s.Phases[i] = pp.Phase()
	}
	m.Updates = append(m.Updates, UpdateCall{ScheduleID: scheduleID, Phases: recorded})
	return cloneSchedule(s), nil
}

// CreateFromSubscription creates a schedule with a single open phase.
func (m *MockScheduleProvider) CreateFromSubscription(_ context.Context, subscriptionID string) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "create:"+subscriptionID)

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	sub, ok := m.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("billing: unknown subscription %s", subscriptionID)
	}
	if sub.Schedule != nil {
		return nil, fmt.Errorf("billing: subscription %s already has schedule %s", subscriptionID, sub.Schedule.ID)
	}

	m.nextScheduleSeq++
	s := &Schedule{
		ID:             fmt.Sprintf("sub_sched_mock_%d", m.nextScheduleSeq),
		SubscriptionID: subscriptionID,
		Status:         ScheduleStatusActive,
		Phases:         []Phase{{Items: []PhaseItem{}}},
	}
	m.Schedules[s.ID] = s
	sub.Schedule = cloneSchedule(s)
	return cloneSchedule(s), nil
}

// Release marks the schedule released and detaches it from its subscription.
func (m *MockScheduleProvider) Release(_ context.Context, scheduleID string) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "release:"+scheduleID)

	if m.ReleaseErr != nil {
		return nil, m.ReleaseErr
	}
	s, ok := m.Schedules[scheduleID]
	if !ok {
		return nil, fmt.Errorf("billing: schedule %s not found", scheduleID)
	}
	s.Status = ScheduleStatusReleased
	if sub, ok := m.Subscriptions[s.SubscriptionID]; ok {
		sub.Schedule = nil
	}
	return cloneSchedule(s), nil
}

// RetrieveSubscription returns a copy of the stored subscription.
func (m *MockScheduleProvider) RetrieveSubscription(_ context.Context, subscriptionID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "retrieve_subscription:"+subscriptionID)

	if m.RetrieveSubscriptionErr != nil {
		return nil, m.RetrieveSubscriptionErr
	}
	sub, ok := m.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("billing: subscription %s not found", subscriptionID)
	}
	c := *sub
	c.Schedule = cloneSchedule(sub.Schedule)
	return &c, nil
}

func cloneSchedule(s *Schedule) *Schedule {
	if s == nil {
		return nil
	}
	c := *s
	if s.CurrentPhase != nil {
		w := *s.CurrentPhase
		c.CurrentPhase = &w
	}
	c.Phases = make([]Phase, len(s.Phases))
	for i, p := range s.Phases {
		c.Phases[i] = clonePhase(p)
	}
	return &c
}

func clonePhase(p Phase) Phase {
	c := p
	c.BillingThresholds = cloneThresholds(p.BillingThresholds)
	c.Items = make([]PhaseItem, len(p.Items))
	for i, it := range p.Items {
		c.Items[i] = PhaseItem{
			Price:             it.Price,
			Quantity:          cloneInt64(it.Quantity),
			BillingThresholds: cloneItemThresholds(it.BillingThresholds),
		}
	}
	return c
}
