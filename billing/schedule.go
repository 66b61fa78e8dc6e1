package billing

import (
	"encoding/json"
	"fmt"
)

// ProrationNone is the only proration behavior this package submits.
const ProrationNone = "none"

// Schedule is a subscription schedule as fetched from the remote service.
// Timestamps are Unix seconds; zero means the remote service left the field unset.
type Schedule struct {
	ID             string       `json:"id"`
	SubscriptionID string       `json:"subscription_id,omitempty"`
	Status         string       `json:"status,omitempty"`
	CurrentPhase   *PhaseWindow `json:"current_phase,omitempty"`
	Phases         []Phase      `json:"phases"`
}

// PhaseWindow is the remote service's own view of the active phase bounds.
type PhaseWindow struct {
	StartDate int64 `json:"start_date"`
	EndDate   int64 `json:"end_date"`
}

// Phase is one time-bounded segment of a schedule. The interval is
// [StartDate, EndDate); EndDate == 0 leaves the phase open ended.
type Phase struct {
	StartDate         int64              `json:"start_date,omitempty"`
	EndDate           int64              `json:"end_date,omitempty"`
	Items             []PhaseItem        `json:"items"`
	ProrationBehavior string             `json:"proration_behavior,omitempty"`
	BillingThresholds *BillingThresholds `json:"billing_thresholds,omitempty"`
}

// Contains reports whether t (Unix seconds) falls inside the phase interval.
func (p Phase) Contains(t int64) bool {
	if p.StartDate > t {
		return false
	}
	return p.EndDate == 0 || t < p.EndDate
}

// PhaseItem is a billed unit inside a phase.
type PhaseItem struct {
	Price             PriceRef               `json:"price"`
	Quantity          *int64                 `json:"quantity,omitempty"`
	BillingThresholds *ItemBillingThresholds `json:"billing_thresholds,omitempty"`
}

// BillingThresholds triggers an invoice once the amount due reaches AmountGTE.
type BillingThresholds struct {
	AmountGTE               int64 `json:"amount_gte,omitempty"`
	ResetBillingCycleAnchor bool  `json:"reset_billing_cycle_anchor,omitempty"`
}

// ItemBillingThresholds triggers an invoice once item usage reaches UsageGTE.
type ItemBillingThresholds struct {
	UsageGTE int64 `json:"usage_gte"`
}

// PriceRef references a price either by id or as an expanded object. The
// remote API returns one or the other depending on the expand parameters of
// the request.
type PriceRef struct {
	ID        string `json:"id"`
	Product   string `json:"product,omitempty"`
	LookupKey string `json:"lookup_key,omitempty"`
}

// Canonical returns the identifier form used in update requests.
func (r PriceRef) Canonical() string { return r.ID }

// UnmarshalJSON accepts a bare price id or an expanded price object.
func (r *PriceRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*r = PriceRef{ID: id}
		return nil
	}
	type expanded PriceRef
	var e expanded
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("billing: decode price: %w", err)
	}
	*r = PriceRef(e)
	return nil
}

// PhaseParams describes a phase in an update request.
type PhaseParams struct {
	StartDate         *int64             `json:"start_date,omitempty"`
	EndDate           *int64             `json:"end_date,omitempty"`
	Items             []PhaseItemParams  `json:"items" validate:"dive"`
	ProrationBehavior string             `json:"proration_behavior,omitempty"`
	BillingThresholds *BillingThresholds `json:"billing_thresholds,omitempty"`
}

// PhaseItemParams describes a phase item in an update request.
type PhaseItemParams struct {
	Price             string                 `json:"price" validate:"required"`
	Quantity          *int64                 `json:"quantity,omitempty" validate:"omitempty,gte=0"`
	BillingThresholds *ItemBillingThresholds `json:"billing_thresholds,omitempty"`
}

// Phase converts the request shape back into the live shape, as the remote
// service would store it.
func (pp PhaseParams) Phase() Phase {
	p := Phase{
		ProrationBehavior: pp.ProrationBehavior,
		BillingThresholds: cloneThresholds(pp.BillingThresholds),
	}
	if pp.StartDate != nil {
		p.StartDate = *pp.StartDate
	}
	if pp.EndDate != nil {
		p.EndDate = *pp.EndDate
	}
	p.Items = make([]PhaseItem, 0, len(pp.Items))
	for _, it := range pp.Items {
		p.Items = append(p.Items, PhaseItem{
			Price:             PriceRef{ID: it.Price},
			Quantity:          cloneInt64(it.Quantity),
			BillingThresholds: cloneItemThresholds(it.BillingThresholds),
		})
	}
	return p
}

// Clone returns a deep copy so callers can adjust dates without touching
// the caller-owned request.
func (pp PhaseParams) Clone() PhaseParams {
	out := PhaseParams{
		StartDate:         cloneInt64(pp.StartDate),
		EndDate:           cloneInt64(pp.EndDate),
		ProrationBehavior: pp.ProrationBehavior,
		BillingThresholds: cloneThresholds(pp.BillingThresholds),
	}
	if pp.Items != nil {
		out.Items = make([]PhaseItemParams, len(pp.Items))
		for i, it := range pp.Items {
			out.Items[i] = PhaseItemParams{
				Price:             it.Price,
				Quantity:          cloneInt64(it.Quantity),
				BillingThresholds: cloneItemThresholds(it.BillingThresholds),
			}
		}
	}
	return out
}

// DesiredEdit is a partial edit of a schedule's editable phases.
//
// CurrentPhase, when non-nil, replaces the item and threshold content of the
// current phase. NextPhase follows presence-or-absence semantics: Absent keeps
// the existing future phase, Null (or a value without items) removes it, and a
// value with items creates or replaces it.
type DesiredEdit struct {
	CurrentPhase *PhaseParams       `json:"currentPhaseUpdateParam,omitempty"`
	NextPhase    Field[PhaseParams] `json:"nextPhase,omitzero"`
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneThresholds(t *BillingThresholds) *BillingThresholds {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneItemThresholds(t *ItemBillingThresholds) *ItemBillingThresholds {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
