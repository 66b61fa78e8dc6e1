package billing

import (
	"fmt"
	"time"
)

// NextAction describes what a reconciliation does to the future phase.
type NextAction string

const (
	NextKept     NextAction = "kept"     // existing future phase carried forward
	NextReplaced NextAction = "replaced" // future phase created or replaced
	NextRemoved  NextAction = "removed"  // future phase explicitly dropped
	NextNone     NextAction = "none"     // no future phase before or after
)

// Plan is the phase list computed for a schedule edit.
type Plan struct {
	Phases     []PhaseParams `json:"phases"`
	NextAction NextAction    `json:"next_action"`
}

// CurrentAndNextPhases classifies the phases of s at now. The current phase
// is the one whose [start, end) interval contains now; an absent start counts
// as 0 and an absent end as unbounded. The next phase is the one with the
// smallest start strictly after now, earliest in schedule order on ties, or
// nil when there is none.
func CurrentAndNextPhases(s *Schedule, now time.Time) (current, next *Phase, err error) {
	ts := now.Unix()
	for i := range s.Phases {
		if s.Phases[i].Contains(ts) {
			current = &s.Phases[i]
			break
		}
	}
	if current == nil {
		return nil, nil, fmt.Errorf("schedule %s: %w", s.ID, ErrPhaseNotFound)
	}

	for i := range s.Phases {
		p := &s.Phases[i]
		if p.StartDate <= ts {
			continue
		}
		if next == nil || p.StartDate < next.StartDate {
			next = p
		}
	}
	return current, next, nil
}

// SnapshotPhase returns update params that reproduce p as-is: same dates,
// same items with prices in id form, proration "none", thresholds only when
// the live phase has them.
func SnapshotPhase(p Phase) PhaseParams {
	pp := PhaseParams{
		ProrationBehavior: ProrationNone,
		BillingThresholds: cloneThresholds(p.BillingThresholds),
		Items:             make([]PhaseItemParams, 0, len(p.Items)),
	}
	if p.StartDate != 0 {
		start := p.StartDate
		pp.StartDate = &start
	}
	if p.EndDate != 0 {
		end := p.EndDate
		pp.EndDate = &end
	}
	for _, it := range p.Items {
		pp.Items = append(pp.Items, PhaseItemParams{
			Price:             it.Price.Canonical(),
			Quantity:          cloneInt64(it.Quantity),
			BillingThresholds: cloneItemThresholds(it.BillingThresholds),
		})
	}
	return pp
}

// ComputeBaseStart returns the earliest start a new future phase may take:
// the latest of the current entry's end, the live schedule's current phase
// end, the existing next phase's start and now+1. Absent inputs count as 0.
func ComputeBaseStart(current, next *PhaseParams, live *Schedule, now time.Time) int64 {
	base := now.Unix() + 1
	if current != nil && current.EndDate != nil {
		base = max(base, *current.EndDate)
	}
	if live != nil && live.CurrentPhase != nil {
		base = max(base, live.CurrentPhase.EndDate)
	}
	if next != nil && next.StartDate != nil {
		base = max(base, *next.StartDate)
	}
	return base
}

// BuildEditablePhases computes the phase list to submit for edit against the
// live schedule. Only the current and next phases are emitted; the current
// phase is always present so it is never dropped by the update.
func BuildEditablePhases(live *Schedule, edit DesiredEdit, now time.Time) (Plan, error) {
	current, next, err := CurrentAndNextPhases(live, now)
	if err != nil {
		return Plan{}, err
	}

	var currentEntry PhaseParams
	if edit.CurrentPhase != nil {
		currentEntry = edit.CurrentPhase.Clone()
		// Dates of the current phase always come from the live schedule.
		currentEntry.StartDate, currentEntry.EndDate = nil, nil
		if current.StartDate != 0 {
			start := current.StartDate
			currentEntry.StartDate = &start
		}
		if current.EndDate != 0 {
			end := current.EndDate
			currentEntry.EndDate = &end
		}
		currentEntry.ProrationBehavior = ProrationNone
	} else {
		currentEntry = SnapshotPhase(*current)
	}

	var nextSnapshot *PhaseParams
	if next != nil {
		s := SnapshotPhase(*next)
		nextSnapshot = &s
	}

	plan := Plan{Phases: []PhaseParams{currentEntry}}

	desired, set := edit.NextPhase.Get()
	switch {
	case set && len(desired.Items) > 0:
		entry := desired.Clone()
		start := ComputeBaseStart(&currentEntry, nextSnapshot, live, now)
		entry.StartDate = &start
		if entry.EndDate != nil && *entry.EndDate <= start {
			return Plan{}, fmt.Errorf("%w: end %d, start %d", ErrInvalidPhaseWindow, *entry.EndDate, start)
		}
		entry.ProrationBehavior = ProrationNone
		plan.Phases = append(plan.Phases, entry)
		plan.NextAction = NextReplaced
	case !edit.NextPhase.IsAbsent():
		plan.NextAction = NextRemoved
	case nextSnapshot != nil:
		plan.Phases = append(plan.Phases, *nextSnapshot)
		plan.NextAction = NextKept
	default:
		plan.NextAction = NextNone
	}
	return plan, nil
}
