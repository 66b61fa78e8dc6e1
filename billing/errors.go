package billing

// ErrBillingDisabled is returned by every ScheduleService operation when the
// billing integration is switched off. No remote call is made.
var ErrBillingDisabled = billingError("billing is disabled")

// ErrPhaseNotFound is returned when no phase of a schedule contains the
// current time, so there is nothing to edit.
var ErrPhaseNotFound = billingError("subscription must have at least 1 phase to be editable")

// ErrInvalidPhaseWindow is returned when the requested next phase would end at
// or before the start it is placed at.
var ErrInvalidPhaseWindow = billingError("next phase must end after its start")

type billingError string

func (e billingError) Error() string { return string(e) }
