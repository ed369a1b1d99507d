package workflow

// Trigger is an event that moves a batch item between states.
type Trigger string

const (
	TriggerSplit             Trigger = "SPLIT"
	TriggerResolveIdentity   Trigger = "RESOLVE_IDENTITY"
	TriggerResolveAllocation Trigger = "RESOLVE_ALLOCATION"
	TriggerFailAllocation    Trigger = "FAIL_ALLOCATION"
	TriggerManualEntry       Trigger = "MANUAL_ENTRY"
	TriggerStamp             Trigger = "STAMP"
	TriggerArchive           Trigger = "ARCHIVE"
	TriggerFail              Trigger = "FAIL"
)

func (t Trigger) String() string {
	return string(t)
}
