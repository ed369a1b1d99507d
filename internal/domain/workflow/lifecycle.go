package workflow

// NewItemStateMachine returns a machine for the batch item lifecycle
// positioned at initial.
func NewItemStateMachine(initial State) StateMachine {
	b := NewBuilder()

	b.Configure(StateUploaded).
		Permit(TriggerSplit, StateSplit).
		Permit(TriggerResolveIdentity, StateIdentityResolved).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateIdentityResolved).
		Permit(TriggerResolveIdentity, StateIdentityResolved).
		Permit(TriggerResolveAllocation, StateAllocationResolved).
		Permit(TriggerManualEntry, StateAllocationResolved).
		Permit(TriggerFailAllocation, StateAllocationFailed).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateAllocationFailed).
		Permit(TriggerResolveAllocation, StateAllocationResolved).
		Permit(TriggerManualEntry, StateAllocationResolved).
		Permit(TriggerFailAllocation, StateAllocationFailed).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateAllocationResolved).
		Permit(TriggerResolveAllocation, StateAllocationResolved).
		Permit(TriggerManualEntry, StateAllocationResolved).
		Permit(TriggerStamp, StateStamped).
		Permit(TriggerFail, StateFailed)

	// Stamping again replaces the previous stamp.
	b.Configure(StateStamped).
		Permit(TriggerStamp, StateStamped).
		Permit(TriggerManualEntry, StateAllocationResolved).
		Permit(TriggerResolveAllocation, StateAllocationResolved).
		Permit(TriggerArchive, StateArchived).
		Permit(TriggerFail, StateFailed)

	return b.Build(initial)
}
