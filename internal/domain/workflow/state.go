package workflow

// State is a stage of a batch item in the intake lifecycle.
type State string

const (
	StateUploaded           State = "UPLOADED"
	StateSplit              State = "SPLIT"
	StateIdentityResolved   State = "IDENTITY_RESOLVED"
	StateAllocationResolved State = "ALLOCATION_RESOLVED"
	StateAllocationFailed   State = "ALLOCATION_FAILED"
	StateStamped            State = "STAMPED"
	StateArchived           State = "ARCHIVED"
	StateFailed             State = "FAILED"
)

var validStates = map[State]bool{
	StateUploaded:           true,
	StateSplit:              true,
	StateIdentityResolved:   true,
	StateAllocationResolved: true,
	StateAllocationFailed:   true,
	StateStamped:            true,
	StateArchived:           true,
	StateFailed:             true,
}

// A split parent is terminal: its children carry the work forward.
var terminalStates = map[State]bool{
	StateSplit:    true,
	StateArchived: true,
	StateFailed:   true,
}

// IsTerminal returns true if no further transitions are allowed.
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known lifecycle state.
func (s State) IsValid() bool {
	return validStates[s]
}
