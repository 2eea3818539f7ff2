package uow

// State is the transaction lifecycle state of a unit of work.
// Allowed transitions: Idle -> Active -> Committing -> Committed,
// Active -> RolledBack, Committing -> RolledBack (failed commit).
// Reset returns any terminal state to Idle.
type State int

const (
	StateIdle State = iota
	StateActive
	StateCommitting
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}
