package workflows

// Disbursement lifecycle states.
const (
	StatusOpen      = "open"
	StatusClaimed   = "claimed"
	StatusReclaimed = "reclaimed"
)

// StateMachine enforces disbursement status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates the escrow lifecycle: an open disbursement settles exactly once,
// either to its farmer or back to its donor.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			StatusOpen:      {StatusClaimed, StatusReclaimed},
			StatusClaimed:   {},
			StatusReclaimed: {},
		},
	}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}

// IsTerminal reports whether no transition leaves the status.
func (sm *StateMachine) IsTerminal(status string) bool {
	allowed, exists := sm.allowedTransitions[status]
	return exists && len(allowed) == 0
}
