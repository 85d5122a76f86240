package workflows

// StateMachine enforces status transitions for background job records
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewCorrectionLifecycle returns the state machine for factor-correction
// jobs. Completed jobs are terminal; failed jobs may be re-queued for a
// retry.
func NewCorrectionLifecycle() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[string][]string{
			"pending":   {"running"},
			"running":   {"completed", "failed"},
			"completed": {},
			"failed":    {"pending"},
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

// AllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) AllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}
