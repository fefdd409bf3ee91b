package workflow

// State is the lifecycle position of one workflow run.
//
//	Pending -> Running -> Completed
//	                   -> Compensating -> Compensated
//	                                   -> Failed
//
// Runner.Unwind moves a Completed run to Compensating when the caller could not keep
// its effects.
type State string

const (
	StatePending      State = "pending"
	StateRunning      State = "running"
	StateCompleted    State = "completed"
	StateCompensating State = "compensating"
	StateCompensated  State = "compensated"
	StateFailed       State = "failed"
)

// Terminal reports whether the run stopped. Only Runner.Unwind leaves Completed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCompensated || s == StateFailed
}
