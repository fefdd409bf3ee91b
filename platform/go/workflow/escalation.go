package workflow

import "context"

// Incident is what an operator needs to finish a run the engine could not clean up.
type Incident struct {
	Workflow             string
	RunID                string
	State                State
	Failure              *ErrorInfo
	CompensationFailures []*ErrorInfo
	Faults               []*ErrorInfo
}

// Escalator receives runs with failed or unattempted compensations. The context is the
// run's context detached from its cancellation, so request-scoped values such as the
// tenant are still available.
type Escalator interface {
	Escalate(ctx context.Context, incident Incident) error
}

// EscalatorFunc adapts a function to Escalator.
type EscalatorFunc func(ctx context.Context, incident Incident) error

func (f EscalatorFunc) Escalate(ctx context.Context, incident Incident) error {
	return f(ctx, incident)
}
