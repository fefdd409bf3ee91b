package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// errNotAttempted marks a compensation the engine could not invoke.
var errNotAttempted = errors.New("compensation not attempted")

// Step is one unit of work with an optional compensating action. Steps are built at
// startup with CreateStep or CreateStepWithCompensation and never change afterwards.
type Step struct {
	name       string
	execute    func(ctx context.Context, rc *RunContext) (any, error)
	compensate func(ctx context.Context, rc *RunContext, value any) error
	// transactional steps only write inside the caller's database transaction.
	transactional bool
}

// CreateStep declares a step without compensation, for reads and naturally idempotent
// actions. Returning an error fails the step; the value is recorded under name.
func CreateStep[T any](name string, execute func(ctx context.Context, rc *RunContext) (T, error)) *Step {
	mustName("step", name)
	if execute == nil {
		panic(fmt.Sprintf("workflow: step %q has no execute func", name))
	}
	return &Step{
		name: name,
		execute: func(ctx context.Context, rc *RunContext) (any, error) {
			return execute(ctx, rc)
		},
	}
}

// CreateStepWithCompensation declares a step whose side effect must be undone when a
// later step fails. compensate receives the value this step returned.
func CreateStepWithCompensation[T any](
	name string,
	execute func(ctx context.Context, rc *RunContext) (T, error),
	compensate func(ctx context.Context, rc *RunContext, result T) error,
) *Step {
	s := CreateStep(name, execute)
	if compensate == nil {
		panic(fmt.Sprintf("workflow: step %q has no compensate func", name))
	}
	s.compensate = func(ctx context.Context, rc *RunContext, value any) error {
		var result T
		if value != nil {
			typed, ok := value.(T)
			if !ok {
				return fmt.Errorf("%w: recorded %T, compensation expects %T", errNotAttempted, value, result)
			}
			result = typed
		}
		return compensate(ctx, rc, result)
	}
	return s
}

// Name is the step's key in the run context.
func (s *Step) Name() string { return s.name }

// Compensable reports whether the step declares a compensation.
func (s *Step) Compensable() bool { return s.compensate != nil }

// Transactional marks a step whose effects live only in the database transaction
// wrapping the run. Runner.Unwind skips its compensation: the rollback already undid
// it. A failed forward run still compensates it like any other step.
func (s *Step) Transactional() *Step {
	s.transactional = true
	return s
}

func (s *Step) names() []string { return []string{s.name} }

func (s *Step) run(ctx context.Context, ex *execution) *ErrorInfo {
	return ex.runStep(ctx, s)
}

func mustName(what, name string) {
	if strings.TrimSpace(name) == "" {
		panic("workflow: " + what + " name is required")
	}
}
