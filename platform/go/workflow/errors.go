package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a step or compensation did not succeed.
type ErrorKind string

const (
	KindStepFailure         ErrorKind = "StepFailure"
	KindStepPanic           ErrorKind = "StepPanic"
	KindTimeout             ErrorKind = "Timeout"
	KindCompensationFailure ErrorKind = "CompensationFailure"
	KindEngineFault         ErrorKind = "EngineFault"
	// KindUnwound is the failure of a completed run its caller discarded.
	KindUnwound ErrorKind = "Unwound"
)

var (
	ErrStepFailure         = errors.New("workflow step failed")
	ErrStepPanic           = errors.New("workflow step panicked")
	ErrTimeout             = errors.New("workflow step timed out")
	ErrCompensationFailure = errors.New("workflow compensation failed")
	// ErrEngineFault marks a run that ended Failed: a compensation could not be attempted.
	ErrEngineFault = errors.New("workflow engine fault")
	ErrUnwound     = errors.New("workflow unwound after completion")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindStepFailure:
		return ErrStepFailure
	case KindStepPanic:
		return ErrStepPanic
	case KindTimeout:
		return ErrTimeout
	case KindCompensationFailure:
		return ErrCompensationFailure
	case KindEngineFault:
		return ErrEngineFault
	case KindUnwound:
		return ErrUnwound
	}
	return nil
}

// ErrorInfo describes a failed step or compensation. It matches its kind's sentinel
// and its cause with errors.Is.
type ErrorInfo struct {
	Kind    ErrorKind
	Step    string
	Message string
	Cause   error
	// Stack is captured for StepPanic only.
	Stack []byte
}

func (e *ErrorInfo) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: step %q: %s", e.Kind, e.Step, e.Message)
}

func (e *ErrorInfo) Unwrap() []error {
	var errs []error
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Fail returns a business failure with a readable message; steps return it to reject
// their input without wrapping another error.
func Fail(format string, args ...any) error {
	return &ErrorInfo{Kind: KindStepFailure, Message: fmt.Sprintf(format, args...)}
}

// classify turns whatever a step returned into the ErrorInfo recorded for it.
func classify(step string, err error) *ErrorInfo {
	var info *ErrorInfo
	if errors.As(err, &info) {
		out := *info
		if out.Step == "" {
			out.Step = step
		}
		if out.Cause == nil && err != error(info) {
			out.Cause = err
		}
		return &out
	}

	kind := KindStepFailure
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &ErrorInfo{Kind: kind, Step: step, Message: err.Error(), Cause: err}
}

// RunError is returned by Result.Err for runs that did not complete.
type RunError struct {
	Workflow             string
	State                State
	Failure              *ErrorInfo
	CompensationFailures []*ErrorInfo
	Faults               []*ErrorInfo
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "workflow %q %s", e.Workflow, e.State)
	if e.Failure != nil {
		fmt.Fprintf(&b, ": %s", e.Failure.Error())
	}
	if n := len(e.CompensationFailures); n > 0 {
		fmt.Fprintf(&b, " (%d compensation failure(s))", n)
	}
	if n := len(e.Faults); n > 0 {
		fmt.Fprintf(&b, " (%d compensation(s) not attempted)", n)
	}
	return b.String()
}

func (e *RunError) Unwrap() []error {
	var errs []error
	if e.Failure != nil {
		errs = append(errs, e.Failure)
	}
	for _, f := range e.CompensationFailures {
		errs = append(errs, f)
	}
	for _, f := range e.Faults {
		errs = append(errs, f)
	}
	return errs
}
