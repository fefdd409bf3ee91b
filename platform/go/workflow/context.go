package workflow

import (
	"fmt"
	"sync"
)

// StepResponse is the recorded outcome of one step.
type StepResponse struct {
	OK    bool
	Value any
	Err   *ErrorInfo
}

// RunContext accumulates the responses of completed steps for one run. It is shared by
// reference with every step and compensation of the run, including parallel members.
type RunContext struct {
	mu        sync.RWMutex
	input     any
	responses map[string]StepResponse
	order     []string
}

func newRunContext(input any) *RunContext {
	return &RunContext{input: input, responses: make(map[string]StepResponse)}
}

// Input is the value the run was started with.
func (rc *RunContext) Input() any {
	return rc.input
}

// Get returns the response recorded under step.
func (rc *RunContext) Get(step string) (StepResponse, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	resp, ok := rc.responses[step]
	return resp, ok
}

// Steps lists recorded step names in completion order.
func (rc *RunContext) Steps() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return append([]string(nil), rc.order...)
}

// Len is the number of recorded responses.
func (rc *RunContext) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.order)
}

func (rc *RunContext) record(step string, resp StepResponse) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, ok := rc.responses[step]; !ok {
		rc.order = append(rc.order, step)
	}
	rc.responses[step] = resp
}

// Value returns the typed value recorded by a successful step.
func Value[T any](rc *RunContext, step string) (T, bool) {
	var zero T
	resp, ok := rc.Get(step)
	if !ok || !resp.OK {
		return zero, false
	}
	v, ok := resp.Value.(T)
	return v, ok
}

// MustValue is Value for steps that are guaranteed to have run earlier in the sequence.
// A missing value is a wiring bug; inside a step the panic surfaces as StepPanic.
func MustValue[T any](rc *RunContext, step string) T {
	v, ok := Value[T](rc, step)
	if !ok {
		panic(fmt.Sprintf("workflow: no %T value recorded for step %q", v, step))
	}
	return v
}

// Input returns the run input as T, panicking on a type mismatch.
func Input[T any](rc *RunContext) T {
	v, ok := rc.input.(T)
	if !ok {
		panic(fmt.Sprintf("workflow: run input is %T, not %T", rc.input, v))
	}
	return v
}
