package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
)

const tracerName = "github.com/zenGate-Global/palmyra-commerce/platform/go/workflow"

// Runner executes workflow definitions. One Runner is shared by all workflows of a
// process; it keeps no per-run state.
type Runner struct {
	logger    *zap.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	escalator Escalator
}

type Option func(*Runner)

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) { r.tracer = tp.Tracer(tracerName) }
}

func WithEscalator(e Escalator) Option {
	return func(r *Runner) { r.escalator = e }
}

// NewRunner builds a Runner. The logger is the fallback when the run context carries none.
func NewRunner(logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{logger: logger, tracer: otel.GetTracerProvider().Tracer(tracerName)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is the outcome of one run. Context holds every response recorded before the
// run ended, so callers can read step values even after a failure.
type Result struct {
	Workflow             string
	RunID                string
	State                State
	Context              *RunContext
	Failure              *ErrorInfo
	CompensationFailures []*ErrorInfo
	// Faults are compensations that could not be attempted. Any fault makes the run Failed.
	Faults []*ErrorInfo
	// Compensated lists the steps whose compensation succeeded, in the order they ran.
	Compensated []string
	Transitions []State

	// ex is kept for completed runs so Unwind can sweep their journal.
	ex *execution
}

// Err is nil for completed runs and a *RunError otherwise.
func (r *Result) Err() error {
	if r.State == StateCompleted {
		return nil
	}
	return &RunError{
		Workflow:             r.Workflow,
		State:                r.State,
		Failure:              r.Failure,
		CompensationFailures: r.CompensationFailures,
		Faults:               r.Faults,
	}
}

// NeedsEscalation reports whether an operator has to finish the cleanup by hand.
func (r *Result) NeedsEscalation() bool {
	return len(r.CompensationFailures) > 0 || len(r.Faults) > 0
}

// Run executes wf with input and always returns a Result. Steps run in declaration
// order; the first failure stops forward progress and compensates every completed
// step in reverse completion order.
func (r *Runner) Run(ctx context.Context, wf *Workflow, input any) *Result {
	runID := uuid.NewString()
	logger := logging.FromContextOr(ctx, r.logger).With(zap.String("workflow", wf.name), zap.String("workflow_run_id", runID))

	ctx, span := r.tracer.Start(ctx, "workflow "+wf.name, trace.WithAttributes(
		attribute.String("workflow.name", wf.name),
		attribute.String("workflow.run_id", runID),
	))
	defer span.End()

	state := &runState{current: StatePending, transitions: []State{StatePending}}
	ex := &execution{
		runner:   r,
		workflow: wf.name,
		logger:   logger,
		rc:       newRunContext(input),
		journal:  &journal{},
		state:    state,
	}

	start := time.Now()
	state.transition(StateRunning)
	logger.Debug("workflow started")

	failure := wf.run(ctx, ex)
	if failure == nil {
		state.transition(StateCompleted)
	} else {
		ex.compensate(ctx, ex.journal)
		state.settle()
	}

	res := state.result()
	res.Workflow = wf.name
	res.RunID = runID
	res.Context = ex.rc
	res.Failure = failure
	if failure == nil {
		res.ex = ex
	}

	r.metrics.observeRun(wf.name, res.State, time.Since(start))
	span.SetAttributes(attribute.String("workflow.state", string(res.State)))
	if failure != nil {
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Error())
	}
	r.report(ctx, logger, res)
	return res
}

// Unwind compensates a completed run whose effects the caller could not keep, such as
// a run whose database transaction failed to commit. Steps marked Transactional are
// skipped. cause becomes the run's failure, and compensation failures escalate the
// same way they do for Run. A run that did not complete, or was already unwound, is
// returned unchanged.
func (r *Runner) Unwind(ctx context.Context, res *Result, cause error) *Result {
	if res == nil || res.State != StateCompleted || res.ex == nil {
		return res
	}
	ex := res.ex
	res.ex = nil
	ex.unwinding = true

	ctx, span := r.tracer.Start(ctx, "unwind "+res.Workflow, trace.WithAttributes(
		attribute.String("workflow.name", res.Workflow),
		attribute.String("workflow.run_id", res.RunID),
	))
	defer span.End()

	msg := "completed run discarded"
	if cause != nil {
		msg = cause.Error()
	}
	failure := &ErrorInfo{Kind: KindUnwound, Message: msg, Cause: cause}
	ex.logger.Warn("unwinding completed workflow", zap.String("reason", msg))

	ex.compensate(ctx, ex.journal)
	ex.state.settle()

	out := ex.state.result()
	out.Workflow = res.Workflow
	out.RunID = res.RunID
	out.Context = ex.rc
	out.Failure = failure

	span.SetAttributes(attribute.String("workflow.state", string(out.State)))
	span.RecordError(failure)
	span.SetStatus(codes.Error, failure.Message)
	r.report(ctx, ex.logger, out)
	return out
}

func (r *Runner) report(ctx context.Context, logger *zap.Logger, res *Result) {
	switch res.State {
	case StateCompleted:
		logger.Info("workflow completed", zap.Int("steps", res.Context.Len()))
		return
	case StateCompensated:
		if !res.NeedsEscalation() {
			logger.Info("workflow compensated",
				zap.String("failed_step", res.Failure.Step),
				zap.String("error_kind", string(res.Failure.Kind)),
				zap.Strings("compensated", res.Compensated),
			)
			return
		}
	}

	logger.Error("workflow requires operator follow-up",
		zap.Bool("escalation", true),
		zap.String("state", string(res.State)),
		zap.String("failed_step", res.Failure.Step),
		zap.Int("compensation_failures", len(res.CompensationFailures)),
		zap.Int("faults", len(res.Faults)),
		zap.Strings("compensated", res.Compensated),
	)
	if r.escalator == nil {
		return
	}
	incident := Incident{
		Workflow:             res.Workflow,
		RunID:                res.RunID,
		State:                res.State,
		Failure:              res.Failure,
		CompensationFailures: res.CompensationFailures,
		Faults:               res.Faults,
	}
	if err := r.escalator.Escalate(context.WithoutCancel(ctx), incident); err != nil {
		logger.Error("escalation delivery failed", zap.Error(err))
	}
}

// runState is shared by all forks of one run.
type runState struct {
	mu           sync.Mutex
	current      State
	transitions  []State
	compensated  []string
	compFailures []*ErrorInfo
	faults       []*ErrorInfo
}

var allowed = map[State][]State{
	StatePending:      {StateRunning},
	StateRunning:      {StateCompleted, StateCompensating},
	StateCompleted:    {StateCompensating},
	StateCompensating: {StateCompensated, StateFailed},
}

func (s *runState) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, next := range allowed[s.current] {
		if next == to {
			s.current = to
			s.transitions = append(s.transitions, to)
			return
		}
	}
}

// settle ends a run that failed forward.
func (s *runState) settle() {
	s.transition(StateCompensating)
	s.mu.Lock()
	faulted := len(s.faults) > 0
	s.mu.Unlock()
	if faulted {
		s.transition(StateFailed)
		return
	}
	s.transition(StateCompensated)
}

func (s *runState) result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Result{
		State:                s.current,
		Transitions:          append([]State(nil), s.transitions...),
		Compensated:          append([]string(nil), s.compensated...),
		CompensationFailures: append([]*ErrorInfo(nil), s.compFailures...),
		Faults:               append([]*ErrorInfo(nil), s.faults...),
	}
}

type execution struct {
	runner   *Runner
	workflow string
	logger   *zap.Logger
	rc       *RunContext
	journal  *journal
	state    *runState
	// unwinding skips transactional steps during the sweep.
	unwinding bool
}

// fork gives a parallel member its own journal over the shared run context.
func (ex *execution) fork(j *journal) *execution {
	c := *ex
	c.journal = j
	return &c
}

func (ex *execution) runStep(ctx context.Context, s *Step) *ErrorInfo {
	ctx, span := ex.runner.tracer.Start(ctx, "step "+s.name, trace.WithAttributes(
		attribute.String("workflow.name", ex.workflow),
		attribute.String("workflow.step", s.name),
	))
	defer span.End()

	start := time.Now()
	resp := ex.invoke(ctx, s)
	elapsed := time.Since(start)

	if resp.OK {
		ex.runner.metrics.observeStep(ex.workflow, s.name, "ok", elapsed)
		ex.rc.record(s.name, resp)
		ex.journal.push(entry{step: s, value: resp.Value})
		ex.logger.Debug("step completed", zap.String("step", s.name), zap.Duration("elapsed", elapsed))
		return nil
	}

	ex.runner.metrics.observeStep(ex.workflow, s.name, string(resp.Err.Kind), elapsed)
	span.RecordError(resp.Err)
	span.SetStatus(codes.Error, resp.Err.Message)
	ex.logFailure(resp.Err)
	return resp.Err
}

func (ex *execution) invoke(ctx context.Context, s *Step) (resp StepResponse) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = StepResponse{Err: panicInfo(s.name, rec)}
		}
	}()
	value, err := s.execute(ctx, ex.rc)
	if err != nil {
		return StepResponse{Err: classify(s.name, err)}
	}
	return StepResponse{OK: true, Value: value}
}

func (ex *execution) logFailure(info *ErrorInfo) {
	fields := []zap.Field{
		zap.String("step", info.Step),
		zap.String("error_kind", string(info.Kind)),
		zap.String("error", info.Message),
	}
	if info.Kind == KindStepPanic {
		ex.logger.Error("step panicked", append(fields, zap.ByteString("stack", info.Stack))...)
		return
	}
	ex.logger.Warn("step failed", fields...)
}

// compensate sweeps j in reverse completion order. It never stops early: a failed
// compensation is recorded and the sweep moves on.
func (ex *execution) compensate(ctx context.Context, j *journal) {
	ex.state.transition(StateCompensating)
	ctx = context.WithoutCancel(ctx)

	entries := j.drain()
	defer func() {
		if rec := recover(); rec != nil {
			fault := &ErrorInfo{Kind: KindEngineFault, Message: fmt.Sprintf("compensation sweep aborted: %v", rec)}
			ex.state.mu.Lock()
			ex.state.faults = append(ex.state.faults, fault)
			ex.state.mu.Unlock()
			ex.logger.Error("compensation sweep aborted", zap.Any("panic", rec))
		}
	}()

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].step.compensate == nil || (ex.unwinding && entries[i].step.transactional) {
			continue
		}
		ex.compensateStep(ctx, entries[i])
	}
}

func (ex *execution) compensateStep(ctx context.Context, e entry) {
	name := e.step.name
	ctx, span := ex.runner.tracer.Start(ctx, "compensate "+name, trace.WithAttributes(
		attribute.String("workflow.name", ex.workflow),
		attribute.String("workflow.step", name),
	))
	defer span.End()

	err := ex.invokeCompensation(ctx, e)
	ex.state.mu.Lock()
	defer ex.state.mu.Unlock()

	switch {
	case err == nil:
		ex.state.compensated = append(ex.state.compensated, name)
		ex.logger.Info("step compensated", zap.String("step", name))
	case errors.Is(err, errNotAttempted):
		fault := &ErrorInfo{Kind: KindEngineFault, Step: name, Message: err.Error(), Cause: err}
		ex.state.faults = append(ex.state.faults, fault)
		ex.runner.metrics.compensationFailed(ex.workflow, name)
		span.RecordError(fault)
		span.SetStatus(codes.Error, fault.Message)
		ex.logger.Error("compensation not attempted", zap.String("step", name), zap.Error(err))
	default:
		failure := &ErrorInfo{Kind: KindCompensationFailure, Step: name, Message: err.Error(), Cause: err}
		ex.state.compFailures = append(ex.state.compFailures, failure)
		ex.runner.metrics.compensationFailed(ex.workflow, name)
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Message)
		ex.logger.Error("compensation failed", zap.String("step", name), zap.Error(err))
	}
}

func (ex *execution) invokeCompensation(ctx context.Context, e entry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("compensation panicked: %v", rec)
		}
	}()
	return e.step.compensate(ctx, ex.rc, e.value)
}
