package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// recorder collects the order in which side effects and their undo actions ran.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func compensated(rec *recorder, name string) *Step {
	return CreateStepWithCompensation(name,
		func(ctx context.Context, rc *RunContext) (string, error) {
			rec.add("do:" + name)
			return name + "-result", nil
		},
		func(ctx context.Context, rc *RunContext, result string) error {
			rec.add("undo:" + result)
			return nil
		},
	)
}

func failing(name string, err error) *Step {
	return CreateStep(name, func(ctx context.Context, rc *RunContext) (struct{}, error) {
		return struct{}{}, err
	})
}

func TestRunCompletesInOrder(t *testing.T) {
	rec := &recorder{}
	wf := CreateWorkflow("checkout",
		compensated(rec, "a"),
		compensated(rec, "b"),
		CreateStep("c", func(ctx context.Context, rc *RunContext) (int, error) {
			rec.add("do:c")
			return len(MustValue[string](rc, "a")), nil
		}),
	)

	res := NewRunner(zap.NewNop()).Run(context.Background(), wf, "input")

	require.Equal(t, StateCompleted, res.State)
	require.NoError(t, res.Err())
	require.Equal(t, []string{"do:a", "do:b", "do:c"}, rec.list())
	require.Equal(t, []string{"a", "b", "c"}, res.Context.Steps())
	require.Equal(t, []State{StatePending, StateRunning, StateCompleted}, res.Transitions)
	require.Equal(t, len("a-result"), MustValue[int](res.Context, "c"))
	require.Equal(t, "input", res.Context.Input())
	require.NotEmpty(t, res.RunID)
	require.Empty(t, res.Compensated)
}

func TestLateFailureCompensatesInReverse(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("card declined")
	wf := CreateWorkflow("checkout",
		compensated(rec, "a"),
		CreateStep("read", func(ctx context.Context, rc *RunContext) (int, error) { return 1, nil }),
		compensated(rec, "b"),
		failing("c", boom),
		compensated(rec, "never"),
	)

	res := NewRunner(zap.NewNop()).Run(context.Background(), wf, nil)

	require.Equal(t, StateCompensated, res.State)
	require.Equal(t, []string{"do:a", "do:b", "undo:b-result", "undo:a-result"}, rec.list())
	require.Equal(t, []string{"b", "a"}, res.Compensated)
	require.Equal(t, []State{StatePending, StateRunning, StateCompensating, StateCompensated}, res.Transitions)

	require.NotNil(t, res.Failure)
	require.Equal(t, "c", res.Failure.Step)
	require.Equal(t, KindStepFailure, res.Failure.Kind)

	err := res.Err()
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, ErrStepFailure)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, StateCompensated, runErr.State)

	_, ok := res.Context.Get("never")
	require.False(t, ok)
}

func TestFirstStepFailureCompensatesNothing(t *testing.T) {
	rec := &recorder{}
	wf := CreateWorkflow("checkout", failing("a", Fail("out of stock")), compensated(rec, "b"))

	res := NewRunner(zap.NewNop()).Run(context.Background(), wf, nil)

	require.Equal(t, StateCompensated, res.State)
	require.Empty(t, rec.list())
	require.Equal(t, "out of stock", res.Failure.Message)
	require.Equal(t, "a", res.Failure.Step)
}

func TestCompensationFailureDoesNotStopSweep(t *testing.T) {
	rec := &recorder{}
	refundErr := errors.New("gateway unavailable")
	core, logs := observer.New(zapcore.InfoLevel)

	var incidents []Incident
	escalator := EscalatorFunc(func(ctx context.Context, in Incident) error {
		incidents = append(incidents, in)
		return nil
	})

	wf := CreateWorkflow("checkout",
		compensated(rec, "a"),
		CreateStepWithCompensation("charge",
			func(ctx context.Context, rc *RunContext) (string, error) { return "txn-1", nil },
			func(ctx context.Context, rc *RunContext, txn string) error {
				rec.add("undo:" + txn)
				return refundErr
			},
		),
		compensated(rec, "c"),
		failing("d", Fail("nope")),
	)

	res := NewRunner(zap.New(core), WithEscalator(escalator)).Run(context.Background(), wf, nil)

	require.Equal(t, StateCompensated, res.State)
	require.Equal(t, []string{"do:a", "do:c", "undo:c-result", "undo:txn-1", "undo:a-result"}, rec.list())
	require.Equal(t, []string{"c", "a"}, res.Compensated)
	require.Len(t, res.CompensationFailures, 1)
	require.Equal(t, "charge", res.CompensationFailures[0].Step)
	require.ErrorIs(t, res.CompensationFailures[0], refundErr)
	require.True(t, res.NeedsEscalation())
	require.ErrorIs(t, res.Err(), ErrCompensationFailure)

	require.Len(t, incidents, 1)
	require.Equal(t, res.RunID, incidents[0].RunID)
	require.Equal(t, "d", incidents[0].Failure.Step)

	entries := logs.FilterMessage("workflow requires operator follow-up").All()
	require.Len(t, entries, 1)
	require.Equal(t, true, entries[0].ContextMap()["escalation"])
}

func TestCompensationTypeMismatchFailsRun(t *testing.T) {
	rec := &recorder{}
	// A step whose execute returns an interface value of a different dynamic type than
	// the compensation expects cannot be undone.
	odd := &Step{
		name: "odd",
		execute: func(ctx context.Context, rc *RunContext) (any, error) {
			return 42, nil
		},
	}
	odd.compensate = CreateStepWithCompensation("odd",
		func(ctx context.Context, rc *RunContext) (string, error) { return "", nil },
		func(ctx context.Context, rc *RunContext, s string) error { return nil },
	).compensate

	wf := CreateWorkflow("checkout", compensated(rec, "a"), odd, failing("b", Fail("x")))
	res := NewRunner(zap.NewNop()).Run(context.Background(), wf, nil)

	require.Equal(t, StateFailed, res.State)
	require.Len(t, res.Faults, 1)
	require.Equal(t, "odd", res.Faults[0].Step)
	require.Equal(t, KindEngineFault, res.Faults[0].Kind)
	require.Equal(t, []string{"do:a", "undo:a-result"}, rec.list())
	require.ErrorIs(t, res.Err(), ErrEngineFault)
	require.Equal(t, []State{StatePending, StateRunning, StateCompensating, StateFailed}, res.Transitions)
}

func TestCompensationPanicIsCompensationFailure(t *testing.T) {
	rec := &recorder{}
	wf := CreateWorkflow("checkout",
		compensated(rec, "a"),
		CreateStepWithCompensation("b",
			func(ctx context.Context, rc *RunContext) (int, error) { return 1, nil },
			func(ctx context.Context, rc *RunContext, _ int) error { panic("undo exploded") },
		),
		failing("c", Fail("x")),
	)

	res := NewRunner(zap.NewNop()).Run(context.Background(), wf, nil)

	require.Equal(t, StateCompensated, res.State)
	require.Len(t, res.CompensationFailures, 1)
	require.Contains(t, res.CompensationFailures[0].Message, "undo exploded")
	require.Equal(t, []string{"a"}, res.Compensated)
}

func TestStepPanicIsRecovered(t *testing.T) {
	rec := &recorder{}
	core, logs := observer.New(zapcore.WarnLevel)
	wf := CreateWorkflow("checkout",
		compensated(rec, "a"),
		CreateStep("b", func(ctx context.Context, rc *RunContext) (int, error) {
			return MustValue[int](rc, "missing"), nil
		}),
	)

	res := NewRunner(zap.New(core)).Run(context.Background(), wf, nil)

	require.Equal(t, StateCompensated, res.State)
	require.Equal(t, KindStepPanic, res.Failure.Kind)
	require.NotEmpty(t, res.Failure.Stack)
	require.ErrorIs(t, res.Err(), ErrStepPanic)
	require.Equal(t, []string{"do:a", "undo:a-result"}, rec.list())
	require.Equal(t, 1, logs.FilterMessage("step panicked").Len())
}

func TestTimeoutClassification(t *testing.T) {
	rec := &recorder{}
	wf := CreateWorkflow("checkout",
		compensated(rec, "a"),
		CreateStep("slow", func(ctx context.Context, rc *RunContext) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := NewRunner(zap.NewNop()).Run(ctx, wf, nil)

	require.Equal(t, StateCompensated, res.State)
	require.Equal(t, KindTimeout, res.Failure.Kind)
	require.ErrorIs(t, res.Err(), ErrTimeout)
	require.ErrorIs(t, res.Err(), context.DeadlineExceeded)
	require.Equal(t, []string{"do:a", "undo:a-result"}, rec.list())
}

func TestCompensationSurvivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var undoErr error
	wf := CreateWorkflow("checkout",
		CreateStepWithCompensation("a",
			func(ctx context.Context, rc *RunContext) (int, error) { return 1, nil },
			func(ctx context.Context, rc *RunContext, _ int) error {
				undoErr = ctx.Err()
				return nil
			},
		),
		CreateStep("cancel", func(ctx context.Context, rc *RunContext) (int, error) {
			cancel()
			return 0, ctx.Err()
		}),
	)

	res := NewRunner(zap.NewNop()).Run(ctx, wf, nil)

	require.Equal(t, StateCompensated, res.State)
	require.NoError(t, undoErr)
	require.Equal(t, []string{"a"}, res.Compensated)
}

func TestParallelPartialFailure(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{})
	wf := CreateWorkflow("checkout",
		compensated(rec, "before"),
		Parallel("fanout",
			compensated(rec, "p1"),
			CreateStep("p2", func(ctx context.Context, rc *RunContext) (int, error) {
				<-started
				return 0, Fail("email bounced")
			}),
			CreateStepWithCompensation("p3",
				func(ctx context.Context, rc *RunContext) (string, error) {
					rec.add("do:p3")
					close(started)
					return "p3-result", nil
				},
				func(ctx context.Context, rc *RunContext, v string) error {
					rec.add("undo:" + v)
					return nil
				},
			),
		),
		compensated(rec, "after"),
	)

	res := NewRunner(zap.NewNop()).Run(context.Background(), wf, nil)

	require.Equal(t, StateCompensated, res.State)
	require.Equal(t, "p2", res.Failure.Step)

	events := rec.list()
	require.NotContains(t, events, "do:after")
	require.ElementsMatch(t, []string{"p1", "p3", "before"}, res.Compensated)
	// Group members are undone before anything that completed ahead of the group.
	require.Equal(t, "before", res.Compensated[len(res.Compensated)-1])
	require.Equal(t, "undo:before-result", events[len(events)-1])
}

func TestParallelSuccessJoinsBeforeContinuing(t *testing.T) {
	rec := &recorder{}
	wf := CreateWorkflow("checkout",
		Parallel("fanout", compensated(rec, "p1"), compensated(rec, "p2")),
		CreateStep("join", func(ctx context.Context, rc *RunContext) (string, error) {
			return MustValue[string](rc, "p1") + "+" + MustValue[string](rc, "p2"), nil
		}),
		failing("late", Fail("x")),
	)

	res := NewRunner(zap.NewNop()).Run(context.Background(), wf, nil)

	require.Equal(t, StateCompensated, res.State)
	require.ElementsMatch(t, []string{"p1", "p2"}, res.Compensated)
	v, ok := Value[string](res.Context, "join")
	require.True(t, ok)
	require.Equal(t, "p1-result+p2-result", v)
}

func TestWhenRunsExactlyOneBranch(t *testing.T) {
	build := func(rec *recorder) *Workflow {
		return CreateWorkflow("checkout",
			When("needsPayment",
				func(rc *RunContext) bool { return Input[bool](rc) },
				compensated(rec, "charge"),
				CreateWorkflow("free", compensated(rec, "skipCharge")),
			),
			failing("end", Fail("x")),
		)
	}

	rec := &recorder{}
	res := NewRunner(zap.NewNop()).Run(context.Background(), build(rec), true)
	require.Equal(t, []string{"do:charge", "undo:charge-result"}, rec.list())
	_, ok := res.Context.Get("skipCharge")
	require.False(t, ok)

	rec = &recorder{}
	res = NewRunner(zap.NewNop()).Run(context.Background(), build(rec), false)
	require.Equal(t, []string{"do:skipCharge", "undo:skipCharge-result"}, rec.list())
	_, ok = res.Context.Get("charge")
	require.False(t, ok)
}

func TestWhenWithoutElseAndPredicatePanic(t *testing.T) {
	rec := &recorder{}
	wf := CreateWorkflow("checkout",
		When("never", func(rc *RunContext) bool { return false }, compensated(rec, "x")),
		compensated(rec, "y"),
	)
	res := NewRunner(zap.NewNop()).Run(context.Background(), wf, nil)
	require.Equal(t, StateCompleted, res.State)
	require.Equal(t, []string{"do:y"}, rec.list())

	rec = &recorder{}
	wf = CreateWorkflow("checkout",
		compensated(rec, "first"),
		When("broken", func(rc *RunContext) bool { panic("bad predicate") }, compensated(rec, "x")),
	)
	res = NewRunner(zap.NewNop()).Run(context.Background(), wf, nil)
	require.Equal(t, StateCompensated, res.State)
	require.Equal(t, KindStepPanic, res.Failure.Kind)
	require.Equal(t, "broken", res.Failure.Step)
	require.Equal(t, []string{"do:first", "undo:first-result"}, rec.list())
}

func TestTransformRecordsDerivedValue(t *testing.T) {
	wf := CreateWorkflow("checkout",
		CreateStep("price", func(ctx context.Context, rc *RunContext) (int64, error) { return 1250, nil }),
		Transform("withTax", func(rc *RunContext) int64 { return MustValue[int64](rc, "price") * 2 }),
	)

	res := NewRunner(zap.NewNop()).Run(context.Background(), wf, nil)

	require.Equal(t, StateCompleted, res.State)
	require.Equal(t, int64(2500), MustValue[int64](res.Context, "withTax"))
}

func TestNestedWorkflowCompensatesWithParent(t *testing.T) {
	rec := &recorder{}
	inner := CreateWorkflow("inner", compensated(rec, "i1"), compensated(rec, "i2"))
	wf := CreateWorkflow("outer", compensated(rec, "o1"), inner, failing("o2", Fail("x")))

	res := NewRunner(zap.NewNop()).Run(context.Background(), wf, nil)

	require.Equal(t, []string{"i2", "i1", "o1"}, res.Compensated)
}

func TestDefinitionValidation(t *testing.T) {
	rec := &recorder{}
	require.Panics(t, func() { CreateWorkflow("dup", compensated(rec, "a"), compensated(rec, "a")) })
	require.Panics(t, func() {
		CreateWorkflow("nested", compensated(rec, "a"), CreateWorkflow("inner", compensated(rec, "a")))
	})
	require.Panics(t, func() { CreateWorkflow("nil", nil) })
	require.Panics(t, func() { CreateWorkflow("") })
	require.Panics(t, func() { CreateStep[int]("x", nil) })
	require.Panics(t, func() {
		When("w", func(rc *RunContext) bool { return true }, compensated(rec, "a"), compensated(rec, "b"), compensated(rec, "c"))
	})

	s := compensated(rec, "s")
	require.Equal(t, "s", s.Name())
	require.True(t, s.Compensable())
	require.False(t, failing("f", nil).Compensable())
}

func TestRunMetricsAndSpans(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	runner := NewRunner(zap.NewNop(), WithMetrics(metrics), WithTracerProvider(tp))
	rec := &recorder{}
	ok := CreateWorkflow("ok", compensated(rec, "a"))
	bad := CreateWorkflow("bad",
		compensated(rec, "b"),
		CreateStepWithCompensation("c",
			func(ctx context.Context, rc *RunContext) (int, error) { return 1, nil },
			func(ctx context.Context, rc *RunContext, _ int) error { return errors.New("stuck") },
		),
		failing("d", Fail("x")),
	)

	runner.Run(context.Background(), ok, nil)
	runner.Run(context.Background(), bad, nil)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("ok", string(StateCompleted))))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("bad", string(StateCompensated))))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.compensationFailures.WithLabelValues("bad", "c")))

	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	require.Contains(t, names, "workflow ok")
	require.Contains(t, names, "workflow bad")
	require.Contains(t, names, "step d")
	require.Contains(t, names, "compensate b")
	require.Contains(t, names, "compensate c")
}

func TestUnwindCompensatesExternalStepsOfCompletedRun(t *testing.T) {
	rec := &recorder{}
	core, logs := observer.New(zapcore.InfoLevel)
	var incidents []Incident
	escalator := EscalatorFunc(func(ctx context.Context, in Incident) error {
		incidents = append(incidents, in)
		return nil
	})

	wf := CreateWorkflow("checkout",
		compensated(rec, "row").Transactional(),
		compensated(rec, "charge"),
		Parallel("fulfilment", compensated(rec, "email"), compensated(rec, "stock").Transactional()),
	)
	runner := NewRunner(zap.New(core), WithEscalator(escalator))
	res := runner.Run(context.Background(), wf, nil)
	require.Equal(t, StateCompleted, res.State)

	commitErr := errors.New("commit tx: connection reset")
	out := runner.Unwind(context.Background(), res, commitErr)

	require.Equal(t, StateCompensated, out.State)
	require.Equal(t, []string{"email", "charge"}, out.Compensated)
	require.NotContains(t, rec.list(), "undo:row-result")
	require.NotContains(t, rec.list(), "undo:stock-result")
	require.Equal(t, []State{StatePending, StateRunning, StateCompleted, StateCompensating, StateCompensated}, out.Transitions)
	require.Equal(t, KindUnwound, out.Failure.Kind)
	require.ErrorIs(t, out.Err(), ErrUnwound)
	require.ErrorIs(t, out.Err(), commitErr)
	require.Equal(t, res.RunID, out.RunID)
	require.False(t, out.NeedsEscalation())
	require.Empty(t, incidents)
	require.Len(t, logs.FilterMessage("unwinding completed workflow").All(), 1)

	again := runner.Unwind(context.Background(), res, commitErr)
	require.Same(t, res, again)
	require.Len(t, out.Compensated, 2)
}

func TestUnwindEscalatesFailedCompensation(t *testing.T) {
	refundErr := errors.New("gateway unavailable")
	var incidents []Incident
	escalator := EscalatorFunc(func(ctx context.Context, in Incident) error {
		incidents = append(incidents, in)
		return nil
	})

	wf := CreateWorkflow("checkout",
		CreateStepWithCompensation("charge",
			func(ctx context.Context, rc *RunContext) (string, error) { return "txn-1", nil },
			func(ctx context.Context, rc *RunContext, txn string) error { return refundErr },
		),
	)
	runner := NewRunner(zap.NewNop(), WithEscalator(escalator))
	res := runner.Run(context.Background(), wf, nil)

	out := runner.Unwind(context.Background(), res, errors.New("commit tx: connection reset"))

	require.Equal(t, StateCompensated, out.State)
	require.True(t, out.NeedsEscalation())
	require.ErrorIs(t, out.Err(), refundErr)
	require.Len(t, incidents, 1)
	require.Equal(t, res.RunID, incidents[0].RunID)
	require.Equal(t, KindUnwound, incidents[0].Failure.Kind)
	require.Equal(t, "charge", incidents[0].CompensationFailures[0].Step)
}

func TestUnwindIgnoresRunsThatDidNotComplete(t *testing.T) {
	rec := &recorder{}
	wf := CreateWorkflow("checkout", compensated(rec, "a"), failing("b", Fail("declined")))
	runner := NewRunner(zap.NewNop())
	res := runner.Run(context.Background(), wf, nil)

	out := runner.Unwind(context.Background(), res, errors.New("commit tx: connection reset"))

	require.Same(t, res, out)
	require.Equal(t, []string{"do:a", "undo:a-result"}, rec.list())
	require.Nil(t, runner.Unwind(context.Background(), nil, nil))
}
