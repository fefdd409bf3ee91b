package workflow

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Node is anything a workflow sequence can contain: steps, parallel groups,
// conditional branches, transforms and nested workflows.
type Node interface {
	run(ctx context.Context, ex *execution) *ErrorInfo
	names() []string
}

// Workflow is an ordered sequence of nodes. A Workflow is itself a Node, which is how
// branches and reusable sub-processes are composed.
type Workflow struct {
	name  string
	nodes []Node
}

// CreateWorkflow declares a sequence. It panics on nil nodes or duplicate names
// anywhere in the tree, since definitions are static and built at startup.
func CreateWorkflow(name string, nodes ...Node) *Workflow {
	mustName("workflow", name)
	for i, n := range nodes {
		if n == nil {
			panic(fmt.Sprintf("workflow %q: node %d is nil", name, i))
		}
	}

	w := &Workflow{name: name, nodes: nodes}
	seen := make(map[string]bool)
	for _, n := range w.names() {
		if seen[n] {
			panic(fmt.Sprintf("workflow %q: duplicate step name %q", name, n))
		}
		seen[n] = true
	}
	return w
}

// Name of the workflow.
func (w *Workflow) Name() string { return w.name }

func (w *Workflow) names() []string {
	var out []string
	for _, n := range w.nodes {
		out = append(out, n.names()...)
	}
	return out
}

func (w *Workflow) run(ctx context.Context, ex *execution) *ErrorInfo {
	for _, n := range w.nodes {
		if failure := n.run(ctx, ex); failure != nil {
			return failure
		}
	}
	return nil
}

type parallelGroup struct {
	name  string
	nodes []Node
}

// Parallel runs its members concurrently and joins them before the sequence continues.
// If any member fails, the remaining members see a cancelled context, everything the
// members completed is compensated right away and the first failure is reported.
func Parallel(name string, nodes ...Node) Node {
	mustName("parallel group", name)
	for i, n := range nodes {
		if n == nil {
			panic(fmt.Sprintf("parallel group %q: node %d is nil", name, i))
		}
	}
	return &parallelGroup{name: name, nodes: nodes}
}

func (p *parallelGroup) names() []string {
	out := []string{p.name}
	for _, n := range p.nodes {
		out = append(out, n.names()...)
	}
	return out
}

func (p *parallelGroup) run(ctx context.Context, ex *execution) *ErrorInfo {
	ctx, span := ex.runner.tracer.Start(ctx, "parallel "+p.name,
		trace.WithAttributes(attribute.Int("workflow.parallel.members", len(p.nodes))))
	defer span.End()

	journals := make([]*journal, len(p.nodes))

	g, gctx := errgroup.WithContext(ctx)
	for i, n := range p.nodes {
		journals[i] = &journal{}
		member := ex.fork(journals[i])
		g.Go(func() error {
			if failure := n.run(gctx, member); failure != nil {
				return failure
			}
			return nil
		})
	}

	// Wait reports the first failure to occur; siblings cancelled because of it are not
	// reported in its place.
	var failure *ErrorInfo
	if err := g.Wait(); err != nil {
		failure = err.(*ErrorInfo)
	}

	if failure == nil {
		for _, j := range journals {
			ex.journal.push(j.drain()...)
		}
		return nil
	}

	ex.logger.Info("parallel group failed; compensating its completed members",
		zap.String("group", p.name),
		zap.String("failed_step", failure.Step),
	)
	for _, j := range journals {
		ex.compensate(ctx, j)
	}
	return failure
}

type branch struct {
	name      string
	predicate func(rc *RunContext) bool
	then      Node
	otherwise Node
}

// When evaluates predicate against the run context and runs exactly one branch. A nil
// or omitted otherwise branch means "do nothing". A skipped branch records nothing and
// has nothing to compensate.
func When(name string, predicate func(rc *RunContext) bool, then Node, otherwise ...Node) Node {
	mustName("branch", name)
	if predicate == nil || then == nil {
		panic(fmt.Sprintf("branch %q: predicate and then are required", name))
	}
	if len(otherwise) > 1 {
		panic(fmt.Sprintf("branch %q: at most one otherwise branch", name))
	}
	b := &branch{name: name, predicate: predicate, then: then}
	if len(otherwise) == 1 {
		b.otherwise = otherwise[0]
	}
	return b
}

func (b *branch) names() []string {
	out := []string{b.name}
	out = append(out, b.then.names()...)
	if b.otherwise != nil {
		out = append(out, b.otherwise.names()...)
	}
	return out
}

func (b *branch) run(ctx context.Context, ex *execution) *ErrorInfo {
	taken, failure := b.evaluate(ex.rc)
	if failure != nil {
		ex.logFailure(failure)
		return failure
	}

	next := b.otherwise
	if taken {
		next = b.then
	}
	ex.logger.Debug("branch evaluated", zap.String("branch", b.name), zap.Bool("taken", taken))
	if next == nil {
		return nil
	}
	return next.run(ctx, ex)
}

func (b *branch) evaluate(rc *RunContext) (taken bool, failure *ErrorInfo) {
	defer func() {
		if rec := recover(); rec != nil {
			failure = panicInfo(b.name, rec)
		}
	}()
	return b.predicate(rc), nil
}

type transform struct {
	name string
	fn   func(rc *RunContext) any
}

// Transform records a value derived from the run context under name. It has no side
// effect and no compensation; only a programming error (a panic) can fail it.
func Transform[T any](name string, fn func(rc *RunContext) T) Node {
	mustName("transform", name)
	if fn == nil {
		panic(fmt.Sprintf("transform %q has no func", name))
	}
	return &transform{name: name, fn: func(rc *RunContext) any { return fn(rc) }}
}

func (t *transform) names() []string { return []string{t.name} }

func (t *transform) run(_ context.Context, ex *execution) (failure *ErrorInfo) {
	defer func() {
		if rec := recover(); rec != nil {
			failure = panicInfo(t.name, rec)
			ex.logFailure(failure)
		}
	}()
	ex.rc.record(t.name, StepResponse{OK: true, Value: t.fn(ex.rc)})
	return nil
}

func panicInfo(step string, rec any) *ErrorInfo {
	info := &ErrorInfo{Kind: KindStepPanic, Step: step, Message: fmt.Sprint(rec), Stack: debug.Stack()}
	if err, ok := rec.(error); ok {
		info.Cause = err
	}
	return info
}
