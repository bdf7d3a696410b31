// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mkoval/passage-engine/internal/resilience"
	"github.com/mkoval/passage-engine/pkg/types"
)

// node is one vertex of the flow graph.
type node struct {
	name  string
	stage Stage
	edges map[Signal]string
}

// Flow is a directed graph of stages. Build one with a Builder.
type Flow struct {
	name   string
	nodes  map[string]*node
	start  string
	retry  resilience.RetryPolicy
	logger *zap.Logger
}

// Outcome reports how a flow run ended. Failures are data, not panics:
// callers inspect Success and Err.
type Outcome struct {
	// Success is true when the flow reached a terminal stage cleanly.
	Success bool

	// Err is the terminal error for failed runs.
	Err error

	// Trace lists the stage names in execution order.
	Trace []string
}

// Builder assembles a Flow. The first stage added is the start node.
type Builder struct {
	flow *Flow
	err  error
}

// NewBuilder starts a flow definition. The default retry policy applies to
// every stage's exec; override it with Retry.
func NewBuilder(name string, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{flow: &Flow{
		name:   name,
		nodes:  make(map[string]*node),
		retry:  resilience.DefaultRetryPolicy(),
		logger: logger,
	}}
}

// Retry sets the retry policy the engine applies around every stage's exec.
func (b *Builder) Retry(policy resilience.RetryPolicy) *Builder {
	b.flow.retry = policy
	return b
}

// Add registers a stage under name. Adding a duplicate name is a build
// error surfaced by Build.
func (b *Builder) Add(name string, stage Stage) *Builder {
	if b.err != nil {
		return b
	}
	if _, exists := b.flow.nodes[name]; exists {
		b.err = fmt.Errorf("flow %s: duplicate stage %q", b.flow.name, name)
		return b
	}
	b.flow.nodes[name] = &node{name: name, stage: stage, edges: make(map[Signal]string)}
	if b.flow.start == "" {
		b.flow.start = name
	}
	return b
}

// Parallel registers a fan-out group under name. Branches run as goroutines
// and the group joins them with a WaitGroup barrier before any downstream
// stage runs; each branch gets its own retry budget so one branch's retries
// never stall its siblings.
func (b *Builder) Parallel(name string, branches map[string]Stage) *Builder {
	return b.Add(name, &parallelStage{branches: branches})
}

// On adds an edge: when stage from completes with signal, proceed to stage
// to. A stage with no edge for its signal is terminal.
func (b *Builder) On(from string, signal Signal, to string) *Builder {
	if b.err != nil {
		return b
	}
	n, ok := b.flow.nodes[from]
	if !ok {
		b.err = fmt.Errorf("flow %s: edge from unknown stage %q", b.flow.name, from)
		return b
	}
	if _, ok := b.flow.nodes[to]; !ok {
		b.err = fmt.Errorf("flow %s: edge to unknown stage %q", b.flow.name, to)
		return b
	}
	n.edges[signal] = to
	return b
}

// Then adds the default edge from→to.
func (b *Builder) Then(from, to string) *Builder {
	return b.On(from, SignalDefault, to)
}

// Build finalizes the flow.
func (b *Builder) Build() (*Flow, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.flow.start == "" {
		return nil, fmt.Errorf("flow %s: no stages", b.flow.name)
	}
	for _, n := range b.flow.nodes {
		if p, ok := n.stage.(*parallelStage); ok {
			p.retry = b.flow.retry
		}
	}
	return b.flow, nil
}

// Run executes the flow from its start stage. A prep error short-circuits
// immediately. An exec error (after retries and fallback) is recorded in
// the failing stage's namespace and the failure edge is followed when one
// exists; otherwise the run fails.
func (f *Flow) Run(ctx context.Context, fc *Context) Outcome {
	var trace []string

	current := f.start
	for current != "" {
		if err := ctx.Err(); err != nil {
			return Outcome{Err: err, Trace: trace}
		}

		n := f.nodes[current]
		trace = append(trace, current)
		f.logger.Debug("stage starting", zap.String("flow", f.name), zap.String("stage", current))

		prepared, err := n.stage.Prep(fc)
		if err != nil {
			return Outcome{Err: fmt.Errorf("stage %s prep: %w", current, err), Trace: trace}
		}

		result, execErr := f.execWithRetry(ctx, n, prepared)
		scope := fc.Scope(current)

		if execErr != nil {
			se := &StageError{Stage: current, Attempts: f.retry.MaxAttempts, Err: execErr}
			scope.Set(ResultKey, Result{Err: se})
			f.logger.Warn("stage failed", zap.String("flow", f.name),
				zap.String("stage", current), zap.Error(execErr))

			next, ok := n.edges[SignalFailure]
			if !ok {
				return Outcome{Err: se, Trace: trace}
			}
			current = next
			continue
		}

		scope.Set(ResultKey, Result{Value: result})

		signal, err := n.stage.Post(fc, prepared, result)
		if err != nil {
			return Outcome{Err: fmt.Errorf("stage %s post: %w", current, err), Trace: trace}
		}
		if signal == "" {
			signal = SignalDefault
		}
		if signal == SignalFailure {
			next, ok := n.edges[SignalFailure]
			if !ok {
				return Outcome{Err: fmt.Errorf("stage %s signaled failure", current), Trace: trace}
			}
			current = next
			continue
		}

		current = n.edges[signal]
	}

	return Outcome{Success: true, Trace: trace}
}

// execWithRetry runs the stage's exec under the flow retry policy, then
// consults its fallback on exhaustion. A *StageError from exec is a compound
// outcome (a parallel group or nested flow that already spent its own retry
/// budget), so the engine never re-runs it: retrying would re-execute
// branches that already succeeded.
func (f *Flow) execWithRetry(ctx context.Context, n *node, prepared any) (any, error) {
	policy := f.retry
	inner := policy.Retryable
	policy.Retryable = func(err error) bool {
		var se *StageError
		if errors.As(err, &se) {
			return false
		}
		if inner == nil {
			return types.IsRetryable(err)
		}
		return inner(err)
	}

	var result any
	execErr := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = n.stage.Exec(ctx, prepared)
		return err
	})
	if execErr == nil {
		return result, nil
	}
	if fb, ok := n.stage.(Fallbacker); ok {
		return fb.Fallback(ctx, prepared, execErr)
	}
	return nil, execErr
}

// Flow implements Stage, so flows nest as stages of an outer flow.

// Prep passes the outer flow's context through.
func (f *Flow) Prep(fc *Context) (any, error) { return fc, nil }

// Exec runs the nested flow against the outer context.
func (f *Flow) Exec(ctx context.Context, prepared any) (any, error) {
	fc, ok := prepared.(*Context)
	if !ok {
		return nil, fmt.Errorf("nested flow %s: prepared value is not a flow context", f.name)
	}
	outcome := f.Run(ctx, fc)
	if !outcome.Success {
		return outcome, outcome.Err
	}
	return outcome, nil
}

// Post returns the default signal; a failed nested run never reaches it.
func (f *Flow) Post(*Context, any, any) (Signal, error) { return SignalDefault, nil }

// parallelStage fans out to its branches concurrently and joins them.
type parallelStage struct {
	branches map[string]Stage

	// retry is applied per branch inside the goroutines, so one branch's
	// retries never block its siblings. Build copies the flow policy here.
	retry resilience.RetryPolicy
}

// branchNames returns the branch names in deterministic order.
func (p *parallelStage) branchNames() []string {
	names := make([]string, 0, len(p.branches))
	for name := range p.branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parallelPrepared carries each branch's prepared input plus the context
// the branches record their results into.
type parallelPrepared struct {
	fc       *Context
	prepared map[string]any
}

// Prep runs every branch's prep up front; any validation error
// short-circuits before goroutines start.
func (p *parallelStage) Prep(fc *Context) (any, error) {
	prepared := make(map[string]any, len(p.branches))
	for _, name := range p.branchNames() {
		in, err := p.branches[name].Prep(fc)
		if err != nil {
			return nil, fmt.Errorf("branch %s: %w", name, err)
		}
		prepared[name] = in
	}
	return parallelPrepared{fc: fc, prepared: prepared}, nil
}

// branchOutcome is one branch's exec result.
type branchOutcome struct {
	value any
	err   error
}

// Exec runs the branches as goroutines and waits for all of them: the
// WaitGroup is the join barrier the downstream stage relies on. Branch
// errors do not cancel siblings; every branch runs to completion and the
// group reports the set of failures.
func (p *parallelStage) Exec(ctx context.Context, prepared any) (any, error) {
	pp := prepared.(parallelPrepared)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[string]branchOutcome, len(p.branches))
	)
	for _, name := range p.branchNames() {
		wg.Add(1)
		go func(name string, stage Stage, in any) {
			defer wg.Done()
			var value any
			err := p.retry.Do(ctx, func(ctx context.Context) error {
				var execErr error
				value, execErr = stage.Exec(ctx, in)
				return execErr
			})
			if err != nil {
				if fb, ok := stage.(Fallbacker); ok {
					value, err = fb.Fallback(ctx, in, err)
				}
			}
			mu.Lock()
			outcomes[name] = branchOutcome{value: value, err: err}
			mu.Unlock()
		}(name, p.branches[name], pp.prepared[name])
	}
	wg.Wait()

	// Record every branch's result before reporting, so a failure-path
	// stage can still read what the surviving branches produced.
	var failed []string
	for _, name := range p.branchNames() {
		out := outcomes[name]
		if out.err != nil {
			failed = append(failed, name)
			pp.fc.Scope(name).Set(ResultKey, Result{Err: &StageError{Stage: name, Err: out.err}})
			continue
		}
		pp.fc.Scope(name).Set(ResultKey, Result{Value: out.value})
	}
	if len(failed) > 0 {
		return outcomes, &StageError{
			Stage: failed[0],
			Err:   fmt.Errorf("parallel branches failed: %v: %w", failed, outcomes[failed[0]].err),
		}
	}
	return outcomes, nil
}

// Post runs each branch's post in deterministic order, after the join.
func (p *parallelStage) Post(fc *Context, prepared, result any) (Signal, error) {
	pp := prepared.(parallelPrepared)
	outcomes := result.(map[string]branchOutcome)

	for _, name := range p.branchNames() {
		out := outcomes[name]
		signal, err := p.branches[name].Post(fc, pp.prepared[name], out.value)
		if err != nil {
			return "", fmt.Errorf("branch %s post: %w", name, err)
		}
		if signal == SignalFailure {
			return SignalFailure, nil
		}
	}
	return SignalDefault, nil
}
