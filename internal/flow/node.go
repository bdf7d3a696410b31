// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package flow is a small node-graph engine for sequencing pipeline stages.
// A Stage runs in three phases: Prep validates and gathers inputs from the
// shared Context, Exec does the work (wrapped in the engine's retry
// policy), and Post records outputs and picks the outgoing edge. Flows are
// directed graphs of stages, compose sequentially or as parallel fan-out
// groups with an explicit join barrier, and nest: a Flow is itself a Stage.
//
// See docs/ARCHITECTURE.md § Flow Engine.
package flow

import (
	"context"
	"fmt"
)

// Signal selects the outgoing edge after a stage completes.
type Signal string

const (
	// SignalDefault is the ordinary forward edge.
	SignalDefault Signal = "default"

	// SignalFailure is followed when a stage's exec exhausts its retries.
	SignalFailure Signal = "failure"
)

// Stage is one unit of work in a flow.
type Stage interface {
	// Prep gathers inputs from the context. An error here (typically a
	// *types.ValidationError) short-circuits the whole flow: nothing is
	// retried and no failure edge is consulted.
	Prep(fc *Context) (any, error)

	// Exec performs the stage's work. The engine wraps it in the flow's
	// retry policy, so transient failures are re-attempted uniformly
	// without per-stage retry loops.
	Exec(ctx context.Context, prepared any) (any, error)

	// Post records results into the stage's scope and picks the outgoing
	// signal. An empty signal means SignalDefault.
	Post(fc *Context, prepared, result any) (Signal, error)
}

// Fallbacker is an optional Stage extension consulted after Exec exhausts
// its retries. A fallback that succeeds rescues the stage; its result is
// recorded as the stage result and the default edge is followed.
type Fallbacker interface {
	Fallback(ctx context.Context, prepared any, execErr error) (any, error)
}

// StageError is a stage failure recorded in the flow context.
type StageError struct {
	// Stage is the failing stage's name.
	Stage string

	// Attempts is how many exec attempts were made.
	Attempts int

	// Err is the last error.
	Err error
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempts: %v", e.Stage, e.Attempts, e.Err)
}

// Unwrap exposes the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// Result is the tagged outcome the engine records in a stage's namespace
// under ResultKey. Exactly one of Value and Err is meaningful.
type Result struct {
	Value any
	Err   *StageError
}

// ResultKey is the context key the engine records each stage's Result under.
const ResultKey = "result"

// StageResult reads the recorded Result for a stage from the context.
func StageResult(fc *Context, stage string) (Result, bool) {
	v, ok := fc.Get(stage, ResultKey)
	if !ok {
		return Result{}, false
	}
	r, ok := v.(Result)
	return r, ok
}
