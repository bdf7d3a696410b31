// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoval/passage-engine/internal/resilience"
	"github.com/mkoval/passage-engine/pkg/types"
)

// stubStage implements Stage with injectable phase functions.
type stubStage struct {
	prep func(fc *Context) (any, error)
	exec func(ctx context.Context, prepared any) (any, error)
	post func(fc *Context, prepared, result any) (Signal, error)
}

func (s *stubStage) Prep(fc *Context) (any, error) {
	if s.prep == nil {
		return nil, nil
	}
	return s.prep(fc)
}

func (s *stubStage) Exec(ctx context.Context, prepared any) (any, error) {
	if s.exec == nil {
		return nil, nil
	}
	return s.exec(ctx, prepared)
}

func (s *stubStage) Post(fc *Context, prepared, result any) (Signal, error) {
	if s.post == nil {
		return SignalDefault, nil
	}
	return s.post(fc, prepared, result)
}

// fallbackStage is a stubStage with a fallback.
type fallbackStage struct {
	stubStage
	fallback func(ctx context.Context, prepared any, execErr error) (any, error)
}

func (s *fallbackStage) Fallback(ctx context.Context, prepared any, execErr error) (any, error) {
	return s.fallback(ctx, prepared, execErr)
}

func fastRetry(attempts int) resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}
}

func valueStage(v any) *stubStage {
	return &stubStage{exec: func(context.Context, any) (any, error) { return v, nil }}
}

func TestFlowRunsSequentially(t *testing.T) {
	f, err := NewBuilder("seq", nil).
		Add("first", valueStage(1)).
		Add("second", valueStage(2)).
		Add("third", valueStage(3)).
		Then("first", "second").
		Then("second", "third").
		Build()
	require.NoError(t, err)

	fc := NewContext()
	outcome := f.Run(context.Background(), fc)

	require.True(t, outcome.Success)
	require.NoError(t, outcome.Err)
	assert.Equal(t, []string{"first", "second", "third"}, outcome.Trace)

	r, ok := StageResult(fc, "second")
	require.True(t, ok)
	assert.Equal(t, 2, r.Value)
	assert.Nil(t, r.Err)
}

func TestFlowPrepErrorShortCircuits(t *testing.T) {
	executed := false
	bad := &stubStage{prep: func(*Context) (any, error) {
		return nil, &types.ValidationError{Field: "input", Msg: "missing"}
	}}
	after := &stubStage{exec: func(context.Context, any) (any, error) {
		executed = true
		return nil, nil
	}}

	f, err := NewBuilder("prep", nil).
		Add("bad", bad).
		Add("after", after).
		Then("bad", "after").
		Build()
	require.NoError(t, err)

	outcome := f.Run(context.Background(), NewContext())

	assert.False(t, outcome.Success)
	var ve *types.ValidationError
	require.ErrorAs(t, outcome.Err, &ve)
	assert.False(t, executed, "downstream stage must not run")
	assert.Equal(t, []string{"bad"}, outcome.Trace)
}

func TestFlowRetriesTransientExec(t *testing.T) {
	var calls atomic.Int64
	flaky := &stubStage{exec: func(context.Context, any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, &types.TransientError{Op: "stage", Status: 503}
		}
		return "ok", nil
	}}

	f, err := NewBuilder("retry", nil).Retry(fastRetry(3)).
		Add("flaky", flaky).
		Build()
	require.NoError(t, err)

	fc := NewContext()
	outcome := f.Run(context.Background(), fc)

	require.True(t, outcome.Success)
	assert.Equal(t, int64(3), calls.Load())
	r, _ := StageResult(fc, "flaky")
	assert.Equal(t, "ok", r.Value)
}

func TestFlowExhaustionFollowsFailureEdge(t *testing.T) {
	failing := &stubStage{exec: func(context.Context, any) (any, error) {
		return nil, &types.TransientError{Op: "stage", Status: 503}
	}}
	var sawError bool
	cleanup := &stubStage{prep: func(fc *Context) (any, error) {
		r, ok := StageResult(fc, "failing")
		sawError = ok && r.Err != nil
		return nil, nil
	}}

	f, err := NewBuilder("fail", nil).Retry(fastRetry(2)).
		Add("failing", failing).
		Add("cleanup", cleanup).
		On("failing", SignalFailure, "cleanup").
		Build()
	require.NoError(t, err)

	outcome := f.Run(context.Background(), NewContext())

	require.True(t, outcome.Success, "failure edge makes the run recoverable")
	assert.Equal(t, []string{"failing", "cleanup"}, outcome.Trace)
	assert.True(t, sawError, "cleanup stage reads the recorded StageError")
}

func TestFlowExhaustionWithoutFailureEdgeFails(t *testing.T) {
	failing := &stubStage{exec: func(context.Context, any) (any, error) {
		return nil, errors.New("permanent")
	}}

	f, err := NewBuilder("fail", nil).Retry(fastRetry(2)).
		Add("failing", failing).
		Build()
	require.NoError(t, err)

	outcome := f.Run(context.Background(), NewContext())

	assert.False(t, outcome.Success)
	var se *StageError
	require.ErrorAs(t, outcome.Err, &se)
	assert.Equal(t, "failing", se.Stage)
}

func TestFlowFallbackRescuesStage(t *testing.T) {
	rescued := &fallbackStage{
		stubStage: stubStage{exec: func(context.Context, any) (any, error) {
			return nil, errors.New("model down")
		}},
		fallback: func(_ context.Context, _ any, execErr error) (any, error) {
			require.EqualError(t, execErr, "model down")
			return "fallback value", nil
		},
	}

	f, err := NewBuilder("rescue", nil).Retry(fastRetry(1)).
		Add("rescued", rescued).
		Add("after", valueStage("done")).
		Then("rescued", "after").
		Build()
	require.NoError(t, err)

	fc := NewContext()
	outcome := f.Run(context.Background(), fc)

	require.True(t, outcome.Success)
	assert.Equal(t, []string{"rescued", "after"}, outcome.Trace)
	r, _ := StageResult(fc, "rescued")
	assert.Equal(t, "fallback value", r.Value)
}

func TestFlowPostSignalRouting(t *testing.T) {
	router := &stubStage{post: func(*Context, any, any) (Signal, error) {
		return Signal("empty"), nil
	}}

	f, err := NewBuilder("route", nil).
		Add("router", router).
		Add("full", valueStage("full")).
		Add("empty", valueStage("empty")).
		Then("router", "full").
		On("router", Signal("empty"), "empty").
		Build()
	require.NoError(t, err)

	outcome := f.Run(context.Background(), NewContext())

	require.True(t, outcome.Success)
	assert.Equal(t, []string{"router", "empty"}, outcome.Trace)
}

func TestParallelJoinBarrier(t *testing.T) {
	// The slow branch must land its result before the join stage reads,
	// even though the fast branch finishes first.
	slow := &stubStage{exec: func(context.Context, any) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return "slow done", nil
	}}
	fast := &stubStage{exec: func(context.Context, any) (any, error) {
		return "fast done", nil
	}}

	var slowValue, fastValue any
	join := &stubStage{prep: func(fc *Context) (any, error) {
		s, ok := StageResult(fc, "slow")
		require.True(t, ok, "slow branch result missing at join")
		f, ok := StageResult(fc, "fast")
		require.True(t, ok, "fast branch result missing at join")
		slowValue, fastValue = s.Value, f.Value
		return nil, nil
	}}

	f, err := NewBuilder("fanout", nil).
		Parallel("group", map[string]Stage{"slow": slow, "fast": fast}).
		Add("join", join).
		Then("group", "join").
		Build()
	require.NoError(t, err)

	outcome := f.Run(context.Background(), NewContext())

	require.True(t, outcome.Success)
	assert.Equal(t, "slow done", slowValue)
	assert.Equal(t, "fast done", fastValue)
}

func TestParallelBranchFailureDoesNotCancelSiblings(t *testing.T) {
	failing := &stubStage{exec: func(context.Context, any) (any, error) {
		return nil, errors.New("branch down")
	}}
	var survivorRan atomic.Bool
	survivor := &stubStage{exec: func(context.Context, any) (any, error) {
		survivorRan.Store(true)
		return "survived", nil
	}}
	report := &stubStage{}

	f, err := NewBuilder("fanout", nil).Retry(fastRetry(1)).
		Parallel("group", map[string]Stage{"failing": failing, "survivor": survivor}).
		Add("report", report).
		On("group", SignalFailure, "report").
		Build()
	require.NoError(t, err)

	fc := NewContext()
	outcome := f.Run(context.Background(), fc)

	require.True(t, outcome.Success, "failure edge absorbs the branch failure")
	assert.Equal(t, []string{"group", "report"}, outcome.Trace)
	assert.True(t, survivorRan.Load())

	// Both branch results are visible on the failure path.
	r, ok := StageResult(fc, "survivor")
	require.True(t, ok)
	assert.Equal(t, "survived", r.Value)
	r, ok = StageResult(fc, "failing")
	require.True(t, ok)
	require.NotNil(t, r.Err)
	assert.Equal(t, "failing", r.Err.Stage)
}

func TestParallelBranchRetriesIndependently(t *testing.T) {
	var flakyCalls, steadyCalls atomic.Int64
	flaky := &stubStage{exec: func(context.Context, any) (any, error) {
		if flakyCalls.Add(1) < 3 {
			return nil, &types.TransientError{Op: "branch", Status: 429}
		}
		return "ok", nil
	}}
	steady := &stubStage{exec: func(context.Context, any) (any, error) {
		steadyCalls.Add(1)
		return "ok", nil
	}}

	f, err := NewBuilder("fanout", nil).Retry(fastRetry(3)).
		Parallel("group", map[string]Stage{"flaky": flaky, "steady": steady}).
		Build()
	require.NoError(t, err)

	outcome := f.Run(context.Background(), NewContext())

	require.True(t, outcome.Success)
	assert.Equal(t, int64(3), flakyCalls.Load())
	assert.Equal(t, int64(1), steadyCalls.Load(), "sibling must not be re-run by branch retries")
}

func TestParallelGroupExhaustionIsNotRetried(t *testing.T) {
	// A branch that exhausts its retries with a transient error must not
	// trigger the flow-level retry around the group: that would re-run
	// siblings that already succeeded.
	var failingCalls, siblingCalls atomic.Int64
	failing := &stubStage{exec: func(context.Context, any) (any, error) {
		failingCalls.Add(1)
		return nil, &types.TransientError{Op: "branch", Status: 503}
	}}
	sibling := &stubStage{exec: func(context.Context, any) (any, error) {
		siblingCalls.Add(1)
		return "ok", nil
	}}

	f, err := NewBuilder("fanout", nil).Retry(fastRetry(3)).
		Parallel("group", map[string]Stage{"failing": failing, "sibling": sibling}).
		Add("report", &stubStage{}).
		On("group", SignalFailure, "report").
		Build()
	require.NoError(t, err)

	outcome := f.Run(context.Background(), NewContext())

	require.True(t, outcome.Success)
	assert.Equal(t, int64(3), failingCalls.Load(), "per-branch retry budget only")
	assert.Equal(t, int64(1), siblingCalls.Load(), "group must not be re-run")
}

func TestNestedFlow(t *testing.T) {
	inner, err := NewBuilder("inner", nil).
		Add("inner-stage", valueStage("inner result")).
		Build()
	require.NoError(t, err)

	outer, err := NewBuilder("outer", nil).
		Add("nested", inner).
		Add("after", valueStage("after")).
		Then("nested", "after").
		Build()
	require.NoError(t, err)

	fc := NewContext()
	outcome := outer.Run(context.Background(), fc)

	require.True(t, outcome.Success)
	assert.Equal(t, []string{"nested", "after"}, outcome.Trace)

	// The inner stage's result is visible in the shared context.
	r, ok := StageResult(fc, "inner-stage")
	require.True(t, ok)
	assert.Equal(t, "inner result", r.Value)
}

func TestBuilderRejectsBadGraphs(t *testing.T) {
	_, err := NewBuilder("dup", nil).
		Add("a", valueStage(1)).
		Add("a", valueStage(2)).
		Build()
	assert.ErrorContains(t, err, "duplicate stage")

	_, err = NewBuilder("edge", nil).
		Add("a", valueStage(1)).
		Then("a", "ghost").
		Build()
	assert.ErrorContains(t, err, "unknown stage")

	_, err = NewBuilder("empty", nil).Build()
	assert.ErrorContains(t, err, "no stages")
}

func TestContextScopeIsolation(t *testing.T) {
	fc := NewContext()
	a := fc.Scope("a")
	b := fc.Scope("b")

	a.Set("key", "from a")
	b.Set("key", "from b")

	v, ok := fc.Get("a", "key")
	require.True(t, ok)
	assert.Equal(t, "from a", v)

	v, ok = a.Get("key")
	require.True(t, ok)
	assert.Equal(t, "from a", v)

	v, _ = fc.Get("b", "key")
	assert.Equal(t, "from b", v)

	_, ok = fc.Get("c", "key")
	assert.False(t, ok)
}
