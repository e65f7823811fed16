// Package contract defines the uniform invocation surface every
// pipeline agent (analyzer, reviewer, test generator, doc updater,
// synthesizer, ...) plugs into. Agents never throw: any internal
// failure is reported as a Result with Success=false. Latency is
// measured by Invoke, not by the agent itself, so every agent is
// measured identically regardless of how it's implemented.
package contract

import (
	"context"
	"time"

	"github.com/josedab/prflow/internal/errs"
)

// Result is the tagged outcome of an agent invocation. Exactly one of
// Data or Err is meaningful, discriminated by Success — this is the
// Go rendering of the spec's `{success, data?, error?}` carrier (see
// SPEC_FULL.md §4.1 on the Result carrier).
type Result[T any] struct {
	Success   bool
	Data      T
	Err       *errs.Error
	LatencyMs int64
}

// Ok builds a successful Result.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Errf builds a failed Result.
func Errf[T any](err *errs.Error) Result[T] {
	return Result[T]{Success: false, Err: err}
}

// Agent is the contract every pipeline stage's unit of work satisfies.
// Input and Output are agent-specific but must be serializable so the
// orchestrator can persist them as stage artifacts.
type Agent[I any, O any] interface {
	// Name identifies the agent for registry lookup and logging.
	Name() string
	// Execute runs the agent. Implementations must not panic for
	// expected failure modes (a model error, a malformed diff, ...);
	// those become Result{Success: false}. Invoke recovers unexpected
	// panics regardless.
	Execute(ctx context.Context, input I) (O, *errs.Error)
}

// Invoke wraps an Agent's Execute call with latency measurement and
// panic recovery, which is the contract's job rather than each
// agent's (spec §4.1: "Latency is measured ... by a wrapper provided
// by the contract").
func Invoke[I any, O any](ctx context.Context, agent Agent[I, O], input I) Result[O] {
	start := time.Now()
	out, errResult := invokeRecovered(ctx, agent, input)
	latency := time.Since(start).Milliseconds()

	if errResult != nil {
		return Result[O]{Success: false, Err: errResult, LatencyMs: latency}
	}
	return Result[O]{Success: true, Data: out, LatencyMs: latency}
}

func invokeRecovered[I any, O any](ctx context.Context, agent Agent[I, O], input I) (out O, errResult *errs.Error) {
	defer func() {
		if r := recover(); r != nil {
			errResult = errs.AgentError("agent panicked").WithDetail(r)
		}
	}()
	out, errResult = agent.Execute(ctx, input)
	return out, errResult
}
