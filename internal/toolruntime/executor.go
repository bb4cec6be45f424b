package toolruntime

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fluxorch/engine/internal/observability"
	"github.com/fluxorch/engine/pkg/models"
)

// DelegationToolPrefix identifies a tool call as a delegation hand-off
// rather than an ordinary tool invocation.
const DelegationToolPrefix = "delegate_to_"

// IsDelegationCall reports whether name is a delegation tool call.
func IsDelegationCall(name string) bool {
	return strings.HasPrefix(name, DelegationToolPrefix)
}

// BatchOutcome pairs a tool call's index with its Invoke outcome, so
// callers can recover per-call ordering after concurrent execution.
type BatchOutcome struct {
	Index   int
	Request models.ToolCallRequest
	Outcome Outcome
	Err     error
}

// invokeFunc is either Invoke or InvokeApproved, so ExecuteBatch and
// ExecuteBatchApproved can share the same dispatch logic.
type invokeFunc func(ctx context.Context, execID string, req models.ToolCallRequest) (Outcome, error)

// ExecuteBatch runs calls per §4.5's parallel-execution rule: when two or
// more tool calls arrive together and none is a delegation call, they run
// concurrently and every outcome is gathered (one failure never cancels its
// peers). If any call is a delegation call, delegation calls dispatch in
// the order given (never interleaved with concurrent sibling calls) before
// any of them is awaited — see executeDelegationBatch.
func (r *Registry) ExecuteBatch(ctx context.Context, execID string, calls []models.ToolCallRequest) []BatchOutcome {
	return r.executeBatch(ctx, execID, calls, r.Invoke, false)
}

// ExecuteBatchApproved is ExecuteBatch's twin for calls whose approval has
// already been resolved by the graph executor (accept/edit) — it runs them
// unconditionally via InvokeApproved instead of raising approval again.
func (r *Registry) ExecuteBatchApproved(ctx context.Context, execID string, calls []models.ToolCallRequest) []BatchOutcome {
	return r.executeBatch(ctx, execID, calls, r.InvokeApproved, true)
}

func (r *Registry) executeBatch(ctx context.Context, execID string, calls []models.ToolCallRequest, invoke invokeFunc, skipApproval bool) []BatchOutcome {
	if len(calls) == 0 {
		return nil
	}

	hasDelegation := false
	for _, c := range calls {
		if IsDelegationCall(c.Name) {
			hasDelegation = true
			break
		}
	}

	if len(calls) < 2 {
		return executeSequential(ctx, execID, calls, invoke)
	}
	if hasDelegation {
		return r.executeDelegationBatch(ctx, execID, calls, invoke, skipApproval)
	}
	return executeConcurrent(ctx, execID, calls, invoke)
}

// executeDelegationBatch runs a batch that contains at least one delegation
// call. It walks calls in emission order and, for each one, either
// dispatches it (delegation calls with a registered DispatchHandler) or
// invokes it fully (every non-delegation call, and any delegation call
// without one, runs the ordinary blocking way — sequential siblings are
// never interleaved with concurrent execution here). Every dispatched call
// is only awaited once the whole batch has been walked, so a duplicate
// DelegationKey appearing twice in the same batch dispatches once and the
// second dispatch call observes the first's single-flight entry still
// registered (§4.7 point 2, Testable Property 4, Scenario E) instead of
// the first having already resolved and been removed from the in-flight
// map by the time the second call starts.
func (r *Registry) executeDelegationBatch(ctx context.Context, execID string, calls []models.ToolCallRequest, invoke invokeFunc, skipApproval bool) []BatchOutcome {
	out := make([]BatchOutcome, len(calls))

	type dispatched struct {
		idx   int
		req   models.ToolCallRequest
		start time.Time
		token DispatchToken
	}
	var awaiting []dispatched

	callCtx := observability.AddExecutionID(ctx, execID)

	for i, c := range calls {
		if IsDelegationCall(c.Name) {
			def, outcome, err := r.prepare(c, skipApproval)
			if err != nil {
				out[i] = BatchOutcome{Index: i, Request: c, Err: err}
				continue
			}
			if outcome != nil {
				out[i] = BatchOutcome{Index: i, Request: c, Outcome: *outcome}
				continue
			}
			if def.Dispatch != nil {
				token, err := def.Dispatch(callCtx, c.ArgsJSON)
				if err != nil {
					out[i] = BatchOutcome{Index: i, Request: c, Err: err}
					continue
				}
				awaiting = append(awaiting, dispatched{idx: i, req: c, start: time.Now(), token: token})
				continue
			}
		}
		o, err := invoke(ctx, execID, c)
		out[i] = BatchOutcome{Index: i, Request: c, Outcome: o, Err: err}
	}

	for _, a := range awaiting {
		value, err := a.token.Await(ctx)
		duration := time.Since(a.start).Milliseconds()
		var result models.ToolCallResult
		if err != nil {
			result = models.ToolCallResult{ID: a.req.ID, OK: false, ErrorMessage: err.Error(), DurationMS: duration}
		} else {
			result = models.ToolCallResult{ID: a.req.ID, OK: true, ValueJSON: value, DurationMS: duration}
		}
		r.emit(callCtx, execID, a.req.Name, a.req.ID, result)
		out[a.idx] = BatchOutcome{Index: a.idx, Request: a.req, Outcome: Outcome{Result: &result}}
	}

	return out
}

func executeSequential(ctx context.Context, execID string, calls []models.ToolCallRequest, invoke invokeFunc) []BatchOutcome {
	out := make([]BatchOutcome, len(calls))
	for i, c := range calls {
		o, err := invoke(ctx, execID, c)
		out[i] = BatchOutcome{Index: i, Request: c, Outcome: o, Err: err}
	}
	return out
}

func executeConcurrent(ctx context.Context, execID string, calls []models.ToolCallRequest, invoke invokeFunc) []BatchOutcome {
	out := make([]BatchOutcome, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCallRequest) {
			defer wg.Done()
			o, err := invoke(ctx, execID, call)
			out[idx] = BatchOutcome{Index: idx, Request: call, Outcome: o, Err: err}
		}(i, c)
	}
	wg.Wait()
	return out
}
