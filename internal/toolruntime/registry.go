// Package toolruntime implements the Tool Runtime (C5): a process-wide tool
// registry and an invoke pipeline that validates arguments against a schema,
// raises approval as a control signal (not an error), and enforces a
// per-call deadline.
package toolruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/internal/events"
	"github.com/fluxorch/engine/internal/observability"
	"github.com/fluxorch/engine/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultTimeout is the hard per-call deadline imposed on every tool
// handler, regardless of any caller-supplied context deadline (§4.5).
const DefaultTimeout = 60 * time.Second

// MaxNameLength and MaxArgsSize bound a tool call's name and argument
// payload, mirroring the teacher's own resource-exhaustion guards.
const (
	MaxNameLength = 256
	MaxArgsSize   = 10 << 20
)

// Handler executes a validated tool call and returns its JSON result, or an
// error describing why the handler itself failed.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// DispatchToken is the pending half of a two-phase tool call: whatever
// side effect a DispatchHandler triggers synchronously (e.g. registering a
// single-flight key and spawning a child execution) has already happened
// by the time a DispatchToken exists. Await performs the blocking half.
type DispatchToken interface {
	Await(ctx context.Context) (json.RawMessage, error)
}

// DispatchHandler is a Handler's optional non-blocking counterpart, used
// only for delegation tool calls (name carries the delegate_to_ prefix).
// executeDelegationBatch calls every DispatchHandler in a batch, in the
// LLM's emission order, before calling Await on any of them — so a
// same-key duplicate within one batch observes the first call's
// registration still in place instead of racing to spawn its own child.
type DispatchHandler func(ctx context.Context, args json.RawMessage) (DispatchToken, error)

// ToolDef is what Register stores: a name, a compiled JSON Schema for its
// arguments, the handler, whether invoking it must first raise an
// interrupt, and free-form metadata.
type ToolDef struct {
	Name             string
	Description      string
	Schema           *jsonschema.Schema
	SchemaJSON       json.RawMessage
	Handler          Handler
	RequiresApproval bool
	Metadata         map[string]any

	// Dispatch, if set, is used instead of Handler by a batch that runs
	// this call through the delegation fan-out path (see
	// executeDelegationBatch). Non-delegation tools leave this nil.
	Dispatch DispatchHandler

	// Retry governs handler-error retries. A single tool call still counts
	// once against a budget.Manager's max-tool-calls limit regardless of
	// how many attempts Retry spends internally.
	Retry RetryPolicy
}

// RetryPolicy configures retry-with-backoff for a tool's handler. The zero
// value disables retries (MaxAttempts <= 1 runs the handler exactly once).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Outcome is what Invoke returns. Exactly one of Result or
// RequiresApproval is meaningful: RequiresApproval is a control signal
// (§4.5 step 3), not an error — the caller is expected to raise an
// interrupt and re-invoke once it resolves.
type Outcome struct {
	Result           *models.ToolCallResult
	RequiresApproval bool
}

// Registry is the process-wide tool registry. Names are globally unique;
// Register replaces any existing definition under the same name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]ToolDef
	bus     *events.Bus
	timeout time.Duration
}

// New constructs an empty Registry. A nil bus means Invoke emits nothing.
// The per-call deadline defaults to DefaultTimeout; SetTimeout overrides it
// (e.g. from TOOL_TIMEOUT_MS, §6.4).
func New(bus *events.Bus) *Registry {
	return &Registry{tools: make(map[string]ToolDef), bus: bus, timeout: DefaultTimeout}
}

// SetTimeout overrides the per-tool-call hard deadline. d <= 0 is ignored.
func (r *Registry) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

// Register stores def, keyed by def.Name.
func (r *Registry) Register(def ToolDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
}

// Unregister removes a tool definition.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool def registered under name.
func (r *Registry) Get(name string) (ToolDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	return out
}

// Invoke runs the §4.5 pipeline: lookup, schema validation,
// approval-required short-circuit, deadline-bounded execution, and a
// tool.completed emission on the bus.
func (r *Registry) Invoke(ctx context.Context, execID string, req models.ToolCallRequest) (Outcome, error) {
	return r.invoke(ctx, execID, req, false)
}

// InvokeApproved runs req unconditionally, skipping the requires_approval
// short-circuit. The graph executor calls this once an Interrupt raised for
// this exact call has already resolved (accept/edit) — re-running the
// ordinary Invoke pipeline would just raise the same approval again.
func (r *Registry) InvokeApproved(ctx context.Context, execID string, req models.ToolCallRequest) (Outcome, error) {
	return r.invoke(ctx, execID, req, true)
}

func (r *Registry) invoke(ctx context.Context, execID string, req models.ToolCallRequest, skipApproval bool) (Outcome, error) {
	ctx = observability.AddExecutionID(ctx, execID)
	def, outcome, err := r.prepare(req, skipApproval)
	if err != nil {
		return Outcome{}, err
	}
	if outcome != nil {
		return *outcome, nil
	}

	result := r.run(ctx, def, req)

	r.emit(ctx, execID, req.Name, req.ID, result)

	return Outcome{Result: &result}, nil
}

// prepare validates req and applies the requires_approval short-circuit
// shared by invoke and the delegation dispatch path (executeDelegationBatch):
// a non-nil outcome means the call is already fully resolved (invalid
// input, or an approval pause) and the handler must not run.
func (r *Registry) prepare(req models.ToolCallRequest, skipApproval bool) (ToolDef, *Outcome, error) {
	if len(req.Name) > MaxNameLength {
		return ToolDef{}, nil, enginerr.Classify(models.ErrorKindValidation, "tool name exceeds maximum length", enginerr.ErrToolInvalidArgs)
	}
	if len(req.ArgsJSON) > MaxArgsSize {
		return ToolDef{}, nil, enginerr.Classify(models.ErrorKindValidation, "tool arguments exceed maximum size", enginerr.ErrToolInvalidArgs)
	}

	def, ok := r.Get(req.Name)
	if !ok {
		return ToolDef{}, nil, enginerr.Classify(models.ErrorKindConfig, fmt.Sprintf("no tool registered as %q", req.Name), enginerr.ErrToolUnknown)
	}

	if def.Schema != nil {
		var v any
		if len(req.ArgsJSON) == 0 {
			v = map[string]any{}
		} else if err := json.Unmarshal(req.ArgsJSON, &v); err != nil {
			return ToolDef{}, nil, enginerr.Classify(models.ErrorKindValidation, "tool arguments are not valid JSON", enginerr.ErrToolInvalidArgs)
		}
		if err := def.Schema.Validate(v); err != nil {
			return ToolDef{}, nil, enginerr.Classify(models.ErrorKindValidation, fmt.Sprintf("tool arguments failed schema validation: %v", err), enginerr.ErrToolInvalidArgs)
		}
	}

	if def.RequiresApproval && !skipApproval {
		return def, &Outcome{RequiresApproval: true}, nil
	}

	return def, nil, nil
}

func (r *Registry) run(ctx context.Context, def ToolDef, req models.ToolCallRequest) models.ToolCallResult {
	r.mu.RLock()
	timeout := r.timeout
	r.mu.RUnlock()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxAttempts := def.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := time.Now()
	var value json.RawMessage
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err = r.invokeHandler(callCtx, def.Handler, req.ArgsJSON)
		if err == nil || callCtx.Err() != nil || attempt == maxAttempts {
			break
		}
		select {
		case <-callCtx.Done():
		case <-time.After(time.Duration(attempt) * def.Retry.Backoff):
		}
	}
	duration := time.Since(start).Milliseconds()

	if callCtx.Err() != nil && err != nil {
		return models.ToolCallResult{ID: req.ID, OK: false, ErrorMessage: "tool execution timed out", DurationMS: duration}
	}
	if err != nil {
		return models.ToolCallResult{ID: req.ID, OK: false, ErrorMessage: err.Error(), DurationMS: duration}
	}
	return models.ToolCallResult{ID: req.ID, OK: true, ValueJSON: value, DurationMS: duration}
}

// invokeHandler recovers a handler panic into an error, mirroring the
// teacher's ErrToolPanic classification.
func (r *Registry) invokeHandler(ctx context.Context, handler Handler, args json.RawMessage) (value json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool handler panicked: %v", p)
		}
	}()

	type outcome struct {
		value json.RawMessage
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, e := handler(ctx, args)
		done <- outcome{value: v, err: e}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.value, o.err
	}
}

func (r *Registry) emit(ctx context.Context, execID, name, callID string, result models.ToolCallResult) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(ctx, models.Event{
		Type:        models.EventToolCompleted,
		ExecutionID: execID,
		Timestamp:   time.Now(),
		Tool: &models.ToolEventPayload{
			CallID:     callID,
			Name:       name,
			Success:    result.OK,
			DurationMS: result.DurationMS,
		},
	})
}
