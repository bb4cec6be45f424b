// Package delegation implements the Delegation Coordinator (C7):
// single-flight dedup of handoff calls, depth-bounded spawning of child
// executions, and cross-context resolution of the parent's wait when the
// child execution reaches a terminal state.
package delegation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/internal/events"
	"github.com/fluxorch/engine/pkg/models"
)

// DefaultMaxDepth bounds how many nested delegations a single root
// execution may accumulate before a handoff is refused outright.
const DefaultMaxDepth = 3

// SpawnRequest carries everything the coordinator's spawn callback needs to
// start a child execution for a handoff.
type SpawnRequest struct {
	Key               models.DelegationKey
	ParentExecutionID string
	SourceAgentID     string
	TargetAgentID     string
	Task              string
	Depth             int
}

// SpawnFunc starts a child execution for a handoff and returns immediately
// once it is under way; it does not block until the child finishes. The
// coordinator is independent of how executions are actually run — the
// Orchestrator supplies this callback, avoiding an import cycle between C7
// and C9.
type SpawnFunc func(ctx context.Context, req SpawnRequest) (childExecutionID string, err error)

// pending tracks one in-flight DelegationKey. Every concurrent caller with
// the same key waits on the same done channel; the first caller to arrive
// is the one that actually spawns the child.
type pending struct {
	key    models.DelegationKey
	done   chan struct{}
	result *models.ExecutionResult
	err    error
}

// Coordinator is the process-wide delegation single-flight map (§4.7
// point 5: resolvers live in one concurrent-safe map, not per-request
// local storage, because parent and child may run in different contexts).
type Coordinator struct {
	mu       sync.Mutex
	inFlight map[string]*pending
	aliases  map[string]string
	spawn    SpawnFunc
	bus      *events.Bus
	maxDepth int
}

// New constructs a Coordinator. aliases maps short agent aliases (e.g.
// "ami") to their canonical IDs ("ami-creative"); a nil bus means progress
// relay and delegation events are not emitted.
func New(spawn SpawnFunc, aliases map[string]string, bus *events.Bus) *Coordinator {
	if aliases == nil {
		aliases = map[string]string{}
	}
	return &Coordinator{
		inFlight: make(map[string]*pending),
		aliases:  aliases,
		spawn:    spawn,
		bus:      bus,
		maxDepth: DefaultMaxDepth,
	}
}

// Canonicalize maps an alias to its full agent ID, or returns agentID
// unchanged if it is not aliased.
func (c *Coordinator) Canonicalize(agentID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if canonical, ok := c.aliases[agentID]; ok {
		return canonical
	}
	return agentID
}

// Ticket is the non-blocking handle Dispatch returns: the spawn (or
// single-flight collision) has already happened by the time a caller holds
// one. Await resolves it.
type Ticket struct {
	p *pending
}

// Dispatch is Delegate's non-blocking half: it resolves the DelegationKey,
// and either finds an already in-flight spawn for that key or starts a new
// one, but never blocks on the child's completion. A caller handling
// several handoffs from one AI step should Dispatch every one, in the
// LLM's emission order, before calling Await on any of them — that is what
// lets a same-key duplicate among them collide against the first's
// still-registered entry instead of racing to spawn its own child
// (§4.7 point 2, Testable Property 4, Scenario E).
func (c *Coordinator) Dispatch(ctx context.Context, parentExecutionID, sourceAgentID, targetAgentID, task string, depth int) (Ticket, error) {
	if depth >= c.maxDepth {
		return Ticket{}, enginerr.Classify(models.ErrorKindDelegationDepth,
			fmt.Sprintf("delegation depth %d exceeds maximum %d", depth, c.maxDepth),
			enginerr.ErrDelegationDepthExceeded)
	}

	canonical := c.Canonicalize(targetAgentID)
	key := models.DelegationKey{
		ParentExecutionID:      parentExecutionID,
		SourceAgentID:          sourceAgentID,
		TargetAgentCanonicalID: canonical,
		TaskHash:               models.HashTask(task),
	}
	keyStr := key.String()

	c.mu.Lock()
	if p, ok := c.inFlight[keyStr]; ok {
		c.mu.Unlock()
		return Ticket{p: p}, nil
	}

	p := &pending{key: key, done: make(chan struct{})}
	c.inFlight[keyStr] = p
	c.mu.Unlock()

	c.emit(ctx, parentExecutionID, models.EventDelegationRequested, canonical, "", 0, false)

	childID, err := c.spawn(ctx, SpawnRequest{
		Key:               key,
		ParentExecutionID: parentExecutionID,
		SourceAgentID:     sourceAgentID,
		TargetAgentID:     canonical,
		Task:              task,
		Depth:             depth,
	})
	if err != nil {
		c.fail(keyStr, err)
		return Ticket{}, err
	}

	c.emit(ctx, parentExecutionID, models.EventDelegationProgress, canonical, childID, 0, false)

	return Ticket{p: p}, nil
}

// Await blocks until t's delegation resolves, the caller's context is
// cancelled, or the deadline driven by C3's wall-clock budget expires.
func (c *Coordinator) Await(ctx context.Context, t Ticket) (*models.ExecutionResult, error) {
	return c.await(ctx, t.p)
}

// Delegate hands a task off to targetAgentID on behalf of sourceAgentID
// within parentExecutionID, at delegation depth depth (0 for a root
// execution's first handoff). A DelegationKey already in flight does not
// spawn a second child: the caller instead awaits the first's result,
// matching §4.7's single-flight requirement. It is Dispatch immediately
// followed by Await — the convenience most callers want when they only
// ever hand off one task at a time; a caller juggling several handoffs in
// one batch should call Dispatch and Await separately instead (see
// toolruntime.Registry.executeDelegationBatch).
func (c *Coordinator) Delegate(ctx context.Context, parentExecutionID, sourceAgentID, targetAgentID, task string, depth int) (*models.ExecutionResult, error) {
	t, err := c.Dispatch(ctx, parentExecutionID, sourceAgentID, targetAgentID, task, depth)
	if err != nil {
		return nil, err
	}
	return c.Await(ctx, t)
}

// await blocks until p resolves, the caller's context is cancelled, or the
// context deadline (driven by C3's wall-clock budget at the call site)
// expires — a coordinator crash mid-delegation surfaces here as a plain
// context timeout, per §4.7's failure modes.
func (c *Coordinator) await(ctx context.Context, p *pending) (*models.ExecutionResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, enginerr.Classify(models.ErrorKindTimeout, "delegation wait cancelled", ctx.Err())
	}
}

// Resolve fulfills the pending wait for key with the child execution's
// final result. It is called by whatever drives the child execution to a
// terminal state — possibly in a wholly different goroutine or request
// scope than the one that called Delegate, which is exactly the
// cross-context resolution §4.7 point 5 requires.
func (c *Coordinator) Resolve(key models.DelegationKey, result *models.ExecutionResult) {
	c.finish(key.String(), result, nil)
}

// Fail is Resolve's error-path twin: it is used when the coordinator
// itself could not bring the child to completion (spawn failure aside,
// which fail() already handles inline).
func (c *Coordinator) Fail(key models.DelegationKey, err error) {
	c.finish(key.String(), nil, err)
}

func (c *Coordinator) fail(keyStr string, err error) {
	c.finish(keyStr, nil, err)
}

func (c *Coordinator) finish(keyStr string, result *models.ExecutionResult, err error) {
	c.mu.Lock()
	p, ok := c.inFlight[keyStr]
	if ok {
		delete(c.inFlight, keyStr)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.result = result
	p.err = err
	close(p.done)

	if c.bus != nil && result != nil {
		c.emit(context.Background(), p.key.ParentExecutionID, models.EventDelegationCompleted,
			p.key.TargetAgentCanonicalID, "", 0, err == nil)
	}
}

// RelayProgress re-emits a child's progress on the parent's event stream
// tagged with the target agent, so a UI subscribed only to the parent
// execution sees a single timeline spanning the handoff (§4.7 progress
// relay).
func (c *Coordinator) RelayProgress(ctx context.Context, parentExecutionID, targetAgentID, childExecutionID string, progress int) {
	c.emit(ctx, parentExecutionID, models.EventDelegationProgress, targetAgentID, childExecutionID, progress, false)
}

func (c *Coordinator) emit(ctx context.Context, parentExecutionID string, typ models.EventType, targetAgentID, childExecID string, progress int, succeeded bool) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(ctx, models.Event{
		Type:        typ,
		ExecutionID: parentExecutionID,
		Timestamp:   time.Now(),
		Delegation: &models.DelegationEventPayload{
			TargetAgentID: targetAgentID,
			ChildExecID:   childExecID,
			Progress:      progress,
			Succeeded:     succeeded,
		},
	})
}

// InFlightCount reports how many distinct DelegationKeys currently await
// resolution. Primarily for tests and diagnostics.
func (c *Coordinator) InFlightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}
