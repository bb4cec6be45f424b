// Package orchestrator implements the Orchestrator (C9): the component
// external callers actually talk to. It resolves direct-vs-supervised mode,
// owns thread-level message history across executions, drives one Execution
// through the Graph Builder & Executor (C8), auto-registers delegation
// tools backed by the Delegation Coordinator (C7), and records usage for
// every model call.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxorch/engine/internal/budget"
	"github.com/fluxorch/engine/internal/checkpoint"
	"github.com/fluxorch/engine/internal/delegation"
	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/internal/events"
	"github.com/fluxorch/engine/internal/graph"
	"github.com/fluxorch/engine/internal/interrupt"
	"github.com/fluxorch/engine/internal/modelfactory"
	modelcatalog "github.com/fluxorch/engine/internal/models"
	"github.com/fluxorch/engine/internal/observability"
	"github.com/fluxorch/engine/internal/registry"
	"github.com/fluxorch/engine/internal/toolruntime"
	"github.com/fluxorch/engine/internal/usage"
	"github.com/fluxorch/engine/pkg/models"
)

// AgentProvider resolves an AgentConfig by ID. Orchestrator never mutates
// what it returns.
type AgentProvider interface {
	Get(agentID string) (models.AgentConfig, bool)
	List() []models.AgentConfig
}

// StaticAgentProvider is an in-memory AgentProvider backed by a fixed set of
// configs, suitable for a single process's worth of agent definitions loaded
// once at startup.
type StaticAgentProvider struct {
	byID map[string]models.AgentConfig
}

// NewStaticAgentProvider builds a provider from configs, keyed by ID.
func NewStaticAgentProvider(configs []models.AgentConfig) *StaticAgentProvider {
	p := &StaticAgentProvider{byID: make(map[string]models.AgentConfig, len(configs))}
	for _, c := range configs {
		p.byID[c.ID] = c
	}
	return p
}

func (p *StaticAgentProvider) Get(agentID string) (models.AgentConfig, bool) {
	c, ok := p.byID[agentID]
	return c, ok
}

func (p *StaticAgentProvider) List() []models.AgentConfig {
	out := make([]models.AgentConfig, 0, len(p.byID))
	for _, c := range p.byID {
		out = append(out, c)
	}
	return out
}

// RequestOptions carries the optional per-call overrides in §6.1's
// request.options.
type RequestOptions struct {
	TimeoutMS     int
	MaxToolCalls  int
	MaxAgentSteps int
	ModelOverride string
}

// Request is the Orchestrator's execute() input (§6.1).
type Request struct {
	Input           string
	AgentID         string
	UserID          string
	PriorMessages   []models.Message
	ForceSupervised bool
	Options         RequestOptions
}

// Deps bundles every component the Orchestrator wires together. Bus,
// Usage, and Checkpoint may be nil (no event emission / no cost
// accounting / no durable resumption, respectively); every other field is
// required.
type Deps struct {
	Registry   *registry.Registry
	Tools      *toolruntime.Registry
	Interrupts *interrupt.Manager
	Budget     *budget.Manager
	Models     graph.ModelProvider
	Bus        *events.Bus
	Usage      *usage.Recorder
	Agents     AgentProvider
	Checkpoint checkpoint.Store

	// ResolveOptions, if set, maps a model ID to the credentials/transport
	// options the Model Factory needs to build a client for it (API key,
	// base URL, region). When nil every model is invoked with a zero
	// Options value, which is only useful against providers that need no
	// credentials (tests, local doubles).
	ResolveOptions func(modelID string) modelfactory.Options
}

func (d Deps) resolveOptions(modelID string) modelfactory.Options {
	if d.ResolveOptions == nil {
		return modelfactory.Options{}
	}
	return d.ResolveOptions(modelID)
}

// Orchestrator is C9. One instance owns the process-wide thread store and
// the bookkeeping needed to cancel an in-flight execution from outside its
// own goroutine.
type Orchestrator struct {
	deps        Deps
	graph       *graph.Executor
	coordinator *delegation.Coordinator
	threads     *threadStore

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs an Orchestrator and registers one delegate_to_<sub_agent>
// tool per distinct sub-agent named across every agent deps.Agents knows
// about (§6.3).
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		deps: deps,
		graph: graph.New(graph.Deps{
			Models:     deps.Models,
			Tools:      deps.Tools,
			Interrupts: deps.Interrupts,
			Budget:     deps.Budget,
			Bus:        deps.Bus,
			Checkpoint: deps.Checkpoint,
		}),
		threads: newThreadStore(),
		cancels: make(map[string]context.CancelFunc),
	}
	o.coordinator = delegation.New(o.spawnChild, nil, deps.Bus)
	o.registerDelegationTools()
	return o
}

func (o *Orchestrator) registerDelegationTools() {
	seen := make(map[string]bool)
	schema := delegationSchema()
	for _, cfg := range o.deps.Agents.List() {
		for _, subID := range cfg.SubAgentIDs {
			name := toolruntime.DelegationToolPrefix + subID
			if seen[name] {
				continue
			}
			seen[name] = true
			target := subID
			o.deps.Tools.Register(toolruntime.ToolDef{
				Name:        name,
				Description: fmt.Sprintf("Delegate a task to the %s agent.", target),
				Schema:      schema.compiled,
				SchemaJSON:  schema.raw,
				Handler:     o.handleDelegate(target),
				Dispatch:    o.handleDelegateDispatch(target),
			})
		}
	}
}

// Execute runs request.input through the agent it names and returns once
// the resulting Execution reaches a terminal state (§6.1). A non-nil error
// means the execution never started (unknown agent/model/tool — §7's
// "Orchestrator itself" failure mode); otherwise result.error carries any
// in-flight classified failure.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (models.ExecutionResult, error) {
	cfg, ok := o.deps.Agents.Get(req.AgentID)
	if !ok {
		return models.ExecutionResult{}, enginerr.Classify(models.ErrorKindConfig, fmt.Sprintf("unknown agent %q", req.AgentID), nil)
	}
	if req.Options.ModelOverride != "" {
		cfg.Model = req.Options.ModelOverride
	}
	if err := o.validateAgentConfig(cfg); err != nil {
		return models.ExecutionResult{}, err
	}

	mode := models.ModeDirect
	if req.ForceSupervised || cfg.Role == models.AgentRoleSupervisor {
		mode = models.ModeSupervised
	}
	threadKey := models.ThreadKeyFor(cfg.ID, mode)

	seed := o.seedMessages(threadKey, req, mode, cfg.ID)

	exec := &models.Execution{
		ID:        uuid.NewString(),
		AgentID:   cfg.ID,
		UserID:    req.UserID,
		ThreadKey: threadKey,
		Mode:      mode,
		Status:    models.StatusRunning,
		StartedAt: time.Now(),
		Messages:  seed,
	}
	o.deps.Registry.Create(exec)
	o.emitStarted(exec)

	runCtx, cancel := context.WithCancel(ctx)
	o.setCancel(exec.ID, cancel)
	defer o.clearCancel(exec.ID)

	limits := o.effectiveLimits(cfg, req.Options)
	seedLen := len(exec.Messages)

	result := o.graph.Run(runCtx, exec, cfg, o.deps.resolveOptions(cfg.Model), limits)

	_ = o.deps.Registry.Update(exec.ID, func(e *models.Execution) { *e = *exec })
	o.recordUsage(ctx, exec, cfg, seedLen)
	o.threads.save(threadKey, exec.Messages)
	o.saveCheckpoint(ctx, exec)

	return result, nil
}

// saveCheckpoint persists exec's resumable state if a Checkpoint store is
// configured. It is best-effort: a failed save is logged away rather than
// surfaced, since checkpointing is a durability aid, not part of Execute's
// contract.
func (o *Orchestrator) saveCheckpoint(ctx context.Context, exec *models.Execution) {
	if o.deps.Checkpoint == nil {
		return
	}
	blob := checkpoint.FromExecution(exec, nodePointerFor(exec), agentStepsFor(exec))
	_ = o.deps.Checkpoint.Save(ctx, exec.ID, blob)
}

// nodePointerFor derives which edge of the graph's fixed loop exec should
// resume at from its current status.
func nodePointerFor(exec *models.Execution) string {
	switch exec.Status {
	case models.StatusAwaitingApproval:
		return checkpoint.NodeAwaitingApproval
	case models.StatusDelegating:
		return checkpoint.NodeTools
	default:
		return checkpoint.NodeAgent
	}
}

// agentStepsFor counts the "thinking" steps recorded so far, the same unit
// budget.Limits.MaxAgentSteps bounds.
func agentStepsFor(exec *models.Execution) int {
	n := 0
	for _, s := range exec.Steps {
		if s.Kind == models.StepThinking {
			n++
		}
	}
	return n
}

// Resume continues a previously checkpointed execution from where it left
// off: it loads the persisted Blob, reconstructs the Execution, and re-enters
// the graph loop exactly as Execute does. It requires a Checkpoint store and
// fails if none was persisted for executionID.
func (o *Orchestrator) Resume(ctx context.Context, executionID string) (models.ExecutionResult, error) {
	if o.deps.Checkpoint == nil {
		return models.ExecutionResult{}, enginerr.Classify(models.ErrorKindConfig, "no checkpoint store configured", nil)
	}
	blob, ok, err := o.deps.Checkpoint.Load(ctx, executionID)
	if err != nil {
		return models.ExecutionResult{}, err
	}
	if !ok {
		return models.ExecutionResult{}, enginerr.Classify(models.ErrorKindValidation, fmt.Sprintf("no checkpoint for execution %q", executionID), nil)
	}

	cfg, ok := o.deps.Agents.Get(blob.AgentID)
	if !ok {
		return models.ExecutionResult{}, enginerr.Classify(models.ErrorKindConfig, fmt.Sprintf("unknown agent %q", blob.AgentID), nil)
	}

	exec := &models.Execution{}
	blob.ApplyTo(exec)
	o.deps.Registry.Create(exec)

	runCtx, cancel := context.WithCancel(ctx)
	o.setCancel(exec.ID, cancel)
	defer o.clearCancel(exec.ID)

	limits := o.effectiveLimits(cfg, RequestOptions{})
	seedLen := len(exec.Messages)

	result := o.graph.Resume(runCtx, exec, cfg, o.deps.resolveOptions(cfg.Model), limits, blob.NodePointer)

	_ = o.deps.Registry.Update(exec.ID, func(e *models.Execution) { *e = *exec })
	o.recordUsage(ctx, exec, cfg, seedLen)
	o.threads.save(exec.ThreadKey, exec.Messages)
	o.saveCheckpoint(ctx, exec)

	return result, nil
}

func (o *Orchestrator) validateAgentConfig(cfg models.AgentConfig) error {
	if _, ok := modelcatalog.Get(cfg.Model); !ok {
		return enginerr.Classify(models.ErrorKindConfig, fmt.Sprintf("unknown model %q", cfg.Model), enginerr.ErrModelUnknown)
	}
	for _, name := range cfg.ToolNames {
		if _, ok := o.deps.Tools.Get(name); !ok {
			return enginerr.Classify(models.ErrorKindConfig, fmt.Sprintf("unknown tool %q", name), enginerr.ErrToolUnknown)
		}
	}
	return nil
}

func (o *Orchestrator) seedMessages(threadKey string, req Request, mode models.ExecutionMode, agentID string) []models.Message {
	history := o.threads.load(threadKey)
	seed := make([]models.Message, 0, len(history)+len(req.PriorMessages)+1)
	seed = append(seed, history...)
	seed = append(seed, req.PriorMessages...)
	seed = append(seed, models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleHuman,
		Content:   req.Input,
		CreatedAt: time.Now(),
	})

	if mode == models.ModeSupervised {
		packed, dropped := packContext(seed)
		if dropped > 0 {
			o.emitContextPacked(agentID, len(packed), dropped)
		}
		seed = packed
	}
	return seed
}

func (o *Orchestrator) effectiveLimits(cfg models.AgentConfig, opts RequestOptions) budget.Limits {
	limits := budget.DefaultSpecialistLimits()
	if cfg.Role == models.AgentRoleSupervisor {
		limits = budget.DefaultSupervisorLimits()
	}
	if opts.TimeoutMS > 0 {
		limits.WallClock = time.Duration(opts.TimeoutMS) * time.Millisecond
	}
	if opts.MaxToolCalls > 0 {
		limits.MaxToolCalls = opts.MaxToolCalls
	}
	if opts.MaxAgentSteps > 0 {
		limits.MaxAgentSteps = opts.MaxAgentSteps
	}
	return limits
}

// Cancel trips the cancellation token for executionID, if it is still
// running (§6.1 cancel). Returns "ok", "not_found", or "already_terminal".
func (o *Orchestrator) Cancel(executionID string) string {
	exec, err := o.deps.Registry.Get(executionID)
	if err != nil {
		return "not_found"
	}
	if exec.Status.IsTerminal() {
		return "already_terminal"
	}
	o.mu.Lock()
	cancel, ok := o.cancels[executionID]
	o.mu.Unlock()
	if !ok {
		return "already_terminal"
	}
	cancel()
	return "ok"
}

// GetSnapshot returns the registry's current view of executionID (§6.1
// get_snapshot). Live step-by-step progress is carried by the event stream,
// not this snapshot: the registry only reflects state as of Execute's start
// and end (and any child spawned mid-run), matching the copy-on-read
// ownership model C2 documents.
func (o *Orchestrator) GetSnapshot(executionID string) (*models.Execution, error) {
	return o.deps.Registry.Get(executionID)
}

// Subscribe opens an event stream filtered per filter (§6.1 subscribe). The
// caller owns the returned Subscription and must Close it.
func (o *Orchestrator) Subscribe(filter events.Filter) *events.Subscription {
	return o.deps.Bus.Subscribe(filter)
}

// RespondToInterrupt resolves the pending interrupt for executionID (§6.1
// respond_to_interrupt). interrupt.Manager.Respond conflates "already
// resolved" and "expired" into one sentinel once the interrupt has left
// InterruptPending, so this Peeks — and, failing that, falls back to
// StatusFor — to recover the distinction §6.1 requires.
func (o *Orchestrator) RespondToInterrupt(ctx context.Context, executionID string, resp models.InterruptResponse) string {
	if pending := o.deps.Interrupts.Peek(executionID); pending == nil {
		if status, ok := o.deps.Interrupts.StatusFor(executionID); ok {
			switch status {
			case models.InterruptExpired:
				return "expired"
			case models.InterruptResolved:
				return "already_resolved"
			}
		}
		return "not_found"
	}

	err := o.deps.Interrupts.Respond(ctx, executionID, resp)
	switch {
	case err == nil:
		return "ok"
	case err == enginerr.ErrInterruptNotFound:
		return "not_found"
	default:
		if status, ok := o.deps.Interrupts.StatusFor(executionID); ok && status == models.InterruptExpired {
			return "expired"
		}
		return "already_resolved"
	}
}

func (o *Orchestrator) setCancel(executionID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[executionID] = cancel
}

func (o *Orchestrator) clearCancel(executionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancels, executionID)
}

// recordUsage accounts for every AI message produced during this run (i.e.
// appended after seedLen) carrying usage_metadata — inherited thread history
// was already recorded by whichever Execute call originally produced it.
func (o *Orchestrator) recordUsage(ctx context.Context, exec *models.Execution, cfg models.AgentConfig, seedLen int) {
	if o.deps.Usage == nil {
		return
	}
	if seedLen > len(exec.Messages) {
		return
	}
	for _, m := range exec.Messages[seedLen:] {
		if m.Role != models.RoleAI || m.UsageMetadata == nil {
			continue
		}
		o.deps.Usage.Record(ctx, exec.ID, exec.UserID, cfg.ID, cfg.Model, *m.UsageMetadata)
	}
}

func (o *Orchestrator) emitStarted(exec *models.Execution) {
	if o.deps.Bus == nil {
		return
	}
	o.deps.Bus.Emit(context.Background(), models.Event{
		Type:        models.EventExecutionStarted,
		ExecutionID: exec.ID,
		UserID:      exec.UserID,
		Timestamp:   time.Now(),
		Execution:   &models.ExecutionEventPayload{Status: exec.Status},
	})
}

func (o *Orchestrator) emitContextPacked(agentID string, kept, dropped int) {
	if o.deps.Bus == nil {
		return
	}
	o.deps.Bus.Emit(context.Background(), models.Event{
		Type:      models.EventContextPacked,
		Timestamp: time.Now(),
		ContextPacked: &models.ContextPackedEventPayload{
			AgentID:      agentID,
			KeptMessages: kept,
			DroppedTool:  dropped,
		},
	})
}

type delegationArgs struct {
	TaskDescription string `json:"task_description"`
	Context         string `json:"context,omitempty"`
}

// delegationToken adapts a delegation.Ticket to toolruntime.DispatchToken
// so executeDelegationBatch can Await it without importing the delegation
// package itself.
type delegationToken struct {
	coordinator *delegation.Coordinator
	ticket      delegation.Ticket
}

func (t delegationToken) Await(ctx context.Context) (json.RawMessage, error) {
	result, err := t.coordinator.Await(ctx, t.ticket)
	if err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%s: %s", result.Error.Kind, result.Error.Message)
	}
	content := ""
	if result.FinalContent != nil {
		content = *result.FinalContent
	}
	return json.Marshal(map[string]any{"result": content})
}

// handleDelegateDispatch binds targetAgentID into a toolruntime.DispatchHandler
// that dispatches the handoff to the Delegation Coordinator without
// blocking on the child's completion. The execution ID a call belongs to
// is recovered from ctx (toolruntime stamps it via
// observability.AddExecutionID before invoking any handler) rather than a
// closure parameter, matching §9's "request-scoped data flows via the
// Context value, not by re-wrapping tool closures per request".
func (o *Orchestrator) handleDelegateDispatch(targetAgentID string) toolruntime.DispatchHandler {
	return func(ctx context.Context, args json.RawMessage) (toolruntime.DispatchToken, error) {
		execID := observability.GetExecutionID(ctx)
		if execID == "" {
			return nil, fmt.Errorf("delegate_to_%s invoked outside an execution context", targetAgentID)
		}
		exec, err := o.deps.Registry.Get(execID)
		if err != nil {
			return nil, err
		}

		var in delegationArgs
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("invalid delegation arguments: %w", err)
		}
		task := in.TaskDescription
		if in.Context != "" {
			task = task + "\n\ncontext: " + in.Context
		}

		depth := delegationDepth(exec)
		ticket, err := o.coordinator.Dispatch(ctx, execID, exec.AgentID, targetAgentID, task, depth)
		if err != nil {
			return nil, err
		}
		return delegationToken{coordinator: o.coordinator, ticket: ticket}, nil
	}
}

// handleDelegate is handleDelegateDispatch immediately followed by Await —
// the Handler used outside the delegation batch path (a lone delegation
// call, or the approval-gated Invoke pipeline, never reaches
// executeDelegationBatch).
func (o *Orchestrator) handleDelegate(targetAgentID string) toolruntime.Handler {
	dispatch := o.handleDelegateDispatch(targetAgentID)
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		token, err := dispatch(ctx, args)
		if err != nil {
			return nil, err
		}
		return token.Await(ctx)
	}
}

func delegationDepth(exec *models.Execution) int {
	if exec.Metadata == nil {
		return 0
	}
	if d, ok := exec.Metadata["delegation_depth"].(int); ok {
		return d
	}
	return 0
}

// spawnChild is the delegation.SpawnFunc this Orchestrator hands to its
// Coordinator: it creates and registers a child Execution, starts driving it
// in the background (on a context derived from the delegate call's own ctx,
// so a parent cancellation propagates to the child within the same cancel
// tree — §8 scenario F), and returns as soon as it is under way.
func (o *Orchestrator) spawnChild(ctx context.Context, req delegation.SpawnRequest) (string, error) {
	cfg, ok := o.deps.Agents.Get(req.TargetAgentID)
	if !ok {
		return "", enginerr.Classify(models.ErrorKindConfig, fmt.Sprintf("unknown agent %q", req.TargetAgentID), nil)
	}
	parent, err := o.deps.Registry.Get(req.ParentExecutionID)
	if err != nil {
		return "", err
	}

	threadKey := models.ThreadKeyFor(cfg.ID, models.ModeSupervised)
	child := &models.Execution{
		ID:        uuid.NewString(),
		AgentID:   cfg.ID,
		UserID:    parent.UserID,
		ThreadKey: threadKey,
		Mode:      models.ModeSupervised,
		Status:    models.StatusRunning,
		StartedAt: time.Now(),
		Messages: []models.Message{{
			ID:        uuid.NewString(),
			Role:      models.RoleHuman,
			Content:   req.Task,
			CreatedAt: time.Now(),
		}},
		ParentExecutionID: req.ParentExecutionID,
		Metadata:          map[string]any{"delegation_depth": req.Depth + 1},
	}
	o.deps.Registry.Create(child)
	o.emitStarted(child)

	key := req.Key
	go o.runChildToCompletion(ctx, child, cfg, key)

	return child.ID, nil
}

func (o *Orchestrator) runChildToCompletion(ctx context.Context, exec *models.Execution, cfg models.AgentConfig, key models.DelegationKey) {
	limits := o.effectiveLimits(cfg, RequestOptions{})
	seedLen := len(exec.Messages)

	result := o.graph.Run(ctx, exec, cfg, o.deps.resolveOptions(cfg.Model), limits)

	_ = o.deps.Registry.Update(exec.ID, func(e *models.Execution) { *e = *exec })
	o.recordUsage(ctx, exec, cfg, seedLen)
	o.threads.save(exec.ThreadKey, exec.Messages)
	o.saveCheckpoint(ctx, exec)

	o.coordinator.Resolve(key, &result)
}
