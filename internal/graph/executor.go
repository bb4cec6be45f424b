// Package graph implements the Graph Builder & Executor (C8): the small
// directed graph (agent -> check_approval -> approval -> tools -> agent,
// with a terminal exit) that drives one Execution to completion.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fluxorch/engine/internal/budget"
	"github.com/fluxorch/engine/internal/checkpoint"
	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/internal/events"
	"github.com/fluxorch/engine/internal/interrupt"
	"github.com/fluxorch/engine/internal/modelfactory"
	"github.com/fluxorch/engine/internal/toolruntime"
	"github.com/fluxorch/engine/pkg/models"
)

// finalizeHint is the system nudge appended to the one last agent call the
// executor forces when a loop budget is exhausted (§4.3: budget_exceeded is
// a force-finalize, not a failure).
const finalizeHint = "You have reached the maximum number of steps or tool calls allowed for this task. Provide your best final answer now and do not call any more tools."

// ModelProvider is the subset of *modelfactory.Factory the executor needs,
// narrowed to an interface so tests can substitute a fake client without
// a real provider credential.
type ModelProvider interface {
	Get(modelID string, opts modelfactory.Options) (modelfactory.LLMClient, error)
}

// Deps bundles every component the executor consults while driving a
// graph: C4 for the LLM client, C5 for tool execution, C6 for approval
// pauses, and C3 for the loop/wall-clock budget. C1 is optional — a nil Bus
// means step/execution events are not emitted.
type Deps struct {
	Models     ModelProvider
	Tools      *toolruntime.Registry
	Interrupts *interrupt.Manager
	Budget     *budget.Manager
	Bus        *events.Bus

	// Checkpoint, if set, is saved at every point the loop is about to
	// block on something that can cross a process boundary (an approval
	// wait, or a tool/delegation batch), so a Resume after a crash can
	// re-enter at that exact node instead of restarting the agent turn.
	Checkpoint checkpoint.Store
}

// Executor compiles and drives an agent's node graph to a terminal state.
type Executor struct {
	deps Deps
}

// New constructs an Executor from deps.
func New(deps Deps) *Executor {
	return &Executor{deps: deps}
}

// Run drives exec through cfg's graph from a fresh agent turn until it
// reaches a terminal status, mutating exec in place. exec is assumed to be
// exclusively owned by the caller's goroutine, matching the registry's
// copy-on-read contract (§3 Ownership) — Run never reads exec concurrently
// with anyone else writing it. limits is the per-execution budget override
// the Orchestrator's request.options carries (§6.1); its zero value
// applies C3's role-keyed defaults.
func (e *Executor) Run(ctx context.Context, exec *models.Execution, cfg models.AgentConfig, modelOpts modelfactory.Options, limits budget.Limits) models.ExecutionResult {
	return e.run(ctx, exec, cfg, modelOpts, limits, checkpoint.NodeAgent)
}

// Resume is Run's counterpart for continuing a checkpointed Execution:
// resumeNode (checkpoint.NodeAgent/NodeAwaitingApproval/NodeTools) names
// which edge of the loop exec was paused at when its checkpoint was taken.
// A resumeNode other than NodeAgent skips calling the LLM for the first
// iteration and instead resolves/executes the tool_calls already attached
// to exec's last AI message — the pending work the checkpoint was taken
// to preserve (Testable Property 9: resumption continues from the same
// node pointer with identical message history, not a replayed LLM call).
func (e *Executor) Resume(ctx context.Context, exec *models.Execution, cfg models.AgentConfig, modelOpts modelfactory.Options, limits budget.Limits, resumeNode string) models.ExecutionResult {
	return e.run(ctx, exec, cfg, modelOpts, limits, resumeNode)
}

func (e *Executor) run(ctx context.Context, exec *models.Execution, cfg models.AgentConfig, modelOpts modelfactory.Options, limits budget.Limits, resumeNode string) models.ExecutionResult {
	e.deps.Budget.Start(exec.ID, cfg.Role, limits, budget.ExtensionPolicy{})
	defer e.deps.Budget.Stop(exec.ID)

	client, err := e.deps.Models.Get(cfg.Model, modelOpts)
	if err != nil && enginerr.KindOf(err) == models.ErrorKindProviderUnavailable && cfg.FallbackModel != "" {
		e.appendStep(exec, models.StepThinking, cfg.ID, fmt.Sprintf("model %q unavailable, falling back to %q", cfg.Model, cfg.FallbackModel), map[string]any{"fallback": true})
		client, err = e.deps.Models.Get(cfg.FallbackModel, modelOpts)
	}
	if err != nil {
		return e.fail(exec, enginerr.KindOf(err), err.Error(), false)
	}

	toolSpecs := e.buildToolSpecs(cfg)
	forceFinal := false
	pending := resumeNode

	for {
		if ctx.Err() != nil {
			return e.cancel(exec)
		}
		if reason := e.deps.Budget.CheckWallClock(exec.ID, time.Now()); reason == budget.ReasonWallClock {
			return e.timeout(exec)
		}

		var toolCalls []models.ToolCall
		if pending == checkpoint.NodeAwaitingApproval || pending == checkpoint.NodeTools {
			// Both resume points re-derive toExecute through resolveApprovals
			// rather than trusting a persisted toExecute list: a NodeTools
			// checkpoint is taken immediately before ExecuteBatchApproved, but
			// nothing records which calls in that batch had already cleared
			// approval, so the safe reconstruction is to run the approval
			// check fresh. For tools that never required approval this is a
			// no-op; for ones that did, it re-prompts rather than risk
			// executing a tool whose approval state was lost to the crash.
			last, ok := lastAIToolCallMessage(exec.Messages)
			if !ok {
				return e.fail(exec, models.ErrorKindValidation, "checkpoint resume point has no pending tool calls", true)
			}
			toolCalls = last.ToolCalls
			pending = ""
		} else {
			pending = ""

			if e.deps.Budget.RecordAgentStep(exec.ID).IsForceFinalize() {
				forceFinal = true
			}

			specsForCall := toolSpecs
			systemPrompt := cfg.SystemPrompt
			if forceFinal {
				specsForCall = nil
				systemPrompt = systemPrompt + "\n\n" + finalizeHint
			}

			result, err := client.Invoke(ctx, systemPrompt, exec.Messages, specsForCall)
			if err != nil {
				return e.fail(exec, models.ErrorKindModel, err.Error(), len(exec.Messages) > 0)
			}

			usage := result.Usage
			aiMsg := models.Message{
				ID:            uuid.NewString(),
				Role:          models.RoleAI,
				Content:       result.Content,
				ToolCalls:     result.ToolCalls,
				UsageMetadata: &usage,
				CreatedAt:     time.Now(),
			}
			exec.Messages = append(exec.Messages, aiMsg)
			exec.UsageAccum.Add(models.Usage{
				InputTokens:  usage.InputTokens,
				OutputTokens: usage.OutputTokens,
				TotalTokens:  usage.TotalTokens,
			})
			e.appendStep(exec, models.StepThinking, cfg.ID, aiMsg.Content, nil)

			// agent -> terminal if no tool_calls; force-finalize also always
			// exits here regardless of what the last call produced.
			if forceFinal || len(aiMsg.ToolCalls) == 0 {
				return e.complete(exec, aiMsg.Content)
			}
			toolCalls = aiMsg.ToolCalls
		}

		// check_approval -> approval (sequential, one interrupt at a time)
		toExecute, fabricated, err := e.resolveApprovals(ctx, exec, cfg, toolCalls)
		if err != nil {
			return e.fail(exec, enginerr.KindOf(err), err.Error(), true)
		}
		exec.Messages = append(exec.Messages, fabricated...)

		// tools (parallel/sequential split delegated to C5's ExecuteBatch)
		if len(toExecute) > 0 {
			exec.Status = models.StatusDelegating
			e.checkpointAt(ctx, exec, checkpoint.NodeTools)

			outcomes := e.deps.Tools.ExecuteBatchApproved(ctx, exec.ID, toExecute)
			exec.Status = models.StatusRunning
			for _, o := range outcomes {
				if e.deps.Budget.RecordToolCall(exec.ID).IsForceFinalize() {
					forceFinal = true
				}
				msg := e.resultMessage(o)
				exec.Messages = append(exec.Messages, msg)
				e.appendStep(exec, models.StepToolResult, cfg.ID, o.Request.Name, map[string]any{"tool_call_id": o.Request.ID})
			}
		}
		// tools -> agent
	}
}

// lastAIToolCallMessage returns the most recent AI message carrying
// tool_calls, searching from the end of messages — the pending work a
// NodeAwaitingApproval/NodeTools checkpoint was taken against.
func lastAIToolCallMessage(messages []models.Message) (models.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAI {
			if len(messages[i].ToolCalls) == 0 {
				return models.Message{}, false
			}
			return messages[i], true
		}
	}
	return models.Message{}, false
}

// checkpointAt persists exec's resumable state at node if a Checkpoint
// store is configured. Best-effort: a failed save is not surfaced, since
// checkpointing is a durability aid for crossing a process boundary, not
// part of Run's contract.
func (e *Executor) checkpointAt(ctx context.Context, exec *models.Execution, node string) {
	if e.deps.Checkpoint == nil {
		return
	}
	blob := checkpoint.FromExecution(exec, node, checkpoint.CountAgentSteps(exec))
	_ = e.deps.Checkpoint.Save(ctx, exec.ID, blob)
}

// resolveApprovals walks toolCalls in emission order, raising an Interrupt
// for each one whose tool requires approval and applying the response per
// §4.8's approval node: accept leaves args unchanged, edit replaces them,
// respond/ignore skip execution entirely and fabricate a Tool message
// instead. Calls that never required approval pass through untouched.
func (e *Executor) resolveApprovals(ctx context.Context, exec *models.Execution, cfg models.AgentConfig, toolCalls []models.ToolCall) ([]models.ToolCallRequest, []models.Message, error) {
	toExecute := make([]models.ToolCallRequest, 0, len(toolCalls))
	var fabricated []models.Message

	for _, tc := range toolCalls {
		req := models.ToolCallRequest{ID: tc.ID, Name: tc.Name, ArgsJSON: tc.Args}

		def, _ := e.deps.Tools.Get(tc.Name)
		if !models.EffectiveApprovalRequired(cfg.ApprovalPolicy, tc.Name, def.RequiresApproval) {
			toExecute = append(toExecute, req)
			continue
		}

		e.appendStep(exec, models.StepApprovalRequest, cfg.ID, tc.Name, map[string]any{"tool_call_id": tc.ID})

		exec.Status = models.StatusAwaitingApproval
		e.checkpointAt(ctx, exec, checkpoint.NodeAwaitingApproval)

		resp, err := e.deps.Interrupts.Request(ctx, exec.ID, exec.ThreadKey, req,
			models.InterruptConfig{AllowAccept: true, AllowEdit: true, AllowRespond: true, AllowIgnore: true},
			fmt.Sprintf("approval requested for tool %q", tc.Name))
		exec.Status = models.StatusRunning
		if err != nil {
			return nil, nil, err
		}

		e.appendStep(exec, models.StepApprovalResponse, cfg.ID, string(resp.Type), map[string]any{"tool_call_id": tc.ID})

		switch resp.Type {
		case models.RespAccept:
			toExecute = append(toExecute, req)
		case models.RespEdit:
			req.ArgsJSON = resp.Args
			toExecute = append(toExecute, req)
		case models.RespRespond:
			fabricated = append(fabricated, e.toolMessage(tc.ID, resp.Text, false))
		case models.RespIgnore:
			fabricated = append(fabricated, e.toolMessage(tc.ID, "cancelled by user", false))
		}
	}

	return toExecute, fabricated, nil
}

func (e *Executor) buildToolSpecs(cfg models.AgentConfig) []modelfactory.ToolSpec {
	specs := make([]modelfactory.ToolSpec, 0, len(cfg.ToolNames))
	for _, name := range cfg.ToolNames {
		def, ok := e.deps.Tools.Get(name)
		if !ok {
			continue
		}
		specs = append(specs, modelfactory.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Schema:      def.SchemaJSON,
		})
	}
	return specs
}

func (e *Executor) resultMessage(o toolruntime.BatchOutcome) models.Message {
	if o.Err != nil {
		return e.toolMessage(o.Request.ID, o.Err.Error(), true)
	}
	r := o.Outcome.Result
	if r == nil || !r.OK {
		msg := "tool execution failed"
		if r != nil && r.ErrorMessage != "" {
			msg = r.ErrorMessage
		}
		return e.toolMessage(o.Request.ID, msg, true)
	}
	return e.toolMessage(o.Request.ID, string(r.ValueJSON), false)
}

func (e *Executor) toolMessage(callID, content string, isError bool) models.Message {
	return models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		Content:    content,
		ToolCallID: callID,
		IsError:    isError,
		CreatedAt:  time.Now(),
	}
}

func (e *Executor) complete(exec *models.Execution, finalContent string) models.ExecutionResult {
	now := time.Now()
	exec.Status = models.StatusCompleted
	exec.EndedAt = &now
	e.appendStep(exec, models.StepFinalize, "", finalContent, nil)
	e.emitExecution(exec, models.EventExecutionCompleted, finalContent, "", "", false)
	content := finalContent
	return models.ExecutionResult{ExecutionID: exec.ID, Status: exec.Status, FinalContent: &content, Usage: exec.UsageAccum}
}

func (e *Executor) fail(exec *models.Execution, kind models.ErrorKind, message string, partial bool) models.ExecutionResult {
	return e.terminate(exec, models.StatusFailed, kind, message, partial)
}

func (e *Executor) timeout(exec *models.Execution) models.ExecutionResult {
	return e.terminate(exec, models.StatusTimedOut, models.ErrorKindTimeout, "execution wall-clock budget exceeded", true)
}

func (e *Executor) cancel(exec *models.Execution) models.ExecutionResult {
	return e.terminate(exec, models.StatusCancelled, models.ErrorKindCancelled, "execution cancelled", true)
}

func (e *Executor) terminate(exec *models.Execution, status models.ExecutionStatus, kind models.ErrorKind, message string, partial bool) models.ExecutionResult {
	now := time.Now()
	exec.Status = status
	exec.EndedAt = &now
	e.appendStep(exec, models.StepError, "", message, map[string]any{"kind": string(kind)})
	e.emitExecution(exec, models.EventExecutionFailed, "", kind, message, partial)
	return models.ExecutionResult{
		ExecutionID: exec.ID,
		Status:      status,
		Usage:       exec.UsageAccum,
		Error:       &models.ExecutionError{Kind: kind, Message: message, Partial: partial},
	}
}

func (e *Executor) appendStep(exec *models.Execution, kind models.ExecutionStepKind, agentID, content string, meta map[string]any) {
	step := models.ExecutionStep{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Kind:      kind,
		AgentID:   agentID,
		Content:   content,
		Metadata:  meta,
	}
	exec.Steps = append(exec.Steps, step)

	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Emit(context.Background(), models.Event{
		Type:        models.EventExecutionStep,
		ExecutionID: exec.ID,
		Timestamp:   time.Now(),
		Execution:   &models.ExecutionEventPayload{Step: &step},
	})
}

func (e *Executor) emitExecution(exec *models.Execution, typ models.EventType, finalContent string, kind models.ErrorKind, message string, partial bool) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Emit(context.Background(), models.Event{
		Type:        typ,
		ExecutionID: exec.ID,
		UserID:      exec.UserID,
		Timestamp:   time.Now(),
		Execution: &models.ExecutionEventPayload{
			Status:       exec.Status,
			FinalContent: finalContent,
			ErrorKind:    kind,
			ErrorMessage: message,
			Partial:      partial,
		},
	})
}
