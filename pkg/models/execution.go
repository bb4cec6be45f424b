package models

import "time"

// ExecutionMode selects whether an execution runs a specialist directly or
// is routed through a supervisor's delegation graph.
type ExecutionMode string

const (
	ModeDirect     ExecutionMode = "direct"
	ModeSupervised ExecutionMode = "supervised"
)

// ExecutionStatus is the lifecycle state of an Execution. Once in a
// terminal state (Completed, Failed, Cancelled, TimedOut) it never changes.
type ExecutionStatus string

const (
	StatusPending          ExecutionStatus = "pending"
	StatusRunning          ExecutionStatus = "running"
	StatusAwaitingApproval ExecutionStatus = "awaiting_approval"
	StatusDelegating       ExecutionStatus = "delegating"
	StatusCompleted        ExecutionStatus = "completed"
	StatusFailed           ExecutionStatus = "failed"
	StatusCancelled        ExecutionStatus = "cancelled"
	StatusTimedOut         ExecutionStatus = "timed_out"
)

// IsTerminal reports whether s is one of the monotone terminal states.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// ExecutionStepKind classifies an ExecutionStep.
type ExecutionStepKind string

const (
	StepThinking         ExecutionStepKind = "thinking"
	StepToolCall         ExecutionStepKind = "tool_call"
	StepToolResult       ExecutionStepKind = "tool_result"
	StepDelegationStart  ExecutionStepKind = "delegation_start"
	StepDelegationEnd    ExecutionStepKind = "delegation_end"
	StepApprovalRequest  ExecutionStepKind = "approval_request"
	StepApprovalResponse ExecutionStepKind = "approval_response"
	StepError            ExecutionStepKind = "error"
	StepFinalize          ExecutionStepKind = "finalize"
)

// ExecutionStep is one append-only entry in an Execution's audit trail.
type ExecutionStep struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      ExecutionStepKind `json:"kind"`
	AgentID   string            `json:"agent_id"`
	Content   string            `json:"content"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// ErrorKind is the non-retryable-vs-retryable error classification surfaced
// on a failed Execution.
type ErrorKind string

const (
	ErrorKindConfig             ErrorKind = "config_error"
	ErrorKindValidation         ErrorKind = "validation_error"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindTool               ErrorKind = "tool_error"
	ErrorKindModel              ErrorKind = "model_error"
	ErrorKindApprovalTimeout    ErrorKind = "approval_timeout"
	ErrorKindDelegationDepth    ErrorKind = "delegation_depth_exceeded"
	ErrorKindBudgetExceeded     ErrorKind = "budget_exceeded"
	ErrorKindCancelled          ErrorKind = "cancelled"
	ErrorKindProviderUnavailable ErrorKind = "provider_unavailable"
)

// ExecutionError is the structured failure reported in an ExecutionResult.
type ExecutionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Partial bool      `json:"partial"`
}

// Usage is the accumulated token/cost accounting for an Execution.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates other into u in place.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

// Execution is one end-to-end run of the orchestrator, owned exclusively by
// its graph executor goroutine; external readers only ever see a copy
// produced by the registry.
type Execution struct {
	ID                string          `json:"id"`
	AgentID           string          `json:"agent_id"`
	UserID            string          `json:"user_id"`
	ThreadKey         string          `json:"thread_key"`
	Mode              ExecutionMode   `json:"mode"`
	Status            ExecutionStatus `json:"status"`
	StartedAt         time.Time       `json:"started_at"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
	Messages          []Message       `json:"messages"`
	Steps             []ExecutionStep `json:"steps"`
	UsageAccum        Usage           `json:"usage_accum"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	ParentExecutionID string          `json:"parent_execution_id,omitempty"`
}

// ThreadKeyFor computes the thread segregation key for an (agent, mode)
// pair: executions sharing a thread key share message history, executions
// in different modes never do.
func ThreadKeyFor(agentID string, mode ExecutionMode) string {
	return agentID + "_" + string(mode)
}

// Clone returns a deep-enough copy of e suitable for a copy-on-read
// registry snapshot: slices and the metadata map are copied, nested message
// fields are not independently mutated by callers and are shared by value.
func (e *Execution) Clone() *Execution {
	cp := *e
	if e.EndedAt != nil {
		t := *e.EndedAt
		cp.EndedAt = &t
	}
	cp.Messages = append([]Message(nil), e.Messages...)
	cp.Steps = append([]ExecutionStep(nil), e.Steps...)
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// ExecutionResult is what the Orchestrator's execute operation returns.
type ExecutionResult struct {
	ExecutionID  string          `json:"execution_id"`
	Status       ExecutionStatus `json:"status"`
	FinalContent *string         `json:"final_content"`
	Usage        Usage           `json:"usage"`
	Error        *ExecutionError `json:"error,omitempty"`
}
