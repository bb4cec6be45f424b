package models

import "time"

// EventType identifies a variant of the Event tagged union.
type EventType string

const (
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"
	EventExecutionStep      EventType = "execution.step"
	EventToolInvoking       EventType = "tool.invoking"
	EventToolCompleted      EventType = "tool.completed"
	EventDelegationRequested EventType = "delegation.requested"
	EventDelegationProgress  EventType = "delegation.progress"
	EventDelegationCompleted EventType = "delegation.completed"
	EventApprovalRequested   EventType = "approval.requested"
	EventApprovalResolved    EventType = "approval.resolved"
	EventUsageRecorded       EventType = "usage.recorded"
	EventSubscriberLagged    EventType = "subscriber.lagged"
	EventContextPacked       EventType = "context.packed"
)

// Event is the tagged union every component emits onto the bus. Exactly one
// payload field is populated for a given Type; Sequence is monotonic within
// an execution so subscribers can detect gaps after an overflow drop.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	UserID      string    `json:"user_id,omitempty"`
	Timestamp   time.Time `json:"ts"`
	Sequence    uint64    `json:"seq"`

	Execution  *ExecutionEventPayload  `json:"execution,omitempty"`
	Tool       *ToolEventPayload       `json:"tool,omitempty"`
	Delegation *DelegationEventPayload `json:"delegation,omitempty"`
	Approval   *ApprovalEventPayload   `json:"approval,omitempty"`
	Usage      *UsageEventPayload      `json:"usage,omitempty"`
	ContextPacked *ContextPackedEventPayload `json:"context_packed,omitempty"`
}

// ExecutionEventPayload covers execution.started/completed/failed/step.
type ExecutionEventPayload struct {
	Status       ExecutionStatus `json:"status,omitempty"`
	FinalContent string          `json:"final_content,omitempty"`
	Step         *ExecutionStep  `json:"step,omitempty"`
	ErrorKind    ErrorKind       `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Partial      bool            `json:"partial,omitempty"`
}

// ToolEventPayload covers tool.invoking/completed.
type ToolEventPayload struct {
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Success    bool   `json:"success,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// DelegationEventPayload covers delegation.requested/progress/completed.
type DelegationEventPayload struct {
	TargetAgentID string `json:"target_agent_id"`
	ChildExecID   string `json:"child_execution_id,omitempty"`
	Progress      int    `json:"progress,omitempty"`
	Succeeded     bool   `json:"succeeded,omitempty"`
}

// ApprovalEventPayload covers approval.requested/resolved.
type ApprovalEventPayload struct {
	InterruptID  string           `json:"interrupt_id"`
	ToolCallName string           `json:"tool_call_name,omitempty"`
	Resolution   InterruptRespType `json:"resolution,omitempty"`
}

// ContextPackedEventPayload covers context.packed, emitted whenever a
// supervised-mode execution narrows its thread history before the first
// agent step (§4.9 step 4).
type ContextPackedEventPayload struct {
	AgentID      string `json:"agent_id"`
	KeptMessages int    `json:"kept_messages"`
	DroppedTool  int    `json:"dropped_tool_messages"`
}

// UsageEventPayload covers usage.recorded.
type UsageEventPayload struct {
	UserID       string  `json:"user_id"`
	AgentID      string  `json:"agent_id"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Credits      float64 `json:"credits"`
}
