package models

import (
	"encoding/json"
	"path"
	"time"
)

// Role indicates a Message's author kind.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
)

// AgentRole classifies an AgentConfig's position in a delegation graph.
type AgentRole string

const (
	AgentRoleSupervisor AgentRole = "supervisor"
	AgentRoleSpecialist AgentRole = "specialist"
	AgentRoleSubAgent   AgentRole = "sub-agent"
)

// AgentConfig is the immutable per-execution agent definition. A supervisor's
// ToolNames must include a delegate_to_<sub_agent_id> tool for every entry in
// SubAgentIDs.
type AgentConfig struct {
	ID            string    `json:"id"`
	Role          AgentRole `json:"role"`
	Model         string    `json:"model"`
	Temperature   float64   `json:"temperature"`
	MaxTokens     int       `json:"max_tokens"`
	SystemPrompt  string    `json:"system_prompt"`
	ToolNames     []string  `json:"tool_names"`
	SubAgentIDs   []string  `json:"sub_agent_ids,omitempty"`
	ParentAgentID string    `json:"parent_agent_id,omitempty"`
	Tags          []string  `json:"tags,omitempty"`

	// ApprovalPolicy, if set, overrides a tool's registered
	// RequiresApproval for calls this agent makes.
	ApprovalPolicy *ApprovalPolicy `json:"approval_policy,omitempty"`

	// FallbackModel is tried once, in place of Model, if the primary
	// model invocation fails with ErrorKindProviderUnavailable.
	FallbackModel string `json:"fallback_model,omitempty"`
}

// HasTool reports whether name appears in ToolNames.
func (c *AgentConfig) HasTool(name string) bool {
	for _, t := range c.ToolNames {
		if t == name {
			return true
		}
	}
	return false
}

// ApprovalDecision is the outcome of consulting an ApprovalPolicy for a
// given tool name.
type ApprovalDecision string

const (
	ApprovalInherit ApprovalDecision = "inherit" // defer to the tool's own RequiresApproval
	ApprovalRequire ApprovalDecision = "require"
	ApprovalWaive   ApprovalDecision = "waive"
)

// ApprovalPolicy lets an agent tighten or loosen the interrupt requirement a
// tool was registered with. Patterns are matched with path.Match semantics
// (so "delegate_to_*" matches every delegation tool); Require is checked
// before Waive, and the first matching pattern in each list wins.
type ApprovalPolicy struct {
	Require []string `json:"require,omitempty"`
	Waive   []string `json:"waive,omitempty"`
}

// Decide reports how p overrides toolName's default approval requirement.
func (p *ApprovalPolicy) Decide(toolName string) ApprovalDecision {
	if p == nil {
		return ApprovalInherit
	}
	for _, pattern := range p.Require {
		if matchApprovalPattern(pattern, toolName) {
			return ApprovalRequire
		}
	}
	for _, pattern := range p.Waive {
		if matchApprovalPattern(pattern, toolName) {
			return ApprovalWaive
		}
	}
	return ApprovalInherit
}

func matchApprovalPattern(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// EffectiveApprovalRequired folds an ApprovalPolicy's decision over a tool's
// registered default.
func EffectiveApprovalRequired(policy *ApprovalPolicy, toolName string, toolDefault bool) bool {
	switch policy.Decide(toolName) {
	case ApprovalRequire:
		return true
	case ApprovalWaive:
		return false
	default:
		return toolDefault
	}
}

// ToolCall is an LLM's request to invoke a tool, carried on an AI message.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// UsageMetadata is the token accounting an LLM client reports alongside a
// completion.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Message is the discriminated variant {system, human, ai, tool} that makes
// up an Execution's append-only history. ToolCalls and UsageMetadata are
// only meaningful on Role == RoleAI; ToolCallID only on Role == RoleTool.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`
	UsageMetadata *UsageMetadata `json:"usage_metadata,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ToolCallRequest is the normalized form of a ToolCall handed to the tool
// runtime for execution.
type ToolCallRequest struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	ArgsJSON json.RawMessage `json:"args_json"`
}

// ToolCallResult is the outcome of executing a ToolCallRequest. Exactly one
// of ValueJSON / ErrorMessage is populated.
type ToolCallResult struct {
	ID           string          `json:"id"`
	OK           bool            `json:"ok"`
	ValueJSON    json.RawMessage `json:"value_json,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
}
