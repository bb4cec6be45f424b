package models

import "time"

// InterruptStatus is the state machine position of a pending approval.
type InterruptStatus string

const (
	InterruptCreated  InterruptStatus = "created"
	InterruptPending  InterruptStatus = "pending"
	InterruptResolved InterruptStatus = "resolved"
	InterruptExpired  InterruptStatus = "expired"
	InterruptDone     InterruptStatus = "done"
)

// InterruptConfig controls which response types a UI may offer for a given
// pending approval.
type InterruptConfig struct {
	AllowAccept  bool `json:"allow_accept"`
	AllowEdit    bool `json:"allow_edit"`
	AllowRespond bool `json:"allow_respond"`
	AllowIgnore  bool `json:"allow_ignore"`
}

// Interrupt is a paused tool call awaiting a human decision.
type Interrupt struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	ThreadKey   string          `json:"thread_key"`
	ToolCall    ToolCallRequest `json:"tool_call"`
	Config      InterruptConfig `json:"config"`
	Description string          `json:"description"`
	Status      InterruptStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// InterruptRespType discriminates an InterruptResponse.
type InterruptRespType string

const (
	RespAccept  InterruptRespType = "accept"
	RespEdit    InterruptRespType = "edit"
	RespRespond InterruptRespType = "respond"
	RespIgnore  InterruptRespType = "ignore"
)

// InterruptResponse is the external UI's decision on a pending Interrupt.
type InterruptResponse struct {
	Type InterruptRespType `json:"type"`
	Args []byte            `json:"args,omitempty"`
	Text string            `json:"text,omitempty"`
}
