package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventType_Constants(t *testing.T) {
	tests := []struct {
		constant EventType
		expected string
	}{
		{EventExecutionStarted, "execution.started"},
		{EventExecutionCompleted, "execution.completed"},
		{EventExecutionFailed, "execution.failed"},
		{EventExecutionStep, "execution.step"},
		{EventToolInvoking, "tool.invoking"},
		{EventToolCompleted, "tool.completed"},
		{EventDelegationRequested, "delegation.requested"},
		{EventDelegationProgress, "delegation.progress"},
		{EventDelegationCompleted, "delegation.completed"},
		{EventApprovalRequested, "approval.requested"},
		{EventApprovalResolved, "approval.resolved"},
		{EventUsageRecorded, "usage.recorded"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Event{
		Type:        EventToolCompleted,
		ExecutionID: "exec-1",
		Timestamp:   now,
		Sequence:    3,
		Tool: &ToolEventPayload{
			CallID:     "call-1",
			Name:       "get_current_time",
			Success:    true,
			DurationMS: 42,
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.Type != original.Type {
		t.Errorf("Type = %v, want %v", decoded.Type, original.Type)
	}
	if decoded.Sequence != original.Sequence {
		t.Errorf("Sequence = %d, want %d", decoded.Sequence, original.Sequence)
	}
	if decoded.Tool == nil || decoded.Tool.Name != "get_current_time" {
		t.Fatalf("Tool payload not preserved: %+v", decoded.Tool)
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   ExecutionStatus
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusAwaitingApproval, false},
		{StatusDelegating, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
		{StatusTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestThreadKeyFor(t *testing.T) {
	if got := ThreadKeyFor("billing", ModeDirect); got != "billing_direct" {
		t.Errorf("ThreadKeyFor = %q, want %q", got, "billing_direct")
	}
	if got := ThreadKeyFor("billing", ModeSupervised); got != "billing_supervised" {
		t.Errorf("ThreadKeyFor = %q, want %q", got, "billing_supervised")
	}
}

func TestExecution_Clone_IsIndependent(t *testing.T) {
	e := &Execution{
		ID:       "exec-1",
		Messages: []Message{{ID: "m1", Role: RoleHuman, Content: "hi"}},
		Metadata: map[string]any{"k": "v"},
	}

	cp := e.Clone()
	cp.Messages[0].Content = "mutated"
	cp.Metadata["k"] = "changed"

	if e.Messages[0].Content != "hi" {
		t.Errorf("original mutated via clone: %q", e.Messages[0].Content)
	}
	if e.Metadata["k"] != "v" {
		t.Errorf("original metadata mutated via clone: %v", e.Metadata["k"])
	}
}

func TestDelegationKey_String_Stable(t *testing.T) {
	k1 := DelegationKey{ParentExecutionID: "p1", SourceAgentID: "s1", TargetAgentCanonicalID: "t1", TaskHash: HashTask("do x")}
	k2 := DelegationKey{ParentExecutionID: "p1", SourceAgentID: "s1", TargetAgentCanonicalID: "t1", TaskHash: HashTask("do x")}
	k3 := DelegationKey{ParentExecutionID: "p1", SourceAgentID: "s1", TargetAgentCanonicalID: "t1", TaskHash: HashTask("do y")}

	if k1.String() != k2.String() {
		t.Errorf("identical keys produced different strings: %q vs %q", k1.String(), k2.String())
	}
	if k1.String() == k3.String() {
		t.Error("different tasks hashed to the same key")
	}
}
