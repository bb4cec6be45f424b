// Package checkpoint implements the Checkpoint Store (C11): it persists a
// graph's resumable state on interrupt so that resumption survives a
// process restart. The contract is deliberately narrow — save(execution_id,
// state_blob) and load(execution_id) -> state_blob | None — with the
// in-memory store as the default and SQL/Postgres stores as pluggable
// durable replacements.
package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/fluxorch/engine/pkg/models"
)

// SchemaVersion is the leading field of every serialized Blob so a future
// loader can detect and migrate an older format instead of failing closed.
const SchemaVersion = 1

// Blob is the opaque (to external consumers) snapshot of an Execution's
// resumable state: its message history, audit steps, node pointer, and
// agent step count, plus the identifying fields needed to reconstruct the
// Execution it was taken from.
type Blob struct {
	SchemaVersion     int                    `json:"schema_version"`
	ExecutionID       string                 `json:"execution_id"`
	AgentID           string                 `json:"agent_id"`
	UserID            string                 `json:"user_id"`
	ThreadKey         string                 `json:"thread_key"`
	ParentExecutionID string                 `json:"parent_execution_id,omitempty"`
	Mode              models.ExecutionMode   `json:"mode"`
	Status            models.ExecutionStatus `json:"status"`
	StartedAt         time.Time              `json:"started_at"`
	Messages          []models.Message       `json:"messages"`
	Steps             []models.ExecutionStep `json:"steps"`
	NodePointer       string                 `json:"node_pointer"`
	AgentStepsCount   int                    `json:"agent_steps_count"`
	UsageAccum        models.Usage           `json:"usage_accum"`
	Metadata          map[string]any         `json:"metadata,omitempty"`
}

// Node pointer values a Blob can resume at. The graph itself is a small
// fixed loop (agent -> check_approval -> approval -> tools -> agent), so the
// pointer only needs to name which edge of that loop to re-enter on.
const (
	NodeAgent           = "agent"
	NodeAwaitingApproval = "awaiting_approval"
	NodeTools           = "tools"
)

// CountAgentSteps counts the "thinking" steps recorded so far, the same
// unit budget.Limits.MaxAgentSteps bounds — shared by every caller that
// needs to capture a Blob's AgentStepsCount at save time.
func CountAgentSteps(exec *models.Execution) int {
	n := 0
	for _, s := range exec.Steps {
		if s.Kind == models.StepThinking {
			n++
		}
	}
	return n
}

// FromExecution captures exec's resumable state into a Blob. nodePointer
// and agentSteps are supplied by the caller (the Orchestrator knows where
// in the loop exec was paused; Execution itself does not track a node
// pointer since outside of an interrupt it always resumes at NodeAgent).
func FromExecution(exec *models.Execution, nodePointer string, agentSteps int) Blob {
	if nodePointer == "" {
		nodePointer = NodeAgent
	}
	return Blob{
		SchemaVersion:     SchemaVersion,
		ExecutionID:       exec.ID,
		AgentID:           exec.AgentID,
		UserID:            exec.UserID,
		ThreadKey:         exec.ThreadKey,
		ParentExecutionID: exec.ParentExecutionID,
		Mode:              exec.Mode,
		Status:            exec.Status,
		StartedAt:         exec.StartedAt,
		Messages:          append([]models.Message(nil), exec.Messages...),
		Steps:             append([]models.ExecutionStep(nil), exec.Steps...),
		NodePointer:       nodePointer,
		AgentStepsCount:   agentSteps,
		UsageAccum:        exec.UsageAccum,
		Metadata:          exec.Metadata,
	}
}

// ApplyTo reconstructs the resumable fields of an Execution from b. Status
// is left at StatusRunning regardless of the persisted status — resuming a
// checkpoint always re-enters the graph loop, it never replays a terminal
// outcome. NodePointer is deliberately not one of the fields ApplyTo
// restores: Execution itself has no node-pointer field (outside of an
// interrupt it always resumes at NodeAgent), so the caller reads b's
// NodePointer directly and passes it to graph.Executor.Resume instead.
func (b Blob) ApplyTo(exec *models.Execution) {
	exec.ID = b.ExecutionID
	exec.AgentID = b.AgentID
	exec.UserID = b.UserID
	exec.ThreadKey = b.ThreadKey
	exec.ParentExecutionID = b.ParentExecutionID
	exec.Mode = b.Mode
	exec.Status = models.StatusRunning
	exec.StartedAt = b.StartedAt
	exec.Messages = append([]models.Message(nil), b.Messages...)
	exec.Steps = append([]models.ExecutionStep(nil), b.Steps...)
	exec.UsageAccum = b.UsageAccum
	exec.Metadata = b.Metadata
}

// Marshal serializes b to JSON with schema_version as the leading field.
func Marshal(b Blob) ([]byte, error) {
	b.SchemaVersion = SchemaVersion
	return json.Marshal(b)
}

// Unmarshal parses a JSON-serialized Blob.
func Unmarshal(data []byte) (Blob, error) {
	var b Blob
	if err := json.Unmarshal(data, &b); err != nil {
		return Blob{}, err
	}
	return b, nil
}
