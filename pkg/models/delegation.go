package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// DelegationKey canonicalizes a handoff attempt so concurrent or repeated
// calls targeting the same work dedupe onto a single child execution.
type DelegationKey struct {
	ParentExecutionID      string `json:"parent_execution_id"`
	SourceAgentID          string `json:"source_agent_id"`
	TargetAgentCanonicalID string `json:"target_agent_canonical_id"`
	TaskHash               string `json:"task_hash"`
}

// HashTask derives the TaskHash component of a DelegationKey from the
// caller-supplied task description/context text.
func HashTask(task string) string {
	sum := sha256.Sum256([]byte(task))
	return hex.EncodeToString(sum[:])
}

// String renders a stable cache-map key for the coordinator's concurrent map.
func (k DelegationKey) String() string {
	return k.ParentExecutionID + "|" + k.SourceAgentID + "|" + k.TargetAgentCanonicalID + "|" + k.TaskHash
}
