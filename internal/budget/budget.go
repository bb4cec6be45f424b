// Package budget implements the Budget/Timeout Manager (C3): per-execution
// wall-clock, tool-call, and agent-step limits with an adaptive deadline
// extension policy driven by progress reports.
package budget

import (
	"sync"
	"time"

	"github.com/fluxorch/engine/pkg/models"
)

// Limits is one execution's budget along the three dimensions enforced by
// the manager (§4.3).
type Limits struct {
	WallClock     time.Duration
	MaxToolCalls  int
	MaxAgentSteps int
}

// DefaultSupervisorLimits are applied when no override is given for a
// models.AgentRoleSupervisor execution.
func DefaultSupervisorLimits() Limits {
	return Limits{WallClock: 600 * time.Second, MaxToolCalls: 40, MaxAgentSteps: 20}
}

// DefaultSpecialistLimits are applied when no override is given for a
// models.AgentRoleSpecialist or models.AgentRoleSubAgent execution.
func DefaultSpecialistLimits() Limits {
	return Limits{WallClock: 300 * time.Second, MaxToolCalls: 30, MaxAgentSteps: 15}
}

// DefaultPerToolTimeout is the hard per-tool-call cap regardless of role.
const DefaultPerToolTimeout = 60 * time.Second

// ExtensionPolicy configures the adaptive deadline extension described in
// §4.3: a qualifying progress jump buys more wall-clock time, up to a total
// extension cap, until progress has stalled long enough to stop extending.
type ExtensionPolicy struct {
	ProgressMinDelta       int
	NoProgressNoExtendAfter time.Duration
	ExtendOnProgress       time.Duration
	MaxTotalExtension      time.Duration
}

// DefaultExtensionPolicy returns §4.3's documented defaults.
func DefaultExtensionPolicy() ExtensionPolicy {
	return ExtensionPolicy{
		ProgressMinDelta:        5,
		NoProgressNoExtendAfter: 60 * time.Second,
		ExtendOnProgress:        60 * time.Second,
		MaxTotalExtension:       180 * time.Second,
	}
}

// ExceededReason names which dimension tripped a budget, used for the
// tie-break in §4.3 (wall_clock wins simultaneous expiry) and for the
// execution.failed error message when it is a hard timeout.
type ExceededReason string

const (
	ReasonNone        ExceededReason = ""
	ReasonWallClock   ExceededReason = "wall_clock"
	ReasonToolCalls   ExceededReason = "max_tool_calls"
	ReasonAgentSteps  ExceededReason = "max_agent_steps"
)

// IsForceFinalize reports whether reason is a soft limit (tool-call or
// step count) that should trigger a force-finalize last call rather than a
// hard timeout failure (§4.3, §7 budget_exceeded is "not a failure").
func (r ExceededReason) IsForceFinalize() bool {
	return r == ReasonToolCalls || r == ReasonAgentSteps
}

type tracked struct {
	limits         Limits
	policy         ExtensionPolicy
	startedAt      time.Time
	deadline       time.Time
	totalExtension time.Duration
	lastProgress   int
	lastProgressAt time.Time
	toolCalls      int
	agentSteps     int
}

// Manager tracks budgets for every live execution, keyed by execution ID.
// Callers create an entry at execution start and consult it before each
// tool call / agent step / on each progress report.
type Manager struct {
	mu     sync.Mutex
	byExec map[string]*tracked
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{byExec: make(map[string]*tracked)}
}

// Start registers execID's budget, deriving defaults from role when limits
// is the zero value, and policy from DefaultExtensionPolicy when it is the
// zero value.
func (m *Manager) Start(execID string, role models.AgentRole, limits Limits, policy ExtensionPolicy) {
	if limits == (Limits{}) {
		if role == models.AgentRoleSupervisor {
			limits = DefaultSupervisorLimits()
		} else {
			limits = DefaultSpecialistLimits()
		}
	}
	if policy == (ExtensionPolicy{}) {
		policy = DefaultExtensionPolicy()
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byExec[execID] = &tracked{
		limits:         limits,
		policy:         policy,
		startedAt:      now,
		deadline:       now.Add(limits.WallClock),
		lastProgress:   0,
		lastProgressAt: now,
	}
}

// Stop discards execID's tracked budget once the execution reaches a
// terminal state.
func (m *Manager) Stop(execID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byExec, execID)
}

// RecordToolCall increments execID's tool-call count, returning the
// ExceededReason if this call pushes it over MaxToolCalls.
func (m *Manager) RecordToolCall(execID string) ExceededReason {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byExec[execID]
	if !ok {
		return ReasonNone
	}
	t.toolCalls++
	if t.limits.MaxToolCalls > 0 && t.toolCalls > t.limits.MaxToolCalls {
		return ReasonToolCalls
	}
	return ReasonNone
}

// RecordAgentStep increments execID's agent-step count, returning the
// ExceededReason if this step pushes it over MaxAgentSteps.
func (m *Manager) RecordAgentStep(execID string) ExceededReason {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byExec[execID]
	if !ok {
		return ReasonNone
	}
	t.agentSteps++
	if t.limits.MaxAgentSteps > 0 && t.agentSteps > t.limits.MaxAgentSteps {
		return ReasonAgentSteps
	}
	return ReasonNone
}

// ReportProgress records a monotonic 0-100 progress value and, if it
// qualifies under the extension policy, pushes the wall-clock deadline out.
// A progress value is only a qualifying event if it has advanced by at
// least ProgressMinDelta since the last extension, no more than
// NoProgressNoExtendAfter has passed since the last progress change, and
// the cumulative extension budget has room left.
func (m *Manager) ReportProgress(execID string, progress int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byExec[execID]
	if !ok {
		return
	}
	now := time.Now()

	if progress > t.lastProgress {
		delta := progress - t.lastProgress
		stalledTooLong := now.Sub(t.lastProgressAt) > t.policy.NoProgressNoExtendAfter
		t.lastProgress = progress
		t.lastProgressAt = now

		if delta >= t.policy.ProgressMinDelta && !stalledTooLong &&
			t.totalExtension < t.policy.MaxTotalExtension {
			extend := t.policy.ExtendOnProgress
			if remaining := t.policy.MaxTotalExtension - t.totalExtension; extend > remaining {
				extend = remaining
			}
			t.deadline = t.deadline.Add(extend)
			t.totalExtension += extend
		}
	}
}

// CheckWallClock reports whether execID's deadline has passed as of now.
func (m *Manager) CheckWallClock(execID string, now time.Time) ExceededReason {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byExec[execID]
	if !ok {
		return ReasonNone
	}
	if now.After(t.deadline) {
		return ReasonWallClock
	}
	return ReasonNone
}

// Deadline returns execID's current (possibly extended) wall-clock
// deadline, for callers that want to arm their own timer rather than poll.
func (m *Manager) Deadline(execID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byExec[execID]
	if !ok {
		return time.Time{}, false
	}
	return t.deadline, true
}

// PerToolTimeout returns the hard per-call tool deadline, which is not
// subject to any extension policy.
func (m *Manager) PerToolTimeout() time.Duration {
	return DefaultPerToolTimeout
}
