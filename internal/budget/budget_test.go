package budget

import (
	"testing"
	"time"

	"github.com/fluxorch/engine/pkg/models"
)

func TestManager_Start_DefaultsByRole(t *testing.T) {
	m := New()
	m.Start("e1", models.AgentRoleSupervisor, Limits{}, ExtensionPolicy{})
	m.Start("e2", models.AgentRoleSpecialist, Limits{}, ExtensionPolicy{})

	d1, _ := m.Deadline("e1")
	d2, _ := m.Deadline("e2")
	if !d1.After(d2) {
		t.Error("expected supervisor's default deadline to be further out than specialist's")
	}
}

func TestManager_RecordToolCall_ExceedsLimit(t *testing.T) {
	m := New()
	m.Start("e1", models.AgentRoleSpecialist, Limits{WallClock: time.Minute, MaxToolCalls: 2, MaxAgentSteps: 10}, DefaultExtensionPolicy())

	if r := m.RecordToolCall("e1"); r != ReasonNone {
		t.Errorf("call 1: got %v, want none", r)
	}
	if r := m.RecordToolCall("e1"); r != ReasonNone {
		t.Errorf("call 2: got %v, want none", r)
	}
	if r := m.RecordToolCall("e1"); r != ReasonToolCalls {
		t.Errorf("call 3: got %v, want ReasonToolCalls", r)
	}
}

func TestManager_RecordAgentStep_ExceedsLimit(t *testing.T) {
	m := New()
	m.Start("e1", models.AgentRoleSpecialist, Limits{WallClock: time.Minute, MaxToolCalls: 10, MaxAgentSteps: 1}, DefaultExtensionPolicy())

	if r := m.RecordAgentStep("e1"); r != ReasonNone {
		t.Errorf("step 1: got %v, want none", r)
	}
	if r := m.RecordAgentStep("e1"); r != ReasonAgentSteps {
		t.Errorf("step 2: got %v, want ReasonAgentSteps", r)
	}
	if !ReasonAgentSteps.IsForceFinalize() {
		t.Error("ReasonAgentSteps should force-finalize, not hard-fail")
	}
}

func TestManager_CheckWallClock_Expired(t *testing.T) {
	m := New()
	m.Start("e1", models.AgentRoleSpecialist, Limits{WallClock: 10 * time.Millisecond}, DefaultExtensionPolicy())

	if r := m.CheckWallClock("e1", time.Now()); r != ReasonNone {
		t.Errorf("immediately: got %v, want none", r)
	}
	time.Sleep(20 * time.Millisecond)
	if r := m.CheckWallClock("e1", time.Now()); r != ReasonWallClock {
		t.Errorf("after sleep: got %v, want ReasonWallClock", r)
	}
	if ReasonWallClock.IsForceFinalize() {
		t.Error("wall-clock expiry is a hard timeout, not a force-finalize")
	}
}

func TestManager_ReportProgress_ExtendsDeadlineOnQualifyingJump(t *testing.T) {
	m := New()
	policy := ExtensionPolicy{
		ProgressMinDelta:        5,
		NoProgressNoExtendAfter: time.Hour,
		ExtendOnProgress:        time.Minute,
		MaxTotalExtension:       10 * time.Minute,
	}
	m.Start("e1", models.AgentRoleSpecialist, Limits{WallClock: time.Second}, policy)

	before, _ := m.Deadline("e1")
	m.ReportProgress("e1", 10) // delta 10 >= min delta 5, qualifies
	after, _ := m.Deadline("e1")

	if !after.Equal(before.Add(time.Minute)) {
		t.Errorf("deadline = %v, want %v", after, before.Add(time.Minute))
	}
}

func TestManager_ReportProgress_SubMinDeltaDoesNotExtend(t *testing.T) {
	m := New()
	policy := ExtensionPolicy{
		ProgressMinDelta:        20,
		NoProgressNoExtendAfter: time.Hour,
		ExtendOnProgress:        time.Minute,
		MaxTotalExtension:       10 * time.Minute,
	}
	m.Start("e1", models.AgentRoleSpecialist, Limits{WallClock: time.Second}, policy)

	before, _ := m.Deadline("e1")
	m.ReportProgress("e1", 5) // delta 5 < min delta 20
	after, _ := m.Deadline("e1")

	if !after.Equal(before) {
		t.Errorf("deadline changed on a sub-threshold progress jump: before=%v after=%v", before, after)
	}
}

func TestManager_ReportProgress_CapsAtMaxTotalExtension(t *testing.T) {
	m := New()
	policy := ExtensionPolicy{
		ProgressMinDelta:        5,
		NoProgressNoExtendAfter: time.Hour,
		ExtendOnProgress:        time.Minute,
		MaxTotalExtension:       90 * time.Second,
	}
	m.Start("e1", models.AgentRoleSpecialist, Limits{WallClock: time.Second}, policy)

	before, _ := m.Deadline("e1")
	m.ReportProgress("e1", 10) // +60s, total 60s
	m.ReportProgress("e1", 20) // would be +60s but only 30s remain
	after, _ := m.Deadline("e1")

	if !after.Equal(before.Add(90 * time.Second)) {
		t.Errorf("deadline = %v, want capped extension of 90s (%v)", after, before.Add(90*time.Second))
	}
}

func TestManager_ReportProgress_StoppedExtensionAfterStall(t *testing.T) {
	m := New()
	policy := ExtensionPolicy{
		ProgressMinDelta:        5,
		NoProgressNoExtendAfter: 10 * time.Millisecond,
		ExtendOnProgress:        time.Minute,
		MaxTotalExtension:       10 * time.Minute,
	}
	m.Start("e1", models.AgentRoleSpecialist, Limits{WallClock: time.Second}, policy)

	m.ReportProgress("e1", 10) // sets lastProgressAt
	time.Sleep(20 * time.Millisecond)
	before, _ := m.Deadline("e1")
	m.ReportProgress("e1", 20) // qualifying delta, but stalled too long since last change
	after, _ := m.Deadline("e1")

	if !after.Equal(before) {
		t.Errorf("deadline should not extend once progress has stalled past the cutoff: before=%v after=%v", before, after)
	}
}

func TestManager_Stop_RemovesTrackedBudget(t *testing.T) {
	m := New()
	m.Start("e1", models.AgentRoleSpecialist, Limits{WallClock: time.Minute}, DefaultExtensionPolicy())
	m.Stop("e1")

	if _, ok := m.Deadline("e1"); ok {
		t.Error("expected no deadline after Stop")
	}
	if r := m.RecordToolCall("e1"); r != ReasonNone {
		t.Errorf("RecordToolCall after Stop = %v, want none (no-op)", r)
	}
}

func TestManager_PerToolTimeout(t *testing.T) {
	m := New()
	if got := m.PerToolTimeout(); got != DefaultPerToolTimeout {
		t.Errorf("PerToolTimeout() = %v, want %v", got, DefaultPerToolTimeout)
	}
}
