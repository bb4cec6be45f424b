package orchestrator

import (
	"testing"

	"github.com/fluxorch/engine/pkg/models"
)

func systemMsg(content string) models.Message { return models.Message{Role: models.RoleSystem, Content: content} }
func humanMsg(content string) models.Message   { return models.Message{Role: models.RoleHuman, Content: content} }
func aiMsg(content string) models.Message      { return models.Message{Role: models.RoleAI, Content: content} }
func toolMsg(id string) models.Message         { return models.Message{Role: models.RoleTool, ToolCallID: id} }

func TestPackContext_DropsStaleNonToolMessages(t *testing.T) {
	messages := []models.Message{
		humanMsg("q0"), aiMsg("interim"),
		toolMsg("a"), toolMsg("b"),
		humanMsg("q1"),
	}

	packed, dropped := packContext(messages)

	if dropped != 0 {
		t.Errorf("dropped = %d, want 0 (both Tool messages fit under the cap)", dropped)
	}
	want := []models.Message{toolMsg("a"), toolMsg("b"), humanMsg("q1")}
	if len(packed) != len(want) {
		t.Fatalf("len(packed) = %d, want %d: %+v", len(packed), len(want), packed)
	}
	for i, m := range want {
		if packed[i].Role != m.Role || packed[i].Content != m.Content || packed[i].ToolCallID != m.ToolCallID {
			t.Errorf("packed[%d] = %+v, want %+v", i, packed[i], m)
		}
	}
}

func TestPackContext_KeepsLeadingSystemMessage(t *testing.T) {
	messages := []models.Message{
		systemMsg("you are an agent"),
		humanMsg("q0"),
		toolMsg("a"),
		humanMsg("q1"),
	}

	packed, dropped := packContext(messages)

	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
	want := []models.Message{systemMsg("you are an agent"), toolMsg("a"), humanMsg("q1")}
	if len(packed) != len(want) {
		t.Fatalf("len(packed) = %d, want %d: %+v", len(packed), len(want), packed)
	}
	if packed[0].Role != models.RoleSystem {
		t.Errorf("packed[0].Role = %v, want system", packed[0].Role)
	}
	if packed[1].ToolCallID != "a" {
		t.Errorf("packed[1] = %+v, want tool message %q", packed[1], "a")
	}
	if packed[2].Content != "q1" {
		t.Errorf("packed[2] = %+v, want current user message %q", packed[2], "q1")
	}
}

func TestPackContext_KeepsWholeRunsAtBoundary(t *testing.T) {
	// Two runs of Tool messages: an older run of 3, then a newer run of 4.
	// maxThreadToolMessages is 5, so keeping only the newer run (4) falls
	// short; the older run must be kept whole rather than split to make up
	// the difference.
	messages := []models.Message{
		humanMsg("q1"),
		toolMsg("a"), toolMsg("b"), toolMsg("c"),
		aiMsg("interim"),
		toolMsg("d"), toolMsg("e"), toolMsg("f"), toolMsg("g"),
		humanMsg("q2"),
	}

	packed, dropped := packContext(messages)

	if dropped != 0 {
		t.Fatalf("dropped = %d, want 0: the boundary-straddling run must be kept whole, not split", dropped)
	}
	toolCount := 0
	for _, m := range packed {
		if m.Role == models.RoleTool {
			toolCount++
		}
		if m.Role == models.RoleHuman && m.Content == "q1" {
			t.Errorf("expected the first human turn (q1) dropped, found it in packed")
		}
		if m.Role == models.RoleAI {
			t.Errorf("expected interim AI turn dropped, found %+v", m)
		}
	}
	if toolCount != 7 {
		t.Errorf("toolCount = %d, want 7 (both runs kept)", toolCount)
	}
	if packed[len(packed)-1].Content != "q2" {
		t.Errorf("last packed message = %+v, want the current user message %q", packed[len(packed)-1], "q2")
	}
}

func TestPackContext_DropsOldestRunWhenNewestAloneSuffices(t *testing.T) {
	messages := []models.Message{
		humanMsg("q1"),
		toolMsg("a"), toolMsg("b"),
		aiMsg("interim"),
		toolMsg("c"), toolMsg("d"), toolMsg("e"), toolMsg("f"), toolMsg("g"), toolMsg("h"),
		humanMsg("q2"),
	}

	packed, dropped := packContext(messages)

	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2 (the older 2-message run)", dropped)
	}
	for _, m := range packed {
		if m.ToolCallID == "a" || m.ToolCallID == "b" {
			t.Errorf("expected older run (a, b) dropped, found %q", m.ToolCallID)
		}
	}
	nonTool := 0
	for _, m := range packed {
		if m.Role != models.RoleTool {
			nonTool++
		}
	}
	if nonTool != 1 {
		t.Errorf("nonTool = %d, want 1 (only the current user message survives narrowing)", nonTool)
	}
}
