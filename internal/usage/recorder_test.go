package usage

import (
	"context"
	"testing"

	"github.com/fluxorch/engine/internal/events"
	"github.com/fluxorch/engine/pkg/models"
)

func TestRecorder_Record_EmitsUsageRecorded(t *testing.T) {
	bus := events.New(nil)
	sub := bus.Subscribe(events.Filter{EventKinds: []models.EventType{models.EventUsageRecorded}})
	defer sub.Close()

	rec := NewRecorder(bus, RecorderConfig{
		Pricing: PricingTable{
			"claude-3-sonnet": {Input: 3.0, Output: 15.0},
		},
	})

	entry := rec.Record(context.Background(), "exec-1", "user-1", "agent-1", "claude-3-sonnet", models.UsageMetadata{
		InputTokens:  1000,
		OutputTokens: 500,
		TotalTokens:  1500,
	})

	if entry.CostUSD <= 0 {
		t.Fatalf("expected positive cost, got %f", entry.CostUSD)
	}
	if entry.Credits != entry.CostUSD*DefaultCreditsPerUSD {
		t.Errorf("credits = %f, want %f", entry.Credits, entry.CostUSD*DefaultCreditsPerUSD)
	}

	select {
	case e := <-sub.Events():
		if e.Type != models.EventUsageRecorded {
			t.Fatalf("event type = %s, want usage.recorded", e.Type)
		}
		if e.Usage == nil || e.Usage.Model != "claude-3-sonnet" {
			t.Fatalf("unexpected usage payload: %+v", e.Usage)
		}
	default:
		t.Fatal("expected a usage.recorded event to be emitted")
	}
}

func TestRecorder_Record_UnknownModelIsZeroCost(t *testing.T) {
	rec := NewRecorder(nil, RecorderConfig{})

	entry := rec.Record(context.Background(), "exec-1", "user-1", "agent-1", "some-unpriced-model", models.UsageMetadata{
		InputTokens:  100,
		OutputTokens: 50,
	})

	if entry.CostUSD != 0 || entry.Credits != 0 {
		t.Errorf("expected zero cost/credits for unpriced model, got cost=%f credits=%f", entry.CostUSD, entry.Credits)
	}
}

func TestRecorder_Totals_Accumulate(t *testing.T) {
	rec := NewRecorder(nil, RecorderConfig{
		Pricing: PricingTable{"gpt-4": {Input: 10, Output: 30}},
	})

	rec.Record(context.Background(), "e1", "u1", "a1", "gpt-4", models.UsageMetadata{InputTokens: 100, OutputTokens: 50})
	rec.Record(context.Background(), "e2", "u1", "a1", "gpt-4", models.UsageMetadata{InputTokens: 200, OutputTokens: 100})

	totals := rec.Totals("openai", "gpt-4")
	if totals == nil {
		t.Fatal("expected totals")
	}
	if totals.InputTokens != 300 {
		t.Errorf("InputTokens = %d, want 300", totals.InputTokens)
	}

	userTotals := rec.UserTotals("u1")
	if userTotals == nil || userTotals.Total() != 450 {
		t.Errorf("user totals = %+v, want total 450", userTotals)
	}
}
