package usage

import (
	"context"
	"time"

	"github.com/fluxorch/engine/internal/events"
	"github.com/fluxorch/engine/pkg/models"
)

// PricingTable maps a model ID to its per-million-token cost, the pricing
// source for C10's cost_usd field.
type PricingTable map[string]Cost

// DefaultCreditsPerUSD is the conversion rate applied when a pricing entry
// does not specify one. 100 credits per dollar keeps credit amounts as
// whole-ish numbers for typical per-request spend.
const DefaultCreditsPerUSD = 100.0

// Recorder implements C10: for every AI message carrying usage_metadata, it
// computes cost from a pricing table, accumulates totals in a Tracker, and
// emits usage.recorded on the bus. It does not enforce any limit; a
// subscriber of usage.recorded is free to do that.
type Recorder struct {
	tracker      *Tracker
	pricing      PricingTable
	creditsPerUSD float64
	bus          *events.Bus
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Pricing       PricingTable
	CreditsPerUSD float64
	Tracker       TrackerConfig
}

// NewRecorder constructs a Recorder backed by bus. A nil bus is valid; in
// that case Record only updates the Tracker and returns the computed entry.
func NewRecorder(bus *events.Bus, cfg RecorderConfig) *Recorder {
	if cfg.Pricing == nil {
		cfg.Pricing = PricingTable{}
	}
	if cfg.CreditsPerUSD <= 0 {
		cfg.CreditsPerUSD = DefaultCreditsPerUSD
	}
	return &Recorder{
		tracker:       NewTracker(cfg.Tracker),
		pricing:       cfg.Pricing,
		creditsPerUSD: cfg.CreditsPerUSD,
		bus:           bus,
	}
}

// Entry is the usage record produced by Record, mirroring §4.10's
// {execution_id, user_id, agent_id, model, input_tokens, output_tokens,
// total_tokens, cost_usd, credits, timestamp} shape.
type Entry struct {
	ExecutionID  string
	UserID       string
	AgentID      string
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
	Credits      float64
	Timestamp    time.Time
}

// Record accounts for one AI message's usage_metadata: it updates internal
// totals, computes cost/credits from the pricing table (zero cost for an
// unlisted model, not an error), and emits usage.recorded on the bus.
func (r *Recorder) Record(ctx context.Context, executionID, userID, agentID, model string, um models.UsageMetadata) Entry {
	u := Usage{
		InputTokens:  int64(um.InputTokens),
		OutputTokens: int64(um.OutputTokens),
	}
	cost, ok := r.pricing[model]
	costUSD := 0.0
	if ok {
		costUSD = cost.Estimate(&u)
	}
	credits := costUSD * r.creditsPerUSD

	r.tracker.Record(Record{
		Provider:  providerFromModel(model),
		Model:     model,
		UserID:    userID,
		Usage:     u,
		Cost:      costUSD,
		Timestamp: time.Now(),
	})

	entry := Entry{
		ExecutionID:  executionID,
		UserID:       userID,
		AgentID:      agentID,
		Model:        model,
		InputTokens:  um.InputTokens,
		OutputTokens: um.OutputTokens,
		TotalTokens:  um.TotalTokens,
		CostUSD:      costUSD,
		Credits:      credits,
		Timestamp:    time.Now(),
	}

	if r.bus != nil {
		r.bus.Emit(ctx, models.Event{
			Type:        models.EventUsageRecorded,
			ExecutionID: executionID,
			UserID:      userID,
			Timestamp:   entry.Timestamp,
			Usage: &models.UsageEventPayload{
				UserID:       userID,
				AgentID:      agentID,
				Model:        model,
				InputTokens:  um.InputTokens,
				OutputTokens: um.OutputTokens,
				TotalTokens:  um.TotalTokens,
				CostUSD:      costUSD,
				Credits:      credits,
			},
		})
	}

	return entry
}

// Totals returns accumulated usage totals for a model, or nil if unseen.
func (r *Recorder) Totals(provider, model string) *Usage {
	return r.tracker.GetTotals(provider, model)
}

// UserTotals returns accumulated usage totals for a user, or nil if unseen.
func (r *Recorder) UserTotals(userID string) *Usage {
	return r.tracker.GetUserTotals(userID)
}

// providerFromModel is a best-effort guess used only to key Tracker totals;
// it does not affect cost computation, which is keyed by model ID alone.
func providerFromModel(model string) string {
	switch {
	case len(model) >= 6 && model[:6] == "claude":
		return "anthropic"
	case len(model) >= 3 && model[:3] == "gpt":
		return "openai"
	default:
		return "unknown"
	}
}
