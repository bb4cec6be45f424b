package orchestrator

import (
	"sync"

	"github.com/fluxorch/engine/internal/events"
	"github.com/fluxorch/engine/pkg/models"
)

// Stats is a point-in-time snapshot accumulated purely by observing the
// event bus — it never reads the registry or an Execution directly.
type Stats struct {
	ExecutionsStarted   int
	ExecutionsCompleted int
	ExecutionsFailed    int
	ExecutionsCancelled int
	ExecutionsTimedOut  int
	ToolCalls           int
	Delegations         int
	Usage               models.Usage
}

// StatsCollector derives aggregate counters from the Bus's own event
// stream, the same subscribe-and-range pattern any other subscriber uses
// (C1, §4.1) — it is not privileged in any way.
type StatsCollector struct {
	sub  *events.Subscription
	done chan struct{}

	mu    sync.Mutex
	stats Stats
}

// NewStatsCollector subscribes to every event on bus and starts
// accumulating in the background. Close stops it.
func NewStatsCollector(bus *events.Bus) *StatsCollector {
	sc := &StatsCollector{
		sub:  bus.Subscribe(events.Filter{}),
		done: make(chan struct{}),
	}
	go sc.run()
	return sc
}

func (sc *StatsCollector) run() {
	defer close(sc.done)
	for e := range sc.sub.Events() {
		sc.observe(e)
	}
}

func (sc *StatsCollector) observe(e models.Event) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	switch e.Type {
	case models.EventExecutionStarted:
		sc.stats.ExecutionsStarted++
	case models.EventExecutionCompleted:
		sc.stats.ExecutionsCompleted++
	case models.EventExecutionFailed:
		if e.Execution != nil {
			switch e.Execution.Status {
			case models.StatusCancelled:
				sc.stats.ExecutionsCancelled++
			case models.StatusTimedOut:
				sc.stats.ExecutionsTimedOut++
			default:
				sc.stats.ExecutionsFailed++
			}
		} else {
			sc.stats.ExecutionsFailed++
		}
	case models.EventToolCompleted:
		sc.stats.ToolCalls++
	case models.EventDelegationRequested:
		sc.stats.Delegations++
	case models.EventUsageRecorded:
		if e.Usage != nil {
			sc.stats.Usage.InputTokens += e.Usage.InputTokens
			sc.stats.Usage.OutputTokens += e.Usage.OutputTokens
			sc.stats.Usage.TotalTokens += e.Usage.TotalTokens
			sc.stats.Usage.CostUSD += e.Usage.CostUSD
		}
	}
}

// Snapshot returns a copy of the counters accumulated so far.
func (sc *StatsCollector) Snapshot() Stats {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.stats
}

// Close unsubscribes from the bus and waits for the drain goroutine to
// exit.
func (sc *StatsCollector) Close() {
	sc.sub.Close()
	<-sc.done
}
