package orchestrator

import "github.com/fluxorch/engine/pkg/models"

// maxThreadToolMessages bounds how many inherited Tool messages a
// supervised-mode execution starts with (§4.9 step 4, §9 open question).
const maxThreadToolMessages = 5

// packContext narrows messages to the supervisor's context-filtered view
// (§4.9 step 4): an optional leading system message, at most the last
// maxThreadToolMessages Tool messages, and the current user message —
// messages[len(messages)-1], which seedMessages always appends last. Every
// other message (every prior Human/AI turn) is dropped, since those are
// exactly the stale task content step 4 exists to keep the supervisor from
// re-processing as new work.
//
// Per §9's open-question resolution, Tool messages are trimmed in whole
// contiguous runs: if the run straddling the keep/drop boundary would be
// split, the whole run is kept instead, because a single delegation's
// tool-result trail is meant to read as one atomic unit. dropped counts
// only Tool messages dropped this way, matching the context.packed event's
// accounting — it does not count the Human/AI turns narrowed away above.
func packContext(messages []models.Message) ([]models.Message, int) {
	if len(messages) == 0 {
		return messages, 0
	}
	current := messages[len(messages)-1]
	rest := messages[:len(messages)-1]

	out := make([]models.Message, 0, maxThreadToolMessages+2)
	if len(rest) > 0 && rest[0].Role == models.RoleSystem {
		out = append(out, rest[0])
	}

	runs := toolRuns(rest)
	total := 0
	for _, r := range runs {
		total += r.end - r.start
	}

	keepFromRun := len(runs)
	kept := 0
	for i := len(runs) - 1; i >= 0; i-- {
		kept += runs[i].end - runs[i].start
		keepFromRun = i
		if kept >= maxThreadToolMessages {
			break
		}
	}
	for _, r := range runs[keepFromRun:] {
		out = append(out, rest[r.start:r.end]...)
	}
	out = append(out, current)

	dropped := total - kept
	if dropped < 0 {
		dropped = 0
	}
	return out, dropped
}

type messageRun struct {
	start, end int // [start, end)
}

// toolRuns returns every maximal contiguous run of Role == RoleTool
// messages in order.
func toolRuns(messages []models.Message) []messageRun {
	var runs []messageRun
	i := 0
	for i < len(messages) {
		if messages[i].Role != models.RoleTool {
			i++
			continue
		}
		start := i
		for i < len(messages) && messages[i].Role == models.RoleTool {
			i++
		}
		runs = append(runs, messageRun{start: start, end: i})
	}
	return runs
}
