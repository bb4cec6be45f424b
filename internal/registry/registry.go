// Package registry implements the process-wide Execution Registry (C2): an
// indexed map of live and recently-terminal executions with LRU eviction
// over terminal entries only.
package registry

import (
	"container/list"
	"sync"
	"time"

	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/pkg/models"
)

// DefaultCapacity is the default bound on live registry entries (§4.2,
// REGISTRY_CAPACITY).
const DefaultCapacity = 10000

// DefaultTerminalGrace is how long a terminal execution is kept before it
// becomes eligible for eviction by EvictTerminalOlderThan (§4.2,
// REGISTRY_TERMINAL_GRACE_MS).
const DefaultTerminalGrace = 60 * time.Second

type entry struct {
	exec     *models.Execution
	elem     *list.Element // position in terminalLRU, nil while non-terminal
	endedAt  time.Time
}

// Registry is the owning store of every execution known to this process.
// Only the executor goroutine that owns an execution calls Update; every
// other caller sees an independent Clone() snapshot via Get/ListActive.
type Registry struct {
	mu          sync.Mutex
	capacity    int
	byID        map[string]*entry
	terminalLRU *list.List // front = oldest terminal
}

// New constructs an empty Registry bounded at capacity. capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity:    capacity,
		byID:        make(map[string]*entry),
		terminalLRU: list.New(),
	}
}

// Create inserts exec, evicting oldest-terminal entries first if the
// registry is at capacity. By design CapacityExhausted cannot occur: if no
// terminal entry is available to evict and the registry is full, Create
// still admits the new entry (a live execution is never rejected), mirroring
// §4.2's "eviction runs before insert, CapacityExhausted impossible".
func (r *Registry) Create(exec *models.Execution) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictToFitLocked()

	e := &entry{exec: exec.Clone()}
	if exec.Status.IsTerminal() {
		e.endedAt = time.Now()
		e.elem = r.terminalLRU.PushBack(exec.ID)
	}
	r.byID[exec.ID] = e
	return exec.ID
}

// Get returns a copy-on-read snapshot of the execution, or
// enginerr.ErrExecutionNotFound.
func (r *Registry) Get(id string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, enginerr.ErrExecutionNotFound
	}
	return e.exec.Clone(), nil
}

// Update applies mutate to the registry's owned copy of the execution. Only
// the executor goroutine that owns this execution should call Update; it is
// not a public mutation API for external callers.
func (r *Registry) Update(id string, mutate func(*models.Execution)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return enginerr.ErrExecutionNotFound
	}

	wasTerminal := e.exec.Status.IsTerminal()
	mutate(e.exec)
	isTerminal := e.exec.Status.IsTerminal()

	if !wasTerminal && isTerminal {
		e.endedAt = time.Now()
		e.elem = r.terminalLRU.PushBack(id)
	} else if isTerminal && e.elem != nil {
		// Re-touch: move to the back so grace-period eviction measures from
		// the most recent terminal transition, not the first.
		r.terminalLRU.MoveToBack(e.elem)
	}
	return nil
}

// ListActive returns snapshots of every non-terminal execution.
func (r *Registry) ListActive() []*models.Execution {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Execution, 0, len(r.byID))
	for _, e := range r.byID {
		if !e.exec.Status.IsTerminal() {
			out = append(out, e.exec.Clone())
		}
	}
	return out
}

// EvictTerminalOlderThan removes terminal executions whose terminal
// transition happened more than age ago, returning the count evicted.
func (r *Registry) EvictTerminalOlderThan(age time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-age)
	evicted := 0
	for elem := r.terminalLRU.Front(); elem != nil; {
		next := elem.Next()
		id := elem.Value.(string)
		e, ok := r.byID[id]
		if !ok || e.endedAt.After(cutoff) {
			break // list is oldest-first; once we hit one too young, stop
		}
		delete(r.byID, id)
		r.terminalLRU.Remove(elem)
		evicted++
		elem = next
	}
	return evicted
}

// Len returns the total number of tracked executions (live + terminal).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// evictToFitLocked evicts oldest-terminal entries until the registry has
// room for one more, or no terminal entries remain to evict. Must be called
// with r.mu held.
func (r *Registry) evictToFitLocked() {
	for len(r.byID) >= r.capacity {
		elem := r.terminalLRU.Front()
		if elem == nil {
			return
		}
		id := elem.Value.(string)
		delete(r.byID, id)
		r.terminalLRU.Remove(elem)
	}
}
