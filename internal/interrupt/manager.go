// Package interrupt implements the Interrupt Manager (C6): the
// created->pending->resolved/expired->done approval state machine a tool
// call raises when it requires human sign-off.
package interrupt

import (
	"context"
	"sync"
	"time"

	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/internal/events"
	"github.com/fluxorch/engine/pkg/models"
)

// DefaultTTL is the default time a pending interrupt remains valid before
// ExpireOlderThan trips it to expired (§4.6).
const DefaultTTL = 5 * time.Minute

type waiter struct {
	resultCh chan models.InterruptResponse
}

type pendingInterrupt struct {
	interrupt models.Interrupt
	waiter    *waiter
}

// Manager owns every interrupt's lifecycle and enforces at most one pending
// interrupt per execution.
type Manager struct {
	mu          sync.Mutex
	byID        map[string]*pendingInterrupt
	byExecution map[string]string // execution_id -> interrupt_id, only while pending
	lastID      map[string]string // execution_id -> most recent interrupt_id, retained past resolution
	ttl         time.Duration
	bus         *events.Bus
	idGen       func() string
}

// New constructs a Manager. ttl <= 0 uses DefaultTTL. idGen generates
// interrupt IDs; nil uses a monotonic counter (tests should supply a
// deterministic generator if exact IDs matter).
func New(bus *events.Bus, ttl time.Duration, idGen func() string) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		byID:        make(map[string]*pendingInterrupt),
		byExecution: make(map[string]string),
		lastID:      make(map[string]string),
		ttl:         ttl,
		bus:         bus,
	}
	if idGen == nil {
		var n uint64
		var mu sync.Mutex
		idGen = func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return "interrupt-" + itoa(n)
		}
	}
	m.idGen = idGen
	return m
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Request creates a pending interrupt for toolCall and blocks the caller
// until it is resolved, expires, or ctx is cancelled. Returns
// enginerr.ErrInterruptInFlight if execID already has a pending interrupt.
func (m *Manager) Request(ctx context.Context, execID, threadKey string, toolCall models.ToolCallRequest, cfg models.InterruptConfig, description string) (models.InterruptResponse, error) {
	m.mu.Lock()
	if _, inFlight := m.byExecution[execID]; inFlight {
		m.mu.Unlock()
		return models.InterruptResponse{}, enginerr.ErrInterruptInFlight
	}

	now := time.Now()
	id := m.idGen()
	ic := models.Interrupt{
		ID:          id,
		ExecutionID: execID,
		ThreadKey:   threadKey,
		ToolCall:    toolCall,
		Config:      cfg,
		Description: description,
		Status:      models.InterruptPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
	}
	w := &waiter{resultCh: make(chan models.InterruptResponse, 1)}
	m.byID[id] = &pendingInterrupt{interrupt: ic, waiter: w}
	m.byExecution[execID] = id
	m.lastID[execID] = id
	m.mu.Unlock()

	m.emit(ctx, models.EventApprovalRequested, execID, &models.ApprovalEventPayload{
		InterruptID:  id,
		ToolCallName: toolCall.Name,
	})

	timer := time.NewTimer(m.ttl)
	defer timer.Stop()

	select {
	case resp := <-w.resultCh:
		return resp, nil
	case <-timer.C:
		m.expire(ctx, id)
		return models.InterruptResponse{}, enginerr.Classify(models.ErrorKindApprovalTimeout, "interrupt expired before a response arrived", enginerr.ErrInterruptExpired)
	case <-ctx.Done():
		return models.InterruptResponse{}, ctx.Err()
	}
}

// Respond resolves the pending interrupt for execID, unblocking its waiter.
// Idempotent: a second call for an already-resolved/expired interrupt
// returns enginerr.ErrAlreadyResolved.
func (m *Manager) Respond(ctx context.Context, execID string, resp models.InterruptResponse) error {
	m.mu.Lock()
	id, ok := m.byExecution[execID]
	if !ok {
		m.mu.Unlock()
		return enginerr.ErrInterruptNotFound
	}
	pi, ok := m.byID[id]
	if !ok || pi.interrupt.Status != models.InterruptPending {
		m.mu.Unlock()
		return enginerr.ErrAlreadyResolved
	}

	pi.interrupt.Status = models.InterruptResolved
	delete(m.byExecution, execID)
	m.mu.Unlock()

	pi.waiter.resultCh <- resp

	m.emit(ctx, models.EventApprovalResolved, execID, &models.ApprovalEventPayload{
		InterruptID:  id,
		ToolCallName: pi.interrupt.ToolCall.Name,
		Resolution:   resp.Type,
	})
	return nil
}

// Peek returns a non-blocking snapshot of the interrupt pending for execID,
// or nil if none is pending.
func (m *Manager) Peek(execID string) *models.Interrupt {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byExecution[execID]
	if !ok {
		return nil
	}
	pi, ok := m.byID[id]
	if !ok {
		return nil
	}
	ic := pi.interrupt
	return &ic
}

// StatusFor reports the status of the most recent interrupt raised for
// execID, even after it has resolved or expired (unlike Peek, which only
// ever sees a still-pending interrupt). Returns false if no interrupt was
// ever raised for execID.
func (m *Manager) StatusFor(execID string) (models.InterruptStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.lastID[execID]
	if !ok {
		return "", false
	}
	pi, ok := m.byID[id]
	if !ok {
		return "", false
	}
	return pi.interrupt.Status, true
}

// ExpireOlderThan scans pending interrupts created before the cutoff and
// trips them to expired, unblocking their waiters with an ApprovalTimeout
// error. Returns the count expired.
func (m *Manager) ExpireOlderThan(ctx context.Context, age time.Duration) int {
	cutoff := time.Now().Add(-age)

	m.mu.Lock()
	var toExpire []string
	for id, pi := range m.byID {
		if pi.interrupt.Status == models.InterruptPending && pi.interrupt.CreatedAt.Before(cutoff) {
			toExpire = append(toExpire, id)
		}
	}
	m.mu.Unlock()

	for _, id := range toExpire {
		m.expire(ctx, id)
	}
	return len(toExpire)
}

func (m *Manager) expire(ctx context.Context, id string) {
	m.mu.Lock()
	pi, ok := m.byID[id]
	if !ok || pi.interrupt.Status != models.InterruptPending {
		m.mu.Unlock()
		return
	}
	pi.interrupt.Status = models.InterruptExpired
	delete(m.byExecution, pi.interrupt.ExecutionID)
	m.mu.Unlock()

	// Unblock the waiter with a zero response; Request's own timer path is
	// what observes the timeout for that caller, but ExpireOlderThan may
	// race ahead of it, so close rather than send to avoid a double-send.
	select {
	case pi.waiter.resultCh <- models.InterruptResponse{}:
	default:
	}
}

func (m *Manager) emit(ctx context.Context, typ models.EventType, execID string, payload *models.ApprovalEventPayload) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(ctx, models.Event{
		Type:        typ,
		ExecutionID: execID,
		Timestamp:   time.Now(),
		Approval:    payload,
	})
}
