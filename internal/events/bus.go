package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fluxorch/engine/pkg/models"
	"github.com/fluxorch/engine/internal/observability"
)

// DefaultQueueSize is the bounded per-subscriber queue depth (§4.1).
const DefaultQueueSize = 256

// Filter narrows a Subscribe call to a subset of the stream. A zero-value
// field is unconstrained; ExecutionID/UserID are exact matches, EventKinds
// (if non-empty) is an allow-list.
type Filter struct {
	ExecutionID string
	UserID      string
	EventKinds  []models.EventType
}

func (f Filter) matches(e models.Event) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	if len(f.EventKinds) > 0 {
		ok := false
		for _, k := range f.EventKinds {
			if k == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Subscription is a live handle to a subscriber's event stream. Events()
// yields the bounded, filtered stream; Close unregisters the subscriber and
// closes the channel.
type Subscription struct {
	id     uint64
	bus    *Bus
	filter Filter
	ch     chan models.Event
	mu     sync.Mutex
	closed bool
	lagged uint64
}

// Events returns the channel subscribers should range over.
func (s *Subscription) Events() <-chan models.Event { return s.ch }

// Lagged returns the count of events discarded for this subscriber due to
// overflow of its bounded queue.
func (s *Subscription) Lagged() uint64 { return atomic.LoadUint64(&s.lagged) }

// Close unregisters the subscription from its bus. Safe to call more than
// once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) deliver(e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
		return
	default:
	}
	// Queue full: discard the oldest queued event to make room, per §4.1's
	// overflow policy, and count it against this subscriber's lag.
	select {
	case <-s.ch:
		atomic.AddUint64(&s.lagged, 1)
	default:
	}
	select {
	case s.ch <- e:
	default:
		atomic.AddUint64(&s.lagged, 1)
	}
}

// Bus is the process-wide event bus (C1). Emit is synchronous from the
// caller's perspective (it never blocks on a subscriber); fan-out to
// subscribers happens inline but each subscriber's own bounded queue
// absorbs backpressure so a slow subscriber cannot stall the emitter or
// other subscribers.
type Bus struct {
	mu          sync.RWMutex
	subs        map[uint64]*Subscription
	nextSubID   uint64
	queueSize   int
	seqCounters sync.Map // execution_id -> *uint64
	logger      *observability.Logger
}

// New constructs an empty Bus. A nil logger falls back to a no-op logger.
func New(logger *observability.Logger) *Bus {
	if logger == nil {
		logger = observability.NewNop()
	}
	return &Bus{
		subs:      make(map[uint64]*Subscription),
		queueSize: DefaultQueueSize,
		logger:    logger,
	}
}

// nextSeq returns the next monotonic sequence number for executionID,
// guaranteeing emission-order delivery per execution (§4.1 ordering
// guarantee).
func (b *Bus) nextSeq(executionID string) uint64 {
	v, _ := b.seqCounters.LoadOrStore(executionID, new(uint64))
	counter := v.(*uint64)
	return atomic.AddUint64(counter, 1)
}

// Emit stamps e with a sequence number (if unset) and fans it out to every
// matching subscriber. The caller's own context governs only how long Emit
// is willing to wait while pushing into a full high-priority path; delivery
// to subscribers never blocks beyond that.
func (b *Bus) Emit(ctx context.Context, e models.Event) {
	if e.Sequence == 0 {
		e.Sequence = b.nextSeq(e.ExecutionID)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.filter.matches(e) {
			sub.deliver(e)
		}
	}
}

// Subscribe registers a new subscriber matching filter and returns its
// handle. The returned Subscription must be closed by the caller.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	sub := &Subscription{
		id:     b.nextSubID,
		bus:    b,
		filter: filter,
		ch:     make(chan models.Event, b.queueSize),
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// SubscriberCount reports the number of live subscriptions, for tests and
// diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
