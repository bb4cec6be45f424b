// Package events implements the engine's event bus (C1): typed pub/sub with
// back-pressure-tolerant fan-out of execution lifecycle and progress events.
package events

import (
	"context"

	"github.com/fluxorch/engine/pkg/models"
)

// Sink receives events as they are emitted. Implementations must be safe
// for concurrent use and must not block the emitter for long.
type Sink interface {
	Emit(ctx context.Context, e models.Event)
}

// ChanSink forwards events onto a channel, dropping silently if the
// channel is full or ctx is done.
type ChanSink struct {
	ch chan<- models.Event
}

// NewChanSink wraps a channel as a Sink. The channel should be buffered.
func NewChanSink(ch chan<- models.Event) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit sends e to the channel, dropping it if the channel is full.
func (s *ChanSink) Emit(ctx context.Context, e models.Event) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}

// MultiSink fans an event out to every wrapped sink. Nil sinks are filtered
// at construction time.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a fan-out sink over the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches e to every wrapped sink in order.
func (s *MultiSink) Emit(ctx context.Context, e models.Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// CallbackSink adapts a plain function to the Sink interface.
type CallbackSink struct {
	fn func(ctx context.Context, e models.Event)
}

// NewCallbackSink wraps fn as a Sink.
func NewCallbackSink(fn func(ctx context.Context, e models.Event)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit calls the wrapped function.
func (s *CallbackSink) Emit(ctx context.Context, e models.Event) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// NopSink discards every event. Useful where a Sink is required but no
// observation is needed (tests, headless executions).
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(context.Context, models.Event) {}
