package resilience

import (
	"context"

	"github.com/leventea/orchid/internal/port/dispatch"
)

// Dispatcher wraps a dispatch.Dispatcher with a circuit breaker so a dead
// queue fails fast instead of stalling every plan advancement behind
// publish timeouts. Result subscription is passed through untouched.
type Dispatcher struct {
	inner   dispatch.Dispatcher
	breaker *Breaker
}

// NewDispatcher wraps inner with the given breaker.
func NewDispatcher(inner dispatch.Dispatcher, breaker *Breaker) *Dispatcher {
	return &Dispatcher{inner: inner, breaker: breaker}
}

// Dispatch publishes through the breaker. When the circuit is open it
// returns ErrCircuitOpen without touching the queue.
func (d *Dispatcher) Dispatch(ctx context.Context, a dispatch.Assignment) error {
	return d.breaker.Execute(func() error {
		return d.inner.Dispatch(ctx, a)
	})
}

// SubscribeResults delegates to the wrapped dispatcher.
func (d *Dispatcher) SubscribeResults(ctx context.Context, handler dispatch.ResultHandler) (func(), error) {
	return d.inner.SubscribeResults(ctx, handler)
}
