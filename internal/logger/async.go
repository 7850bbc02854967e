package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and stops a logging pipeline on shutdown.
type Closer interface {
	Close()
}

// nopCloser is the Closer for the synchronous pipeline.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples log emission from log formatting. Plan advancement
// runs under the orchestrator's lock, so a slow stdout must never back up
// into a dispatch: records go onto a bounded channel and are formatted by
// background workers. When the channel is full the record is dropped and
// counted rather than waited on.
type AsyncHandler struct {
	inner   slog.Handler
	ch      chan slog.Record
	wg      *sync.WaitGroup
	dropped *atomic.Int64
}

// NewAsyncHandler buffers up to chanSize records ahead of `workers`
// formatting goroutines writing through inner.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	h := &AsyncHandler{
		inner:   inner,
		ch:      make(chan slog.Record, chanSize),
		wg:      &sync.WaitGroup{},
		dropped: &atomic.Int64{},
	}
	for i := 0; i < workers; i++ {
		h.wg.Add(1)
		go h.pump()
	}
	return h
}

func (h *AsyncHandler) pump() {
	defer h.wg.Done()
	for rec := range h.ch {
		_ = h.inner.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record without blocking. A full channel drops it.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error {
	select {
	case h.ch <- rec:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler over the same channel whose inner handler
// carries the extra attributes, so orchestrator-scoped loggers (plan_id,
// session) share one pipeline.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(h.inner.WithAttrs(attrs))
}

// WithGroup derives a handler over the same channel with a grouped inner.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return h.derive(h.inner.WithGroup(name))
}

func (h *AsyncHandler) derive(inner slog.Handler) *AsyncHandler {
	return &AsyncHandler{inner: inner, ch: h.ch, wg: h.wg, dropped: h.dropped}
}

// DroppedCount reports how many records were discarded on a full channel.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops intake and waits for the workers to finish the backlog.
func (h *AsyncHandler) Close() {
	close(h.ch)
	h.wg.Wait()
}
