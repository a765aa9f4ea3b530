// Package batch groups host document operations into round-trips.
//
// A Batcher opens one Batch per Run. Operations queued on the Batch are sent
// to the host together when the batch is synced; their typed Results are
// resolved only after that flush. Run always performs a final flush after its
// function returns, so callers that only write never need to call Sync.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/log"
	"github.com/zjrosen/sheetbind/internal/tracing"
)

// ErrBatchClosed is returned when a batch is used after its Run returned.
var ErrBatchClosed = errors.New("batch is closed")

// Batcher runs batches against one host.
type Batcher struct {
	host   host.Host
	tracer trace.Tracer

	runs     atomic.Int64
	flushes  atomic.Int64
	requests atomic.Int64
	failures atomic.Int64
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithTracer sets the tracer used for batch spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *Batcher) {
		if t != nil {
			b.tracer = t
		}
	}
}

// New creates a Batcher for h.
func New(h host.Host, opts ...Option) *Batcher {
	b := &Batcher{
		host:   h,
		tracer: tracing.NoopTracer(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Tracer returns the tracer batches report spans to. Components issuing
// batches use it for their own spans so traces nest.
func (b *Batcher) Tracer() trace.Tracer {
	return b.tracer
}

// Stats counts batcher activity since creation.
type Stats struct {
	Runs     int64
	Flushes  int64
	Requests int64
	Failures int64
}

// Stats returns a snapshot of the counters.
func (b *Batcher) Stats() Stats {
	return Stats{
		Runs:     b.runs.Load(),
		Flushes:  b.flushes.Load(),
		Requests: b.requests.Load(),
		Failures: b.failures.Load(),
	}
}

// Run opens a fresh batch, calls fn with it and flushes once fn returns.
// If fn fails, the operations it queued are discarded and fn's error is
// returned. Nested calls open independent batches.
func (b *Batcher) Run(ctx context.Context, fn func(ctx context.Context, bt *Batch) error) error {
	_, err := Run(ctx, b, func(ctx context.Context, bt *Batch) (struct{}, error) {
		return struct{}{}, fn(ctx, bt)
	})
	return err
}

// Run is Batcher.Run for functions producing a value. The value is returned
// only when the final flush succeeds.
func Run[T any](ctx context.Context, b *Batcher, fn func(ctx context.Context, bt *Batch) (T, error)) (T, error) {
	var zero T

	ctx, span := b.tracer.Start(ctx, tracing.SpanBatchRun)
	b.runs.Add(1)

	bt := &Batch{batcher: b}
	v, err := fn(ctx, bt)
	if err != nil {
		bt.close()
		tracing.End(span, err)
		return zero, err
	}
	err = bt.Sync(ctx)
	bt.close()
	span.SetAttributes(attribute.Int(tracing.AttrBatchFlushes, bt.flushes))
	tracing.End(span, err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

type pendingOp struct {
	req     host.Request
	resolve func(host.Response)
	// discard runs instead of resolve when the operation never reaches a
	// successful flush.
	discard func()
}

// Batch queues operations for one Run. A Batch is meant to be used by the
// goroutine running the Run function.
type Batch struct {
	batcher *Batcher

	mu      sync.Mutex
	pending []pendingOp
	err     error
	closed  bool
	flushes int
}

func (bt *Batch) enqueue(req host.Request, resolve func(host.Response)) {
	bt.enqueueOp(pendingOp{req: req, resolve: resolve})
}

func (bt *Batch) enqueueOp(op pendingOp) {
	bt.mu.Lock()
	if bt.closed || bt.err != nil {
		bt.mu.Unlock()
		discardAll([]pendingOp{op})
		return
	}
	bt.pending = append(bt.pending, op)
	bt.mu.Unlock()
}

func discardAll(ops []pendingOp) {
	for _, op := range ops {
		if op.discard != nil {
			op.discard()
		}
	}
}

// Pending returns the number of queued operations.
func (bt *Batch) Pending() int {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return len(bt.pending)
}

// Sync flushes the queued operations in one round-trip and resolves their
// results. After a failed flush the batch is poisoned: further operations are
// ignored and every later Sync returns the same error.
func (bt *Batch) Sync(ctx context.Context) error {
	bt.mu.Lock()
	if bt.closed {
		bt.mu.Unlock()
		return ErrBatchClosed
	}
	if bt.err != nil {
		err := bt.err
		bt.mu.Unlock()
		return err
	}
	ops := bt.pending
	bt.pending = nil
	bt.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	b := bt.batcher
	ctx, span := b.tracer.Start(ctx, tracing.SpanBatchFlush)
	span.SetAttributes(attribute.Int(tracing.AttrBatchRequests, len(ops)))

	reqs := make([]host.Request, len(ops))
	for i, op := range ops {
		reqs[i] = op.req
	}

	b.flushes.Add(1)
	b.requests.Add(int64(len(reqs)))
	resps, err := b.host.Execute(ctx, reqs)
	if err == nil && len(resps) != len(reqs) {
		err = fmt.Errorf("host returned %d responses for %d requests", len(resps), len(reqs))
	}
	if err != nil {
		b.failures.Add(1)
		err = fmt.Errorf("flushing batch: %w", err)
		log.Debug(log.CatBatch, "flush failed", "requests", len(reqs), "error", err)

		bt.mu.Lock()
		bt.err = err
		bt.mu.Unlock()
		discardAll(ops)
		tracing.End(span, err)
		return err
	}

	bt.mu.Lock()
	bt.flushes++
	bt.mu.Unlock()

	for i, op := range ops {
		if op.resolve != nil {
			op.resolve(resps[i])
		}
	}
	log.Debug(log.CatBatch, "flushed", "requests", len(reqs))
	tracing.End(span, nil)
	return nil
}

func (bt *Batch) close() {
	bt.mu.Lock()
	ops := bt.pending
	bt.closed = true
	bt.pending = nil
	bt.mu.Unlock()
	discardAll(ops)
}

// Batcher returns the batcher that opened bt.
func (bt *Batch) Batcher() *Batcher {
	return bt.batcher
}
