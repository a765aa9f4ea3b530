package batch

import (
	"context"
	"sync/atomic"

	"github.com/zjrosen/sheetbind/internal/host"
)

// Result is the value of a queued operation. It is resolved when the batch
// holding the operation is flushed.
type Result[T any] struct {
	value  T
	loaded bool
}

// Value returns the resolved value, or the zero value before the flush.
func (r *Result[T]) Value() T {
	return r.value
}

// Loaded reports whether the operation has been flushed.
func (r *Result[T]) Loaded() bool {
	return r.loaded
}

func (r *Result[T]) set(v T) {
	r.value = v
	r.loaded = true
}

// Maybe is a possibly absent host object, the result of the *OrNull lookups.
type Maybe[T any] struct {
	Value   T
	Present bool
}

// IsNull reports whether the object was absent.
func (m Maybe[T]) IsNull() bool {
	return !m.Present
}

// Names queues operations on the named items of one scope.
type Names struct {
	bt    *Batch
	scope host.Scope
}

// Names returns the named item collection of scope.
func (bt *Batch) Names(scope host.Scope) *Names {
	return &Names{bt: bt, scope: scope}
}

// Load lists every item of the scope.
func (n *Names) Load() *Result[[]host.NamedItem] {
	r := &Result[[]host.NamedItem]{}
	n.bt.enqueue(host.Request{Op: host.OpListNames, Scope: n.scope}, func(resp host.Response) {
		r.set(resp.Items)
	})
	return r
}

// GetItemOrNull looks up an item, resolving to a null object when absent.
func (n *Names) GetItemOrNull(name string) *Result[Maybe[host.NamedItem]] {
	r := &Result[Maybe[host.NamedItem]]{}
	n.bt.enqueue(host.Request{Op: host.OpGetName, Scope: n.scope, Name: name}, func(resp host.Response) {
		r.set(Maybe[host.NamedItem]{Value: resp.Item, Present: resp.Found})
	})
	return r
}

// GetItem looks up an item; the flush fails with host.ErrNotFound when it is
// absent.
func (n *Names) GetItem(name string) *Result[host.NamedItem] {
	r := &Result[host.NamedItem]{}
	n.bt.enqueue(host.Request{Op: host.OpGetName, Scope: n.scope, Name: name, Strict: true}, func(resp host.Response) {
		r.set(resp.Item)
	})
	return r
}

// Add creates an item.
func (n *Names) Add(name, formula, comment string) *Result[host.NamedItem] {
	r := &Result[host.NamedItem]{}
	n.bt.enqueue(host.Request{Op: host.OpAddName, Scope: n.scope, Name: name, Formula: formula, Comment: comment}, func(resp host.Response) {
		r.set(resp.Item)
	})
	return r
}

// Delete removes an item; the flush fails when it does not exist.
func (n *Names) Delete(name string) {
	n.bt.enqueue(host.Request{Op: host.OpDeleteName, Scope: n.scope, Name: name}, nil)
}

// Worksheets lists the worksheet names.
func (bt *Batch) Worksheets() *Result[[]string] {
	r := &Result[[]string]{}
	bt.enqueue(host.Request{Op: host.OpListWorksheets}, func(resp host.Response) {
		r.set(resp.Worksheets)
	})
	return r
}

// ActiveWorksheet resolves the active worksheet name.
func (bt *Batch) ActiveWorksheet() *Result[Maybe[string]] {
	r := &Result[Maybe[string]]{}
	bt.enqueue(host.Request{Op: host.OpActiveSheet}, func(resp host.Response) {
		r.set(Maybe[string]{Value: resp.Worksheet, Present: resp.Found})
	})
	return r
}

// WorksheetExists resolves whether the named worksheet exists.
func (bt *Batch) WorksheetExists(name string) *Result[bool] {
	r := &Result[bool]{}
	bt.enqueue(host.Request{Op: host.OpGetWorksheet, Name: name}, func(resp host.Response) {
		r.set(resp.Found)
	})
	return r
}

// TableOrNull looks up a table by name.
func (bt *Batch) TableOrNull(name string) *Result[Maybe[host.Table]] {
	r := &Result[Maybe[host.Table]]{}
	bt.enqueue(host.Request{Op: host.OpGetTable, Name: name}, func(resp host.Response) {
		r.set(Maybe[host.Table]{Value: resp.Table, Present: resp.Found})
	})
	return r
}

// AddBinding creates a host binding and resolves its id.
func (bt *Batch) AddBinding(spec host.BindingSpec) *Result[string] {
	r := &Result[string]{}
	bt.enqueue(host.Request{Op: host.OpAddBinding, Binding: spec}, func(resp host.Response) {
		r.set(resp.ID)
	})
	return r
}

// DeleteBinding removes a host binding and every handler attached to it.
func (bt *Batch) DeleteBinding(id string) {
	bt.enqueue(host.Request{Op: host.OpDeleteBinding, Binding: host.BindingSpec{ID: id}}, nil)
}

// Registration is a handler attached to a host event source.
type Registration struct {
	batcher *Batcher
	source  host.Source
	event   host.EventType
	id      Result[string]
	// removing is claimed when a removal is queued; removed is set once the
	// removal has been flushed.
	removing atomic.Bool
	removed  atomic.Bool
}

// On attaches handler to event on source. The registration becomes live
// when the batch is flushed.
func (bt *Batch) On(source host.Source, event host.EventType, handler host.Handler) *Registration {
	reg := &Registration{batcher: bt.batcher, source: source, event: event}
	bt.enqueue(host.Request{Op: host.OpAddHandler, Source: source, Event: event, Handler: handler}, func(resp host.Response) {
		reg.id.set(resp.ID)
	})
	return reg
}

// RemoveHandler queues the removal of reg. Registrations that never became
// live, were already removed or have a removal queued are skipped. If the
// removal is not flushed the registration stays live and may be removed
// again.
func (bt *Batch) RemoveHandler(reg *Registration) {
	if reg == nil || !reg.id.Loaded() || reg.removed.Load() || !reg.removing.CompareAndSwap(false, true) {
		return
	}
	bt.enqueueOp(pendingOp{
		req:     host.Request{Op: host.OpRemoveHandler, HandlerID: reg.id.Value()},
		resolve: func(host.Response) { reg.removed.Store(true) },
		discard: func() { reg.removing.Store(false) },
	})
}

// ID returns the host handler id, empty until the registration is live.
func (r *Registration) ID() string {
	return r.id.Value()
}

// Live reports whether the handler is attached.
func (r *Registration) Live() bool {
	return r.id.Loaded() && !r.removed.Load()
}

// Source returns the object the handler is attached to.
func (r *Registration) Source() host.Source {
	return r.source
}

// Event returns the event the handler receives.
func (r *Registration) Event() host.EventType {
	return r.event
}

// Remove detaches the handler in its own batch against the batcher that
// created it. Removing twice is a no-op.
func (r *Registration) Remove(ctx context.Context) error {
	return r.batcher.Run(ctx, func(_ context.Context, bt *Batch) error {
		bt.RemoveHandler(r)
		return nil
	})
}
