// Package binding ties a table or range of the host document to a logical
// name and surfaces its data and selection changes as events.
package binding

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/sheetbind/internal/batch"
	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/log"
	"github.com/zjrosen/sheetbind/internal/tracing"
)

// Kind is the kind of object a binding targets.
type Kind int

const (
	KindTable Kind = iota
	KindRange
	KindNamedItem
)

// Target is what a binding tracks: a table, an explicit range, or a named
// item that refers to either.
type Target struct {
	Kind      Kind
	Name      string
	Worksheet string
	Address   string
	Scope     host.Scope
}

// Table targets the named table.
func Table(name string) Target {
	return Target{Kind: KindTable, Name: name}
}

// Range targets an explicit range of a worksheet.
func Range(worksheet, address string) Target {
	return Target{Kind: KindRange, Worksheet: worksheet, Address: address}
}

// NamedItem targets the range or table the named item of scope refers to.
func NamedItem(scope host.Scope, name string) Target {
	return Target{Kind: KindNamedItem, Name: name, Scope: scope}
}

// BindingType is table for tables and range otherwise.
func (t Target) BindingType() host.BindingType {
	if t.Kind == KindTable {
		return host.BindingTable
	}
	return host.BindingRange
}

func (t Target) spec(id string) host.BindingSpec {
	spec := host.BindingSpec{ID: id, Type: t.BindingType()}
	if t.Kind == KindRange {
		spec.Worksheet = t.Worksheet
		spec.Address = t.Address
	} else {
		spec.ItemName = t.Name
		spec.Scope = t.Scope
	}
	return spec
}

func (t Target) String() string {
	switch t.Kind {
	case KindTable:
		return "table:" + t.Name
	case KindNamedItem:
		return "item:" + t.Scope.Qualify(t.Name)
	default:
		return fmt.Sprintf("range:%s!%s", t.Worksheet, t.Address)
	}
}

// EventType names the events a Binding raises.
type EventType string

const (
	DataChanged      EventType = "dataChanged"
	SelectionChanged EventType = "selectionChanged"
)

// Event is raised by a Binding. It carries the binding itself rather than
// the host payload.
type Event struct {
	Type    EventType
	Binding *Binding
	Address string
}

// Listener receives binding events.
type Listener func(ctx context.Context, ev Event)

type listenerEntry struct {
	id       int
	listener Listener
}

// Binding is a live association between a host range or table and a name.
type Binding struct {
	name    string
	target  Target
	id      string
	batcher *batch.Batcher
	regs    []*batch.Registration

	mu        sync.Mutex
	nextID    int
	listeners map[EventType][]listenerEntry

	destroyed atomic.Bool
}

// Option configures Create.
type Option func(*options)

type options struct {
	id string
}

// WithID sets the host binding id. By default a random id is used.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// Create binds target under name. A single batch creates the host binding
// and attaches its data and selection handlers; when it fails nothing is
// attached and no Binding is returned.
func Create(ctx context.Context, b *batch.Batcher, target Target, name string, opts ...Option) (*Binding, error) {
	o := options{id: "binding-" + uuid.NewString()}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := b.Tracer().Start(ctx, tracing.SpanBindingCreate)
	span.SetAttributes(
		attribute.String(tracing.AttrBindingName, name),
		attribute.String(tracing.AttrBindingType, string(target.BindingType())),
	)

	bd := &Binding{
		name:      name,
		target:    target,
		id:        o.id,
		batcher:   b,
		listeners: make(map[EventType][]listenerEntry),
	}

	var regs []*batch.Registration
	err := b.Run(ctx, func(ctx context.Context, bt *batch.Batch) error {
		bt.AddBinding(target.spec(bd.id))
		source := host.BindingSource(bd.id)
		regs = []*batch.Registration{
			bt.On(source, host.EventBindingDataChanged, bd.forward(DataChanged)),
			bt.On(source, host.EventBindingSelectionChanged, bd.forward(SelectionChanged)),
		}
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		return nil, fmt.Errorf("creating binding %s on %s: %w", name, target, err)
	}
	bd.regs = regs

	log.Debug(log.CatBinding, "binding created", "name", name, "id", bd.id, "target", target)
	return bd, nil
}

func (bd *Binding) forward(typ EventType) host.Handler {
	return func(ctx context.Context, ev host.Event) {
		bd.emit(ctx, Event{Type: typ, Binding: bd, Address: ev.Address})
	}
}

func (bd *Binding) emit(ctx context.Context, ev Event) {
	bd.mu.Lock()
	entries := slices.Clone(bd.listeners[ev.Type])
	bd.mu.Unlock()

	for _, e := range entries {
		// A listener may destroy the binding mid-dispatch.
		if bd.destroyed.Load() {
			return
		}
		e.listener(ctx, ev)
	}
}

// On adds a listener for typ and returns a function that removes it.
func (bd *Binding) On(typ EventType, listener Listener) func() {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	bd.nextID++
	id := bd.nextID
	bd.listeners[typ] = append(bd.listeners[typ], listenerEntry{id: id, listener: listener})

	return func() {
		bd.mu.Lock()
		defer bd.mu.Unlock()
		bd.listeners[typ] = slices.DeleteFunc(bd.listeners[typ], func(e listenerEntry) bool {
			return e.id == id
		})
	}
}

// ListenerCount returns the number of listeners for typ.
func (bd *Binding) ListenerCount(typ EventType) int {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return len(bd.listeners[typ])
}

// Destroy stops event delivery and deletes the host binding with its
// handlers in one batch. Later calls do nothing. If the batch fails the
// binding stays live with its listeners and Destroy may be retried.
func (bd *Binding) Destroy(ctx context.Context) error {
	if bd.destroyed.Swap(true) {
		return nil
	}

	ctx, span := bd.batcher.Tracer().Start(ctx, tracing.SpanBindingDestroy)
	span.SetAttributes(attribute.String(tracing.AttrBindingName, bd.name))

	err := bd.batcher.Run(ctx, func(ctx context.Context, bt *batch.Batch) error {
		for _, reg := range bd.regs {
			bt.RemoveHandler(reg)
		}
		bt.DeleteBinding(bd.id)
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		bd.destroyed.Store(false)
		return fmt.Errorf("destroying binding %s: %w", bd.name, err)
	}

	bd.mu.Lock()
	bd.listeners = make(map[EventType][]listenerEntry)
	bd.mu.Unlock()

	log.Debug(log.CatBinding, "binding destroyed", "name", bd.name, "id", bd.id)
	return nil
}

// Name returns the logical name.
func (bd *Binding) Name() string { return bd.name }

// ID returns the host binding id.
func (bd *Binding) ID() string { return bd.id }

// Target returns what the binding tracks.
func (bd *Binding) Target() Target { return bd.target }

// Type returns the binding type.
func (bd *Binding) Type() host.BindingType { return bd.target.BindingType() }

// Destroyed reports whether the binding is destroyed or being destroyed.
func (bd *Binding) Destroyed() bool { return bd.destroyed.Load() }
