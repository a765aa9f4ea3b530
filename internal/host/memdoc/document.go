// Package memdoc is an in-process spreadsheet document implementing host.Host.
//
// A Document keeps worksheets, named items, tables, bindings and handler
// registrations in memory and optionally persists the durable part through a
// Store. Besides Execute it offers driver methods (ActivateWorksheet,
// EditRange, SelectRange, ...) that stand in for a user working in the host
// application and raise the corresponding events.
package memdoc

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/log"
)

// Document is an in-memory host document. It is safe for concurrent use.
type Document struct {
	mu    sync.Mutex
	st    *state
	store Store
	newID func() string
}

// Option configures a Document.
type Option func(*Document)

// WithSnapshot seeds the document from snap.
func WithSnapshot(snap *Snapshot) Option {
	return func(d *Document) {
		d.st = stateFrom(snap)
	}
}

// WithWorksheets seeds the document with empty worksheets. The first one is
// active.
func WithWorksheets(names ...string) Option {
	return func(d *Document) {
		d.st = stateFrom(&Snapshot{Worksheets: names})
	}
}

// WithStore persists every committed change to named items and the active
// worksheet through store.
func WithStore(store Store) Option {
	return func(d *Document) {
		d.store = store
	}
}

// WithIDGenerator overrides how binding and handler ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(d *Document) {
		d.newID = fn
	}
}

// New creates a document.
func New(opts ...Option) *Document {
	d := &Document{
		st:    &state{},
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open loads a document from store and keeps persisting to it.
func Open(ctx context.Context, store Store, opts ...Option) (*Document, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading document: %w", err)
	}
	opts = append([]Option{WithSnapshot(snap)}, opts...)
	opts = append(opts, WithStore(store))
	return New(opts...), nil
}

// Execute implements host.Host.
func (d *Document) Execute(ctx context.Context, reqs []host.Request) ([]host.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	base := d.st
	next := base.clone()
	persist := false
	resps := make([]host.Response, len(reqs))
	for i, req := range reqs {
		resp, err := d.apply(base, next, req)
		if err != nil {
			log.Debug(log.CatHost, "batch rejected", "index", i, "op", req.Op, "error", err)
			return nil, &host.RequestError{Index: i, Op: req.Op, Err: err}
		}
		resps[i] = resp
		if req.Op == host.OpAddName || req.Op == host.OpDeleteName {
			persist = true
		}
	}

	if persist && d.store != nil {
		if err := d.store.Save(ctx, next.snapshot()); err != nil {
			return nil, fmt.Errorf("saving document: %w", err)
		}
	}
	d.st = next
	return resps, nil
}

// apply evaluates one request. Reads consult base, the document as it was
// when the batch started; writes are validated against and applied to next.
func (d *Document) apply(base, next *state, req host.Request) (host.Response, error) {
	switch req.Op {
	case host.OpListNames:
		if !base.scopeExists(req.Scope) {
			return host.Response{}, fmt.Errorf("%w: %s", host.ErrUnknownWorksheet, req.Scope.Worksheet)
		}
		return host.Response{Found: true, Items: base.namesIn(req.Scope)}, nil

	case host.OpGetName:
		if !base.scopeExists(req.Scope) {
			return host.Response{}, fmt.Errorf("%w: %s", host.ErrUnknownWorksheet, req.Scope.Worksheet)
		}
		i := base.findName(req.Scope, req.Name)
		if i < 0 {
			if req.Strict {
				return host.Response{}, fmt.Errorf("%w: %s in %s", host.ErrNotFound, req.Name, req.Scope)
			}
			return host.Response{}, nil
		}
		return host.Response{Found: true, Item: base.names[i]}, nil

	case host.OpAddName:
		if req.Name == "" {
			return host.Response{}, fmt.Errorf("name is required")
		}
		if !next.scopeExists(req.Scope) {
			return host.Response{}, fmt.Errorf("%w: %s", host.ErrUnknownWorksheet, req.Scope.Worksheet)
		}
		if next.findName(req.Scope, req.Name) >= 0 {
			return host.Response{}, fmt.Errorf("%w: %s in %s", host.ErrDuplicateName, req.Name, req.Scope)
		}
		item := host.NamedItem{
			Name:    req.Name,
			Scope:   req.Scope,
			Formula: req.Formula,
			Value:   host.Evaluate(req.Formula),
			Comment: req.Comment,
		}
		next.names = append(next.names, item)
		return host.Response{Found: true, Item: item}, nil

	case host.OpDeleteName:
		i := next.findName(req.Scope, req.Name)
		if i < 0 {
			return host.Response{}, fmt.Errorf("%w: %s in %s", host.ErrNotFound, req.Name, req.Scope)
		}
		next.names = slices.Delete(next.names, i, i+1)
		return host.Response{Found: true}, nil

	case host.OpListWorksheets:
		return host.Response{Found: true, Worksheets: slices.Clone(base.worksheets)}, nil

	case host.OpActiveSheet:
		return host.Response{Found: base.active != "", Worksheet: base.active}, nil

	case host.OpGetWorksheet:
		return host.Response{Found: base.hasWorksheet(req.Name), Worksheet: req.Name}, nil

	case host.OpGetTable:
		t, ok := base.table(req.Name)
		return host.Response{Found: ok, Table: t}, nil

	case host.OpAddBinding:
		spec := req.Binding
		if spec.ID == "" {
			spec.ID = d.newID()
		}
		if _, _, ok := next.bindingRange(spec); !ok {
			return host.Response{}, fmt.Errorf("%w: %+v", host.ErrInvalidTarget, req.Binding)
		}
		if spec.Type == "" {
			spec.Type = host.BindingRange
			if _, ok := next.table(spec.ItemName); ok && spec.ItemName != "" {
				spec.Type = host.BindingTable
			}
		}
		if i := next.binding(spec.ID); i >= 0 {
			next.bindings[i] = spec
		} else {
			next.bindings = append(next.bindings, spec)
		}
		return host.Response{Found: true, ID: spec.ID}, nil

	case host.OpDeleteBinding:
		i := next.binding(req.Binding.ID)
		if i < 0 {
			return host.Response{}, fmt.Errorf("%w: %s", host.ErrUnknownBinding, req.Binding.ID)
		}
		next.bindings = slices.Delete(next.bindings, i, i+1)
		source := host.BindingSource(req.Binding.ID)
		next.handlers = slices.DeleteFunc(next.handlers, func(r registration) bool {
			return r.source == source
		})
		return host.Response{Found: true, ID: req.Binding.ID}, nil

	case host.OpAddHandler:
		if req.Handler == nil {
			return host.Response{}, fmt.Errorf("handler is required")
		}
		switch req.Source.Kind {
		case host.SourceWorkbook:
		case host.SourceWorksheet:
			if !next.hasWorksheet(req.Source.ID) {
				return host.Response{}, fmt.Errorf("%w: %s", host.ErrUnknownWorksheet, req.Source.ID)
			}
		case host.SourceBinding:
			if next.binding(req.Source.ID) < 0 {
				return host.Response{}, fmt.Errorf("%w: %s", host.ErrUnknownBinding, req.Source.ID)
			}
		default:
			return host.Response{}, fmt.Errorf("unknown event source %q", req.Source.Kind)
		}
		id := d.newID()
		next.handlers = append(next.handlers, registration{
			id:      id,
			source:  req.Source,
			event:   req.Event,
			handler: req.Handler,
		})
		return host.Response{Found: true, ID: id}, nil

	case host.OpRemoveHandler:
		i := next.handler(req.HandlerID)
		if i < 0 {
			return host.Response{}, fmt.Errorf("%w: %s", host.ErrUnknownHandler, req.HandlerID)
		}
		next.handlers = slices.Delete(next.handlers, i, i+1)
		return host.Response{Found: true, ID: req.HandlerID}, nil

	default:
		return host.Response{}, fmt.Errorf("unsupported operation %q", req.Op)
	}
}

// Snapshot returns a copy of the persistent document state.
func (d *Document) Snapshot() *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.snapshot()
}

// ActiveWorksheet returns the name of the active worksheet.
func (d *Document) ActiveWorksheet() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.active
}

// Worksheets returns the worksheet names in order.
func (d *Document) Worksheets() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.st.worksheets)
}

// Names returns the named items of one scope.
func (d *Document) Names(scope host.Scope) []host.NamedItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.namesIn(scope)
}

// Bindings returns the live host bindings.
func (d *Document) Bindings() []host.BindingSpec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.st.bindings)
}

// HandlerCount returns the number of registered handlers.
func (d *Document) HandlerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.st.handlers)
}

// HandlerCountFor returns the number of handlers attached to source.
func (d *Document) HandlerCountFor(source host.Source) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.st.handlers {
		if r.source == source {
			n++
		}
	}
	return n
}
