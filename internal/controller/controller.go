// Package controller implements the unit of behavior attached to one
// document scope.
//
// A Controller is created in two phases. New returns a handle that is not
// ready yet; Setup resolves the scope, wires host and bus listeners, fills
// the value cache from the document, creates target bindings, runs the
// Connect hook and pushes the first task pane. Ready closes when Setup ends,
// successfully or not.
package controller

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sheetbind/internal/batch"
	"github.com/zjrosen/sheetbind/internal/binding"
	"github.com/zjrosen/sheetbind/internal/cachemanager"
	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/log"
	"github.com/zjrosen/sheetbind/internal/pubsub"
	"github.com/zjrosen/sheetbind/internal/tracing"
)

var (
	// ErrUnknownWorksheet is returned by Setup when the activation names a
	// worksheet the document does not have.
	ErrUnknownWorksheet = errors.New("worksheet does not exist")

	// ErrDestroyed is returned by Setup when the controller was destroyed
	// before setup finished.
	ErrDestroyed = errors.New("controller destroyed")
)

// State is a controller lifecycle phase.
type State int32

const (
	StateSetup State = iota
	StateConnected
	StateDestroyed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateConnected:
		return "connected"
	case StateDestroyed:
		return "destroyed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Application is what a controller needs from the process-wide coordinator.
type Application interface {
	Batcher() *batch.Batcher
	Bus() *pubsub.Bus
	UpdateTaskPane(view string, values map[string]any)
	ControllerDestroyed(c *Controller)
}

// cachedValue wraps cache entries so absent markers can be cached as nil.
type cachedValue struct {
	Value any
}

type ownedBinding struct {
	binding *binding.Binding
	offs    []func()
}

// Controller is one running attachment of a Definition to a scope.
type Controller struct {
	app        Application
	def        Definition
	activation Activation
	batcher    *batch.Batcher
	tracer     trace.Tracer

	values cachemanager.CacheManager[string, cachedValue]

	mu        sync.Mutex
	state     State
	connected bool
	hostRegs  []*batch.Registration
	busSubs   []pubsub.Subscription
	bindings  map[string]*ownedBinding

	started   atomic.Bool
	destroyed atomic.Bool
	ready     chan struct{}
	setupErr  error
}

// Option configures a Controller.
type Option func(*Controller)

// WithTracer overrides the tracer, which defaults to the batcher's.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// New creates a controller for def at activation. The controller does
// nothing until Setup is called.
func New(app Application, def Definition, activation Activation, opts ...Option) *Controller {
	c := &Controller{
		app:        app,
		def:        def,
		activation: activation,
		batcher:    app.Batcher(),
		tracer:     app.Batcher().Tracer(),
		values:     cachemanager.NewInMemoryCacheManager[string, cachedValue]("controller-values", cachemanager.NoExpiration, cachemanager.NoCleanup),
		bindings:   make(map[string]*ownedBinding),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Setup runs the setup phases. Calling it again waits for the first call
// and returns its result.
func (c *Controller) Setup(ctx context.Context) error {
	if c.started.Swap(true) {
		return c.Wait(ctx)
	}

	ctx, span := c.tracer.Start(ctx, tracing.SpanControllerSetup)
	span.SetAttributes(
		attribute.String(tracing.AttrControllerName, c.def.Name),
		attribute.String(tracing.AttrControllerScope, c.Scope().String()),
	)

	err := c.setup(ctx)
	if err != nil {
		err = fmt.Errorf("setting up controller %s on %s: %w", c.def.Name, c.Scope(), err)
		if !errors.Is(err, ErrDestroyed) {
			log.ErrorErr(log.CatController, "setup failed", err, "controller", c.def.Name, "scope", c.Scope())
			c.mu.Lock()
			c.state = StateFailed
			c.mu.Unlock()
			c.Destroy(ctx)
		}
	} else {
		log.Debug(log.CatController, "controller connected", "controller", c.def.Name, "scope", c.Scope())
	}
	tracing.End(span, err)

	c.setupErr = err
	close(c.ready)
	return err
}

func (c *Controller) setup(ctx context.Context) error {
	scope := c.Scope()
	source := host.SourceFor(scope)

	var (
		regs    []*batch.Registration
		lookups = make(map[string]*batch.Result[batch.Maybe[host.NamedItem]], len(c.def.Values))
		pending []pendingTarget
		active  *batch.Result[batch.Maybe[string]]
	)

	err := c.batcher.Run(ctx, func(ctx context.Context, bt *batch.Batch) error {
		if c.activation.Type == ActivatedWorksheet {
			exists := bt.WorksheetExists(c.activation.Worksheet)
			if err := bt.Sync(ctx); err != nil {
				return err
			}
			if !exists.Value() {
				return fmt.Errorf("%w: %s", ErrUnknownWorksheet, c.activation.Worksheet)
			}
			regs = append(regs, bt.On(source, host.EventWorksheetDeactivated, c.onDeactivated))
		}

		for _, ev := range c.def.Events {
			if IsInternal(ev) {
				continue
			}
			regs = append(regs, bt.On(source, host.EventType(ev), c.hostHandler(HandlerKey(ev))))
		}

		names := bt.Names(scope)
		for _, v := range c.def.Values {
			q := QualifiedValueName(v)
			lookups[q] = names.GetItemOrNull(q)
		}

		pending = c.queueTargets(bt, scope)
		if scope.IsWorkbook() && hasRanges(c.def.Targets) {
			active = bt.ActiveWorksheet()
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateSetup {
		c.mu.Unlock()
		removeAll(ctx, regs)
		return ErrDestroyed
	}
	c.hostRegs = append(c.hostRegs, regs...)
	for _, ev := range c.def.Events {
		if IsInternal(ev) {
			c.busSubs = append(c.busSubs, c.app.Bus().Subscribe(Namespaced(ev), c.busListener(HandlerKey(ev))))
		}
	}
	c.mu.Unlock()

	for q, r := range lookups {
		var v any
		if item := r.Value(); item.Present {
			v = item.Value.Value
		}
		c.values.Set(ctx, q, cachedValue{Value: v}, cachemanager.NoExpiration)
	}

	// Range maps land on the controller's own sheet; only workbook-scoped
	// controllers fall back to the active one.
	sheet := scope.Worksheet
	if active != nil {
		sheet = active.Value().Value
	}
	for _, t := range c.resolveTargets(pending, sheet) {
		if err := c.AddBinding(ctx, t.name, t.target); err != nil {
			return err
		}
	}

	if c.destroyed.Load() {
		return ErrDestroyed
	}
	if c.def.Connect != nil {
		if err := c.def.Connect(ctx, c); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}

	c.mu.Lock()
	if c.state != StateSetup {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.state = StateConnected
	c.connected = true
	c.mu.Unlock()

	c.RefreshTaskPane()
	return nil
}

func removeAll(ctx context.Context, regs []*batch.Registration) {
	for _, reg := range regs {
		if err := reg.Remove(ctx); err != nil {
			log.ErrorErr(log.CatController, "removing handler", err, "source", reg.Source(), "event", reg.Event())
		}
	}
}

func (c *Controller) onDeactivated(ctx context.Context, _ host.Event) {
	c.Destroy(ctx)
}

func (c *Controller) hostHandler(key string) host.Handler {
	return func(ctx context.Context, ev host.Event) {
		if err := c.HandleEvent(ctx, key, ev); err != nil {
			log.ErrorErr(log.CatController, "event handler failed", err, "controller", c.def.Name, "event", key)
		}
	}
}

func (c *Controller) busListener(key string) pubsub.Listener {
	return func(ctx context.Context, _ string, payload any) {
		if err := c.HandleEvent(ctx, key, payload); err != nil {
			log.ErrorErr(log.CatController, "event handler failed", err, "controller", c.def.Name, "event", key)
		}
	}
}

// Ready is closed when Setup has finished.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Wait blocks until Setup has finished and returns its error.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.setupErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent calls the handler registered for name, stripped of the
// internal prefix, then pushes the task pane even when no handler exists.
// Destroyed and failed controllers ignore events.
func (c *Controller) HandleEvent(ctx context.Context, name string, payload any) error {
	switch c.State() {
	case StateDestroyed, StateFailed:
		return nil
	}

	key := HandlerKey(name)
	ctx, span := c.tracer.Start(ctx, tracing.SpanControllerHandle)
	span.SetAttributes(
		attribute.String(tracing.AttrControllerName, c.def.Name),
		attribute.String(tracing.AttrEventName, key),
	)

	var err error
	if h, ok := c.def.Handlers[key]; ok && h != nil {
		if err = h(ctx, c, payload); err != nil {
			err = fmt.Errorf("handling %s: %w", key, err)
		}
	}
	c.RefreshTaskPane()
	tracing.End(span, err)
	return err
}

// RefreshTaskPane pushes the task pane described by the definition, if any.
func (c *Controller) RefreshTaskPane() {
	pane := c.def.TaskPane
	if pane == nil || c.destroyed.Load() {
		return
	}
	var props map[string]any
	if pane.PropsFunc != nil {
		props = pane.PropsFunc(c)
	} else {
		props = maps.Clone(pane.Props)
	}
	if props == nil {
		props = map[string]any{}
	}
	c.app.UpdateTaskPane(pane.View, props)
}

// Publish sends an internal event on the application bus.
func (c *Controller) Publish(ctx context.Context, event string, payload any) int {
	return c.app.Bus().Publish(ctx, Namespaced(event), payload)
}

// Destroy runs the Disconnect hook, then removes every host handler, bus
// subscription and binding in parallel and drops the value cache. Teardown
// failures are logged. Only the first call does anything.
func (c *Controller) Destroy(ctx context.Context) {
	if c.destroyed.Swap(true) {
		return
	}

	ctx, span := c.tracer.Start(ctx, tracing.SpanControllerDestroy)
	span.SetAttributes(
		attribute.String(tracing.AttrControllerName, c.def.Name),
		attribute.String(tracing.AttrControllerScope, c.Scope().String()),
	)

	c.mu.Lock()
	connected := c.connected
	if c.state != StateFailed {
		c.state = StateDestroyed
	}
	c.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  []error
	)
	addErr := func(err error) {
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	if connected && c.def.Disconnect != nil {
		if err := c.def.Disconnect(ctx, c); err != nil {
			addErr(fmt.Errorf("disconnect: %w", err))
		}
	}

	c.mu.Lock()
	regs, subs, owned := c.hostRegs, c.busSubs, c.bindings
	c.hostRegs = nil
	c.busSubs = nil
	c.bindings = make(map[string]*ownedBinding)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, reg := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.Remove(ctx); err != nil {
				addErr(fmt.Errorf("removing %s handler on %s: %w", reg.Event(), reg.Source(), err))
			}
		}()
	}
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.app.Bus().Unsubscribe(sub)
		}()
	}
	for _, ob := range owned {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ob.destroy(ctx); err != nil {
				addErr(err)
			}
		}()
	}
	wg.Wait()

	if err := c.values.Flush(ctx); err != nil {
		addErr(fmt.Errorf("flushing values: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		log.ErrorErr(log.CatController, "teardown incomplete", err, "controller", c.def.Name, "scope", c.Scope())
	}
	tracing.End(span, err)
	log.Debug(log.CatController, "controller destroyed", "controller", c.def.Name, "scope", c.Scope())

	c.app.ControllerDestroyed(c)
}

// SubscriptionCounts reports the live collections of a controller.
type SubscriptionCounts struct {
	Host     int
	Bus      int
	Bindings int
}

// Total is the sum of all counts.
func (s SubscriptionCounts) Total() int {
	return s.Host + s.Bus + s.Bindings
}

// SubscriptionCounts returns the number of host handlers, bus subscriptions
// and bindings the controller owns.
func (c *Controller) SubscriptionCounts() SubscriptionCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SubscriptionCounts{
		Host:     len(c.hostRegs),
		Bus:      len(c.busSubs),
		Bindings: len(c.bindings),
	}
}

// Name returns the definition name.
func (c *Controller) Name() string { return c.def.Name }

// Definition returns the definition the controller runs.
func (c *Controller) Definition() Definition { return c.def }

// Activation returns what brought the controller to life.
func (c *Controller) Activation() Activation { return c.activation }

// Scope returns the document scope the controller is attached to.
func (c *Controller) Scope() host.Scope { return c.activation.Scope() }

// Batcher returns the batcher the controller issues operations through.
func (c *Controller) Batcher() *batch.Batcher { return c.batcher }

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Fetch runs fn in a batch of the controller's batcher. Handlers use it to
// read the document.
func Fetch[T any](ctx context.Context, c *Controller, fn func(ctx context.Context, bt *batch.Batch) (T, error)) (T, error) {
	return batch.Run(ctx, c.batcher, fn)
}

func hasRanges(targets []TargetSpec) bool {
	return slices.ContainsFunc(targets, func(t TargetSpec) bool { return len(t.Ranges) > 0 })
}
