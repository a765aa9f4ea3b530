// Package application coordinates controllers for one host document.
//
// An Application keeps the registry of controller definitions, discovers
// controller markers in the document's named items, instantiates the
// matching controllers on worksheet activation or for marker bindings, and
// relays task pane changes to the presentation layer. It also owns the
// internal event bus controllers publish and subscribe on.
//
// Two kinds of marker are recognized:
//
//	controller      worksheet-scoped; its value names the definition to run
//	                when the worksheet is activated
//	controller__*   any scope; the marker is bound and its comment names the
//	                definition that handles the bound data
package application

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/sheetbind/internal/batch"
	"github.com/zjrosen/sheetbind/internal/binding"
	"github.com/zjrosen/sheetbind/internal/controller"
	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/log"
	"github.com/zjrosen/sheetbind/internal/pubsub"
	"github.com/zjrosen/sheetbind/internal/tracing"
)

const (
	// MarkerName is the worksheet marker naming the sheet's controller.
	MarkerName = "controller"
	// MarkerPrefix starts the names of bound controller markers.
	MarkerPrefix = "controller__"
	// DefaultController is the definition Activate attaches to the workbook.
	DefaultController = "workbook"
)

var (
	// ErrNotRegistered is returned when a marker names a definition that
	// was never registered.
	ErrNotRegistered = errors.New("controller not registered")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("application already started")
)

// TaskPaneChange asks the presentation layer to render ViewName with Values.
type TaskPaneChange struct {
	ViewName string
	Values   map[string]any
}

type markerBinding struct {
	marker     string
	controller string
	scope      host.Scope
	binding    *binding.Binding
	offs       []func()
}

// Application is the process-wide controller coordinator.
type Application struct {
	batcher           *batch.Batcher
	tracer            trace.Tracer
	bus               *pubsub.Bus
	panes             *pubsub.Broker[TaskPaneChange]
	defaultController string

	mu          sync.Mutex
	registry    map[string]controller.Definition
	controllers map[string]*controller.Controller
	bindingMap  map[string]string
	markers     map[string]*markerBinding
	sheets      map[string]string
	hostRegs    []*batch.Registration
	started     bool
	closed      bool
}

var _ controller.Application = (*Application)(nil)

// Option configures an Application.
type Option func(*Application)

// WithTracer sets the tracer for application and controller spans. It
// defaults to the batcher's.
func WithTracer(t trace.Tracer) Option {
	return func(a *Application) {
		if t != nil {
			a.tracer = t
		}
	}
}

// WithBus shares an existing internal bus.
func WithBus(bus *pubsub.Bus) Option {
	return func(a *Application) {
		if bus != nil {
			a.bus = bus
		}
	}
}

// WithDefaultController changes the definition Activate attaches to the
// workbook.
func WithDefaultController(name string) Option {
	return func(a *Application) {
		if name != "" {
			a.defaultController = name
		}
	}
}

// New creates an Application issuing document operations through b.
func New(b *batch.Batcher, opts ...Option) *Application {
	a := &Application{
		batcher:           b,
		tracer:            b.Tracer(),
		bus:               pubsub.NewBus(),
		panes:             pubsub.NewBroker[TaskPaneChange](),
		defaultController: DefaultController,
		registry:          make(map[string]controller.Definition),
		controllers:       make(map[string]*controller.Controller),
		bindingMap:        make(map[string]string),
		markers:           make(map[string]*markerBinding),
		sheets:            make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type discovered struct {
	workbook []host.NamedItem
	sheets   map[string][]host.NamedItem
	order    []string
}

// Start scans the document for controller markers. Worksheet markers wire
// that worksheet's activation to its controller; bound markers get a host
// binding whose changes are forwarded to their controller. Definitions
// registered before Start are instantiated for already-mapped bindings and
// for the active worksheet.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	ctx, span := a.tracer.Start(ctx, tracing.SpanAppStart)

	found, err := batch.Run(ctx, a.batcher, func(ctx context.Context, bt *batch.Batch) (discovered, error) {
		workbook := bt.Names(host.Workbook()).Load()
		sheets := bt.Worksheets()
		if err := bt.Sync(ctx); err != nil {
			return discovered{}, err
		}
		perSheet := make(map[string]*batch.Result[[]host.NamedItem], len(sheets.Value()))
		for _, ws := range sheets.Value() {
			perSheet[ws] = bt.Names(host.Worksheet(ws)).Load()
		}
		if err := bt.Sync(ctx); err != nil {
			return discovered{}, err
		}
		d := discovered{workbook: workbook.Value(), sheets: make(map[string][]host.NamedItem), order: sheets.Value()}
		for ws, r := range perSheet {
			d.sheets[ws] = r.Value()
		}
		return d, nil
	})
	if err != nil {
		err = fmt.Errorf("loading controller markers: %w", err)
		tracing.End(span, err)
		return err
	}

	var bound []host.NamedItem
	sheetMarkers := make(map[string]string)
	collect := func(items []host.NamedItem) {
		for _, item := range items {
			switch {
			case item.Name == MarkerName && !item.Scope.IsWorkbook():
				sheetMarkers[item.Scope.Worksheet] = markerValue(item)
			case strings.HasPrefix(item.Name, MarkerPrefix):
				bound = append(bound, item)
			}
		}
	}
	collect(found.workbook)
	for _, ws := range found.order {
		collect(found.sheets[ws])
	}

	var errs []error
	if err := a.wireSheetMarkers(ctx, sheetMarkers); err != nil {
		errs = append(errs, err)
	}
	for _, item := range bound {
		span.AddEvent("marker", trace.WithAttributes(attribute.String(tracing.AttrMarkerName, item.Name)))
		if err := a.bindMarker(ctx, item); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.activateCurrent(ctx, ""); err != nil {
		errs = append(errs, err)
	}

	err = errors.Join(errs...)
	tracing.End(span, err)
	log.Info(log.CatApp, "application started", "sheet_markers", len(sheetMarkers), "bound_markers", len(bound))
	return err
}

func markerValue(item host.NamedItem) string {
	if s, ok := item.Value.(string); ok {
		return s
	}
	return host.FormatValue(item.Value)
}

func (a *Application) wireSheetMarkers(ctx context.Context, sheetMarkers map[string]string) error {
	if len(sheetMarkers) == 0 {
		return nil
	}
	var regs []*batch.Registration
	err := a.batcher.Run(ctx, func(_ context.Context, bt *batch.Batch) error {
		for _, ws := range slices.Sorted(maps.Keys(sheetMarkers)) {
			regs = append(regs, bt.On(host.WorksheetSource(ws), host.EventWorksheetActivated, a.onWorksheetActivated))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("wiring worksheet markers: %w", err)
	}

	a.mu.Lock()
	maps.Copy(a.sheets, sheetMarkers)
	a.hostRegs = append(a.hostRegs, regs...)
	a.mu.Unlock()
	for ws, name := range sheetMarkers {
		log.Debug(log.CatApp, "worksheet marker", "worksheet", ws, "controller", name)
	}
	return nil
}

// bindMarker binds a controller__* marker under its scope-qualified name,
// so same-named markers on different sheets get distinct host bindings. A
// successful creation is the host's confirmation; only then is the
// controller mapped.
func (a *Application) bindMarker(ctx context.Context, item host.NamedItem) error {
	name := item.Comment
	if name == "" {
		log.Warn(log.CatApp, "bound marker without controller comment", "marker", item.Name)
		return nil
	}

	id := item.Scope.Qualify(item.Name)
	bd, err := binding.Create(ctx, a.batcher, binding.NamedItem(item.Scope, item.Name), id, binding.WithID(id))
	if err != nil {
		log.ErrorErr(log.CatApp, "binding marker", err, "marker", id)
		return nil
	}

	mb := &markerBinding{marker: item.Name, controller: name, scope: item.Scope, binding: bd}
	mb.offs = []func(){
		bd.On(binding.DataChanged, a.forward(mb, controller.DataChangedEvent)),
		bd.On(binding.SelectionChanged, a.forward(mb, controller.SelectionChangedEvent)),
	}

	a.mu.Lock()
	a.bindingMap[name] = id
	a.markers[id] = mb
	_, registered := a.registry[name]
	a.mu.Unlock()

	log.Debug(log.CatApp, "marker bound", "marker", id, "controller", name)
	if registered {
		_, err := a.resolve(ctx, name, controller.BindingActivation(item.Name, item.Scope))
		return err
	}
	return nil
}

func (a *Application) forward(mb *markerBinding, event string) binding.Listener {
	return func(ctx context.Context, ev binding.Event) {
		c, ok := a.Find(mb.controller, controller.BindingActivation(mb.marker, mb.scope))
		if !ok {
			log.Debug(log.CatApp, "no controller for bound marker", "marker", mb.marker, "controller", mb.controller)
			return
		}
		if err := c.HandleEvent(ctx, event, ev); err != nil {
			log.ErrorErr(log.CatApp, "bound marker handler failed", err, "marker", mb.marker, "event", event)
		}
	}
}

func (a *Application) onWorksheetActivated(ctx context.Context, ev host.Event) {
	a.mu.Lock()
	name, ok := a.sheets[ev.Worksheet]
	a.mu.Unlock()
	if !ok {
		return
	}
	activation, err := controller.ActivationFromEvent(ev)
	if err != nil {
		log.ErrorErr(log.CatApp, "worksheet activation", err)
		return
	}
	if _, err := a.resolve(ctx, name, activation); err != nil && !errors.Is(err, ErrNotRegistered) {
		log.ErrorErr(log.CatApp, "activating controller", err, "controller", name, "worksheet", ev.Worksheet)
	}
}

func instanceKey(name string, activation controller.Activation) string {
	return name + "@" + activation.Key()
}

// resolve returns the live controller for name at activation, creating and
// setting it up when there is none.
func (a *Application) resolve(ctx context.Context, name string, activation controller.Activation) (*controller.Controller, error) {
	key := instanceKey(name, activation)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, nil
	}
	def, ok := a.registry[name]
	if !ok {
		a.mu.Unlock()
		log.Debug(log.CatApp, "marker names an unregistered controller", "controller", name, "scope", activation.Scope())
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	if c, ok := a.controllers[key]; ok {
		a.mu.Unlock()
		return c, nil
	}
	c := controller.New(a, def, activation, controller.WithTracer(a.tracer))
	a.controllers[key] = c
	a.mu.Unlock()

	log.Debug(log.CatApp, "instantiating controller", "controller", name, "scope", activation.Scope(), "activation", activation.Type)
	if err := c.Setup(ctx); err != nil {
		return c, err
	}
	return c, nil
}

// activateCurrent synthesizes a worksheet activation for the active
// worksheet when it carries a controller marker. When only is set, nothing
// happens unless the marker names only.
func (a *Application) activateCurrent(ctx context.Context, only string) error {
	type current struct {
		sheet  string
		marker batch.Maybe[host.NamedItem]
	}
	cur, err := batch.Run(ctx, a.batcher, func(ctx context.Context, bt *batch.Batch) (current, error) {
		active := bt.ActiveWorksheet()
		if err := bt.Sync(ctx); err != nil {
			return current{}, err
		}
		if active.Value().IsNull() {
			return current{}, nil
		}
		ws := active.Value().Value
		marker := bt.Names(host.Worksheet(ws)).GetItemOrNull(MarkerName)
		if err := bt.Sync(ctx); err != nil {
			return current{}, err
		}
		return current{sheet: ws, marker: marker.Value()}, nil
	})
	if err != nil {
		return fmt.Errorf("reading active worksheet marker: %w", err)
	}
	if cur.marker.IsNull() {
		return nil
	}

	name := markerValue(cur.marker.Value)
	if only != "" && name != only {
		return nil
	}
	a.mu.Lock()
	_, registered := a.registry[name]
	a.mu.Unlock()
	if !registered {
		return nil
	}
	_, err = a.resolve(ctx, name, controller.WorksheetActivation(cur.sheet))
	return err
}

// Register adds def under name, replacing any earlier definition. Every
// bound marker already mapped to name gets its controller now,
// and if the active worksheet's marker names it, that worksheet's
// controller is created as if the sheet had just been activated.
func (a *Application) Register(ctx context.Context, name string, def controller.Definition) error {
	def.Name = name
	if err := def.Validate(); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}

	a.mu.Lock()
	a.registry[name] = def
	var bound []*markerBinding
	for _, id := range slices.Sorted(maps.Keys(a.markers)) {
		if mb := a.markers[id]; mb.controller == name {
			bound = append(bound, mb)
		}
	}
	a.mu.Unlock()
	log.Debug(log.CatApp, "controller registered", "controller", name)

	var errs []error
	for _, mb := range bound {
		if _, err := a.resolve(ctx, name, controller.BindingActivation(mb.marker, mb.scope)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.activateCurrent(ctx, name); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Activate attaches the default controller to the workbook. It does
// nothing when no such definition is registered.
func (a *Application) Activate(ctx context.Context) error {
	ctx, span := a.tracer.Start(ctx, tracing.SpanAppActivate)
	span.SetAttributes(attribute.String(tracing.AttrControllerName, a.defaultController))

	_, err := a.resolve(ctx, a.defaultController, controller.WorkbookActivation())
	if errors.Is(err, ErrNotRegistered) {
		err = nil
	}
	tracing.End(span, err)
	return err
}

// Batcher returns the batcher controllers issue operations through.
func (a *Application) Batcher() *batch.Batcher {
	return a.batcher
}

// Bus returns the internal event bus.
func (a *Application) Bus() *pubsub.Bus {
	return a.bus
}

// Publish sends event, namespaced as internal, to the current bus
// listeners and returns how many were called.
func (a *Application) Publish(ctx context.Context, event string, payload any) int {
	n := a.bus.Publish(ctx, controller.Namespaced(event), payload)
	log.Debug(log.CatBus, "published", "event", controller.Namespaced(event), "listeners", n)
	return n
}

// UpdateTaskPane notifies the presentation layer. Delivery is
// fire-and-forget.
func (a *Application) UpdateTaskPane(view string, values map[string]any) {
	n := a.panes.Publish(pubsub.TaskPaneChangeRequested, TaskPaneChange{ViewName: view, Values: values})
	log.Debug(log.CatPane, "task pane change requested", "view", view, "subscribers", n)
}

// TaskPaneChanges subscribes to task pane changes until ctx is done.
func (a *Application) TaskPaneChanges(ctx context.Context) <-chan pubsub.Event[TaskPaneChange] {
	return a.panes.Subscribe(ctx)
}

// TaskPaneBroker returns the broker task pane changes are published on.
func (a *Application) TaskPaneBroker() *pubsub.Broker[TaskPaneChange] {
	return a.panes
}

// ControllerDestroyed forgets c so its scope can be activated again.
func (a *Application) ControllerDestroyed(c *controller.Controller) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := instanceKey(c.Name(), c.Activation())
	if a.controllers[key] == c {
		delete(a.controllers, key)
	}
}

// Find returns the live controller for name at activation.
func (a *Application) Find(name string, activation controller.Activation) (*controller.Controller, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.controllers[instanceKey(name, activation)]
	return c, ok
}

// Controllers returns the live controllers ordered by name and scope.
func (a *Application) Controllers() []*controller.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*controller.Controller, 0, len(a.controllers))
	for _, key := range slices.Sorted(maps.Keys(a.controllers)) {
		out = append(out, a.controllers[key])
	}
	return out
}

// BindingFor returns the scope-qualified id of the bound marker last mapped
// to the controller name.
func (a *Application) BindingFor(name string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	marker, ok := a.bindingMap[name]
	return marker, ok
}

// SheetController returns the controller name a worksheet's marker names.
func (a *Application) SheetController(worksheet string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.sheets[worksheet]
	return name, ok
}

// Registered reports whether a definition is registered under name.
func (a *Application) Registered(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.registry[name]
	return ok
}

// Reload refreshes the value cache of every live controller after the
// document changed underneath them, then publishes DocumentReloaded on the
// bus. Failures are logged and joined.
func (a *Application) Reload(ctx context.Context) error {
	var errs []error
	for _, c := range a.Controllers() {
		if err := c.ReloadValues(ctx); err != nil && !errors.Is(err, controller.ErrDestroyed) {
			log.ErrorErr(log.CatApp, "reloading controller values", err, "controller", c.Name(), "scope", c.Scope())
			errs = append(errs, err)
		}
	}
	a.Publish(ctx, string(pubsub.DocumentReloaded), nil)
	return errors.Join(errs...)
}

// Close removes the marker listeners and bindings, destroys every live
// controller and closes the task pane broker. It is meant for process
// shutdown; later calls do nothing.
func (a *Application) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	regs := a.hostRegs
	markers := slices.Collect(maps.Values(a.markers))
	live := slices.Collect(maps.Values(a.controllers))
	a.hostRegs = nil
	a.markers = make(map[string]*markerBinding)
	a.mu.Unlock()

	var errs []error
	for _, reg := range regs {
		if err := reg.Remove(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, mb := range markers {
		for _, off := range mb.offs {
			off()
		}
		if err := mb.binding.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range live {
		c.Destroy(ctx)
	}
	a.panes.Close()

	err := errors.Join(errs...)
	if err != nil {
		log.ErrorErr(log.CatApp, "closing application", err)
	}
	return err
}
