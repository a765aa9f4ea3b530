package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/ettle/strcase"

	"github.com/zjrosen/sheetbind/internal/binding"
)

const (
	// InternalPrefix marks events delivered over the application bus instead
	// of the host document.
	InternalPrefix = "app:"

	// ValuePrefix starts the name of every named item backing a value.
	ValuePrefix = "value__"

	// DataChangedEvent and SelectionChangedEvent are the handler keys the
	// application uses for changes of a controller's marker binding.
	DataChangedEvent      = "DataChanged"
	SelectionChangedEvent = "SelectionChanged"
)

// QualifiedValueName returns the named item backing a logical value:
// "invoiceTotal" is stored as "value__invoice_total".
func QualifiedValueName(name string) string {
	return ValuePrefix + strcase.ToSnake(name)
}

// IsInternal reports whether event is delivered over the application bus.
func IsInternal(event string) bool {
	return strings.HasPrefix(event, InternalPrefix)
}

// Namespaced returns event with the internal prefix.
func Namespaced(event string) string {
	if IsInternal(event) {
		return event
	}
	return InternalPrefix + event
}

// HandlerKey returns the Handlers key for event.
func HandlerKey(event string) string {
	return strings.TrimPrefix(event, InternalPrefix)
}

// EventHandler handles one declared event.
type EventHandler func(ctx context.Context, c *Controller, payload any) error

// TargetHandler handles an event raised by a target binding.
type TargetHandler func(ctx context.Context, c *Controller, ev binding.Event) error

// TargetHandlers are the handlers wired to one target's binding.
type TargetHandlers struct {
	DataChanged      TargetHandler
	SelectionChanged TargetHandler
}

// Hook runs at connect or disconnect.
type Hook func(ctx context.Context, c *Controller) error

// TargetSpec declares bindings a controller creates during setup. Name is
// resolved against named items, then tables. Ranges maps local names to
// addresses on the controller's own worksheet.
type TargetSpec struct {
	Name   string
	Ranges map[string]string
}

// TaskPane describes what a controller pushes to the presentation layer.
// Props is a literal; PropsFunc computes props from the controller.
type TaskPane struct {
	View      string
	Props     map[string]any
	PropsFunc func(c *Controller) map[string]any
}

// Definition is a registered controller behavior.
type Definition struct {
	Name string

	// Events are host event names raised on the controller's scope, or
	// InternalPrefix-ed names published on the application bus.
	Events []string

	// Values are logical names of values backed by named items.
	Values []string

	Targets        []TargetSpec
	Handlers       map[string]EventHandler
	TargetHandlers map[string]TargetHandlers
	TaskPane       *TaskPane

	Connect    Hook
	Disconnect Hook
}

// Validate checks that the definition is internally consistent.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("controller name is required")
	}

	events := make(map[string]bool, len(d.Events))
	for _, ev := range d.Events {
		if HandlerKey(ev) == "" {
			return fmt.Errorf("controller %s: empty event name", d.Name)
		}
		events[HandlerKey(ev)] = true
	}
	for key := range d.Handlers {
		if !events[key] && key != DataChangedEvent && key != SelectionChangedEvent {
			return fmt.Errorf("controller %s: handler %q has no declared event", d.Name, key)
		}
	}

	qualified := make(map[string]string, len(d.Values))
	for _, v := range d.Values {
		q := QualifiedValueName(v)
		if q == ValuePrefix {
			return fmt.Errorf("controller %s: empty value name", d.Name)
		}
		if prev, ok := qualified[q]; ok {
			return fmt.Errorf("controller %s: values %q and %q both map to %s", d.Name, prev, v, q)
		}
		qualified[q] = v
	}

	targets := make(map[string]bool)
	for _, t := range d.Targets {
		if t.Name == "" && len(t.Ranges) == 0 {
			return fmt.Errorf("controller %s: target needs a name or ranges", d.Name)
		}
		if t.Name != "" {
			targets[t.Name] = true
		}
		for local := range t.Ranges {
			targets[local] = true
		}
	}
	for name := range d.TargetHandlers {
		if !targets[name] {
			return fmt.Errorf("controller %s: target handlers for undeclared target %q", d.Name, name)
		}
	}

	if d.TaskPane != nil {
		if d.TaskPane.View == "" {
			return fmt.Errorf("controller %s: task pane view is required", d.Name)
		}
		if d.TaskPane.Props != nil && d.TaskPane.PropsFunc != nil {
			return fmt.Errorf("controller %s: task pane has both props and a props function", d.Name)
		}
	}
	return nil
}
