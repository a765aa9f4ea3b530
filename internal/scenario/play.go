package scenario

import (
	"context"
	"fmt"
	"reflect"

	"github.com/zjrosen/sheetbind/internal/controller"
	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/log"
)

// Document is the user-facing side of a host document.
type Document interface {
	ActivateWorksheet(ctx context.Context, name string) error
	ActivateWorkbook(ctx context.Context)
	EditRange(ctx context.Context, sheet, address string) error
	EditTable(ctx context.Context, table string) error
	SelectRange(ctx context.Context, sheet, address string) error
	Fire(ctx context.Context, source host.Source, event host.EventType, payload any)
}

// App is the application side a script drives.
type App interface {
	Publish(ctx context.Context, event string, payload any) int
	Controllers() []*controller.Controller
}

// Target is what a script is played against.
type Target struct {
	Doc Document
	App App

	// AfterStep, when set, is called after each successful step.
	AfterStep func(index int, step Step)
}

// Play runs the steps in order and stops at the first failure.
func (s *Script) Play(ctx context.Context, target Target) error {
	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debug(log.CatApp, "scenario step", "index", i+1, "kind", step.Kind())
		if err := play(ctx, target, step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Kind(), err)
		}
		if target.AfterStep != nil {
			target.AfterStep(i, step)
		}
	}
	return nil
}

func play(ctx context.Context, t Target, step Step) error {
	if err := step.Validate(); err != nil {
		return err
	}

	switch {
	case step.Activate != "":
		return t.Doc.ActivateWorksheet(ctx, step.Activate)
	case step.ActivateWorkbook:
		t.Doc.ActivateWorkbook(ctx)
	case step.EditRange != nil:
		return t.Doc.EditRange(ctx, step.EditRange.Sheet, step.EditRange.Address)
	case step.EditTable != "":
		return t.Doc.EditTable(ctx, step.EditTable)
	case step.SelectRange != nil:
		return t.Doc.SelectRange(ctx, step.SelectRange.Sheet, step.SelectRange.Address)
	case step.Fire != nil:
		source, err := ParseSource(step.Fire.Source)
		if err != nil {
			return err
		}
		t.Doc.Fire(ctx, source, host.EventType(step.Fire.Event), nil)
	case step.Publish != nil:
		n := t.App.Publish(ctx, step.Publish.Event, step.Publish.Payload)
		log.Debug(log.CatApp, "scenario published", "event", step.Publish.Event, "listeners", n)
	case step.SetValue != nil:
		c, err := findController(t.App, step.SetValue)
		if err != nil {
			return err
		}
		return c.SetValueOf(ctx, step.SetValue.Name, step.SetValue.Value)
	case step.ExpectValue != nil:
		return expectValue(t.App, step.ExpectValue)
	}
	return nil
}

func findController(app App, v *ValueStep) (*controller.Controller, error) {
	for _, c := range app.Controllers() {
		if c.Name() != v.Controller {
			continue
		}
		if v.Sheet != "" && c.Scope() != host.Worksheet(v.Sheet) {
			continue
		}
		return c, nil
	}
	if v.Sheet != "" {
		return nil, fmt.Errorf("no live %s controller on %s", v.Controller, v.Sheet)
	}
	return nil, fmt.Errorf("no live %s controller", v.Controller)
}

func expectValue(app App, v *ValueStep) error {
	c, err := findController(app, v)
	if err != nil {
		return err
	}
	got := c.ValueOf(v.Name)
	// An absent marker and an empty one both read as null.
	if v.Value == nil && (got == nil || got == "") {
		return nil
	}
	want, err := host.NormalizeScalar(v.Value)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(want, got) {
		return fmt.Errorf("%s.%s = %v, want %v", v.Controller, v.Name, got, want)
	}
	return nil
}
