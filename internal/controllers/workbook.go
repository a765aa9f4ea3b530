package controllers

import (
	"context"
	"fmt"

	"github.com/zjrosen/sheetbind/internal/controller"
	"github.com/zjrosen/sheetbind/internal/host"
)

// WorkbookName is the registration name of the workbook controller. It
// matches the application's default controller.
const WorkbookName = "workbook"

// Workbook counts edits across the whole workbook and shows the count in
// the "summary" task pane. Publishing "reset" zeroes the count.
func Workbook() controller.Definition {
	return controller.Definition{
		Events: []string{string(host.EventChanged), "app:reset"},
		Values: []string{"changes", "lastEdit"},
		Handlers: map[string]controller.EventHandler{
			string(host.EventChanged): countChange,
			"reset": func(ctx context.Context, c *controller.Controller, _ any) error {
				return c.SetValueOf(ctx, "changes", 0)
			},
		},
		TaskPane: &controller.TaskPane{
			View: "summary",
			PropsFunc: func(c *controller.Controller) map[string]any {
				return map[string]any{
					"changes":   c.ValueOf("changes"),
					"last_edit": c.ValueOf("lastEdit"),
				}
			},
		},
	}
}

func countChange(ctx context.Context, c *controller.Controller, payload any) error {
	n, err := number(c.ValueOf("changes"))
	if err != nil {
		return fmt.Errorf("reading change count: %w", err)
	}
	if err := c.SetValueOf(ctx, "changes", n+1); err != nil {
		return err
	}

	ev, ok := payload.(host.Event)
	if !ok || ev.Address == "" {
		return nil
	}
	edit := ev.Address
	if ev.Worksheet != "" {
		edit = ev.Worksheet + "!" + ev.Address
	}
	return c.SetValueOf(ctx, "lastEdit", edit)
}
