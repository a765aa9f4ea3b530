package controllers

import (
	"context"
	"fmt"

	"github.com/zjrosen/sheetbind/internal/binding"
	"github.com/zjrosen/sheetbind/internal/controller"
	"github.com/zjrosen/sheetbind/internal/host"
)

// InvoiceName is the registration name of the invoice controller.
const InvoiceName = "Invoice"

// Invoice statuses.
const (
	StatusDraft   = "draft"
	StatusPartial = "partial"
	StatusPaid    = "paid"
)

// InvoiceTable is the table an invoice sheet binds to.
const InvoiceTable = "InvoiceTable"

// Invoice tracks the open total of an invoice sheet. Edits to the invoice
// table mark it as draft; "paymentReceived" events subtract their amount
// from the total.
func Invoice() controller.Definition {
	return controller.Definition{
		Events:  []string{string(host.EventChanged), "app:paymentReceived"},
		Values:  []string{"total", "status"},
		Targets: []controller.TargetSpec{{Name: InvoiceTable}},
		Handlers: map[string]controller.EventHandler{
			"paymentReceived": receivePayment,
			// Raised when the invoice is activated through a bound marker.
			controller.DataChangedEvent: func(ctx context.Context, c *controller.Controller, _ any) error {
				return markDraft(ctx, c)
			},
		},
		TargetHandlers: map[string]controller.TargetHandlers{
			InvoiceTable: {
				DataChanged: func(ctx context.Context, c *controller.Controller, _ binding.Event) error {
					return markDraft(ctx, c)
				},
			},
		},
		TaskPane: &controller.TaskPane{
			View: "invoice",
			PropsFunc: func(c *controller.Controller) map[string]any {
				_, bound := c.Binding(InvoiceTable)
				return map[string]any{
					"total":  c.ValueOf("total"),
					"status": c.ValueOf("status"),
					"bound":  bound,
				}
			},
		},
	}
}

func markDraft(ctx context.Context, c *controller.Controller) error {
	if c.ValueOf("status") == StatusDraft {
		return nil
	}
	return c.SetValueOf(ctx, "status", StatusDraft)
}

func receivePayment(ctx context.Context, c *controller.Controller, payload any) error {
	amount, err := number(payload)
	if err != nil {
		return fmt.Errorf("payment amount: %w", err)
	}
	if amount <= 0 {
		return fmt.Errorf("payment amount must be positive, got %v", amount)
	}
	total, err := number(c.ValueOf("total"))
	if err != nil {
		return fmt.Errorf("invoice total: %w", err)
	}

	remaining := total - amount
	if remaining < 0 {
		remaining = 0
	}
	if err := c.SetValueOf(ctx, "total", remaining); err != nil {
		return err
	}

	status := StatusPartial
	if remaining == 0 {
		status = StatusPaid
	}
	return c.SetValueOf(ctx, "status", status)
}
