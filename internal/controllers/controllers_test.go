package controllers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sheetbind/internal/application"
	"github.com/zjrosen/sheetbind/internal/batch"
	"github.com/zjrosen/sheetbind/internal/controller"
	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/host/memdoc"
	"github.com/zjrosen/sheetbind/internal/testutil"
)

const invoiceFixture = `
active: Summary
worksheets:
  - name: Summary
  - name: Invoice
    names:
      - name: controller
        value: Invoice
      - name: value__total
        value: 100
        comment: open amount
    tables:
      - name: InvoiceTable
        address: A1:C10
`

func setup(t *testing.T) (*memdoc.Document, *application.Application) {
	t.Helper()
	snap, err := memdoc.ParseFixture([]byte(invoiceFixture))
	require.NoError(t, err)

	doc := memdoc.New(memdoc.WithSnapshot(snap))
	app := application.New(batch.New(doc))
	ctx := context.Background()
	require.NoError(t, Register(ctx, app))
	require.NoError(t, app.Start(ctx))
	require.NoError(t, app.Activate(ctx))
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return doc, app
}

func find(t *testing.T, app *application.Application, name string) *controller.Controller {
	t.Helper()
	for _, c := range app.Controllers() {
		if c.Name() == name {
			return c
		}
	}
	require.FailNow(t, "controller not live", name)
	return nil
}

func TestBuiltinsAreValid(t *testing.T) {
	for name, def := range Builtins() {
		def.Name = name
		require.NoError(t, def.Validate(), name)
	}
}

func TestRegister_AllBuiltins(t *testing.T) {
	app := application.New(batch.New(memdoc.New(memdoc.WithWorksheets("Sheet1"))))
	require.NoError(t, Register(context.Background(), app))
	require.True(t, app.Registered(WorkbookName))
	require.True(t, app.Registered(InvoiceName))
}

func TestWorkbook_CountsEdits(t *testing.T) {
	doc, app := setup(t)
	ctx := context.Background()
	wb := find(t, app, WorkbookName)
	require.Equal(t, host.Workbook(), wb.Scope())

	require.NoError(t, doc.EditRange(ctx, "Summary", "B2"))
	require.NoError(t, doc.EditRange(ctx, "Invoice", "A1"))

	require.Equal(t, 2.0, wb.ValueOf("changes"))
	require.Equal(t, "Invoice!A1", wb.ValueOf("lastEdit"))

	item, ok := findName(doc.Names(host.Workbook()), "value__changes")
	require.True(t, ok)
	require.Equal(t, "=2", item.Formula)

	require.Equal(t, 1, app.Publish(ctx, "reset", nil))
	require.Equal(t, 0.0, wb.ValueOf("changes"))
}

func TestInvoice_PaymentsAndEdits(t *testing.T) {
	doc, app := setup(t)
	ctx := context.Background()

	require.NoError(t, doc.ActivateWorksheet(ctx, "Invoice"))
	inv := find(t, app, InvoiceName)
	require.Equal(t, 100.0, inv.ValueOf("total"))
	_, bound := inv.Binding(InvoiceTable)
	require.True(t, bound)

	require.Equal(t, 1, app.Publish(ctx, "paymentReceived", 40))
	require.Equal(t, 60.0, inv.ValueOf("total"))
	require.Equal(t, StatusPartial, inv.ValueOf("status"))

	require.Equal(t, 1, app.Publish(ctx, "paymentReceived", "75"))
	require.Equal(t, 0.0, inv.ValueOf("total"))
	require.Equal(t, StatusPaid, inv.ValueOf("status"))

	require.NoError(t, doc.EditTable(ctx, InvoiceTable))
	require.Equal(t, StatusDraft, inv.ValueOf("status"))

	item, ok := findName(doc.Names(host.Worksheet("Invoice")), "value__total")
	require.True(t, ok)
	require.Equal(t, "open amount", item.Comment, "rewriting a value keeps its comment")
}

func TestInvoice_RejectsBadPayments(t *testing.T) {
	doc, app := setup(t)
	ctx := context.Background()
	require.NoError(t, doc.ActivateWorksheet(ctx, "Invoice"))
	inv := find(t, app, InvoiceName)

	require.ErrorContains(t, inv.HandleEvent(ctx, "app:paymentReceived", "lots"), "payment amount")
	require.ErrorContains(t, inv.HandleEvent(ctx, "app:paymentReceived", -5.0), "must be positive")
	require.Equal(t, 100.0, inv.ValueOf("total"))
}

func TestInvoice_BoundMarker(t *testing.T) {
	doc := testutil.NewBuilder(t).WithInvoiceWorkbook().Build()
	app := application.New(batch.New(doc))
	ctx := context.Background()
	require.NoError(t, Register(ctx, app))
	require.NoError(t, app.Start(ctx))
	defer func() { _ = app.Close(ctx) }()

	live := app.Controllers()
	require.Len(t, live, 1)
	inv := live[0]
	require.Equal(t, controller.ActivatedBinding, inv.Activation().Type)
	require.Nil(t, inv.ValueOf("status"))

	require.NoError(t, doc.EditRange(ctx, "Archive", "B3"))
	require.Equal(t, StatusDraft, inv.ValueOf("status"))

	item, ok := findName(doc.Names(host.Workbook()), "value__status")
	require.True(t, ok)
	require.Equal(t, `="draft"`, item.Formula)
}

func TestNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		err  bool
	}{
		{in: nil, want: 0},
		{in: "", want: 0},
		{in: 2.5, want: 2.5},
		{in: 3, want: 3},
		{in: int64(4), want: 4},
		{in: " 12 ", want: 12},
		{in: "x", err: true},
		{in: true, err: true},
	}
	for _, tt := range tests {
		got, err := number(tt.in)
		if tt.err {
			require.Error(t, err, "%v", tt.in)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func findName(items []host.NamedItem, name string) (host.NamedItem, bool) {
	for _, it := range items {
		if it.Name == name {
			return it, true
		}
	}
	return host.NamedItem{}, false
}
