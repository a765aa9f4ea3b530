package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sheetbind/internal/application"
	"github.com/zjrosen/sheetbind/internal/batch"
	"github.com/zjrosen/sheetbind/internal/binding"
	"github.com/zjrosen/sheetbind/internal/controller"
	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/host/memdoc"
)

const script = `
name: payments
document:
  active: Sheet2
  worksheets:
    - name: Sheet1
      names:
        - name: controller
          value: Invoice
      tables:
        - name: InvoiceTable
          address: A1:C10
    - name: Sheet2
steps:
  - activate: Sheet1
  - set_value: {controller: Invoice, name: total, value: 10}
  - publish: {event: paymentReceived, payload: 4}
  - expect_value: {controller: Invoice, sheet: Sheet1, name: total, value: 6}
  - edit_table: InvoiceTable
  - edit_range: {sheet: Sheet1, address: E5}
  - select_range: {sheet: Sheet1, address: A1}
  - fire: {source: "worksheet:Sheet1", event: Calculated}
  - expect_value: {controller: Invoice, name: edits, value: 1}
  - activate_workbook: true
`

func invoice() controller.Definition {
	return controller.Definition{
		Events:  []string{"app:paymentReceived"},
		Values:  []string{"total", "edits"},
		Targets: []controller.TargetSpec{{Name: "InvoiceTable"}},
		Handlers: map[string]controller.EventHandler{
			"paymentReceived": func(ctx context.Context, c *controller.Controller, payload any) error {
				total, _ := c.ValueOf("total").(float64)
				amount, _ := payload.(int)
				return c.SetValueOf(ctx, "total", total-float64(amount))
			},
		},
		TargetHandlers: map[string]controller.TargetHandlers{
			"InvoiceTable": {
				DataChanged: func(ctx context.Context, c *controller.Controller, _ binding.Event) error {
					n, _ := c.ValueOf("edits").(float64)
					return c.SetValueOf(ctx, "edits", n+1)
				},
			},
		},
	}
}

func newTarget(t *testing.T, s *Script) (*memdoc.Document, *application.Application, Target) {
	t.Helper()
	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.NotNil(t, snap)

	doc := memdoc.New(memdoc.WithSnapshot(snap))
	app := application.New(batch.New(doc))
	ctx := context.Background()
	require.NoError(t, app.Register(ctx, "Invoice", invoice()))
	require.NoError(t, app.Start(ctx))
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return doc, app, Target{Doc: doc, App: app}
}

func TestParse_Script(t *testing.T) {
	s, err := Parse([]byte(script))
	require.NoError(t, err)
	require.Equal(t, "payments", s.Name)
	require.Len(t, s.Steps, 10)

	kinds := make([]string, len(s.Steps))
	for i, step := range s.Steps {
		kinds[i] = step.Kind()
	}
	require.Equal(t, []string{
		"activate", "set_value", "publish", "expect_value", "edit_table",
		"edit_range", "select_range", "fire", "expect_value", "activate_workbook",
	}, kinds)
}

func TestPlay_Script(t *testing.T) {
	s, err := Parse([]byte(script))
	require.NoError(t, err)
	doc, app, target := newTarget(t, s)

	var played []int
	target.AfterStep = func(i int, _ Step) { played = append(played, i) }

	require.NoError(t, s.Play(context.Background(), target))
	require.Len(t, played, len(s.Steps))
	require.Equal(t, "Sheet1", doc.ActiveWorksheet())

	live := app.Controllers()
	require.Len(t, live, 1)
	require.Equal(t, 6.0, live[0].ValueOf("total"))
}

func TestPlay_StopsAtFailingStep(t *testing.T) {
	s, err := Parse([]byte(script))
	require.NoError(t, err)
	_, _, target := newTarget(t, s)

	s.Steps = []Step{
		{Activate: "Sheet1"},
		{ExpectValue: &ValueStep{Controller: "Invoice", Name: "total", Value: 99}},
		{Activate: "Sheet2"},
	}
	err = s.Play(context.Background(), target)
	require.ErrorContains(t, err, "step 2 (expect_value)")
	require.ErrorContains(t, err, "want 99")
}

func TestPlay_Errors(t *testing.T) {
	s, err := Parse([]byte(script))
	require.NoError(t, err)
	_, _, target := newTarget(t, s)
	ctx := context.Background()

	tests := []struct {
		step Step
		want string
	}{
		{step: Step{Activate: "Nope"}, want: "Nope"},
		{step: Step{EditTable: "Missing"}, want: "Missing"},
		{step: Step{SetValue: &ValueStep{Controller: "Invoice", Name: "total", Value: 1}}, want: "no live Invoice controller"},
		{step: Step{ExpectValue: &ValueStep{Controller: "Invoice", Sheet: "Sheet2", Name: "total"}}, want: "no live Invoice controller on Sheet2"},
	}
	for _, tt := range tests {
		one := &Script{Steps: []Step{tt.step}}
		require.ErrorContains(t, one.Play(ctx, target), tt.want)
	}
}

func TestPlay_ExpectNullMatchesAbsentValue(t *testing.T) {
	s, err := Parse([]byte(script))
	require.NoError(t, err)
	_, _, target := newTarget(t, s)

	one := &Script{Steps: []Step{
		{Activate: "Sheet1"},
		{ExpectValue: &ValueStep{Controller: "Invoice", Name: "total"}},
	}}
	require.NoError(t, one.Play(context.Background(), target))
}

func TestPlay_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Script{Steps: []Step{{ActivateWorkbook: true}}}
	require.ErrorIs(t, s.Play(ctx, Target{}), context.Canceled)
}

func TestStep_Validate(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want string
	}{
		{name: "empty", step: Step{}, want: "no action"},
		{name: "two actions", step: Step{Activate: "A", EditTable: "T"}, want: "more than one action: activate, edit_table"},
		{name: "range without address", step: Step{EditRange: &RangeStep{Sheet: "A"}}, want: "sheet and address"},
		{name: "select without sheet", step: Step{SelectRange: &RangeStep{Address: "A1"}}, want: "sheet and address"},
		{name: "fire bad source", step: Step{Fire: &FireStep{Source: "chart:1", Event: "Changed"}}, want: "unknown source"},
		{name: "fire without event", step: Step{Fire: &FireStep{Source: "workbook"}}, want: "event is required"},
		{name: "publish without event", step: Step{Publish: &PublishStep{}}, want: "event is required"},
		{name: "set without name", step: Step{SetValue: &ValueStep{Controller: "C"}}, want: "controller and name"},
		{name: "expect without controller", step: Step{ExpectValue: &ValueStep{Name: "n"}}, want: "controller and name"},
		{name: "ok", step: Step{Fire: &FireStep{Source: "binding:b1", Event: "BindingDataChanged"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.want)
		})
	}
	require.Equal(t, "invalid", Step{}.Kind())
}

func TestParseSource(t *testing.T) {
	src, err := ParseSource("workbook")
	require.NoError(t, err)
	require.Equal(t, host.WorkbookSource(), src)

	src, err = ParseSource("worksheet:Sheet 1")
	require.NoError(t, err)
	require.Equal(t, host.WorksheetSource("Sheet 1"), src)

	src, err = ParseSource("binding:controller__inv1")
	require.NoError(t, err)
	require.Equal(t, host.BindingSource("controller__inv1"), src)

	for _, bad := range []string{"workbook:x", "worksheet", "binding:", "", "table:T"} {
		_, err := ParseSource(bad)
		require.Error(t, err, bad)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	require.Len(t, s.Steps, 10)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "reading script")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("steps:\n  - {}\n"), 0o600))
	_, err = Load(bad)
	require.ErrorContains(t, err, "step 1: no action")

	s, err = Parse([]byte("steps: []\n"))
	require.NoError(t, err)
	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.Nil(t, snap)
}
