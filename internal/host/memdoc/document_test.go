package memdoc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sheetbind/internal/host"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestDocument(t *testing.T) *Document {
	t.Helper()
	return New(
		WithSnapshot(&Snapshot{
			Worksheets: []string{"Sheet1", "Sheet2"},
			Names: []host.NamedItem{
				{Name: "controller", Scope: host.Worksheet("Sheet1"), Formula: `="Invoice"`},
				{Name: "controller__inv1", Scope: host.Workbook(), Formula: "=InvoiceTable", Comment: "Invoice"},
				{Name: "value__total", Scope: host.Worksheet("Sheet1"), Formula: "=10", Comment: "running total"},
			},
			Tables: []host.Table{{Name: "InvoiceTable", Worksheet: "Sheet1", Address: "A1:C10"}},
		}),
		WithIDGenerator(sequentialIDs()),
	)
}

func TestExecute_ReadsNamesByScope(t *testing.T) {
	doc := newTestDocument(t)
	ctx := context.Background()

	resps, err := doc.Execute(ctx, []host.Request{
		{Op: host.OpListNames, Scope: host.Workbook()},
		{Op: host.OpListNames, Scope: host.Worksheet("Sheet1")},
		{Op: host.OpGetName, Scope: host.Worksheet("Sheet1"), Name: "value__total"},
		{Op: host.OpGetName, Scope: host.Worksheet("Sheet1"), Name: "value__missing"},
		{Op: host.OpActiveSheet},
	})
	require.NoError(t, err)
	require.Len(t, resps, 5)

	require.Len(t, resps[0].Items, 1)
	require.Equal(t, "controller__inv1", resps[0].Items[0].Name)
	require.Len(t, resps[1].Items, 2)

	require.True(t, resps[2].Found)
	require.Equal(t, float64(10), resps[2].Item.Value)
	require.Equal(t, "running total", resps[2].Item.Comment)

	require.False(t, resps[3].Found)
	require.Equal(t, "Sheet1", resps[4].Worksheet)
}

func TestExecute_StrictGetFailsWholeBatch(t *testing.T) {
	doc := newTestDocument(t)
	ctx := context.Background()

	_, err := doc.Execute(ctx, []host.Request{
		{Op: host.OpAddName, Scope: host.Workbook(), Name: "value__x", Formula: "=1"},
		{Op: host.OpGetName, Scope: host.Workbook(), Name: "nope", Strict: true},
	})
	require.ErrorIs(t, err, host.ErrNotFound)

	var reqErr *host.RequestError
	require.True(t, errors.As(err, &reqErr))
	require.Equal(t, 1, reqErr.Index)

	// The add in the failed batch was never applied.
	require.Len(t, doc.Names(host.Workbook()), 1)
}

func TestExecute_ReadsSeeBatchStart(t *testing.T) {
	doc := newTestDocument(t)
	ctx := context.Background()

	resps, err := doc.Execute(ctx, []host.Request{
		{Op: host.OpDeleteName, Scope: host.Worksheet("Sheet1"), Name: "value__total"},
		{Op: host.OpAddName, Scope: host.Worksheet("Sheet1"), Name: "value__total", Formula: "=42", Comment: "running total"},
		{Op: host.OpGetName, Scope: host.Worksheet("Sheet1"), Name: "value__total"},
	})
	require.NoError(t, err)
	require.Equal(t, float64(10), resps[2].Item.Value, "reads observe the document as of the batch start")

	resps, err = doc.Execute(ctx, []host.Request{
		{Op: host.OpGetName, Scope: host.Worksheet("Sheet1"), Name: "value__total"},
	})
	require.NoError(t, err)
	require.Equal(t, float64(42), resps[0].Item.Value)
	require.Equal(t, "running total", resps[0].Item.Comment)
}

func TestExecute_DuplicateNameRejected(t *testing.T) {
	doc := newTestDocument(t)

	_, err := doc.Execute(context.Background(), []host.Request{
		{Op: host.OpAddName, Scope: host.Worksheet("Sheet1"), Name: "controller", Formula: `="Other"`},
	})
	require.ErrorIs(t, err, host.ErrDuplicateName)
}

func TestExecute_UnknownWorksheet(t *testing.T) {
	doc := newTestDocument(t)

	_, err := doc.Execute(context.Background(), []host.Request{
		{Op: host.OpListNames, Scope: host.Worksheet("Nope")},
	})
	require.ErrorIs(t, err, host.ErrUnknownWorksheet)
}

func TestExecute_BindingLifecycle(t *testing.T) {
	doc := newTestDocument(t)
	ctx := context.Background()
	noop := func(context.Context, host.Event) {}

	resps, err := doc.Execute(ctx, []host.Request{
		{Op: host.OpAddBinding, Binding: host.BindingSpec{ID: "b1", ItemName: "controller__inv1"}},
		{Op: host.OpAddHandler, Source: host.BindingSource("b1"), Event: host.EventBindingDataChanged, Handler: noop},
	})
	require.NoError(t, err)
	require.Equal(t, "b1", resps[0].ID)
	require.Equal(t, 1, doc.HandlerCountFor(host.BindingSource("b1")))

	bindings := doc.Bindings()
	require.Len(t, bindings, 1)
	require.Equal(t, host.BindingRange, bindings[0].Type)

	_, err = doc.Execute(ctx, []host.Request{
		{Op: host.OpDeleteBinding, Binding: host.BindingSpec{ID: "b1"}},
	})
	require.NoError(t, err)
	require.Empty(t, doc.Bindings())
	require.Zero(t, doc.HandlerCount(), "deleting a binding drops its handlers")
}

func TestExecute_TableBindingType(t *testing.T) {
	doc := newTestDocument(t)

	resps, err := doc.Execute(context.Background(), []host.Request{
		{Op: host.OpAddBinding, Binding: host.BindingSpec{ItemName: "InvoiceTable"}},
	})
	require.NoError(t, err)
	require.Equal(t, "id-1", resps[0].ID)
	require.Equal(t, host.BindingTable, doc.Bindings()[0].Type)
}

func TestExecute_InvalidBindingTarget(t *testing.T) {
	doc := newTestDocument(t)

	tests := []host.BindingSpec{
		{ItemName: "controller"},
		{ItemName: "missing"},
		{Worksheet: "Nope", Address: "A1"},
		{Worksheet: "Sheet1", Address: "??"},
	}
	for _, spec := range tests {
		_, err := doc.Execute(context.Background(), []host.Request{{Op: host.OpAddBinding, Binding: spec}})
		require.ErrorIs(t, err, host.ErrInvalidTarget, "%+v", spec)
	}
}

func TestExecute_RemoveUnknownHandler(t *testing.T) {
	doc := newTestDocument(t)

	_, err := doc.Execute(context.Background(), []host.Request{
		{Op: host.OpRemoveHandler, HandlerID: "missing"},
	})
	require.ErrorIs(t, err, host.ErrUnknownHandler)
}

func TestExecute_CancelledContext(t *testing.T) {
	doc := newTestDocument(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := doc.Execute(ctx, []host.Request{{Op: host.OpListWorksheets}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestActivateWorksheet_FiresDeactivateThenActivate(t *testing.T) {
	doc := newTestDocument(t)
	ctx := context.Background()

	var seen []string
	record := func(_ context.Context, ev host.Event) {
		seen = append(seen, fmt.Sprintf("%s:%s", ev.Type, ev.Worksheet))
	}
	_, err := doc.Execute(ctx, []host.Request{
		{Op: host.OpAddHandler, Source: host.WorksheetSource("Sheet1"), Event: host.EventWorksheetDeactivated, Handler: record},
		{Op: host.OpAddHandler, Source: host.WorksheetSource("Sheet2"), Event: host.EventWorksheetActivated, Handler: record},
	})
	require.NoError(t, err)

	require.NoError(t, doc.ActivateWorksheet(ctx, "Sheet2"))
	require.Equal(t, []string{"WorksheetDeactivated:Sheet1", "WorksheetActivated:Sheet2"}, seen)
	require.Equal(t, "Sheet2", doc.ActiveWorksheet())

	require.NoError(t, doc.ActivateWorksheet(ctx, "Sheet2"))
	require.Len(t, seen, 2, "activating the active sheet is a no-op")

	require.ErrorIs(t, doc.ActivateWorksheet(ctx, "Nope"), host.ErrUnknownWorksheet)
}

func TestEditRange_NotifiesIntersectingBindings(t *testing.T) {
	doc := newTestDocument(t)
	ctx := context.Background()

	var got []string
	record := func(_ context.Context, ev host.Event) {
		got = append(got, fmt.Sprintf("%s@%s", ev.Type, ev.Source))
	}
	_, err := doc.Execute(ctx, []host.Request{
		{Op: host.OpAddBinding, Binding: host.BindingSpec{ID: "table", ItemName: "InvoiceTable"}},
		{Op: host.OpAddBinding, Binding: host.BindingSpec{ID: "far", Type: host.BindingRange, Worksheet: "Sheet1", Address: "Z100"}},
		{Op: host.OpAddHandler, Source: host.BindingSource("table"), Event: host.EventBindingDataChanged, Handler: record},
		{Op: host.OpAddHandler, Source: host.BindingSource("far"), Event: host.EventBindingDataChanged, Handler: record},
		{Op: host.OpAddHandler, Source: host.WorksheetSource("Sheet1"), Event: host.EventChanged, Handler: record},
	})
	require.NoError(t, err)

	require.NoError(t, doc.EditRange(ctx, "Sheet1", "B2"))
	require.Equal(t, []string{
		"Changed@worksheet(Sheet1)",
		"BindingDataChanged@binding(table)",
	}, got)

	got = nil
	require.NoError(t, doc.EditTable(ctx, "InvoiceTable"))
	require.Contains(t, got, "BindingDataChanged@binding(table)")
	require.NotContains(t, got, "BindingDataChanged@binding(far)")
}

func TestEditRange_ItemBindingsResolveInTheirScope(t *testing.T) {
	doc := New(WithSnapshot(&Snapshot{
		Worksheets: []string{"Sheet1", "Sheet2"},
		Names: []host.NamedItem{
			{Name: "Lines", Scope: host.Worksheet("Sheet1"), Formula: "=Sheet1!$A$1:$A$5"},
			{Name: "Lines", Scope: host.Worksheet("Sheet2"), Formula: "=$B$1:$B$5"},
		},
	}))
	ctx := context.Background()

	var got []string
	record := func(_ context.Context, ev host.Event) { got = append(got, ev.BindingID) }
	_, err := doc.Execute(ctx, []host.Request{
		{Op: host.OpAddBinding, Binding: host.BindingSpec{ID: "one", ItemName: "Lines", Scope: host.Worksheet("Sheet1")}},
		{Op: host.OpAddBinding, Binding: host.BindingSpec{ID: "two", ItemName: "Lines", Scope: host.Worksheet("Sheet2")}},
		{Op: host.OpAddHandler, Source: host.BindingSource("one"), Event: host.EventBindingDataChanged, Handler: record},
		{Op: host.OpAddHandler, Source: host.BindingSource("two"), Event: host.EventBindingDataChanged, Handler: record},
	})
	require.NoError(t, err)

	require.NoError(t, doc.EditRange(ctx, "Sheet2", "B2"))
	require.Equal(t, []string{"two"}, got)

	got = nil
	require.NoError(t, doc.EditRange(ctx, "Sheet1", "A2"))
	require.Equal(t, []string{"one"}, got)

	_, err = doc.Execute(ctx, []host.Request{
		{Op: host.OpAddBinding, Binding: host.BindingSpec{ID: "none", ItemName: "Lines"}},
	})
	require.ErrorIs(t, err, host.ErrInvalidTarget, "sheet names are invisible from the workbook scope")
}

func TestSelectRange_NotifiesSelection(t *testing.T) {
	doc := newTestDocument(t)
	ctx := context.Background()

	var got host.Event
	_, err := doc.Execute(ctx, []host.Request{
		{Op: host.OpAddBinding, Binding: host.BindingSpec{ID: "b", Worksheet: "Sheet2", Address: "A1:A5"}},
		{Op: host.OpAddHandler, Source: host.BindingSource("b"), Event: host.EventBindingSelectionChanged, Handler: func(_ context.Context, ev host.Event) { got = ev }},
	})
	require.NoError(t, err)

	require.NoError(t, doc.SelectRange(ctx, "Sheet2", "A3"))
	require.Equal(t, "b", got.BindingID)
	require.Equal(t, "A3", got.Address)
}

func TestHandlersMayCallExecute(t *testing.T) {
	doc := newTestDocument(t)
	ctx := context.Background()

	var names []host.NamedItem
	handler := func(ctx context.Context, ev host.Event) {
		resps, err := doc.Execute(ctx, []host.Request{{Op: host.OpListNames, Scope: host.Worksheet(ev.Worksheet)}})
		require.NoError(t, err)
		names = resps[0].Items
	}
	_, err := doc.Execute(ctx, []host.Request{
		{Op: host.OpAddHandler, Source: host.WorksheetSource("Sheet1"), Event: "Custom", Handler: handler},
	})
	require.NoError(t, err)

	doc.Fire(ctx, host.WorksheetSource("Sheet1"), "Custom", nil)
	require.Len(t, names, 2)
}

type memStore struct {
	snap  *Snapshot
	saves int
	err   error
}

func (s *memStore) Load(context.Context) (*Snapshot, error) {
	return s.snap.Clone(), nil
}

func (s *memStore) Save(_ context.Context, snap *Snapshot) error {
	if s.err != nil {
		return s.err
	}
	s.saves++
	s.snap = snap.Clone()
	return nil
}

func TestStore_PersistsNameWrites(t *testing.T) {
	store := &memStore{snap: &Snapshot{Worksheets: []string{"Sheet1"}}}
	ctx := context.Background()

	doc, err := Open(ctx, store)
	require.NoError(t, err)

	_, err = doc.Execute(ctx, []host.Request{{Op: host.OpListWorksheets}})
	require.NoError(t, err)
	require.Zero(t, store.saves, "reads are not persisted")

	_, err = doc.Execute(ctx, []host.Request{
		{Op: host.OpAddName, Scope: host.Workbook(), Name: "value__a", Formula: "=1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, store.saves)
	require.Len(t, store.snap.Names, 1)
	require.Nil(t, store.snap.Names[0].Value, "persisted items carry formulas only")
}

func TestStore_FailedSaveDiscardsBatch(t *testing.T) {
	store := &memStore{snap: &Snapshot{Worksheets: []string{"Sheet1"}}, err: errors.New("disk full")}
	doc, err := Open(context.Background(), store)
	require.NoError(t, err)

	_, err = doc.Execute(context.Background(), []host.Request{
		{Op: host.OpAddName, Scope: host.Workbook(), Name: "value__a", Formula: "=1"},
	})
	require.ErrorContains(t, err, "disk full")
	require.Empty(t, doc.Names(host.Workbook()))
}

func TestReload_AdoptsExternalEdits(t *testing.T) {
	store := &memStore{snap: &Snapshot{Worksheets: []string{"Sheet1"}, ActiveWorksheet: "Sheet1"}}
	ctx := context.Background()
	doc, err := Open(ctx, store)
	require.NoError(t, err)

	changed, err := doc.Reload(ctx)
	require.NoError(t, err)
	require.False(t, changed)

	var fired int
	_, err = doc.Execute(ctx, []host.Request{
		{Op: host.OpAddHandler, Source: host.WorkbookSource(), Event: host.EventChanged, Handler: func(context.Context, host.Event) { fired++ }},
	})
	require.NoError(t, err)

	store.snap.Names = append(store.snap.Names, host.NamedItem{Name: "value__x", Scope: host.Workbook(), Formula: `="hi"`})
	changed, err = doc.Reload(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 1, fired)
	require.Equal(t, "hi", doc.Names(host.Workbook())[0].Value)
	require.Equal(t, 1, doc.HandlerCount(), "handlers survive a reload")
}
