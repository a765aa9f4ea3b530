package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/host/memdoc"
)

func sampleSnapshot() *memdoc.Snapshot {
	return &memdoc.Snapshot{
		Worksheets:      []string{"Sheet1", "Sheet2"},
		ActiveWorksheet: "Sheet2",
		Names: []host.NamedItem{
			{Name: "controller__inv1", Scope: host.Workbook(), Formula: "=InvoiceTable", Comment: "Invoice"},
			{Name: "controller", Scope: host.Worksheet("Sheet1"), Formula: `="Invoice"`},
			{Name: "value__total", Scope: host.Worksheet("Sheet1"), Formula: "=42"},
			{Name: "value__total", Scope: host.Worksheet("Sheet2"), Formula: "=7"},
		},
		Tables: []host.Table{{Name: "InvoiceTable", Worksheet: "Sheet1", Address: "A1:C10"}},
	}
}

func TestWorkbookStore_LoadEmpty(t *testing.T) {
	db := newTestDB(t)

	snap, err := db.WorkbookStore().Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap.Worksheets)
	require.Empty(t, snap.Names)
	require.Empty(t, snap.ActiveWorksheet)
}

func TestWorkbookStore_SaveLoadRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store := db.WorkbookStore()
	ctx := context.Background()

	want := sampleSnapshot()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, want.Equal(got))
	require.Equal(t, 42.0, got.Names[2].Value, "loaded items carry evaluated values")

	empty, err := db.IsEmpty(ctx)
	require.NoError(t, err)
	require.False(t, empty)
}

func TestWorkbookStore_SaveReplaces(t *testing.T) {
	db := newTestDB(t)
	store := db.WorkbookStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSnapshot()))

	smaller := &memdoc.Snapshot{Worksheets: []string{"Only"}}
	require.NoError(t, store.Save(ctx, smaller))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Only"}, got.Worksheets)
	require.Empty(t, got.Names)
	require.Empty(t, got.Tables)
	require.Empty(t, got.ActiveWorksheet)
}

func TestWorkbookStore_RejectedSaveKeepsPrevious(t *testing.T) {
	db := newTestDB(t)
	store := db.WorkbookStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSnapshot()))

	bad := sampleSnapshot()
	bad.Names = append(bad.Names, host.NamedItem{Name: "x", Scope: host.Worksheet("Ghost"), Formula: "=1"})
	require.Error(t, store.Save(ctx, bad), "an item on an unknown worksheet violates the foreign key")

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, sampleSnapshot().Equal(got))
}

func TestWorkbookStore_BacksDocument(t *testing.T) {
	db := newTestDB(t)
	store := db.WorkbookStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleSnapshot()))

	doc, err := memdoc.Open(ctx, store)
	require.NoError(t, err)
	require.Equal(t, "Sheet2", doc.ActiveWorksheet())

	_, err = doc.Execute(ctx, []host.Request{{
		Op:      host.OpAddName,
		Scope:   host.Workbook(),
		Name:    "value__status",
		Formula: `="paid"`,
	}})
	require.NoError(t, err)

	other, err := memdoc.Open(ctx, db.WorkbookStore())
	require.NoError(t, err)
	found := false
	for _, item := range other.Names(host.Workbook()) {
		if item.Name == "value__status" {
			found = true
			require.Equal(t, "paid", item.Value)
		}
	}
	require.True(t, found, "a second document sees the persisted name")
}
