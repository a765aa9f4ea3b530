package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sheetbind/internal/host/memdoc"
	"github.com/zjrosen/sheetbind/internal/infrastructure/sqlite"
)

// NewTestDB opens a migrated workbook database in a temp directory. It is
// closed when the test ends.
func NewTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "workbook.db"))
	require.NoError(t, err, "opening test database")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewStoredDocument seeds a fresh database with snap and opens a document
// persisting to it.
func NewStoredDocument(t *testing.T, snap *memdoc.Snapshot) (*memdoc.Document, *sqlite.DB) {
	t.Helper()
	db := NewTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.WorkbookStore().Save(ctx, snap), "seeding test database")

	doc, err := memdoc.Open(ctx, db.WorkbookStore())
	require.NoError(t, err, "opening stored document")
	return doc, db
}
