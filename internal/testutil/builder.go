// Package testutil provides builders for test documents and applications.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/host/memdoc"
)

// Builder accumulates worksheets, named items and tables and turns them into
// a document.
type Builder struct {
	t      *testing.T
	sheets []string
	active string
	names  []host.NamedItem
	tables []host.Table
}

// NewBuilder creates an empty builder.
func NewBuilder(t *testing.T) *Builder {
	t.Helper()
	return &Builder{t: t}
}

// WithWorksheets appends worksheets. The first worksheet ever added is
// active unless Active says otherwise.
func (b *Builder) WithWorksheets(names ...string) *Builder {
	b.sheets = append(b.sheets, names...)
	if b.active == "" && len(b.sheets) > 0 {
		b.active = b.sheets[0]
	}
	return b
}

// Active sets the active worksheet.
func (b *Builder) Active(name string) *Builder {
	b.active = name
	return b
}

// WithName adds a named item. It is workbook scoped unless OnSheet is given.
func (b *Builder) WithName(name, formula string, opts ...NameOption) *Builder {
	item := host.NamedItem{Name: name, Scope: host.Workbook(), Formula: formula}
	for _, opt := range opts {
		opt(&item)
	}
	b.names = append(b.names, item)
	return b
}

// WithValue adds a named item holding the literal v.
func (b *Builder) WithValue(name string, v any, opts ...NameOption) *Builder {
	b.t.Helper()
	formula, err := host.FormulaFor(v)
	require.NoError(b.t, err, "encoding %s", name)
	return b.WithName(name, formula, opts...)
}

// WithTable adds a table on sheet.
func (b *Builder) WithTable(name, sheet, address string) *Builder {
	b.tables = append(b.tables, host.Table{Name: name, Worksheet: sheet, Address: address})
	return b
}

// Snapshot returns the accumulated document state.
func (b *Builder) Snapshot() *memdoc.Snapshot {
	return &memdoc.Snapshot{
		Worksheets:      append([]string(nil), b.sheets...),
		ActiveWorksheet: b.active,
		Names:           append([]host.NamedItem(nil), b.names...),
		Tables:          append([]host.Table(nil), b.tables...),
	}
}

// Build creates an in-memory document from the accumulated state.
func (b *Builder) Build(opts ...memdoc.Option) *memdoc.Document {
	b.t.Helper()
	return memdoc.New(append([]memdoc.Option{memdoc.WithSnapshot(b.Snapshot())}, opts...)...)
}
