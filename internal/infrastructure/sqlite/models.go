package sqlite

import (
	"database/sql"

	"github.com/zjrosen/sheetbind/internal/host"
)

// namedItemModel is a row of the named_items table. A NULL worksheet is a
// workbook-scoped item.
type namedItemModel struct {
	Name      string
	Worksheet sql.NullString
	Formula   string
	Comment   string
	Position  int
}

// tableModel is a row of the tables table.
type tableModel struct {
	Name      string
	Worksheet string
	Address   string
	Position  int
}

const metaActiveWorksheet = "active_worksheet"

func toNamedItemModel(item host.NamedItem, position int) namedItemModel {
	m := namedItemModel{
		Name:     item.Name,
		Formula:  item.Formula,
		Comment:  item.Comment,
		Position: position,
	}
	if !item.Scope.IsWorkbook() {
		m.Worksheet = sql.NullString{String: item.Scope.Worksheet, Valid: true}
	}
	return m
}

// toNamedItem converts a row to a host item, evaluating its formula.
func (m namedItemModel) toNamedItem() host.NamedItem {
	scope := host.Workbook()
	if m.Worksheet.Valid {
		scope = host.Worksheet(m.Worksheet.String)
	}
	return host.NamedItem{
		Name:    m.Name,
		Scope:   scope,
		Formula: m.Formula,
		Value:   host.Evaluate(m.Formula),
		Comment: m.Comment,
	}
}

func toTableModel(t host.Table, position int) tableModel {
	return tableModel{Name: t.Name, Worksheet: t.Worksheet, Address: t.Address, Position: position}
}

func (m tableModel) toTable() host.Table {
	return host.Table{Name: m.Name, Worksheet: m.Worksheet, Address: m.Address}
}
