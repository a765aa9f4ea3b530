package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zjrosen/sheetbind/internal/host/memdoc"
	"github.com/zjrosen/sheetbind/internal/log"
)

// workbookStore implements memdoc.Store on the workbook tables.
type workbookStore struct {
	db *sql.DB
}

func newWorkbookStore(db *sql.DB) *workbookStore {
	return &workbookStore{db: db}
}

var _ memdoc.Store = (*workbookStore)(nil)

// Load reads the whole workbook in stored order.
func (s *workbookStore) Load(ctx context.Context) (*memdoc.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("loading workbook: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := &memdoc.Snapshot{}

	rows, err := tx.QueryContext(ctx, "SELECT name FROM worksheets ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("loading worksheets: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning worksheet: %w", err)
		}
		snap.Worksheets = append(snap.Worksheets, name)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("loading worksheets: %w", err)
	}

	rows, err = tx.QueryContext(ctx, "SELECT name, worksheet, formula, comment, position FROM named_items ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("loading named items: %w", err)
	}
	for rows.Next() {
		var m namedItemModel
		if err := rows.Scan(&m.Name, &m.Worksheet, &m.Formula, &m.Comment, &m.Position); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning named item: %w", err)
		}
		snap.Names = append(snap.Names, m.toNamedItem())
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("loading named items: %w", err)
	}

	rows, err = tx.QueryContext(ctx, "SELECT name, worksheet, address, position FROM tables ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("loading tables: %w", err)
	}
	for rows.Next() {
		var m tableModel
		if err := rows.Scan(&m.Name, &m.Worksheet, &m.Address, &m.Position); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		snap.Tables = append(snap.Tables, m.toTable())
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("loading tables: %w", err)
	}

	err = tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaActiveWorksheet).Scan(&snap.ActiveWorksheet)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading active worksheet: %w", err)
	}

	return snap, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}

// Save replaces the stored workbook with snap in one transaction.
func (s *workbookStore) Save(ctx context.Context, snap *memdoc.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	if err := saveTx(ctx, tx, snap); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("saving workbook: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	log.Debug(log.CatStore, "workbook saved", "worksheets", len(snap.Worksheets), "names", len(snap.Names))
	return nil
}

func saveTx(ctx context.Context, tx *sql.Tx, snap *memdoc.Snapshot) error {
	for _, stmt := range []string{
		"DELETE FROM named_items",
		"DELETE FROM tables",
		"DELETE FROM worksheets",
		"DELETE FROM meta",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for i, ws := range snap.Worksheets {
		if _, err := tx.ExecContext(ctx, "INSERT INTO worksheets (name, position) VALUES (?, ?)", ws, i); err != nil {
			return fmt.Errorf("worksheet %s: %w", ws, err)
		}
	}
	for i, item := range snap.Names {
		m := toNamedItemModel(item, i)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO named_items (name, worksheet, formula, comment, position) VALUES (?, ?, ?, ?, ?)",
			m.Name, m.Worksheet, m.Formula, m.Comment, m.Position,
		); err != nil {
			return fmt.Errorf("named item %s: %w", item.Name, err)
		}
	}
	for i, t := range snap.Tables {
		m := toTableModel(t, i)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tables (name, worksheet, address, position) VALUES (?, ?, ?, ?)",
			m.Name, m.Worksheet, m.Address, m.Position,
		); err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
	}
	if snap.ActiveWorksheet != "" {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", metaActiveWorksheet, snap.ActiveWorksheet); err != nil {
			return err
		}
	}
	return nil
}
