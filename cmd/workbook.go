package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/sheetbind/internal/config"
	"github.com/zjrosen/sheetbind/internal/host/memdoc"
	"github.com/zjrosen/sheetbind/internal/infrastructure/sqlite"
	"github.com/zjrosen/sheetbind/internal/log"
	"github.com/zjrosen/sheetbind/internal/paths"
)

// ErrEmptyWorkbook is returned when the store holds no workbook and no seed
// is available.
var ErrEmptyWorkbook = errors.New("workbook is empty; run 'sheetbind init' or configure workbook.seed")

// defaultSnapshot is the workbook `init` creates without a seed.
func defaultSnapshot() *memdoc.Snapshot {
	return &memdoc.Snapshot{Worksheets: []string{"Sheet1"}, ActiveWorksheet: "Sheet1"}
}

// seedIfEmpty saves the first available snapshot into an empty store.
// Candidates are tried in order; nil entries are skipped.
func seedIfEmpty(ctx context.Context, db *sqlite.DB, candidates ...func() (*memdoc.Snapshot, error)) (bool, error) {
	empty, err := db.IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	if !empty {
		return false, nil
	}
	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		snap, err := candidate()
		if err != nil {
			return false, err
		}
		if snap == nil {
			continue
		}
		if err := db.WorkbookStore().Save(ctx, snap); err != nil {
			return false, fmt.Errorf("seeding workbook: %w", err)
		}
		log.Info(log.CatStore, "seeded workbook", "path", db.Path(), "worksheets", len(snap.Worksheets))
		return true, nil
	}
	return false, ErrEmptyWorkbook
}

// fixtureSeed loads a fixture file, or nothing when path is empty.
func fixtureSeed(path string) func() (*memdoc.Snapshot, error) {
	if path == "" {
		return nil
	}
	return func() (*memdoc.Snapshot, error) {
		return memdoc.LoadFixture(path)
	}
}

// workbookPath resolves workbook.path, which may name a project directory,
// a .sheetbind directory or the store file itself.
func workbookPath() string {
	return paths.ResolveWorkbook(config.ExpandHome(cfg.Workbook.Path))
}

// openWorkbook opens the configured store and a document persisting to it.
// An empty store is seeded from the first of seeds, then workbook.seed.
// The caller closes the returned database.
func openWorkbook(ctx context.Context, seeds ...func() (*memdoc.Snapshot, error)) (*sqlite.DB, *memdoc.Document, error) {
	db, err := sqlite.NewDB(workbookPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening workbook store: %w", err)
	}
	seeds = append(seeds, fixtureSeed(cfg.Workbook.Seed))
	if _, err := seedIfEmpty(ctx, db, seeds...); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	doc, err := memdoc.Open(ctx, db.WorkbookStore())
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, doc, nil
}
