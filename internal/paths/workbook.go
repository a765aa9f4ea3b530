// Package paths provides path resolution utilities.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// Workbook file and directory names.
const (
	WorkbookDir  = ".sheetbind"
	WorkbookFile = "workbook.db"
	redirectFile = "redirect"
)

// ResolveWorkbook resolves the workbook store file from user input.
//
// Input normalization:
//   - "" -> "./.sheetbind/workbook.db"
//   - "/path/to/project" (a directory) -> "/path/to/project/.sheetbind/workbook.db"
//   - "/path/to/project/.sheetbind" -> "/path/to/project/.sheetbind/workbook.db"
//   - "/path/to/book.db" -> "/path/to/book.db"
//
// When the store directory holds a redirect file, its content (relative to
// that directory) names the directory actually used. Git worktrees use this
// to share the main worktree's workbook.
func ResolveWorkbook(path string) string {
	if path == "" {
		path = "."
	}
	path = filepath.Clean(path)

	dir, file := path, WorkbookFile
	switch info, err := os.Stat(path); {
	case filepath.Base(path) == WorkbookDir:
	case err == nil && info.IsDir():
		dir = filepath.Join(path, WorkbookDir)
	default:
		dir, file = filepath.Dir(path), filepath.Base(path)
	}
	return filepath.Join(followRedirect(dir), file)
}

// followRedirect checks for a redirect file and follows it if present.
func followRedirect(dir string) string {
	content, err := os.ReadFile(filepath.Join(dir, redirectFile)) //nolint:gosec // redirect path is within the store dir
	if err != nil {
		return dir
	}

	target := strings.TrimSpace(string(content))
	if target == "" {
		return dir
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Clean(filepath.Join(dir, target))
}
