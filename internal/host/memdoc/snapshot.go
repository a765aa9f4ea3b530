package memdoc

import (
	"context"
	"slices"

	"github.com/zjrosen/sheetbind/internal/host"
)

// Snapshot is the persistent part of a document: worksheets, named items and
// tables. Bindings and handlers live only as long as the process.
type Snapshot struct {
	Worksheets      []string
	ActiveWorksheet string
	Names           []host.NamedItem
	Tables          []host.Table
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return &Snapshot{}
	}
	return &Snapshot{
		Worksheets:      slices.Clone(s.Worksheets),
		ActiveWorksheet: s.ActiveWorksheet,
		Names:           slices.Clone(s.Names),
		Tables:          slices.Clone(s.Tables),
	}
}

// Equal reports whether two snapshots describe the same document.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.ActiveWorksheet != o.ActiveWorksheet ||
		!slices.Equal(s.Worksheets, o.Worksheets) ||
		!slices.Equal(s.Tables, o.Tables) ||
		len(s.Names) != len(o.Names) {
		return false
	}
	for i := range s.Names {
		a, b := s.Names[i], o.Names[i]
		if a.Name != b.Name || a.Scope != b.Scope || a.Formula != b.Formula || a.Comment != b.Comment {
			return false
		}
	}
	return true
}

// Store persists document snapshots.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}
