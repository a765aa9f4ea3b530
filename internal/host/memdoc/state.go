package memdoc

import (
	"slices"

	"github.com/zjrosen/sheetbind/internal/host"
)

type registration struct {
	id      string
	source  host.Source
	event   host.EventType
	handler host.Handler
}

// state is the full document. Execute works on a clone and swaps it in on
// success, so a state value is never mutated once another batch can see it.
type state struct {
	worksheets []string
	active     string
	names      []host.NamedItem
	tables     []host.Table
	bindings   []host.BindingSpec
	handlers   []registration
}

func stateFrom(snap *Snapshot) *state {
	s := &state{}
	if snap == nil {
		return s
	}
	s.worksheets = slices.Clone(snap.Worksheets)
	s.active = snap.ActiveWorksheet
	s.tables = slices.Clone(snap.Tables)
	s.names = make([]host.NamedItem, 0, len(snap.Names))
	for _, item := range snap.Names {
		item.Value = host.Evaluate(item.Formula)
		s.names = append(s.names, item)
	}
	if s.active == "" && len(s.worksheets) > 0 {
		s.active = s.worksheets[0]
	}
	return s
}

func (s *state) clone() *state {
	return &state{
		worksheets: slices.Clone(s.worksheets),
		active:     s.active,
		names:      slices.Clone(s.names),
		tables:     slices.Clone(s.tables),
		bindings:   slices.Clone(s.bindings),
		handlers:   slices.Clone(s.handlers),
	}
}

func (s *state) snapshot() *Snapshot {
	names := make([]host.NamedItem, len(s.names))
	for i, item := range s.names {
		item.Value = nil
		names[i] = item
	}
	return &Snapshot{
		Worksheets:      slices.Clone(s.worksheets),
		ActiveWorksheet: s.active,
		Names:           names,
		Tables:          slices.Clone(s.tables),
	}
}

func (s *state) hasWorksheet(name string) bool {
	return slices.Contains(s.worksheets, name)
}

func (s *state) scopeExists(scope host.Scope) bool {
	return scope.IsWorkbook() || s.hasWorksheet(scope.Worksheet)
}

func (s *state) findName(scope host.Scope, name string) int {
	return slices.IndexFunc(s.names, func(item host.NamedItem) bool {
		return item.Scope == scope && item.Name == name
	})
}

func (s *state) namesIn(scope host.Scope) []host.NamedItem {
	var out []host.NamedItem
	for _, item := range s.names {
		if item.Scope == scope {
			out = append(out, item)
		}
	}
	return out
}

func (s *state) table(name string) (host.Table, bool) {
	i := slices.IndexFunc(s.tables, func(t host.Table) bool { return t.Name == name })
	if i < 0 {
		return host.Table{}, false
	}
	return s.tables[i], true
}

func (s *state) binding(id string) int {
	return slices.IndexFunc(s.bindings, func(b host.BindingSpec) bool { return b.ID == id })
}

func (s *state) handler(id string) int {
	return slices.IndexFunc(s.handlers, func(r registration) bool { return r.id == id })
}

func (s *state) handlersFor(source host.Source, event host.EventType) []host.Handler {
	var out []host.Handler
	for _, r := range s.handlers {
		if r.source == source && r.event == event {
			out = append(out, r.handler)
		}
	}
	return out
}

// resolveItem resolves a table name, or a named item of scope referring to a
// table or a range, to the worksheet and cells it covers. Names defined in
// other scopes never match.
func (s *state) resolveItem(scope host.Scope, name string) (string, rect, bool) {
	if t, ok := s.table(name); ok {
		return s.tableRange(t)
	}
	i := s.findName(scope, name)
	if i < 0 {
		return "", rect{}, false
	}
	return s.resolveReference(s.names[i])
}

func (s *state) resolveReference(item host.NamedItem) (string, rect, bool) {
	ref, ok := host.Reference(item.Formula)
	if !ok {
		return "", rect{}, false
	}
	if t, ok := s.table(ref); ok {
		return s.tableRange(t)
	}
	sheet, address := splitSheet(ref)
	if sheet == "" {
		if item.Scope.IsWorkbook() {
			return "", rect{}, false
		}
		sheet = item.Scope.Worksheet
	}
	if !s.hasWorksheet(sheet) {
		return "", rect{}, false
	}
	r, err := parseAddress(address)
	if err != nil {
		return "", rect{}, false
	}
	return sheet, r, true
}

func (s *state) tableRange(t host.Table) (string, rect, bool) {
	r, err := parseAddress(t.Address)
	if err != nil || !s.hasWorksheet(t.Worksheet) {
		return "", rect{}, false
	}
	return t.Worksheet, r, true
}

func (s *state) bindingRange(spec host.BindingSpec) (string, rect, bool) {
	if spec.ItemName != "" {
		return s.resolveItem(spec.Scope, spec.ItemName)
	}
	if !s.hasWorksheet(spec.Worksheet) {
		return "", rect{}, false
	}
	r, err := parseAddress(spec.Address)
	if err != nil {
		return "", rect{}, false
	}
	return spec.Worksheet, r, true
}

// bindingsAt returns the ids of bindings covering any cell of r on sheet.
func (s *state) bindingsAt(sheet string, r rect) []string {
	var ids []string
	for _, b := range s.bindings {
		bs, br, ok := s.bindingRange(b)
		if ok && bs == sheet && br.intersects(r) {
			ids = append(ids, b.ID)
		}
	}
	return ids
}
