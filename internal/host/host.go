// Package host defines the contract between sheetbind and the spreadsheet
// document that hosts it.
//
// A host exposes named references scoped to the workbook or to a single
// worksheet, tables, range/table bindings and event handlers. Every read and
// write reaches the host through Execute, which runs one ordered batch of
// requests as a single round-trip: reads observe the document as it was when
// the batch started and writes are applied together or not at all.
package host

import (
	"context"
	"fmt"
)

// ScopeKind distinguishes workbook-wide from worksheet-local names.
type ScopeKind int

const (
	ScopeWorkbook ScopeKind = iota
	ScopeWorksheet
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeWorkbook:
		return "workbook"
	case ScopeWorksheet:
		return "worksheet"
	default:
		return "unknown"
	}
}

// Scope identifies the element a named reference or controller belongs to.
type Scope struct {
	Kind      ScopeKind
	Worksheet string
}

// Workbook returns the workbook scope.
func Workbook() Scope {
	return Scope{Kind: ScopeWorkbook}
}

// Worksheet returns the scope of the named worksheet.
func Worksheet(name string) Scope {
	return Scope{Kind: ScopeWorksheet, Worksheet: name}
}

// IsWorkbook reports whether s is the workbook scope.
func (s Scope) IsWorkbook() bool {
	return s.Kind == ScopeWorkbook
}

// Key returns a stable map key for the scope.
func (s Scope) Key() string {
	if s.Kind == ScopeWorksheet {
		return "worksheet:" + s.Worksheet
	}
	return "workbook"
}

// Qualify returns name as seen from outside the scope: worksheet names are
// prefixed with their sheet ("Sheet2!Lines"), workbook names are unchanged.
func (s Scope) Qualify(name string) string {
	if s.Kind == ScopeWorksheet {
		return s.Worksheet + "!" + name
	}
	return name
}

func (s Scope) String() string {
	if s.Kind == ScopeWorksheet {
		return fmt.Sprintf("worksheet(%s)", s.Worksheet)
	}
	return "workbook"
}

// NamedItem is a named reference living in the document. Formula is the raw
// definition (for example `="Invoice"` or `=Sheet1!$A$1:$C$9`) and Value its
// evaluated scalar. Comment is free-form metadata.
type NamedItem struct {
	Name    string
	Scope   Scope
	Formula string
	Value   any
	Comment string
}

// Table is a named table occupying a range of one worksheet.
type Table struct {
	Name      string
	Worksheet string
	Address   string
}

// BindingType describes the shape of the data a binding tracks.
type BindingType string

const (
	BindingTable BindingType = "table"
	BindingRange BindingType = "range"
)

// BindingSpec describes a host binding. A binding either targets an explicit
// range (Worksheet and Address) or an existing table or named item (ItemName).
// A named item is looked up in Scope only; tables are workbook-wide.
type BindingSpec struct {
	ID        string
	Type      BindingType
	Worksheet string
	Address   string
	ItemName  string
	Scope     Scope
}

// EventType names a host notification. Values outside the constants below
// are custom events raised by the host.
type EventType string

const (
	EventWorkbookActivated       EventType = "WorkbookActivated"
	EventWorksheetActivated      EventType = "WorksheetActivated"
	EventWorksheetDeactivated    EventType = "WorksheetDeactivated"
	EventChanged                 EventType = "Changed"
	EventSelectionChanged        EventType = "SelectionChanged"
	EventCalculated              EventType = "Calculated"
	EventBindingDataChanged      EventType = "BindingDataChanged"
	EventBindingSelectionChanged EventType = "BindingSelectionChanged"
)

// SourceKind is the kind of object a handler is attached to.
type SourceKind string

const (
	SourceWorkbook  SourceKind = "workbook"
	SourceWorksheet SourceKind = "worksheet"
	SourceBinding   SourceKind = "binding"
)

// Source identifies the object that raises an event.
type Source struct {
	Kind SourceKind
	ID   string
}

// WorkbookSource returns the workbook as an event source.
func WorkbookSource() Source {
	return Source{Kind: SourceWorkbook}
}

// WorksheetSource returns the named worksheet as an event source.
func WorksheetSource(name string) Source {
	return Source{Kind: SourceWorksheet, ID: name}
}

// BindingSource returns the binding with the given id as an event source.
func BindingSource(id string) Source {
	return Source{Kind: SourceBinding, ID: id}
}

// SourceFor returns the event source matching a scope.
func SourceFor(s Scope) Source {
	if s.Kind == ScopeWorksheet {
		return WorksheetSource(s.Worksheet)
	}
	return WorkbookSource()
}

func (s Source) String() string {
	if s.ID == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.ID)
}

// Event is a notification raised by the host.
type Event struct {
	Type      EventType
	Source    Source
	Worksheet string
	BindingID string
	Address   string
	Payload   any
}

// Handler receives host events. Handlers are invoked synchronously on the
// goroutine that raised the event.
type Handler func(ctx context.Context, ev Event)

// Op is a single host operation carried in a Request.
type Op string

const (
	OpListNames      Op = "list-names"
	OpGetName        Op = "get-name"
	OpAddName        Op = "add-name"
	OpDeleteName     Op = "delete-name"
	OpListWorksheets Op = "list-worksheets"
	OpActiveSheet    Op = "active-worksheet"
	OpGetWorksheet   Op = "get-worksheet"
	OpGetTable       Op = "get-table"
	OpAddBinding     Op = "add-binding"
	OpDeleteBinding  Op = "delete-binding"
	OpAddHandler     Op = "add-handler"
	OpRemoveHandler  Op = "remove-handler"
)

// IsWrite reports whether the operation mutates the document.
func (o Op) IsWrite() bool {
	switch o {
	case OpAddName, OpDeleteName, OpAddBinding, OpDeleteBinding, OpAddHandler, OpRemoveHandler:
		return true
	}
	return false
}

// Request is one queued operation. Only the fields relevant to Op are read.
type Request struct {
	Op    Op
	Scope Scope
	// Name is the named item, worksheet or table the operation targets.
	Name    string
	Formula string
	Comment string
	// Strict turns an absent item into ErrNotFound for OpGetName.
	Strict    bool
	Binding   BindingSpec
	Source    Source
	Event     EventType
	Handler   Handler
	HandlerID string
}

// Response carries the result of the Request at the same index.
type Response struct {
	Found      bool
	Item       NamedItem
	Items      []NamedItem
	Worksheets []string
	Worksheet  string
	Table      Table
	ID         string
}

// Host executes batches of requests against a document.
type Host interface {
	// Execute runs reqs as one round-trip and returns one response per
	// request. When any request fails no write in the batch takes effect and
	// the returned error is a *RequestError.
	Execute(ctx context.Context, reqs []Request) ([]Response, error)
}
