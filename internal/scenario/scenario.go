// Package scenario replays scripted user activity against a document and
// the application bound to it. Scripts are YAML:
//
//	document:            # optional fixture, see memdoc.Fixture
//	  active: Sheet2
//	  worksheets: [...]
//	steps:
//	  - activate: Sheet1
//	  - edit_range: {sheet: Sheet1, address: B2}
//	  - edit_table: InvoiceTable
//	  - select_range: {sheet: Sheet1, address: A1:A3}
//	  - fire: {source: "worksheet:Sheet1", event: Calculated}
//	  - publish: {event: paymentReceived, payload: 12.5}
//	  - set_value: {controller: Invoice, name: total, value: 10}
//	  - expect_value: {controller: Invoice, name: total, value: 10}
//	  - activate_workbook: true
package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/sheetbind/internal/host"
	"github.com/zjrosen/sheetbind/internal/host/memdoc"
)

// Script is a parsed scenario.
type Script struct {
	Name     string          `yaml:"name"`
	Document *memdoc.Fixture `yaml:"document"`
	Steps    []Step          `yaml:"steps"`
}

// Step is one scripted action. Exactly one field is set.
type Step struct {
	Activate         string       `yaml:"activate,omitempty"`
	ActivateWorkbook bool         `yaml:"activate_workbook,omitempty"`
	EditRange        *RangeStep   `yaml:"edit_range,omitempty"`
	EditTable        string       `yaml:"edit_table,omitempty"`
	SelectRange      *RangeStep   `yaml:"select_range,omitempty"`
	Fire             *FireStep    `yaml:"fire,omitempty"`
	Publish          *PublishStep `yaml:"publish,omitempty"`
	SetValue         *ValueStep   `yaml:"set_value,omitempty"`
	ExpectValue      *ValueStep   `yaml:"expect_value,omitempty"`
}

// RangeStep addresses a range on a worksheet.
type RangeStep struct {
	Sheet   string `yaml:"sheet"`
	Address string `yaml:"address"`
}

// FireStep raises a raw host event. Source is "workbook",
// "worksheet:<name>" or "binding:<id>".
type FireStep struct {
	Source string `yaml:"source"`
	Event  string `yaml:"event"`
}

// PublishStep publishes an internal event on the application bus.
type PublishStep struct {
	Event   string `yaml:"event"`
	Payload any    `yaml:"payload"`
}

// ValueStep names a controller value. Sheet narrows the controller to one
// activated on that worksheet.
type ValueStep struct {
	Controller string `yaml:"controller"`
	Sheet      string `yaml:"sheet,omitempty"`
	Name       string `yaml:"name"`
	Value      any    `yaml:"value"`
}

// Kind returns the step's action name.
func (s Step) Kind() string {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return "invalid"
	}
	return kinds[0]
}

func (s Step) kinds() []string {
	var kinds []string
	if s.Activate != "" {
		kinds = append(kinds, "activate")
	}
	if s.ActivateWorkbook {
		kinds = append(kinds, "activate_workbook")
	}
	if s.EditRange != nil {
		kinds = append(kinds, "edit_range")
	}
	if s.EditTable != "" {
		kinds = append(kinds, "edit_table")
	}
	if s.SelectRange != nil {
		kinds = append(kinds, "select_range")
	}
	if s.Fire != nil {
		kinds = append(kinds, "fire")
	}
	if s.Publish != nil {
		kinds = append(kinds, "publish")
	}
	if s.SetValue != nil {
		kinds = append(kinds, "set_value")
	}
	if s.ExpectValue != nil {
		kinds = append(kinds, "expect_value")
	}
	return kinds
}

// Validate checks that the step names exactly one action with its
// required fields.
func (s Step) Validate() error {
	kinds := s.kinds()
	switch len(kinds) {
	case 0:
		return fmt.Errorf("no action")
	case 1:
	default:
		return fmt.Errorf("more than one action: %s", strings.Join(kinds, ", "))
	}

	switch {
	case s.EditRange != nil:
		return s.EditRange.validate()
	case s.SelectRange != nil:
		return s.SelectRange.validate()
	case s.Fire != nil:
		if _, err := ParseSource(s.Fire.Source); err != nil {
			return err
		}
		if s.Fire.Event == "" {
			return fmt.Errorf("fire: event is required")
		}
	case s.Publish != nil:
		if s.Publish.Event == "" {
			return fmt.Errorf("publish: event is required")
		}
	case s.SetValue != nil:
		return s.SetValue.validate()
	case s.ExpectValue != nil:
		return s.ExpectValue.validate()
	}
	return nil
}

func (r *RangeStep) validate() error {
	if r.Sheet == "" || r.Address == "" {
		return fmt.Errorf("range: sheet and address are required")
	}
	return nil
}

func (v *ValueStep) validate() error {
	if v.Controller == "" || v.Name == "" {
		return fmt.Errorf("value: controller and name are required")
	}
	return nil
}

// ParseSource parses "workbook", "worksheet:<name>" or "binding:<id>".
func ParseSource(s string) (host.Source, error) {
	kind, id, _ := strings.Cut(s, ":")
	switch host.SourceKind(kind) {
	case host.SourceWorkbook:
		if id != "" {
			return host.Source{}, fmt.Errorf("source %q: workbook takes no name", s)
		}
		return host.WorkbookSource(), nil
	case host.SourceWorksheet:
		if id == "" {
			return host.Source{}, fmt.Errorf("source %q: worksheet name is required", s)
		}
		return host.WorksheetSource(id), nil
	case host.SourceBinding:
		if id == "" {
			return host.Source{}, fmt.Errorf("source %q: binding id is required", s)
		}
		return host.BindingSource(id), nil
	default:
		return host.Source{}, fmt.Errorf("unknown source %q", s)
	}
}

// Load reads and validates a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: script path is user supplied
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every step.
func (s *Script) Validate() error {
	for i, step := range s.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// Snapshot returns the script's embedded document, or nil when it has none.
func (s *Script) Snapshot() (*memdoc.Snapshot, error) {
	if s.Document == nil {
		return nil, nil
	}
	snap, err := s.Document.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("script document: %w", err)
	}
	return snap, nil
}
