package memdoc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/sheetbind/internal/host"
)

// Fixture is the YAML description of a document:
//
//	active: Sheet1
//	names:
//	  - name: controller__inv1
//	    formula: =InvoiceTable
//	    comment: Invoice
//	worksheets:
//	  - name: Sheet1
//	    names:
//	      - name: controller
//	        value: Invoice
//	    tables:
//	      - name: InvoiceTable
//	        address: A1:C10
type Fixture struct {
	Active     string             `yaml:"active"`
	Names      []FixtureName      `yaml:"names"`
	Worksheets []FixtureWorksheet `yaml:"worksheets"`
}

// FixtureWorksheet describes one worksheet and the items local to it.
type FixtureWorksheet struct {
	Name   string         `yaml:"name"`
	Names  []FixtureName  `yaml:"names"`
	Tables []FixtureTable `yaml:"tables"`
}

// FixtureName describes a named item. Value is a scalar literal and is used
// when Formula is empty.
type FixtureName struct {
	Name    string `yaml:"name"`
	Formula string `yaml:"formula"`
	Value   any    `yaml:"value"`
	Comment string `yaml:"comment"`
}

// FixtureTable describes a table on its worksheet.
type FixtureTable struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: fixture path is user supplied
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture builds a snapshot from fixture YAML.
func ParseFixture(data []byte) (*Snapshot, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return fx.Snapshot()
}

// Snapshot converts the fixture, validating names and addresses.
func (fx Fixture) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{ActiveWorksheet: fx.Active}
	seen := make(map[string]bool)

	add := func(scope host.Scope, n FixtureName) error {
		if n.Name == "" {
			return fmt.Errorf("%s: name is required", scope)
		}
		key := scope.Key() + "/" + n.Name
		if seen[key] {
			return fmt.Errorf("%s: duplicate name %q", scope, n.Name)
		}
		seen[key] = true

		formula := n.Formula
		if formula == "" {
			f, err := host.FormulaFor(n.Value)
			if err != nil {
				return fmt.Errorf("%s: name %q: %w", scope, n.Name, err)
			}
			formula = f
		}
		snap.Names = append(snap.Names, host.NamedItem{
			Name:    n.Name,
			Scope:   scope,
			Formula: formula,
			Comment: n.Comment,
		})
		return nil
	}

	for _, n := range fx.Names {
		if err := add(host.Workbook(), n); err != nil {
			return nil, err
		}
	}
	for _, ws := range fx.Worksheets {
		if ws.Name == "" {
			return nil, fmt.Errorf("worksheet name is required")
		}
		if seen["sheet/"+ws.Name] {
			return nil, fmt.Errorf("duplicate worksheet %q", ws.Name)
		}
		seen["sheet/"+ws.Name] = true
		snap.Worksheets = append(snap.Worksheets, ws.Name)

		for _, n := range ws.Names {
			if err := add(host.Worksheet(ws.Name), n); err != nil {
				return nil, err
			}
		}
		for _, t := range ws.Tables {
			if _, err := parseAddress(t.Address); err != nil {
				return nil, fmt.Errorf("table %q: %w", t.Name, err)
			}
			snap.Tables = append(snap.Tables, host.Table{Name: t.Name, Worksheet: ws.Name, Address: t.Address})
		}
	}

	if snap.ActiveWorksheet == "" && len(snap.Worksheets) > 0 {
		snap.ActiveWorksheet = snap.Worksheets[0]
	}
	if snap.ActiveWorksheet != "" && !seen["sheet/"+snap.ActiveWorksheet] {
		return nil, fmt.Errorf("active worksheet %q does not exist", snap.ActiveWorksheet)
	}
	return snap, nil
}
